// Package reservoir implements the sample reservoir: a Treiber-style
// MPSC lock-free stack of training samples guarded by an atomic head
// pointer, with a byte-budget back-pressure counter. Order is not
// semantically meaningful for training, so a LIFO stack is the right
// structure — same family of lock-free primitive the pack's atomic
// caches (balios) build on.
package reservoir

import (
	"sync/atomic"
)

// node is one sample in the stack. Owns a private copy of the pushed
// bytes.
type node struct {
	buf  []byte
	next atomic.Pointer[node]
}

// Reservoir is the MPSC sample accumulator. Zero value is not usable;
// use New.
type Reservoir struct {
	head atomic.Pointer[node]

	bytesPending atomic.Int64
	limit        atomic.Int64 // back-pressure ceiling, bytes
}

// New returns a Reservoir whose back-pressure limit defaults to
// dictSize*100.
func New(dictSize int64) *Reservoir {
	r := &Reservoir{}
	limit := dictSize * 100
	if limit <= 0 {
		limit = 100 << 20
	}
	r.limit.Store(limit)
	return r
}

// SetLimit overrides the back-pressure ceiling.
func (r *Reservoir) SetLimit(limit int64) { r.limit.Store(limit) }

// BytesPending returns the current back-pressure counter. Always >= 0.
func (r *Reservoir) BytesPending() int64 { return r.bytesPending.Load() }

// Full reports whether producers should stop pushing.
func (r *Reservoir) Full() bool { return r.bytesPending.Load() >= r.limit.Load() }

// Push copies buf into a new node and pushes it onto the stack. No-op
// (returns false) if the reservoir is already at its byte budget, so
// producers must check Full()/the return value rather than pushing
// unconditionally.
func (r *Reservoir) Push(buf []byte) bool {
	if r.Full() {
		return false
	}
	owned := make([]byte, len(buf))
	copy(owned, buf)
	n := &node{buf: owned}

	for {
		head := r.head.Load()
		n.next.Store(head)
		if r.head.CompareAndSwap(head, n) {
			break
		}
	}
	r.bytesPending.Add(int64(len(owned)))
	return true
}

// Sample is one drained reservoir entry, exposed to callers without
// leaking the internal node type.
type Sample struct {
	Data []byte
}

// DrainAll atomically swaps the head with an empty stack and returns
// everything that was queued, in LIFO order (order carries no meaning
// for training).
func (r *Reservoir) DrainAll() []Sample {
	head := r.head.Swap(nil)
	var out []Sample
	for n := head; n != nil; n = n.next.Load() {
		out = append(out, Sample{Data: n.buf})
	}
	return out
}

// Release returns bytes to the pending counter after a consumer
// decides not to use them (e.g. a failed training batch), saturating
// at zero so concurrent pushes are never clobbered into negative
// territory.
func (r *Reservoir) Release(bytes int64) {
	for {
		cur := r.bytesPending.Load()
		next := cur - bytes
		if next < 0 {
			next = 0
		}
		if r.bytesPending.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Consume decrements the pending counter by exactly the amount that
// was actually trained on, saturating at zero.
func (r *Reservoir) Consume(bytes int64) {
	r.Release(bytes)
}
