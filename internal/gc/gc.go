// Package gc implements deferred reclamation: a single-threaded reaper
// consuming an MPSC stack of retired routing tables,
// releasing their DictMeta back to the pool and freeing the table once
// a cool-off period has elapsed, and unlinking quarantined dictionary
// files no longer referenced by the current table. Uses the same
// Treiber-stack shape as internal/reservoir, and the same stop-flag/
// join goroutine lifecycle used for worker pools throughout this
// module.
package gc

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"mczcache/internal/dictmeta"
	"mczcache/internal/dictpool"
	"mczcache/internal/mczlog"
	"mczcache/internal/routing"
)

type retiredNode struct {
	table     *routing.RoutingTable
	retiredAt time.Time
	next      atomic.Pointer[retiredNode]
}

// Reaper is the background GC thread.
type Reaper struct {
	head atomic.Pointer[retiredNode]

	pool       *dictpool.Pool
	publisher  *routing.Publisher
	dictDir    string
	coolPeriod time.Duration
	quarantine time.Duration
	log        *mczlog.Logger
	nowFn      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	reclaimed atomic.Uint64
	unlinked  atomic.Uint64
}

// New builds a Reaper. pool releases DictMeta compiled handles;
// publisher is consulted to know which ids are still live when
// deciding what to unlink.
func New(pool *dictpool.Pool, publisher *routing.Publisher, dictDir string, coolPeriod, quarantine time.Duration, log *mczlog.Logger) *Reaper {
	return &Reaper{
		pool:       pool,
		publisher:  publisher,
		dictDir:    dictDir,
		coolPeriod: coolPeriod,
		quarantine: quarantine,
		log:        log,
		nowFn:      time.Now,
	}
}

// Enqueue pushes a retired table onto the reclamation stack. Intended
// to be wired as routing.Publisher.OnRetire.
func (r *Reaper) Enqueue(table *routing.RoutingTable, retiredAt time.Time) {
	n := &retiredNode{table: table, retiredAt: retiredAt}
	for {
		head := r.head.Load()
		n.next.Store(head)
		if r.head.CompareAndSwap(head, n) {
			return
		}
	}
}

const pollInterval = time.Second

// Start spawns the reap loop.
func (r *Reaper) Start() {
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.loop()
}

// Stop sets the stop flag and waits for a final drain, which must
// complete within one poll period.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	<-r.doneCh
}

func (r *Reaper) loop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			r.reapOnce()
			return
		case <-ticker.C:
			r.reapOnce()
		}
	}
}

// reapOnce drains the retired-table stack, reclaims anything past its
// cool-off, and unlinks quarantined dict files no longer in the
// current table.
func (r *Reaper) reapOnce() {
	now := r.nowFn()

	head := r.head.Swap(nil)
	var requeue []*retiredNode
	for n := head; n != nil; {
		next := n.next.Load()
		if now.Sub(n.retiredAt) >= r.coolPeriod {
			r.reclaim(n.table)
		} else {
			requeue = append(requeue, n)
		}
		n = next
	}
	// Anything not yet past cool-off goes back on the stack for the
	// next tick.
	for _, n := range requeue {
		for {
			head := r.head.Load()
			n.next.Store(head)
			if r.head.CompareAndSwap(head, n) {
				break
			}
		}
	}

	r.sweepQuarantinedFiles(now)
}

// reclaim releases every DictMeta's pool entry and drops the table.
func (r *Reaper) reclaim(t *routing.RoutingTable) {
	if t == nil {
		return
	}
	for _, ns := range t.Namespaces {
		for _, m := range ns.Dicts {
			r.pool.ReleaseKey(m.PoolKey)
		}
	}
	r.reclaimed.Add(1)
}

// sweepQuarantinedFiles unlinks dict+manifest pairs whose id is both
// retired past quarantine and absent from the current live table.
func (r *Reaper) sweepQuarantinedFiles(now time.Time) {
	files, err := dictmeta.ListDictFiles(r.dictDir)
	if err != nil {
		r.log.Errorf("gc.sweep", "list dict dir: %v", err)
		return
	}
	current := r.publisher.Load()
	for _, f := range files {
		m, _, err := dictmeta.Load(f)
		if err != nil {
			continue
		}
		if m.RetiredAt.IsZero() {
			continue // still active
		}
		if now.Sub(m.RetiredAt) < r.quarantine {
			continue
		}
		live := current != nil && current.LookupByID(m.ID) != nil
		if current != nil && !live {
			for _, ns := range current.Namespaces {
				for _, d := range ns.Dicts {
					if d.ID == m.ID {
						live = true
					}
				}
			}
		}
		if live {
			continue // still referenced by the live table
		}
		os.Remove(m.DictPath)
		os.Remove(m.ManifestPath)
		r.unlinked.Add(1)
	}
}

// Stats for diagnostics / tests.
func (r *Reaper) Reclaimed() uint64 { return r.reclaimed.Load() }
func (r *Reaper) Unlinked() uint64  { return r.unlinked.Load() }
