// Package sampler implements the sampler spooler: a Bernoulli-sampled
// key/value recorder that persists raw samples to a size/time-capped
// file for offline corpus analysis. The consumer side reuses a
// Treiber-stack MPSC queue (same shape as internal/reservoir) and a
// binary little-endian framing discipline adapted to a key/value
// record layout.
package sampler

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"mczcache/internal/mczerr"
)

type record struct {
	key, val []byte
	next     atomic.Pointer[record]
}

// Status is a snapshot of the sampler's state.
type Status struct {
	Configured     bool
	Running        bool
	BytesWritten   int64
	BytesCollected int64
	Path           string
}

// Sampler is the process-wide sampler-spooler singleton. Zero value is
// not usable; use New.
type Sampler struct {
	dir      string
	p        atomic.Uint64 // bit-cast float64 probability, mutated by bootstrap override
	windowS  int64
	maxBytes int64

	running        atomic.Bool
	head           atomic.Pointer[record]
	bytesWritten   atomic.Int64
	bytesCollected atomic.Int64
	path           atomic.Pointer[string]

	stopCh chan struct{}
	doneCh chan struct{}

	// nowFn is overridable for deterministic tests.
	nowFn func() time.Time
}

// New builds a Sampler. Call Init before Start.
func New() *Sampler {
	empty := ""
	s := &Sampler{nowFn: time.Now}
	s.path.Store(&empty)
	return s
}

// Init records the spooler configuration.
func (s *Sampler) Init(dir string, p float64, windowSeconds int64, maxBytes int64) {
	s.dir = dir
	s.p.Store(math.Float64bits(p))
	s.windowS = windowSeconds
	s.maxBytes = maxBytes
}

// ForceFullProbability is used by the trainer during bootstrap: when
// there is no "default" dictionary yet, sampling probability is forced
// to 1.0 so the reservoir fills quickly.
func (s *Sampler) ForceFullProbability() { s.p.Store(math.Float64bits(1.0)) }

// RestoreProbability reverts a ForceFullProbability override.
func (s *Sampler) RestoreProbability(p float64) { s.p.Store(math.Float64bits(p)) }

// Start spins up the consumer goroutine and creates the spool file.
// Returns mczerr.ErrAlreadyRunning if already running.
func (s *Sampler) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return mczerr.ErrAlreadyRunning
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.running.Store(false)
		return fmt.Errorf("create spool dir: %w", err)
	}
	name := fmt.Sprintf("mcz_samples_%s.bin", s.nowFn().UTC().Format("20060102_150405"))
	full := filepath.Join(s.dir, name)
	f, err := os.OpenFile(full, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("create spool file: %w", err)
	}
	s.path.Store(&full)
	s.bytesWritten.Store(0)
	s.bytesCollected.Store(0)
	s.head.Store(nil)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.consumeLoop(f)
	return nil
}

// Stop clears the running flag and joins the consumer goroutine.
func (s *Sampler) Stop() {
	if !s.running.Load() {
		return
	}
	close(s.stopCh)
	<-s.doneCh
}

// MaybeRecord is the hot-path entry point: skipped if not running,
// accepted with probability p, skipped once the byte cap is reached,
// otherwise deep-copies key+value and enqueues them.
func (s *Sampler) MaybeRecord(key, val []byte) {
	if !s.running.Load() {
		return
	}
	p := math.Float64frombits(s.p.Load())
	if p < 1.0 && randFloat64() >= p {
		return
	}
	if s.bytesCollected.Load() >= s.maxBytes {
		return
	}
	k := append([]byte(nil), key...)
	v := append([]byte(nil), val...)
	r := &record{key: k, val: v}
	for {
		head := s.head.Load()
		r.next.Store(head)
		if s.head.CompareAndSwap(head, r) {
			break
		}
	}
	s.bytesCollected.Add(int64(8 + len(k) + len(v)))
}

// Status returns the current SamplerState snapshot.
func (s *Sampler) Status() Status {
	return Status{
		Configured:     s.dir != "",
		Running:        s.running.Load(),
		BytesWritten:   s.bytesWritten.Load(),
		BytesCollected: s.bytesCollected.Load(),
		Path:           *s.path.Load(),
	}
}

func randFloat64() float64 {
	return rand.Float64()
}

const pollInterval = 10 * time.Millisecond
const writeBufSize = 1 << 20 // ~1 MiB user-space buffer

func (s *Sampler) consumeLoop(f *os.File) {
	defer close(s.doneCh)
	w := bufio.NewWriterSize(f, writeBufSize)
	start := s.nowFn()

	flushAndClose := func() {
		w.Flush()
		f.Sync()
		f.Close()
	}

	// drainOnce writes everything currently queued, in arrival order,
	// and reports whether the cap (bytes or window) was hit mid-drain.
	drainOnce := func() (capHit bool) {
		head := s.head.Swap(nil)
		if head == nil {
			return false
		}
		// Reverse the LIFO list to restore arrival order.
		var ordered []*record
		for n := head; n != nil; n = n.next.Load() {
			ordered = append(ordered, n)
		}
		for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		}
		for _, rec := range ordered {
			if err := s.writeRecord(w, rec); err != nil {
				return true
			}
			n := int64(8 + len(rec.key) + len(rec.val))
			written := s.bytesWritten.Add(n)
			if written >= s.maxBytes {
				return true
			}
			if s.windowS > 0 && s.nowFn().Sub(start) >= time.Duration(s.windowS)*time.Second {
				return true
			}
		}
		return false
	}

	stopAndExit := func() {
		drainOnce()
		s.running.Store(false)
		flushAndClose()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			stopAndExit()
			return
		case <-ticker.C:
			if drainOnce() {
				stopAndExit()
				return
			}
			if s.windowS > 0 && s.nowFn().Sub(start) >= time.Duration(s.windowS)*time.Second {
				stopAndExit()
				return
			}
		}
	}
}

func (s *Sampler) writeRecord(w *bufio.Writer, rec *record) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(rec.key)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(rec.val)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(rec.key); err != nil {
		return err
	}
	if _, err := w.Write(rec.val); err != nil {
		return err
	}
	return nil
}
