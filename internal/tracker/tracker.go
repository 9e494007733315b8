// Package tracker implements the efficiency tracker: a single shared
// EWMA of compression ratio that decides when the trainer should run.
// The EWMA and baseline are independent atomics updated via
// CAS retry loops, and the counters use atomic adds and stores — no
// locking on the hot path, matching the
// lock-free-cell idiom the pack's atomic caches (e.g. balios) use for
// per-entry state.
package tracker

import (
	"math"
	"sync/atomic"
)

// Tracker is the process-wide EfficiencyTracker singleton. The zero
// value is not usable; use New.
type Tracker struct {
	alpha       float64 // cached, immutable after construction
	retrainDrop float64

	ewmaBits       atomic.Uint64 // bit-cast float64
	baselineBits   atomic.Uint64 // bit-cast float64
	initialized    atomic.Bool
	bytesSinceTrain atomic.Int64
	lastTrainTS    atomic.Int64 // unix seconds

	enableTraining       atomic.Bool
	retrainingIntervalS  atomic.Int64
	minTrainingSize      atomic.Int64
}

// New builds a Tracker. alpha is the EWMA smoothing factor (0..1) and
// retrainDrop is the fractional ratio-drift threshold (0..1).
func New(alpha, retrainDrop float64) *Tracker {
	t := &Tracker{alpha: alpha, retrainDrop: retrainDrop}
	t.enableTraining.Store(true)
	return t
}

// Configure sets the gates used by ShouldRetrain. Called once before
// the tracker is exposed to hot-path callers.
func (t *Tracker) Configure(enableTraining bool, retrainingIntervalSeconds int64, minTrainingSize int64) {
	t.enableTraining.Store(enableTraining)
	t.retrainingIntervalS.Store(retrainingIntervalSeconds)
	t.minTrainingSize.Store(minTrainingSize)
}

func loadF64(a *atomic.Uint64) float64 { return math.Float64frombits(a.Load()) }

func casF64(a *atomic.Uint64, oldVal, newVal float64) bool {
	return a.CompareAndSwap(math.Float64bits(oldVal), math.Float64bits(newVal))
}

// OnObservation records one compression's ratio and updates the EWMA.
// original==0 is a no-op (guards divide-by-zero).
func (t *Tracker) OnObservation(originalBytes, compressedBytes int64) {
	if originalBytes <= 0 {
		return
	}
	ratio := float64(compressedBytes) / float64(originalBytes)

	for {
		if !t.initialized.Load() {
			// First observation seeds the EWMA directly.
			if t.initialized.CompareAndSwap(false, true) {
				for {
					if casF64(&t.ewmaBits, loadF64(&t.ewmaBits), ratio) {
						break
					}
				}
				break
			}
			continue
		}
		old := loadF64(&t.ewmaBits)
		next := (1-t.alpha)*old + t.alpha*ratio
		if casF64(&t.ewmaBits, old, next) {
			break
		}
		// CAS failed: another writer updated concurrently, retry with
		// the freshly observed state (bounded progress is guaranteed).
	}

	t.bytesSinceTrain.Add(originalBytes)
}

// ShouldRetrain reports whether the trainer should run now. now is
// unix seconds.
func (t *Tracker) ShouldRetrain(now int64) bool {
	if !t.enableTraining.Load() {
		return false
	}
	if !t.initialized.Load() {
		return false
	}
	interval := t.retrainingIntervalS.Load()
	if now-t.lastTrainTS.Load() < interval {
		return false
	}
	if t.bytesSinceTrain.Load() < t.minTrainingSize.Load() {
		return false
	}
	baseline := loadF64(&t.baselineBits)
	if baseline == 0 {
		// First train: only the byte/time gates apply.
		return true
	}
	ewma := loadF64(&t.ewmaBits)
	return ewma >= baseline*(1+t.retrainDrop)
}

// MarkRetrained records a completed retrain: baseline becomes
// min(baseline, ewma) (non-increasing invariant), bytesSinceTrain
// resets, lastTrainTS advances to now.
func (t *Tracker) MarkRetrained(now int64) {
	ewma := loadF64(&t.ewmaBits)
	for {
		baseline := loadF64(&t.baselineBits)
		next := baseline
		if baseline == 0 || ewma < baseline {
			next = ewma
		}
		if casF64(&t.baselineBits, baseline, next) {
			break
		}
	}
	t.lastTrainTS.Store(now)
	t.bytesSinceTrain.Store(0)
}

// EWMA returns the current EWMA ratio (0 if uninitialized).
func (t *Tracker) EWMA() float64 { return loadF64(&t.ewmaBits) }

// Baseline returns the current baseline ratio (0 before the first
// retrain).
func (t *Tracker) Baseline() float64 { return loadF64(&t.baselineBits) }

// Initialized reports whether at least one observation has been
// recorded.
func (t *Tracker) Initialized() bool { return t.initialized.Load() }

// BytesSinceTrain returns the accumulated original-byte count since
// the last retrain.
func (t *Tracker) BytesSinceTrain() int64 { return t.bytesSinceTrain.Load() }

// LastTrainTS returns the unix-second timestamp of the last retrain (0
// if never trained).
func (t *Tracker) LastTrainTS() int64 { return t.lastTrainTS.Load() }
