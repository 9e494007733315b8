// Package trainer implements the online trainer: a single background
// thread that, when the efficiency tracker signals
// drift, flushes the sample reservoir into a fresh Zstandard
// dictionary, persists it, rescans the dictionary directory, and
// publishes a new routing table. Dictionary construction uses
// klauspost/compress/dict.BuildZstdDict fed a flattened [][]byte of
// samples, wrapped in a recover() because the library can panic on
// pathological sample sets.
package trainer

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/klauspost/compress/dict"
	"github.com/klauspost/compress/zstd"

	"mczcache/internal/config"
	"mczcache/internal/dictmeta"
	"mczcache/internal/dictpool"
	"mczcache/internal/mczlog"
	"mczcache/internal/reservoir"
	"mczcache/internal/routing"
	"mczcache/internal/sampler"
	"mczcache/internal/tracker"
)

// minDictBytes is the minimum accepted dictionary size; anything
// smaller is rejected as a degenerate build.
const minDictBytes = 1024

type state int

const (
	stateIdle state = iota
	stateActive
)

// Trainer is the background state machine: Idle, waiting for a drift
// signal or a missing default dictionary; Active, accumulating samples
// and attempting a build.
type Trainer struct {
	cfg       *config.Config
	tracker   *tracker.Tracker
	reservoir *reservoir.Reservoir
	sampler   *sampler.Sampler
	pool      *dictpool.Pool
	publisher *routing.Publisher
	log       *mczlog.Logger
	nowFn     func() time.Time
	buildFn   func([][]byte) ([]byte, error)

	runs atomic.Uint64
	errs atomic.Uint64

	bootstrapActive bool
	watcher         *fsnotify.Watcher

	stopCh   chan struct{}
	doneCh   chan struct{}
	rescanCh chan struct{}
}

// New builds a Trainer wired to its collaborators.
func New(cfg *config.Config, tr *tracker.Tracker, res *reservoir.Reservoir, smp *sampler.Sampler, pool *dictpool.Pool, publisher *routing.Publisher, log *mczlog.Logger) *Trainer {
	t := &Trainer{
		cfg:       cfg,
		tracker:   tr,
		reservoir: res,
		sampler:   smp,
		pool:      pool,
		publisher: publisher,
		log:       log,
		nowFn:     time.Now,
		rescanCh:  make(chan struct{}, 1),
	}
	t.buildFn = t.build
	return t
}

const pollInterval = time.Second

// Start spawns the trainer loop and, best-effort, an fsnotify watch on
// dict_dir so an operator-dropped dictionary file triggers an
// out-of-band rescan+publish in addition to the periodic poll.
func (t *Trainer) Start() {
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})

	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(t.cfg.DictDir); err == nil {
			t.watcher = w
			go t.watchLoop()
		} else {
			w.Close()
		}
	}

	go t.loop()
}

// Stop signals both loops to exit and waits for the main loop to join.
func (t *Trainer) Stop() {
	close(t.stopCh)
	<-t.doneCh
	if t.watcher != nil {
		t.watcher.Close()
	}
}

func (t *Trainer) watchLoop() {
	for {
		select {
		case <-t.stopCh:
			return
		case _, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			select {
			case t.rescanCh <- struct{}{}:
			default:
			}
		case _, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (t *Trainer) loop() {
	defer close(t.doneCh)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	state := stateIdle
	for {
		select {
		case <-t.stopCh:
			return
		case <-t.rescanCh:
			t.republishFromDisk()
		case <-ticker.C:
			state = t.step(state)
		}
	}
}

// step runs one iteration of the state machine and returns the next
// state.
func (t *Trainer) step(state state) state {
	now := t.nowFn()
	switch state {
	case stateIdle:
		if !t.cfg.EnableTraining {
			return stateIdle
		}
		table := t.publisher.Load()
		if !table.HasDefault() {
			t.bootstrapActive = true
			t.sampler.ForceFullProbability()
			return stateActive
		}
		if t.tracker.ShouldRetrain(now.Unix()) {
			return stateActive
		}
		return stateIdle

	case stateActive:
		if t.reservoir.BytesPending() < t.cfg.MinTrainingSize {
			return stateActive // wait
		}
		return t.attempt(now)
	}
	return stateIdle
}

// attempt runs Build -> Persist|Fail and returns the resulting state:
// Idle on success (DEACTIVATE), Active to retry on failure.
func (t *Trainer) attempt(now time.Time) state {
	t.runs.Add(1)

	samples := t.reservoir.DrainAll()
	if len(samples) == 0 {
		t.log.Errorf("trainer.build", "reservoir drained empty despite threshold")
		return stateActive
	}

	var totalBytes int64
	flat := make([][]byte, 0, len(samples))
	for _, s := range samples {
		flat = append(flat, s.Data)
		totalBytes += int64(len(s.Data))
	}

	dictBytes, err := t.buildFn(flat)
	if err != nil || int64(len(dictBytes)) < minDictBytes {
		t.errs.Add(1)
		t.reservoir.Release(totalBytes)
		if err != nil {
			t.log.Errorf("trainer.build", "dictionary build failed: %v", err)
		} else {
			t.log.Errorf("trainer.build", "dictionary too small (%d bytes)", len(dictBytes))
		}
		return stateActive
	}

	if err := t.persist(dictBytes, now); err != nil {
		t.errs.Add(1)
		t.reservoir.Release(totalBytes)
		t.log.Errorf("trainer.persist", "%v", err)
		return stateActive
	}

	t.tracker.MarkRetrained(now.Unix())
	if t.bootstrapActive {
		t.sampler.RestoreProbability(t.cfg.SampleP)
		t.bootstrapActive = false
	}
	return stateIdle
}

// build flattens samples into a dictionary via the codec's trainer,
// guarding the known panic edge cases (empty/too-few samples) the
// underlying library doesn't handle gracefully on its own.
func (t *Trainer) build(samples [][]byte) (dictBytes []byte, err error) {
	speed := zstd.SpeedFastest
	if t.cfg.TrainMode == config.TrainOptimize {
		speed = zstd.SpeedBestCompression
	}
	opts := dict.Options{
		MaxDictSize: int(t.cfg.DictSize),
		HashBytes:   6,
		ZstdLevel:   speed,
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dictionary builder panic: %v", r)
		}
	}()
	dictBytes, err = dict.BuildZstdDict(samples, opts)
	return dictBytes, err
}

// persist writes the dictionary + manifest, rescans the directory, and
// publishes the new routing table.
func (t *Trainer) persist(dictBytes []byte, now time.Time) error {
	usedIDs, retired, err := t.idState(now)
	if err != nil {
		return fmt.Errorf("gather id state: %w", err)
	}
	id, err := dictmeta.AllocateID(usedIDs, retired, t.cfg.GCQuarantinePeriod, now)
	if err != nil {
		return fmt.Errorf("allocate id: %w", err)
	}

	if _, err := dictmeta.Persist(t.cfg.DictDir, id, dictBytes, t.cfg.ZstdLevel, []string{routing.DefaultNamespace}, now); err != nil {
		return fmt.Errorf("persist dictionary: %w", err)
	}

	newTable, err := routing.ScanDictDir(t.cfg.DictDir, t.pool, t.cfg.DictRetainMax, t.cfg.ZstdLevel, t.publisher.NextGeneration(), now)
	if err != nil {
		return fmt.Errorf("rescan dict dir: %w", err)
	}
	t.publisher.Publish(newTable, now)
	return nil
}

// republishFromDisk rescans and republishes without going through the
// training state machine — used for the fsnotify-triggered out-of-band
// rescan.
func (t *Trainer) republishFromDisk() {
	now := t.nowFn()
	newTable, err := routing.ScanDictDir(t.cfg.DictDir, t.pool, t.cfg.DictRetainMax, t.cfg.ZstdLevel, t.publisher.NextGeneration(), now)
	if err != nil {
		t.log.Errorf("trainer.watch", "rescan after fs event: %v", err)
		return
	}
	t.publisher.Publish(newTable, now)
}

// idState derives the used-id and retirement-age maps AllocateID needs
// by reading every manifest currently on disk.
func (t *Trainer) idState(now time.Time) (map[uint16]bool, map[uint16]time.Time, error) {
	files, err := dictmeta.ListDictFiles(t.cfg.DictDir)
	if err != nil {
		return nil, nil, err
	}
	used := make(map[uint16]bool)
	retired := make(map[uint16]time.Time)
	for _, f := range files {
		m, _, err := dictmeta.Load(f)
		if err != nil {
			continue
		}
		if m.Active() {
			used[m.ID] = true
		} else {
			retired[m.ID] = m.RetiredAt
		}
	}
	return used, retired, nil
}

// Runs and Errs expose the trainer_runs/trainer_errs counters.
func (t *Trainer) Runs() uint64 { return t.runs.Load() }
func (t *Trainer) Errs() uint64 { return t.errs.Load() }
