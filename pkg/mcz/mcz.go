// Package mcz is the facade package wiring every internal component
// into one running core: config in, a live dictionary lifecycle out.
// It is the single top-level glue layer every caller (cmd/mczd,
// internal/controlapi) sits on top of instead of touching the
// internal packages directly.
package mcz

import (
	"fmt"
	"os"
	"time"

	"mczcache/internal/config"
	"mczcache/internal/dictpool"
	"mczcache/internal/gc"
	"mczcache/internal/hotpath"
	"mczcache/internal/mczlog"
	"mczcache/internal/reservoir"
	"mczcache/internal/routing"
	"mczcache/internal/sampler"
	"mczcache/internal/tracker"
	"mczcache/internal/trainer"
)

// logRateLimit bounds how often any one background call site may log
// an error, independent of the host cache's own logging configuration.
const logRateLimit = 30 * time.Second

// Core is the running dictionary-compression core: the routing table,
// online trainer, efficiency tracker, GC reaper, and sampler spooler,
// plus the hot path workers consult to compress and decompress values.
type Core struct {
	cfg *config.Config

	pool      *dictpool.Pool
	publisher *routing.Publisher
	tracker   *tracker.Tracker
	reservoir *reservoir.Reservoir
	sampler   *sampler.Sampler
	trainer   *trainer.Trainer
	reaper    *gc.Reaper
	hot       *hotpath.Core
	log       *mczlog.Logger
}

// Open validates cfg (degrading to pass-through mode in place on
// failure rather than refusing to start), wires every component, scans
// the dictionary directory for whatever is already on disk, and starts
// the background threads (trainer, GC reaper, sampler consumer).
func Open(cfg *config.Config) (*Core, error) {
	log := mczlog.New(logRateLimit)

	if err := cfg.Validate(); err != nil {
		log.Infof("config invalid, starting in pass-through mode: %v", err)
	}

	if err := os.MkdirAll(cfg.DictDir, 0o755); err != nil {
		return nil, fmt.Errorf("create dict dir: %w", err)
	}

	pool := dictpool.New(cfg.ZstdLevel)
	publisher := &routing.Publisher{}
	tr := tracker.New(cfg.EWMAAlpha, cfg.RetrainDrop)
	tr.Configure(cfg.EnableTraining, int64(cfg.RetrainingInterval.Seconds()), cfg.MinTrainingSize)
	res := reservoir.New(cfg.DictSize)
	smp := sampler.New()
	smp.Init(cfg.SpoolDir, cfg.SampleP, int64(cfg.SampleWindowDuration.Seconds()), cfg.SpoolMaxBytes)

	reaper := gc.New(pool, publisher, cfg.DictDir, cfg.GCCoolPeriod, cfg.GCQuarantinePeriod, log)
	publisher.OnRetire = reaper.Enqueue

	trn := trainer.New(cfg, tr, res, smp, pool, publisher, log)
	hot := hotpath.NewCore(cfg, publisher, tr, res, smp)

	now := time.Now()
	table, err := routing.ScanDictDir(cfg.DictDir, pool, cfg.DictRetainMax, cfg.ZstdLevel, publisher.NextGeneration(), now)
	if err != nil {
		return nil, fmt.Errorf("initial dict scan: %w", err)
	}
	publisher.Publish(table, now)

	c := &Core{
		cfg:       cfg,
		pool:      pool,
		publisher: publisher,
		tracker:   tr,
		reservoir: res,
		sampler:   smp,
		trainer:   trn,
		reaper:    reaper,
		hot:       hot,
		log:       log,
	}

	if cfg.EnableSampling {
		if err := smp.Start(); err != nil {
			log.Errorf("mcz.open", "sampler start: %v", err)
		}
	}
	reaper.Start()
	trn.Start()

	return c, nil
}

// Close stops the background threads in reverse start order. Workers
// obtained via NewWorker are the caller's responsibility to Close.
func (c *Core) Close() {
	c.trainer.Stop()
	c.reaper.Stop()
	c.sampler.Stop()
}

// NewWorker returns a fresh hotpath.Worker bound to this core. Callers
// own its lifecycle: one per connection/goroutine, Close it when done.
func (c *Core) NewWorker() (*hotpath.Worker, error) { return c.hot.NewWorker() }

// Config returns the (possibly Validate-degraded) running configuration.
func (c *Core) Config() *config.Config { return c.cfg }

// RoutingTable returns the currently published routing table.
func (c *Core) RoutingTable() *routing.RoutingTable { return c.publisher.Load() }

// Tracker exposes the efficiency tracker for diagnostics.
func (c *Core) Tracker() *tracker.Tracker { return c.tracker }

// Sampler exposes the sampler spooler for control-surface status/toggle.
func (c *Core) Sampler() *sampler.Sampler { return c.sampler }

// Trainer exposes the online trainer for diagnostics.
func (c *Core) Trainer() *trainer.Trainer { return c.trainer }

// GC exposes the reclamation reaper for diagnostics.
func (c *Core) GC() *gc.Reaper { return c.reaper }

// Hotpath exposes the hot-path counters for diagnostics.
func (c *Core) Hotpath() *hotpath.Core { return c.hot }
