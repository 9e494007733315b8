// Package hotpath implements the compression hot path: per-request
// compress/decompress using goroutine-confined contexts (the Go
// analogue of a thread-local C/C++ resource) and dictionary selection
// by key. Built on zstd.NewWriter/zstd.NewReader with
// WithEncoderDict/WithDecoderDicts, generalized from streaming io.Copy
// usage to the one-shot EncodeAll/DecodeAll calls a cache item boundary
// needs.
package hotpath

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"

	"mczcache/internal/config"
	"mczcache/internal/dictmeta"
	"mczcache/internal/mczerr"
	"mczcache/internal/reservoir"
	"mczcache/internal/routing"
	"mczcache/internal/sampler"
	"mczcache/internal/tracker"
)

// Counters are the per-namespace/global observability fields, updated
// with relaxed atomics.
type Counters struct {
	Writes                atomic.Int64
	Reads                 atomic.Int64
	BytesRaw              atomic.Int64
	BytesCmp              atomic.Int64
	SkippedMin            atomic.Int64
	SkippedMax            atomic.Int64
	SkippedIncompressible atomic.Int64
	CompressErrs          atomic.Int64
	DecompressErrs        atomic.Int64
	DictMissErrs          atomic.Int64
}

// Snapshot is a point-in-time copy of Counters for reporting (the
// control surface dumps these).
type Snapshot struct {
	Writes, Reads                               int64
	BytesRaw, BytesCmp                          int64
	SkippedMin, SkippedMax, SkippedIncompressible int64
	CompressErrs, DecompressErrs, DictMissErrs  int64
}

func (c *Counters) snapshot() Snapshot {
	return Snapshot{
		Writes:                c.Writes.Load(),
		Reads:                 c.Reads.Load(),
		BytesRaw:              c.BytesRaw.Load(),
		BytesCmp:              c.BytesCmp.Load(),
		SkippedMin:            c.SkippedMin.Load(),
		SkippedMax:            c.SkippedMax.Load(),
		SkippedIncompressible: c.SkippedIncompressible.Load(),
		CompressErrs:          c.CompressErrs.Load(),
		DecompressErrs:        c.DecompressErrs.Load(),
		DictMissErrs:          c.DictMissErrs.Load(),
	}
}

// Core holds the shared state the hot path consults: config, the
// routing-table publisher, the efficiency tracker, and the reservoir
// and sampler that Sample() feeds.
type Core struct {
	cfg       *config.Config
	publisher *routing.Publisher
	tracker   *tracker.Tracker
	reservoir *reservoir.Reservoir
	sampler   *sampler.Sampler

	global Counters
	perNS  sync.Map // namespace string -> *Counters
}

// NewCore wires the hot path to its collaborators.
func NewCore(cfg *config.Config, publisher *routing.Publisher, tr *tracker.Tracker, res *reservoir.Reservoir, smp *sampler.Sampler) *Core {
	return &Core{cfg: cfg, publisher: publisher, tracker: tr, reservoir: res, sampler: smp}
}

func (c *Core) nsCounters(ns string) *Counters {
	if v, ok := c.perNS.Load(ns); ok {
		return v.(*Counters)
	}
	v, _ := c.perNS.LoadOrStore(ns, &Counters{})
	return v.(*Counters)
}

// GlobalStats returns a snapshot of the global counters.
func (c *Core) GlobalStats() Snapshot { return c.global.snapshot() }

// NamespaceStats returns a snapshot of one namespace's counters (zero
// value if the namespace has never been observed).
func (c *Core) NamespaceStats(ns string) Snapshot {
	if v, ok := c.perNS.Load(ns); ok {
		return v.(*Counters).snapshot()
	}
	return Snapshot{}
}

// Namespaces lists every namespace the hot path has recorded counters
// for (control surface "list namespaces").
func (c *Core) Namespaces() []string {
	var out []string
	c.perNS.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	return out
}

// Item is the boundary representation of a stored value: the two
// flags and dictionary id the host cache engine attaches, plus the
// value bytes.
type Item struct {
	Compressed bool
	Chunked    bool
	DictID     uint16
	Value      []byte
}

// CompressOutcome is the result of MaybeCompress.
type CompressOutcome struct {
	Bypassed   bool
	SkipReason string // "disabled", "min", "max", "incompressible", "codec_error"
	Data       []byte // valid until the next MaybeCompress on this Worker
	DictID     uint16 // 0 if no dictionary was used
}

// DecompressOutcome is the result of MaybeDecompress.
type DecompressOutcome struct {
	Data []byte
}

// Worker holds the per-goroutine resources a thread-local would hold
// in a non-goroutine runtime: a compressor context, a decompressor
// context, and a scratch buffer that grows monotonically. Construct
// one per worker
// goroutine/connection and reuse it across requests; Workers are not
// safe for concurrent use by multiple goroutines.
type Worker struct {
	core *Core

	noDictEnc *zstd.Encoder
	noDictDec *zstd.Decoder

	scratch    []byte
	decScratch []byte
}

// NewWorker compiles the dict-less compressor/decompressor contexts
// for one goroutine-confined Worker.
func (c *Core) NewWorker() (*Worker, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.cfg.ZstdLevel)))
	if err != nil {
		return nil, fmt.Errorf("create dict-less encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create dict-less decoder: %w", err)
	}
	return &Worker{core: c, noDictEnc: enc, noDictDec: dec}, nil
}

// Close releases the worker's compiled contexts.
func (w *Worker) Close() {
	w.noDictEnc.Close()
	w.noDictDec.Close()
}

// MaybeCompress is the hot write path.
func (w *Worker) MaybeCompress(src []byte, key string) (outcome CompressOutcome, err error) {
	core := w.core
	defer func() {
		if r := recover(); r != nil {
			core.global.CompressErrs.Add(1)
			outcome = CompressOutcome{Bypassed: true, SkipReason: "codec_error", Data: src}
			err = fmt.Errorf("codec panic: %v", r)
		}
	}()

	n := int64(len(src))
	if !core.cfg.EnableComp {
		return CompressOutcome{Bypassed: true, SkipReason: "disabled", Data: src}, nil
	}
	if n < core.cfg.MinCompSize {
		core.global.SkippedMin.Add(1)
		return CompressOutcome{Bypassed: true, SkipReason: "min", Data: src}, nil
	}
	if n > core.cfg.MaxCompSize {
		core.global.SkippedMax.Add(1)
		return CompressOutcome{Bypassed: true, SkipReason: "max", Data: src}, nil
	}

	table := core.publisher.Load()
	var meta *dictmeta.Meta
	if core.cfg.EnableDict {
		meta = table.PickDict(key)
	}

	encoder := w.noDictEnc
	dictID := uint16(dictmeta.NoDict)
	nsName := routing.DefaultNamespace
	if meta != nil && meta.Handles != nil && meta.Handles.Compressor != nil {
		encoder = meta.Handles.Compressor
		dictID = meta.ID
		if len(meta.Prefixes) > 0 {
			nsName = meta.Prefixes[0]
		}
	}

	w.scratch = encoder.EncodeAll(src, w.scratch[:0])
	if int64(len(w.scratch)) >= n {
		core.global.SkippedIncompressible.Add(1)
		core.nsCounters(nsName).SkippedIncompressible.Add(1)
		return CompressOutcome{Bypassed: true, SkipReason: "incompressible", Data: src}, nil
	}

	core.global.Writes.Add(1)
	core.global.BytesRaw.Add(n)
	core.global.BytesCmp.Add(int64(len(w.scratch)))
	nsc := core.nsCounters(nsName)
	nsc.Writes.Add(1)
	nsc.BytesRaw.Add(n)
	nsc.BytesCmp.Add(int64(len(w.scratch)))

	if nsName == routing.DefaultNamespace {
		core.tracker.OnObservation(n, int64(len(w.scratch)))
	}

	return CompressOutcome{Data: w.scratch, DictID: dictID}, nil
}

// MaybeDecompress is the hot read path.
func (w *Worker) MaybeDecompress(item Item) (out DecompressOutcome, err error) {
	core := w.core
	if !item.Compressed || item.Chunked {
		return DecompressOutcome{Data: item.Value}, nil
	}

	var decoder *zstd.Decoder
	if item.DictID != dictmeta.NoDict {
		table := core.publisher.Load()
		meta := table.LookupByID(item.DictID)
		if meta == nil || meta.Handles == nil || meta.Handles.Decompressor == nil {
			core.global.DictMissErrs.Add(1)
			return DecompressOutcome{}, mczerr.Wrap(mczerr.KindUnknownDict, fmt.Sprintf("dict id %d", item.DictID), mczerr.ErrUnknownDict)
		}
		decoder = meta.Handles.Decompressor
	} else {
		decoder = w.noDictDec
	}

	decoded, derr := decoder.DecodeAll(item.Value, w.decScratch[:0])
	if derr != nil {
		core.global.DecompressErrs.Add(1)
		return DecompressOutcome{}, mczerr.Wrap(mczerr.KindCodec, "decompress", derr)
	}
	w.decScratch = decoded
	core.global.Reads.Add(1)
	return DecompressOutcome{Data: decoded}, nil
}

// Sample unconditionally forwards to the training reservoir (subject
// to its own back-pressure and the same size eligibility window as
// compression) and to the sampler spooler.
func (w *Worker) Sample(key string, value []byte) {
	core := w.core
	n := int64(len(value))
	if n >= core.cfg.MinCompSize && n <= core.cfg.MaxCompSize {
		core.reservoir.Push(value)
	}
	core.sampler.MaybeRecord([]byte(key), value)
}
