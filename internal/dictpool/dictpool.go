// Package dictpool implements the shared dictionary pool: a
// process-wide, reference-counted store of compiled
// compression/decompression handles keyed by a content hash of the
// dictionary bytes, so identical dictionaries across routing-table
// generations share one compiled pair. Structured like a mutex-guarded
// map with refcount bookkeeping, generalized from chunk-dedup counts
// to compiled-handle lifetimes.
package dictpool

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// Key is the content-derived pool key: the blake3 hash of the
// dictionary bytes. Bytes are preferred over a file path since two
// dict files with identical content should share one compiled pair.
type Key [32]byte

// KeyOf hashes dict bytes into a pool Key.
func KeyOf(dictBytes []byte) Key {
	return Key(blake3.Sum256(dictBytes))
}

// Entry holds the compiled handles and refcount for one dictionary
// content key.
type Entry struct {
	Compressor   *zstd.Encoder
	Decompressor *zstd.Decoder
	refCount     int
	err          error // soft-failure flag: compile error cached instead of retried
}

// Pool is the process-wide dictionary pool. Zero value is not usable;
// use New.
type Pool struct {
	mu      sync.Mutex
	entries map[Key]*Entry
	level   int // default compressor level for dict-bound encoders
}

// New returns an empty Pool. level is the compression level used when
// compiling a new compressor handle if RetainBytes is given a level of
// zero or less (a positive per-call level, such as a dict's own
// SuggestedLevel, overrides it).
func New(level int) *Pool {
	return &Pool{entries: make(map[Key]*Entry), level: level}
}

// RetainBytes retains (compiling on first use) the compiled handles for
// dictBytes at the given level, incrementing the refcount. Compiled
// once per distinct content; concurrent callers for the same content
// share the same *Entry.
func (p *Pool) RetainBytes(dictBytes []byte, level int) (*Entry, error) {
	key := KeyOf(dictBytes)
	if level <= 0 {
		level = p.level
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[key]; ok {
		e.refCount++
		return e, e.err
	}

	enc, encErr := zstd.NewWriter(nil, zstd.WithEncoderDict(dictBytes), zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if encErr != nil {
		e := &Entry{refCount: 1, err: fmt.Errorf("compile encoder: %w", encErr)}
		p.entries[key] = e
		return e, e.err
	}
	dec, decErr := zstd.NewReader(nil, zstd.WithDecoderDicts(dictBytes))
	if decErr != nil {
		enc.Close()
		e := &Entry{refCount: 1, err: fmt.Errorf("compile decoder: %w", decErr)}
		p.entries[key] = e
		return e, e.err
	}

	e := &Entry{Compressor: enc, Decompressor: dec, refCount: 1}
	p.entries[key] = e
	return e, nil
}

// Release decrements the refcount for dictBytes' content key; when it
// reaches zero the compiled handles are destroyed and the entry is
// dropped.
func (p *Pool) Release(dictBytes []byte) {
	key := KeyOf(dictBytes)
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount <= 0 {
		if e.Compressor != nil {
			e.Compressor.Close()
		}
		if e.Decompressor != nil {
			e.Decompressor.Close()
		}
		delete(p.entries, key)
	}
}

// ReleaseKey releases by an already-computed Key (used when the caller
// only retained a hash, e.g. during GC where dict bytes may have
// already been unlinked from disk).
func (p *Pool) ReleaseKey(key Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount <= 0 {
		if e.Compressor != nil {
			e.Compressor.Close()
		}
		if e.Decompressor != nil {
			e.Decompressor.Close()
		}
		delete(p.entries, key)
	}
}

// RefCount returns the current refcount for dictBytes' content key (0
// if absent). Diagnostics only.
func (p *Pool) RefCount(dictBytes []byte) int {
	key := KeyOf(dictBytes)
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		return e.refCount
	}
	return 0
}

// Len reports how many distinct dictionary contents are currently
// retained. Diagnostics only.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
