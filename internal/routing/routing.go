// Package routing implements the routing table: an immutable snapshot
// mapping key prefixes and dictionary ids to dictionary metadata,
// published copy-on-write through a single atomic pointer.
// ScanDictDir follows a "scan, classify, sort, truncate" shape, fanning
// manifest parsing out over an errgroup, then merging single-threaded
// for the parts that must run in order (sort, truncate, id-array build).
package routing

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"mczcache/internal/dictmeta"
	"mczcache/internal/dictpool"
)

// NamespaceEntry is a prefix plus its ordered (newest-first) dict list,
// truncated to dict_retain_max.
type NamespaceEntry struct {
	Prefix string
	Dicts  []*dictmeta.Meta // newest first; Dicts[0] is the active dict
}

// DefaultNamespace is the synthetic catch-all prefix.
const DefaultNamespace = "default"

// RoutingTable is the immutable, published snapshot.
type RoutingTable struct {
	Namespaces []NamespaceEntry
	byID       [dictmeta.MaxID + 1]*dictmeta.Meta
	BuiltAt    time.Time
	Generation uint64
}

// LookupByID is O(1).
func (t *RoutingTable) LookupByID(id uint16) *dictmeta.Meta {
	if t == nil || id > dictmeta.MaxID {
		return nil
	}
	return t.byID[id]
}

// namespaceFor finds the NamespaceEntry by exact prefix string, or nil.
func (t *RoutingTable) namespaceFor(prefix string) *NamespaceEntry {
	for i := range t.Namespaces {
		if t.Namespaces[i].Prefix == prefix {
			return &t.Namespaces[i]
		}
	}
	return nil
}

// PickDict performs longest-prefix match across namespaces and returns
// the head (active) dict of the winning namespace, falling back to
// "default" when present.
func (t *RoutingTable) PickDict(key string) *dictmeta.Meta {
	if t == nil {
		return nil
	}
	var best *NamespaceEntry
	bestLen := -1
	for i := range t.Namespaces {
		ns := &t.Namespaces[i]
		if ns.Prefix == DefaultNamespace {
			continue
		}
		if strings.HasPrefix(key, ns.Prefix) && len(ns.Prefix) > bestLen {
			best = ns
			bestLen = len(ns.Prefix)
		}
	}
	if best == nil {
		best = t.namespaceFor(DefaultNamespace)
	}
	if best == nil || len(best.Dicts) == 0 {
		return nil
	}
	return best.Dicts[0]
}

// HasDefault reports whether the table has an active "default" dict
// (used by the trainer's bootstrap check).
func (t *RoutingTable) HasDefault() bool {
	if t == nil {
		return false
	}
	ns := t.namespaceFor(DefaultNamespace)
	return ns != nil && len(ns.Dicts) > 0 && ns.Dicts[0].Active()
}

// scanResult is one parsed dict file, or an error for that one file
// (parse errors are skipped with a log, not fatal to the whole scan).
type scanResult struct {
	meta      *dictmeta.Meta
	dictBytes []byte
	err       error
}

// ScanDictDir builds a fresh RoutingTable from dir: list, load, retain
// compiled handles, group by prefix, sort newest-first, truncate to
// maxPerNS, build the id-indexed lookup array. generation is stamped
// by the caller (the Publisher owns the monotonic counter).
func ScanDictDir(dir string, pool *dictpool.Pool, maxPerNS int, level int, generation uint64, now time.Time) (*RoutingTable, error) {
	return ScanDictDirWithProgress(dir, pool, maxPerNS, level, generation, now, nil)
}

// ScanDictDirWithProgress is ScanDictDir with an optional per-file
// completion hook (done count, total count), reported from whichever
// goroutine happens to finish that file. report may be nil; it exists
// so a CLI command can drive a progress bar over a large dict directory,
// without the background trainer/GC paths paying for it.
func ScanDictDirWithProgress(dir string, pool *dictpool.Pool, maxPerNS int, level int, generation uint64, now time.Time, report func(done, total int)) (*RoutingTable, error) {
	files, err := dictmeta.ListDictFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("list dict files: %w", err)
	}

	total := len(files)
	var done atomic.Int64
	results := make([]scanResult, len(files))
	var g errgroup.Group
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			m, dictBytes, err := dictmeta.Load(f)
			if err != nil {
				results[i] = scanResult{err: err}
			} else if entry, retainErr := pool.RetainBytes(dictBytes, pickLevel(m.SuggestedLevel, level)); retainErr != nil {
				results[i] = scanResult{err: retainErr}
			} else {
				m.PoolKey = dictpool.KeyOf(dictBytes)
				m.Handles = entry
				results[i] = scanResult{meta: m, dictBytes: dictBytes}
			}
			if report != nil {
				report(int(done.Add(1)), total)
			}
			return nil
		})
	}
	_ = g.Wait() // per-file errors are recorded in results, never propagated

	byPrefix := make(map[string][]*dictmeta.Meta)
	for _, r := range results {
		if r.err != nil || r.meta == nil {
			continue
		}
		for _, p := range r.meta.Prefixes {
			byPrefix[p] = append(byPrefix[p], r.meta)
		}
	}

	namespaces := make([]NamespaceEntry, 0, len(byPrefix))
	for prefix, dicts := range byPrefix {
		sort.Slice(dicts, func(i, j int) bool { return dicts[i].CreatedAt.After(dicts[j].CreatedAt) })
		if maxPerNS > 0 && len(dicts) > maxPerNS {
			dicts = dicts[:maxPerNS]
		}
		namespaces = append(namespaces, NamespaceEntry{Prefix: prefix, Dicts: dicts})
	}
	// Deterministic ordering for diagnostics/tests.
	sort.Slice(namespaces, func(i, j int) bool { return namespaces[i].Prefix < namespaces[j].Prefix })

	t := &RoutingTable{Namespaces: namespaces, BuiltAt: now, Generation: generation}
	for _, ns := range namespaces {
		for _, m := range ns.Dicts {
			// Newest id wins on collision (defensive; shouldn't happen).
			if existing := t.byID[m.ID]; existing == nil || m.CreatedAt.After(existing.CreatedAt) {
				t.byID[m.ID] = m
			}
		}
	}
	return t, nil
}

func pickLevel(suggested, fallback int) int {
	if suggested > 0 {
		return suggested
	}
	return fallback
}

// Publisher owns the single atomic pointer synchronization point. A
// RoutingTable is installed once and never mutated; readers load with
// acquire semantics via atomic.Pointer.
type Publisher struct {
	current    atomic.Pointer[RoutingTable]
	generation atomic.Uint64
	// OnRetire, if set, is invoked with the table being replaced and
	// the retirement timestamp, so the caller (pkg/mcz wiring) can
	// enqueue it into the GC's retired-table stack without routing
	// importing internal/gc (avoids an import cycle: gc retires
	// RoutingTables, which are defined here).
	OnRetire func(old *RoutingTable, retiredAt time.Time)
}

// Load returns the current table (nil before the first Publish).
func (p *Publisher) Load() *RoutingTable { return p.current.Load() }

// NextGeneration returns one past the generation of the last published
// table, for the caller to stamp on the table it builds; Publish itself
// records the table's own Generation and stamps nothing.
func (p *Publisher) NextGeneration() uint64 { return p.generation.Load() + 1 }

// Publish installs t as the current table. Idempotent: publishing the
// same table pointer twice is a no-op beyond the generation bookkeeping
// it already carries.
func (p *Publisher) Publish(t *RoutingTable, now time.Time) {
	old := p.current.Swap(t)
	if old == t {
		return
	}
	p.generation.Store(t.Generation)
	if old != nil && p.OnRetire != nil {
		p.OnRetire(old, now)
	}
}
