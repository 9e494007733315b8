// cmd/mczd/harness_store.go
//
// harnessStore is a minimal in-memory key/value map used only to drive
// the dictionary-compression core end to end from the CLI. It is not a
// storage engine: no eviction, no persistence, no concurrency tuning
// beyond a single RWMutex. A real cache engine embeds pkg/mcz directly
// and calls its own storage layer instead of this type.

package main

import (
	"fmt"
	"sync"

	"mczcache/internal/hotpath"
	"mczcache/pkg/mcz"
)

type harnessItem struct {
	compressed bool
	dictID     uint16
	value      []byte
}

type harnessStore struct {
	mu      sync.RWMutex
	data    map[string]harnessItem
	core    *mcz.Core
	workers sync.Pool
}

func newHarnessStore(core *mcz.Core) *harnessStore {
	s := &harnessStore{data: make(map[string]harnessItem), core: core}
	s.workers.New = func() any {
		w, err := core.NewWorker()
		if err != nil {
			return nil
		}
		return w
	}
	return s
}

func (s *harnessStore) borrowWorker() *hotpath.Worker {
	w, _ := s.workers.Get().(*hotpath.Worker)
	return w
}

func (s *harnessStore) returnWorker(w *hotpath.Worker) { s.workers.Put(w) }

func (s *harnessStore) Put(key string, value []byte) error {
	w := s.borrowWorker()
	if w == nil {
		return fmt.Errorf("harness: no compression worker available")
	}
	defer s.returnWorker(w)

	outcome, err := w.MaybeCompress(value, key)
	if err != nil {
		return fmt.Errorf("harness put %q: %w", key, err)
	}
	w.Sample(key, value)

	it := harnessItem{value: append([]byte(nil), outcome.Data...)}
	if !outcome.Bypassed {
		it.compressed = true
		it.dictID = outcome.DictID
	}

	s.mu.Lock()
	s.data[key] = it
	s.mu.Unlock()
	return nil
}

func (s *harnessStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	it, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	w := s.borrowWorker()
	if w == nil {
		return nil, true, fmt.Errorf("harness: no compression worker available")
	}
	defer s.returnWorker(w)

	out, err := w.MaybeDecompress(hotpath.Item{Compressed: it.compressed, DictID: it.dictID, Value: it.value})
	if err != nil {
		return nil, true, fmt.Errorf("harness get %q: %w", key, err)
	}
	return append([]byte(nil), out.Data...), true, nil
}

func (s *harnessStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
