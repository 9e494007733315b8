package dictmeta

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestPersistAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	m, err := Persist(dir, 7, []byte("dictionary-bytes"), 12, []string{"user:", "session:"}, now)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}

	loaded, dictBytes, err := Load(m.DictPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(dictBytes) != "dictionary-bytes" {
		t.Errorf("dict bytes = %q", dictBytes)
	}
	if !loaded.Active() {
		t.Error("freshly persisted dict should be active")
	}
	if diff := cmp.Diff(m, loaded); diff != "" {
		t.Errorf("loaded meta differs from persisted meta (-persisted +loaded):\n%s", diff)
	}
}

func TestRetireSetsRetiredAt(t *testing.T) {
	dir := t.TempDir()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	retiredAt := created.Add(time.Hour)

	m, err := Persist(dir, 1, []byte("x"), 3, nil, created)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := Retire(m, retiredAt); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if m.Active() {
		t.Error("meta should report inactive after Retire")
	}

	loaded, _, err := Load(m.DictPath)
	if err != nil {
		t.Fatalf("Load after retire: %v", err)
	}
	if loaded.Active() {
		t.Error("reloaded meta should still be retired")
	}
	if !loaded.RetiredAt.Equal(retiredAt) {
		t.Errorf("RetiredAt = %v, want %v", loaded.RetiredAt, retiredAt)
	}
}

func TestPersistDefaultsEmptyPrefixes(t *testing.T) {
	dir := t.TempDir()
	m, err := Persist(dir, 2, []byte("y"), 3, nil, time.Now())
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if len(m.Prefixes) != 1 || m.Prefixes[0] != "default" {
		t.Errorf("expected default prefix fallback, got %v", m.Prefixes)
	}
}

func TestListDictFilesFiltersNonNumericAndManifests(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	if _, err := Persist(dir, 1, []byte("a"), 1, nil, now); err != nil {
		t.Fatalf("Persist 1: %v", err)
	}
	if _, err := Persist(dir, 2, []byte("b"), 1, nil, now); err != nil {
		t.Fatalf("Persist 2: %v", err)
	}

	files, err := ListDictFiles(dir)
	if err != nil {
		t.Fatalf("ListDictFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 dict files, got %d: %v", len(files), files)
	}
	for _, f := range files {
		if filepath.Ext(f) == ".manifest" {
			t.Errorf("manifest file leaked into listing: %s", f)
		}
	}
}

func TestAllocateIDSkipsUsedAndQuarantined(t *testing.T) {
	now := time.Unix(10000, 0)
	used := map[uint16]bool{1: true, 2: true}
	retired := map[uint16]time.Time{3: now.Add(-time.Second)} // just retired, still quarantined

	id, err := AllocateID(used, retired, time.Minute, now)
	if err != nil {
		t.Fatalf("AllocateID: %v", err)
	}
	if id != 4 {
		t.Errorf("AllocateID = %d, want 4 (1,2 used; 3 quarantined)", id)
	}
}

func TestAllocateIDReusesExpiredQuarantine(t *testing.T) {
	now := time.Unix(10000, 0)
	used := map[uint16]bool{}
	retired := map[uint16]time.Time{1: now.Add(-2 * time.Minute)}

	id, err := AllocateID(used, retired, time.Minute, now)
	if err != nil {
		t.Fatalf("AllocateID: %v", err)
	}
	if id != 1 {
		t.Errorf("AllocateID = %d, want 1 (quarantine expired)", id)
	}
}
