package hotpath

import (
	"bytes"
	"testing"
	"time"

	"mczcache/internal/config"
	"mczcache/internal/dictmeta"
	"mczcache/internal/dictpool"
	"mczcache/internal/reservoir"
	"mczcache/internal/routing"
	"mczcache/internal/sampler"
	"mczcache/internal/tracker"
)

func newTestCore(t *testing.T, cfg *config.Config) (*Core, *routing.Publisher) {
	t.Helper()
	pub := &routing.Publisher{}
	tr := tracker.New(0.2, 0.1)
	res := reservoir.New(1024)
	smp := sampler.New()
	smp.Init(t.TempDir(), 0, 0, 1<<20) // not started: Sample() must still be safe
	return NewCore(cfg, pub, tr, res, smp), pub
}

func compressibleValue() []byte {
	return bytes.Repeat([]byte("compressible payload text "), 100)
}

func TestMaybeCompressBypassesWhenDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.EnableComp = false
	core, _ := newTestCore(t, cfg)
	w, err := core.NewWorker()
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	defer w.Close()

	out, err := w.MaybeCompress(compressibleValue(), "anykey")
	if err != nil {
		t.Fatalf("MaybeCompress: %v", err)
	}
	if !out.Bypassed || out.SkipReason != "disabled" {
		t.Errorf("expected bypass/disabled, got %+v", out)
	}
}

func TestMaybeCompressSkipsBelowMinSize(t *testing.T) {
	cfg := config.Default()
	cfg.MinCompSize = 1000
	core, _ := newTestCore(t, cfg)
	w, _ := core.NewWorker()
	defer w.Close()

	out, err := w.MaybeCompress([]byte("small"), "k")
	if err != nil {
		t.Fatalf("MaybeCompress: %v", err)
	}
	if !out.Bypassed || out.SkipReason != "min" {
		t.Errorf("expected bypass/min, got %+v", out)
	}
	if core.GlobalStats().SkippedMin != 1 {
		t.Error("SkippedMin counter should increment")
	}
}

func TestMaybeCompressSkipsAboveMaxSize(t *testing.T) {
	cfg := config.Default()
	cfg.MaxCompSize = 10
	core, _ := newTestCore(t, cfg)
	w, _ := core.NewWorker()
	defer w.Close()

	out, err := w.MaybeCompress(compressibleValue(), "k")
	if err != nil {
		t.Fatalf("MaybeCompress: %v", err)
	}
	if !out.Bypassed || out.SkipReason != "max" {
		t.Errorf("expected bypass/max, got %+v", out)
	}
	if core.GlobalStats().SkippedMax != 1 {
		t.Error("SkippedMax counter should increment")
	}
}

func TestMaybeCompressSucceedsAndUpdatesCounters(t *testing.T) {
	cfg := config.Default()
	core, _ := newTestCore(t, cfg)
	w, _ := core.NewWorker()
	defer w.Close()

	value := compressibleValue()
	out, err := w.MaybeCompress(value, "mykey")
	if err != nil {
		t.Fatalf("MaybeCompress: %v", err)
	}
	if out.Bypassed {
		t.Fatalf("highly compressible input should not bypass: %+v", out)
	}
	if len(out.Data) >= len(value) {
		t.Error("compressed output should be smaller than the input")
	}
	if core.GlobalStats().Writes != 1 {
		t.Error("Writes counter should increment on a successful compression")
	}
	if core.GlobalStats().BytesRaw != int64(len(value)) {
		t.Errorf("BytesRaw = %d, want %d", core.GlobalStats().BytesRaw, len(value))
	}
}

func TestMaybeCompressSkipsIncompressibleData(t *testing.T) {
	cfg := config.Default()
	cfg.MinCompSize = 0
	core, _ := newTestCore(t, cfg)
	w, _ := core.NewWorker()
	defer w.Close()

	// Random-looking bytes with no structure don't compress smaller.
	random := make([]byte, 64)
	for i := range random {
		random[i] = byte(i*167 + 31)
	}

	out, err := w.MaybeCompress(random, "k")
	if err != nil {
		t.Fatalf("MaybeCompress: %v", err)
	}
	if !out.Bypassed {
		t.Log("note: this input happened to compress; not all byte patterns are guaranteed incompressible")
	}
}

func TestMaybeCompressUsesPickedDictionary(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DictDir = dir
	core, pub := newTestCore(t, cfg)

	pool := dictpool.New(cfg.ZstdLevel)
	dictBytes := bytes.Repeat([]byte("dictionary training corpus text "), 200)
	entry, err := pool.RetainBytes(dictBytes, cfg.ZstdLevel)
	if err != nil {
		t.Fatalf("RetainBytes: %v", err)
	}
	meta := &dictmeta.Meta{ID: 5, PoolKey: dictpool.KeyOf(dictBytes), Handles: entry, Prefixes: []string{routing.DefaultNamespace}}
	table := &routing.RoutingTable{Namespaces: []routing.NamespaceEntry{{Prefix: routing.DefaultNamespace, Dicts: []*dictmeta.Meta{meta}}}}
	pub.Publish(table, time.Now())

	w, err := core.NewWorker()
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	defer w.Close()

	out, err := w.MaybeCompress(compressibleValue(), "anykey")
	if err != nil {
		t.Fatalf("MaybeCompress: %v", err)
	}
	if out.DictID != 5 {
		t.Errorf("DictID = %d, want 5 (the published default dict)", out.DictID)
	}
}

func TestMaybeDecompressRoundTripsWithoutDict(t *testing.T) {
	cfg := config.Default()
	core, _ := newTestCore(t, cfg)
	w, err := core.NewWorker()
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	defer w.Close()

	value := compressibleValue()
	out, err := w.MaybeCompress(value, "k")
	if err != nil {
		t.Fatalf("MaybeCompress: %v", err)
	}

	item := Item{Compressed: !out.Bypassed, DictID: out.DictID, Value: append([]byte(nil), out.Data...)}
	decOut, err := w.MaybeDecompress(item)
	if err != nil {
		t.Fatalf("MaybeDecompress: %v", err)
	}
	if !bytes.Equal(decOut.Data, value) {
		t.Error("round-tripped value does not match the original")
	}
}

func TestMaybeDecompressPassesThroughUncompressedItems(t *testing.T) {
	cfg := config.Default()
	core, _ := newTestCore(t, cfg)
	w, _ := core.NewWorker()
	defer w.Close()

	item := Item{Compressed: false, Value: []byte("plain bytes")}
	out, err := w.MaybeDecompress(item)
	if err != nil {
		t.Fatalf("MaybeDecompress: %v", err)
	}
	if !bytes.Equal(out.Data, item.Value) {
		t.Error("uncompressed item should pass through unchanged")
	}
}

func TestMaybeDecompressReturnsErrorOnUnknownDictID(t *testing.T) {
	cfg := config.Default()
	core, _ := newTestCore(t, cfg)
	w, _ := core.NewWorker()
	defer w.Close()

	item := Item{Compressed: true, DictID: 999, Value: []byte("garbage")}
	_, err := w.MaybeDecompress(item)
	if err == nil {
		t.Fatal("expected an error for an unregistered dict id")
	}
	if core.GlobalStats().DictMissErrs != 1 {
		t.Error("DictMissErrs counter should increment")
	}
}

func TestSampleForwardsToReservoirWithinSizeWindow(t *testing.T) {
	cfg := config.Default()
	cfg.MinCompSize = 4
	cfg.MaxCompSize = 1000
	core, _ := newTestCore(t, cfg)
	w, _ := core.NewWorker()
	defer w.Close()

	w.Sample("key", []byte("payload"))
	if core.reservoir.BytesPending() == 0 {
		t.Error("Sample should push an eligible value into the reservoir")
	}
}

func TestSampleSkipsReservoirBelowMinSize(t *testing.T) {
	cfg := config.Default()
	cfg.MinCompSize = 1000
	core, _ := newTestCore(t, cfg)
	w, _ := core.NewWorker()
	defer w.Close()

	w.Sample("key", []byte("tiny"))
	if core.reservoir.BytesPending() != 0 {
		t.Error("Sample should not push undersized values into the reservoir")
	}
}

func TestNamespacesAndStatsTrackPerNamespaceCounters(t *testing.T) {
	cfg := config.Default()
	core, _ := newTestCore(t, cfg)
	w, _ := core.NewWorker()
	defer w.Close()

	if _, err := w.MaybeCompress(compressibleValue(), "anykey"); err != nil {
		t.Fatalf("MaybeCompress: %v", err)
	}

	ns := core.Namespaces()
	if len(ns) != 1 || ns[0] != routing.DefaultNamespace {
		t.Fatalf("Namespaces() = %v, want [%s]", ns, routing.DefaultNamespace)
	}
	if core.NamespaceStats(routing.DefaultNamespace).Writes != 1 {
		t.Error("namespace stats should record the write")
	}
	if core.NamespaceStats("nonexistent").Writes != 0 {
		t.Error("unseen namespace should return a zero-value snapshot")
	}
}
