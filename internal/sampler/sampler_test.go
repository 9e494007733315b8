package sampler

import (
	"encoding/binary"
	"os"
	"testing"
	"time"
)

func TestStartStopWritesRecords(t *testing.T) {
	dir := t.TempDir()
	s := New()
	s.Init(dir, 1.0, 0, 1<<20) // p=1.0: always sample

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.MaybeRecord([]byte("k1"), []byte("v1"))
	s.MaybeRecord([]byte("k2"), []byte("v2"))
	s.Stop()

	st := s.Status()
	if st.Running {
		t.Error("Status.Running should be false after Stop")
	}
	if st.Path == "" {
		t.Fatal("expected a spool file path")
	}

	data, err := os.ReadFile(st.Path)
	if err != nil {
		t.Fatalf("read spool file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("spool file should contain the recorded samples")
	}

	// Parse the first record's header and confirm it's well-formed.
	if len(data) < 8 {
		t.Fatalf("spool file too short: %d bytes", len(data))
	}
	klen := binary.LittleEndian.Uint32(data[0:4])
	vlen := binary.LittleEndian.Uint32(data[4:8])
	if int(klen) != len("k1") && int(klen) != len("k2") {
		t.Errorf("unexpected key length in first record: %d", klen)
	}
	_ = vlen
}

func TestMaybeRecordNoopWhenNotRunning(t *testing.T) {
	s := New()
	s.Init(t.TempDir(), 1.0, 0, 1<<20)
	s.MaybeRecord([]byte("k"), []byte("v")) // not started: must be a no-op, not panic

	if got := s.Status().BytesCollected; got != 0 {
		t.Errorf("BytesCollected = %d, want 0 when not running", got)
	}
}

func TestMaybeRecordRespectsZeroProbability(t *testing.T) {
	dir := t.TempDir()
	s := New()
	s.Init(dir, 0.0, 0, 1<<20)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	for i := 0; i < 50; i++ {
		s.MaybeRecord([]byte("k"), []byte("v"))
	}
	if got := s.Status().BytesCollected; got != 0 {
		t.Errorf("BytesCollected = %d, want 0 with p=0", got)
	}
}

func TestForceFullProbabilityOverridesConfiguredP(t *testing.T) {
	dir := t.TempDir()
	s := New()
	s.Init(dir, 0.0, 0, 1<<20)
	s.ForceFullProbability()
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	s.MaybeRecord([]byte("k"), []byte("v"))
	if got := s.Status().BytesCollected; got == 0 {
		t.Error("ForceFullProbability should make sampling unconditional")
	}
}

func TestStartTwiceReturnsAlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	s := New()
	s.Init(dir, 1.0, 0, 1<<20)
	if err := s.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(); err == nil {
		t.Error("second Start should fail while already running")
	}
}

func TestMaybeRecordStopsAtByteCap(t *testing.T) {
	dir := t.TempDir()
	s := New()
	s.Init(dir, 1.0, 0, 16) // tiny cap
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	for i := 0; i < 100; i++ {
		s.MaybeRecord([]byte("k"), []byte("v"))
	}
	// consumer writes asynchronously; allow it a moment to observe the cap
	time.Sleep(50 * time.Millisecond)

	if got := s.Status().BytesCollected; got > 16*4 {
		t.Errorf("BytesCollected = %d, byte cap of 16 should bound collection tightly", got)
	}
}
