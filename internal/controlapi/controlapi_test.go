package controlapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mczcache/internal/config"
	"mczcache/pkg/mcz"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.DictDir = t.TempDir()
	cfg.SpoolDir = t.TempDir()
	cfg.EnableSampling = false
	cfg.EnableTraining = false

	core, err := mcz.Open(cfg)
	if err != nil {
		t.Fatalf("mcz.Open: %v", err)
	}
	t.Cleanup(core.Close)
	return New(core)
}

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func doPost(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestListNamespacesReturnsEmptyArrayOnFreshCore(t *testing.T) {
	s := newTestServer(t)
	rec := doGet(t, s, "/namespaces?format=json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var out []namespaceView
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v (body=%s)", err, rec.Body.String())
	}
	if len(out) != 0 {
		t.Errorf("expected no namespaces on an empty dict dir, got %d", len(out))
	}
}

func TestGetNamespaceNotFoundOnUnknownPrefix(t *testing.T) {
	s := newTestServer(t)
	rec := doGet(t, s, "/namespaces/nonexistent")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetConfigReturnsRunningConfig(t *testing.T) {
	s := newTestServer(t)
	rec := doGet(t, s, "/config?format=json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var cfg config.Config
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}

func TestGetStatsReturnsZeroedCounters(t *testing.T) {
	s := newTestServer(t)
	rec := doGet(t, s, "/stats?format=json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var sv statsView
	if err := json.Unmarshal(rec.Body.Bytes(), &sv); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sv.TrainerRuns != 0 || sv.GCReclaimed != 0 {
		t.Error("a fresh core should report zeroed trainer/gc counters")
	}
}

func TestSamplerStartStopRoundTrip(t *testing.T) {
	s := newTestServer(t)

	rec := doPost(t, s, "/sampler/start")
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	statusRec := doGet(t, s, "/sampler")
	if statusRec.Code != http.StatusOK {
		t.Fatalf("status status = %d, want 200", statusRec.Code)
	}

	rec = doPost(t, s, "/sampler/stop")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", rec.Code)
	}
}

func TestSamplerStartTwiceReturnsConflict(t *testing.T) {
	s := newTestServer(t)
	if rec := doPost(t, s, "/sampler/start"); rec.Code != http.StatusOK {
		t.Fatalf("first start status = %d, want 200", rec.Code)
	}
	defer doPost(t, s, "/sampler/stop")

	rec := doPost(t, s, "/sampler/start")
	if rec.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", rec.Code)
	}
}

func TestGetNamespaceStatsForUnseenNamespaceIsZeroed(t *testing.T) {
	s := newTestServer(t)
	rec := doGet(t, s, "/stats/nonexistent")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestGetConfigDefaultsToPlainText(t *testing.T) {
	s := newTestServer(t)
	rec := doGet(t, s, "/config")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "zstd_level=") {
		t.Errorf("plain config body missing zstd_level= line: %q", body)
	}
	var parsed config.Config
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err == nil {
		t.Error("default response should not be valid JSON")
	}
}

func TestGetNamespaceNotFoundPlainTextBody(t *testing.T) {
	s := newTestServer(t)
	rec := doGet(t, s, "/namespaces/nonexistent")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body := rec.Body.String(); !strings.HasPrefix(body, "error: ") {
		t.Errorf("plain error body = %q, want an \"error: \" prefix", body)
	}
}

func TestGetStatsDefaultsToPlainText(t *testing.T) {
	s := newTestServer(t)
	rec := doGet(t, s, "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "trainer_runs=0") {
		t.Errorf("plain stats body missing trainer_runs=0: %q", body)
	}
}
