// Package controlapi exposes the control surface: a small gorilla/mux
// HTTP server for inspecting namespaces, configuration, hot-path
// stats, and the sampler spooler, and for toggling sampling at
// runtime. Routes are registered gorilla/mux style, with JSON response
// helpers adapted from entity-CRUD conventions down to read-mostly
// diagnostics.
package controlapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"mczcache/internal/config"
	"mczcache/internal/dictmeta"
	"mczcache/internal/hotpath"
	"mczcache/internal/routing"
	"mczcache/internal/sampler"
	"mczcache/pkg/mcz"
)

// Server wraps a *mcz.Core behind an HTTP handler.
type Server struct {
	core   *mcz.Core
	router *mux.Router
}

// New builds a Server with every route registered, ready to be passed
// to http.ListenAndServe or http.Serve.
func New(core *mcz.Core) *Server {
	s := &Server{core: core, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/namespaces", s.listNamespaces).Methods(http.MethodGet)
	r.HandleFunc("/namespaces/{prefix}", s.getNamespace).Methods(http.MethodGet)
	r.HandleFunc("/config", s.getConfig).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.getStats).Methods(http.MethodGet)
	r.HandleFunc("/stats/{namespace}", s.getNamespaceStats).Methods(http.MethodGet)
	r.HandleFunc("/sampler", s.getSampler).Methods(http.MethodGet)
	r.HandleFunc("/sampler/start", s.startSampler).Methods(http.MethodPost)
	r.HandleFunc("/sampler/stop", s.stopSampler).Methods(http.MethodPost)
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// wantsJSON is the plain/JSON toggle: every route renders plain text by
// default and switches to JSON on ?format=json.
func wantsJSON(r *http.Request) bool {
	return r.URL.Query().Get("format") == "json"
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondPlain(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprint(w, body)
}

func respondError(w http.ResponseWriter, r *http.Request, code int, message string) {
	if wantsJSON(r) {
		respondJSON(w, code, map[string]string{"error": message})
		return
	}
	respondPlain(w, code, "error: "+message+"\n")
}

// dictView is the wire representation of a dictmeta.Meta.
type dictView struct {
	ID        uint16 `json:"id"`
	CreatedAt string `json:"created_at"`
	RetiredAt string `json:"retired_at,omitempty"`
	Size      int64  `json:"size_bytes"`
	Level     int    `json:"level"`
}

func toDictView(m *dictmeta.Meta) dictView {
	v := dictView{ID: m.ID, CreatedAt: m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"), Size: m.DictSize, Level: m.SuggestedLevel}
	if !m.RetiredAt.IsZero() {
		v.RetiredAt = m.RetiredAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	return v
}

func (v dictView) renderLine(sb *strings.Builder) {
	fmt.Fprintf(sb, "  dict id=%d created=%s retired=%s size_bytes=%d level=%d\n",
		v.ID, v.CreatedAt, v.RetiredAt, v.Size, v.Level)
}

type namespaceView struct {
	Prefix string     `json:"prefix"`
	Dicts  []dictView `json:"dicts"`
}

func (nv namespaceView) render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "prefix=%s\n", nv.Prefix)
	for _, d := range nv.Dicts {
		d.renderLine(&sb)
	}
	return sb.String()
}

func toNamespaceView(ns routing.NamespaceEntry) namespaceView {
	nv := namespaceView{Prefix: ns.Prefix}
	for _, m := range ns.Dicts {
		nv.Dicts = append(nv.Dicts, toDictView(m))
	}
	return nv
}

func (s *Server) listNamespaces(w http.ResponseWriter, r *http.Request) {
	table := s.core.RoutingTable()
	out := make([]namespaceView, 0)
	if table != nil {
		for _, ns := range table.Namespaces {
			out = append(out, toNamespaceView(ns))
		}
	}
	if wantsJSON(r) {
		respondJSON(w, http.StatusOK, out)
		return
	}
	var sb strings.Builder
	for _, nv := range out {
		sb.WriteString(nv.render())
	}
	respondPlain(w, http.StatusOK, sb.String())
}

func (s *Server) getNamespace(w http.ResponseWriter, r *http.Request) {
	prefix := mux.Vars(r)["prefix"]
	table := s.core.RoutingTable()
	if table == nil {
		respondError(w, r, http.StatusNotFound, "no routing table published yet")
		return
	}
	for _, ns := range table.Namespaces {
		if ns.Prefix == prefix {
			nv := toNamespaceView(ns)
			if wantsJSON(r) {
				respondJSON(w, http.StatusOK, nv)
				return
			}
			respondPlain(w, http.StatusOK, nv.render())
			return
		}
	}
	respondError(w, r, http.StatusNotFound, "namespace not found")
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.core.Config()
	if wantsJSON(r) {
		respondJSON(w, http.StatusOK, cfg)
		return
	}
	respondPlain(w, http.StatusOK, renderConfig(cfg))
}

// renderConfig prints every tunable as a sorted key=value line, the
// same discipline as a manifest render.
func renderConfig(cfg *config.Config) string {
	kv := map[string]string{
		"enable_comp":          fmt.Sprintf("%t", cfg.EnableComp),
		"enable_dict":          fmt.Sprintf("%t", cfg.EnableDict),
		"dict_dir":             cfg.DictDir,
		"dict_size":            fmt.Sprintf("%d", cfg.DictSize),
		"zstd_level":           fmt.Sprintf("%d", cfg.ZstdLevel),
		"min_comp_size":        fmt.Sprintf("%d", cfg.MinCompSize),
		"max_comp_size":        fmt.Sprintf("%d", cfg.MaxCompSize),
		"enable_training":      fmt.Sprintf("%t", cfg.EnableTraining),
		"retraining_interval":  cfg.RetrainingInterval.String(),
		"min_training_size":    fmt.Sprintf("%d", cfg.MinTrainingSize),
		"ewma_alpha":           fmt.Sprintf("%g", cfg.EWMAAlpha),
		"retrain_drop":         fmt.Sprintf("%g", cfg.RetrainDrop),
		"train_mode":           cfg.TrainMode.String(),
		"dict_retain_max":      fmt.Sprintf("%d", cfg.DictRetainMax),
		"gc_cool_period":       cfg.GCCoolPeriod.String(),
		"gc_quarantine_period": cfg.GCQuarantinePeriod.String(),
		"enable_sampling":      fmt.Sprintf("%t", cfg.EnableSampling),
		"sample_p":             fmt.Sprintf("%g", cfg.SampleP),
		"sample_window":        cfg.SampleWindowDuration.String(),
		"spool_dir":            cfg.SpoolDir,
		"spool_max_bytes":      fmt.Sprintf("%d", cfg.SpoolMaxBytes),
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%s\n", k, kv[k])
	}
	return sb.String()
}

type statsView struct {
	Global      any            `json:"global"`
	Namespaces  map[string]any `json:"namespaces"`
	TrainerRuns uint64         `json:"trainer_runs"`
	TrainerErrs uint64         `json:"trainer_errs"`
	GCReclaimed uint64         `json:"gc_reclaimed"`
	GCUnlinked  uint64         `json:"gc_unlinked"`
	EWMA        float64        `json:"efficiency_ewma"`
	Baseline    float64        `json:"efficiency_baseline"`
}

func renderSnapshot(sb *strings.Builder, prefix string, snap hotpath.Snapshot) {
	fmt.Fprintf(sb, "%s.writes=%d\n", prefix, snap.Writes)
	fmt.Fprintf(sb, "%s.reads=%d\n", prefix, snap.Reads)
	fmt.Fprintf(sb, "%s.bytes_raw=%d\n", prefix, snap.BytesRaw)
	fmt.Fprintf(sb, "%s.bytes_cmp=%d\n", prefix, snap.BytesCmp)
	fmt.Fprintf(sb, "%s.skipped_min=%d\n", prefix, snap.SkippedMin)
	fmt.Fprintf(sb, "%s.skipped_max=%d\n", prefix, snap.SkippedMax)
	fmt.Fprintf(sb, "%s.skipped_incompressible=%d\n", prefix, snap.SkippedIncompressible)
	fmt.Fprintf(sb, "%s.compress_errs=%d\n", prefix, snap.CompressErrs)
	fmt.Fprintf(sb, "%s.decompress_errs=%d\n", prefix, snap.DecompressErrs)
	fmt.Fprintf(sb, "%s.dict_miss_errs=%d\n", prefix, snap.DictMissErrs)
}

func (v statsView) render() string {
	var sb strings.Builder
	if g, ok := v.Global.(hotpath.Snapshot); ok {
		renderSnapshot(&sb, "global", g)
	}
	names := make([]string, 0, len(v.Namespaces))
	for ns := range v.Namespaces {
		names = append(names, ns)
	}
	sort.Strings(names)
	for _, ns := range names {
		if snap, ok := v.Namespaces[ns].(hotpath.Snapshot); ok {
			renderSnapshot(&sb, "ns["+ns+"]", snap)
		}
	}
	fmt.Fprintf(&sb, "trainer_runs=%d\n", v.TrainerRuns)
	fmt.Fprintf(&sb, "trainer_errs=%d\n", v.TrainerErrs)
	fmt.Fprintf(&sb, "gc_reclaimed=%d\n", v.GCReclaimed)
	fmt.Fprintf(&sb, "gc_unlinked=%d\n", v.GCUnlinked)
	fmt.Fprintf(&sb, "efficiency_ewma=%g\n", v.EWMA)
	fmt.Fprintf(&sb, "efficiency_baseline=%g\n", v.Baseline)
	return sb.String()
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	hot := s.core.Hotpath()
	nsStats := make(map[string]any)
	for _, ns := range hot.Namespaces() {
		nsStats[ns] = hot.NamespaceStats(ns)
	}
	view := statsView{
		Global:      hot.GlobalStats(),
		Namespaces:  nsStats,
		TrainerRuns: s.core.Trainer().Runs(),
		TrainerErrs: s.core.Trainer().Errs(),
		GCReclaimed: s.core.GC().Reclaimed(),
		GCUnlinked:  s.core.GC().Unlinked(),
		EWMA:        s.core.Tracker().EWMA(),
		Baseline:    s.core.Tracker().Baseline(),
	}
	if wantsJSON(r) {
		respondJSON(w, http.StatusOK, view)
		return
	}
	respondPlain(w, http.StatusOK, view.render())
}

func (s *Server) getNamespaceStats(w http.ResponseWriter, r *http.Request) {
	ns := mux.Vars(r)["namespace"]
	snap := s.core.Hotpath().NamespaceStats(ns)
	if wantsJSON(r) {
		respondJSON(w, http.StatusOK, snap)
		return
	}
	var sb strings.Builder
	renderSnapshot(&sb, "ns["+ns+"]", snap)
	respondPlain(w, http.StatusOK, sb.String())
}

func renderSamplerStatus(st sampler.Status) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "configured=%t\n", st.Configured)
	fmt.Fprintf(&sb, "running=%t\n", st.Running)
	fmt.Fprintf(&sb, "bytes_written=%d\n", st.BytesWritten)
	fmt.Fprintf(&sb, "bytes_collected=%d\n", st.BytesCollected)
	fmt.Fprintf(&sb, "path=%s\n", st.Path)
	return sb.String()
}

func (s *Server) getSampler(w http.ResponseWriter, r *http.Request) {
	st := s.core.Sampler().Status()
	if wantsJSON(r) {
		respondJSON(w, http.StatusOK, st)
		return
	}
	respondPlain(w, http.StatusOK, renderSamplerStatus(st))
}

func (s *Server) startSampler(w http.ResponseWriter, r *http.Request) {
	if err := s.core.Sampler().Start(); err != nil {
		respondError(w, r, http.StatusConflict, err.Error())
		return
	}
	st := s.core.Sampler().Status()
	if wantsJSON(r) {
		respondJSON(w, http.StatusOK, st)
		return
	}
	respondPlain(w, http.StatusOK, renderSamplerStatus(st))
}

func (s *Server) stopSampler(w http.ResponseWriter, r *http.Request) {
	s.core.Sampler().Stop()
	st := s.core.Sampler().Status()
	if wantsJSON(r) {
		respondJSON(w, http.StatusOK, st)
		return
	}
	respondPlain(w, http.StatusOK, renderSamplerStatus(st))
}
