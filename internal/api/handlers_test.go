package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"soclite-backend/internal/alert"
	"soclite-backend/internal/audit"
	"soclite-backend/internal/baseline"
	"soclite-backend/internal/detect"
	"soclite-backend/internal/explain"
	"soclite-backend/internal/feature"
	"soclite-backend/internal/observation"
)

type apiEnv struct {
	router    chi.Router
	alerts    *alert.FileStore
	store     *baseline.MemoryStore
	auditPath string
	spoolDir  string
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	dir := t.TempDir()
	alerts, err := alert.NewFileStore(filepath.Join(dir, "alerts"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	env := &apiEnv{
		alerts:    alerts,
		store:     baseline.NewMemoryStore(),
		auditPath: filepath.Join(dir, "audit_log.jsonl"),
		spoolDir:  filepath.Join(dir, "scans"),
	}
	handler := &Handler{
		Alerts:    env.alerts,
		Baselines: env.store,
		AuditPath: env.auditPath,
		SpoolDir:  env.spoolDir,
		Timeout:   5 * time.Second,
	}
	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	env.router = router
	return env
}

func (e *apiEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func (e *apiEnv) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func seedAlert(t *testing.T, env *apiEnv, target string, ts time.Time, score float64) alert.Record {
	t.Helper()
	obs := observation.ScanObservation{Target: target, Timestamp: ts, Metrics: map[string]float64{"open_ports": 40}}
	vec := feature.Vector{SchemaVersion: "v1", Values: map[string]float64{"open_ports": 40}}
	result := detect.Result{Aggregate: score, Anomalous: true}
	rec := alert.NewRecord(obs, vec, result, "high", []explain.Insight{
		{Feature: "open_ports", Contribution: score, Direction: explain.DirectionIncrease},
	})
	if err := env.alerts.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return rec
}

func TestHealthz(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.get(t, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestAlertsListAndGet(t *testing.T) {
	env := newAPIEnv(t)
	base := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	older := seedAlert(t, env, "10.0.0.5", base, 5)
	newer := seedAlert(t, env, "10.0.0.6", base.Add(time.Hour), 9)

	rec := env.get(t, "/alerts")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	records := decodeBody[[]alert.Record](t, rec)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].AlertID != newer.AlertID {
		t.Fatalf("list must be newest first, got %q", records[0].AlertID)
	}

	rec = env.get(t, "/alerts?limit=1")
	if got := decodeBody[[]alert.Record](t, rec); len(got) != 1 {
		t.Fatalf("limited records = %d, want 1", len(got))
	}

	rec = env.get(t, "/alerts/"+older.AlertID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeBody[alert.Record](t, rec)
	if got.AlertID != older.AlertID || got.Target != "10.0.0.5" {
		t.Fatalf("record = %+v", got)
	}

	if rec := env.get(t, "/alerts/missing"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing alert status = %d, want 404", rec.Code)
	}
}

func TestTargetsAndBaselineView(t *testing.T) {
	env := newAPIEnv(t)
	vec := func(open float64) feature.Vector {
		return feature.Vector{SchemaVersion: "v1", Values: map[string]float64{"open_ports": open}}
	}
	if _, err := env.store.Update(context.Background(), "10.0.0.5", "obs-1", vec(3)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := env.store.Update(context.Background(), "10.0.0.5", "obs-2", vec(4)); err != nil {
		t.Fatalf("Update: %v", err)
	}

	rec := env.get(t, "/targets")
	targets := decodeBody[[]string](t, rec)
	if len(targets) != 1 || targets[0] != "10.0.0.5" {
		t.Fatalf("targets = %v", targets)
	}

	rec = env.get(t, "/targets/10.0.0.5/baseline")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	view := decodeBody[baselineView](t, rec)
	stats := view.Features["open_ports"]
	if stats.N != 2 || stats.Mean != 3.5 {
		t.Fatalf("stats = %+v", stats)
	}
	if math.Abs(stats.StdDev-math.Sqrt(0.5)) > 1e-9 {
		t.Fatalf("std_dev = %v", stats.StdDev)
	}

	if rec := env.get(t, "/targets/10.9.9.9/baseline"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown target status = %d, want 404", rec.Code)
	}
}

func TestAuditTailEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	log, err := audit.NewLog(env.auditPath, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	for i := 0; i < 3; i++ {
		score := float64(i)
		entry := audit.Entry{Target: "10.0.0.5", DecisionState: audit.StateScoredNormal, Score: &score}
		if err := log.Append(entry); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	log.Close()

	rec := env.get(t, "/audit?limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	entries := decodeBody[[]audit.Entry](t, rec)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[1].Score == nil || *entries[1].Score != 2 {
		t.Fatalf("tail must return the newest entries, got %+v", entries)
	}
}

func TestObservationCreateSpools(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.post(t, "/observations", `{"target":"10.0.0.5","timestamp":"2025-01-02T10:00:00Z","metrics":{"open_ports":3}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]any](t, rec)
	if body["observation_id"] == "" {
		t.Fatalf("missing observation_id in %v", body)
	}
	entries, err := os.ReadDir(env.spoolDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("spool records = %d, want 1", len(entries))
	}

	rec = env.post(t, "/observations", `{"timestamp":"2025-01-02T10:00:00Z","metrics":{"open_ports":3}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid observation status = %d, want 400", rec.Code)
	}
	entries, err = os.ReadDir(env.spoolDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("rejected observation must not spool, found %d records", len(entries))
	}
}
