package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"soclite-backend/internal/alert"
	"soclite-backend/internal/audit"
	"soclite-backend/internal/baseline"
	"soclite-backend/internal/observation"
	"soclite-backend/internal/scan"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type Handler struct {
	Alerts    alert.Store
	Baselines baseline.Store
	AuditPath string
	SpoolDir  string
	Timeout   time.Duration
}

type featureView struct {
	N      int64   `json:"n"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

type baselineView struct {
	Target        string                 `json:"target"`
	SchemaVersion string                 `json:"schema_version"`
	UpdatedAt     time.Time              `json:"updated_at"`
	Features      map[string]featureView `json:"features"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealthz)
	r.Get("/alerts", h.handleAlertsList)
	r.Get("/alerts/{id}", h.handleAlertGet)
	r.Get("/targets", h.handleTargets)
	r.Get("/targets/{target}/baseline", h.handleBaselineGet)
	r.Get("/audit", h.handleAuditTail)
	r.Post("/observations", h.handleObservationCreate)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleAlertsList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	records, err := h.Alerts.List(ctx, listLimit(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list alerts"})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleAlertGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	rec, err := h.Alerts.Get(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "alert not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleTargets(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	targets, err := h.Baselines.Targets(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list targets"})
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

func (h *Handler) handleBaselineGet(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	state, err := h.Baselines.Read(ctx, target)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to read baseline"})
		return
	}
	if len(state.Features) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "baseline not found"})
		return
	}
	view := baselineView{
		Target:        target,
		SchemaVersion: state.SchemaVersion,
		UpdatedAt:     state.UpdatedAt,
		Features:      make(map[string]featureView, len(state.Features)),
	}
	for name, stats := range state.Features {
		view.Features[name] = featureView{N: stats.N, Mean: stats.Mean, StdDev: stats.StdDev()}
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleAuditTail(w http.ResponseWriter, r *http.Request) {
	entries, err := audit.Tail(h.AuditPath, listLimit(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to read audit log"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleObservationCreate is the manual ingest path: a valid
// observation is spooled for the worker's next cycle, never processed
// inline.
func (h *Handler) handleObservationCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "failed to read body"})
		return
	}
	obs, err := observation.Decode(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	if _, err := scan.WriteSpool(h.SpoolDir, obs); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to spool observation"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "observation_id": obs.DerivedID()})
}

func listLimit(r *http.Request) int {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
