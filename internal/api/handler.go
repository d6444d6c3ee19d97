package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/incidentviz/internal/config"
	"github.com/gyaneshwarpardhi/incidentviz/internal/pipeline"
	"github.com/gyaneshwarpardhi/incidentviz/internal/report"
)

// DefaultMaxRuns bounds concurrent report generations.
const DefaultMaxRuns = 2

// Handler holds all HTTP handler dependencies.
type Handler struct {
	pipe   atomic.Pointer[pipeline.Pipeline]
	loader *config.Loader
	runs   chan struct{}
	logger *slog.Logger
	mux    *http.ServeMux
	http.Handler
}

// New creates an HTTP handler and registers all routes. maxRuns <= 0 uses
// DefaultMaxRuns.
func New(p *pipeline.Pipeline, loader *config.Loader, maxRuns int, logger *slog.Logger) *Handler {
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		loader: loader,
		runs:   make(chan struct{}, maxRuns),
		logger: logger,
		mux:    http.NewServeMux(),
	}
	h.pipe.Store(p)

	h.mux.HandleFunc("GET /v1/incidents", h.listIncidents)
	h.mux.HandleFunc("GET /v1/incidents/{id}", h.getIncident)
	h.mux.HandleFunc("POST /v1/incidents/{id}/report", h.generateReport)
	h.mux.HandleFunc("POST /v1/incidents/reload", h.reloadIncidents)
	h.mux.HandleFunc("GET /v1/config", h.getConfig)
	h.mux.HandleFunc("GET /reports/{id}", h.serveReport)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	h.Handler = loggingMiddleware(logger, h.mux)
	return h
}

// SwapPipeline atomically replaces the pipeline (used on config hot-reload).
func (h *Handler) SwapPipeline(p *pipeline.Pipeline) {
	h.pipe.Store(p)
}

// RunUtilization returns running reports / capacity (0-1).
func (h *Handler) RunUtilization() float64 {
	return float64(len(h.runs)) / float64(cap(h.runs))
}

type incidentSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Blockchain  string `json:"blockchain"`
	Addresses   int    `json:"addresses"`
	Description string `json:"description"`
}

// GET /v1/incidents lists loaded incidents.
func (h *Handler) listIncidents(w http.ResponseWriter, r *http.Request) {
	all, err := h.pipe.Load().Store().All()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]incidentSummary, 0, len(all))
	for _, inc := range all {
		out = append(out, incidentSummary{
			ID:          inc.ID,
			Name:        inc.Title(),
			Blockchain:  inc.Blockchain,
			Addresses:   len(inc.Addresses),
			Description: inc.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(out),
		"incidents": out,
	})
}

// GET /v1/incidents/{id} returns one incident record.
func (h *Handler) getIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.pipe.Load().GetIncident(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

// POST /v1/incidents/{id}/report runs the pipeline synchronously.
// Returns 429 when every run slot is taken.
func (h *Handler) generateReport(w http.ResponseWriter, r *http.Request) {
	select {
	case h.runs <- struct{}{}:
		defer func() { <-h.runs }()
	default:
		writeError(w, http.StatusTooManyRequests, fmt.Sprintf("report runs at capacity (%d)", cap(h.runs)))
		return
	}

	out := h.pipe.Load().RunOne(r.Context(), r.PathValue("id"))
	if out.Err != nil {
		writeJSON(w, statusFor(out.Err), out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// POST /v1/incidents/reload re-reads the incident file from disk.
func (h *Handler) reloadIncidents(w http.ResponseWriter, r *http.Request) {
	store := h.pipe.Load().Store()
	if err := store.Reload(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	all, _ := store.All()
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded":        true,
		"incidents_count": len(all),
	})
}

// GET /v1/config returns the active configuration.
func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		writeError(w, http.StatusNotFound, "no config loader")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from_file": h.loader.FromFile(),
		"config":    h.loader.Config(),
	})
}

// GET /reports/{id} serves the last rendered report.
func (h *Handler) serveReport(w http.ResponseWriter, r *http.Request) {
	path, err := h.pipe.Load().ReportPath(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "report not generated yet")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeFile(w, r, path)
}

// GET /healthz is always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz is 503 while every run slot is busy.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.RunUtilization()
	if util >= 1 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":          "busy",
			"run_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"run_utilization": util,
	})
}

func statusFor(err error) int {
	switch {
	case pipeline.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, report.ErrInvalidIncidentID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
