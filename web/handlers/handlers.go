// Package handlers provides the HTTP API for the local dashboard.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mosaictheory-jt/panel-chat/internal/api"
	"github.com/mosaictheory-jt/panel-chat/internal/catalog"
	"github.com/mosaictheory-jt/panel-chat/internal/config"
	"github.com/mosaictheory-jt/panel-chat/internal/core"
	"github.com/mosaictheory-jt/panel-chat/internal/export"
	"github.com/mosaictheory-jt/panel-chat/internal/session"
	"github.com/mosaictheory-jt/panel-chat/internal/storage"
)

// Directory answers respondent population queries.
type Directory interface {
	FilterOptions(ctx context.Context) (map[string][]string, error)
	CountRespondents(ctx context.Context, f core.Filters) (int, error)
}

// Options configures a Handler. Directory, Store and Gatherer are optional.
type Options struct {
	Directory Directory
	Store     storage.Storage
	Gatherer  prometheus.Gatherer
	Defaults  config.DefaultsConfig
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	ctrl      *session.Controller
	directory Directory
	storage   storage.Storage
	gatherer  prometheus.Gatherer
	defaults  config.DefaultsConfig

	// heartbeat is how often an idle event stream is pinged.
	heartbeat time.Duration
}

// New creates a new Handler.
func New(ctrl *session.Controller, opts Options) *Handler {
	return &Handler{
		ctrl:      ctrl,
		directory: opts.Directory,
		storage:   opts.Store,
		gatherer:  opts.Gatherer,
		defaults:  opts.Defaults,
		heartbeat: 15 * time.Second,
	}
}

// Router returns the dashboard routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.handleState)
		r.Get("/state/stream", h.handleStateStream)
		r.Get("/models", h.handleModels)
		r.Get("/cost/estimate", h.handleCostEstimate)
		r.Get("/respondents/filters", h.handleFilterOptions)
		r.Get("/respondents/count", h.handleCountRespondents)

		r.Get("/sessions", h.handleListSessions)
		r.Post("/sessions", h.handleSubmit)
		r.Get("/sessions/{id}", h.handleGetSession)
		r.Post("/sessions/{id}/load", h.handleLoad)
		r.Post("/sessions/{id}/visibility", h.handleToggleVisibility)
		r.Delete("/sessions/{id}/visibility", h.handleRemoveFromResults)
		r.Get("/sessions/{id}/export/{format}", h.handleExport)

		r.Put("/active/breakdown", h.handleEditBreakdown)
		r.Post("/active/run", h.handleRun)
		r.Post("/active/cancel", h.handleCancel)

		r.Get("/archive", h.handleListArchive)
		r.Delete("/archive/{id}", h.handleDeleteArchived)
	})

	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// State

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	h.json(w, h.ctrl.Snapshot())
}

// ModelInfo is a catalog entry with whether a key is configured for it.
type ModelInfo struct {
	catalog.Model
	Available bool `json:"available"`
}

func (h *Handler) handleModels(w http.ResponseWriter, r *http.Request) {
	keys := h.ctrl.Settings().APIKeys
	all := catalog.All()
	models := make([]ModelInfo, 0, len(all))
	for _, m := range all {
		models = append(models, ModelInfo{Model: m, Available: catalog.KeyFor(keys, m.ID) != ""})
	}
	h.json(w, map[string]interface{}{
		"models":   models,
		"defaults": h.defaults.Models,
		"ready":    catalog.HasRequiredSettings(keys, h.defaults.Models),
	})
}

func (h *Handler) handleCostEstimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	models := splitList(q.Get("models"))
	if len(models) == 0 {
		models = h.defaults.Models
	}
	panelSize := h.defaults.PanelSize
	if v := q.Get("panel_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.jsonError(w, "panel_size must be a positive integer", http.StatusBadRequest)
			return
		}
		panelSize = n
	}
	subQuestions := 1
	if v := q.Get("sub_questions"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.jsonError(w, "sub_questions must be a non-negative integer", http.StatusBadRequest)
			return
		}
		subQuestions = n
	}

	cost := session.EstimateSurveyCost(models, panelSize, subQuestions)
	h.json(w, map[string]interface{}{
		"cost":      cost,
		"formatted": session.FormatCost(cost.TotalCost),
	})
}

func (h *Handler) handleFilterOptions(w http.ResponseWriter, r *http.Request) {
	if h.directory == nil {
		h.jsonError(w, "respondent directory unavailable", http.StatusServiceUnavailable)
		return
	}
	opts, err := h.directory.FilterOptions(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.json(w, opts)
}

func (h *Handler) handleCountRespondents(w http.ResponseWriter, r *http.Request) {
	if h.directory == nil {
		h.jsonError(w, "respondent directory unavailable", http.StatusServiceUnavailable)
		return
	}
	var f core.Filters
	for key, values := range r.URL.Query() {
		var all []string
		for _, v := range values {
			all = append(all, splitList(v)...)
		}
		if err := f.Set(key, all); err != nil {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	n, err := h.directory.CountRespondents(r.Context(), f)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.json(w, map[string]int{"count": n})
}

// Sessions

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.RefreshHistory(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	h.json(w, h.ctrl.Snapshot().History)
}

type submitRequest struct {
	Question      string       `json:"question"`
	Mode          core.Mode    `json:"chat_mode"`
	PanelSize     int          `json:"panel_size"`
	Rounds        int          `json:"rounds"`
	Filters       core.Filters `json:"filters"`
	Models        []string     `json:"models"`
	AnalyzerModel string       `json:"analyzer_model"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg := core.NewSessionConfig{
		Question:      req.Question,
		Mode:          req.Mode,
		PanelSize:     req.PanelSize,
		Rounds:        req.Rounds,
		Filters:       req.Filters,
		Models:        req.Models,
		AnalyzerModel: req.AnalyzerModel,
	}
	if cfg.Mode == "" {
		cfg.Mode = h.defaults.Mode
	}
	if cfg.PanelSize == 0 {
		cfg.PanelSize = h.defaults.PanelSize
	}
	if cfg.Rounds == 0 {
		cfg.Rounds = h.defaults.Rounds
	}
	if len(cfg.Models) == 0 {
		cfg.Models = h.defaults.Models
	}
	if len(cfg.Filters.Active()) == 0 {
		cfg.Filters = h.defaults.Filters.Clone()
	}

	s, err := h.ctrl.Submit(r.Context(), cfg)
	if err != nil {
		slog.Error("Submit failed", "error", err)
		h.fail(w, err)
		return
	}
	h.jsonStatus(w, http.StatusCreated, s)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.ctrl.Loader().Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.json(w, map[string]interface{}{
		"session":    s,
		"rounds":     session.Rounds(s),
		"completion": session.Completion(s),
		"cost":       session.ActualCost(s),
	})
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	s, err := h.ctrl.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.json(w, s)
}

func (h *Handler) handleToggleVisibility(w http.ResponseWriter, r *http.Request) {
	visible, err := h.ctrl.ToggleVisibility(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.json(w, map[string]bool{"visible": visible})
}

func (h *Handler) handleRemoveFromResults(w http.ResponseWriter, r *http.Request) {
	h.ctrl.RemoveFromResults(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format := chi.URLParam(r, "format")

	exporter, err := export.GetExporter(export.Format(format))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s, err := h.ctrl.Loader().Load(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}

	filename := export.GenerateFilename(s, exporter.FileExtension())

	switch exporter.FileExtension() {
	case "pdf":
		w.Header().Set("Content-Type", "application/pdf")
	case "json":
		w.Header().Set("Content-Type", "application/json")
	default:
		w.Header().Set("Content-Type", "text/markdown")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))

	if err := exporter.Export(s, w); err != nil {
		slog.Error("Export failed", "session_id", id, "format", format, "error", err)
		http.Error(w, "Export failed", http.StatusInternalServerError)
	}
}

// Active session

func (h *Handler) handleEditBreakdown(w http.ResponseWriter, r *http.Request) {
	var bd core.QuestionBreakdown
	if err := json.NewDecoder(r.Body).Decode(&bd); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.ctrl.EditBreakdown(&bd); err != nil {
		h.fail(w, err)
		return
	}
	s, err := h.ctrl.Active()
	if err != nil {
		h.fail(w, err)
		return
	}
	h.json(w, s)
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	// The body is optional; an empty one runs the breakdown under review.
	var req struct {
		Breakdown *core.QuestionBreakdown `json:"breakdown"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err := h.ctrl.Run(r.Context(), req.Breakdown); err != nil {
		h.fail(w, err)
		return
	}
	h.jsonStatus(w, http.StatusAccepted, h.ctrl.Snapshot())
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Cancel(); err != nil {
		h.fail(w, err)
		return
	}
	h.json(w, h.ctrl.Snapshot())
}

// Local archive

func (h *Handler) handleListArchive(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		h.jsonError(w, "local history disabled", http.StatusServiceUnavailable)
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	list, err := h.storage.ListSessions(limit, offset)
	if err != nil {
		h.fail(w, err)
		return
	}
	if list == nil {
		list = []*core.SessionSummary{}
	}
	h.json(w, list)
}

func (h *Handler) handleDeleteArchived(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		h.jsonError(w, "local history disabled", http.StatusServiceUnavailable)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.storage.DeleteSession(id); err != nil {
		h.fail(w, err)
		return
	}
	slog.Info("Archived session deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// Helper methods

func (h *Handler) json(w http.ResponseWriter, data interface{}) {
	h.jsonStatus(w, http.StatusOK, data)
}

func (h *Handler) jsonStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// fail maps an error to a status code and writes it.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	h.jsonError(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	var apiErr *api.APIError
	switch {
	case errors.Is(err, session.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &apiErr) && apiErr.NotFound():
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidBreakdown):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrNoActiveSession),
		errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, session.ErrAnalysisFailure),
		errors.Is(err, session.ErrTransportFailure),
		errors.As(err, &apiErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
