package exporter

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"procodus.dev/bmi-tracker/internal/store"
	"procodus.dev/bmi-tracker/pkg/httpx"
	"procodus.dev/bmi-tracker/pkg/metrics"
)

const (
	exporterName = "BMI App Exporter"

	// isoMillis matches the ISO-8601 form dashboards already parse.
	isoMillis = "2006-01-02T15:04:05.000Z07:00"

	queryTimeout = 5 * time.Second
)

// StatusSource is what the /health and /status endpoints query.
type StatusSource interface {
	Ping(ctx context.Context) error
	Version(ctx context.Context) (string, error)
	CountMeasurements(ctx context.Context) (int64, error)
	PoolStats() store.PoolStats
}

// HandlerConfig holds the dependencies of the exporter HTTP surface.
type HandlerConfig struct {
	Logger   *slog.Logger
	Store    StatusSource
	Registry *metrics.Registry
	Interval time.Duration
	Version  string

	// StartedAt anchors the uptime reported by /status.
	StartedAt time.Time
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

type handler struct {
	logger    *slog.Logger
	store     StatusSource
	registry  *metrics.Registry
	interval  time.Duration
	version   string
	startedAt time.Time
	now       func() time.Time
}

// NewHandler returns the exporter routes wrapped in panic recovery.
func NewHandler(cfg *HandlerConfig) (http.Handler, error) {
	if cfg == nil {
		return nil, errors.New("handler config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	if cfg.Registry == nil {
		return nil, errors.New("registry cannot be nil")
	}

	h := &handler{
		logger:    cfg.Logger,
		store:     cfg.Store,
		registry:  cfg.Registry,
		interval:  cfg.Interval,
		version:   cfg.Version,
		startedAt: cfg.StartedAt,
		now:       cfg.Now,
	}
	if h.interval <= 0 {
		h.interval = DefaultInterval
	}
	if h.version == "" {
		h.version = "dev"
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.startedAt.IsZero() {
		h.startedAt = h.now()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", h.handleMetrics)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /status", h.handleStatus)
	mux.HandleFunc("GET /{$}", h.handleIndex)

	return httpx.Recover(h.logger, nil)(mux), nil
}

// handleMetrics serves the exposition text of the registry.
func (h *handler) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	body, err := h.registry.RenderAll()
	if err != nil {
		h.logger.Error("error generating metrics", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(err.Error()))
		return
	}

	w.Header().Set("Content-Type", h.registry.ContentType())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.Error("failed to write metrics response", "error", err)
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// handleHealth checks database liveness with SELECT 1.
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", "error", err)
		httpx.WriteJSON(w, h.logger, http.StatusInternalServerError, healthResponse{
			Status:    "error",
			Database:  "disconnected",
			Error:     err.Error(),
			Timestamp: h.timestamp(h.now()),
		})
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, healthResponse{
		Status:    "ok",
		Database:  "connected",
		Timestamp: h.timestamp(h.now()),
	})
}

type exporterInfo struct {
	Name    string  `json:"name"`
	Version string  `json:"version"`
	Uptime  float64 `json:"uptime"`
	PID     int     `json:"pid,omitempty"`
}

type databaseInfo struct {
	Connected         bool   `json:"connected"`
	Version           string `json:"version,omitempty"`
	TotalMeasurements *int64 `json:"totalMeasurements,omitempty"`
	Error             string `json:"error,omitempty"`
}

type statusResponse struct {
	Exporter       exporterInfo     `json:"exporter"`
	Database       databaseInfo     `json:"database"`
	Pool           *store.PoolStats `json:"pool,omitempty"`
	LastCollection *string          `json:"lastCollection"`
}

type statusErrorResponse struct {
	Exporter exporterInfo `json:"exporter"`
	Database databaseInfo `json:"database"`
}

// handleStatus reports exporter, database and pool details.
func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	uptime := h.now().Sub(h.startedAt).Seconds()

	version, err := h.store.Version(ctx)
	var total int64
	if err == nil {
		total, err = h.store.CountMeasurements(ctx)
	}
	if err != nil {
		h.logger.Warn("status query failed", "error", err)
		httpx.WriteJSON(w, h.logger, http.StatusInternalServerError, statusErrorResponse{
			Exporter: exporterInfo{Name: exporterName, Version: h.version, Uptime: uptime},
			Database: databaseInfo{Connected: false, Error: err.Error()},
		})
		return
	}

	pool := h.store.PoolStats()
	resp := statusResponse{
		Exporter: exporterInfo{
			Name:    exporterName,
			Version: h.version,
			Uptime:  uptime,
			PID:     os.Getpid(),
		},
		Database: databaseInfo{
			Connected:         true,
			Version:           version,
			TotalMeasurements: &total,
		},
		Pool: &pool,
	}

	if ms, ok := h.registry.Value(metrics.LastSuccessfulCollectionTS, nil); ok {
		ts := h.timestamp(time.UnixMilli(int64(ms)))
		resp.LastCollection = &ts
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, resp)
}

func (h *handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexPage(h.interval).Render(r.Context(), w); err != nil {
		h.logger.Error("failed to render index", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *handler) timestamp(t time.Time) string {
	return t.UTC().Format(isoMillis)
}
