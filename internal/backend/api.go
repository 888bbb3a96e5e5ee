package backend

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/bmi-tracker/internal/store"
	"procodus.dev/bmi-tracker/pkg/bmi"
	"procodus.dev/bmi-tracker/pkg/httpx"
	"procodus.dev/bmi-tracker/pkg/metrics"
)

// EnvProduction enables the single-origin CORS policy and static serving.
const EnvProduction = "production"

// List and trend window bounds.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
	DefaultTrendDays = 30
	MaxTrendDays     = 365

	maxBodyBytes = 1 << 20
)

// Development origins allowed outside production.
var devOrigins = []string{"http://localhost:5173", "http://localhost:3000"}

// APIConfig holds the dependencies of the HTTP API.
type APIConfig struct {
	Logger      *slog.Logger
	Service     *Service
	Environment string
	// FrontendURL is the only allowed origin in production.
	FrontendURL string
	// StaticDir holds the built frontend served in production.
	StaticDir string
	// Metrics is optional; when set, requests are instrumented.
	Metrics *metrics.BackendMetrics
	// MetricsHandler, when set, is mounted at /metrics.
	MetricsHandler http.Handler
}

type api struct {
	logger  *slog.Logger
	service *Service
	env     string
	static  string
}

// NewAPI returns the backend routes wrapped in CORS, instrumentation and
// panic recovery.
func NewAPI(cfg *APIConfig) (http.Handler, error) {
	if cfg == nil {
		return nil, errors.New("api config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Service == nil {
		return nil, errors.New("service cannot be nil")
	}

	a := &api{
		logger:  cfg.Logger,
		service: cfg.Service,
		env:     cfg.Environment,
		static:  cfg.StaticDir,
	}
	if a.env == "" {
		a.env = "development"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("POST /api/measurements", a.handleCreate)
	mux.HandleFunc("GET /api/measurements", a.handleList)
	mux.HandleFunc("GET /api/measurements/trends", a.handleTrends)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}
	mux.HandleFunc("/api/", a.handleNotFound)
	mux.HandleFunc("/", a.handleFallback)

	origins := devOrigins
	if a.env == EnvProduction {
		frontend := cfg.FrontendURL
		if frontend == "" {
			frontend = "http://localhost"
		}
		origins = []string{frontend}
	}

	middlewares := []httpx.Middleware{
		httpx.CORS(httpx.CORSConfig{AllowedOrigins: origins, AllowCredentials: true}),
	}
	var panics prometheus.Counter
	if cfg.Metrics != nil {
		middlewares = append([]httpx.Middleware{httpx.Instrument(cfg.Metrics)}, middlewares...)
		panics = cfg.Metrics.HTTPPanicsTotal
	}
	middlewares = append(middlewares, httpx.Recover(a.logger, panics))

	return httpx.Chain(mux, middlewares...), nil
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, a.logger, http.StatusOK, map[string]string{
		"status":      "ok",
		"environment": a.env,
	})
}

func (a *api) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in bmi.Input
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&in); err != nil {
		httpx.WriteError(w, a.logger, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	m, err := a.service.Record(r.Context(), in)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			httpx.WriteError(w, a.logger, http.StatusBadRequest, verr.Error())
			return
		}
		a.serverError(w, r, err)
		return
	}

	httpx.WriteJSON(w, a.logger, http.StatusCreated, m)
}

func (a *api) handleList(w http.ResponseWriter, r *http.Request) {
	limit, ok := a.intParam(w, r, "limit", DefaultListLimit, MaxListLimit)
	if !ok {
		return
	}

	items, err := a.service.Recent(r.Context(), limit)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	if items == nil {
		items = []store.Measurement{}
	}
	httpx.WriteJSON(w, a.logger, http.StatusOK, items)
}

func (a *api) handleTrends(w http.ResponseWriter, r *http.Request) {
	days, ok := a.intParam(w, r, "days", DefaultTrendDays, MaxTrendDays)
	if !ok {
		return
	}

	points, err := a.service.Trends(r.Context(), days)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	if points == nil {
		points = []store.TrendPoint{}
	}
	httpx.WriteJSON(w, a.logger, http.StatusOK, points)
}

// intParam reads a positive integer query parameter capped at maxValue.
func (a *api) intParam(w http.ResponseWriter, r *http.Request, name string, def, maxValue int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		httpx.WriteError(w, a.logger, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return min(v, maxValue), true
}

func (a *api) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteError(w, a.logger, http.StatusNotFound, "Route not found")
}

// handleFallback serves the built frontend in production, with unknown
// paths falling back to index.html. Everything else is a 404.
func (a *api) handleFallback(w http.ResponseWriter, r *http.Request) {
	if a.env != EnvProduction || a.static == "" || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
		a.handleNotFound(w, r)
		return
	}

	name := path.Clean("/" + r.URL.Path)
	file := filepath.Join(a.static, filepath.FromSlash(strings.TrimPrefix(name, "/")))
	if info, err := os.Stat(file); err == nil && !info.IsDir() {
		http.ServeFile(w, r, file)
		return
	}
	http.ServeFile(w, r, filepath.Join(a.static, "index.html"))
}

func (a *api) serverError(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Error("server error", "error", err, "method", r.Method, "path", r.URL.Path)
	httpx.WriteError(w, a.logger, http.StatusInternalServerError, "Internal server error")
}
