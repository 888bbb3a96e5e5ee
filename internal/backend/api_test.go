package backend_test

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/bmi-tracker/internal/backend"
	"procodus.dev/bmi-tracker/internal/store"
	"procodus.dev/bmi-tracker/pkg/metrics"
)

var _ = Describe("API", func() {
	var (
		logger  *slog.Logger
		st      *memoryStore
		m       *metrics.BackendMetrics
		cfg     *backend.APIConfig
		handler http.Handler
	)

	build := func() {
		var err error
		handler, err = backend.NewAPI(cfg)
		Expect(err).NotTo(HaveOccurred())
	}

	do := func(method, target, body string, headers ...string) *httptest.ResponseRecorder {
		var r io.Reader
		if body != "" {
			r = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, target, r)
		for i := 0; i+1 < len(headers); i += 2 {
			req.Header.Set(headers[i], headers[i+1])
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		st = &memoryStore{}
		m = metrics.NewBackendMetrics("test", prometheus.NewRegistry())

		service, err := backend.NewService(st, m)
		Expect(err).NotTo(HaveOccurred())

		cfg = &backend.APIConfig{
			Logger:  logger,
			Service: service,
			Metrics: m,
		}
		build()
	})

	Describe("NewAPI", func() {
		It("should reject a nil config", func() {
			_, err := backend.NewAPI(nil)
			Expect(err).To(MatchError("api config cannot be nil"))
		})

		It("should require a service", func() {
			_, err := backend.NewAPI(&backend.APIConfig{Logger: logger})
			Expect(err).To(MatchError("service cannot be nil"))
		})
	})

	Describe("GET /health", func() {
		It("should report the environment", func() {
			rec := do(http.MethodGet, "/health", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`{"status":"ok","environment":"development"}`))
		})
	})

	Describe("POST /api/measurements", func() {
		It("should compute and store a measurement", func() {
			rec := do(http.MethodPost, "/api/measurements",
				`{"weightKg":70,"heightCm":175,"age":30,"sex":"Male","activityLevel":"moderate"}`,
				"Content-Type", "application/json")

			Expect(rec.Code).To(Equal(http.StatusCreated))
			var got store.Measurement
			Expect(json.Unmarshal(rec.Body.Bytes(), &got)).To(Succeed())
			Expect(got.ID).To(Equal(uint(1)))
			Expect(got.BMI).To(Equal(22.9))
			Expect(got.BMICategory).To(Equal("Normal"))
			Expect(got.BMR).To(Equal(1648.8))
			Expect(got.DailyCalories).To(Equal(2556))
			Expect(got.Sex).To(Equal("male"))

			Expect(testutil.ToFloat64(m.DBOperationsTotal.WithLabelValues("insert", "success"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/measurements", "201"))).To(Equal(1.0))
		})

		It("should reject invalid input with 400", func() {
			rec := do(http.MethodPost, "/api/measurements",
				`{"weightKg":70,"heightCm":175,"age":0,"sex":"male","activityLevel":"moderate"}`)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(MatchJSON(`{"error":"age must be between 1 and 120"}`))
			Expect(st.count()).To(BeZero())
		})

		It("should reject malformed JSON with 400", func() {
			rec := do(http.MethodPost, "/api/measurements", `{"weightKg":`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(MatchJSON(`{"error":"Invalid JSON body"}`))
		})

		It("should hide storage errors behind a generic 500", func() {
			st.createFn = func(*store.Measurement) error { return errors.New("disk full on db-1") }

			rec := do(http.MethodPost, "/api/measurements",
				`{"weightKg":70,"heightCm":175,"age":30,"sex":"male","activityLevel":"moderate"}`)

			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).To(MatchJSON(`{"error":"Internal server error"}`))
			Expect(testutil.ToFloat64(m.DBOperationsTotal.WithLabelValues("insert", "error"))).To(Equal(1.0))
		})
	})

	Describe("GET /api/measurements", func() {
		BeforeEach(func() {
			for _, w := range []string{"60", "70", "80"} {
				rec := do(http.MethodPost, "/api/measurements",
					`{"weightKg":`+w+`,"heightCm":175,"age":30,"sex":"female","activityLevel":"light"}`)
				Expect(rec.Code).To(Equal(http.StatusCreated))
			}
		})

		It("should list the newest first", func() {
			rec := do(http.MethodGet, "/api/measurements?limit=2", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var got []store.Measurement
			Expect(json.Unmarshal(rec.Body.Bytes(), &got)).To(Succeed())
			Expect(got).To(HaveLen(2))
			Expect(got[0].WeightKg).To(Equal(80.0))
			Expect(got[1].WeightKg).To(Equal(70.0))
		})

		It("should default and cap the limit", func() {
			do(http.MethodGet, "/api/measurements", "")
			Expect(st.lastLimit).To(Equal(backend.DefaultListLimit))

			do(http.MethodGet, "/api/measurements?limit=50000", "")
			Expect(st.lastLimit).To(Equal(backend.MaxListLimit))
		})

		It("should reject a bad limit", func() {
			rec := do(http.MethodGet, "/api/measurements?limit=abc", "")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should return 500 when listing fails", func() {
			st.listErr = errors.New("boom")
			rec := do(http.MethodGet, "/api/measurements", "")
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("GET /api/measurements/trends", func() {
		It("should return daily averages", func() {
			st.trends = []store.TrendPoint{{Day: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), AverageBMI: 24.1, Count: 3}}

			rec := do(http.MethodGet, "/api/measurements/trends?days=7", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`[{"day":"2024-05-01T00:00:00Z","averageBmi":24.1,"count":3}]`))
			Expect(st.lastDays).To(Equal(7))
		})

		It("should return an empty array without data", func() {
			rec := do(http.MethodGet, "/api/measurements/trends", "")
			Expect(rec.Body.String()).To(MatchJSON(`[]`))
			Expect(st.lastDays).To(Equal(backend.DefaultTrendDays))
		})
	})

	Describe("unknown routes", func() {
		It("should answer with a JSON 404", func() {
			for _, target := range []string{"/api/unknown", "/nowhere"} {
				rec := do(http.MethodGet, target, "")
				Expect(rec.Code).To(Equal(http.StatusNotFound))
				Expect(rec.Body.String()).To(MatchJSON(`{"error":"Route not found"}`))
			}
		})
	})

	Describe("CORS", func() {
		It("should allow the development origins", func() {
			rec := do(http.MethodGet, "/health", "", "Origin", "http://localhost:5173")
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("http://localhost:5173"))
			Expect(rec.Header().Get("Access-Control-Allow-Credentials")).To(Equal("true"))
		})

		It("should allow only the frontend URL in production", func() {
			cfg.Environment = backend.EnvProduction
			cfg.FrontendURL = "https://bmi.example.com"
			build()

			rec := do(http.MethodGet, "/health", "", "Origin", "http://localhost:5173")
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())

			rec = do(http.MethodGet, "/health", "", "Origin", "https://bmi.example.com")
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://bmi.example.com"))
		})

		It("should answer pre-flight requests with 200", func() {
			rec := do(http.MethodOptions, "/api/measurements", "",
				"Origin", "http://localhost:3000",
				"Access-Control-Request-Method", "POST")
			Expect(rec.Code).To(Equal(http.StatusOK))
		})
	})

	Describe("static frontend", func() {
		BeforeEach(func() {
			dir := GinkgoT().TempDir()
			Expect(os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o600)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o600)).To(Succeed())

			cfg.Environment = backend.EnvProduction
			cfg.StaticDir = dir
			build()
		})

		It("should serve assets", func() {
			rec := do(http.MethodGet, "/app.js", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal("console.log(1)"))
		})

		It("should fall back to index.html for client routes", func() {
			rec := do(http.MethodGet, "/history/2024", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("app"))
		})

		It("should keep unknown API routes as 404", func() {
			Expect(do(http.MethodGet, "/api/unknown", "").Code).To(Equal(http.StatusNotFound))
		})
	})
})
