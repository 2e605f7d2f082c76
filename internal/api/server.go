// Package api is the HTTP boundary: a chi router over the matcher, the run
// store and the catalog.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/subsidy-match/internal/eval"
	"github.com/sells-group/subsidy-match/internal/matcher"
	"github.com/sells-group/subsidy-match/internal/model"
	"github.com/sells-group/subsidy-match/internal/store"
)

// Matcher runs match requests.
type Matcher interface {
	Match(ctx context.Context, userID string) (*matcher.Result, error)
	MatchDataset(ctx context.Context, userID string, ds eval.Dataset) (*matcher.Result, error)
}

// RunReader reads persisted runs.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*model.MatchRun, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.RunSummary, error)
}

// Options configure the server.
type Options struct {
	AllowedOrigins []string
	// MaxBodyBytes caps request bodies. Default 1 MiB.
	MaxBodyBytes int64
	// RequestTimeout bounds each request. Zero disables it.
	RequestTimeout time.Duration
}

// Server holds the handlers' collaborators.
type Server struct {
	matcher Matcher
	runs    RunReader
	catalog matcher.CatalogSource
	opts    Options
	now     func() time.Time
}

// New creates a Server. runs may be nil when persistence is disabled; the
// run endpoints then answer 503.
func New(m Matcher, runs RunReader, cat matcher.CatalogSource, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{matcher: m, runs: runs, catalog: cat, opts: opts, now: time.Now}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if s.opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
		r.Post("/match", s.handleMatch)
		r.Post("/eligibility", s.handleEligibility)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/stats", s.handleStats)
		r.Get("/catalog", s.handleCatalog)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if snap, err := s.catalog.Snapshot(r.Context()); err == nil {
		resp["catalog_version"] = snap.Version()
		resp["subsidies"] = snap.Len()
	} else {
		resp["status"] = "degraded"
		resp["catalog"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
