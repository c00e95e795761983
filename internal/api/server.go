package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/mulerift/internal/domain"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
	maxHeaderBytes    = 64 << 10
)

// Server serves the analysis API.
type Server struct {
	router *chi.Mux
	http   *http.Server
}

// NewServer wires the handler, middleware and routes. repo, cache and bus
// may be nil; the endpoints depending on them then answer 503.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, analyzer Analyzer, version string) *Server {
	h := NewHandler(cfg, repo, cache, bus, analyzer, version)

	r := chi.NewRouter()
	r.Use(CORSMiddleware)
	r.Use(RecoverMiddleware)
	r.Use(TracingMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(middleware.RealIP)

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/analyses", func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.RateLimit))

		// Result documents can be large; archive reads are compressed.
		r.Group(func(r chi.Router) {
			r.Use(middleware.NoCache)
			r.Use(middleware.Compress(5, "application/json"))
			r.Get("/", h.ListAnalyses)
			r.Get("/{id}", h.GetAnalysis)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.AllowContentType("application/json"))
			r.Post("/", h.Analyze)
			r.Post("/async", h.AnalyzeAsync)
		})
	})

	return &Server{
		router: r,
		http: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           r,
			ReadTimeout:       time.Duration(cfg.ReadTimeout) * time.Second,
			ReadHeaderTimeout: readHeaderTimeout,
			WriteTimeout:      writeTimeout(cfg),
			IdleTimeout:       idleTimeout,
			MaxHeaderBytes:    maxHeaderBytes,
		},
	}
}

// writeTimeout never cuts off a synchronous analysis before its own
// deadline fires. Zero leaves writes unbounded.
func writeTimeout(cfg domain.ServerConfig) time.Duration {
	wt := time.Duration(cfg.WriteTimeout) * time.Second
	if floor := cfg.AnalysisTimeout + 5*time.Second; wt > 0 && cfg.AnalysisTimeout > 0 && wt < floor {
		return floor
	}
	return wt
}

// Start listens on the configured address. It blocks until Shutdown.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router returns the route tree.
func (s *Server) Router() *chi.Mux {
	return s.router
}
