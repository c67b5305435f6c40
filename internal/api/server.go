package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/finworks/reportd/internal/audit"
	"github.com/finworks/reportd/internal/engine"
	"github.com/finworks/reportd/internal/executor"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Config holds the HTTP server's tunables. An empty AuthSecret leaves the
// /v1 routes unauthenticated.
type Config struct {
	Addr        string
	AuthSecret  string
	SubmitRate  float64
	SubmitBurst int
}

// Server wraps the chi router and application dependencies.
type Server struct {
	router     *chi.Mux
	engine     *engine.Engine
	execs      *executor.Registry
	history    *audit.Store
	logger     *slog.Logger
	addr       string
	authSecret []byte
	limiter    *submitLimiter
}

// NewServer creates and configures a new HTTP server.
func NewServer(cfg Config, eng *engine.Engine, execs *executor.Registry, history *audit.Store, logger *slog.Logger) *Server {
	srv := &Server{
		router:     chi.NewRouter(),
		engine:     eng,
		execs:      execs,
		history:    history,
		logger:     logger,
		addr:       cfg.Addr,
		authSecret: []byte(cfg.AuthSecret),
		limiter:    newSubmitLimiter(cfg.SubmitRate, cfg.SubmitBurst),
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Route("/v1", func(r chi.Router) {
		if len(s.authSecret) > 0 {
			r.Use(s.requireAuth)
		}

		r.Get("/health", s.handleHealth)
		r.Get("/executors", s.handleListExecutors)
		r.Get("/stats", s.handleGetStats)
		r.Get("/history", s.handleListHistory)
		r.Get("/history/{id}", s.handleGetHistoryEntry)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleSubmitJob)
			r.Get("/", s.handleListJobs)
			r.Get("/{id}", s.handleGetJob)
			r.Delete("/{id}", s.handleCancelJob)
			r.Get("/{id}/files", s.handleListJobFiles)
			r.Get("/{id}/files/{filename}", s.handleDownloadFile)
		})
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails. On cancellation the server drains in-flight requests for up
// to shutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
