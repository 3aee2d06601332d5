// Package api serves the thread engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/hurttlocker/inboxdigest/internal/store"
	"github.com/hurttlocker/inboxdigest/internal/telemetry"
)

const (
	DefaultAddr        = ":8080"
	DefaultHTTPTimeout = 60 * time.Second

	maxBodyBytes = 32 << 20
)

// Config configures the HTTP API.
type Config struct {
	State     *store.Store         // optional, enables /v1/state routes
	Telemetry *telemetry.Telemetry // optional, enables /v1/metrics
	Workers   int                  // bucket workers for /v1/cluster (0 = 1)
	Version   string
}

// Server is the HTTP API.
type Server struct {
	cfg      Config
	router   *chi.Mux
	counters *telemetry.Counters
}

// New builds the router.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg, router: chi.NewRouter(), counters: telemetry.NoopCounters()}
	if cfg.Telemetry != nil {
		c, err := telemetry.NewCounters(cfg.Telemetry.MeterProvider())
		if err != nil {
			log.Warn().Err(err).Msg("metrics disabled")
		} else {
			s.counters = c
		}
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(accessLog)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/cluster", s.handleCluster)
		r.Get("/normalize", s.handleNormalize)
		if s.cfg.State != nil {
			r.Get("/state/mailboxes", s.handleMailboxes)
			r.Get("/state/runs", s.handleRuns)
		}
		if s.cfg.Telemetry != nil {
			r.Get("/metrics", s.handleMetrics)
		}
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", addr).Msg("HTTP API listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		log.Info().Msg("HTTP API stopped")
		return nil
	}
}

// accessLog logs one line per request through zerolog.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Msg("http")
		}()
		next.ServeHTTP(ww, r)
	})
}
