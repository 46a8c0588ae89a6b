// Package server exposes the control API: session status, audio focus,
// PTZ routing and configuration reload.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/quadwatch/quadwatch/internal/config"
	"github.com/quadwatch/quadwatch/internal/errors"
	"github.com/quadwatch/quadwatch/internal/health"
	"github.com/quadwatch/quadwatch/internal/logger"
	"github.com/quadwatch/quadwatch/internal/supervisor"
)

const healthCheckInterval = 30 * time.Second

// Server is the HTTP control server.
type Server struct {
	config       *config.APIConfig
	router       *mux.Router
	httpServer   *http.Server
	logger       *logrus.Logger
	sup          *supervisor.Supervisor
	healthMgr    *health.Manager
	errorHandler *errors.ErrorHandler
	limiter      *rate.Limiter
	reloadFn     func(ctx context.Context) error
}

// New creates the control server. redisClient may be nil when the status
// registry is disabled.
func New(cfg *config.APIConfig, log *logrus.Logger, sup *supervisor.Supervisor, redisClient *redis.Client) *Server {
	healthMgr := health.NewManager(log)
	healthMgr.Register(health.NewSupervisorChecker(sup))
	if redisClient != nil {
		healthMgr.Register(health.NewRedisChecker(redisClient))
	}

	s := &Server{
		config:       cfg,
		router:       mux.NewRouter(),
		logger:       log,
		sup:          sup,
		healthMgr:    healthMgr,
		errorHandler: errors.NewErrorHandler(log),
		limiter:      rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
	s.setupRoutes()
	return s
}

// SetReloadFunc wires the handler behind POST /api/v1/reload.
func (s *Server) SetReloadFunc(fn func(ctx context.Context) error) {
	s.reloadFn = fn
}

// Router exposes the configured router, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start serves until the context ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go s.healthMgr.StartPeriodicChecks(ctx, healthCheckInterval)

	s.logger.WithField("addr", s.config.Addr).Info("Starting control server")
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("control server failed: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down control server")
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("control server shutdown: %w", err)
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)

	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/healthz", healthHandler.HandleHealth).Methods("GET")
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods("GET")
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods("GET")
	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{index:[0-9]+}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/focus", s.handleSetFocus).Methods("POST")
	api.HandleFunc("/focus", s.handleClearFocus).Methods("DELETE")
	api.HandleFunc("/ptz/{direction}/start", s.handlePTZStart).Methods("POST")
	api.HandleFunc("/ptz/{direction}/stop", s.handlePTZStop).Methods("POST")
	api.HandleFunc("/reload", s.handleReload).Methods("POST")
}
