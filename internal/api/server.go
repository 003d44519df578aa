// Package api implements the local HTTP gateway consumed by the UI and the
// browser agent.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/focusforge/forged/internal/domain"
	"github.com/focusforge/forged/internal/enforce"
	"github.com/focusforge/forged/internal/metrics"
	"github.com/focusforge/forged/internal/session"
	"github.com/focusforge/forged/internal/usage"
)

// Config holds the gateway configuration.
type Config struct {
	ListenAddr string
	Version    string
}

// Server is the stateless request router. Every handler is a thin
// translation to the session controller, aggregator, enforcer and store;
// it owns no state beyond input validation.
type Server struct {
	config     Config
	sessions   *session.Controller
	aggregator *usage.Aggregator
	enforcer   *enforce.Enforcer
	store      domain.Store
	clock      domain.Clock
	router     *mux.Router
	server     *http.Server
	logger     *zap.Logger
}

// NewServer creates the gateway and wires its routes.
func NewServer(
	cfg Config,
	sessions *session.Controller,
	aggregator *usage.Aggregator,
	enforcer *enforce.Enforcer,
	store domain.Store,
	clock domain.Clock,
	logger *zap.Logger,
) *Server {
	s := &Server{
		config:     cfg,
		sessions:   sessions,
		aggregator: aggregator,
		enforcer:   enforcer,
		store:      store,
		clock:      clock,
		router:     mux.NewRouter(),
		logger:     logger,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/", s.handleHealth).Methods(http.MethodGet)

	// Browser agent
	s.router.HandleFunc("/website-activity", s.handleWebsiteActivity).Methods(http.MethodPost)
	s.router.HandleFunc("/website-activity/check-blocked/{domain}", s.handleCheckBlocked).Methods(http.MethodGet)

	// Session control
	s.router.HandleFunc("/focus/start", s.handleFocusStart).Methods(http.MethodPost)
	s.router.HandleFunc("/focus/stop", s.handleFocusStop).Methods(http.MethodPost)
	s.router.HandleFunc("/focus/status", s.handleFocusStatus).Methods(http.MethodGet)

	// Standing blocklist
	s.router.HandleFunc("/blocklist", s.handleBlocklistGet).Methods(http.MethodGet)
	s.router.HandleFunc("/blocklist", s.handleBlocklistAdd).Methods(http.MethodPost)
	s.router.HandleFunc("/blocklist/{kind}/{value}", s.handleBlocklistRemove).Methods(http.MethodDelete)

	// Daily limits
	s.router.HandleFunc("/limits", s.handleLimitsGet).Methods(http.MethodGet)
	s.router.HandleFunc("/limits", s.handleLimitsSet).Methods(http.MethodPost)
	s.router.HandleFunc("/limits/status", s.handleLimitStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/limits/{kind}/{value}", s.handleLimitClear).Methods(http.MethodDelete)

	// Schedules
	s.router.HandleFunc("/schedules", s.handleSchedulesGet).Methods(http.MethodGet)
	s.router.HandleFunc("/schedules", s.handleScheduleCreate).Methods(http.MethodPost)
	s.router.HandleFunc("/schedules/{id}", s.handleScheduleDelete).Methods(http.MethodDelete)

	// Stats
	s.router.HandleFunc("/stats/daily", s.handleStatsDaily).Methods(http.MethodGet)
	s.router.HandleFunc("/stats/weekly", s.handleStatsWeekly).Methods(http.MethodGet)

	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

// Start binds the listener and begins serving. Binding fails when another
// engine instance already holds the port, which is the intended
// single-instance guard.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}

	s.logger.Info("local API gateway listening", zap.String("addr", s.config.ListenAddr))

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("gateway serve error", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}
