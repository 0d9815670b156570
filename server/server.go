// Package server implements the tasktimer HTTP server: REST commands and an
// SSE stream of state-change events.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"

	"github.com/GoCodeAlone/tasktimer/comms"
	"github.com/GoCodeAlone/tasktimer/config"
	"github.com/GoCodeAlone/tasktimer/server/api"
	"github.com/GoCodeAlone/tasktimer/server/ws"
)

// Server is the tasktimer HTTP server.
type Server struct {
	cfg    config.Config
	mux    *http.ServeMux
	logger *slog.Logger

	mu      sync.Mutex // guards httpSrv and detach
	httpSrv *http.Server

	timer  api.TimerService
	bus    comms.Bus
	hub    *ws.Hub
	detach func()

	routesOnce sync.Once
	version    string
}

// New creates a Server for the given controller and event bus.
func New(cfg config.Config, ver string, logger *slog.Logger, timer api.TimerService, bus comms.Bus) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		mux:     http.NewServeMux(),
		logger:  logger,
		timer:   timer,
		bus:     bus,
		hub:     ws.NewHub(logger),
		version: ver,
	}
}

// Handler returns the fully wired HTTP handler, CORS included.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.registerRoutes)
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.mux)
}

// Start registers routes and begins listening. It blocks until the server
// stops and returns http.ErrServerClosed after a graceful Stop.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = config.DefaultConfig().Server.Addr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	s.logger.Info("server listening", slog.String("addr", addr))
	return srv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server and detaches the SSE hub.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	detach, srv := s.detach, s.httpSrv
	s.detach = nil
	s.mu.Unlock()
	if detach != nil {
		detach()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	h := &api.Handlers{
		Timer:   s.timer,
		Bus:     s.bus,
		Logger:  s.logger,
		Version: s.version,
	}
	h.RegisterRoutes(s.mux)

	if s.bus != nil {
		detach := s.hub.Attach(s.bus)
		s.mu.Lock()
		s.detach = detach
		s.mu.Unlock()
	}
	s.mux.HandleFunc("GET /events", s.hub.ServeSSE)
}
