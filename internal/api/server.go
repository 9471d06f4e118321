package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/klmetro-live/internal/common/logger"
)

// Server wraps the HTTP listener carrying the REST endpoints and the
// websocket upgrade path.
type Server struct {
	httpServer *http.Server
	logger     logger.Logger
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Port           string
	AllowedOrigins []string
}

// NewServer builds the router and binds handlers. The websocket handler
// is mounted at /ws; pass nil to run REST-only.
func NewServer(cfg ServerConfig, handlers *Handlers, ws http.Handler, log logger.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", handlers.Health)
	r.Get("/api/stations", handlers.GetStations)
	r.Get("/api/stations/{stationID}", handlers.GetStation)
	r.Get("/api/lines", handlers.GetLines)
	r.Get("/api/fare", handlers.GetFare)
	r.Get("/api/route", handlers.GetRoute)
	r.Get("/api/trains", handlers.GetTrains)

	if ws != nil {
		r.Handle("/ws", ws)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: log,
	}
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}
