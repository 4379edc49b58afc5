package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/marco-interact/colmap-mvp-sub000/internal/catalog"
	"github.com/marco-interact/colmap-mvp-sub000/internal/config"
	"github.com/marco-interact/colmap-mvp-sub000/internal/governor"
	"github.com/marco-interact/colmap-mvp-sub000/internal/logging"
	"github.com/marco-interact/colmap-mvp-sub000/internal/pipeline"
	"github.com/marco-interact/colmap-mvp-sub000/internal/quality"
)

// Version is the reported service version.
const Version = "0.3.0"

// ServerConfig collects the dependencies the HTTP surface needs.
type ServerConfig struct {
	Config    *config.Config
	Store     *catalog.Store
	Governor  *governor.Governor
	Driver    *pipeline.Driver
	Tier      quality.Tier
	Logger    *slog.Logger
	StartTime time.Time
}

// Server wraps the HTTP listener lifecycle.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the HTTP server bound to the configured address.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Config.Paths.APIBind,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

// Start serves until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Serve uses an existing listener, mainly for tests binding port 0.
func (s *Server) Serve(ln net.Listener) error {
	err := s.httpServer.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the configured bind address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
