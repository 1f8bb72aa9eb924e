// Package metrics exposes the Prometheus scrape endpoint and health probe
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"execution_client/internal/core"
	"execution_client/internal/infrastructure/health"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server handles Prometheus metrics export
type Server struct {
	port   int
	logger core.ILogger
	health *health.HealthManager
	srv    *http.Server
	addr   string
}

// NewServer creates a metrics server; hm may be nil to omit /healthz
func NewServer(port int, hm *health.HealthManager, logger core.ILogger) *Server {
	return &Server{
		port:   port,
		health: hm,
		logger: logger.WithField("component", "metrics_server"),
	}
}

// Handler returns the mux served by Start
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if s.health != nil {
		mux.Handle("/healthz", s.health.Handler())
	}
	return mux
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	s.addr = ln.Addr().String()
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("Starting Prometheus metrics server", "addr", s.addr)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	return s.addr
}

// Run starts the server and stops it when ctx is done
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Stop(shutdownCtx)
}

// Stop gracefully stops the metrics server
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping metrics server")
	return s.srv.Shutdown(ctx)
}
