// Package api serves the status endpoints: Prometheus metrics, health, and
// the per-site crawl statistics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mealie-tools/recipe-dredger/internal/state"
)

// Pinger reports one dependency's health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the dependencies for the status HTTP server.
type Server struct {
	addr       string
	store      *state.Store
	registry   *prometheus.Registry
	deps       map[string]Pinger
	router     http.Handler
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds the status server. deps maps a dependency name to its
// health check and may be empty.
func NewServer(addr string, store *state.Store, registry *prometheus.Registry, deps map[string]Pinger, logger *zap.Logger) *Server {
	s := &Server{
		addr:     addr,
		store:    store,
		registry: registry,
		deps:     deps,
		logger:   logger,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
