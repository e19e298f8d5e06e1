// Package api is the HTTP surface: webhook ingestion endpoints, the
// internal processing trigger, admin read endpoints, and health.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/threadsync/threadsync/pkg/adapter"
	"github.com/threadsync/threadsync/pkg/ingress"
	"github.com/threadsync/threadsync/pkg/processor"
	"github.com/threadsync/threadsync/pkg/store"
)

// Server hosts the HTTP API.
type Server struct {
	echo      *echo.Echo
	http      *http.Server
	ingress   *ingress.Service
	processor *processor.Processor
	store     store.Store
	registry  *adapter.Registry
	logger    *slog.Logger
}

// NewServer assembles the server and its routes.
func NewServer(ing *ingress.Service, proc *processor.Processor, st store.Store, registry *adapter.Registry) *Server {
	s := &Server{
		echo:      echo.New(),
		ingress:   ing,
		processor: proc,
		store:     st,
		registry:  registry,
		logger:    slog.Default().With("component", "api"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)

	e.POST("/webhook/:source/events", s.webhookHandler)
	e.POST("/internal/process-discussion", s.processDiscussionHandler)

	e.GET("/api/v1/discussions", s.listDiscussionsHandler)
	e.GET("/api/v1/discussions/:id", s.getDiscussionHandler)
	e.GET("/api/v1/jobs/:id", s.getJobHandler)
	e.GET("/api/v1/sources", s.listSourcesHandler)
}

// Handler exposes the underlying handler, for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
