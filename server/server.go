// Package server exposes the collection engine over HTTP: signal ingestion
// under /v1, a liveness summary at /healthz, and the engine's self-metrics
// at /metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tidewatch/tidewatch/collector"
)

// Server is the HTTP ingest surface over a running collector.
type Server struct {
	collector  *collector.Collector
	logger     *slog.Logger
	router     *gin.Engine
	httpServer *http.Server
}

// New builds the server. The collector must be started separately.
func New(port int, col *collector.Collector, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		collector: col,
		logger:    logger.With("component", "http-server"),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	s.routes(router)
	s.router = router

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		s.collector.Registry(), promhttp.HandlerOpts{},
	)))

	v1 := router.Group("/v1")
	{
		v1.POST("/metrics", s.handleMetrics)
		v1.POST("/spans", s.handleSpans)
		v1.POST("/logs", s.handleLogs)
		v1.POST("/healthchecks", s.handleHealthChecks)
	}
}

// Handler returns the HTTP handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving in a goroutine and returns a channel carrying the
// terminal serve error, if any.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown stops accepting connections and waits for in-flight requests up
// to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
