// Package server assembles the gateway's HTTP surface: the streaming
// WebSocket endpoint, the submission endpoint and the
// health/introspection endpoints.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fluxllm/flux/internal/gateway"
	"github.com/fluxllm/flux/internal/metrics"
)

type Server struct {
	httpAddr string
	handler  *gateway.Handler
}

func NewServer(httpAddr string, correlator *gateway.Correlator, queue gateway.QueueIntrospector, busPing func() error, agg *metrics.Aggregator) *Server {
	return &Server{
		httpAddr: httpAddr,
		handler:  gateway.NewHandler(correlator, queue, busPing, agg),
	}
}

func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	s.handler.RegisterRoutes(mux)

	srv := &http.Server{Addr: s.httpAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	slog.Info("HTTP server starting",
		"addr", s.httpAddr,
		"endpoints", []string{"/ws/generate", "/api/generate", "/health", "/queue/status", "/metrics"})

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
