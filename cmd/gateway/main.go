package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/fluxllm/flux/internal/bus"
	"github.com/fluxllm/flux/internal/config"
	"github.com/fluxllm/flux/internal/gateway"
	"github.com/fluxllm/flux/internal/metrics"
	"github.com/fluxllm/flux/internal/queue"
	"github.com/fluxllm/flux/pkg/server"
)

func main() {
	var envFile = flag.String("env", "", "Optional .env file to load")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("Gateway starting", "nats_url", cfg.NatsURL, "http_addr", cfg.HTTPAddr)

	// Connect to the queue/bus backend
	conn, err := nats.Connect(cfg.NatsURL,
		nats.Name("flux-gateway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectBackoff))
	if err != nil {
		slog.Error("Failed to connect to NATS", "url", cfg.NatsURL, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	// The gateway is a pure producer: no durable consumer.
	q, err := queue.New(conn, cfg, "")
	if err != nil {
		slog.Error("Failed to open job queue", "error", err)
		os.Exit(1)
	}
	b := bus.New(conn)

	agg := metrics.NewAggregator()
	reporter := metrics.NewReporter(agg, q.Depth, conn, cfg.MonitorSubject)

	correlator := gateway.NewCorrelator(q, b, cfg.ChannelPrefix, cfg.DefaultMaxTokens, agg)
	httpServer := server.NewServer(cfg.HTTPAddr, correlator, q, b.Ping, agg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go reporter.Start(ctx)
	go func() {
		if err := httpServer.Start(ctx); err != nil {
			slog.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	slog.Info("Gateway ready", "queue", cfg.QueueSubject, "channel_prefix", cfg.ChannelPrefix)

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		slog.Info("Shutting down gateway", "signal", s.String())
	case <-ctx.Done():
	}
	cancel()
}
