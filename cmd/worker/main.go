package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/fluxllm/flux/internal/bus"
	"github.com/fluxllm/flux/internal/config"
	"github.com/fluxllm/flux/internal/driver"
	"github.com/fluxllm/flux/internal/queue"
	"github.com/fluxllm/flux/internal/store"
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

	slog.Info("Worker starting",
		"model", cfg.ModelPath,
		"llama_bin", cfg.LlamaBinPath,
		"ctx_size", cfg.CtxSize,
		"threads", cfg.Threads,
		"gpu_layers", cfg.GPULayers)

	// Missing binary or model is the one unrecoverable condition:
	// refuse to serve rather than fail every job.
	if err := driver.CheckPreconditions(cfg); err != nil {
		slog.Error("Startup precondition failed", "error", err)
		os.Exit(1)
	}

	// Open the event log
	_ = os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to open event store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	db.Event("info", "startup", "Worker starting", map[string]interface{}{
		"worker_name": cfg.WorkerName,
		"model_path":  cfg.ModelPath,
		"queue":       cfg.QueueSubject,
	})

	// Connect to the queue/bus backend
	conn, err := nats.Connect(cfg.NatsURL,
		nats.Name(cfg.WorkerName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectBackoff))
	if err != nil {
		db.Event("error", "backend.failed", "NATS connection failed", map[string]interface{}{
			"nats_url": cfg.NatsURL,
			"error":    err.Error(),
		})
		slog.Error("Failed to connect to NATS", "url", cfg.NatsURL, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	q, err := queue.New(conn, cfg, cfg.Durable)
	if err != nil {
		db.Event("error", "queue.failed", "Queue setup failed", map[string]interface{}{
			"error": err.Error(),
		})
		slog.Error("Failed to open job queue", "error", err)
		os.Exit(1)
	}

	runner := driver.NewRunner(cfg, bus.New(conn))
	d := driver.New(cfg, q, runner, db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	heartbeat := driver.NewHeartbeat(conn, cfg, runner)
	if err := heartbeat.Start(ctx); err != nil {
		slog.Error("Heartbeat failed to start", "error", err)
	}

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	db.Event("info", "worker.ready", "Worker ready", map[string]interface{}{
		"queue": cfg.QueueSubject,
	})

	// Graceful shutdown: stop the dequeue loop and give the running
	// subprocess its grace period before the process exits.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	slog.Info("Shutting down worker", "signal", s.String())
	cancel()
	<-done

	db.Event("info", "shutdown", "Worker shutdown complete", nil)
	slog.Info("Worker shutdown complete")
}
