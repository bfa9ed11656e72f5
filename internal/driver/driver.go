// Package driver is the worker side of the pipeline: it pops jobs from
// the shared queue, runs the generation engine as a subprocess and
// streams its output onto the per-request bus channel.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fluxllm/flux/internal/config"
	"github.com/fluxllm/flux/internal/stream"
)

// JobSource is the queue surface the driver needs. Pop returns
// (nil, nil) on timeout so the loop can check its context.
type JobSource interface {
	Pop(timeout time.Duration) (*stream.Job, error)
}

// EventLogger records operational events; the SQLite store satisfies
// this. A nil-safe no-op implementation is fine in tests.
type EventLogger interface {
	Event(level, code, msg string, meta map[string]interface{})
}

// CheckPreconditions verifies the engine binary and the model artifact
// before the driver enters its loop. Either failing is fatal: there is
// no point serving jobs without a model.
func CheckPreconditions(cfg *config.Config) error {
	bin := filepath.Join(cfg.LlamaBinPath, completionBinary)
	info, err := os.Stat(bin)
	if err != nil {
		return fmt.Errorf("engine binary not found at %s: %w", bin, err)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("engine binary %s is not executable", bin)
	}

	model, err := os.Stat(cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("model not found at %s: %w", cfg.ModelPath, err)
	}
	if model.Size() == 0 {
		return fmt.Errorf("model file %s is empty", cfg.ModelPath)
	}

	slog.Info("Preconditions verified",
		"binary", bin,
		"model", cfg.ModelPath,
		"model_bytes", model.Size())
	return nil
}

// Driver runs one blocking pop → process → publish loop. Multiple
// driver instances may run in parallel; each owns at most one
// subprocess at a time through its Runner.
type Driver struct {
	cfg    *config.Config
	queue  JobSource
	runner *Runner
	events EventLogger
}

func New(cfg *config.Config, queue JobSource, runner *Runner, events EventLogger) *Driver {
	return &Driver{cfg: cfg, queue: queue, runner: runner, events: events}
}

// Run blocks until ctx is cancelled. Queue errors are treated as a
// temporarily unavailable backend: the loop backs off and resumes
// rather than exiting.
func (d *Driver) Run(ctx context.Context) {
	slog.Info("Driver listening", "queue", d.cfg.QueueSubject, "pop_timeout", d.cfg.PopTimeout)

	// The loop blocks inside Execute while a job runs, so the
	// subprocess teardown has to come from the side when ctx ends.
	go func() {
		<-ctx.Done()
		d.runner.Terminate(d.cfg.ShutdownGrace)
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Driver shutting down")
			return
		default:
		}

		job, err := d.queue.Pop(d.cfg.PopTimeout)
		if err != nil {
			slog.Error("Queue unavailable, backing off", "error", err, "backoff", d.cfg.ReconnectBackoff)
			d.event("error", "queue.unavailable", err.Error(), nil)
			select {
			case <-ctx.Done():
			case <-time.After(d.cfg.ReconnectBackoff):
			}
			continue
		}
		if job == nil {
			continue
		}

		slog.Info("Processing job", "req_id", job.RequestID, "max_tokens", job.MaxTokens, "prompt_len", len(job.Prompt))
		if err := d.runner.Execute(job); err != nil {
			d.event("error", "job.failed", err.Error(), map[string]interface{}{
				"req_id": job.RequestID,
			})
		}
	}
}

func (d *Driver) event(level, code, msg string, meta map[string]interface{}) {
	if d.events != nil {
		d.events.Event(level, code, msg, meta)
	}
}
