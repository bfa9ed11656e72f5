package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fluxllm/flux/internal/config"
)

// Heartbeat publishes periodic worker status so the monitor can track
// the fleet, and answers direct health probes. Passive: failures are
// logged and the driver keeps serving.
type Heartbeat struct {
	nats   *nats.Conn
	cfg    *config.Config
	runner *Runner
}

type WorkerStatus struct {
	WorkerName   string    `json:"worker_name"`
	Status       string    `json:"status"` // idle, busy
	QueueSubject string    `json:"queue_subject"`
	ModelPath    string    `json:"model_path"`
	LastActivity time.Time `json:"last_activity"`
}

func NewHeartbeat(natsConn *nats.Conn, cfg *config.Config, runner *Runner) *Heartbeat {
	return &Heartbeat{nats: natsConn, cfg: cfg, runner: runner}
}

func (h *Heartbeat) Start(ctx context.Context) error {
	probeSubject := fmt.Sprintf("%s.%s.probe", h.cfg.HeartbeatSubject, h.cfg.WorkerName)
	_, err := h.nats.Subscribe(probeSubject, func(msg *nats.Msg) {
		data, err := json.Marshal(h.status())
		if err != nil {
			slog.Error("Failed to marshal worker status", "error", err)
			return
		}
		if err := msg.Respond(data); err != nil {
			slog.Error("Failed to respond to health probe", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to probe subject: %w", err)
	}

	slog.Info("Heartbeat started", "probe_subject", probeSubject)
	go h.publishHeartbeats(ctx)
	return nil
}

func (h *Heartbeat) publishHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	subject := fmt.Sprintf("%s.%s", h.cfg.HeartbeatSubject, h.cfg.WorkerName)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := json.Marshal(h.status())
			if err != nil {
				continue
			}
			if err := h.nats.Publish(subject, data); err != nil {
				slog.Warn("Failed to publish heartbeat", "error", err)
			}
		}
	}
}

func (h *Heartbeat) status() WorkerStatus {
	state := "idle"
	if h.runner.Busy() {
		state = "busy"
	}
	return WorkerStatus{
		WorkerName:   h.cfg.WorkerName,
		Status:       state,
		QueueSubject: h.cfg.QueueSubject,
		ModelPath:    h.cfg.ModelPath,
		LastActivity: time.Now(),
	}
}
