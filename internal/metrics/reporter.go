package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// DepthFunc returns the current pending-job count.
type DepthFunc func(ctx context.Context) (int, error)

// Publisher sends a monitoring report; the NATS connection satisfies
// this directly.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Reporter periodically polls queue depth into the aggregator and
// publishes the full snapshot to the monitoring subject. Failures are
// logged and skipped: the reporter is an observer, never a gate.
type Reporter struct {
	agg      *Aggregator
	depth    DepthFunc
	pub      Publisher
	subject  string
	interval time.Duration
}

func NewReporter(agg *Aggregator, depth DepthFunc, pub Publisher, subject string) *Reporter {
	return &Reporter{
		agg:      agg,
		depth:    depth,
		pub:      pub,
		subject:  subject,
		interval: 5 * time.Second,
	}
}

func (r *Reporter) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reporter) tick(ctx context.Context) {
	if r.depth != nil {
		if n, err := r.depth(ctx); err == nil {
			r.agg.SetQueueDepth(n)
		} else {
			slog.Warn("Queue depth poll failed", "error", err)
		}
	}

	if r.pub == nil || r.subject == "" {
		return
	}
	data, err := json.Marshal(r.agg.Snapshot())
	if err != nil {
		slog.Error("Failed to marshal metrics report", "error", err)
		return
	}
	if err := r.pub.Publish(r.subject, data); err != nil {
		slog.Warn("Failed to publish metrics report", "error", err)
	}
}
