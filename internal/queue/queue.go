// Package queue implements the shared FIFO job queue on a NATS
// JetStream work-queue stream. Entries are acknowledged as soon as
// they are popped, so a pop deletes the entry: there is no redelivery
// if the worker dies afterwards. Retry belongs to the client.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fluxllm/flux/internal/config"
	"github.com/fluxllm/flux/internal/stream"
)

type Queue struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	sub     *nats.Subscription
	stream  string
	subject string
}

// New ensures the work-queue stream exists and, when durable is
// non-empty, binds a durable pull consumer for popping. Producers
// (the gateway) pass durable="" and never create a consumer.
func New(conn *nats.Conn, cfg *config.Config, durable string) (*Queue, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	q := &Queue{
		conn:    conn,
		js:      js,
		stream:  cfg.Stream,
		subject: cfg.QueueSubject,
	}

	if err := q.ensureStream(cfg); err != nil {
		return nil, err
	}

	if durable != "" {
		sub, err := js.PullSubscribe(cfg.QueueSubject, durable, nats.ManualAck())
		if err != nil {
			return nil, fmt.Errorf("failed to create pull consumer: %w", err)
		}
		q.sub = sub
		slog.Info("Created queue consumer", "durable", durable)
	}

	return q, nil
}

func (q *Queue) ensureStream(cfg *config.Config) error {
	_, err := q.js.StreamInfo(q.stream)
	if err == nil {
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	_, err = q.js.AddStream(&nats.StreamConfig{
		Name:      q.stream,
		Subjects:  []string{q.subject},
		MaxMsgs:   int64(cfg.MaxMsgs),
		MaxAge:    cfg.MaxAge,
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	slog.Info("Created job stream", "name", q.stream, "subject", q.subject)
	return nil
}

// Push enqueues a job. Non-blocking and durable until popped.
func (q *Queue) Push(ctx context.Context, job stream.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if _, err := q.js.Publish(q.subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Pop blocks up to timeout for the next job. Returns (nil, nil) on
// expiry so callers can poll a shutdown flag without busy-waiting.
// The queue entry is acknowledged before the job is returned; a
// malformed payload is dropped with a log line rather than crashing
// the worker loop.
func (q *Queue) Pop(timeout time.Duration) (*stream.Job, error) {
	if q.sub == nil {
		return nil, fmt.Errorf("queue opened without a consumer")
	}

	msgs, err := q.sub.Fetch(1, nats.MaxWait(timeout))
	if err != nil {
		if err == nats.ErrTimeout {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(msgs) == 0 {
		return nil, nil
	}

	msg := msgs[0]
	if ackErr := msg.Ack(); ackErr != nil {
		slog.Warn("Failed to acknowledge job", "error", ackErr)
	}

	var job stream.Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		slog.Error("Dropping malformed job payload", "error", err, "data", string(msg.Data))
		return nil, nil
	}
	if job.RequestID == "" || job.Prompt == "" {
		slog.Error("Dropping incomplete job payload", "data", string(msg.Data))
		return nil, nil
	}
	return &job, nil
}

// Depth returns the number of pending jobs.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	info, err := q.js.StreamInfo(q.stream, nats.Context(ctx))
	if err != nil {
		return 0, fmt.Errorf("failed to get stream info: %w", err)
	}
	return int(info.State.Msgs), nil
}

// Ping verifies connectivity to the queue backend.
func (q *Queue) Ping(ctx context.Context) error {
	if !q.conn.IsConnected() {
		return fmt.Errorf("nats connection is %s", q.conn.Status())
	}
	if _, err := q.js.StreamInfo(q.stream, nats.Context(ctx)); err != nil {
		return fmt.Errorf("stream unreachable: %w", err)
	}
	return nil
}

// Name returns the queue's stream name, for introspection endpoints.
func (q *Queue) Name() string {
	return q.stream
}
