// Package gateway bridges client sessions to backend executions: it
// allocates request identities, orders subscription before enqueue,
// relays bus messages back to the client and tears the channel down
// exactly once however the session ends.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fluxllm/flux/internal/bus"
	"github.com/fluxllm/flux/internal/metrics"
	"github.com/fluxllm/flux/internal/stream"
)

// ErrInvalidRequest rejects a request before any queue or bus
// interaction takes place.
var ErrInvalidRequest = errors.New("prompt is required")

// JobQueue is the queue surface the correlator needs.
type JobQueue interface {
	Push(ctx context.Context, job stream.Job) error
}

// Subscription is one open per-request channel binding.
type Subscription interface {
	C() <-chan stream.Message
	Close() error
}

// SubscribeFunc opens a subscription on a named channel.
type SubscribeFunc func(channel string) (Subscription, error)

// Correlator owns the request side of the pipeline. Sessions share one
// correlator; all its state is safe for concurrent use.
type Correlator struct {
	queue            JobQueue
	subscribe        SubscribeFunc
	channelPrefix    string
	defaultMaxTokens int
	agg              *metrics.Aggregator
}

func NewCorrelator(queue JobQueue, b *bus.Bus, channelPrefix string, defaultMaxTokens int, agg *metrics.Aggregator) *Correlator {
	return &Correlator{
		queue: queue,
		subscribe: func(channel string) (Subscription, error) {
			return b.Subscribe(channel)
		},
		channelPrefix:    channelPrefix,
		defaultMaxTokens: defaultMaxTokens,
		agg:              agg,
	}
}

// Begin allocates a fresh request identity, opens the channel
// subscription and then enqueues the job. The order is mandatory: a
// worker that pops the job immediately must find the subscriber
// already in place, or the first tokens would be lost.
func (c *Correlator) Begin(ctx context.Context, prompt string, maxTokens int) (*Relay, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrInvalidRequest
	}
	if maxTokens <= 0 {
		maxTokens = c.defaultMaxTokens
	}

	requestID := ulid.Make().String()
	channel := stream.ChannelFor(c.channelPrefix, requestID)

	sub, err := c.subscribe(channel)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream channel: %w", err)
	}

	job := stream.Job{RequestID: requestID, Prompt: prompt, MaxTokens: maxTokens}
	if err := c.queue.Push(ctx, job); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	slog.Info("Request accepted", "req_id", requestID, "max_tokens", maxTokens, "prompt_len", len(prompt))
	return &Relay{
		RequestID: requestID,
		sub:       sub,
		agg:       c.agg,
		started:   time.Now(),
	}, nil
}

// Submit enqueues a job without opening a channel, for callers that
// poll rather than stream.
func (c *Correlator) Submit(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrInvalidRequest
	}
	if maxTokens <= 0 {
		maxTokens = c.defaultMaxTokens
	}

	requestID := ulid.Make().String()
	job := stream.Job{RequestID: requestID, Prompt: prompt, MaxTokens: maxTokens}
	if err := c.queue.Push(ctx, job); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return requestID, nil
}

// Sink receives relayed messages; the WebSocket session implements it.
type Sink interface {
	Send(msg stream.Message) error
}

// Relay consumes one request's channel and forwards every message to
// the client verbatim. Teardown is idempotent: complete, error and
// disconnect may race and the channel is still released exactly once,
// with outcome metrics counted exactly once.
type Relay struct {
	RequestID string

	sub     Subscription
	agg     *metrics.Aggregator
	started time.Time

	closeOnce  sync.Once
	recordOnce sync.Once
}

// Run forwards messages until a terminal message arrives, the client
// context ends, or a transport write fails. It always releases the
// subscription before returning.
func (r *Relay) Run(ctx context.Context, sink Sink) error {
	defer r.Close()

	sawFirstToken := false
	for {
		select {
		case <-ctx.Done():
			r.record(metrics.OutcomeDisconnect)
			return ctx.Err()

		case msg := <-r.sub.C():
			if err := sink.Send(msg); err != nil {
				r.record(metrics.OutcomeDisconnect)
				return fmt.Errorf("transport write failed: %w", err)
			}

			switch msg.Type {
			case stream.TypeToken:
				if !sawFirstToken {
					sawFirstToken = true
					r.agg.ObserveTTFT(time.Since(r.started))
				}

			case stream.TypeComplete:
				r.agg.AddTokens(msg.TokenCount)
				r.agg.ObserveLatency(time.Since(r.started))
				if msg.Metrics != nil {
					r.agg.ObserveTokensPerSecond(msg.Metrics.TokensPerSecond)
				}
				r.record(metrics.OutcomeSuccess)
				return nil

			case stream.TypeError:
				r.record(metrics.OutcomeError)
				return nil
			}
		}
	}
}

// Close releases the channel subscription. Idempotent.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		if err := r.sub.Close(); err != nil {
			slog.Warn("Failed to release channel", "req_id", r.RequestID, "error", err)
		}
	})
}

func (r *Relay) record(outcome string) {
	r.recordOnce.Do(func() {
		r.agg.IncRequest(outcome)
	})
}
