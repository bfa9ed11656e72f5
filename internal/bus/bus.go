// Package bus implements the per-request stream bus on core NATS
// subjects. Publishing is fire-and-forget with no replay: a message
// published before the subscriber exists is gone, which is why the
// correlator always subscribes before it enqueues the job.
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/fluxllm/flux/internal/stream"
)

// subscriptionBuffer bounds how many undelivered messages a slow
// reader can accumulate before the bus starts dropping for it.
const subscriptionBuffer = 1024

type Bus struct {
	conn *nats.Conn
}

func New(conn *nats.Conn) *Bus {
	return &Bus{conn: conn}
}

// Publish sends one message on a channel. Fire-and-forget: no
// acknowledgment and no backpressure signal to the caller.
func (b *Bus) Publish(channel string, msg stream.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal stream message: %w", err)
	}
	if err := b.conn.Publish(channel, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a subscription on a channel. Must complete before
// the corresponding job is enqueued or early messages are lost.
func (b *Bus) Subscribe(channel string) (*Subscription, error) {
	s := &Subscription{
		channel: channel,
		ch:      make(chan stream.Message, subscriptionBuffer),
	}

	sub, err := b.conn.Subscribe(channel, func(msg *nats.Msg) {
		var m stream.Message
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			// A payload we cannot decode is fatal for this request but
			// must not take down the subscriber: surface it as an
			// error message so the relay terminates cleanly.
			slog.Error("Malformed bus payload", "channel", channel, "error", err)
			m = stream.NewError("", fmt.Sprintf("malformed stream payload: %v", err))
		}
		select {
		case s.ch <- m:
		default:
			slog.Warn("Subscriber buffer full, dropping message", "channel", channel, "type", m.Type)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	s.sub = sub
	return s, nil
}

// Ping verifies connectivity to the bus backend.
func (b *Bus) Ping() error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("nats connection is %s", b.conn.Status())
	}
	return nil
}

// Subscription is one ephemeral per-request channel binding. Closing
// is idempotent and safe from multiple goroutines.
type Subscription struct {
	channel string
	sub     *nats.Subscription
	ch      chan stream.Message
	once    sync.Once
}

// C returns the delivery channel. It is never closed; readers stop on
// a terminal message or their own context, not on channel close.
func (s *Subscription) C() <-chan stream.Message {
	return s.ch
}

// Channel returns the channel name this subscription is bound to.
func (s *Subscription) Channel() string {
	return s.channel
}

// Close tears down the subscription. Safe to call multiple times;
// races between complete-observed and client-disconnect both land
// here.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		if s.sub != nil {
			err = s.sub.Unsubscribe()
		}
	})
	return err
}
