package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBus is a Bus backed by a NATS connection, for deployments where
// writers and ingestion handlers live in separate processes. NATS gives the
// same delivery contract as the in-process bus: publish does not block on
// subscribers, and per-subscription delivery is FIFO.
type NATSBus struct {
	conn     *nats.Conn
	logger   *zap.Logger
	errCount atomic.Uint64

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSBus connects to the NATS server at url.
func NewNATSBus(url string, logger *zap.Logger) (*NATSBus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, err
	}

	return &NATSBus{conn: conn, logger: logger}, nil
}

// Publish marshals the payload and publishes it on the topic subject.
// Marshal or transport failures are logged; the publisher contract is
// fire-and-forget.
func (b *NATSBus) Publish(ctx context.Context, evt Event) {
	data, err := json.Marshal(evt.Payload)
	if err != nil {
		b.errCount.Add(1)
		b.logger.Error("marshaling event payload",
			zap.String("topic", evt.Topic),
			zap.Error(err),
		)
		return
	}

	if err := b.conn.Publish(evt.Topic, data); err != nil {
		b.errCount.Add(1)
		b.logger.Error("publishing event",
			zap.String("topic", evt.Topic),
			zap.Error(err),
		)
	}
}

// Subscribe registers a handler on the topic subject.
func (b *NATSBus) Subscribe(topic, name string, h Handler) error {
	sub, err := b.conn.Subscribe(topic, func(msg *nats.Msg) {
		var payload map[string]any
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			b.errCount.Add(1)
			b.logger.Error("decoding event payload",
				zap.String("topic", topic),
				zap.String("subscriber", name),
				zap.Error(err),
			)
			return
		}

		if err := h(context.Background(), Event{Topic: topic, Payload: payload}); err != nil {
			b.errCount.Add(1)
			b.logger.Error("subscriber failed",
				zap.String("topic", topic),
				zap.String("subscriber", name),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// ErrorCount returns the number of handler failures observed so far.
func (b *NATSBus) ErrorCount() uint64 {
	return b.errCount.Load()
}

// Close drains subscriptions and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

var _ Bus = (*NATSBus)(nil)
