// Package events provides the pub/sub bus that decouples writers from the
// ingestion handlers.
//
// Publish is fire-and-forget: the publisher never blocks on subscribers and
// never observes their failures. Delivery to a single subscriber is FIFO per
// topic; no cross-topic ordering is promised. Two backends exist: the
// in-process bus (default) and a NATS-backed bus for multi-process
// deployments.
package events

import (
	"context"
	"encoding/json"
	"errors"
)

// Well-known topics.
const (
	// TopicMemoryLogStored is published after a memory log insert.
	TopicMemoryLogStored = "memory_log.stored"

	// TopicMentalNoteStored is published after a mental note insert.
	TopicMentalNoteStored = "mental_note.stored"

	// TopicConversationStored is published after a conversation insert.
	TopicConversationStored = "conversation.stored"

	// Embedding lifecycle topics.
	TopicEmbeddingCacheHit       = "embedding.cache_hit"
	TopicEmbeddingGenerated      = "embedding.generated"
	TopicEmbeddingError          = "embedding.error"
	TopicEmbeddingBatchGenerated = "embedding.batch_generated"
	TopicEmbeddingHealthCheck    = "embedding.health_check"
)

// ErrBusClosed is returned when subscribing to a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// Event is a single published message.
type Event struct {
	// Topic is the event topic name.
	Topic string `json:"topic"`

	// Payload is the event body. For cross-process backends it must be
	// JSON-serializable.
	Payload any `json:"payload"`
}

// Handler processes one delivered event. A returned error is logged and
// counted by the bus; it never reaches the publisher.
type Handler func(ctx context.Context, evt Event) error

// Bus is the pub/sub interface.
type Bus interface {
	// Publish dispatches the event to all current subscribers of its topic
	// without blocking on any of them.
	Publish(ctx context.Context, evt Event)

	// Subscribe registers a named handler for a topic. The name appears in
	// error logs. Events published after Subscribe returns are delivered to
	// the handler in FIFO order.
	Subscribe(topic, name string, h Handler) error

	// ErrorCount returns the number of handler failures observed so far.
	ErrorCount() uint64

	// Close stops delivery and releases resources. Pending events already
	// dispatched to subscriber queues are drained first.
	Close() error
}

// DecodePayload converts an event payload into a typed struct. The in-process
// bus delivers the original value; NATS delivers decoded JSON. A JSON
// round-trip handles both uniformly.
func DecodePayload(evt Event, out any) error {
	raw, err := json.Marshal(evt.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
