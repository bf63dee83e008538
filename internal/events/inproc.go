package events

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// subscriberBuffer is the per-subscriber queue depth. Publish drops the
// event for a subscriber whose queue is full rather than block.
const subscriberBuffer = 256

// InProcBus is an in-process Bus. Each subscriber owns a buffered queue
// drained by a dedicated goroutine, so one slow or failing subscriber never
// affects the publisher or its siblings.
type InProcBus struct {
	mu     sync.RWMutex
	subs   map[string][]*inprocSub
	closed bool

	errCount atomic.Uint64
	dropped  atomic.Uint64
	wg       sync.WaitGroup
	logger   *zap.Logger
}

type inprocSub struct {
	name    string
	handler Handler
	queue   chan Event
}

// NewInProcBus creates an in-process bus.
func NewInProcBus(logger *zap.Logger) *InProcBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InProcBus{
		subs:   make(map[string][]*inprocSub),
		logger: logger,
	}
}

// Subscribe registers a handler and starts its delivery goroutine.
func (b *InProcBus) Subscribe(topic, name string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	sub := &inprocSub{
		name:    name,
		handler: h,
		queue:   make(chan Event, subscriberBuffer),
	}
	b.subs[topic] = append(b.subs[topic], sub)

	b.wg.Add(1)
	go b.deliver(sub)

	b.logger.Debug("subscribed",
		zap.String("topic", topic),
		zap.String("subscriber", name),
	)
	return nil
}

// deliver drains one subscriber queue. Handler panics are contained so a
// broken subscriber cannot take down the process.
func (b *InProcBus) deliver(sub *inprocSub) {
	defer b.wg.Done()
	for evt := range sub.queue {
		b.invoke(sub, evt)
	}
}

func (b *InProcBus) invoke(sub *inprocSub, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.errCount.Add(1)
			b.logger.Error("subscriber panicked",
				zap.String("topic", evt.Topic),
				zap.String("subscriber", sub.name),
				zap.Any("panic", r),
			)
		}
	}()

	if err := sub.handler(context.Background(), evt); err != nil {
		b.errCount.Add(1)
		b.logger.Error("subscriber failed",
			zap.String("topic", evt.Topic),
			zap.String("subscriber", sub.name),
			zap.Error(err),
		)
	}
}

// Publish enqueues the event for every subscriber of its topic. A full
// subscriber queue drops the event for that subscriber only.
func (b *InProcBus) Publish(ctx context.Context, evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs[evt.Topic] {
		select {
		case sub.queue <- evt:
		default:
			b.dropped.Add(1)
			b.logger.Warn("subscriber queue full, dropping event",
				zap.String("topic", evt.Topic),
				zap.String("subscriber", sub.name),
			)
		}
	}
}

// ErrorCount returns the number of handler failures observed so far.
func (b *InProcBus) ErrorCount() uint64 {
	return b.errCount.Load()
}

// DroppedCount returns the number of events dropped on full queues.
func (b *InProcBus) DroppedCount() uint64 {
	return b.dropped.Load()
}

// Close stops accepting publishes and drains subscriber queues.
func (b *InProcBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.queue)
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

var _ Bus = (*InProcBus)(nil)
