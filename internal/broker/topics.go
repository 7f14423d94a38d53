package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/archiflow-dev/archiflow/internal/bus"
)

// inbox is an unbounded FIFO feeding one topic's delivery loop. A slow
// subscriber only grows its own topic's backlog; publishers never block.
type inbox struct {
	mu      sync.Mutex
	items   []*bus.Message
	notify  chan struct{}
	closed  bool
	started bool
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (ib *inbox) put(msg *bus.Message) {
	ib.mu.Lock()
	if ib.closed {
		ib.mu.Unlock()
		return
	}
	ib.items = append(ib.items, msg)
	ib.mu.Unlock()
	ib.wake()
}

func (ib *inbox) wake() {
	select {
	case ib.notify <- struct{}{}:
	default:
	}
}

func (ib *inbox) close() {
	ib.mu.Lock()
	ib.closed = true
	ib.mu.Unlock()
	ib.wake()
}

// get blocks until a message arrives, the inbox closes, or stop fires.
func (ib *inbox) get(stop <-chan struct{}) (*bus.Message, bool) {
	for {
		ib.mu.Lock()
		if len(ib.items) > 0 {
			msg := ib.items[0]
			ib.items = ib.items[1:]
			ib.mu.Unlock()
			return msg, true
		}
		closed := ib.closed
		ib.mu.Unlock()
		if closed {
			return nil, false
		}
		select {
		case <-ib.notify:
		case <-stop:
			return nil, false
		}
	}
}

// startDeliveryLocked launches the delivery goroutine for one topic.
// Caller must hold b.mu.
func (b *Broker) startDeliveryLocked(topic string) {
	ib, ok := b.topicInboxes[topic]
	if !ok || ib.started {
		return
	}
	ib.started = true
	stop := b.stopCh
	b.wg.Add(1)
	b.taskCount++
	b.metrics.SetActiveThreads(b.taskCount)
	go func() {
		defer b.wg.Done()
		defer b.trackTask(-1)
		b.deliveryLoop(topic, ib, stop)
	}()
}

// deliveryLoop dispatches each message to every subscriber in subscription
// order. Message N reaches all subscribers before message N+1; a callback
// error is counted and delivery continues with the next subscriber.
func (b *Broker) deliveryLoop(topic string, ib *inbox, stop <-chan struct{}) {
	for {
		msg, ok := ib.get(stop)
		if !ok {
			return
		}
		b.mu.RLock()
		subs := make([]*Subscription, len(b.subs[topic]))
		copy(subs, b.subs[topic])
		b.mu.RUnlock()

		ctx, span := b.tracer.Start(context.Background(), "topic.dispatch",
			trace.WithAttributes(
				attribute.String("topic", topic),
				attribute.String("message.id", msg.ID),
				attribute.Int("subscribers", len(subs)),
			))
		for _, sub := range subs {
			if err := invokeSubscriber(ctx, sub.fn, msg); err != nil {
				slog.Error("broker.delivery_failed", "topic", topic, "message_id", msg.ID, "error", err)
				b.metrics.IncTopicFailedDelivery(topic)
			}
		}
		span.End()
	}
}

// invokeSubscriber calls a subscriber, converting panics into errors so one
// bad callback cannot take the topic's delivery loop down.
func invokeSubscriber(ctx context.Context, fn SubscriberFunc, msg *bus.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return fn(ctx, msg)
}
