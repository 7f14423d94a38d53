// Package broker implements the message broker: fan-out pub/sub topics and
// work-distribution task queues with at-least-once delivery, backed by a
// pluggable storage backend.
package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/archiflow-dev/archiflow/internal/bus"
	"github.com/archiflow-dev/archiflow/internal/bus/storage"
)

// SubscriberFunc handles one published message. A returned error is counted
// as a failed delivery; it never stops the topic's delivery loop.
type SubscriberFunc func(ctx context.Context, msg *bus.Message) error

// WorkerFunc processes one task payload. A returned error makes the message
// retry-eligible; exhausted retries route to the DLQ.
type WorkerFunc func(ctx context.Context, payload bus.Payload) error

// Subscription identifies one registered subscriber. Go functions are not
// comparable, so unsubscription goes through the handle.
type Subscription struct {
	topic string
	fn    SubscriberFunc
}

// Topic returns the topic this subscription is attached to.
func (s *Subscription) Topic() string { return s.topic }

// Broker dispatches pub/sub messages and manages worker pools per queue.
// It exclusively owns its storage backend and closes it on Stop.
type Broker struct {
	storage storage.Backend
	metrics *Collector
	tracer  trace.Tracer

	mu           sync.RWMutex
	running      bool
	stopCh       chan struct{}
	wg           sync.WaitGroup
	taskCount    int
	subs         map[string][]*Subscription
	topicInboxes map[string]*inbox
	queueConfigs map[string]bus.QueueConfig
	workerFuncs  map[string]WorkerFunc
	workerCounts map[string]int
	workersUp    map[string]bool
}

// Option customizes a Broker.
type Option func(*Broker)

// WithStorage sets the storage backend. Defaults to in-memory.
func WithStorage(backend storage.Backend) Option {
	return func(b *Broker) { b.storage = backend }
}

// New creates a broker and initializes its storage backend.
func New(opts ...Option) (*Broker, error) {
	b := &Broker{
		metrics:      NewCollector(),
		tracer:       otel.Tracer("github.com/archiflow-dev/archiflow/internal/broker"),
		subs:         make(map[string][]*Subscription),
		topicInboxes: make(map[string]*inbox),
		queueConfigs: make(map[string]bus.QueueConfig),
		workerFuncs:  make(map[string]WorkerFunc),
		workerCounts: make(map[string]int),
		workersUp:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.storage == nil {
		b.storage = storage.NewMemoryBackend()
	}
	if err := b.storage.Initialize(); err != nil {
		return nil, err
	}
	return b, nil
}

// Metrics collector access for stats endpoints.
func (b *Broker) Collector() *Collector { return b.metrics }

// Storage exposes the backend for admin tooling. The broker retains
// ownership; callers must not Close it.
func (b *Broker) Storage() storage.Backend { return b.storage }

// --- Pub/Sub ---

// Subscribe registers a callback for a topic and returns its handle.
func (b *Broker) Subscribe(topic string, fn SubscriberFunc) (*Subscription, error) {
	if topic == "" {
		return nil, bus.ErrInvalidCallback
	}
	if fn == nil {
		return nil, bus.ErrInvalidCallback
	}
	sub := &Subscription{topic: topic, fn: fn}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topicInboxes[topic]; !ok {
		b.topicInboxes[topic] = newInbox()
	}
	b.subs[topic] = append(b.subs[topic], sub)
	b.metrics.SetSubscriberCount(topic, len(b.subs[topic]))
	if b.running && !b.topicInboxes[topic].started {
		b.startDeliveryLocked(topic)
	}
	return sub, nil
}

// Unsubscribe removes a subscription. Removing the last subscriber of a
// topic shuts its delivery loop down.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.topic]
	for i, s := range list {
		if s == sub {
			b.subs[sub.topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	b.metrics.SetSubscriberCount(sub.topic, len(b.subs[sub.topic]))
	if len(b.subs[sub.topic]) == 0 {
		delete(b.subs, sub.topic)
		if ib, ok := b.topicInboxes[sub.topic]; ok {
			ib.close()
			delete(b.topicInboxes, sub.topic)
		}
	}
}

// Publish creates a message and hands it to the topic's delivery loop.
// Messages published while the broker is stopped are counted but not
// delivered.
func (b *Broker) Publish(topic string, payload bus.Payload, metadata map[string]any) *bus.Message {
	msg := bus.NewMessage(topic, payload, 0, metadata)
	b.metrics.IncTopicPublished(topic)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.running {
		if ib, ok := b.topicInboxes[topic]; ok {
			ib.put(msg)
		}
	}
	return msg
}

// Broadcast publishes the same payload to several topics.
func (b *Broker) Broadcast(topics []string, payload bus.Payload, metadata map[string]any) map[string]*bus.Message {
	out := make(map[string]*bus.Message, len(topics))
	for _, topic := range topics {
		out[topic] = b.Publish(topic, payload, metadata)
	}
	return out
}

// --- Task queues ---

// CreateQueue registers a task queue with the broker and its storage.
func (b *Broker) CreateQueue(name string, maxRetries int, dlqEnabled bool) error {
	if name == "" {
		return bus.ErrQueueNotFound
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queueConfigs[name]; ok {
		return bus.QueueExistsError(name)
	}
	// A durable backend may already hold this queue from a previous run;
	// registering the config reattaches it.
	if err := b.storage.CreateQueue(name); err != nil && !errors.Is(err, bus.ErrQueueExists) {
		return err
	}
	b.queueConfigs[name] = bus.QueueConfig{Name: name, MaxRetries: maxRetries, DLQEnabled: dlqEnabled}
	return nil
}

// Enqueue adds a task to a queue and returns the created message.
func (b *Broker) Enqueue(queue string, payload bus.Payload, metadata map[string]any) (*bus.Message, error) {
	b.mu.RLock()
	cfg, ok := b.queueConfigs[queue]
	b.mu.RUnlock()
	if !ok {
		return nil, bus.QueueNotFoundError(queue)
	}
	msg := bus.NewMessage(queue, payload, cfg.MaxRetries, metadata)
	if err := b.storage.Enqueue(queue, msg); err != nil {
		return nil, err
	}
	b.metrics.IncQueuePublished(queue)
	if depth, err := b.storage.QueueDepth(queue); err == nil {
		b.metrics.SetQueueDepth(queue, depth)
	}
	return msg, nil
}

// RegisterWorker attaches a callback and a pool size to a queue. If the
// broker is running the workers start immediately, otherwise at Start.
func (b *Broker) RegisterWorker(queue string, fn WorkerFunc, numWorkers int) error {
	if fn == nil {
		return bus.ErrInvalidCallback
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queueConfigs[queue]; !ok {
		return bus.QueueNotFoundError(queue)
	}
	b.workerFuncs[queue] = fn
	b.workerCounts[queue] = numWorkers
	if b.running && !b.workersUp[queue] {
		b.startWorkersLocked(queue)
	}
	return nil
}

// --- Lifecycle ---

// Start launches delivery loops and worker pools. Idempotent.
func (b *Broker) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	for topic := range b.subs {
		b.startDeliveryLocked(topic)
	}
	for queue := range b.workerFuncs {
		if !b.workersUp[queue] {
			b.startWorkersLocked(queue)
		}
	}
	slog.Info("broker.started", "topics", len(b.subs), "queues", len(b.queueConfigs))
}

// Stop signals every task, waits up to timeout for them to drain, and closes
// the storage backend. Idempotent; persisted queue state survives.
func (b *Broker) Stop(timeout time.Duration) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	for _, ib := range b.topicInboxes {
		ib.started = false
		ib.wake()
	}
	b.workersUp = make(map[string]bool)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("broker.stop_timeout", "timeout", timeout)
	}
	b.metrics.SetActiveThreads(0)
	if err := b.storage.Close(); err != nil {
		slog.Error("broker.storage_close_failed", "error", err)
	}
	slog.Info("broker.stopped")
}

// Running reports the lifecycle state.
func (b *Broker) Running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

func (b *Broker) trackTask(delta int) {
	b.mu.Lock()
	b.taskCount += delta
	count := b.taskCount
	b.mu.Unlock()
	b.metrics.SetActiveThreads(count)
}
