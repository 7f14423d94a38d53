package storage

import (
	"context"
	"sync"
	"time"

	"github.com/archiflow-dev/archiflow/internal/bus"
)

// MemoryBackend keeps all queue state in process memory. It is the reference
// oracle for the durable backends and the default for tests.
type MemoryBackend struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
}

type memoryQueue struct {
	pending    []*bus.Message
	processing map[string]*bus.Message
	dlq        []*bus.Message
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{queues: make(map[string]*memoryQueue)}
}

func (b *MemoryBackend) Initialize() error { return nil }
func (b *MemoryBackend) Close() error      { return nil }

func (b *MemoryBackend) CreateQueue(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[name]; ok {
		return bus.QueueExistsError(name)
	}
	b.queues[name] = &memoryQueue{processing: make(map[string]*bus.Message)}
	return nil
}

func (b *MemoryBackend) DeleteQueue(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[name]; !ok {
		return bus.QueueNotFoundError(name)
	}
	delete(b.queues, name)
	return nil
}

func (b *MemoryBackend) Enqueue(queue string, msg *bus.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return bus.QueueNotFoundError(queue)
	}
	q.pending = append(q.pending, msg)
	return nil
}

func (b *MemoryBackend) Dequeue(ctx context.Context, queue string, timeout time.Duration) (*bus.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		msg, err := b.tryDequeue(queue)
		if err != nil || msg != nil {
			return msg, err
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (b *MemoryBackend) tryDequeue(queue string) (*bus.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return nil, bus.QueueNotFoundError(queue)
	}
	if len(q.pending) == 0 {
		return nil, nil
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	q.processing[msg.ID] = msg
	// The caller gets a copy, so its edits do not reach the stored message.
	out := *msg
	return &out, nil
}

func (b *MemoryBackend) Ack(queue, messageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return bus.QueueNotFoundError(queue)
	}
	if _, ok := q.processing[messageID]; ok {
		delete(q.processing, messageID)
		return nil
	}
	// Out-of-band cleanup of a message never dequeued.
	for i, m := range q.pending {
		if m.ID == messageID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return nil
		}
	}
	return nil
}

func (b *MemoryBackend) Nack(queue, messageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return bus.QueueNotFoundError(queue)
	}
	if msg, ok := q.processing[messageID]; ok {
		delete(q.processing, messageID)
		msg.RetryCount++
		q.pending = append(q.pending, msg)
	}
	return nil
}

func (b *MemoryBackend) MoveToDLQ(queue string, msg *bus.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return bus.QueueNotFoundError(queue)
	}
	q.dlq = append(q.dlq, msg)
	return nil
}

func (b *MemoryBackend) RequeueFromDLQ(queue, messageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return bus.QueueNotFoundError(queue)
	}
	for i, m := range q.dlq {
		if m.ID == messageID {
			q.dlq = append(q.dlq[:i], q.dlq[i+1:]...)
			m.RetryCount = 0
			m.Error = ""
			q.pending = append(q.pending, m)
			return nil
		}
	}
	return bus.MessageNotFoundError(messageID)
}

func (b *MemoryBackend) DeleteDLQMessage(queue, messageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return bus.QueueNotFoundError(queue)
	}
	for i, m := range q.dlq {
		if m.ID == messageID {
			q.dlq = append(q.dlq[:i], q.dlq[i+1:]...)
			return nil
		}
	}
	return bus.MessageNotFoundError(messageID)
}

func (b *MemoryBackend) DLQMessages(queue string) ([]*bus.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return nil, bus.QueueNotFoundError(queue)
	}
	out := make([]*bus.Message, len(q.dlq))
	copy(out, q.dlq)
	return out, nil
}

func (b *MemoryBackend) QueueDepth(queue string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return 0, bus.QueueNotFoundError(queue)
	}
	return len(q.pending), nil
}

func (b *MemoryBackend) DLQDepth(queue string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return 0, bus.QueueNotFoundError(queue)
	}
	return len(q.dlq), nil
}
