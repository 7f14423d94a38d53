// Package storage provides the pluggable persistence backends for the
// message broker: an in-memory reference implementation, a crash-recoverable
// append-only log, and a directory-per-state file backend.
package storage

import (
	"context"
	"time"

	"github.com/archiflow-dev/archiflow/internal/bus"
)

// Backend is the persistence contract for broker queues. All methods must be
// safe for concurrent callers.
type Backend interface {
	// Initialize prepares the backend (idempotent). For durable backends
	// this replays existing state from disk.
	Initialize() error
	// Close releases resources (idempotent).
	Close() error

	// CreateQueue registers a queue. Returns bus.ErrQueueExists if present.
	CreateQueue(name string) error
	// DeleteQueue removes a queue and all pending, processing, and DLQ
	// records. Returns bus.ErrQueueNotFound if absent.
	DeleteQueue(name string) error

	// Enqueue appends a message in PENDING state.
	Enqueue(queue string, msg *bus.Message) error
	// Dequeue returns the oldest PENDING message, transitioned to
	// PROCESSING, or nil when none arrives within timeout. A zero timeout
	// returns immediately. Cancelling ctx aborts the wait.
	Dequeue(ctx context.Context, queue string, timeout time.Duration) (*bus.Message, error)
	// Ack marks a PROCESSING (or PENDING) message as deleted. Idempotent;
	// unknown ids are no-ops. DLQ messages are not deletable via Ack.
	Ack(queue, messageID string) error
	// Nack increments the retry count and returns the message to PENDING.
	// Unknown ids are no-ops.
	Nack(queue, messageID string) error

	// MoveToDLQ transitions a message to the dead letter queue.
	MoveToDLQ(queue string, msg *bus.Message) error
	// RequeueFromDLQ moves a DLQ message back to PENDING.
	RequeueFromDLQ(queue, messageID string) error
	// DeleteDLQMessage permanently removes a message from the DLQ.
	DeleteDLQMessage(queue, messageID string) error
	// DLQMessages lists all messages currently in the DLQ.
	DLQMessages(queue string) ([]*bus.Message, error)

	// QueueDepth returns the PENDING count.
	QueueDepth(queue string) (int, error)
	// DLQDepth returns the DLQ count.
	DLQDepth(queue string) (int, error)
}

// Compactor is implemented by backends whose storage benefits from periodic
// rewriting (the AOL backend). The broker's janitor feeds on it.
type Compactor interface {
	Compact(queue string) error
	Queues() []string
}

// pollInterval is the granularity of blocking dequeues.
const pollInterval = 100 * time.Millisecond
