package bus

import (
	"errors"
	"fmt"
)

// Boundary errors shared by the broker and its storage backends.
var (
	ErrQueueExists      = errors.New("queue already exists")
	ErrQueueNotFound    = errors.New("queue not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrBrokerNotRunning = errors.New("broker is not running")
	ErrBrokerRunning    = errors.New("broker is already running")
	ErrInvalidCallback  = errors.New("callback must not be nil")
)

// QueueExistsError wraps ErrQueueExists with the queue name.
func QueueExistsError(name string) error {
	return fmt.Errorf("queue %q: %w", name, ErrQueueExists)
}

// QueueNotFoundError wraps ErrQueueNotFound with the queue name.
func QueueNotFoundError(name string) error {
	return fmt.Errorf("queue %q: %w", name, ErrQueueNotFound)
}

// MessageNotFoundError wraps ErrMessageNotFound with the message id.
func MessageNotFoundError(id string) error {
	return fmt.Errorf("message %q: %w", id, ErrMessageNotFound)
}
