package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archiflow-dev/archiflow/internal/bus"
)

func newTestMemory(t *testing.T) *MemoryBackend {
	t.Helper()
	b := NewMemoryBackend()
	require.NoError(t, b.Initialize())
	require.NoError(t, b.CreateQueue("q"))
	return b
}

func TestMemoryCreateQueueDuplicate(t *testing.T) {
	b := newTestMemory(t)
	assert.ErrorIs(t, b.CreateQueue("q"), bus.ErrQueueExists)
}

func TestMemoryDeleteQueueMissing(t *testing.T) {
	b := NewMemoryBackend()
	assert.ErrorIs(t, b.DeleteQueue("nope"), bus.ErrQueueNotFound)
}

func TestMemoryFIFO(t *testing.T) {
	b := newTestMemory(t)
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, b.Enqueue("q", bus.NewMessage("q", bus.StringPayload(p), 3, nil)))
	}
	for _, want := range []string{"a", "b", "c"} {
		msg, err := b.Dequeue(context.Background(), "q", 0)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, want, msg.Payload.String())
	}
	msg, err := b.Dequeue(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestMemoryDequeueTimeout(t *testing.T) {
	b := newTestMemory(t)
	start := time.Now()
	msg, err := b.Dequeue(context.Background(), "q", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMemoryAckNack(t *testing.T) {
	b := newTestMemory(t)
	msg := bus.NewMessage("q", bus.StringPayload("task"), 3, nil)
	require.NoError(t, b.Enqueue("q", msg))

	got, err := b.Dequeue(context.Background(), "q", 0)
	require.NoError(t, err)
	require.NotNil(t, got)

	depth, err := b.QueueDepth("q")
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	// Nack returns it to pending.
	require.NoError(t, b.Nack("q", got.ID))
	depth, _ = b.QueueDepth("q")
	assert.Equal(t, 1, depth)

	got, err = b.Dequeue(context.Background(), "q", 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NoError(t, b.Ack("q", got.ID))

	depth, _ = b.QueueDepth("q")
	assert.Equal(t, 0, depth)

	// Ack is idempotent for unknown ids.
	assert.NoError(t, b.Ack("q", "missing"))
}

func TestMemoryDLQLifecycle(t *testing.T) {
	b := newTestMemory(t)
	msg := bus.NewMessage("q", bus.StringPayload("poison"), 1, nil)
	require.NoError(t, b.Enqueue("q", msg))

	got, err := b.Dequeue(context.Background(), "q", 0)
	require.NoError(t, err)
	require.NoError(t, b.MoveToDLQ("q", got))
	require.NoError(t, b.Ack("q", got.ID))

	dlq, err := b.DLQMessages("q")
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, msg.ID, dlq[0].ID)

	depth, _ := b.DLQDepth("q")
	assert.Equal(t, 1, depth)

	// Requeue resets retry state and returns to pending.
	dlq[0].RetryCount = 2
	require.NoError(t, b.RequeueFromDLQ("q", msg.ID))
	depth, _ = b.DLQDepth("q")
	assert.Equal(t, 0, depth)
	pending, _ := b.QueueDepth("q")
	assert.Equal(t, 1, pending)

	got, err = b.Dequeue(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RetryCount)
	assert.Empty(t, got.Error)
}

func TestMemoryDeleteDLQMessage(t *testing.T) {
	b := newTestMemory(t)
	msg := bus.NewMessage("q", bus.StringPayload("x"), 0, nil)
	require.NoError(t, b.Enqueue("q", msg))
	got, _ := b.Dequeue(context.Background(), "q", 0)
	require.NoError(t, b.MoveToDLQ("q", got))

	require.NoError(t, b.DeleteDLQMessage("q", msg.ID))
	depth, _ := b.DLQDepth("q")
	assert.Equal(t, 0, depth)

	assert.ErrorIs(t, b.DeleteDLQMessage("q", msg.ID), bus.ErrMessageNotFound)
}
