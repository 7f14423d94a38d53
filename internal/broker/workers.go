package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archiflow-dev/archiflow/internal/bus"
)

// dequeueTimeout is the per-iteration blocking window of a worker loop.
// Short enough that Stop is observed promptly.
const dequeueTimeout = 100 * time.Millisecond

// startWorkersLocked launches the worker pool for one queue.
// Caller must hold b.mu.
func (b *Broker) startWorkersLocked(queue string) {
	fn := b.workerFuncs[queue]
	cfg := b.queueConfigs[queue]
	n := b.workerCounts[queue]
	stop := b.stopCh
	b.workersUp[queue] = true
	for i := 0; i < n; i++ {
		b.wg.Add(1)
		b.taskCount++
		go func(workerID int) {
			defer b.wg.Done()
			defer b.trackTask(-1)
			b.workerLoop(queue, workerID, cfg, fn, stop)
		}(i)
	}
	b.metrics.SetActiveThreads(b.taskCount)
	b.metrics.SetWorkerCount(queue, n)
	slog.Info("broker.workers_started", "queue", queue, "count", n)
}

// workerLoop polls storage and runs the registered callback. A callback
// error nacks the message back to PENDING until retries are exhausted, then
// routes to the DLQ (or drops when the queue has none).
func (b *Broker) workerLoop(queue string, workerID int, cfg bus.QueueConfig, fn WorkerFunc, stop <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		msg, err := b.storage.Dequeue(ctx, queue, dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			// Storage errors never kill the worker; log and keep polling.
			slog.Error("broker.dequeue_failed", "queue", queue, "worker", workerID, "error", err)
			select {
			case <-stop:
				return
			case <-time.After(dequeueTimeout):
			}
			continue
		}
		if msg == nil {
			continue
		}

		if depth, err := b.storage.QueueDepth(queue); err == nil {
			b.metrics.SetQueueDepth(queue, depth)
		}
		b.processMessage(ctx, queue, cfg, fn, msg)
	}
}

func (b *Broker) processMessage(ctx context.Context, queue string, cfg bus.QueueConfig, fn WorkerFunc, msg *bus.Message) {
	spanCtx, span := b.tracer.Start(ctx, "queue.process",
		trace.WithAttributes(
			attribute.String("queue", queue),
			attribute.String("message.id", msg.ID),
			attribute.Int("retry_count", msg.RetryCount),
		))
	defer span.End()

	start := time.Now()
	err := invokeWorker(spanCtx, fn, msg.Payload)
	b.metrics.RecordProcessingTime(queue, float64(time.Since(start).Microseconds())/1000)

	if err == nil {
		span.SetStatus(codes.Ok, "")
		if ackErr := b.storage.Ack(queue, msg.ID); ackErr != nil {
			slog.Error("broker.ack_failed", "queue", queue, "message_id", msg.ID, "error", ackErr)
		}
		b.metrics.IncQueueProcessed(queue)
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	slog.Error("broker.worker_failed", "queue", queue, "message_id", msg.ID, "error", err)
	msg.RetryCount++
	msg.Error = err.Error()

	if msg.RetryCount <= msg.MaxRetries {
		if nackErr := b.storage.Nack(queue, msg.ID); nackErr != nil {
			slog.Error("broker.nack_failed", "queue", queue, "message_id", msg.ID, "error", nackErr)
		}
		return
	}

	b.metrics.IncQueueFailed(queue)
	if cfg.DLQEnabled {
		if dlqErr := b.storage.MoveToDLQ(queue, msg); dlqErr != nil {
			slog.Error("broker.dlq_move_failed", "queue", queue, "message_id", msg.ID, "error", dlqErr)
		}
		if ackErr := b.storage.Ack(queue, msg.ID); ackErr != nil {
			slog.Error("broker.ack_failed", "queue", queue, "message_id", msg.ID, "error", ackErr)
		}
		b.metrics.IncQueueDLQ(queue)
		return
	}
	// No DLQ configured: drop.
	if ackErr := b.storage.Ack(queue, msg.ID); ackErr != nil {
		slog.Error("broker.ack_failed", "queue", queue, "message_id", msg.ID, "error", ackErr)
	}
}

// invokeWorker calls a worker callback, converting panics into errors so
// they flow through the normal retry machinery.
func invokeWorker(ctx context.Context, fn WorkerFunc, payload bus.Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return fn(ctx, payload)
}
