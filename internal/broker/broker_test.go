package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archiflow-dev/archiflow/internal/bus"
	"github.com/archiflow-dev/archiflow/internal/bus/storage"
)

func newTestBroker(t *testing.T, opts ...Option) *Broker {
	t.Helper()
	b, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { b.Stop(2 * time.Second) })
	return b
}

func TestQueueFIFORoundTrip(t *testing.T) {
	b := newTestBroker(t)
	require.NoError(t, b.CreateQueue("q", 3, true))

	var mu sync.Mutex
	var got []string
	require.NoError(t, b.RegisterWorker("q", func(_ context.Context, payload bus.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, payload.String())
		return nil
	}, 1))

	for _, p := range []string{"a", "b", "c"} {
		_, err := b.Enqueue("q", bus.StringPayload(p), nil)
		require.NoError(t, err)
	}
	b.Start()

	require.Eventually(t, func() bool {
		return b.QueueStats("q").Processed == 3
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestRetryToDLQ(t *testing.T) {
	b := newTestBroker(t)
	require.NoError(t, b.CreateQueue("q", 2, true))

	var mu sync.Mutex
	invocations := 0
	require.NoError(t, b.RegisterWorker("q", func(_ context.Context, _ bus.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		invocations++
		return errors.New("boom")
	}, 1))

	_, err := b.Enqueue("q", bus.MustJSONPayload(map[string]int{"k": 1}), nil)
	require.NoError(t, err)
	b.Start()

	require.Eventually(t, func() bool {
		return b.QueueStats("q").DLQCount == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 3, invocations, "max_retries=2 means exactly 3 attempts")
	mu.Unlock()

	dlq, err := b.DLQMessages("q")
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	var payload map[string]int
	require.NoError(t, dlq[0].Payload.Decode(&payload))
	assert.Equal(t, map[string]int{"k": 1}, payload)
	assert.Contains(t, dlq[0].Error, "boom")
	assert.Equal(t, 1, b.QueueStats("q").Failed)
}

func TestRetriesExhaustedWithoutDLQDrops(t *testing.T) {
	b := newTestBroker(t)
	require.NoError(t, b.CreateQueue("q", 0, false))
	require.NoError(t, b.RegisterWorker("q", func(_ context.Context, _ bus.Payload) error {
		return errors.New("always fails")
	}, 1))
	_, err := b.Enqueue("q", bus.StringPayload("dropme"), nil)
	require.NoError(t, err)
	b.Start()

	require.Eventually(t, func() bool {
		return b.QueueStats("q").Failed == 1
	}, 5*time.Second, 10*time.Millisecond)

	dlq, err := b.DLQMessages("q")
	require.NoError(t, err)
	assert.Empty(t, dlq)
}

func TestPubSubFanOutOrder(t *testing.T) {
	b := newTestBroker(t)

	type delivery struct {
		subscriber int
		payload    string
	}
	var mu sync.Mutex
	var log []delivery

	for i := 0; i < 3; i++ {
		idx := i
		_, err := b.Subscribe("events", func(_ context.Context, msg *bus.Message) error {
			mu.Lock()
			defer mu.Unlock()
			log = append(log, delivery{subscriber: idx, payload: msg.Payload.String()})
			return nil
		})
		require.NoError(t, err)
	}
	b.Start()

	for _, p := range []string{"m1", "m2", "m3"} {
		b.Publish("events", bus.StringPayload(p), nil)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(log) == 9
	}, 5*time.Second, 10*time.Millisecond)

	// Per-topic FIFO: message N reaches all subscribers, in subscription
	// order, before message N+1 is dispatched.
	mu.Lock()
	defer mu.Unlock()
	want := []delivery{
		{0, "m1"}, {1, "m1"}, {2, "m1"},
		{0, "m2"}, {1, "m2"}, {2, "m2"},
		{0, "m3"}, {1, "m3"}, {2, "m3"},
	}
	assert.Equal(t, want, log)
}

func TestSubscriberErrorCountsFailedDelivery(t *testing.T) {
	b := newTestBroker(t)
	var delivered sync.WaitGroup
	delivered.Add(2)

	_, err := b.Subscribe("t", func(_ context.Context, _ *bus.Message) error {
		defer delivered.Done()
		return errors.New("bad subscriber")
	})
	require.NoError(t, err)
	_, err = b.Subscribe("t", func(_ context.Context, _ *bus.Message) error {
		defer delivered.Done()
		return nil
	})
	require.NoError(t, err)

	b.Start()
	b.Publish("t", bus.StringPayload("x"), nil)
	delivered.Wait()

	require.Eventually(t, func() bool {
		return b.TopicStats("t").FailedDeliveries == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, b.TopicStats("t").Published)
	assert.Equal(t, 2, b.TopicStats("t").SubscriberCount)
}

func TestSubscribeValidation(t *testing.T) {
	b := newTestBroker(t)
	_, err := b.Subscribe("t", nil)
	assert.ErrorIs(t, err, bus.ErrInvalidCallback)
	_, err = b.Subscribe("", func(_ context.Context, _ *bus.Message) error { return nil })
	assert.Error(t, err)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBroker(t)
	var mu sync.Mutex
	count := 0
	sub, err := b.Subscribe("t", func(_ context.Context, _ *bus.Message) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	})
	require.NoError(t, err)
	b.Start()

	b.Publish("t", bus.StringPayload("one"), nil)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, 2*time.Second, 10*time.Millisecond)

	b.Unsubscribe(sub)
	b.Publish("t", bus.StringPayload("two"), nil)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestBroadcast(t *testing.T) {
	b := newTestBroker(t)
	results := b.Broadcast([]string{"a", "b"}, bus.StringPayload("hi"), nil)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results["a"].Topic)
	assert.Equal(t, "b", results["b"].Topic)
	assert.Equal(t, 1, b.TopicStats("a").Published)
	assert.Equal(t, 1, b.TopicStats("b").Published)
}

func TestLifecycleIdempotent(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	b.Start()
	b.Start()
	assert.True(t, b.Running())
	b.Stop(time.Second)
	b.Stop(time.Second)
	assert.False(t, b.Running())
}

func TestCreateQueueDuplicate(t *testing.T) {
	b := newTestBroker(t)
	require.NoError(t, b.CreateQueue("q", 3, true))
	assert.ErrorIs(t, b.CreateQueue("q", 3, true), bus.ErrQueueExists)
}

func TestEnqueueUnknownQueue(t *testing.T) {
	b := newTestBroker(t)
	_, err := b.Enqueue("nope", bus.StringPayload("x"), nil)
	assert.ErrorIs(t, err, bus.ErrQueueNotFound)
}

func TestRegisterWorkerValidation(t *testing.T) {
	b := newTestBroker(t)
	require.NoError(t, b.CreateQueue("q", 3, true))
	assert.ErrorIs(t, b.RegisterWorker("q", nil, 1), bus.ErrInvalidCallback)
	assert.ErrorIs(t, b.RegisterWorker("missing", func(_ context.Context, _ bus.Payload) error { return nil }, 1), bus.ErrQueueNotFound)
}

func TestPurgeQueue(t *testing.T) {
	b := newTestBroker(t)
	require.NoError(t, b.CreateQueue("q", 3, true))
	for i := 0; i < 3; i++ {
		_, err := b.Enqueue("q", bus.StringPayload("x"), nil)
		require.NoError(t, err)
	}
	count, err := b.PurgeQueue("q")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	depth, err := b.Storage().QueueDepth("q")
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
	assert.Equal(t, 0, b.QueueStats("q").Depth)
}

func TestListQueuesAndTopics(t *testing.T) {
	b := newTestBroker(t)
	require.NoError(t, b.CreateQueue("jobs", 3, true))
	_, err := b.Subscribe("subscribed", func(_ context.Context, _ *bus.Message) error { return nil })
	require.NoError(t, err)
	// A topic with no subscribers still appears via publish metrics.
	b.Publish("metric-only", bus.StringPayload("x"), nil)

	assert.Equal(t, []string{"jobs"}, b.ListQueues())
	assert.Equal(t, []string{"metric-only", "subscribed"}, b.ListTopics())
}

func TestQueueInfo(t *testing.T) {
	b := newTestBroker(t)
	require.NoError(t, b.CreateQueue("q", 5, false))
	info, err := b.QueueInfo("q")
	require.NoError(t, err)
	assert.Equal(t, "q", info.Config.Name)
	assert.Equal(t, 5, info.Config.MaxRetries)
	assert.False(t, info.Config.DLQEnabled)

	_, err = b.QueueInfo("missing")
	assert.ErrorIs(t, err, bus.ErrQueueNotFound)
}

func TestDLQAdminRequeue(t *testing.T) {
	b := newTestBroker(t)
	require.NoError(t, b.CreateQueue("q", 0, true))

	var mu sync.Mutex
	fail := true
	processed := 0
	require.NoError(t, b.RegisterWorker("q", func(_ context.Context, _ bus.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return errors.New("first life fails")
		}
		processed++
		return nil
	}, 1))

	msg, err := b.Enqueue("q", bus.StringPayload("second chance"), nil)
	require.NoError(t, err)
	b.Start()

	require.Eventually(t, func() bool {
		return b.QueueStats("q").DLQCount == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	fail = false
	mu.Unlock()

	require.NoError(t, b.RequeueFromDLQ("q", msg.ID))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return processed == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, b.QueueStats("q").DLQCount)
}

func TestWorkersStartWhenRegisteredAfterStart(t *testing.T) {
	b := newTestBroker(t)
	require.NoError(t, b.CreateQueue("q", 3, true))
	b.Start()

	var mu sync.Mutex
	processed := 0
	require.NoError(t, b.RegisterWorker("q", func(_ context.Context, _ bus.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		processed++
		return nil
	}, 2))

	_, err := b.Enqueue("q", bus.StringPayload("late"), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return processed == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, b.QueueStats("q").WorkerCount)
}

func TestAOLBackedBrokerSurvivesRestart(t *testing.T) {
	root := t.TempDir()

	a, err := New(WithStorage(storage.NewAOLBackend(root)))
	require.NoError(t, err)
	require.NoError(t, a.CreateQueue("q", 3, true))
	for _, p := range []string{"m1", "m2", "m3"} {
		_, err := a.Enqueue("q", bus.StringPayload(p), nil)
		require.NoError(t, err)
	}
	a.Start()
	a.Stop(2 * time.Second)

	b, err := New(WithStorage(storage.NewAOLBackend(root)))
	require.NoError(t, err)
	defer b.Stop(2 * time.Second)
	require.NoError(t, b.CreateQueue("q", 3, true))

	depth, err := b.Storage().QueueDepth("q")
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	msg, err := b.Storage().Dequeue(context.Background(), "q", 0)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "m1", msg.Payload.String())
}
