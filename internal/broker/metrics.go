package broker

import (
	"sort"
	"sync"
	"time"
)

// processingTimeWindow caps the rolling window of per-queue samples.
const processingTimeWindow = 1000

// QueueStats is a point-in-time copy of one queue's counters.
type QueueStats struct {
	Published           int     `json:"published"`
	Processed           int     `json:"processed"`
	Failed              int     `json:"failed"`
	DLQCount            int     `json:"dlq_count"`
	Depth               int     `json:"depth"`
	WorkerCount         int     `json:"worker_count"`
	AvgProcessingTimeMS float64 `json:"avg_processing_time_ms"`
}

// TopicStats is a point-in-time copy of one topic's counters.
type TopicStats struct {
	Published        int `json:"published"`
	SubscriberCount  int `json:"subscriber_count"`
	FailedDeliveries int `json:"failed_deliveries"`
}

// SystemStats summarizes the broker as a whole.
type SystemStats struct {
	TotalMessages int     `json:"total_messages"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	ActiveThreads int     `json:"active_threads"`
	StartTime     float64 `json:"start_time"`
}

// Metrics is the full snapshot returned by Broker.Metrics.
type Metrics struct {
	Queues map[string]QueueStats `json:"queues"`
	Topics map[string]TopicStats `json:"topics"`
	System SystemStats           `json:"system"`
}

type queueCounters struct {
	published       int
	processed       int
	failed          int
	dlqCount        int
	depth           int
	workerCount     int
	processingTimes []float64
}

type topicCounters struct {
	published        int
	subscriberCount  int
	failedDeliveries int
}

// Collector accumulates broker counters. All mutations go through one lock;
// snapshots are fresh copies so callers cannot corrupt internal state.
type Collector struct {
	mu            sync.Mutex
	queues        map[string]*queueCounters
	topics        map[string]*topicCounters
	startTime     time.Time
	activeThreads int
	now           func() time.Time
}

// NewCollector creates a collector stamped with the current time.
func NewCollector() *Collector {
	return newCollector(time.Now)
}

func newCollector(now func() time.Time) *Collector {
	return &Collector{
		queues:    make(map[string]*queueCounters),
		topics:    make(map[string]*topicCounters),
		startTime: now(),
		now:       now,
	}
}

func (c *Collector) queueFor(name string) *queueCounters {
	q, ok := c.queues[name]
	if !ok {
		q = &queueCounters{}
		c.queues[name] = q
	}
	return q
}

func (c *Collector) topicFor(name string) *topicCounters {
	t, ok := c.topics[name]
	if !ok {
		t = &topicCounters{}
		c.topics[name] = t
	}
	return t
}

func (c *Collector) IncQueuePublished(queue string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueFor(queue).published++
}

func (c *Collector) IncQueueProcessed(queue string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueFor(queue).processed++
}

func (c *Collector) IncQueueFailed(queue string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueFor(queue).failed++
}

func (c *Collector) IncQueueDLQ(queue string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueFor(queue).dlqCount++
}

func (c *Collector) DecQueueDLQ(queue string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q := c.queueFor(queue); q.dlqCount > 0 {
		q.dlqCount--
	}
}

// RecordProcessingTime appends a sample, dropping the oldest past the window.
func (c *Collector) RecordProcessingTime(queue string, ms float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queueFor(queue)
	q.processingTimes = append(q.processingTimes, ms)
	if len(q.processingTimes) > processingTimeWindow {
		q.processingTimes = q.processingTimes[1:]
	}
}

func (c *Collector) SetQueueDepth(queue string, depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueFor(queue).depth = depth
}

func (c *Collector) SetWorkerCount(queue string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueFor(queue).workerCount = count
}

func (c *Collector) IncTopicPublished(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topicFor(topic).published++
}

func (c *Collector) IncTopicFailedDelivery(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topicFor(topic).failedDeliveries++
}

func (c *Collector) SetSubscriberCount(topic string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topicFor(topic).subscriberCount = count
}

func (c *Collector) SetActiveThreads(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeThreads = count
}

// QueueStats returns a copy of a queue's counters.
func (c *Collector) QueueStats(queue string) QueueStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queueFor(queue)
	var avg float64
	if len(q.processingTimes) > 0 {
		var sum float64
		for _, t := range q.processingTimes {
			sum += t
		}
		avg = sum / float64(len(q.processingTimes))
	}
	return QueueStats{
		Published:           q.published,
		Processed:           q.processed,
		Failed:              q.failed,
		DLQCount:            q.dlqCount,
		Depth:               q.depth,
		WorkerCount:         q.workerCount,
		AvgProcessingTimeMS: avg,
	}
}

// TopicStats returns a copy of a topic's counters.
func (c *Collector) TopicStats(topic string) TopicStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.topicFor(topic)
	return TopicStats{
		Published:        t.published,
		SubscriberCount:  t.subscriberCount,
		FailedDeliveries: t.failedDeliveries,
	}
}

// SystemStats returns the system-wide snapshot.
func (c *Collector) SystemStats() SystemStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, q := range c.queues {
		total += q.published
	}
	for _, t := range c.topics {
		total += t.published
	}
	return SystemStats{
		TotalMessages: total,
		UptimeSeconds: c.now().Sub(c.startTime).Seconds(),
		ActiveThreads: c.activeThreads,
		StartTime:     float64(c.startTime.UnixNano()) / 1e9,
	}
}

// QueueNames lists queues that have metrics.
func (c *Collector) QueueNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.queues))
	for name := range c.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TopicNames lists topics that have metrics.
func (c *Collector) TopicNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.topics))
	for name := range c.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResetQueue drops one queue's counters.
func (c *Collector) ResetQueue(queue string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.queues, queue)
}

// ResetAll drops everything and restamps the start time.
func (c *Collector) ResetAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues = make(map[string]*queueCounters)
	c.topics = make(map[string]*topicCounters)
	c.startTime = c.now()
	c.activeThreads = 0
}
