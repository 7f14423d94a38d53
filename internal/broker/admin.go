package broker

import (
	"sort"

	"github.com/archiflow-dev/archiflow/internal/bus"
)

// QueueInfo bundles a queue's configuration with its current stats.
type QueueInfo struct {
	Config bus.QueueConfig `json:"config"`
	Stats  QueueStats      `json:"stats"`
}

// ListQueues returns the names of all created queues.
func (b *Broker) ListQueues() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.queueConfigs))
	for name := range b.queueConfigs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListTopics returns the union of topics with active subscribers and topics
// seen in published metrics.
func (b *Broker) ListTopics() []string {
	seen := make(map[string]struct{})
	b.mu.RLock()
	for topic := range b.subs {
		seen[topic] = struct{}{}
	}
	b.mu.RUnlock()
	for _, topic := range b.metrics.TopicNames() {
		seen[topic] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for topic := range seen {
		names = append(names, topic)
	}
	sort.Strings(names)
	return names
}

// PurgeQueue drops all messages of a queue by recreating its storage entry.
// Returns the pending count before the purge.
func (b *Broker) PurgeQueue(queue string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queueConfigs[queue]; !ok {
		return 0, bus.QueueNotFoundError(queue)
	}
	count, err := b.storage.QueueDepth(queue)
	if err != nil {
		count = 0
	}
	if err := b.storage.DeleteQueue(queue); err != nil {
		return 0, err
	}
	if err := b.storage.CreateQueue(queue); err != nil {
		return 0, err
	}
	b.metrics.SetQueueDepth(queue, 0)
	return count, nil
}

// QueueInfo returns configuration plus stats for one queue.
func (b *Broker) QueueInfo(queue string) (QueueInfo, error) {
	b.mu.RLock()
	cfg, ok := b.queueConfigs[queue]
	b.mu.RUnlock()
	if !ok {
		return QueueInfo{}, bus.QueueNotFoundError(queue)
	}
	return QueueInfo{Config: cfg, Stats: b.metrics.QueueStats(queue)}, nil
}

// QueueStats returns the metrics snapshot for one queue.
func (b *Broker) QueueStats(queue string) QueueStats {
	return b.metrics.QueueStats(queue)
}

// TopicStats returns the metrics snapshot for one topic.
func (b *Broker) TopicStats(topic string) TopicStats {
	return b.metrics.TopicStats(topic)
}

// Metrics returns the full snapshot across queues, topics, and system.
func (b *Broker) Metrics() Metrics {
	m := Metrics{
		Queues: make(map[string]QueueStats),
		Topics: make(map[string]TopicStats),
		System: b.metrics.SystemStats(),
	}
	for _, queue := range b.metrics.QueueNames() {
		m.Queues[queue] = b.metrics.QueueStats(queue)
	}
	for _, topic := range b.metrics.TopicNames() {
		m.Topics[topic] = b.metrics.TopicStats(topic)
	}
	return m
}

// --- DLQ administration ---

// DLQMessages lists all dead-lettered messages of a queue.
func (b *Broker) DLQMessages(queue string) ([]*bus.Message, error) {
	b.mu.RLock()
	_, ok := b.queueConfigs[queue]
	b.mu.RUnlock()
	if !ok {
		return nil, bus.QueueNotFoundError(queue)
	}
	return b.storage.DLQMessages(queue)
}

// RequeueFromDLQ moves a dead-lettered message back onto its queue.
func (b *Broker) RequeueFromDLQ(queue, messageID string) error {
	b.mu.RLock()
	_, ok := b.queueConfigs[queue]
	b.mu.RUnlock()
	if !ok {
		return bus.QueueNotFoundError(queue)
	}
	if err := b.storage.RequeueFromDLQ(queue, messageID); err != nil {
		return err
	}
	b.metrics.IncQueuePublished(queue)
	if depth, err := b.storage.QueueDepth(queue); err == nil {
		b.metrics.SetQueueDepth(queue, depth)
	}
	b.metrics.DecQueueDLQ(queue)
	return nil
}

// DeleteDLQMessage permanently removes a dead-lettered message.
func (b *Broker) DeleteDLQMessage(queue, messageID string) error {
	b.mu.RLock()
	_, ok := b.queueConfigs[queue]
	b.mu.RUnlock()
	if !ok {
		return bus.QueueNotFoundError(queue)
	}
	if err := b.storage.DeleteDLQMessage(queue, messageID); err != nil {
		return err
	}
	b.metrics.DecQueueDLQ(queue)
	return nil
}
