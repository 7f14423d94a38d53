package quota

import (
	"fmt"
	"path/filepath"
	"sync"
)

// MemoryQuota tracks usage in a map. Reservations add to tracked usage; not
// persistent across restarts. The default for tests and ephemeral sessions.
type MemoryQuota struct {
	limit int64

	mu    sync.Mutex
	usage map[string]int64
}

// NewMemoryQuota creates a quota with the given positive limit.
func NewMemoryQuota(limitBytes int64) (*MemoryQuota, error) {
	if limitBytes <= 0 {
		return nil, fmt.Errorf("quota limit must be positive, got %d", limitBytes)
	}
	return &MemoryQuota{limit: limitBytes, usage: make(map[string]int64)}, nil
}

func workspaceKey(workspace string) string {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return filepath.Clean(workspace)
	}
	return abs
}

func (q *MemoryQuota) Check(_, workspace string, additionalBytes int64) (bool, error) {
	if additionalBytes < 0 {
		return false, fmt.Errorf("additional bytes must be non-negative, got %d", additionalBytes)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.usage[workspaceKey(workspace)]+additionalBytes <= q.limit, nil
}

func (q *MemoryQuota) Usage(workspace string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.usage[workspaceKey(workspace)]
}

func (q *MemoryQuota) Limit() int64 { return q.limit }

func (q *MemoryQuota) Reserve(_, workspace string, bytes int64) (bool, error) {
	if bytes < 0 {
		return false, fmt.Errorf("bytes to reserve must be non-negative, got %d", bytes)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	key := workspaceKey(workspace)
	if q.usage[key]+bytes > q.limit {
		return false, nil
	}
	q.usage[key] += bytes
	return true, nil
}

// SetUsage seeds usage for a workspace; test helper.
func (q *MemoryQuota) SetUsage(workspace string, bytes int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.usage[workspaceKey(workspace)] = bytes
}
