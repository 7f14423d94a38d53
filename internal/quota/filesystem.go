package quota

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultCacheTTL bounds how stale a filesystem usage measurement may be.
const DefaultCacheTTL = 5 * time.Second

// FilesystemQuota measures real directory usage by walking the workspace
// tree. Accurate but slower than MemoryQuota; a short TTL cache keeps
// repeated checks cheap. Reserve does not pre-allocate, it only re-checks.
type FilesystemQuota struct {
	limit int64
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]usageSample
}

type usageSample struct {
	bytes int64
	at    time.Time
}

// NewFilesystemQuota creates a quota with the given positive limit and the
// default cache TTL.
func NewFilesystemQuota(limitBytes int64) (*FilesystemQuota, error) {
	if limitBytes <= 0 {
		return nil, fmt.Errorf("quota limit must be positive, got %d", limitBytes)
	}
	return &FilesystemQuota{
		limit: limitBytes,
		ttl:   DefaultCacheTTL,
		now:   time.Now,
		cache: make(map[string]usageSample),
	}, nil
}

// SetCacheTTL overrides the cache TTL.
func (q *FilesystemQuota) SetCacheTTL(ttl time.Duration) { q.ttl = ttl }

func (q *FilesystemQuota) Check(_, workspace string, additionalBytes int64) (bool, error) {
	if additionalBytes < 0 {
		return false, fmt.Errorf("additional bytes must be non-negative, got %d", additionalBytes)
	}
	return q.Usage(workspace)+additionalBytes <= q.limit, nil
}

func (q *FilesystemQuota) Usage(workspace string) int64 {
	key := workspaceKey(workspace)

	q.mu.Lock()
	if sample, ok := q.cache[key]; ok && q.now().Sub(sample.at) < q.ttl {
		q.mu.Unlock()
		return sample.bytes
	}
	q.mu.Unlock()

	total := directorySize(key)

	q.mu.Lock()
	q.cache[key] = usageSample{bytes: total, at: q.now()}
	q.mu.Unlock()
	return total
}

func (q *FilesystemQuota) Limit() int64 { return q.limit }

// Reserve re-checks only; the next Usage scan observes the actual write.
func (q *FilesystemQuota) Reserve(sessionID, workspace string, bytes int64) (bool, error) {
	return q.Check(sessionID, workspace, bytes)
}

// ClearCache drops all cached measurements.
func (q *FilesystemQuota) ClearCache() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cache = make(map[string]usageSample)
}

// directorySize sums regular file sizes under root, skipping symlinks and
// unreadable entries.
func directorySize(root string) int64 {
	if _, err := os.Stat(root); err != nil {
		return 0
	}
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Debug("quota.walk_skip", "path", path, "error", err)
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	if err != nil {
		slog.Warn("quota.scan_failed", "root", root, "error", err)
	}
	return total
}
