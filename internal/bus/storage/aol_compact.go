package storage

import (
	"container/heap"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/archiflow-dev/archiflow/internal/bus"
)

// Compact rewrites a queue's log, dropping DELETED entries. Survivors are
// written as fresh ENQUEUE records in original timestamp order, each DLQ
// survivor followed by a DLQ record; the single resulting segment is
// 0000.log. Stop-the-world per queue.
func (b *AOLBackend) Compact(queue string) error {
	q, err := b.queue(queue)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := b.compactLocked(queue, q); err != nil {
		return err
	}
	q.lastCompact = b.now()
	return nil
}

type survivor struct {
	id    string
	entry *indexEntry
	msg   *bus.Message
}

func (b *AOLBackend) compactLocked(queue string, q *aolQueue) error {
	// Read survivors while the old segments are still open. Failures here
	// leave the original log untouched.
	var survivors []survivor
	for id, entry := range q.index {
		if entry.state == stateDeleted {
			continue
		}
		msg, err := q.readMessage(entry)
		if err != nil {
			slog.Error("aol.compact_read_failed", "queue", queue, "id", id, "error", err)
			continue
		}
		msg.RetryCount = entry.retryCount
		survivors = append(survivors, survivor{id: id, entry: entry, msg: msg})
	}
	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].entry.timestamp != survivors[j].entry.timestamp {
			return survivors[i].entry.timestamp < survivors[j].entry.timestamp
		}
		return survivors[i].entry.offset < survivors[j].entry.offset
	})

	tmpPath := filepath.Join(q.dir, compactionTempName)
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create compaction file: %w", err)
	}

	newIndex := make(map[string]*indexEntry, len(survivors))
	var newHeap pendingHeap
	var offset int64
	for _, s := range survivors {
		payload, err := s.msg.Encode()
		if err != nil {
			slog.Error("aol.compact_encode_failed", "queue", queue, "id", s.id, "error", err)
			continue
		}
		record := encodeRecord(recordEnqueue, s.entry.timestamp, payload)
		if _, err := tmp.WriteAt(record, offset); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("write compaction record: %w", err)
		}
		newIndex[s.id] = &indexEntry{
			offset:     offset,
			length:     int64(len(record)),
			state:      s.entry.state, // PENDING, PROCESSING, and DLQ survive
			retryCount: s.entry.retryCount,
			timestamp:  s.entry.timestamp,
			segment:    0,
		}
		if s.entry.state == statePending {
			newHeap = append(newHeap, pendingEntry{
				offset:    offset,
				timestamp: s.entry.timestamp,
				segment:   0,
				id:        s.id,
			})
		}
		offset += int64(len(record))
		if s.entry.state == stateDLQ {
			// Replay turns the ENQUEUE back into PENDING; the DLQ record
			// restores the dead-letter state.
			dlqRecord := encodeRecord(recordDLQ, s.entry.timestamp, []byte(s.id))
			if _, err := tmp.WriteAt(dlqRecord, offset); err != nil {
				tmp.Close()
				os.Remove(tmpPath)
				return fmt.Errorf("write compaction record: %w", err)
			}
			offset += int64(len(dlqRecord))
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync compaction file: %w", err)
	}

	// Swap: close and remove old segments, promote the compacted file. The
	// handle stays valid across the rename (same inode).
	oldSegments, _ := listSegments(q.dir)
	for _, f := range q.files {
		f.Close()
	}
	for _, seg := range oldSegments {
		if err := os.Remove(filepath.Join(q.dir, segmentName(seg))); err != nil {
			slog.Warn("aol.compact_remove_failed", "queue", queue, "segment", seg, "error", err)
		}
	}
	if err := os.Rename(tmpPath, filepath.Join(q.dir, initialSegmentName)); err != nil {
		tmp.Close()
		return fmt.Errorf("promote compacted segment: %w", err)
	}

	q.files = map[int]*os.File{0: tmp}
	q.current = 0
	q.appendOffset = offset
	q.index = newIndex
	q.pending = newHeap
	heap.Init(&q.pending)

	slog.Info("aol.compacted", "queue", queue, "survivors", len(survivors), "bytes", offset)
	return nil
}
