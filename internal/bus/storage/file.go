package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/archiflow-dev/archiflow/internal/bus"
)

// FileBackend persists each message as its own file and models state
// transitions as directory renames:
//
//	<root>/queues/<queue>/pending/<unix_ts>_<uuid>.msg
//	<root>/queues/<queue>/processing/...
//	<root>/queues/<queue>/dlq/...
//
// Slower than the AOL backend but every message is independently
// inspectable with standard tools.
type FileBackend struct {
	root string
	now  func() time.Time
}

const msgSuffix = ".msg"

var stateDirs = []string{"pending", "processing", "dlq"}

// NewFileBackend creates a file backend rooted at dir.
func NewFileBackend(root string) *FileBackend {
	return &FileBackend{root: root, now: time.Now}
}

func (b *FileBackend) queuesDir() string { return filepath.Join(b.root, "queues") }

func (b *FileBackend) queueDir(queue string) string {
	return filepath.Join(b.queuesDir(), queue)
}

func (b *FileBackend) stateDir(queue, state string) string {
	return filepath.Join(b.queueDir(queue), state)
}

func (b *FileBackend) Initialize() error {
	return os.MkdirAll(b.queuesDir(), 0o755)
}

func (b *FileBackend) Close() error { return nil }

func (b *FileBackend) CreateQueue(name string) error {
	dir := b.queueDir(name)
	if _, err := os.Stat(dir); err == nil {
		return bus.QueueExistsError(name)
	}
	for _, state := range stateDirs {
		if err := os.MkdirAll(filepath.Join(dir, state), 0o755); err != nil {
			return fmt.Errorf("create queue dirs: %w", err)
		}
	}
	return nil
}

func (b *FileBackend) DeleteQueue(name string) error {
	dir := b.queueDir(name)
	if _, err := os.Stat(dir); err != nil {
		return bus.QueueNotFoundError(name)
	}
	return os.RemoveAll(dir)
}

func (b *FileBackend) checkQueue(name string) error {
	if _, err := os.Stat(b.queueDir(name)); err != nil {
		return bus.QueueNotFoundError(name)
	}
	return nil
}

// msgFileName yields sortable names so directory listings are FIFO order.
func (b *FileBackend) msgFileName(id string) string {
	return fmt.Sprintf("%019d_%s%s", b.now().UnixNano(), id, msgSuffix)
}

// writeMessageFile writes atomically: tmp file then rename.
func writeMessageFile(path string, msg *bus.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write message file: %w", err)
	}
	return os.Rename(tmp, path)
}

func readMessageFile(path string) (*bus.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return bus.DecodeMessage(data)
}

// findByID locates a message file by id within a state directory.
func (b *FileBackend) findByID(queue, state, id string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(b.stateDir(queue, state), "*_"+id+msgSuffix))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

func (b *FileBackend) listState(queue, state string) ([]string, error) {
	entries, err := os.ReadDir(b.stateDir(queue, state))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), msgSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (b *FileBackend) Enqueue(queue string, msg *bus.Message) error {
	if err := b.checkQueue(queue); err != nil {
		return err
	}
	path := filepath.Join(b.stateDir(queue, "pending"), b.msgFileName(msg.ID))
	return writeMessageFile(path, msg)
}

func (b *FileBackend) Dequeue(ctx context.Context, queue string, timeout time.Duration) (*bus.Message, error) {
	if err := b.checkQueue(queue); err != nil {
		return nil, err
	}
	deadline := b.now().Add(timeout)
	for {
		msg, err := b.tryClaim(queue)
		if err != nil || msg != nil {
			return msg, err
		}
		if timeout <= 0 || b.now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// tryClaim renames the oldest pending file into processing. A failed rename
// means another worker won the race; move on to the next candidate.
func (b *FileBackend) tryClaim(queue string) (*bus.Message, error) {
	names, err := b.listState(queue, "pending")
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		src := filepath.Join(b.stateDir(queue, "pending"), name)
		dst := filepath.Join(b.stateDir(queue, "processing"), name)
		if err := os.Rename(src, dst); err != nil {
			continue
		}
		msg, err := readMessageFile(dst)
		if err != nil {
			slog.Warn("filebackend.unreadable_message", "queue", queue, "file", name, "error", err)
			os.Remove(dst)
			continue
		}
		return msg, nil
	}
	return nil, nil
}

func (b *FileBackend) Ack(queue, messageID string) error {
	if err := b.checkQueue(queue); err != nil {
		return err
	}
	for _, state := range []string{"processing", "pending"} {
		if path, ok := b.findByID(queue, state, messageID); ok {
			return os.Remove(path)
		}
	}
	return nil
}

func (b *FileBackend) Nack(queue, messageID string) error {
	if err := b.checkQueue(queue); err != nil {
		return err
	}
	path, ok := b.findByID(queue, "processing", messageID)
	if !ok {
		return nil
	}
	msg, err := readMessageFile(path)
	if err != nil {
		return err
	}
	msg.RetryCount++
	// Keep the original filename so the retried message stays at the front.
	dst := filepath.Join(b.stateDir(queue, "pending"), filepath.Base(path))
	if err := writeMessageFile(dst, msg); err != nil {
		return err
	}
	return os.Remove(path)
}

func (b *FileBackend) MoveToDLQ(queue string, msg *bus.Message) error {
	if err := b.checkQueue(queue); err != nil {
		return err
	}
	if path, ok := b.findByID(queue, "processing", msg.ID); ok {
		defer os.Remove(path)
	}
	dst := filepath.Join(b.stateDir(queue, "dlq"), b.msgFileName(msg.ID))
	return writeMessageFile(dst, msg)
}

func (b *FileBackend) RequeueFromDLQ(queue, messageID string) error {
	if err := b.checkQueue(queue); err != nil {
		return err
	}
	path, ok := b.findByID(queue, "dlq", messageID)
	if !ok {
		return bus.MessageNotFoundError(messageID)
	}
	msg, err := readMessageFile(path)
	if err != nil {
		return err
	}
	msg.RetryCount = 0
	msg.Error = ""
	dst := filepath.Join(b.stateDir(queue, "pending"), b.msgFileName(msg.ID))
	if err := writeMessageFile(dst, msg); err != nil {
		return err
	}
	return os.Remove(path)
}

func (b *FileBackend) DeleteDLQMessage(queue, messageID string) error {
	if err := b.checkQueue(queue); err != nil {
		return err
	}
	path, ok := b.findByID(queue, "dlq", messageID)
	if !ok {
		return bus.MessageNotFoundError(messageID)
	}
	return os.Remove(path)
}

func (b *FileBackend) DLQMessages(queue string) ([]*bus.Message, error) {
	if err := b.checkQueue(queue); err != nil {
		return nil, err
	}
	names, err := b.listState(queue, "dlq")
	if err != nil {
		return nil, err
	}
	var out []*bus.Message
	for _, name := range names {
		msg, err := readMessageFile(filepath.Join(b.stateDir(queue, "dlq"), name))
		if err != nil {
			slog.Warn("filebackend.unreadable_dlq_message", "queue", queue, "file", name, "error", err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (b *FileBackend) QueueDepth(queue string) (int, error) {
	if err := b.checkQueue(queue); err != nil {
		return 0, err
	}
	names, err := b.listState(queue, "pending")
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

func (b *FileBackend) DLQDepth(queue string) (int, error) {
	if err := b.checkQueue(queue); err != nil {
		return 0, err
	}
	names, err := b.listState(queue, "dlq")
	if err != nil {
		return 0, err
	}
	return len(names), nil
}
