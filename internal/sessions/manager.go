// Package sessions ties the platform together per conversation: each
// session owns a workspace directory, a history manager, and a
// session-scoped runtime manager.
package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archiflow-dev/archiflow/internal/history"
	"github.com/archiflow-dev/archiflow/internal/quota"
	"github.com/archiflow-dev/archiflow/internal/runtime"
	"github.com/archiflow-dev/archiflow/internal/runtime/audit"
	"github.com/archiflow-dev/archiflow/internal/runtime/validation"
)

// Meta is the persisted state of one session.
type Meta struct {
	ID              string    `json:"id"`
	Workspace       string    `json:"workspace"`
	Created         time.Time `json:"created"`
	Updated         time.Time `json:"updated"`
	CompactionCount int       `json:"compactionCount,omitempty"`
	Label           string    `json:"label,omitempty"`
}

// Session bundles one conversation's state and scoped runtime.
type Session struct {
	Meta    Meta
	History *history.Manager
	Runtime *runtime.SessionRuntimeManager
}

// Manager handles session lifecycle, workspace provisioning, and metadata
// persistence.
type Manager struct {
	storageDir string
	global     *runtime.RuntimeManager
	summarizer history.Summarizer
	historyCfg history.Config
	quota      quota.Quota
	trail      audit.Trail
	mode       validation.Mode

	mu       sync.RWMutex
	sessions map[string]*Session
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithQuota applies a storage quota to every session sandbox.
func WithQuota(q quota.Quota) ManagerOption {
	return func(m *Manager) { m.quota = q }
}

// WithAuditTrail applies an audit trail to every session sandbox.
func WithAuditTrail(t audit.Trail) ManagerOption {
	return func(m *Manager) { m.trail = t }
}

// WithSandboxMode sets the enforcement level for new sessions.
func WithSandboxMode(mode validation.Mode) ManagerOption {
	return func(m *Manager) { m.mode = mode }
}

// WithHistoryConfig overrides the history configuration for new sessions.
func WithHistoryConfig(cfg history.Config) ManagerOption {
	return func(m *Manager) { m.historyCfg = cfg }
}

// NewManager creates a session manager persisting under storageDir and
// delegating non-sandbox tools to the given global runtime manager.
func NewManager(storageDir string, global *runtime.RuntimeManager, summarizer history.Summarizer, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		storageDir: storageDir,
		global:     global,
		summarizer: summarizer,
		historyCfg: history.Config{AutoRemoveOldTODOs: true},
		mode:       validation.ModeStrict,
		sessions:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := os.MkdirAll(filepath.Join(storageDir, "workspaces"), 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	if err := m.loadAll(); err != nil {
		return nil, err
	}
	return m, nil
}

// Create provisions a new session with a fresh workspace.
func (m *Manager) Create() (*Session, error) {
	id := uuid.NewString()
	workspace := filepath.Join(m.storageDir, "workspaces", id)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	sessionRuntime, err := runtime.NewSessionRuntimeManager(id, workspace, m.global,
		runtime.WithSessionMode(m.mode),
		runtime.WithSessionQuota(m.quota),
		runtime.WithSessionAuditTrail(m.trail),
	)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &Session{
		Meta:    Meta{ID: id, Workspace: workspace, Created: now, Updated: now},
		History: history.NewManager(m.summarizer, m.historyCfg),
		Runtime: sessionRuntime,
	}

	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()

	if err := m.persist(session); err != nil {
		slog.Warn("sessions.persist_failed", "session", id, "error", err)
	}
	slog.Info("sessions.created", "session", id, "workspace", workspace)
	return session, nil
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns the metadata of all sessions.
func (m *Manager) List() []Meta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Meta, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Meta)
	}
	return out
}

// Touch bumps the session's updated timestamp and persists metadata.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		s.Meta.Updated = time.Now()
	}
	m.mu.Unlock()
	if ok {
		if err := m.persist(s); err != nil {
			slog.Warn("sessions.persist_failed", "session", id, "error", err)
		}
	}
}

// RecordCompaction bumps the session's compaction counter.
func (m *Manager) RecordCompaction(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.Meta.CompactionCount++
		s.Meta.Updated = time.Now()
	}
}

// Close tears one session down, keeping its workspace and metadata on disk.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if err := m.persist(s); err != nil {
		slog.Warn("sessions.persist_failed", "session", id, "error", err)
	}
	return s.Runtime.Cleanup(ctx)
}

func (m *Manager) metaPath(id string) string {
	return filepath.Join(m.storageDir, id+".json")
}

func (m *Manager) persist(s *Session) error {
	data, err := json.MarshalIndent(s.Meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.metaPath(s.Meta.ID), data, 0o644)
}

// loadAll restores session metadata from disk. Histories are in-memory and
// start empty; workspaces and sandboxes are reattached.
func (m *Manager) loadAll() error {
	entries, err := os.ReadDir(m.storageDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.storageDir, e.Name()))
		if err != nil {
			slog.Warn("sessions.load_failed", "file", e.Name(), "error", err)
			continue
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			slog.Warn("sessions.parse_failed", "file", e.Name(), "error", err)
			continue
		}
		if _, err := os.Stat(meta.Workspace); err != nil {
			slog.Warn("sessions.workspace_missing", "session", meta.ID, "workspace", meta.Workspace)
			continue
		}
		sessionRuntime, err := runtime.NewSessionRuntimeManager(meta.ID, meta.Workspace, m.global,
			runtime.WithSessionMode(m.mode),
			runtime.WithSessionQuota(m.quota),
			runtime.WithSessionAuditTrail(m.trail),
		)
		if err != nil {
			slog.Warn("sessions.runtime_restore_failed", "session", meta.ID, "error", err)
			continue
		}
		m.sessions[meta.ID] = &Session{
			Meta:    meta,
			History: history.NewManager(m.summarizer, m.historyCfg),
			Runtime: sessionRuntime,
		}
	}
	slog.Info("sessions.loaded", "count", len(m.sessions))
	return nil
}
