package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Snapshot is a merged view of the configuration hierarchy at load time.
type Snapshot struct {
	// Settings is the deep-merged settings map.
	Settings map[string]any
	// Context is the concatenated context-file content.
	Context string
	// Sources lists the files that contributed, in precedence order.
	Sources []string
}

// Hierarchy loads and caches the layered configuration. Precedence, lowest
// to highest: framework defaults, ~/.archiflow, ~/.archiflow local,
// project, project local. The cache invalidates when any source file's
// mtime changes, or immediately when the watcher is running.
type Hierarchy struct {
	workingDir   string
	frameworkDir string
	listStrategy ListStrategy

	mu     sync.Mutex
	cached *Snapshot
	mtimes map[string]time.Time
}

// HierarchyOption customizes a Hierarchy.
type HierarchyOption func(*Hierarchy)

// WithFrameworkDir points at the framework defaults directory.
func WithFrameworkDir(dir string) HierarchyOption {
	return func(h *Hierarchy) { h.frameworkDir = dir }
}

// WithListStrategy changes how lists merge (default: replace).
func WithListStrategy(s ListStrategy) HierarchyOption {
	return func(h *Hierarchy) { h.listStrategy = s }
}

// NewHierarchy creates a hierarchy rooted at workingDir.
func NewHierarchy(workingDir string, opts ...HierarchyOption) *Hierarchy {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	h := &Hierarchy{workingDir: workingDir, mtimes: make(map[string]time.Time)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Load returns the merged snapshot, reusing the cache while no source file
// has changed.
func (h *Hierarchy) Load() (*Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cached != nil && !h.sourcesChangedLocked() {
		return h.cached, nil
	}
	snapshot, err := h.loadLocked()
	if err != nil {
		return nil, err
	}
	h.cached = snapshot
	return snapshot, nil
}

// Invalidate drops the cache; the next Load re-reads every source.
func (h *Hierarchy) Invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cached = nil
	h.mtimes = make(map[string]time.Time)
}

func (h *Hierarchy) sourcesChangedLocked() bool {
	paths := append(
		SettingsPaths(h.frameworkDir, h.workingDir),
		ContextPaths(h.frameworkDir, h.workingDir)...,
	)
	for _, path := range paths {
		info, err := os.Stat(path)
		recorded, seen := h.mtimes[path]
		switch {
		case err != nil && seen:
			return true // file removed
		case err == nil && !seen:
			return true // file appeared
		case err == nil && !info.ModTime().Equal(recorded):
			return true
		}
	}
	return false
}

func (h *Hierarchy) loadLocked() (*Snapshot, error) {
	h.mtimes = make(map[string]time.Time)
	snapshot := &Snapshot{Settings: map[string]any{}}

	var layers []map[string]any
	for _, path := range SettingsPaths(h.frameworkDir, h.workingDir) {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		settings, err := LoadSettingsFile(path)
		if err != nil {
			return nil, err
		}
		h.mtimes[path] = info.ModTime()
		layers = append(layers, settings)
		snapshot.Sources = append(snapshot.Sources, path)
		slog.Debug("config.loaded_settings", "path", path, "keys", len(settings))
	}
	snapshot.Settings = MergeAll(layers, h.listStrategy)

	var sections []string
	for _, path := range ContextPaths(h.frameworkDir, h.workingDir) {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		_, body, err := LoadContextFile(path)
		if err != nil {
			return nil, err
		}
		h.mtimes[path] = info.ModTime()
		if strings.TrimSpace(body) == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("<!-- %s -->\n%s", path, strings.TrimSpace(body)))
		snapshot.Sources = append(snapshot.Sources, path)
	}
	snapshot.Context = strings.Join(sections, "\n\n")

	return snapshot, nil
}

// Watch invalidates the cache whenever a file in one of the hierarchy's
// directories changes. Blocks until ctx is cancelled.
func (h *Hierarchy) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	dirs := map[string]struct{}{}
	for _, path := range append(
		SettingsPaths(h.frameworkDir, h.workingDir),
		ContextPaths(h.frameworkDir, h.workingDir)...,
	) {
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			slog.Warn("config.watch_failed", "dir", dir, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				slog.Debug("config.source_changed", "file", event.Name, "op", event.Op.String())
				h.Invalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config.watcher_error", "error", err)
		}
	}
}
