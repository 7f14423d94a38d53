package sessions

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archiflow-dev/archiflow/internal/history"
	"github.com/archiflow-dev/archiflow/internal/runtime"
)

func newTestManager(t *testing.T, dir string, opts ...ManagerOption) *Manager {
	t.Helper()
	global := runtime.NewRuntimeManager(nil)
	global.Register("local", runtime.NewLocalRuntime())
	m, err := NewManager(dir, global, history.SimpleSummarizer{}, opts...)
	require.NoError(t, err)
	return m
}

func TestManagerCreateProvisionsWorkspace(t *testing.T) {
	m := newTestManager(t, t.TempDir())

	session, err := m.Create()
	require.NoError(t, err)
	assert.NotEmpty(t, session.Meta.ID)

	info, err := os.Stat(session.Meta.Workspace)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	got, ok := m.Get(session.Meta.ID)
	require.True(t, ok)
	assert.Same(t, session, got)
	assert.NotNil(t, session.History)
	assert.Equal(t, session.Meta.Workspace, session.Runtime.Workspace())
}

func TestManagerPersistsMetadata(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)
	session, err := m.Create()
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, session.Meta.ID+".json"))
	require.NoError(t, err)
}

func TestManagerReloadsSessions(t *testing.T) {
	dir := t.TempDir()
	first := newTestManager(t, dir)
	session, err := first.Create()
	require.NoError(t, err)
	require.NoError(t, first.Close(context.Background(), session.Meta.ID))

	second := newTestManager(t, dir)
	restored, ok := second.Get(session.Meta.ID)
	require.True(t, ok)
	assert.Equal(t, session.Meta.ID, restored.Meta.ID)
	assert.Equal(t, session.Meta.Workspace, restored.Meta.Workspace)
	assert.NotNil(t, restored.Runtime)
}

func TestManagerCompactionCounter(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	session, err := m.Create()
	require.NoError(t, err)

	m.RecordCompaction(session.Meta.ID)
	m.RecordCompaction(session.Meta.ID)
	got, _ := m.Get(session.Meta.ID)
	assert.Equal(t, 2, got.Meta.CompactionCount)
}

func TestManagerList(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	_, err := m.Create()
	require.NoError(t, err)
	_, err = m.Create()
	require.NoError(t, err)
	assert.Len(t, m.List(), 2)
}

func TestManagerCloseUnknownSession(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	assert.NoError(t, m.Close(context.Background(), "missing"))
}
