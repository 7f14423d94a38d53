package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archiflow-dev/archiflow/internal/runtime/audit"
)

func newTestSessionManager(t *testing.T, opts ...SessionOption) (*SessionRuntimeManager, *RuntimeManager) {
	t.Helper()
	global := NewRuntimeManager(nil)
	global.Register("local", NewLocalRuntime())
	m, err := NewSessionRuntimeManager("sess-1", t.TempDir(), global, opts...)
	require.NoError(t, err)
	return m, global
}

func TestSessionRoutesFileToolsToSandbox(t *testing.T) {
	trail := audit.NewMemoryTrail()
	m, _ := newTestSessionManager(t, WithSessionAuditTrail(trail))

	_, err := m.ExecuteTool(context.Background(), echoTool("read"),
		map[string]any{"file_path": "a.txt"}, NewExecutionContext("sess-1"))
	require.NoError(t, err)

	// Sandboxed execution is visible through the audit trail.
	entries, _ := trail.Entries(audit.Filter{})
	assert.Len(t, entries, 1)
}

func TestSessionDelegatesOtherToolsToGlobal(t *testing.T) {
	trail := audit.NewMemoryTrail()
	m, _ := newTestSessionManager(t, WithSessionAuditTrail(trail))

	result, err := m.ExecuteTool(context.Background(), echoTool("web_search"),
		map[string]any{"query": "golang"}, NewExecutionContext("sess-1"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "local", result.Metadata["runtime"])

	entries, _ := trail.Entries(audit.Filter{})
	assert.Empty(t, entries, "delegated tools bypass the sandbox audit")
}

func TestSessionPolicyMappedToolUsesSandbox(t *testing.T) {
	global := NewRuntimeManager(nil)
	global.Register("local", NewLocalRuntime())
	global.Policy().ToolRuntimeMap["bash"] = "sandbox"

	trail := audit.NewMemoryTrail()
	m, err := NewSessionRuntimeManager("sess-2", t.TempDir(), global, WithSessionAuditTrail(trail))
	require.NoError(t, err)

	_, err = m.ExecuteTool(context.Background(), echoTool("bash"),
		map[string]any{"command": "ls"}, NewExecutionContext("sess-2"))
	require.NoError(t, err)

	entries, _ := trail.Entries(audit.Filter{})
	assert.Len(t, entries, 1)
}

// recordingRuntime captures the execution context it receives.
type recordingRuntime struct {
	lastCtx ExecutionContext
}

func (r *recordingRuntime) Execute(_ context.Context, _ Tool, _ map[string]any, execCtx ExecutionContext) (*ToolResult, error) {
	r.lastCtx = execCtx
	return SuccessResult("recorded", 0), nil
}

func (r *recordingRuntime) HealthCheck(context.Context) bool { return true }
func (r *recordingRuntime) Cleanup(context.Context) error    { return nil }

func TestSessionPinsWorkingDirectory(t *testing.T) {
	global := NewRuntimeManager(nil)
	recorder := &recordingRuntime{}
	global.Register("local", recorder)
	m, err := NewSessionRuntimeManager("sess-3", t.TempDir(), global)
	require.NoError(t, err)

	execCtx := NewExecutionContext("sess-3")
	execCtx.WorkingDirectory = "/somewhere/else"
	_, err = m.ExecuteTool(context.Background(), echoTool("web_search"), nil, execCtx)
	require.NoError(t, err)
	assert.Equal(t, m.Workspace(), recorder.lastCtx.WorkingDirectory)
}

func TestSessionHealthCheck(t *testing.T) {
	m, _ := newTestSessionManager(t)
	health := m.HealthCheck(context.Background())
	assert.True(t, health["sandbox"])
	assert.True(t, health["local"])
}
