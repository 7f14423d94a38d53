package runtime

import (
	"context"
	"log/slog"

	"github.com/archiflow-dev/archiflow/internal/quota"
	"github.com/archiflow-dev/archiflow/internal/runtime/audit"
	"github.com/archiflow-dev/archiflow/internal/runtime/validation"
)

// SessionRuntimeManager scopes tool execution to one session: file and bash
// tools run in the session's sandbox, everything else is delegated to the
// shared global manager. It owns its SandboxRuntime and holds an immutable
// back-reference to the global RuntimeManager.
type SessionRuntimeManager struct {
	sessionID string
	workspace string
	global    *RuntimeManager
	sandbox   *SandboxRuntime
}

// SessionOption customizes the session's sandbox.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	mode        validation.Mode
	quota       quota.Quota
	trail       audit.Trail
	sandboxOpts []SandboxOption
}

// WithSessionMode sets the sandbox enforcement level (default strict).
func WithSessionMode(mode validation.Mode) SessionOption {
	return func(o *sessionOptions) { o.mode = mode }
}

// WithSessionQuota enables quota enforcement for the session.
func WithSessionQuota(q quota.Quota) SessionOption {
	return func(o *sessionOptions) { o.quota = q }
}

// WithSessionAuditTrail enables audit logging for the session.
func WithSessionAuditTrail(t audit.Trail) SessionOption {
	return func(o *sessionOptions) { o.trail = t }
}

// NewSessionRuntimeManager builds the session-scoped manager. The workspace
// directory must exist.
func NewSessionRuntimeManager(sessionID, workspace string, global *RuntimeManager, opts ...SessionOption) (*SessionRuntimeManager, error) {
	options := sessionOptions{mode: validation.ModeStrict}
	for _, opt := range opts {
		opt(&options)
	}

	sandboxOpts := options.sandboxOpts
	if options.quota != nil {
		sandboxOpts = append(sandboxOpts, WithQuota(options.quota))
	}
	if options.trail != nil {
		sandboxOpts = append(sandboxOpts, WithAuditTrail(options.trail))
	}
	sandbox, err := NewSandboxRuntime(SandboxConfig{
		Workspace: workspace,
		Mode:      options.mode,
	}, sandboxOpts...)
	if err != nil {
		return nil, err
	}

	slog.Info("session_runtime.created", "session", sessionID, "workspace", sandbox.Workspace(), "mode", options.mode)
	return &SessionRuntimeManager{
		sessionID: sessionID,
		workspace: sandbox.Workspace(),
		global:    global,
		sandbox:   sandbox,
	}, nil
}

// SessionID returns the session this manager serves.
func (m *SessionRuntimeManager) SessionID() string { return m.sessionID }

// Workspace returns the session's workspace directory.
func (m *SessionRuntimeManager) Workspace() string { return m.workspace }

// Sandbox returns the session's sandbox runtime.
func (m *SessionRuntimeManager) Sandbox() *SandboxRuntime { return m.sandbox }

// ExecuteTool pins the context's working directory to the workspace, then
// routes file tools (and tools the global policy maps to "sandbox") to the
// session sandbox, everything else to the global manager.
func (m *SessionRuntimeManager) ExecuteTool(ctx context.Context, tool Tool, params map[string]any, execCtx ExecutionContext) (*ToolResult, error) {
	if tool == nil {
		return nil, &ToolNotFoundError{Name: "<nil>"}
	}
	execCtx.WorkingDirectory = m.workspace

	if m.shouldUseSandbox(tool.Name()) {
		slog.Debug("session_runtime.sandboxed", "session", m.sessionID, "tool", tool.Name())
		return m.sandbox.Execute(ctx, tool, params, execCtx)
	}
	slog.Debug("session_runtime.delegated", "session", m.sessionID, "tool", tool.Name())
	return m.global.ExecuteTool(ctx, tool, params, execCtx)
}

// shouldUseSandbox routes file tools to the sandbox unconditionally. Bash
// tools go through only when the global policy maps them there — their
// command validation has no path parameters to protect by default.
func (m *SessionRuntimeManager) shouldUseSandbox(toolName string) bool {
	if _, ok := fileTools[toolName]; ok {
		return true
	}
	return m.global.Policy().RuntimeForTool(toolName) == "sandbox"
}

// HealthCheck aggregates sandbox and global runtime health.
func (m *SessionRuntimeManager) HealthCheck(ctx context.Context) map[string]bool {
	health := map[string]bool{"sandbox": m.sandbox.HealthCheck(ctx)}
	for name, ok := range m.global.HealthCheckAll(ctx) {
		health[name] = ok
	}
	return health
}

// Cleanup tears the session's sandbox down. The global manager is shared
// and left untouched.
func (m *SessionRuntimeManager) Cleanup(ctx context.Context) error {
	return m.sandbox.Cleanup(ctx)
}
