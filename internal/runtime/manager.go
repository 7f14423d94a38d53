package runtime

import (
	"context"
	"log/slog"
	"sync"
)

// RuntimeManager holds the registered runtimes and selects one per tool
// according to the security policy.
type RuntimeManager struct {
	mu       sync.RWMutex
	runtimes map[string]ToolRuntime
	policy   *SecurityPolicy
}

// NewRuntimeManager creates a manager. A nil policy uses the default.
func NewRuntimeManager(policy *SecurityPolicy) *RuntimeManager {
	if policy == nil {
		policy = DefaultSecurityPolicy()
	}
	return &RuntimeManager{
		runtimes: make(map[string]ToolRuntime),
		policy:   policy,
	}
}

// Policy returns the active security policy.
func (m *RuntimeManager) Policy() *SecurityPolicy { return m.policy }

// Register adds a runtime under a name.
func (m *RuntimeManager) Register(name string, rt ToolRuntime) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runtimes[name] = rt
	slog.Info("runtime.registered", "name", name)
}

// Unregister removes a runtime.
func (m *RuntimeManager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runtimes, name)
}

// RuntimeFor resolves the runtime a tool should use, honouring the policy's
// blocklist.
func (m *RuntimeManager) RuntimeFor(toolName string) (ToolRuntime, string, error) {
	if !m.policy.IsToolAllowed(toolName) {
		return nil, "", &SecurityViolation{
			Type:    ViolationBlocked,
			Message: "tool " + toolName + " is blocked by security policy",
		}
	}
	name := m.policy.RuntimeForTool(toolName)
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.runtimes[name]
	if !ok {
		return nil, "", &RuntimeNotFoundError{Name: name}
	}
	return rt, name, nil
}

// ExecuteTool runs a tool on its policy-selected runtime, applying per-tool
// overrides to the execution context.
func (m *RuntimeManager) ExecuteTool(ctx context.Context, tool Tool, params map[string]any, execCtx ExecutionContext) (*ToolResult, error) {
	if tool == nil {
		return nil, &ToolNotFoundError{Name: "<nil>"}
	}
	rt, name, err := m.RuntimeFor(tool.Name())
	if err != nil {
		return nil, err
	}
	if tp, ok := m.policy.ToolPolicyFor(tool.Name()); ok {
		execCtx = tp.apply(execCtx)
	}
	result, err := rt.Execute(ctx, tool, params, execCtx)
	if err != nil {
		slog.Error("runtime.execute_failed", "tool", tool.Name(), "runtime", name, "error", err)
		return nil, err
	}
	result.Metadata["runtime"] = name
	slog.Debug("runtime.executed", "tool", tool.Name(), "runtime", name,
		"success", result.Success, "elapsed", result.ExecutionTime)
	return result, nil
}

// HealthCheckAll probes every registered runtime.
func (m *RuntimeManager) HealthCheckAll(ctx context.Context) map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	health := make(map[string]bool, len(m.runtimes))
	for name, rt := range m.runtimes {
		health[name] = rt.HealthCheck(ctx)
	}
	return health
}

// CleanupAll tears every registered runtime down.
func (m *RuntimeManager) CleanupAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, rt := range m.runtimes {
		if err := rt.Cleanup(ctx); err != nil {
			slog.Warn("runtime.cleanup_failed", "name", name, "error", err)
		}
	}
}
