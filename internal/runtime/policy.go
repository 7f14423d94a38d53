package runtime

import "time"

// SecurityPolicy selects runtimes per tool and carries the default resource
// limits.
type SecurityPolicy struct {
	// DefaultRuntime is used when no specific mapping exists.
	DefaultRuntime string
	// ToolRuntimeMap maps tool names to runtimes, e.g. {"bash": "sandbox"}.
	ToolRuntimeMap map[string]string

	MaxExecutionTime time.Duration
	MaxMemoryMB      int
	AllowNetwork     bool

	// BlockedTools are refused outright.
	BlockedTools []string
	// ToolPolicies override limits per tool.
	ToolPolicies map[string]ToolPolicy
}

// ToolPolicy overrides parts of the policy for one tool. Zero values mean
// "no override".
type ToolPolicy struct {
	Runtime          string
	MaxExecutionTime time.Duration
	MaxMemoryMB      int
	AllowNetwork     *bool
}

// DefaultSecurityPolicy routes everything to the local runtime with the
// stock limits.
func DefaultSecurityPolicy() *SecurityPolicy {
	return &SecurityPolicy{
		DefaultRuntime:   "local",
		ToolRuntimeMap:   map[string]string{},
		MaxExecutionTime: 60 * time.Second,
		MaxMemoryMB:      1024,
	}
}

// RuntimeForTool resolves the runtime name for a tool.
func (p *SecurityPolicy) RuntimeForTool(toolName string) string {
	if name, ok := p.ToolRuntimeMap[toolName]; ok {
		return name
	}
	return p.DefaultRuntime
}

// IsToolAllowed reports whether a tool may execute at all.
func (p *SecurityPolicy) IsToolAllowed(toolName string) bool {
	for _, blocked := range p.BlockedTools {
		if blocked == toolName {
			return false
		}
	}
	return true
}

// ToolPolicyFor returns the per-tool override, if any.
func (p *SecurityPolicy) ToolPolicyFor(toolName string) (ToolPolicy, bool) {
	tp, ok := p.ToolPolicies[toolName]
	return tp, ok
}

// apply overlays the override onto an execution context.
func (tp ToolPolicy) apply(execCtx ExecutionContext) ExecutionContext {
	if tp.MaxExecutionTime > 0 {
		execCtx.Timeout = tp.MaxExecutionTime
	}
	if tp.MaxMemoryMB > 0 {
		execCtx.MaxMemoryMB = tp.MaxMemoryMB
	}
	if tp.AllowNetwork != nil {
		execCtx.AllowedNetwork = *tp.AllowNetwork
	}
	return execCtx
}
