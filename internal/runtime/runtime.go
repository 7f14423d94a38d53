// Package runtime executes tools under configurable enforcement: a plain
// local executor, a sandbox wrapper adding path/command/quota checks and an
// audit trail, and managers routing each call to the right runtime.
package runtime

import (
	"context"
	"time"
)

// Tool is the minimal tool surface the runtimes execute. Concrete tools
// live with the agent layer.
type Tool interface {
	Name() string
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// ExecutionContext carries the constraints for one tool call.
type ExecutionContext struct {
	SessionID        string
	Timeout          time.Duration
	MaxMemoryMB      int
	MaxCPUPercent    int
	AllowedNetwork   bool
	WorkingDirectory string
	Environment      map[string]string
	Metadata         map[string]any
}

// NewExecutionContext returns a context with the defaults: 30s timeout,
// 512MB memory, no network.
func NewExecutionContext(sessionID string) ExecutionContext {
	return ExecutionContext{
		SessionID:     sessionID,
		Timeout:       30 * time.Second,
		MaxMemoryMB:   512,
		MaxCPUPercent: 80,
	}
}

// WithTimeout returns a copy with a different timeout.
func (c ExecutionContext) WithTimeout(timeout time.Duration) ExecutionContext {
	c.Timeout = timeout
	return c
}

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	Success       bool
	Output        string
	Error         string
	ExecutionTime time.Duration
	Metadata      map[string]any
}

// SuccessResult builds a successful result.
func SuccessResult(output string, elapsed time.Duration) *ToolResult {
	return &ToolResult{Success: true, Output: output, ExecutionTime: elapsed, Metadata: map[string]any{}}
}

// ErrorResult builds a failed result.
func ErrorResult(errMsg string, elapsed time.Duration) *ToolResult {
	return &ToolResult{Success: false, Error: errMsg, ExecutionTime: elapsed, Metadata: map[string]any{}}
}

// ToolRuntime executes tools. Implementations: LocalRuntime, SandboxRuntime.
type ToolRuntime interface {
	Execute(ctx context.Context, tool Tool, params map[string]any, execCtx ExecutionContext) (*ToolResult, error)
	HealthCheck(ctx context.Context) bool
	Cleanup(ctx context.Context) error
}
