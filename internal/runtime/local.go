package runtime

import (
	"context"
	"log/slog"
	"time"
)

// MemoryProbe reports the process's current memory footprint in bytes.
// Injected so the core stays free of platform-specific process inspection.
type MemoryProbe func() int64

// LocalRuntime runs tools in-process with timeout enforcement and optional
// memory monitoring.
type LocalRuntime struct {
	probe           MemoryProbe
	monitorInterval time.Duration
}

// LocalOption customizes a LocalRuntime.
type LocalOption func(*LocalRuntime)

// WithMemoryProbe enables memory monitoring against the context's
// MaxMemoryMB using the given probe.
func WithMemoryProbe(probe MemoryProbe) LocalOption {
	return func(r *LocalRuntime) { r.probe = probe }
}

// NewLocalRuntime creates a local runtime.
func NewLocalRuntime(opts ...LocalOption) *LocalRuntime {
	r := &LocalRuntime{monitorInterval: 500 * time.Millisecond}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type toolOutcome struct {
	output string
	err    error
}

// Execute runs the tool, cancelling it at the context timeout or on a
// memory overrun. Tool-level failures come back as an unsuccessful
// ToolResult; infrastructure failures (timeout, memory) as errors.
func (r *LocalRuntime) Execute(ctx context.Context, tool Tool, params map[string]any, execCtx ExecutionContext) (*ToolResult, error) {
	if tool == nil {
		return nil, &ToolNotFoundError{Name: "<nil>"}
	}
	slog.Debug("runtime.local_execute", "tool", tool.Name(),
		"timeout", execCtx.Timeout, "max_memory_mb", execCtx.MaxMemoryMB)

	runCtx, cancel := context.WithTimeout(ctx, execCtx.Timeout)
	defer cancel()

	start := time.Now()
	outcome := make(chan toolOutcome, 1)
	go func() {
		output, err := tool.Execute(runCtx, params)
		outcome <- toolOutcome{output: output, err: err}
	}()

	memExceeded := make(chan int64, 1)
	if r.probe != nil {
		go r.monitorMemory(runCtx, execCtx, memExceeded)
	}

	select {
	case out := <-outcome:
		elapsed := time.Since(start)
		if out.err != nil {
			slog.Debug("runtime.tool_failed", "tool", tool.Name(), "error", out.err)
			result := ErrorResult(out.err.Error(), elapsed)
			result.Metadata["runtime"] = "local"
			return result, nil
		}
		result := SuccessResult(out.output, elapsed)
		result.Metadata["runtime"] = "local"
		return result, nil
	case actual := <-memExceeded:
		cancel()
		slog.Warn("runtime.memory_exceeded", "tool", tool.Name(),
			"limit_mb", execCtx.MaxMemoryMB, "actual_bytes", actual)
		return nil, &ResourceLimitError{
			ResourceType: "memory",
			Limit:        int64(execCtx.MaxMemoryMB) * 1024 * 1024,
			Actual:       actual,
		}
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("runtime.timeout", "tool", tool.Name(), "timeout", execCtx.Timeout)
		return nil, &TimeoutError{Timeout: execCtx.Timeout}
	}
}

func (r *LocalRuntime) monitorMemory(ctx context.Context, execCtx ExecutionContext, exceeded chan<- int64) {
	limit := int64(execCtx.MaxMemoryMB) * 1024 * 1024
	ticker := time.NewTicker(r.monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if actual := r.probe(); actual > limit {
				select {
				case exceeded <- actual:
				default:
				}
				return
			}
		}
	}
}

func (r *LocalRuntime) HealthCheck(context.Context) bool { return true }

func (r *LocalRuntime) Cleanup(context.Context) error { return nil }
