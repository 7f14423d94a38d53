package runtime

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/archiflow-dev/archiflow/internal/quota"
	"github.com/archiflow-dev/archiflow/internal/runtime/audit"
	"github.com/archiflow-dev/archiflow/internal/runtime/validation"
)

// Parameter names treated as workspace paths. working_directory is excluded:
// the runtime sets it to the workspace, never the caller.
var pathParams = map[string]struct{}{
	"file_path":   {},
	"path":        {},
	"directory":   {},
	"source":      {},
	"destination": {},
	"target":      {},
	"output_path": {},
	"input_path":  {},
}

// fileTools operate on workspace files and get their path params validated.
var fileTools = map[string]struct{}{
	"read":       {},
	"write":      {},
	"edit":       {},
	"multi_edit": {},
	"glob":       {},
	"grep":       {},
	"list":       {},
}

// bashTools execute shell commands and get those commands validated.
var bashTools = map[string]struct{}{
	"bash":            {},
	"restricted_bash": {},
}

// writeTools definitely write; other tools count as writes when any
// parameter name contains "content" or "data".
var writeTools = map[string]struct{}{
	"write":      {},
	"edit":       {},
	"multi_edit": {},
}

// defaultWriteEstimate covers writes whose size cannot be derived from the
// parameters.
const defaultWriteEstimate = 1024

// SandboxConfig configures a SandboxRuntime.
type SandboxConfig struct {
	Workspace       string
	Mode            validation.Mode
	AllowedCommands []string
	BlockedPatterns []string
}

// SandboxRuntime wraps an inner runtime with path validation, command
// filtering, storage quota enforcement, and audit logging.
type SandboxRuntime struct {
	cfg       SandboxConfig
	inner     ToolRuntime
	pathsV    *validation.PathValidator
	commandsV *validation.CommandValidator
	quota     quota.Quota
	trail     audit.Trail
}

// SandboxOption customizes a SandboxRuntime.
type SandboxOption func(*SandboxRuntime)

// WithQuota enables storage quota enforcement.
func WithQuota(q quota.Quota) SandboxOption {
	return func(r *SandboxRuntime) { r.quota = q }
}

// WithAuditTrail enables audit logging.
func WithAuditTrail(t audit.Trail) SandboxOption {
	return func(r *SandboxRuntime) { r.trail = t }
}

// WithInnerRuntime replaces the default LocalRuntime.
func WithInnerRuntime(inner ToolRuntime) SandboxOption {
	return func(r *SandboxRuntime) { r.inner = inner }
}

// NewSandboxRuntime builds a sandbox for the workspace in cfg. The
// workspace must exist.
func NewSandboxRuntime(cfg SandboxConfig, opts ...SandboxOption) (*SandboxRuntime, error) {
	if cfg.Mode == "" {
		cfg.Mode = validation.ModeStrict
	}
	pv, err := validation.NewPathValidator(cfg.Workspace, cfg.Mode)
	if err != nil {
		return nil, err
	}
	r := &SandboxRuntime{
		cfg:       cfg,
		inner:     NewLocalRuntime(),
		pathsV:    pv,
		commandsV: validation.NewCommandValidator(cfg.Mode, cfg.AllowedCommands, cfg.BlockedPatterns),
	}
	for _, opt := range opts {
		opt(r)
	}
	slog.Info("sandbox.initialized", "workspace", pv.Workspace(), "mode", cfg.Mode)
	return r, nil
}

// Workspace returns the canonical workspace path.
func (r *SandboxRuntime) Workspace() string { return r.pathsV.Workspace() }

// Execute validates, delegates to the inner runtime, reserves quota for
// successful writes, and records everything in the audit trail — rejected
// attempts included.
func (r *SandboxRuntime) Execute(ctx context.Context, tool Tool, params map[string]any, execCtx ExecutionContext) (*ToolResult, error) {
	if tool == nil {
		return nil, &ToolNotFoundError{Name: "<nil>"}
	}
	toolName := strings.ToLower(tool.Name())

	validated, err := r.validateExecution(toolName, params)
	if err != nil {
		r.audit(toolName, params, execCtx, false, err.Error())
		return nil, err
	}

	isWrite := isWriteOperation(toolName, validated)
	var estimated int64
	if isWrite {
		estimated = estimateWriteSize(toolName, validated)
	}

	result, err := r.inner.Execute(ctx, tool, validated, execCtx)
	if err != nil {
		r.audit(toolName, validated, execCtx, false, err.Error())
		return nil, err
	}

	// Reservation happens only after a successful write so a failed tool
	// call never consumes quota.
	if result.Success && isWrite && r.quota != nil && estimated > 0 {
		if _, err := r.quota.Reserve(execCtx.SessionID, r.Workspace(), estimated); err != nil {
			slog.Warn("sandbox.reserve_failed", "tool", toolName, "error", err)
		}
	}

	r.audit(toolName, validated, execCtx, result.Success, result.Error)
	return result, nil
}

// validateExecution applies the sandbox rules and returns the (possibly
// rewritten) parameters.
func (r *SandboxRuntime) validateExecution(toolName string, params map[string]any) (map[string]any, error) {
	validated := make(map[string]any, len(params))
	for k, v := range params {
		validated[k] = v
	}

	if _, ok := fileTools[toolName]; ok {
		for name, value := range params {
			s, isString := value.(string)
			if !isString || !isPathParam(name) {
				continue
			}
			resolved, err := r.pathsV.Validate(s)
			if err != nil {
				return nil, &SecurityViolation{Type: ViolationPath, Message: err.Error(), Cause: err}
			}
			rel, err := r.pathsV.RelativeToWorkspace(resolved)
			if err != nil {
				return nil, &SecurityViolation{Type: ViolationPath, Message: err.Error(), Cause: err}
			}
			validated[name] = rel
		}
	}

	if _, ok := bashTools[toolName]; ok {
		if command, _ := params["command"].(string); command != "" {
			if err := r.commandsV.Validate(command); err != nil {
				return nil, &SecurityViolation{Type: ViolationCommand, Message: err.Error(), Cause: err}
			}
		}
	}

	if r.quota != nil && isWriteOperation(toolName, params) {
		estimated := estimateWriteSize(toolName, params)
		if estimated > 0 {
			ok, err := r.quota.Check("", r.Workspace(), estimated)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, &ResourceLimitError{
					ResourceType: "storage",
					Limit:        r.quota.Limit(),
					Actual:       r.quota.Usage(r.Workspace()) + estimated,
				}
			}
		}
	}

	return validated, nil
}

func isPathParam(name string) bool {
	lower := strings.ToLower(name)
	if lower == "working_directory" {
		return false
	}
	_, ok := pathParams[lower]
	return ok
}

func isWriteOperation(toolName string, params map[string]any) bool {
	if _, ok := writeTools[toolName]; ok {
		return true
	}
	for name := range params {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "content") || strings.Contains(lower, "data") {
			return true
		}
	}
	return false
}

func estimateWriteSize(toolName string, params map[string]any) int64 {
	switch toolName {
	case "write":
		if content, ok := params["content"].(string); ok {
			return int64(len(content))
		}
	case "edit":
		if newText, ok := params["new_text"].(string); ok {
			return int64(len(newText))
		}
	}
	return defaultWriteEstimate
}

func (r *SandboxRuntime) audit(toolName string, params map[string]any, execCtx ExecutionContext, success bool, errMsg string) {
	if r.trail == nil {
		return
	}
	entry := audit.Entry{
		Time:      time.Now(),
		SessionID: execCtx.SessionID,
		ToolName:  toolName,
		Params:    audit.SanitizeParams(params),
		Success:   success,
		Error:     errMsg,
		Workspace: r.Workspace(),
		Mode:      string(r.cfg.Mode),
	}
	if err := r.trail.Record(entry); err != nil {
		slog.Warn("sandbox.audit_failed", "tool", toolName, "error", err)
	}
}

func (r *SandboxRuntime) HealthCheck(ctx context.Context) bool {
	return r.inner != nil && r.inner.HealthCheck(ctx)
}

func (r *SandboxRuntime) Cleanup(ctx context.Context) error {
	return r.inner.Cleanup(ctx)
}
