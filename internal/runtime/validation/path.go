// Package validation holds the stateless sandbox validators: workspace path
// confinement and bash command filtering. Instances are immutable after
// construction and safe to share.
package validation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Mode is the enforcement level shared by both validators.
type Mode string

const (
	ModeStrict     Mode = "strict"
	ModePermissive Mode = "permissive"
	ModeDisabled   Mode = "disabled"
)

// ValidMode reports whether m is a known enforcement level.
func ValidMode(m Mode) bool {
	switch m {
	case ModeStrict, ModePermissive, ModeDisabled:
		return true
	}
	return false
}

// PathError reports a rejected path with the requested and resolved forms.
type PathError struct {
	Message   string
	Requested string
	Resolved  string
}

func (e *PathError) Error() string {
	if e.Resolved != "" {
		return fmt.Sprintf("%s: %s -> %s", e.Message, e.Requested, e.Resolved)
	}
	if e.Requested != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Requested)
	}
	return e.Message
}

// PathValidator confines file-tool paths to a workspace directory. It blocks
// absolute paths, `..` traversal, and symlinks whose targets escape the
// workspace.
type PathValidator struct {
	workspace string
	mode      Mode
}

// NewPathValidator resolves the workspace to canonical form. The workspace
// must exist.
func NewPathValidator(workspace string, mode Mode) (*PathValidator, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace does not exist: %w", err)
	}
	if !ValidMode(mode) {
		return nil, fmt.Errorf("invalid sandbox mode %q", mode)
	}
	return &PathValidator{workspace: real, mode: mode}, nil
}

// Workspace returns the canonical workspace path.
func (v *PathValidator) Workspace() string { return v.workspace }

// Validate resolves requested against the workspace and returns the absolute
// within-workspace path, or a *PathError when the path escapes.
func (v *PathValidator) Validate(requested string) (string, error) {
	if v.mode == ModeDisabled {
		abs, _ := filepath.Abs(requested)
		return filepath.Clean(abs), nil
	}

	if filepath.IsAbs(requested) {
		slog.Warn("security.absolute_path", "path", requested, "workspace", v.workspace)
		return "", &PathError{Message: "absolute paths are not allowed in sandbox", Requested: requested}
	}

	resolved := filepath.Clean(filepath.Join(v.workspace, requested))
	if !isPathInside(resolved, v.workspace) {
		slog.Warn("security.path_escape", "path", requested, "resolved", resolved, "workspace", v.workspace)
		return "", &PathError{
			Message:   "path escapes workspace (path traversal detected)",
			Requested: requested,
			Resolved:  resolved,
		}
	}

	// Follow symlinks on existing paths; a link whose canonical target lands
	// outside the workspace is an escape even though the lexical path is fine.
	if info, err := os.Lstat(resolved); err == nil && info.Mode()&os.ModeSymlink != 0 {
		real, err := resolveSymlink(resolved)
		if err != nil {
			slog.Warn("security.symlink_resolve_failed", "path", requested, "error", err)
			return "", &PathError{Message: "cannot resolve symlink", Requested: requested}
		}
		if !isPathInside(real, v.workspace) {
			slog.Warn("security.symlink_escape", "path", requested, "target", real, "workspace", v.workspace)
			return "", &PathError{
				Message:   "symlink escapes workspace",
				Requested: requested,
				Resolved:  real,
			}
		}
	}

	return resolved, nil
}

// IsSafe is Validate without the error detail.
func (v *PathValidator) IsSafe(path string) bool {
	_, err := v.Validate(path)
	return err == nil
}

// RelativeToWorkspace converts an absolute within-workspace path back to the
// workspace-relative form tools receive.
func (v *PathValidator) RelativeToWorkspace(absolute string) (string, error) {
	rel, err := filepath.Rel(v.workspace, absolute)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", &PathError{Message: "path is not within workspace", Requested: absolute}
	}
	return rel, nil
}

// resolveSymlink canonicalizes a symlink, handling dangling links by
// resolving the target through its deepest existing ancestor.
func resolveSymlink(path string) (string, error) {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real, nil
	}
	target, err := os.Readlink(path)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	return resolveThroughExistingAncestors(filepath.Clean(target)), nil
}

// resolveThroughExistingAncestors canonicalizes the deepest existing
// ancestor and reattaches the non-existent remainder, catching chained
// symlinks whose intermediate targets escape.
func resolveThroughExistingAncestors(target string) string {
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real
	}
	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent
		if real, err := filepath.EvalSymlinks(current); err == nil {
			result := real
			for _, component := range tail {
				result = filepath.Join(result, component)
			}
			return result
		}
	}
	return filepath.Clean(target)
}

// isPathInside checks whether child is inside or equal to parent.
func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
