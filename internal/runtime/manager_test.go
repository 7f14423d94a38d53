package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRoutesToDefaultRuntime(t *testing.T) {
	m := NewRuntimeManager(nil)
	m.Register("local", NewLocalRuntime())

	result, err := m.ExecuteTool(context.Background(), echoTool("fetch"), nil, NewExecutionContext("s"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "local", result.Metadata["runtime"])
}

func TestManagerBlockedTool(t *testing.T) {
	policy := DefaultSecurityPolicy()
	policy.BlockedTools = []string{"dangerous"}
	m := NewRuntimeManager(policy)
	m.Register("local", NewLocalRuntime())

	_, err := m.ExecuteTool(context.Background(), echoTool("dangerous"), nil, NewExecutionContext("s"))
	var violation *SecurityViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, ViolationBlocked, violation.Type)
}

func TestManagerUnknownRuntime(t *testing.T) {
	policy := DefaultSecurityPolicy()
	policy.ToolRuntimeMap["special"] = "container"
	m := NewRuntimeManager(policy)
	m.Register("local", NewLocalRuntime())

	_, err := m.ExecuteTool(context.Background(), echoTool("special"), nil, NewExecutionContext("s"))
	var notFound *RuntimeNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "container", notFound.Name)
}

func TestManagerAppliesToolPolicy(t *testing.T) {
	policy := DefaultSecurityPolicy()
	policy.ToolPolicies = map[string]ToolPolicy{
		"slow": {MaxExecutionTime: 75 * time.Millisecond},
	}
	m := NewRuntimeManager(policy)
	m.Register("local", NewLocalRuntime())

	var seenDeadline bool
	tool := &stubTool{name: "slow", fn: func(ctx context.Context, _ map[string]any) (string, error) {
		deadline, ok := ctx.Deadline()
		seenDeadline = ok && time.Until(deadline) <= 75*time.Millisecond
		return "done", nil
	}}
	_, err := m.ExecuteTool(context.Background(), tool, nil, NewExecutionContext("s"))
	require.NoError(t, err)
	assert.True(t, seenDeadline, "tool policy timeout must reach the execution context")
}

func TestManagerUnregister(t *testing.T) {
	m := NewRuntimeManager(nil)
	m.Register("local", NewLocalRuntime())
	m.Unregister("local")
	_, err := m.ExecuteTool(context.Background(), echoTool("x"), nil, NewExecutionContext("s"))
	var notFound *RuntimeNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestManagerHealthCheckAll(t *testing.T) {
	m := NewRuntimeManager(nil)
	m.Register("local", NewLocalRuntime())
	health := m.HealthCheckAll(context.Background())
	assert.Equal(t, map[string]bool{"local": true}, health)
}
