package audit

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeParamsRedaction(t *testing.T) {
	params := map[string]any{
		"password":   "hunter2",
		"api_key":    "sk-123",
		"auth_token": "bearer xyz",
		"SecretPath": "/vault",
		"file_path":  "notes.txt",
		"count":      3,
	}
	sanitized := SanitizeParams(params)
	assert.Equal(t, "[REDACTED]", sanitized["password"])
	assert.Equal(t, "[REDACTED]", sanitized["api_key"])
	assert.Equal(t, "[REDACTED]", sanitized["auth_token"])
	assert.Equal(t, "[REDACTED]", sanitized["SecretPath"])
	assert.Equal(t, "notes.txt", sanitized["file_path"])
	assert.Equal(t, 3, sanitized["count"])

	// Input untouched.
	assert.Equal(t, "hunter2", params["password"])
}

func TestSanitizeParamsTruncation(t *testing.T) {
	long := strings.Repeat("a", 2000)
	sanitized := SanitizeParams(map[string]any{"content": long})
	s, ok := sanitized["content"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(s, strings.Repeat("a", 100)))
	assert.Contains(t, s, "[truncated 2000 chars]")
	assert.Less(t, len(s), 200)
}

func TestMemoryTrailFilters(t *testing.T) {
	trail := NewMemoryTrail()
	require.NoError(t, trail.Record(Entry{Time: time.Now(), SessionID: "s1", ToolName: "read", Success: true}))
	require.NoError(t, trail.Record(Entry{Time: time.Now(), SessionID: "s1", ToolName: "write", Success: false, Error: "denied"}))
	require.NoError(t, trail.Record(Entry{Time: time.Now(), SessionID: "s2", ToolName: "read", Success: true}))

	all, err := trail.Entries(Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	reads, _ := trail.Entries(Filter{ToolName: "read"})
	assert.Len(t, reads, 2)

	s1, _ := trail.Entries(Filter{SessionID: "s1"})
	assert.Len(t, s1, 2)

	failures, _ := trail.Entries(Filter{OnlyFailures: true})
	require.Len(t, failures, 1)
	assert.Equal(t, "write", failures[0].ToolName)

	limited, _ := trail.Entries(Filter{Limit: 2})
	assert.Len(t, limited, 2)
}

func TestMemoryTrailCapacity(t *testing.T) {
	trail := &MemoryTrail{capacity: 5}
	for i := 0; i < 10; i++ {
		require.NoError(t, trail.Record(Entry{ToolName: "t", Success: true}))
	}
	entries, _ := trail.Entries(Filter{})
	assert.Len(t, entries, 5)
}
