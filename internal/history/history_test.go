package history

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerBudgetResolution(t *testing.T) {
	t.Run("explicit", func(t *testing.T) {
		m := NewManager(SimpleSummarizer{}, Config{MaxTokens: 1234})
		assert.Equal(t, 1234, m.MaxTokens())
	})
	t.Run("derived from model", func(t *testing.T) {
		m := NewManager(SimpleSummarizer{}, Config{
			Model:              &ModelLimits{ContextWindow: 200000, MaxOutputTokens: 8192},
			SystemPromptTokens: 1000,
			ToolsTokens:        500,
		})
		assert.Equal(t, 200000-8192-1000-500-DefaultBufferTokens, m.MaxTokens())
	})
	t.Run("default", func(t *testing.T) {
		m := NewManager(SimpleSummarizer{}, Config{})
		assert.Equal(t, DefaultMaxTokens, m.MaxTokens())
	})
}

func TestTokenEstimate(t *testing.T) {
	m := NewManager(SimpleSummarizer{}, Config{MaxTokens: 100000})
	m.Add(context.Background(), UserMessage{Content: strings.Repeat("x", 400)})
	assert.Equal(t, 100, m.TokenEstimate())
}

// The selective-retention scenario: system + goal survive, the middle
// becomes a summary, and the tool call/result pair stays intact.
func TestCompactPreservesToolCallPairs(t *testing.T) {
	m := NewManager(SimpleSummarizer{}, Config{MaxTokens: 50, RetentionWindow: 3})

	msgs := []Message{
		SystemMessage{Content: "S"},
		UserMessage{Content: "goal"},
	}
	for i := 0; i < 5; i++ {
		msgs = append(msgs, UserMessage{Content: "middle middle middle middle middle"})
	}
	msgs = append(msgs,
		ToolCallMessage{Calls: []ToolCall{{ID: "call_X", Name: "write"}}},
		ToolResultMessage{CallID: "call_X", Content: "ok"},
		UserMessage{Content: "tail"},
	)
	m.messages = msgs

	m.Compact(context.Background())

	result := m.Messages()
	require.Len(t, result, 6)
	assert.Equal(t, KindSystem, result[0].Kind())
	assert.Equal(t, "goal", result[1].Text())
	assert.Equal(t, KindSystem, result[2].Kind(), "summary replaces the middle")

	callIdx, resultIdx := -1, -1
	for i, msg := range result {
		switch v := msg.(type) {
		case ToolCallMessage:
			for _, c := range v.Calls {
				if c.ID == "call_X" {
					callIdx = i
				}
			}
		case ToolResultMessage:
			if v.CallID == "call_X" {
				resultIdx = i
			}
		}
	}
	require.NotEqual(t, -1, callIdx)
	require.NotEqual(t, -1, resultIdx)
	assert.Less(t, callIdx, resultIdx, "tool call must precede its result")

	summary, ok := m.Summary()
	require.True(t, ok)
	assert.Contains(t, summary.Content, "Compacted")
}

func TestCompactNoopWhenShort(t *testing.T) {
	m := NewManager(SimpleSummarizer{}, Config{MaxTokens: 50, RetentionWindow: 10})
	m.messages = []Message{
		SystemMessage{Content: "S"},
		UserMessage{Content: "hello"},
	}
	m.Compact(context.Background())
	assert.Len(t, m.Messages(), 2)
	_, ok := m.Summary()
	assert.False(t, ok)
}

func TestAddTriggersCompaction(t *testing.T) {
	m := NewManager(SimpleSummarizer{}, Config{MaxTokens: 30, RetentionWindow: 3})
	ctx := context.Background()

	m.Add(ctx, SystemMessage{Content: "sys"})
	m.Add(ctx, UserMessage{Content: "goal"})
	for i := 0; i < 10; i++ {
		m.Add(ctx, UserMessage{Content: strings.Repeat("chatter ", 5)})
	}

	assert.Less(t, m.Len(), 12, "compaction should have shrunk the history")
	_, ok := m.Summary()
	assert.True(t, ok)
}

func TestAutoRemoveOldTodos(t *testing.T) {
	m := NewManager(SimpleSummarizer{}, Config{
		MaxTokens:          100000,
		RetentionWindow:    2,
		AutoRemoveOldTODOs: true,
	})
	ctx := context.Background()

	m.Add(ctx, ToolCallMessage{Calls: []ToolCall{{ID: "todo_1", Name: "todo_write"}}})
	m.Add(ctx, ToolResultMessage{CallID: "todo_1", Content: "old todos"})
	for i := 0; i < 4; i++ {
		m.Add(ctx, UserMessage{Content: "filler"})
	}
	m.Add(ctx, ToolCallMessage{Calls: []ToolCall{{ID: "todo_2", Name: "todo_write"}}})
	before := m.Len()
	m.Add(ctx, ToolResultMessage{CallID: "todo_2", Content: "new todos"})

	assert.Equal(t, before-1, m.Len(), "old todo pair removed, new result added")
	for _, msg := range m.Messages() {
		if r, ok := msg.(ToolResultMessage); ok {
			assert.NotEqual(t, "todo_1", r.CallID)
		}
	}
}

func TestWireFormat(t *testing.T) {
	m := NewManager(SimpleSummarizer{}, Config{MaxTokens: 100000})
	ctx := context.Background()
	m.Add(ctx, SystemMessage{Content: "sys"})
	m.Add(ctx, UserMessage{Content: "hi"})
	m.Add(ctx, ToolCallMessage{Calls: []ToolCall{{ID: "c1", Name: "read", Arguments: map[string]any{"path": "a.txt"}}}})
	m.Add(ctx, BatchToolResultMessage{Results: []ToolResultMessage{
		{CallID: "c1", Content: "contents"},
	}})
	m.Add(ctx, EnvironmentMessage{EventType: "fs", Content: "file changed"})
	m.Add(ctx, LLMRespondMessage{Content: "done"})

	wire := m.Wire()
	require.Len(t, wire, 6)
	assert.Equal(t, "system", wire[0].Role)
	assert.Equal(t, "user", wire[1].Role)
	assert.Equal(t, "assistant", wire[2].Role)
	require.Len(t, wire[2].ToolCalls, 1)
	assert.Equal(t, "read", wire[2].ToolCalls[0].Function.Name)
	assert.Contains(t, wire[2].ToolCalls[0].Function.Arguments, "a.txt")
	assert.Equal(t, "tool", wire[3].Role)
	assert.Equal(t, "c1", wire[3].ToolCallID)
	assert.Equal(t, "user", wire[4].Role)
	assert.Contains(t, wire[4].Content, "[Environment: fs]")
	assert.Equal(t, "assistant", wire[5].Role)
}
