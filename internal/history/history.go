package history

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Defaults applied when the manager's config leaves fields zero.
const (
	DefaultMaxTokens       = 4000
	DefaultRetentionWindow = 10
	DefaultBufferTokens    = 500
	charsPerToken          = 4
)

// ModelLimits describes the model the history feeds; the usable budget is
// derived from it when MaxTokens is not set explicitly.
type ModelLimits struct {
	ContextWindow   int
	MaxOutputTokens int
}

// Config tunes a Manager. The zero value yields conservative defaults.
type Config struct {
	// MaxTokens overrides the derived budget when positive.
	MaxTokens int
	// Model derives the budget: context window minus output, prompt,
	// tools, and buffer tokens.
	Model              *ModelLimits
	SystemPromptTokens int
	ToolsTokens        int
	BufferTokens       int

	// RetentionWindow is the number of recent messages kept verbatim.
	RetentionWindow int
	// AutoRemoveOldTODOs prunes stale todo_write pairs as new ones arrive.
	AutoRemoveOldTODOs bool
	// ProactiveThreshold compacts early at the given fraction of the
	// budget (0 disables; 0.8 compacts at 80%).
	ProactiveThreshold float64

	// Strategy defaults to SelectiveRetention.
	Strategy Strategy
	// Cleaner runs before compaction analysis; optional.
	Cleaner Cleaner
}

// Manager owns one session's conversation history. It is single-consumer:
// the agent controller steps it serially, so no internal locking.
type Manager struct {
	summarizer Summarizer
	cfg        Config
	maxTokens  int

	messages []Message
	summary  *SystemMessage
}

// NewManager creates a history manager. The summarizer is required; pass
// SimpleSummarizer{} when no LLM is available.
func NewManager(summarizer Summarizer, cfg Config) *Manager {
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = DefaultRetentionWindow
	}
	if cfg.BufferTokens <= 0 {
		cfg.BufferTokens = DefaultBufferTokens
	}
	if cfg.Strategy == nil {
		cfg.Strategy = SelectiveRetention{}
	}

	maxTokens := cfg.MaxTokens
	switch {
	case maxTokens > 0:
		slog.Debug("history.explicit_budget", "max_tokens", maxTokens)
	case cfg.Model != nil:
		maxTokens = cfg.Model.ContextWindow - cfg.Model.MaxOutputTokens -
			cfg.SystemPromptTokens - cfg.ToolsTokens - cfg.BufferTokens
		if maxTokens <= 0 {
			maxTokens = DefaultMaxTokens
		}
		slog.Debug("history.derived_budget", "max_tokens", maxTokens,
			"context_window", cfg.Model.ContextWindow)
	default:
		maxTokens = DefaultMaxTokens
		slog.Warn("history.default_budget", "max_tokens", maxTokens)
	}

	return &Manager{summarizer: summarizer, cfg: cfg, maxTokens: maxTokens}
}

// MaxTokens returns the resolved budget.
func (m *Manager) MaxTokens() int { return m.maxTokens }

// Len returns the current message count.
func (m *Manager) Len() int { return len(m.messages) }

// Messages returns a copy of the effective message list.
func (m *Manager) Messages() []Message {
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Summary returns the current compaction summary, if one exists.
func (m *Manager) Summary() (SystemMessage, bool) {
	if m.summary == nil {
		return SystemMessage{}, false
	}
	return *m.summary, true
}

// Add appends a message and compacts when the token estimate crosses the
// budget. Incoming todo results first prune their predecessors when
// AutoRemoveOldTODOs is set.
func (m *Manager) Add(ctx context.Context, msg Message) {
	if m.cfg.AutoRemoveOldTODOs && m.isNewTodoResult(msg) {
		m.messages = TODOCleaner{}.Clean(m.messages, m.cfg.RetentionWindow)
	}
	m.messages = append(m.messages, msg)

	estimate := m.TokenEstimate()
	threshold := m.maxTokens
	if m.cfg.ProactiveThreshold > 0 {
		threshold = int(float64(m.maxTokens) * m.cfg.ProactiveThreshold)
	}
	if estimate > threshold {
		slog.Info("history.compacting", "tokens", estimate, "budget", m.maxTokens,
			"messages", len(m.messages))
		m.Compact(ctx)
	}
}

// TokenEstimate approximates the history's token count at four characters
// per token.
func (m *Manager) TokenEstimate() int {
	chars := 0
	for _, msg := range m.messages {
		chars += len(msg.Text())
	}
	return chars / charsPerToken
}

// Compact replaces the middle of the conversation with a summary message.
// After compaction every tool result in the remaining list still has its
// originating tool call before it.
func (m *Manager) Compact(ctx context.Context) {
	msgs := m.messages
	if m.cfg.Cleaner != nil {
		msgs = m.cfg.Cleaner.Clean(msgs, m.cfg.RetentionWindow)
	}

	analysis := m.cfg.Strategy.Analyze(msgs, m.cfg.RetentionWindow)
	if len(analysis.Middle) == 0 {
		m.messages = msgs
		return
	}

	summaryText := m.summarizer.Summarize(ctx, analysis.Middle)
	summary := SystemMessage{Content: summaryText}
	m.summary = &summary

	rebuilt := make([]Message, 0, len(analysis.Head)+1+len(analysis.Tail))
	rebuilt = append(rebuilt, analysis.Head...)
	rebuilt = append(rebuilt, summary)
	rebuilt = append(rebuilt, analysis.Tail...)
	m.messages = rebuilt

	slog.Info("history.compacted", "messages", len(m.messages), "tokens", m.TokenEstimate())
}

// isNewTodoResult reports whether msg is the result of a todo_write call
// already present in history.
func (m *Manager) isNewTodoResult(msg Message) bool {
	result, ok := msg.(ToolResultMessage)
	if !ok {
		return false
	}
	for i := len(m.messages) - 1; i >= 0; i-- {
		tc, ok := m.messages[i].(ToolCallMessage)
		if !ok {
			continue
		}
		for _, call := range tc.Calls {
			if call.ID == result.CallID && call.Name == todoToolName {
				return true
			}
		}
	}
	return false
}

// WireMessage is the provider-facing wire shape of one message.
type WireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []WireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// WireToolCall mirrors the function-call wire format.
type WireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function WireFunction `json:"function"`
}

// WireFunction carries the tool name and JSON-encoded arguments.
type WireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Wire converts the history into provider wire format. Batch results expand
// into one tool message per contained result.
func (m *Manager) Wire() []WireMessage {
	var out []WireMessage
	for _, msg := range m.messages {
		switch v := msg.(type) {
		case UserMessage:
			out = append(out, WireMessage{Role: "user", Content: v.Content})
		case SystemMessage:
			out = append(out, WireMessage{Role: "system", Content: v.Content})
		case EnvironmentMessage:
			out = append(out, WireMessage{Role: "user",
				Content: "[Environment: " + v.EventType + "] " + v.Content})
		case LLMRespondMessage:
			out = append(out, WireMessage{Role: "assistant", Content: v.Content})
		case ToolCallMessage:
			wm := WireMessage{Role: "assistant", Content: v.Content}
			for _, call := range v.Calls {
				args, _ := json.Marshal(call.Arguments)
				wm.ToolCalls = append(wm.ToolCalls, WireToolCall{
					ID:   call.ID,
					Type: "function",
					Function: WireFunction{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, wm)
		case ToolResultMessage:
			out = append(out, WireMessage{Role: "tool", Content: v.Content, ToolCallID: v.CallID})
		case BatchToolResultMessage:
			for _, r := range v.Results {
				out = append(out, WireMessage{Role: "tool", Content: r.Content, ToolCallID: r.CallID})
			}
		}
	}
	return out
}
