package history

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Summarizer condenses a slice of messages into a single summary string.
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message) string
}

// TextGenerator is the minimal LLM surface the history package consumes.
// Provider adapters live outside the core.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// SimpleSummarizer counts message types and tool usage. No dependencies,
// always succeeds.
type SimpleSummarizer struct{}

func (SimpleSummarizer) Summarize(_ context.Context, messages []Message) string {
	if len(messages) == 0 {
		return "[No messages to summarize]"
	}

	userMessages := 0
	toolCalls := 0
	toolNames := make(map[string]struct{})
	for _, msg := range messages {
		switch m := msg.(type) {
		case UserMessage:
			userMessages++
		case ToolCallMessage:
			toolCalls += len(m.Calls)
			for _, call := range m.Calls {
				toolNames[call.Name] = struct{}{}
			}
		}
	}

	parts := []string{fmt.Sprintf("[Compacted %d messages]", len(messages))}
	if userMessages > 0 {
		parts = append(parts, fmt.Sprintf("%d user interaction(s)", userMessages))
	}
	if toolCalls > 0 {
		names := make([]string, 0, len(toolNames))
		for name := range toolNames {
			names = append(names, name)
		}
		sort.Strings(names)
		parts = append(parts, fmt.Sprintf("%d tool call(s): %s", toolCalls, strings.Join(names, ", ")))
	}
	return strings.Join(parts, " | ")
}

const summaryPromptTemplate = `You are a conversation history summarizer. Create a concise summary of the following conversation history.

Focus on:
1. Key user requests and goals
2. Important actions taken (files edited, commands run, etc.)
3. Significant results or findings
4. Current state or context

Be concise but preserve important details.

Conversation to summarize:
%s

Provide a brief summary (2-4 sentences or bullet points):`

// LLMSummarizer asks a model for the summary and falls back to
// SimpleSummarizer on any failure.
type LLMSummarizer struct {
	Generator        TextGenerator
	MaxSummaryTokens int
}

// NewLLMSummarizer wires a generator with the default summary budget.
func NewLLMSummarizer(gen TextGenerator) *LLMSummarizer {
	return &LLMSummarizer{Generator: gen, MaxSummaryTokens: 200}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, messages []Message) string {
	if len(messages) == 0 {
		return "[No messages to summarize]"
	}
	prompt := fmt.Sprintf(summaryPromptTemplate, formatForSummary(messages))
	summary, err := s.Generator.Generate(ctx, prompt, s.MaxSummaryTokens)
	summary = strings.TrimSpace(summary)
	if err != nil || summary == "" {
		slog.Warn("history.llm_summary_failed", "error", err)
		return SimpleSummarizer{}.Summarize(ctx, messages)
	}
	return fmt.Sprintf("[Summary of %d messages] %s", len(messages), summary)
}

// formatForSummary renders messages as readable lines: user text, tool-call
// names, truncated tool results.
func formatForSummary(messages []Message) string {
	var lines []string
	for _, msg := range messages {
		switch m := msg.(type) {
		case UserMessage:
			lines = append(lines, "User: "+m.Content)
		case ToolCallMessage:
			for _, call := range m.Calls {
				lines = append(lines, "Agent called: "+call.Name)
			}
		case ToolResultMessage:
			content := m.Content
			if len(content) > 200 {
				content = content[:200] + "..."
			}
			lines = append(lines, "Result: "+content)
		}
	}
	return strings.Join(lines, "\n")
}

// HybridSummarizer uses the simple strategy below a message-count threshold
// and the LLM above it.
type HybridSummarizer struct {
	LLM       *LLMSummarizer
	Threshold int
}

// NewHybridSummarizer wires a generator with the default threshold.
func NewHybridSummarizer(gen TextGenerator) *HybridSummarizer {
	return &HybridSummarizer{LLM: NewLLMSummarizer(gen), Threshold: 20}
}

func (s *HybridSummarizer) Summarize(ctx context.Context, messages []Message) string {
	if len(messages) <= s.Threshold {
		return SimpleSummarizer{}.Summarize(ctx, messages)
	}
	return s.LLM.Summarize(ctx, messages)
}
