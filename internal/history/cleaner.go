package history

import "log/slog"

// todoToolName is the tool whose call/result pairs accumulate obsolete
// state worth pruning.
const todoToolName = "todo_write"

// Cleaner removes or rewrites messages before compaction. The retention
// window protects recent context: cleaners never touch messages inside it.
type Cleaner interface {
	Clean(messages []Message, retentionWindow int) []Message
}

// TODOCleaner removes todo_write call/result pairs whose both members fall
// outside the retention window. A pair with any member inside retention is
// kept whole, so no orphaned call or result is ever produced.
type TODOCleaner struct{}

func (TODOCleaner) Clean(messages []Message, retentionWindow int) []Message {
	if len(messages) == 0 {
		return messages
	}
	retentionStart := len(messages) - retentionWindow
	if retentionStart < 0 {
		retentionStart = 0
	}

	// Call ids whose result sits inside the retention window stay.
	keep := make(map[string]struct{})
	for i := retentionStart; i < len(messages); i++ {
		if r, ok := messages[i].(ToolResultMessage); ok {
			keep[r.CallID] = struct{}{}
		}
	}

	// Todo calls outside retention whose id is not protected get removed,
	// together with their results.
	remove := make(map[string]struct{})
	for i := 0; i < retentionStart; i++ {
		tc, ok := messages[i].(ToolCallMessage)
		if !ok {
			continue
		}
		for _, call := range tc.Calls {
			if call.Name != todoToolName {
				continue
			}
			if _, protected := keep[call.ID]; !protected {
				remove[call.ID] = struct{}{}
			}
		}
	}
	if len(remove) == 0 {
		return messages
	}

	cleaned := make([]Message, 0, len(messages))
	removed := 0
	for i, msg := range messages {
		if i < retentionStart && todoMessageMatches(msg, remove) {
			removed++
			continue
		}
		cleaned = append(cleaned, msg)
	}
	if removed > 0 {
		slog.Debug("history.todo_cleaned", "removed", removed)
	}
	return cleaned
}

func todoMessageMatches(msg Message, ids map[string]struct{}) bool {
	switch m := msg.(type) {
	case ToolCallMessage:
		for _, call := range m.Calls {
			if call.Name != todoToolName {
				continue
			}
			if _, ok := ids[call.ID]; ok {
				return true
			}
		}
	case ToolResultMessage:
		_, ok := ids[m.CallID]
		return ok
	}
	return false
}

// DuplicateCleaner removes a message that repeats its predecessor (same kind
// and content) when it lies outside the retention window.
type DuplicateCleaner struct{}

func (DuplicateCleaner) Clean(messages []Message, retentionWindow int) []Message {
	if len(messages) <= 1 {
		return messages
	}
	retentionStart := len(messages) - retentionWindow
	if retentionStart < 0 {
		retentionStart = 0
	}

	cleaned := make([]Message, 0, len(messages))
	removed := 0
	for i, msg := range messages {
		if i >= 1 && i < retentionStart && isDuplicate(messages[i-1], msg) {
			removed++
			continue
		}
		cleaned = append(cleaned, msg)
	}
	if removed > 0 {
		slog.Debug("history.duplicates_cleaned", "removed", removed)
	}
	return cleaned
}

func isDuplicate(a, b Message) bool {
	return a.Kind() == b.Kind() && a.Text() == b.Text()
}

// CompositeCleaner applies an ordered list of cleaners.
type CompositeCleaner []Cleaner

func (c CompositeCleaner) Clean(messages []Message, retentionWindow int) []Message {
	for _, cleaner := range c {
		messages = cleaner.Clean(messages, retentionWindow)
	}
	return messages
}
