package validation

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// CommandError reports a rejected bash command and the pattern that matched.
type CommandError struct {
	Message string
	Command string
	Pattern string
}

func (e *CommandError) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("%s: pattern=%q in command=%q", e.Message, e.Pattern, e.Command)
	}
	return fmt.Sprintf("%s: %q", e.Message, e.Command)
}

// defaultBlockedPatterns is the strict-mode denylist: destructive commands,
// privilege escalation, device writes, and pipe-to-shell downloads.
var defaultBlockedPatterns = []string{
	`\brm\s+-rf\s+/`,
	`\bdd\s+if=`,
	`\bmkfs\b`,
	`\bformat\b`,
	`>\s*/dev/`,
	`\bsudo\b`,
	`\bchmod\s+777\b`,
	`\bcurl\b.*\|\s*bash`,
	`\bwget\b.*\|\s*bash`,
	`\bnc\s+`,
	`\bncat\s+`,
}

// criticalPatterns is the permissive-mode subset.
var criticalPatterns = []string{
	`\brm\s+-rf\s+/`,
	`>\s*/dev/`,
	`\bsudo\b`,
}

var firstToken = regexp.MustCompile(`^\s*(\S+)`)

// CommandValidator blocks dangerous bash commands by regex denylist, with
// an optional whitelist of allowed command names.
type CommandValidator struct {
	mode            Mode
	allowedCommands map[string]struct{}
	blocked         []*regexp.Regexp
}

// NewCommandValidator compiles the pattern set for the given mode. Extra
// patterns extend the strict defaults; invalid regexes are skipped with a
// warning.
func NewCommandValidator(mode Mode, allowedCommands []string, extraPatterns []string) *CommandValidator {
	v := &CommandValidator{mode: mode}
	if len(allowedCommands) > 0 {
		v.allowedCommands = make(map[string]struct{}, len(allowedCommands))
		for _, cmd := range allowedCommands {
			v.allowedCommands[cmd] = struct{}{}
		}
	}

	var patterns []string
	switch mode {
	case ModePermissive:
		patterns = criticalPatterns
	case ModeStrict:
		patterns = append(patterns, defaultBlockedPatterns...)
		patterns = append(patterns, extraPatterns...)
	}
	for _, p := range patterns {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			slog.Warn("security.invalid_pattern", "pattern", p, "error", err)
			continue
		}
		v.blocked = append(v.blocked, re)
	}
	return v
}

// Validate rejects commands matching a blocked pattern or, when a whitelist
// is configured, whose first token is not in it.
func (v *CommandValidator) Validate(command string) error {
	if v.mode == ModeDisabled {
		return nil
	}
	if strings.TrimSpace(command) == "" {
		return &CommandError{Message: "empty command not allowed", Command: command}
	}
	for _, re := range v.blocked {
		if re.MatchString(command) {
			slog.Warn("security.command_blocked", "command", command, "pattern", re.String())
			return &CommandError{
				Message: "dangerous command pattern blocked",
				Command: command,
				Pattern: re.String(),
			}
		}
	}
	if v.allowedCommands != nil {
		match := firstToken.FindStringSubmatch(command)
		if match != nil {
			if _, ok := v.allowedCommands[match[1]]; !ok {
				slog.Warn("security.command_not_allowed", "command", match[1])
				return &CommandError{
					Message: "command not in allowed list",
					Command: command,
				}
			}
		}
	}
	return nil
}

// IsSafe is Validate without the error detail.
func (v *CommandValidator) IsSafe(command string) bool {
	return v.Validate(command) == nil
}
