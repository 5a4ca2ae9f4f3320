package agent

import (
	"regexp"
	"strings"
)

const maxResultBytes = 64 * 1024 // 64KB

// Patterns that must never flow back into the conversation verbatim;
// a tool result that echoes tool-call syntax can derail the model.
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[tool_call\]`),
	regexp.MustCompile(`\[tool_use\]`),
	regexp.MustCompile(`<tool_call>`),
	regexp.MustCompile(`<function_call>`),
	regexp.MustCompile(`"tool_calls"\s*:\s*\[`),
}

// sanitizeResult caps a tool result's size and masks tool-call syntax
// before it is appended to the conversation.
func sanitizeResult(s string) string {
	if s == "" {
		return s
	}
	if len(s) > maxResultBytes {
		s = s[:maxResultBytes] + "\n[truncated: response exceeded size limit]"
	}
	for _, pat := range forbiddenPatterns {
		s = pat.ReplaceAllStringFunc(s, func(match string) string {
			return strings.Repeat("*", len(match))
		})
	}
	return s
}
