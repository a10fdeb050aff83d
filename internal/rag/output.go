package rag

import (
	"regexp"
	"strings"
)

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// CleanOutput turns raw model output into plain answer text: reasoning blocks
// and leaked role prefixes are removed and whitespace trimmed.
func CleanOutput(content string) string {
	content = thinkBlock.ReplaceAllString(content, "")
	if i := strings.Index(content, "<think>"); i >= 0 {
		// Unterminated block: everything after the tag is reasoning.
		content = content[:i]
	}
	return StripRolePrefix(strings.TrimSpace(content))
}

// StripRolePrefix removes role-name prefixes that some LLMs (especially smaller
// local models) leak into their content. Examples: "assistant\nHello" → "Hello",
// "Assistant: Hello" → "Hello".
func StripRolePrefix(content string) string {
	prefixes := []string{
		"assistant\n",
		"Assistant\n",
		"assistant:\n",
		"Assistant:\n",
		"assistant: ",
		"Assistant: ",
		"AI: ",
		"Answer: ",
	}
	trimmed := content
	for _, p := range prefixes {
		if strings.HasPrefix(trimmed, p) {
			trimmed = strings.TrimSpace(trimmed[len(p):])
			break
		}
	}
	return trimmed
}
