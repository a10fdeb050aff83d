package agent

import (
	"strings"
	"testing"
	"time"

	"finrag/internal/domain"
)

func TestBuildSystemPrompt(t *testing.T) {
	p := NewPromptBuilder(PromptConfig{SystemPromptExtra: "Prefer USD."})
	p.now = func() time.Time { return time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC) }

	got := p.BuildSystemPrompt([]domain.ToolDefinition{{Name: "retrieve_context", Description: "search"}})
	for _, want := range []string{"2026-03-02 09:30 (Monday)", "- retrieve_context: search", "## Custom Instructions\nPrefer USD."} {
		if !strings.Contains(got, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}

	if bare := NewPromptBuilder(PromptConfig{}).BuildSystemPrompt(nil); strings.Contains(bare, "## Tools") || strings.Contains(bare, "Custom Instructions") {
		t.Errorf("unexpected optional sections in %q", bare)
	}
}

func TestBuildMessages(t *testing.T) {
	p := NewPromptBuilder(PromptConfig{})
	history := []domain.Message{
		{Role: domain.RoleSystem, Content: "stale"},
		{Role: domain.RoleUser, Content: "q1"},
		{Role: domain.RoleAssistant, Content: "a1"},
	}
	msgs := p.BuildMessages(history, "q2", nil)
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[0].Role != domain.RoleSystem || msgs[0].Content == "stale" {
		t.Errorf("system prompt not rebuilt: %+v", msgs[0])
	}
	if msgs[3].Role != domain.RoleUser || msgs[3].Content != "q2" {
		t.Errorf("question not appended: %+v", msgs[3])
	}
	if len(history) != 3 || history[0].Content != "stale" {
		t.Error("history was modified")
	}
}
