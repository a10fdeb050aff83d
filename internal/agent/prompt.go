package agent

import (
	"fmt"
	"strings"
	"time"

	"finrag/internal/domain"
)

// PromptConfig holds configuration for the prompt builder.
type PromptConfig struct {
	SystemPromptExtra string // custom text appended to the system prompt
}

type PromptBuilder struct {
	systemPromptExtra string
	now               func() time.Time
}

func NewPromptBuilder(cfg PromptConfig) *PromptBuilder {
	return &PromptBuilder{
		systemPromptExtra: cfg.SystemPromptExtra,
		now:               time.Now,
	}
}

// BuildSystemPrompt describes the assistant and the tools it may call.
func (p *PromptBuilder) BuildSystemPrompt(tools []domain.ToolDefinition) string {
	var b strings.Builder
	fmt.Fprintf(&b, `# finrag

You are a financial research assistant. You answer questions about the user's
ingested financial documents (annual reports, filings, statements) and general
finance questions.

## Current Time
%s

## RULES
1. For anything about the documents, call a tool first. Never invent figures.
2. Quote numbers exactly as they appear in the retrieved passages, with units and periods.
3. If the passages do not contain the answer, say so and answer from general knowledge, marked as not grounded in the documents.
4. Do NOT output raw JSON in your response. Use the tool calling mechanism.
5. After tool execution, present results clearly. Do not mention tool names to the user.
6. Respond in the same language the user writes in.`, p.now().Format("2006-01-02 15:04 (Monday)"))

	if len(tools) > 0 {
		b.WriteString("\n\n## Tools\n")
		for _, t := range tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}
	}

	if p.systemPromptExtra != "" {
		b.WriteString("\n\n## Custom Instructions\n")
		b.WriteString(p.systemPromptExtra)
	}
	return b.String()
}

// BuildMessages constructs [system + history + user question] for a turn.
// System messages in history are dropped; the builder owns the system prompt.
func (p *PromptBuilder) BuildMessages(history []domain.Message, question string, tools []domain.ToolDefinition) []domain.Message {
	messages := []domain.Message{
		{Role: domain.RoleSystem, Content: p.BuildSystemPrompt(tools)},
	}
	for _, m := range history {
		if m.Role == domain.RoleSystem {
			continue
		}
		messages = append(messages, m)
	}
	return append(messages, domain.Message{Role: domain.RoleUser, Content: question})
}
