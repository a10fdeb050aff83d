package tool

import (
	"context"
	"fmt"
	"strings"

	"finrag/internal/stream"
)

// Answerer produces a grounded answer to a question.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

// AskTool delegates a question to the retrieval-augmented composer and
// returns its plain-text answer.
type AskTool struct {
	answerer Answerer
}

func NewAskTool(a Answerer) *AskTool {
	return &AskTool{answerer: a}
}

func (t *AskTool) Name() string { return "ask_documents" }
func (t *AskTool) Description() string {
	return "Answer a factual question using only the ingested financial documents. Returns a complete answer rather than raw passages."
}
func (t *AskTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"question": {Type: "string", Description: "The question to answer from the documents"},
	}, []string{"question"})
}

func (t *AskTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	question := strings.TrimSpace(ArgsString(args, "question"))
	if question == "" {
		return "", fmt.Errorf("question is required")
	}
	stream.FromContext(ctx).Progress(t.Name(), "composing answer from documents")
	return t.answerer.Answer(ctx, question)
}
