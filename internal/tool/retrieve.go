package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"finrag/internal/domain"
	"finrag/internal/stream"
)

// Retriever returns the chunks most similar to a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string) ([]domain.SearchResult, error)
}

// RetrieveTool exposes similarity retrieval to the agent. The result is a
// JSON array of chunk texts in retrieval order.
type RetrieveTool struct {
	retriever Retriever
}

func NewRetrieveTool(r Retriever) *RetrieveTool {
	return &RetrieveTool{retriever: r}
}

func (t *RetrieveTool) Name() string { return "retrieve_context" }
func (t *RetrieveTool) Description() string {
	return "Search the ingested financial documents and return the most relevant text passages. Use it before answering questions about the documents."
}
func (t *RetrieveTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"query": {Type: "string", Description: "The question or keywords to search for"},
	}, []string{"query"})
}

func (t *RetrieveTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := strings.TrimSpace(ArgsString(args, "query"))
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	em := stream.FromContext(ctx)
	em.Progress(t.Name(), fmt.Sprintf("searching documents for %q", query))

	results, err := t.retriever.Retrieve(ctx, query)
	if err != nil {
		return "", err
	}
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Chunk.Text
	}
	em.Progress(t.Name(), fmt.Sprintf("found %d passages", len(texts)))

	b, err := json.Marshal(texts)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
