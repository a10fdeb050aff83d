// Package rag answers questions from retrieved document context.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"finrag/internal/domain"
	"finrag/internal/knowledge"
)

const DefaultTemperature = 0.1

const groundedTemplate = `Answer the question based only on the following context:
{context}

Question: {question}

Answer: `

// ungroundedTemplate is used when retrieval found nothing. The context section
// stays empty and the model is told to flag its answer.
const ungroundedTemplate = `No context from the documents matched this question:
{context}
Answer from general knowledge and state clearly that the answer is not grounded in the documents.

Question: {question}

Answer: `

// Retriever returns the chunks most similar to a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string) ([]domain.SearchResult, error)
}

type Config struct {
	Retriever   Retriever
	Provider    domain.Provider
	Model       string  // empty uses the provider default
	Temperature float64 // defaults to 0.1
	MaxTokens   int
	Logger      *slog.Logger
}

// Composer renders retrieved context into a prompt and asks the model.
type Composer struct {
	retriever   Retriever
	provider    domain.Provider
	model       string
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

func NewComposer(cfg Config) (*Composer, error) {
	if cfg.Retriever == nil || cfg.Provider == nil {
		return nil, fmt.Errorf("rag: retriever and provider are required")
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Composer{
		retriever:   cfg.Retriever,
		provider:    cfg.Provider,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      cfg.Logger,
	}, nil
}

// Answer retrieves context for question and returns the model's cleaned
// answer. An empty retrieval is not an error.
func (c *Composer) Answer(ctx context.Context, question string) (string, error) {
	results, err := c.retriever.Retrieve(ctx, question)
	if err != nil {
		return "", fmt.Errorf("retrieve context: %w", err)
	}
	if len(results) == 0 {
		c.logger.Info("no context retrieved, answering ungrounded", "question", question)
	}

	resp, err := c.provider.Chat(ctx, domain.ChatRequest{
		Messages:    []domain.Message{{Role: domain.RoleUser, Content: Prompt(question, results)}},
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	c.logger.Debug("answer generated", "chunks", len(results), "latency_ms", resp.LatencyMs)
	return CleanOutput(resp.Content), nil
}

// Prompt renders the answer prompt for question over results.
func Prompt(question string, results []domain.SearchResult) string {
	tmpl := groundedTemplate
	if len(results) == 0 {
		tmpl = ungroundedTemplate
	}
	// Single pass: braces inside chunk text or the question stay literal.
	r := strings.NewReplacer("{context}", knowledge.BuildContext(results), "{question}", question)
	return r.Replace(tmpl)
}
