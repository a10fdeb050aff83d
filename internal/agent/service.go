package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"finrag/internal/domain"
	"finrag/internal/stream"
)

type ServiceConfig struct {
	Graph        *Graph
	Prompt       *PromptBuilder // optional
	StreamBuffer int
	Logger       *slog.Logger
}

// Service is the query interface over the agent graph: a streaming turn or a
// single final answer.
type Service struct {
	graph  *Graph
	prompt *PromptBuilder
	buffer int
	logger *slog.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Graph == nil {
		return nil, fmt.Errorf("agent: graph is required")
	}
	if cfg.Prompt == nil {
		cfg.Prompt = NewPromptBuilder(PromptConfig{})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		graph:  cfg.Graph,
		prompt: cfg.Prompt,
		buffer: cfg.StreamBuffer,
		logger: cfg.Logger,
	}, nil
}

// Stream runs one turn for question on top of history and returns its event
// stream. The channel must be drained.
func (s *Service) Stream(ctx context.Context, history []domain.Message, question string) <-chan domain.StreamEvent {
	events, _ := s.stream(ctx, history, question)
	return events
}

// Ask runs one turn and returns the last message of the last node update.
// A turn that does not reach done returns its error.
func (s *Service) Ask(ctx context.Context, history []domain.Message, question string) (string, error) {
	events, result := s.stream(ctx, history, question)
	c := stream.Collect(events)
	if err := result(); err != nil {
		return "", err
	}
	if serr := c.Err(); serr != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrTurnCancelled, serr.Message)
	}
	answer, ok := c.FinalAnswer()
	if !ok {
		return "", errors.New("agent: turn produced no answer")
	}
	return answer, nil
}

// stream starts the turn. result reports the graph's error and may only be
// called after the event channel has closed.
func (s *Service) stream(ctx context.Context, history []domain.Message, question string) (<-chan domain.StreamEvent, func() error) {
	turnID := ulid.Make().String()
	var runErr error
	produce := func(ctx context.Context, e *stream.Emitter) error {
		messages := s.prompt.BuildMessages(history, question, s.graph.Definitions())
		messages[len(messages)-1].ID = ulid.Make().String()
		s.logger.Info("turn started", "turn", turnID, "history", len(history))
		_, runErr = s.graph.Run(ctx, messages, e)
		if runErr != nil {
			s.logger.Warn("turn ended early", "turn", turnID, "err", runErr)
		}
		return runErr
	}
	events := stream.Run(ctx, produce, stream.Options{Buffer: s.buffer, Logger: s.logger})
	return events, func() error { return runErr }
}
