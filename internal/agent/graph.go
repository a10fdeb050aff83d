package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"finrag/internal/domain"
	"finrag/internal/metrics"
	"finrag/internal/rag"
	"finrag/internal/stream"
)

const (
	defaultMaxIterations   = 20
	defaultTemperature     = 0.7
	defaultLLMMaxTokens    = 4096
	defaultToolParallelism = 4
)

// Tools is the tool capability the graph executes calls against.
type Tools interface {
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
	GetDefinitions() []domain.ToolDefinition
}

type GraphConfig struct {
	Provider        domain.Provider
	Tools           Tools // optional
	Model           string
	MaxIterations   int     // reasoning steps per turn (default 20)
	Temperature     float64 // default 0.7
	MaxTokens       int
	ToolParallelism int // concurrent tool calls (default 4)
	Logger          *slog.Logger
}

// Graph runs one conversation turn as a state machine over the reasoning,
// tools and done nodes.
type Graph struct {
	provider        domain.Provider
	tools           Tools
	model           string
	maxIterations   int
	temperature     float64
	maxTokens       int
	toolParallelism int
	logger          *slog.Logger
}

func NewGraph(cfg GraphConfig) (*Graph, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("agent: provider is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultLLMMaxTokens
	}
	if cfg.ToolParallelism <= 0 {
		cfg.ToolParallelism = defaultToolParallelism
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Graph{
		provider:        cfg.Provider,
		tools:           cfg.Tools,
		model:           cfg.Model,
		maxIterations:   cfg.MaxIterations,
		temperature:     cfg.Temperature,
		maxTokens:       cfg.MaxTokens,
		toolParallelism: cfg.ToolParallelism,
		logger:          cfg.Logger,
	}, nil
}

// Definitions returns the tool definitions offered to the model.
func (g *Graph) Definitions() []domain.ToolDefinition {
	if g.tools == nil {
		return nil
	}
	return g.tools.GetDefinitions()
}

// turn is the mutable state of one Run. It owns the authoritative message
// list; nothing outside the turn appends to it.
type turn struct {
	messages   []domain.Message
	emitter    *stream.Emitter
	iterations int
}

// transition executes the node and returns the next one.
type transition func(ctx context.Context, t *turn) (domain.Node, error)

func (g *Graph) transitions() map[domain.Node]transition {
	return map[domain.Node]transition{
		domain.NodeReasoning: g.reason,
		domain.NodeTools:     g.executeTools,
	}
}

// Run drives the turn from the reasoning node until done and returns the
// full message list, input included. Each completed node emits a NodeUpdate
// through em; em may be nil.
//
// On cancellation the in-flight assistant message is discarded and the error
// wraps domain.ErrTurnCancelled. A turn that keeps requesting tools past the
// iteration budget fails with domain.ErrIterationLimit.
func (g *Graph) Run(ctx context.Context, messages []domain.Message, em *stream.Emitter) ([]domain.Message, error) {
	t := &turn{messages: slices.Clone(messages), emitter: em}
	table := g.transitions()
	start := time.Now()
	defer metrics.TurnsTotal.Inc()

	node := domain.NodeReasoning
	for node != domain.NodeDone {
		if err := ctx.Err(); err != nil {
			return t.messages, cancelled(err)
		}
		step, ok := table[node]
		if !ok {
			return t.messages, fmt.Errorf("agent: no transition for node %q", node)
		}
		next, err := step(ctx, t)
		if err != nil {
			return t.messages, err
		}
		g.logger.Debug("node transition", "from", node, "to", next, "iteration", t.iterations)
		node = next
	}

	g.logger.Info("turn complete", "iterations", t.iterations, "messages", len(t.messages), "duration", time.Since(start))
	return t.messages, nil
}

// reason streams one model response. The reply with no tool calls ends the
// turn and is reported under the done node.
func (g *Graph) reason(ctx context.Context, t *turn) (domain.Node, error) {
	if t.iterations >= g.maxIterations {
		metrics.IterationLimitHits.Inc()
		return "", fmt.Errorf("%w: %d reasoning steps", domain.ErrIterationLimit, g.maxIterations)
	}
	t.iterations++

	msgID := ulid.Make().String()
	resp, err := g.generate(ctx, t, msgID)
	if err != nil {
		if ctx.Err() != nil {
			return "", cancelled(ctx.Err())
		}
		return "", fmt.Errorf("reasoning: %w", err)
	}
	// The provider may have finished just as the turn was cancelled.
	if err := ctx.Err(); err != nil {
		return "", cancelled(err)
	}

	// Fallback: some smaller models embed tool calls as JSON in the content field.
	if !resp.HasToolCalls() && resp.Content != "" && g.tools != nil {
		if extracted := g.knownCalls(extractToolCallsFromContent(resp.Content)); len(extracted) > 0 {
			resp.ToolCalls = extracted
			resp.Content = ""
			g.logger.Info("extracted tool calls from content text", "count", len(extracted))
		}
	}

	msg := domain.Message{
		ID:        msgID,
		Role:      domain.RoleAssistant,
		Content:   rag.CleanOutput(resp.Content),
		ToolCalls: resp.ToolCalls,
	}
	t.messages = append(t.messages, msg)

	if msg.HasToolCalls() {
		t.emitter.Update(domain.NodeReasoning, []domain.Message{msg})
		return domain.NodeTools, nil
	}
	t.emitter.Update(domain.NodeDone, []domain.Message{msg})
	return domain.NodeDone, nil
}

// generate calls the model, forwarding streamed tokens as they arrive.
func (g *Graph) generate(ctx context.Context, t *turn, msgID string) (*domain.ChatResponse, error) {
	req := domain.ChatRequest{
		Messages:    t.messages,
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		Tools:       g.Definitions(),
	}

	sp, ok := g.provider.(domain.StreamingProvider)
	if !ok {
		resp, err := g.provider.Chat(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			resp = &domain.ChatResponse{}
		}
		t.emitter.Token(msgID, domain.NodeReasoning, resp.Content)
		return resp, nil
	}

	events := make(chan domain.ChatStreamEvent, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- sp.ChatStream(ctx, req, events)
	}()

	var content strings.Builder
	resp := &domain.ChatResponse{}
	done := false
	for ev := range events {
		switch ev.Type {
		case domain.ChatToken:
			content.WriteString(ev.Content)
			t.emitter.Token(msgID, domain.NodeReasoning, ev.Content)
		case domain.ChatToolCallDelta:
			t.emitter.ToolFragment(msgID, domain.NodeReasoning, ev.Content)
		case domain.ChatDone:
			done = true
			resp.ToolCalls = ev.ToolCalls
			if ev.Content != "" {
				content.Reset()
				content.WriteString(ev.Content)
			}
		}
	}
	// ChatStream closes events before returning, so the range exits first.
	if err := <-errc; err != nil {
		return nil, err
	}
	if !done {
		return nil, fmt.Errorf("stream ended without a final event")
	}
	resp.Content = content.String()
	return resp, nil
}

// knownCalls keeps the extracted calls that name a registered tool, so prose
// that merely contains JSON is not mistaken for a request.
func (g *Graph) knownCalls(calls []domain.ToolCall) []domain.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	known := make(map[string]bool)
	for _, d := range g.Definitions() {
		known[d.Name] = true
	}
	var out []domain.ToolCall
	for _, c := range calls {
		if known[c.Name] {
			out = append(out, c)
		}
	}
	return out
}

// executeTools runs every pending call of the last assistant message with
// bounded parallelism. Results are appended in request order; a failed call
// becomes an error payload for the model instead of failing the turn.
func (g *Graph) executeTools(ctx context.Context, t *turn) (domain.Node, error) {
	last := t.messages[len(t.messages)-1]
	calls := last.ToolCalls

	results := make([]domain.Message, len(calls))
	var eg errgroup.Group
	eg.SetLimit(g.toolParallelism)
	for i, tc := range calls {
		eg.Go(func() error {
			results[i] = domain.Message{
				ID:         ulid.Make().String(),
				Role:       domain.RoleTool,
				Content:    g.runTool(ctx, tc),
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			}
			return nil
		})
	}
	eg.Wait()

	if err := ctx.Err(); err != nil {
		return "", cancelled(err)
	}

	t.messages = append(t.messages, results...)
	t.emitter.Update(domain.NodeTools, results)
	return domain.NodeReasoning, nil
}

func (g *Graph) runTool(ctx context.Context, tc domain.ToolCall) string {
	g.logger.Info("executing tool", "tool", tc.Name, "call_id", tc.ID)
	if g.logger.Enabled(ctx, slog.LevelDebug) {
		if argsJSON, err := json.Marshal(tc.Arguments); err == nil {
			g.logger.Debug("tool arguments", "tool", tc.Name, "args", string(argsJSON))
		}
	}

	if g.tools == nil {
		return errorPayload(fmt.Errorf("%w: no tools are registered", domain.ErrToolExecutionFailed))
	}
	result, err := g.tools.Execute(ctx, tc.Name, tc.Arguments)
	if err != nil {
		if !errors.Is(err, domain.ErrToolExecutionFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrToolExecutionFailed, err)
		}
		return errorPayload(err)
	}
	g.logger.Debug("tool completed", "tool", tc.Name, "result_len", len(result))
	return result
}

// errorPayload is the tool-result content reported for a failed call.
func errorPayload(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

func cancelled(cause error) error {
	return fmt.Errorf("%w: %w", domain.ErrTurnCancelled, cause)
}
