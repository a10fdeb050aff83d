package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"finrag/internal/domain"
	"finrag/internal/metrics"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAI implements domain.StreamingProvider for OpenAI-compatible chat APIs
// (OpenAI, Zhipu GLM, Ollama's /v1 endpoint, vLLM).
type OpenAI struct {
	name   string
	model  string
	client *openai.Client
	logger *slog.Logger
}

type OpenAIConfig struct {
	Name       string // reported by Name(); defaults to "openai"
	APIKey     string
	APIBase    string
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(defaultHTTPTimeout, cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.APIBase, "/")
	oc.HTTPClient = cfg.HTTPClient
	return &OpenAI{
		name:   cfg.Name,
		model:  cfg.Model,
		client: openai.NewClientWithConfig(oc),
		logger: cfg.Logger,
	}
}

func (o *OpenAI) Name() string              { return o.name }
func (o *OpenAI) Models() []string          { return []string{o.model} }
func (o *OpenAI) SupportsToolCalling() bool { return true }

func (o *OpenAI) Healthy(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return fmt.Errorf("%s not reachable: %w", o.name, err)
	}
	return nil
}

func (o *OpenAI) buildRequest(req domain.ChatRequest, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = o.model
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		om := openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
		if m.ToolCallID != "" {
			om.ToolCallID = m.ToolCallID
			om.Name = m.ToolName
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		msgs = append(msgs, om)
	}

	body := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stream:      stream,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return body
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	start := time.Now()
	metrics.LLMRequestsTotal.Inc()

	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", o.name, err)
	}
	latency := time.Since(start)
	metrics.LLMLatency.Observe(latency.Seconds())

	out := &domain.ChatResponse{
		FinishReason: "stop",
		LatencyMs:    latency.Milliseconds(),
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return out, nil
	}

	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	out.FinishReason = string(choice.FinishReason)
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, o.toolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	return out, nil
}

// partialCall accumulates a streamed tool call. Fragments are keyed by the
// index the server assigns to each call.
type partialCall struct {
	id   string
	name string
	args strings.Builder
}

// ChatStream streams token and tool-call fragments to out and finishes with a
// ChatDone event carrying the full content and assembled tool calls. out is
// closed on return.
func (o *OpenAI) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.ChatStreamEvent) error {
	defer close(out)
	start := time.Now()
	metrics.LLMRequestsTotal.Inc()

	stream, err := o.client.CreateChatCompletionStream(ctx, o.buildRequest(req, true))
	if err != nil {
		return fmt.Errorf("%s stream: %w", o.name, err)
	}
	defer stream.Close()

	var content strings.Builder
	calls := make(map[int]*partialCall)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%s stream: %w", o.name, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			content.WriteString(delta.Content)
			if err := send(ctx, out, domain.ChatStreamEvent{Type: domain.ChatToken, Content: delta.Content}); err != nil {
				return err
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := len(calls)
			if tc.Index != nil {
				idx = *tc.Index
			}
			pc, ok := calls[idx]
			if !ok {
				pc = &partialCall{}
				calls[idx] = pc
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			pc.name += tc.Function.Name
			pc.args.WriteString(tc.Function.Arguments)
			ev := domain.ChatStreamEvent{
				Type:      domain.ChatToolCallDelta,
				Content:   tc.Function.Arguments,
				ToolName:  tc.Function.Name,
				ToolIndex: idx,
			}
			if err := send(ctx, out, ev); err != nil {
				return err
			}
		}
	}
	metrics.LLMLatency.Observe(time.Since(start).Seconds())

	indices := make([]int, 0, len(calls))
	for idx := range calls {
		indices = append(indices, idx)
	}
	slices.Sort(indices)
	var toolCalls []domain.ToolCall
	for _, idx := range indices {
		pc := calls[idx]
		if pc.name == "" {
			continue
		}
		toolCalls = append(toolCalls, o.toolCall(pc.id, pc.name, pc.args.String()))
	}

	return send(ctx, out, domain.ChatStreamEvent{
		Type:      domain.ChatDone,
		Content:   content.String(),
		ToolCalls: toolCalls,
	})
}

// toolCall decodes raw JSON arguments. Calls without a provider-assigned ID
// get a generated one so tool results can be matched back.
func (o *OpenAI) toolCall(id, name, rawArgs string) domain.ToolCall {
	var args map[string]any
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			o.logger.Warn("tool call arguments are not valid JSON", "tool", name, "err", err)
		}
	}
	if args == nil {
		args = make(map[string]any)
	}
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	return domain.ToolCall{ID: id, Name: name, Arguments: args}
}

func send(ctx context.Context, out chan<- domain.ChatStreamEvent, ev domain.ChatStreamEvent) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
