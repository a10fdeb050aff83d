package domain

import "context"

// Provider is the language-model capability: given messages (and optionally
// tools) produce a final assistant message.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Models() []string
	SupportsToolCalling() bool
	Healthy(ctx context.Context) error
}

// StreamingProvider is an optional extension for providers that deliver the
// answer token by token. ChatStream closes out before returning.
type StreamingProvider interface {
	Provider
	ChatStream(ctx context.Context, req ChatRequest, out chan<- ChatStreamEvent) error
}

// ChatStreamEventType classifies a provider streaming event.
type ChatStreamEventType string

const (
	ChatToken         ChatStreamEventType = "token"
	ChatToolCallDelta ChatStreamEventType = "tool_call_delta"
	ChatDone          ChatStreamEventType = "done"
)

// ChatStreamEvent is a single event from a streaming provider.
type ChatStreamEvent struct {
	Type      ChatStreamEventType `json:"type"`
	Content   string              `json:"content,omitempty"`    // token text, or raw argument fragment for tool_call_delta
	ToolName  string              `json:"tool_name,omitempty"`  // set on the first fragment of a tool call
	ToolIndex int                 `json:"tool_index,omitempty"` // position of the tool call being streamed
	ToolCalls []ToolCall          `json:"tool_calls,omitempty"` // complete tool calls (emitted with ChatDone)
}

type ChatRequest struct {
	Messages    []Message
	Tools       []ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float64
}

type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string // stop | tool_calls | length
	Usage        Usage
	LatencyMs    int64
}

func (r *ChatResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
