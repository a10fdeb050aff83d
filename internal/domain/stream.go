package domain

// StreamMode labels the producer channel an event originated from.
type StreamMode string

const (
	ModeMessages StreamMode = "messages" // token deltas
	ModeCustom   StreamMode = "custom"   // developer progress events
	ModeUpdates  StreamMode = "updates"  // node state updates
	ModeError    StreamMode = "error"    // terminal failure, delivered to every subscriber
)

// Node names of the agent execution graph.
type Node string

const (
	NodeReasoning Node = "reasoning"
	NodeTools     Node = "tools"
	NodeDone      Node = "done"
)

// TokenDelta is an incremental piece of an in-flight assistant message.
// ToolFragment marks deltas that carry only partial tool-call arguments.
type TokenDelta struct {
	MessageID    string `json:"message_id"`
	Node         Node   `json:"node"`
	Text         string `json:"text"`
	ToolFragment bool   `json:"tool_fragment,omitempty"`
}

// CustomEvent carries an opaque developer payload.
type CustomEvent struct {
	Payload string `json:"payload"`
}

// NodeUpdate is the authoritative message delta produced by one graph node.
type NodeUpdate struct {
	Node     Node      `json:"node"`
	Messages []Message `json:"messages"`
}

// Stream error kinds.
const (
	ErrorKindCancelled      = "cancelled"
	ErrorKindIterationLimit = "iteration_limit"
	ErrorKindFailed         = "failed"
)

// StreamError terminates a stream that did not reach the done node.
type StreamError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StreamEvent is the tagged union delivered to stream consumers. Exactly one
// payload field is set and Mode names which one.
type StreamEvent struct {
	Seq    uint64       `json:"seq"`
	Mode   StreamMode   `json:"mode"`
	Token  *TokenDelta  `json:"token,omitempty"`
	Custom *CustomEvent `json:"custom,omitempty"`
	Update *NodeUpdate  `json:"update,omitempty"`
	Err    *StreamError `json:"error,omitempty"`
}

// IsTerminal reports whether the event ends the stream with a failure.
func (e StreamEvent) IsTerminal() bool {
	return e.Mode == ModeError
}
