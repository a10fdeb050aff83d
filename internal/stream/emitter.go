// Package stream merges the three event channels of an agent turn (token
// deltas, custom progress payloads and node updates) into one ordered,
// mode-labelled stream.
package stream

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"

	"finrag/internal/domain"
)

// Emitter is the producer side of a stream. Each emission is stamped with a
// sequence number shared by all three channels, so the consumer can restore
// global emission order. Emitter methods are safe for concurrent use, and a
// nil *Emitter discards everything.
type Emitter struct {
	ctx      context.Context
	seq      atomic.Uint64
	messages chan domain.StreamEvent
	custom   chan domain.StreamEvent
	updates  chan domain.StreamEvent

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Bool
}

func newEmitter(ctx context.Context, buffer int) *Emitter {
	return &Emitter{
		ctx:      ctx,
		messages: make(chan domain.StreamEvent, buffer),
		custom:   make(chan domain.StreamEvent, buffer),
		updates:  make(chan domain.StreamEvent, buffer),
	}
}

// Token emits a narrative text delta of an in-flight assistant message.
func (e *Emitter) Token(messageID string, node domain.Node, text string) {
	if e == nil || text == "" {
		return
	}
	e.emit(e.messages, domain.StreamEvent{
		Mode:  domain.ModeMessages,
		Token: &domain.TokenDelta{MessageID: messageID, Node: node, Text: text},
	})
}

// ToolFragment emits a partial tool-call argument delta. Fragments are part
// of the raw message channel but never reach consumers.
func (e *Emitter) ToolFragment(messageID string, node domain.Node, text string) {
	if e == nil {
		return
	}
	e.emit(e.messages, domain.StreamEvent{
		Mode:  domain.ModeMessages,
		Token: &domain.TokenDelta{MessageID: messageID, Node: node, Text: text, ToolFragment: true},
	})
}

// Custom emits an opaque developer payload, delivered verbatim.
func (e *Emitter) Custom(payload string) {
	if e == nil {
		return
	}
	e.emit(e.custom, domain.StreamEvent{
		Mode:   domain.ModeCustom,
		Custom: &domain.CustomEvent{Payload: payload},
	})
}

// Progress emits a custom event wrapped in the {"source","message"} envelope.
func (e *Emitter) Progress(source, message string) {
	if e == nil {
		return
	}
	b, _ := json.Marshal(Envelope{Source: source, Message: message})
	e.Custom(string(b))
}

// Update emits the message delta produced by a graph node.
func (e *Emitter) Update(node domain.Node, messages []domain.Message) {
	if e == nil {
		return
	}
	e.emit(e.updates, domain.StreamEvent{
		Mode:   domain.ModeUpdates,
		Update: &domain.NodeUpdate{Node: node, Messages: slices.Clone(messages)},
	})
}

// emit stamps ev and hands it to ch. Events emitted after the turn context is
// done, or after close, are discarded.
func (e *Emitter) emit(ch chan domain.StreamEvent, ev domain.StreamEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return
	}
	if e.ctx.Err() != nil {
		e.dropped.Store(true)
		return
	}
	ev.Seq = e.seq.Add(1)
	select {
	case ch <- ev:
	case <-e.ctx.Done():
		e.dropped.Store(true)
	}
}

// next reserves a sequence number for an event the consumer creates itself.
func (e *Emitter) next() uint64 {
	return e.seq.Add(1)
}

func (e *Emitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.closed {
		e.closed = true
		close(e.messages)
		close(e.custom)
		close(e.updates)
	}
}

type emitterKey struct{}

// WithEmitter returns a context carrying e, so tools running inside a turn can
// report progress.
func WithEmitter(ctx context.Context, e *Emitter) context.Context {
	return context.WithValue(ctx, emitterKey{}, e)
}

// FromContext returns the turn's emitter, or nil outside a stream.
func FromContext(ctx context.Context) *Emitter {
	e, _ := ctx.Value(emitterKey{}).(*Emitter)
	return e
}
