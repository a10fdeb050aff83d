package stream

import (
	"context"
	"errors"
	"log/slog"

	"finrag/internal/domain"
	"finrag/internal/metrics"
)

const defaultBuffer = 64

// Producer runs one turn, emitting through e. Its return value decides how
// the stream ends: nil closes it normally, anything else becomes a terminal
// error event.
type Producer func(ctx context.Context, e *Emitter) error

type Options struct {
	Buffer int // per-channel and output buffer size; defaults to 64
	Logger *slog.Logger
}

// Run starts produce and returns the merged stream. The returned channel is
// closed once the producer has returned and every event has been delivered;
// callers must drain it.
//
// After ctx is cancelled nothing more is forwarded except the terminal
// error event.
func Run(ctx context.Context, produce Producer, opts Options) <-chan domain.StreamEvent {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	e := newEmitter(ctx, opts.Buffer)
	out := make(chan domain.StreamEvent, opts.Buffer)
	result := make(chan error, 1)

	metrics.ActiveStreams.Inc()
	go func() {
		defer e.close()
		result <- produce(WithEmitter(ctx, e), e)
	}()
	go func() {
		defer metrics.ActiveStreams.Dec()
		defer close(out)
		m := &merger{ctx: ctx, out: out, pending: make(map[uint64]domain.StreamEvent), next: 1}
		m.run(e)
		err := <-result
		m.finish(e, err, opts.Logger)
	}()
	return out
}

// merger is the single consumer of an emitter's channels. Events are released
// strictly in sequence order: one that arrives ahead of a lower sequence
// number waits in pending until the gap is filled.
type merger struct {
	ctx       context.Context
	out       chan<- domain.StreamEvent
	pending   map[uint64]domain.StreamEvent
	next      uint64
	cancelled bool
}

func (m *merger) run(e *Emitter) {
	messages, custom, updates := e.messages, e.custom, e.updates
	for messages != nil || custom != nil || updates != nil {
		var ev domain.StreamEvent
		var ok bool
		select {
		case ev, ok = <-messages:
			if !ok {
				messages = nil
				continue
			}
		case ev, ok = <-custom:
			if !ok {
				custom = nil
				continue
			}
		case ev, ok = <-updates:
			if !ok {
				updates = nil
				continue
			}
		}
		m.pending[ev.Seq] = ev
		m.release()
	}
}

func (m *merger) release() {
	for {
		ev, ok := m.pending[m.next]
		if !ok {
			return
		}
		delete(m.pending, m.next)
		m.next++
		m.deliver(ev)
	}
}

func (m *merger) deliver(ev domain.StreamEvent) {
	if m.cancelled {
		return
	}
	if ev.Mode == domain.ModeMessages && (ev.Token == nil || ev.Token.ToolFragment) {
		return
	}
	select {
	case <-m.ctx.Done():
		m.cancelled = true
		return
	default:
	}
	select {
	case m.out <- ev:
		metrics.StreamEventsEmitted.Inc()
	case <-m.ctx.Done():
		m.cancelled = true
	}
}

// finish appends the terminal error event when the turn did not complete.
// A turn that finished before cancellation took effect closes normally.
func (m *merger) finish(e *Emitter, err error, logger *slog.Logger) {
	if err == nil {
		if m.ctx.Err() == nil || (!m.cancelled && !e.dropped.Load() && len(m.pending) == 0) {
			return
		}
		err = domain.ErrTurnCancelled
	}
	serr := Classify(err)
	logger.Debug("stream terminated", "kind", serr.Kind, "err", err)
	m.out <- domain.StreamEvent{Seq: e.next(), Mode: domain.ModeError, Err: serr}
	metrics.StreamEventsEmitted.Inc()
}

// Classify maps a producer error onto the terminal error kinds.
func Classify(err error) *domain.StreamError {
	kind := domain.ErrorKindFailed
	switch {
	case errors.Is(err, domain.ErrTurnCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		kind = domain.ErrorKindCancelled
	case errors.Is(err, domain.ErrIterationLimit):
		kind = domain.ErrorKindIterationLimit
	}
	return &domain.StreamError{Kind: kind, Message: err.Error()}
}
