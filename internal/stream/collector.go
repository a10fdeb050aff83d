package stream

import (
	"strings"
	"sync"

	"finrag/internal/domain"
)

const defaultHistory = 4096

// Collector records the events of a stream so that messages can be
// reconstructed and a reconnecting consumer can resume from a sequence
// number. It is safe for concurrent use.
type Collector struct {
	mu         sync.RWMutex
	history    []domain.StreamEvent
	maxHistory int
	order      []string
	texts      map[string]*strings.Builder
	last       *domain.NodeUpdate
	err        *domain.StreamError
}

// NewCollector creates a Collector keeping at most maxHistory events for
// replay. Text reconstruction is not affected by the limit.
func NewCollector(maxHistory int) *Collector {
	if maxHistory <= 0 {
		maxHistory = defaultHistory
	}
	return &Collector{
		maxHistory: maxHistory,
		texts:      make(map[string]*strings.Builder),
	}
}

// Collect drains events into a new Collector.
func Collect(events <-chan domain.StreamEvent) *Collector {
	c := NewCollector(0)
	for ev := range events {
		c.Add(ev)
	}
	return c
}

// Add records one event.
func (c *Collector) Add(ev domain.StreamEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.history) >= c.maxHistory {
		c.history = c.history[1:]
	}
	c.history = append(c.history, ev)

	switch ev.Mode {
	case domain.ModeMessages:
		if ev.Token == nil || ev.Token.ToolFragment {
			return
		}
		b, ok := c.texts[ev.Token.MessageID]
		if !ok {
			b = &strings.Builder{}
			c.texts[ev.Token.MessageID] = b
			c.order = append(c.order, ev.Token.MessageID)
		}
		b.WriteString(ev.Token.Text)
	case domain.ModeUpdates:
		c.last = ev.Update
	case domain.ModeError:
		c.err = ev.Err
	}
}

// Text returns the concatenated token deltas of one message.
func (c *Collector) Text(messageID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if b, ok := c.texts[messageID]; ok {
		return b.String()
	}
	return ""
}

// MessageIDs returns the IDs of streamed messages in first-token order.
func (c *Collector) MessageIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// FinalAnswer returns the content of the last message of the last node
// update. It reports false when the stream ended in error or carried no
// update.
func (c *Collector) FinalAnswer() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.err != nil || c.last == nil || len(c.last.Messages) == 0 {
		return "", false
	}
	return c.last.Messages[len(c.last.Messages)-1].Content, true
}

// LastUpdate returns the last node update seen, or nil.
func (c *Collector) LastUpdate() *domain.NodeUpdate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Err returns the terminal error event payload, or nil.
func (c *Collector) Err() *domain.StreamError {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Since returns the recorded events with a sequence number greater than seq,
// in order.
func (c *Collector) Since(seq uint64) []domain.StreamEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []domain.StreamEvent
	for _, ev := range c.history {
		if ev.Seq > seq {
			result = append(result, ev)
		}
	}
	return result
}

// Len returns the number of events held for replay.
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.history)
}
