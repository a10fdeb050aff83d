package stream

import (
	"fmt"
	"slices"
	"strings"

	"finrag/internal/domain"
)

// Modes lists the subscribable stream modes.
var Modes = []domain.StreamMode{domain.ModeMessages, domain.ModeCustom, domain.ModeUpdates}

// Filter forwards the events of events whose mode is in modes. Error events
// always pass. With no modes everything passes. The returned channel closes
// when events does.
func Filter(events <-chan domain.StreamEvent, modes ...domain.StreamMode) <-chan domain.StreamEvent {
	out := make(chan domain.StreamEvent, cap(events))
	go func() {
		defer close(out)
		for ev := range events {
			if Matches(ev, modes...) {
				out <- ev
			}
		}
	}()
	return out
}

// Matches reports whether ev is selected by modes.
func Matches(ev domain.StreamEvent, modes ...domain.StreamMode) bool {
	if len(modes) == 0 || ev.Mode == domain.ModeError {
		return true
	}
	return slices.Contains(modes, ev.Mode)
}

// ParseModes parses a comma-separated mode list such as "messages,updates".
func ParseModes(s string) ([]domain.StreamMode, error) {
	var modes []domain.StreamMode
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m := domain.StreamMode(part)
		if !slices.Contains(Modes, m) {
			return nil, fmt.Errorf("unknown stream mode %q (valid: messages, custom, updates)", part)
		}
		if !slices.Contains(modes, m) {
			modes = append(modes, m)
		}
	}
	return modes, nil
}
