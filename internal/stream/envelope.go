package stream

import (
	"encoding/json"
	"strings"
)

// Envelope is the structured form of a custom payload. Payloads that do not
// parse as an envelope are still delivered as opaque strings.
type Envelope struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// ParseEnvelope decodes payload as an Envelope. It reports false for anything
// that is not a JSON object with a non-empty source.
func ParseEnvelope(payload string) (Envelope, bool) {
	trimmed := strings.TrimSpace(payload)
	if !strings.HasPrefix(trimmed, "{") {
		return Envelope{}, false
	}
	var env Envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil || env.Source == "" {
		return Envelope{}, false
	}
	return env, true
}
