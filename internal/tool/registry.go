package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"finrag/internal/domain"
	"finrag/internal/metrics"
)

// Registry holds all available tools and executes them.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

func (r *Registry) Register(t domain.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.logger.Debug("registered tool", "name", t.Name())
}

func (r *Registry) Get(name string) domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Execute runs the named tool. Every failure, including an unknown name, is
// wrapped in domain.ErrToolExecutionFailed.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t := r.Get(name)
	if t == nil {
		metrics.ToolFailures.Inc()
		return "", fmt.Errorf("%w: unknown tool: %s (available: %v)", domain.ErrToolExecutionFailed, name, r.Names())
	}

	start := time.Now()
	metrics.ToolExecutions.Inc()
	result, err := t.Execute(ctx, args)
	metrics.ToolLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ToolFailures.Inc()
		r.logger.Warn("tool failed", "tool", name, "err", err)
		return "", fmt.Errorf("%w: %s: %w", domain.ErrToolExecutionFailed, name, err)
	}
	r.logger.Debug("tool executed", "tool", name, "duration", time.Since(start))
	return result, nil
}

// GetDefinitions returns tool definitions in OpenAI-compatible format for the
// LLM, ordered by name.
func (r *Registry) GetDefinitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	slices.SortFunc(defs, func(a, b domain.ToolDefinition) int {
		return strings.Compare(a.Name, b.Name)
	})
	return defs
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Param describes a single tool parameter.
type Param struct {
	Type        string
	Description string
}

// ToolParameters builds a JSON Schema "parameters" object for a tool.
func ToolParameters(properties map[string]Param, required []string) map[string]any {
	props := make(map[string]any)
	for name, p := range properties {
		props[name] = map[string]any{"type": p.Type, "description": p.Description}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func ArgsString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
