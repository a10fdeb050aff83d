package domain

import "context"

// Tool is a capability the agent can invoke during the tool-execution node.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}
