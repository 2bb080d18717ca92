package domain

import "context"

// Tool is a capability the explainer can invoke by name (help text, man pages).
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}
