package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"cliexplainer/internal/domain"
)

// Registry is the fixed set of tools offered to the model. The tool set is
// decided at construction, so lookups need no locking.
type Registry struct {
	tools  map[string]domain.Tool
	names  []string
	logger *slog.Logger
}

// NewRegistry indexes tools by name. Two tools sharing a name is an error.
func NewRegistry(logger *slog.Logger, tools ...domain.Tool) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:  make(map[string]domain.Tool, len(tools)),
		logger: logger,
	}
	for _, t := range tools {
		name := t.Name()
		if _, dup := r.tools[name]; dup {
			return nil, fmt.Errorf("tool %q registered twice", name)
		}
		r.tools[name] = t
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	logger.Debug("tools registered", "names", r.names)
	return r, nil
}

func (r *Registry) Get(name string) domain.Tool {
	return r.tools[name]
}

func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t := r.Get(name)
	if t == nil {
		return "", fmt.Errorf("unknown tool: %s (available: %v)", name, r.names)
	}
	return t.Execute(ctx, args)
}

// GetDefinitions returns tool definitions, sorted by name, for the LLM request.
func (r *Registry) GetDefinitions() []domain.ToolDefinition {
	defs := make([]domain.ToolDefinition, 0, len(r.names))
	for _, name := range r.names {
		t := r.tools[name]
		defs = append(defs, domain.ToolDefinition{
			Name:        name,
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Names lists the registered tools in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
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

// ArgsString reads a string argument. Missing and null values read as "".
func ArgsString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok || v == nil {
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
