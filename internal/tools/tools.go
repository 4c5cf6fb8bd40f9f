// Package tools defines the callable tools exposed to the model and
// the registry the agent loop executes them through.
package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spheredev/sphere/internal/llm"
)

// Handler executes a tool call. args is the decoded argument object;
// the returned string goes back to the model as the tool result.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool is one callable tool.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the argument object.
	Parameters map[string]any
	Handler    Handler
}

// Registry holds the registered tools. Registration happens at startup;
// lookup and execution are read-only afterwards.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{tools: make(map[string]*Tool), logger: logger}
}

func (r *Registry) Register(t *Tool) {
	if _, dup := r.tools[t.Name]; dup {
		panic("tools: duplicate registration of " + t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
}

// Specs returns the tool schemas in registration order, in the wire
// form the completions API expects.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		specs = append(specs, llm.ToolSpec{
			Type: "function",
			Function: llm.FunctionSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return specs
}

// Execute runs the named tool. Unknown names and handler failures are
// plain errors; the agent loop converts them to textual tool results.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	r.logger.Debug("executing tool", "tool", name)
	result, err := t.Handler(ctx, args)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return result, nil
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
