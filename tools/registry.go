// Package tools registers model-callable functions and executes the tool calls an
// assistant message requests.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	ctxpkg "github.com/aschepis/bpmai/context"
	"github.com/aschepis/bpmai/llm"
)

// maxLoggedResult bounds the size of results written to the log.
const maxLoggedResult = 500

// Handler runs a tool with validated arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is a tool definition offered to the model together with its implementation.
type Tool struct {
	Spec    llm.ToolSpec
	Handler Handler
}

// Registry maps tool names to tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger.With().Str("component", "tool_registry").Logger(),
	}
}

// Register adds a tool. Registering a name twice replaces the earlier tool but keeps its
// position in Specs.
func (r *Registry) Register(tool Tool) error {
	if tool.Spec.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s has no handler", tool.Spec.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Spec.Name]; !exists {
		r.order = append(r.order, tool.Spec.Name)
	}
	r.tools[tool.Spec.Name] = tool
	r.logger.Debug().Str("name", tool.Spec.Name).Msg("Registered tool")
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Specs returns the specs of all tools in registration order.
func (r *Registry) Specs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec)
	}
	return specs
}

// Handle validates args against the tool schema and invokes the tool.
func (r *Registry) Handle(ctx context.Context, name string, args map[string]any) (any, error) {
	logger := r.logger
	if id, ok := ctxpkg.GetRunID(ctx); ok {
		logger = logger.With().Str("run_id", id).Logger()
	}

	tool, ok := r.Get(name)
	if !ok {
		logger.Error().Str("tool", name).Msg("Unknown tool requested")
		return nil, &UnknownToolError{Name: name}
	}

	validated, err := Validate(tool.Spec, args)
	if err != nil {
		logger.Warn().Str("tool", name).Err(err).Msg("Tool arguments rejected")
		return nil, err
	}

	logger.Info().Str("tool", name).Msg("Executing tool")
	if e := logger.Debug(); e.Enabled() {
		e.Str("tool", name).Str("args", truncate(pretty(validated))).Msg("Tool called with arguments")
	}

	result, err := tool.Handler(ctx, validated)
	if err != nil {
		logger.Warn().Str("tool", name).Err(err).Msg("Tool returned error")
		return nil, err
	}
	logger.Info().Str("tool", name).Str("result", truncate(pretty(result))).Msg("Tool returned result")
	return result, nil
}

// UnknownToolError is returned for a call to a tool that is not registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return "unknown tool: " + e.Name
}

func pretty(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func truncate(s string) string {
	if len(s) > maxLoggedResult {
		return s[:maxLoggedResult] + "... (truncated)"
	}
	return s
}
