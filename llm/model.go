package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrSchemaWithTools is returned when a prediction asks for both an output schema and tools.
var ErrSchemaWithTools = errors.New("llm: output schema and tools are mutually exclusive")

// DefaultMaxTokens is used when a Model does not set MaxTokens.
const DefaultMaxTokens = 4096

// Model binds a Client to a concrete model and its capabilities.
type Model struct {
	Client Client
	// Provider selects provider-specific prompt templates.
	Provider       string
	Name           string
	SupportsImages bool
	SupportsAudio  bool
	Temperature    *float64
	MaxTokens      int64
}

// PredictOption configures a single prediction.
type PredictOption func(*predictOptions)

type predictOptions struct {
	tools        []ToolSpec
	toolChoice   string
	outputSchema map[string]any
}

// WithTools offers tools to the model. With exactly one tool, that tool is forced.
func WithTools(tools ...ToolSpec) PredictOption {
	return func(o *predictOptions) {
		o.tools = append(o.tools, tools...)
	}
}

// WithToolChoice forces the named tool.
func WithToolChoice(name string) PredictOption {
	return func(o *predictOptions) {
		o.toolChoice = name
	}
}

// WithOutputSchema requests a JSON object matching schema instead of free text.
func WithOutputSchema(schema map[string]any) PredictOption {
	return func(o *predictOptions) {
		o.outputSchema = schema
	}
}

// Predict formats the prompt for the model's provider, calls the client and returns the
// assistant message.
func (m *Model) Predict(ctx context.Context, p Formatter, opts ...PredictOption) (*AssistantMessage, error) {
	var o predictOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.outputSchema != nil && len(o.tools) > 0 {
		return nil, ErrSchemaWithTools
	}

	messages, err := p.Format(m.Provider)
	if err != nil {
		return nil, fmt.Errorf("format prompt: %w", err)
	}

	req := m.NewRequest(messages)
	req.Tools = o.tools
	req.OutputSchema = o.outputSchema
	req.ToolChoice = o.toolChoice
	if req.ToolChoice == "" && len(o.tools) == 1 {
		req.ToolChoice = o.tools[0].Name
	}

	resp, err := m.Client.Synchronous(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Message == nil {
		return nil, NewProviderError(fmt.Sprintf("%s returned an empty response", m.Name), nil)
	}
	return resp.Message, nil
}

// NewRequest builds a request for this model without tools.
func (m *Model) NewRequest(messages []Message) *Request {
	maxTokens := m.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Request{
		Model:       m.Name,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: m.Temperature,
	}
}

func (m *Model) String() string {
	return m.Provider + "/" + m.Name
}
