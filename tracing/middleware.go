package tracing

import (
	"context"

	"github.com/samber/lo"

	ctxpkg "github.com/aschepis/bpmai/context"
	"github.com/aschepis/bpmai/llm"
)

// Middleware reports every model attempt to the tracer found in the request context.
// Placed inside llm.WithRetry it sees each attempt with its number.
type Middleware struct {
	provider string
}

// NewMiddleware creates a tracing middleware for calls to provider.
func NewMiddleware(provider string) *Middleware {
	return &Middleware{provider: provider}
}

// BeforeRequest implements llm.Middleware.BeforeRequest.
func (m *Middleware) BeforeRequest(ctx context.Context, req *llm.Request) (*llm.Request, error) {
	FromContext(ctx).StartLLM(LLMCall{
		Provider: m.provider,
		Model:    req.Model,
		Messages: req.Messages,
		Attempt:  ctxpkg.Attempt(ctx),
		Tools:    lo.Map(req.Tools, func(t llm.ToolSpec, _ int) string { return t.Name }),
	})
	return req, nil
}

// AfterResponse implements llm.Middleware.AfterResponse.
func (m *Middleware) AfterResponse(ctx context.Context, req *llm.Request, resp *llm.Response) (*llm.Response, error) {
	var completion *llm.AssistantMessage
	if resp != nil {
		completion = resp.Message
	}
	FromContext(ctx).EndLLM(completion, nil)
	return resp, nil
}

// OnError implements llm.Middleware.OnError.
func (m *Middleware) OnError(ctx context.Context, req *llm.Request, err error) error {
	FromContext(ctx).EndLLM(nil, err)
	return err
}
