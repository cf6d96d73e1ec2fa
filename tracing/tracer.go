// Package tracing records what a skill run did: traces, nested spans, model calls and tool
// invocations.
package tracing

import (
	"context"

	"github.com/aschepis/bpmai/llm"
)

// LLMCall describes one model attempt.
type LLMCall struct {
	Provider string
	Model    string
	Messages []llm.Message
	Attempt  int
	Tools    []string
}

// Tracer receives run events. Start and End calls nest; implementations must be safe for
// concurrent use.
type Tracer interface {
	StartTrace(name string, inputs map[string]any)
	EndTrace(outputs map[string]any, err error)
	StartSpan(name string, inputs map[string]any)
	EndSpan(outputs map[string]any, err error)
	StartLLM(call LLMCall)
	EndLLM(completion *llm.AssistantMessage, err error)
	StartTool(name string, inputs map[string]any)
	EndTool(name string, output any, err error)
	Event(name string, inputs, outputs map[string]any, err error)
	Finalize() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) StartTrace(string, map[string]any)                   {}
func (Nop) EndTrace(map[string]any, error)                      {}
func (Nop) StartSpan(string, map[string]any)                    {}
func (Nop) EndSpan(map[string]any, error)                       {}
func (Nop) StartLLM(LLMCall)                                    {}
func (Nop) EndLLM(*llm.AssistantMessage, error)                 {}
func (Nop) StartTool(string, map[string]any)                    {}
func (Nop) EndTool(string, any, error)                          {}
func (Nop) Event(string, map[string]any, map[string]any, error) {}
func (Nop) Finalize() error                                     { return nil }

// Multi fans every event out to several tracers in order.
type Multi []Tracer

func (m Multi) StartTrace(name string, inputs map[string]any) {
	for _, t := range m {
		t.StartTrace(name, inputs)
	}
}

func (m Multi) EndTrace(outputs map[string]any, err error) {
	for _, t := range m {
		t.EndTrace(outputs, err)
	}
}

func (m Multi) StartSpan(name string, inputs map[string]any) {
	for _, t := range m {
		t.StartSpan(name, inputs)
	}
}

func (m Multi) EndSpan(outputs map[string]any, err error) {
	for _, t := range m {
		t.EndSpan(outputs, err)
	}
}

func (m Multi) StartLLM(call LLMCall) {
	for _, t := range m {
		t.StartLLM(call)
	}
}

func (m Multi) EndLLM(completion *llm.AssistantMessage, err error) {
	for _, t := range m {
		t.EndLLM(completion, err)
	}
}

func (m Multi) StartTool(name string, inputs map[string]any) {
	for _, t := range m {
		t.StartTool(name, inputs)
	}
}

func (m Multi) EndTool(name string, output any, err error) {
	for _, t := range m {
		t.EndTool(name, output, err)
	}
}

func (m Multi) Event(name string, inputs, outputs map[string]any, err error) {
	for _, t := range m {
		t.Event(name, inputs, outputs, err)
	}
}

// Finalize finalizes every tracer and returns the first error.
func (m Multi) Finalize() error {
	var first error
	for _, t := range m {
		if err := t.Finalize(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type tracerKey struct{}

// WithTracer attaches t to ctx.
func WithTracer(ctx context.Context, t Tracer) context.Context {
	return context.WithValue(ctx, tracerKey{}, t)
}

// FromContext returns the tracer attached to ctx, or Nop.
func FromContext(ctx context.Context) Tracer {
	if t, ok := ctx.Value(tracerKey{}).(Tracer); ok && t != nil {
		return t
	}
	return Nop{}
}

// Span runs fn inside a span named name. A map result is recorded as the span outputs,
// anything else as {"output": result}.
func Span[T any](ctx context.Context, name string, inputs map[string]any, fn func(context.Context) (T, error)) (T, error) {
	t := FromContext(ctx)
	t.StartSpan(name, inputs)
	result, err := fn(ctx)
	if err != nil {
		t.EndSpan(map[string]any{"error": err.Error()}, err)
		return result, err
	}
	t.EndSpan(outputsOf(result), nil)
	return result, nil
}

// Trace is like Span for a top-level trace.
func Trace[T any](ctx context.Context, name string, inputs map[string]any, fn func(context.Context) (T, error)) (T, error) {
	t := FromContext(ctx)
	t.StartTrace(name, inputs)
	result, err := fn(ctx)
	if err != nil {
		t.EndTrace(map[string]any{"error": err.Error()}, err)
		return result, err
	}
	t.EndTrace(outputsOf(result), nil)
	return result, nil
}

func outputsOf(result any) map[string]any {
	if m, ok := result.(map[string]any); ok {
		return m
	}
	return map[string]any{"output": result}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
