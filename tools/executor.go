package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aschepis/bpmai/llm"
	"github.com/aschepis/bpmai/tracing"
)

// Policy selects how a batch of tool calls is executed.
type Policy int

const (
	// Sequential runs calls one after another in call order.
	Sequential Policy = iota
	// Concurrent runs all calls at once.
	Concurrent
)

func (p Policy) String() string {
	if p == Concurrent {
		return "concurrent"
	}
	return "sequential"
}

// Executor runs the tool calls of assistant messages against a Registry.
type Executor struct {
	registry *Registry
	policy   Policy
	logger   zerolog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(registry *Registry, policy Policy, logger zerolog.Logger) *Executor {
	return &Executor{
		registry: registry,
		policy:   policy,
		logger:   logger.With().Str("component", "tool_executor").Logger(),
	}
}

// RunAll executes every tool call of msg and returns one result message per call, in call
// order regardless of policy. The first failing call aborts the batch; under Concurrent the
// remaining calls see a cancelled context.
func (e *Executor) RunAll(ctx context.Context, msg *llm.AssistantMessage) ([]*llm.ToolResultMessage, error) {
	if !msg.HasToolCalls() {
		return nil, nil
	}
	e.logger.Debug().Int("calls", len(msg.ToolCalls)).Stringer("policy", e.policy).Msg("Running tool calls")

	results := make([]*llm.ToolResultMessage, len(msg.ToolCalls))
	if e.policy == Sequential {
		for i, call := range msg.ToolCalls {
			res, err := e.run(ctx, call)
			if err != nil {
				return nil, err
			}
			results[i] = res
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range msg.ToolCalls {
		g.Go(func() error {
			res, err := e.run(gctx, call)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Executor) run(ctx context.Context, call llm.ToolCall) (*llm.ToolResultMessage, error) {
	args, err := call.Arguments()
	if err != nil {
		return nil, err
	}

	tracer := tracing.FromContext(ctx)
	tracer.StartTool(call.Name, args)
	output, err := e.registry.Handle(ctx, call.Name, args)
	tracer.EndTool(call.Name, output, err)
	if err != nil {
		return nil, fmt.Errorf("tool call %s (%s): %w", call.Name, call.ID, err)
	}

	return &llm.ToolResultMessage{
		ID:      call.ID,
		Name:    call.Name,
		Content: llm.Text(resultText(output)),
	}, nil
}

// resultText renders a tool output for the model. Strings are used as is.
func resultText(output any) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	b, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(b)
}
