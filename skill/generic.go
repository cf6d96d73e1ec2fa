package skill

import (
	"context"

	"github.com/aschepis/bpmai/llm"
	"github.com/aschepis/bpmai/tools"
	"github.com/aschepis/bpmai/tracing"
)

// Generic runs free-form instructions over the input and returns a result shaped by
// schema.
func Generic(ctx context.Context, model *llm.Model, in *Input, instructions string, schema *Schema, opts ...Option) (*Result, error) {
	if isBlank(instructions) {
		return nil, &MissingParameterError{Message: "instructions are required"}
	}
	if schema == nil || schema.Len() == 0 {
		return nil, &MissingParameterError{Message: "output schema is required"}
	}
	fields, err := parseSchema(schema)
	if err != nil {
		return nil, err
	}

	traceInputs := map[string]any{"input": inputMap(in), "instructions": instructions}
	return tracing.Trace(ctx, "bpm-ai-generic", traceInputs, func(ctx context.Context) (*Result, error) {
		if allEmpty(in) {
			return emptyExtraction(fields, false), nil
		}

		prepared, err := preprocess(ctx, in, model.SupportsImages, applyOptions(opts))
		if err != nil {
			return nil, err
		}

		tool := tools.Tool{
			Spec: llm.ToolSpec{
				Name:        "store_task_result",
				Description: "Stores the result of the task.",
				Schema:      toolSchema(fields),
			},
			Handler: storeArgs,
		}
		vars := map[string]any{"context": contextMarkdown(prepared), "task": instructions}
		out, ok, err := predictTool(ctx, model, "generic", vars, tool)
		if err != nil {
			return nil, err
		}
		return valuesResult(out, ok), nil
	})
}
