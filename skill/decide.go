package skill

import (
	"context"
	"fmt"
	"strconv"

	"github.com/samber/lo"

	"github.com/aschepis/bpmai/capability"
	"github.com/aschepis/bpmai/llm"
	"github.com/aschepis/bpmai/tools"
	"github.com/aschepis/bpmai/tracing"
)

// StrategyChainOfThought asks the model to reason step by step before deciding.
const StrategyChainOfThought = "cot"

// DecisionThreshold is the minimum classifier score for a decision.
const DecisionThreshold = 0.1

const noInputReasoning = "No input values present."

// DecideParams describes a decision.
type DecideParams struct {
	// Question is the question or instruction to decide on.
	Question string
	// OutputType is the JSON type of the decision: boolean, integer, number or string.
	OutputType string
	// PossibleValues optionally restricts the decision to a fixed set of values.
	PossibleValues []any
	// Strategy is "" or StrategyChainOfThought.
	Strategy string
}

func noDecision() *Result {
	return &Result{Values: map[string]any{"decision": nil, "reasoning": noInputReasoning}}
}

// DecideLLM lets model answer the question about the input. The result holds "decision"
// and "reasoning".
func DecideLLM(ctx context.Context, model *llm.Model, in *Input, params DecideParams, opts ...Option) (*Result, error) {
	if isBlank(params.Question) {
		return nil, &MissingParameterError{Message: "question/instruction is required"}
	}
	if isBlank(params.OutputType) {
		return nil, &MissingParameterError{Message: "output type is required"}
	}

	traceInputs := map[string]any{"input": inputMap(in), "question": params.Question, "output_type": params.OutputType}
	return tracing.Trace(ctx, "bpm-ai-decide", traceInputs, func(ctx context.Context) (*Result, error) {
		if allEmpty(in) {
			return noDecision(), nil
		}

		prepared, err := preprocess(ctx, in, model.SupportsImages, applyOptions(opts))
		if err != nil {
			return nil, err
		}

		tool := tools.Tool{
			Spec: llm.ToolSpec{
				Name:        "store_decision",
				Description: "Stores the final decision value and corresponding reasoning.",
				Schema:      decisionSchema(params),
			},
			Handler: storeArgs,
		}
		vars := map[string]any{
			"context":         contextMarkdown(prepared),
			"task":            params.Question,
			"output_type":     params.OutputType,
			"possible_values": stringValues(params.PossibleValues),
			"strategy":        params.Strategy,
		}
		out, ok, err := predictTool(ctx, model, "decide", vars, tool)
		if err != nil {
			return nil, err
		}
		return valuesResult(out, ok), nil
	})
}

func decisionSchema(params DecideParams) llm.ToolSchema {
	decision := map[string]any{
		"type":        jsonType(params.OutputType),
		"description": "The final decision value.",
	}
	if len(params.PossibleValues) > 0 {
		decision["enum"] = params.PossibleValues
	}
	reasoning := map[string]any{
		"type":        "string",
		"description": "A short reasoning for the decision.",
	}
	if params.Strategy == StrategyChainOfThought {
		reasoning["description"] = "Step-by-step reasoning leading to the decision, written before deciding."
	}
	return llm.ToolSchema{
		Type:       "object",
		Properties: map[string]any{"reasoning": reasoning, "decision": decision},
		Required:   []string{"reasoning", "decision"},
	}
}

func jsonType(outputType string) string {
	if outputType == "float" {
		return "number"
	}
	return outputType
}

func stringValues(values []any) []string {
	return lo.Map(values, func(v any, _ int) string { return fmt.Sprint(v) })
}

// DecideClassifier decides with a zero-shot classifier over the possible values. Boolean
// decisions classify into "yes" and "no". A best label scoring at or below
// DecisionThreshold yields a nil decision.
func DecideClassifier(ctx context.Context, classifier capability.ZeroShotClassifier, in *Input, params DecideParams, opts ...Option) (*Result, error) {
	if isBlank(params.OutputType) {
		return nil, &MissingParameterError{Message: "output type is required"}
	}
	if len(params.PossibleValues) == 0 && params.OutputType != "boolean" {
		return nil, &MissingParameterError{Message: "list of possible values must be specified for classifier (except boolean)"}
	}
	classes := stringValues(params.PossibleValues)
	if params.OutputType == "boolean" {
		classes = []string{"yes", "no"}
	}

	traceInputs := map[string]any{"input": inputMap(in), "question": params.Question, "classes": classes}
	return tracing.Trace(ctx, "bpm-ai-decide", traceInputs, func(ctx context.Context) (*Result, error) {
		if allEmpty(in) {
			return noDecision(), nil
		}

		prepared, err := preprocess(ctx, in, false, applyOptions(opts))
		if err != nil {
			return nil, err
		}

		var hypothesis string
		if !isBlank(params.Question) {
			hypothesis = "In this example the question '" + params.Question + "' should be answered with '{}'"
		}
		label, ok, err := capability.Classify(ctx, classifier, plainText(contextMarkdown(prepared)), classes, DecisionThreshold, hypothesis)
		if err != nil {
			return nil, err
		}

		var decision any
		if ok {
			decision, err = convertDecision(label, params.OutputType)
			if err != nil {
				return nil, err
			}
		}
		return &Result{Values: map[string]any{"decision": decision, "reasoning": ""}}, nil
	})
}

func convertDecision(label, outputType string) (any, error) {
	switch jsonType(outputType) {
	case "boolean":
		return label == "yes", nil
	case "integer":
		i, err := strconv.ParseInt(label, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decision %q is not an integer: %w", label, err)
		}
		return i, nil
	case "number":
		f, err := strconv.ParseFloat(label, 64)
		if err != nil {
			return nil, fmt.Errorf("decision %q is not a number: %w", label, err)
		}
		return f, nil
	default:
		return label, nil
	}
}
