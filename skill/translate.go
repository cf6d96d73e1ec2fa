package skill

import (
	"context"
	"fmt"

	"github.com/aschepis/bpmai/capability"
	"github.com/aschepis/bpmai/llm"
	"github.com/aschepis/bpmai/prompt"
	"github.com/aschepis/bpmai/tools"
	"github.com/aschepis/bpmai/tracing"
)

// TranslateLLM translates every non-empty input into targetLanguage with model. The result
// has one value per input key; keys that were empty or not translated map to nil.
func TranslateLLM(ctx context.Context, model *llm.Model, in *Input, targetLanguage string, opts ...Option) (*Result, error) {
	items := withoutEmpty(in)
	if items.Len() == 0 {
		return &Result{Values: inputMap(in)}, nil
	}
	if isBlank(targetLanguage) {
		return nil, &MissingParameterError{Message: "target language is required"}
	}

	traceInputs := map[string]any{"input": inputMap(in), "target_language": targetLanguage}
	return tracing.Trace(ctx, "bpm-ai-translate", traceInputs, func(ctx context.Context) (*Result, error) {
		prepared, err := preprocess(ctx, items, model.SupportsImages, applyOptions(opts))
		if err != nil {
			return nil, err
		}
		encoded, err := prompt.ToJSON(prepared)
		if err != nil {
			return nil, fmt.Errorf("encode translation input: %w", err)
		}

		tool := tools.Tool{
			Spec: llm.ToolSpec{
				Name:        "store_translation",
				Description: fmt.Sprintf("Stores the finished translation into %s.", targetLanguage),
				Schema:      translationSchema(inputKeys(items), targetLanguage),
			},
			Handler: storeArgs,
		}
		out, ok, err := predictTool(ctx, model, "translate", map[string]any{"input": encoded, "lang": targetLanguage}, tool)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &Result{Empty: true}, nil
		}
		translated, _ := out.(map[string]any)
		return &Result{Values: perInputKey(in, translated)}, nil
	})
}

func translationSchema(keys []string, targetLanguage string) llm.ToolSchema {
	props := make(map[string]any, len(keys))
	for _, k := range keys {
		props[k] = map[string]any{
			"type":        "string",
			"description": fmt.Sprintf("%s translated into %s", k, targetLanguage),
		}
	}
	return llm.ToolSchema{Type: "object", Properties: props, Required: keys}
}

// perInputKey maps every key of in to its value in values, or nil.
func perInputKey(in *Input, values map[string]any) map[string]any {
	out := make(map[string]any, in.Len())
	for pair := in.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = values[pair.Key]
	}
	return out
}

// TranslateNMT translates every non-empty input with a machine translation model.
// targetLanguage is a language name or code; unknown languages yield a
// *LanguageNotFoundError.
func TranslateNMT(ctx context.Context, translator capability.Translator, in *Input, targetLanguage string, opts ...Option) (*Result, error) {
	items := withoutEmpty(in)
	if items.Len() == 0 {
		return &Result{Values: inputMap(in)}, nil
	}
	if isBlank(targetLanguage) {
		return nil, &MissingParameterError{Message: "target language is required"}
	}

	traceInputs := map[string]any{"input": inputMap(in), "target_language": targetLanguage}
	return tracing.Trace(ctx, "bpm-ai-translate", traceInputs, func(ctx context.Context) (*Result, error) {
		prepared, err := preprocess(ctx, items, false, applyOptions(opts))
		if err != nil {
			return nil, err
		}
		code, err := languageCode(targetLanguage)
		if err != nil {
			return nil, err
		}

		keys := inputKeys(prepared)
		texts := make([]string, 0, len(keys))
		for pair := prepared.Oldest(); pair != nil; pair = pair.Next() {
			text, ok := pair.Value.(string)
			if !ok {
				text = prompt.ToMarkdown(pair.Value)
			}
			texts = append(texts, plainText(text))
		}

		translated, err := capability.Translate(ctx, translator, texts, code)
		if err != nil {
			return nil, err
		}
		if len(translated) != len(texts) {
			return nil, fmt.Errorf("translator returned %d texts for %d inputs", len(translated), len(texts))
		}
		values := make(map[string]any, len(keys))
		for i, k := range keys {
			values[k] = translated[i]
		}
		return &Result{Values: perInputKey(in, values)}, nil
	})
}
