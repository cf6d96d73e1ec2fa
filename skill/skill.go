// Package skill composes prompts, models and capabilities into business-process tasks:
// deciding, extracting information, translating and running generic instructions.
//
// Every skill takes an ordered set of named inputs. String inputs that point to images or
// PDFs are passed to vision models as blob attachments or converted to text with OCR;
// audio inputs are transcribed when a speech recognizer is configured.
package skill

import (
	"context"
	"embed"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/aschepis/bpmai/capability"
	"github.com/aschepis/bpmai/llm"
	"github.com/aschepis/bpmai/prompt"
	"github.com/aschepis/bpmai/tools"
)

//go:embed prompts/*.prompt
var prompts embed.FS

// Input is the ordered set of named values a skill works on.
type Input = orderedmap.OrderedMap[string, any]

// Field is one named input value.
type Field struct {
	Name  string
	Value any
}

// NewInput builds an Input keeping the order of fields.
func NewInput(fields ...Field) *Input {
	in := orderedmap.New[string, any](len(fields))
	for _, f := range fields {
		in.Set(f.Name, f.Value)
	}
	return in
}

// Result is the structured output of a skill. Empty reports that the model produced no
// structured result, in which case Values and Entities are nil.
type Result struct {
	Values map[string]any
	// Entities holds one object per entity when extracting multiple entities.
	Entities []map[string]any
	Empty    bool
}

// Get returns the named value, or nil.
func (r *Result) Get(key string) any {
	if r == nil || r.Values == nil {
		return nil
	}
	return r.Values[key]
}

// MissingParameterError reports a required skill parameter that was not given.
type MissingParameterError struct {
	Message string
}

func (e *MissingParameterError) Error() string {
	return e.Message
}

// LanguageNotFoundError reports a target language that could not be identified.
type LanguageNotFoundError struct {
	Language string
}

func (e *LanguageNotFoundError) Error() string {
	return fmt.Sprintf("could not identify target language '%s'", e.Language)
}

// Option configures the capabilities available to a skill.
type Option func(*options)

type options struct {
	ocr        capability.OCR
	asr        capability.ASR
	tagger     capability.POSTagger
	classifier capability.ZeroShotClassifier
}

// WithOCR converts image and PDF inputs to text for models without vision.
func WithOCR(ocr capability.OCR) Option {
	return func(o *options) { o.ocr = ocr }
}

// WithASR transcribes audio inputs.
func WithASR(asr capability.ASR) Option {
	return func(o *options) { o.asr = asr }
}

// WithPOSTagger sets the tagger used to find entity candidates in ExtractQA.
func WithPOSTagger(tagger capability.POSTagger) Option {
	return func(o *options) { o.tagger = tagger }
}

// WithClassifier sets the classifier used to filter entity candidates in ExtractQA.
func WithClassifier(c capability.ZeroShotClassifier) Option {
	return func(o *options) { o.classifier = c }
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// isEmptyValue reports whether an input value carries nothing: nil or a blank string.
func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return isBlank(val)
	}
	return false
}

func allEmpty(in *Input) bool {
	for pair := in.Oldest(); pair != nil; pair = pair.Next() {
		if !isEmptyValue(pair.Value) {
			return false
		}
	}
	return true
}

// withoutEmpty returns a copy of in without empty values.
func withoutEmpty(in *Input) *Input {
	out := orderedmap.New[string, any]()
	for pair := in.Oldest(); pair != nil; pair = pair.Next() {
		if !isEmptyValue(pair.Value) {
			out.Set(pair.Key, pair.Value)
		}
	}
	return out
}

func inputKeys(in *Input) []string {
	keys := make([]string, 0, in.Len())
	for pair := in.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

func inputMap(in *Input) map[string]any {
	out := make(map[string]any, in.Len())
	for pair := in.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value
	}
	return out
}

// contextMarkdown renders the inputs as the markdown block the prompts embed.
func contextMarkdown(in *Input) string {
	return strings.TrimSpace(prompt.ToMarkdown(in))
}

// predictTool renders the named prompt, forces tool and runs tool's handler on the
// arguments of the first tool call. A reply without tool calls yields an empty result.
func predictTool(ctx context.Context, model *llm.Model, name string, vars map[string]any, tool tools.Tool) (any, bool, error) {
	p := prompt.FromFS(prompts, "prompts/"+name, vars)
	reply, err := model.Predict(ctx, p, llm.WithTools(tool.Spec))
	if err != nil {
		return nil, false, err
	}
	if !reply.HasToolCalls() {
		return nil, false, nil
	}
	args, err := reply.ToolCalls[0].Arguments()
	if err != nil {
		return nil, false, err
	}
	out, err := tool.Handler(ctx, args)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// storeArgs is the handler of tools whose only job is to hand back their arguments.
func storeArgs(_ context.Context, args map[string]any) (any, error) {
	return args, nil
}

func valuesResult(out any, ok bool) *Result {
	if !ok {
		return &Result{Empty: true}
	}
	values, _ := out.(map[string]any)
	return &Result{Values: values}
}
