package skill

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aschepis/bpmai/capability"
	"github.com/aschepis/bpmai/llm"
	"github.com/aschepis/bpmai/tools"
	"github.com/aschepis/bpmai/tracing"
)

const (
	// AnswerThreshold is the minimum extractive QA score for a field value.
	AnswerThreshold = 0.01
	// EntityThreshold is the minimum classifier score for an entity candidate.
	EntityThreshold = 0.75
)

// ExtractParams describes what to extract.
type ExtractParams struct {
	Schema *Schema
	// Multiple extracts a list of entities, each matching Schema.
	Multiple bool
	// MultipleDescription names the kind of entity, e.g. "Meal Order".
	MultipleDescription string
}

// ExtractLLM extracts the fields of params.Schema from the input with model. Empty strings
// and "null" become nil. In multiple mode the result holds Entities.
func ExtractLLM(ctx context.Context, model *llm.Model, in *Input, params ExtractParams, opts ...Option) (*Result, error) {
	if params.Schema == nil || params.Schema.Len() == 0 {
		return nil, &MissingParameterError{Message: "output schema is required"}
	}
	fields, err := parseSchema(params.Schema)
	if err != nil {
		return nil, err
	}

	traceInputs := map[string]any{"input": inputMap(in), "multiple": params.Multiple}
	return tracing.Trace(ctx, "bpm-ai-extract", traceInputs, func(ctx context.Context) (*Result, error) {
		if allEmpty(in) {
			return emptyExtraction(fields, params.Multiple), nil
		}

		// Images are kept as they are; only audio is converted.
		prepared, err := preprocess(ctx, in, false, options{asr: applyOptions(opts).asr})
		if err != nil {
			return nil, err
		}

		what := "information"
		schema := toolSchema(fields)
		if params.Multiple {
			what = "entities"
			item := schema.Map()
			schema = llm.ToolSchema{
				Type: "object",
				Properties: map[string]any{
					"entities": map[string]any{
						"type":        "array",
						"description": params.MultipleDescription,
						"items":       item,
					},
				},
				Required: []string{"entities"},
			}
		}
		tool := tools.Tool{
			Spec: llm.ToolSpec{
				Name:        "information_extraction",
				Description: fmt.Sprintf("Extracts the relevant %s from the passage.", what),
				Schema:      schema,
			},
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				return transformExtraction(args, params.Multiple), nil
			},
		}

		out, ok, err := predictTool(ctx, model, "extract", map[string]any{"input": contextMarkdown(prepared)}, tool)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &Result{Empty: true}, nil
		}
		if entities, isList := out.([]map[string]any); isList {
			return &Result{Entities: entities}, nil
		}
		return &Result{Values: out.(map[string]any)}, nil
	})
}

func emptyExtraction(fields []field, multiple bool) *Result {
	if multiple {
		return &Result{Entities: []map[string]any{}}
	}
	values := make(map[string]any, len(fields))
	for _, f := range fields {
		values[f.name] = nil
	}
	return &Result{Values: values}
}

func transformExtraction(args map[string]any, multiple bool) any {
	if multiple {
		if list, ok := args["entities"].([]any); ok {
			entities := make([]map[string]any, 0, len(list))
			for _, item := range list {
				if m, ok := item.(map[string]any); ok {
					entities = append(entities, emptyToNil(m))
				}
			}
			return entities
		}
	}
	return emptyToNil(args)
}

func emptyToNil(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok && (s == "" || s == "null") {
			v = nil
		}
		out[k] = v
	}
	return out
}

// ExtractQA extracts every field of params.Schema by asking its description as a question
// to an extractive QA model. Descriptions may reference earlier fields with {name}
// placeholders, using dotted names for nested objects.
//
// In multiple mode, candidate entities are the noun and number runs found by the
// POSTagger that the classifier accepts as params.MultipleDescription; every candidate is
// then extracted on its own.
func ExtractQA(ctx context.Context, qa capability.ExtractiveQA, in *Input, params ExtractParams, opts ...Option) (*Result, error) {
	if params.Schema == nil || params.Schema.Len() == 0 {
		return nil, &MissingParameterError{Message: "output schema is required"}
	}
	o := applyOptions(opts)
	if params.Multiple {
		if isBlank(params.MultipleDescription) {
			return nil, &MissingParameterError{Message: "description for entity type is required"}
		}
		if o.tagger == nil || o.classifier == nil {
			return nil, &MissingParameterError{Message: "a POS tagger and a classifier are required to extract multiple entities"}
		}
	}
	fields, err := parseSchema(params.Schema)
	if err != nil {
		return nil, err
	}

	traceInputs := map[string]any{"input": inputMap(in), "multiple": params.Multiple}
	return tracing.Trace(ctx, "bpm-ai-extract", traceInputs, func(ctx context.Context) (*Result, error) {
		if allEmpty(in) {
			return emptyExtraction(fields, params.Multiple), nil
		}

		prepared, err := preprocess(ctx, in, false, options{asr: o.asr})
		if err != nil {
			return nil, err
		}
		text := plainText(contextMarkdown(prepared))
		ex := &qaExtractor{qa: qa}

		if !params.Multiple {
			values, err := ex.object(ctx, text, fields, "", map[string]any{}, "")
			if err != nil {
				return nil, err
			}
			return &Result{Values: values}, nil
		}

		entities, err := findEntities(ctx, o, text, params.MultipleDescription)
		if err != nil {
			return nil, err
		}
		prefix := "For the " + params.MultipleDescription + " marked by << >>, "
		var extracted []map[string]any
		for _, entity := range entities {
			marked := strings.ReplaceAll(text, entity, "<< "+entity+" >>")
			values, err := ex.object(ctx, marked, fields, "", map[string]any{}, prefix)
			if err != nil {
				return nil, err
			}
			extracted = append(extracted, stripMarks(values))
		}
		return &Result{Entities: distinctNonEmpty(extracted)}, nil
	})
}

type qaExtractor struct {
	qa capability.ExtractiveQA
}

// object extracts fields in order. known collects extracted values under dotted names for
// placeholder substitution in later questions.
func (e *qaExtractor) object(ctx context.Context, text string, fields []field, parent string, known map[string]any, prefix string) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		key := f.name
		if parent != "" {
			key = parent + "." + f.name
		}
		if f.typ == "object" {
			nested, err := e.object(ctx, text, f.children, key, known, prefix)
			if err != nil {
				return nil, err
			}
			out[f.name] = nested
			continue
		}

		description := f.description
		if prefix != "" {
			description = prefix + lowerFirst(description)
		}
		value, err := e.value(ctx, text, f.typ, description, known)
		if err != nil {
			return nil, err
		}
		out[f.name] = value
		known[key] = value
	}
	return out, nil
}

func (e *qaExtractor) value(ctx context.Context, text, typ, description string, known map[string]any) (any, error) {
	question := description
	if !strings.HasSuffix(question, "?") {
		question += "?"
	}
	question = upperFirst(fillPlaceholders(question, known))

	answer, ok, err := capability.Answer(ctx, e.qa, text, question, AnswerThreshold)
	if err != nil || !ok {
		return nil, err
	}

	switch typ {
	case "integer":
		i, err := strconv.ParseInt(trimNonNumeric(answer), 10, 64)
		if err != nil {
			return nil, nil
		}
		return i, nil
	case "number":
		f, err := strconv.ParseFloat(trimNonNumeric(answer), 64)
		if err != nil {
			return nil, nil
		}
		return f, nil
	default:
		return strings.Trim(answer, " .,;:!?"), nil
	}
}

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_.]+)\}`)

// fillPlaceholders replaces {name} with the extracted value of name. Unknown names are
// left in place; unresolved values become empty.
func fillPlaceholders(s string, known map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		v, ok := known[m[1:len(m)-1]]
		if !ok {
			return m
		}
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}

// trimNonNumeric strips punctuation, symbols, letters and spaces from both ends, e.g.
// "28.89€" becomes "28.89".
func trimNonNumeric(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsLetter(r) || unicode.IsSpace(r)
	})
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}

// entityTags are the tags whose adjacent tokens form one candidate.
var entityTags = []string{"NOUN", "PROPN", "NUM", "SYM", "X"}

// candidates joins runs of adjacent entity-tagged tokens.
func candidates(tokens []capability.Token) []string {
	var out, run []string
	flush := func() {
		if len(run) > 0 {
			out = append(out, strings.TrimSpace(strings.Join(run, " ")))
			run = nil
		}
	}
	for _, tok := range tokens {
		if slices.Contains(entityTags, tok.Tag) {
			run = append(run, tok.Text)
			continue
		}
		flush()
	}
	flush()
	return out
}

func findEntities(ctx context.Context, o options, text, description string) ([]string, error) {
	tokens, err := o.tagger.Tag(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("tag entity candidates: %w", err)
	}
	trueLabel := strings.ToLower(description)
	labels := []string{trueLabel, "not " + trueLabel}

	var entities []string
	for _, candidate := range candidates(tokens) {
		label, ok, err := capability.Classify(ctx, o.classifier, candidate, labels, EntityThreshold, "")
		if err != nil {
			return nil, err
		}
		if ok && label == trueLabel {
			entities = append(entities, candidate)
		}
	}
	return entities, nil
}

var markPattern = regexp.MustCompile(`<<\s|\s>>`)

func stripMarks(values map[string]any) map[string]any {
	for k, v := range values {
		if s, ok := v.(string); ok {
			values[k] = markPattern.ReplaceAllString(s, "")
		}
	}
	return values
}

// distinctNonEmpty drops duplicates and objects without any truthy value.
func distinctNonEmpty(objects []map[string]any) []map[string]any {
	out := []map[string]any{}
	for i, obj := range objects {
		duplicate := slices.ContainsFunc(objects[:i], func(prev map[string]any) bool {
			return reflect.DeepEqual(prev, obj)
		})
		if !duplicate && anyTruthy(obj) {
			out = append(out, obj)
		}
	}
	return out
}

func anyTruthy(obj map[string]any) bool {
	for _, v := range obj {
		switch val := v.(type) {
		case nil:
		case string:
			if val != "" {
				return true
			}
		case int64:
			if val != 0 {
				return true
			}
		case float64:
			if val != 0 {
				return true
			}
		case map[string]any:
			if len(val) > 0 {
				return true
			}
		default:
			return true
		}
	}
	return false
}
