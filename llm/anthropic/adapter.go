package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/samber/lo"

	"github.com/aschepis/bpmai/blob"
	"github.com/aschepis/bpmai/llm"
)

// structuredOutputTool is the forced tool used to emulate an output schema.
const structuredOutputTool = "structured_output"

// converter turns llm messages into Anthropic params, loading attachments through storage.
type converter struct {
	storage *blob.Storage
}

// ToMessageParams splits system messages off into system blocks and converts the rest.
// Consecutive tool results are merged into one user turn as the API requires.
func (c *converter) ToMessageParams(ctx context.Context, msgs []llm.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam, error) {
	var (
		system  []anthropic.TextBlockParam
		result  []anthropic.MessageParam
		results []anthropic.ContentBlockParamUnion
	)
	flushResults := func() {
		if len(results) > 0 {
			result = append(result, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, msg := range msgs {
		switch m := msg.(type) {
		case *llm.SystemMessage:
			system = append(system, anthropic.TextBlockParam{Text: llm.ContentText(m.Content)})
		case *llm.ToolResultMessage:
			results = append(results, anthropic.NewToolResultBlock(m.ID, llm.ContentText(m.Content), false))
		case *llm.UserMessage:
			flushResults()
			blocks, err := c.contentBlocks(ctx, m.Content)
			if err != nil {
				return nil, nil, err
			}
			result = append(result, anthropic.NewUserMessage(blocks...))
		case *llm.AssistantMessage:
			flushResults()
			blocks, err := c.contentBlocks(ctx, m.Content)
			if err != nil {
				return nil, nil, err
			}
			for _, tc := range m.ToolCalls {
				args, err := tc.Arguments()
				if err != nil {
					return nil, nil, err
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("unsupported message type %T", msg)
		}
	}
	flushResults()
	return system, result, nil
}

func (c *converter) contentBlocks(ctx context.Context, content llm.Content) ([]anthropic.ContentBlockParamUnion, error) {
	switch v := content.(type) {
	case nil:
		return nil, nil
	case llm.Text:
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(string(v))}, nil
	case llm.Structured:
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(llm.ContentText(v))}, nil
	case llm.Parts:
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(v))
		for _, part := range v {
			switch p := part.(type) {
			case llm.Text:
				blocks = append(blocks, anthropic.NewTextBlock(string(p)))
			case llm.Attachment:
				block, err := c.attachmentBlock(ctx, p.Blob)
				if err != nil {
					return nil, err
				}
				blocks = append(blocks, block)
			}
		}
		return blocks, nil
	default:
		return nil, fmt.Errorf("unsupported content type %T", content)
	}
}

func (c *converter) attachmentBlock(ctx context.Context, b *blob.Blob) (anthropic.ContentBlockParamUnion, error) {
	loaded, err := c.storage.Materialize(ctx, b)
	if err != nil {
		return anthropic.ContentBlockParamUnion{}, err
	}
	encoded := base64.StdEncoding.EncodeToString(loaded.Data())
	switch {
	case loaded.IsImage():
		return anthropic.NewImageBlockBase64(loaded.MimeType(), encoded), nil
	case loaded.IsPDF():
		return anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: encoded}), nil
	case loaded.IsText():
		return anthropic.NewTextBlock(string(loaded.Data())), nil
	default:
		return anthropic.ContentBlockParamUnion{}, fmt.Errorf("anthropic: unsupported attachment type %q (%s)", loaded.MimeType(), b.Source())
	}
}

// ToToolUnionParam converts an llm.ToolSpec to an Anthropic ToolUnionParam.
func ToToolUnionParam(spec *llm.ToolSpec) anthropic.ToolUnionParam {
	desc := anthropic.String(spec.Description)

	toolParam := anthropic.ToolParam{
		Name:        spec.Name,
		Description: desc,
		InputSchema: anthropic.ToolInputSchemaParam{
			Type:        "object",
			Properties:  spec.Schema.Properties,
			Required:    spec.Schema.Required,
			ExtraFields: spec.Schema.ExtraFields,
		},
	}

	return anthropic.ToolUnionParam{OfTool: &toolParam}
}

// ToToolUnionParams converts a slice of llm.ToolSpecs to Anthropic ToolUnionParams.
func ToToolUnionParams(specs []llm.ToolSpec) []anthropic.ToolUnionParam {
	return lo.Map(specs, func(spec llm.ToolSpec, _ int) anthropic.ToolUnionParam {
		return ToToolUnionParam(&spec)
	})
}

// schemaTool wraps an output schema into the forced structured output tool.
func schemaTool(schema map[string]any) llm.ToolSpec {
	props, _ := schema["properties"].(map[string]any)
	var required []string
	switch r := schema["required"].(type) {
	case []string:
		required = r
	case []any:
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	return llm.ToolSpec{
		Name:        structuredOutputTool,
		Description: "Store the result in the requested format.",
		Schema:      llm.ToolSchema{Type: "object", Properties: props, Required: required},
	}
}

// FromMessage converts an Anthropic response message to an llm.AssistantMessage.
// With structured set, the structured output tool call becomes Structured content.
func FromMessage(message *anthropic.Message, structured bool) (*llm.AssistantMessage, error) {
	out := &llm.AssistantMessage{}
	var texts []string
	for _, blockUnion := range message.Content {
		switch block := blockUnion.AsAny().(type) {
		case anthropic.TextBlock:
			texts = append(texts, block.Text)
		case anthropic.ToolUseBlock:
			input, err := json.Marshal(block.Input)
			if err != nil {
				return nil, fmt.Errorf("encode tool input: %w", err)
			}
			if structured && block.Name == structuredOutputTool {
				var obj map[string]any
				if err := json.Unmarshal(input, &obj); err != nil {
					return nil, fmt.Errorf("decode structured output: %w", err)
				}
				out.Content = llm.Structured(obj)
				continue
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:      block.ID,
				Name:    block.Name,
				Payload: json.RawMessage(input),
			})
		}
	}
	if out.Content == nil && len(texts) > 0 {
		out.Content = llm.Text(strings.TrimSpace(strings.Join(texts, "")))
	}
	if len(out.ToolCalls) > 0 {
		out.Name = strings.Join(lo.Map(out.ToolCalls, func(tc llm.ToolCall, _ int) string { return tc.Name }), ", ")
	}
	return out, nil
}
