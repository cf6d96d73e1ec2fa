package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aschepis/bpmai/blob"
	"github.com/aschepis/bpmai/llm"
)

// converter turns llm messages into OpenAI chat messages, loading attachments through storage.
type converter struct {
	storage *blob.Storage
}

// ToOpenAIMessages converts llm.Messages to OpenAI chat message format.
func (c *converter) ToOpenAIMessages(ctx context.Context, msgs []llm.Message) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		openaiMsg, err := c.ToOpenAIMessage(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("failed to convert message: %w", err)
		}
		result = append(result, openaiMsg)
	}
	return result, nil
}

// ToOpenAIMessage converts a single llm.Message to OpenAI format.
func (c *converter) ToOpenAIMessage(ctx context.Context, msg llm.Message) (openai.ChatCompletionMessage, error) {
	var out openai.ChatCompletionMessage
	switch m := msg.(type) {
	case *llm.SystemMessage:
		out = openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Name: m.Name}
	case *llm.UserMessage:
		out = openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Name: m.Name}
	case *llm.AssistantMessage:
		out = openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
		for _, tc := range m.ToolCalls {
			args, err := functionArguments(tc.Payload)
			if err != nil {
				return openai.ChatCompletionMessage{}, fmt.Errorf("tool call %s: %w", tc.ID, err)
			}
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
	case *llm.ToolResultMessage:
		return openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    llm.ContentText(m.Content),
			ToolCallID: m.ID,
		}, nil
	default:
		return openai.ChatCompletionMessage{}, fmt.Errorf("unsupported message type %T", msg)
	}

	if parts, ok := msg.Body().(llm.Parts); ok {
		multi, err := c.multiContent(ctx, parts)
		if err != nil {
			return openai.ChatCompletionMessage{}, err
		}
		out.MultiContent = multi
	} else {
		out.Content = llm.ContentText(msg.Body())
	}
	return out, nil
}

// functionArguments returns the arguments string of a tool call. Raw payloads are sent as
// they are; OpenAI takes arguments as an opaque string.
func functionArguments(payload any) (string, error) {
	switch p := payload.(type) {
	case string:
		return p, nil
	case json.RawMessage:
		return string(p), nil
	case []byte:
		return string(p), nil
	case nil:
		return "{}", nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool input: %w", err)
	}
	return string(data), nil
}

func (c *converter) multiContent(ctx context.Context, parts llm.Parts) ([]openai.ChatMessagePart, error) {
	result := make([]openai.ChatMessagePart, 0, len(parts))
	for _, part := range parts {
		switch p := part.(type) {
		case llm.Text:
			result = append(result, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: string(p)})
		case llm.Attachment:
			loaded, err := c.storage.Materialize(ctx, p.Blob)
			if err != nil {
				return nil, err
			}
			switch {
			case loaded.IsImage():
				result = append(result, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL(loaded),
						Detail: openai.ImageURLDetailAuto,
					},
				})
			case loaded.IsText():
				result = append(result, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: string(loaded.Data())})
			default:
				return nil, fmt.Errorf("openai: unsupported attachment type %q (%s)", loaded.MimeType(), p.Blob.Source())
			}
		}
	}
	return result, nil
}

func dataURL(b *blob.Blob) string {
	return "data:" + b.MimeType() + ";base64," + base64.StdEncoding.EncodeToString(b.Data())
}

// ToOpenAITools converts llm.ToolSpecs to OpenAI function format.
func ToOpenAITools(specs []llm.ToolSpec) ([]openai.Tool, error) {
	result := make([]openai.Tool, 0, len(specs))
	for i := range specs {
		tool, err := ToOpenAITool(&specs[i])
		if err != nil {
			return nil, fmt.Errorf("failed to convert tool %s: %w", specs[i].Name, err)
		}
		result = append(result, tool)
	}
	return result, nil
}

// ToOpenAITool converts a single llm.ToolSpec to OpenAI Tool format.
func ToOpenAITool(spec *llm.ToolSpec) (openai.Tool, error) {
	if spec.Name == "" {
		return openai.Tool{}, fmt.Errorf("tool name is required")
	}
	function := openai.FunctionDefinition{
		Name:        spec.Name,
		Description: spec.Description,
		Parameters:  spec.Schema.Map(),
	}
	return openai.Tool{
		Type:     openai.ToolTypeFunction,
		Function: &function,
	}, nil
}

// toolChoice forces the named function.
func toolChoice(name string) openai.ToolChoice {
	return openai.ToolChoice{
		Type:     openai.ToolTypeFunction,
		Function: openai.ToolFunction{Name: name},
	}
}

// responseFormat requests a JSON object matching schema.
func responseFormat(schema map[string]any) (*openai.ChatCompletionResponseFormat, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode output schema: %w", err)
	}
	return &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   "result",
			Schema: json.RawMessage(raw),
		},
	}, nil
}

// FromOpenAIMessage converts the chosen completion message to an llm.AssistantMessage.
// With structured set, the content is decoded as a JSON object.
func FromOpenAIMessage(msg openai.ChatCompletionMessage, structured bool) (*llm.AssistantMessage, error) {
	out := &llm.AssistantMessage{}
	text := strings.TrimSpace(msg.Content)
	switch {
	case structured && text != "":
		var obj map[string]any
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			return nil, fmt.Errorf("decode structured output: %w", err)
		}
		out.Content = llm.Structured(obj)
	case text != "":
		out.Content = llm.Text(text)
	}

	names := make([]string, 0, len(msg.ToolCalls))
	for _, toolCall := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, FromOpenAIToolCall(toolCall))
		names = append(names, toolCall.Function.Name)
	}
	out.Name = strings.Join(names, ", ")
	return out, nil
}

// FromOpenAIToolCall converts an OpenAI tool call response to llm.ToolCall. The arguments
// stay a raw string and are decoded on demand.
func FromOpenAIToolCall(toolCall openai.ToolCall) llm.ToolCall {
	args := toolCall.Function.Arguments
	if args == "" {
		args = "{}"
	}
	return llm.ToolCall{
		ID:      toolCall.ID,
		Name:    toolCall.Function.Name,
		Payload: args,
	}
}
