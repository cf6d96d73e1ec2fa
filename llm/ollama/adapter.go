package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	"github.com/aschepis/bpmai/blob"
	"github.com/aschepis/bpmai/llm"
	"github.com/aschepis/bpmai/media"
)

// maxImageSide bounds images sent to local vision models.
const maxImageSide = 1536

// converter turns llm messages into Ollama chat messages, loading attachments through storage.
type converter struct {
	storage *blob.Storage
}

// ToOllamaMessages converts llm.Messages to Ollama chat message format.
func (c *converter) ToOllamaMessages(ctx context.Context, msgs []llm.Message) ([]api.Message, error) {
	result := make([]api.Message, 0, len(msgs))
	for _, msg := range msgs {
		ollamaMsg, err := c.ToOllamaMessage(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("failed to convert message: %w", err)
		}
		result = append(result, ollamaMsg)
	}
	return result, nil
}

// ToOllamaMessage converts a single llm.Message to Ollama format. Attachments travel in
// Images; text parts are joined into Content.
func (c *converter) ToOllamaMessage(ctx context.Context, msg llm.Message) (api.Message, error) {
	out := api.Message{Role: string(msg.Role())}

	if am, ok := msg.(*llm.AssistantMessage); ok {
		for _, tc := range am.ToolCalls {
			args, err := tc.Arguments()
			if err != nil {
				return api.Message{}, err
			}
			fnArgs := make(api.ToolCallFunctionArguments)
			for k, v := range args {
				fnArgs[k] = v
			}
			out.ToolCalls = append(out.ToolCalls, api.ToolCall{
				Function: api.ToolCallFunction{
					Name:      tc.Name,
					Arguments: fnArgs,
				},
			})
		}
	}

	parts, ok := msg.Body().(llm.Parts)
	if !ok {
		out.Content = llm.ContentText(msg.Body())
		return out, nil
	}

	var texts []string
	for _, part := range parts {
		switch p := part.(type) {
		case llm.Text:
			texts = append(texts, string(p))
		case llm.Attachment:
			loaded, err := c.storage.Materialize(ctx, p.Blob)
			if err != nil {
				return api.Message{}, err
			}
			switch {
			case loaded.IsImage():
				fitted, err := media.FitBlob(loaded, maxImageSide)
				if err != nil {
					return api.Message{}, err
				}
				out.Images = append(out.Images, api.ImageData(fitted.Data()))
			case loaded.IsText():
				texts = append(texts, string(loaded.Data()))
			default:
				return api.Message{}, fmt.Errorf("ollama: unsupported attachment type %q (%s)", loaded.MimeType(), p.Blob.Source())
			}
		}
	}
	out.Content = strings.Join(texts, "\n")
	return out, nil
}

// ToOllamaTools converts llm.ToolSpecs to Ollama function format.
func ToOllamaTools(specs []llm.ToolSpec) ([]api.Tool, error) {
	result := make([]api.Tool, 0, len(specs))
	for _, spec := range specs {
		tool, err := ToOllamaTool(&spec)
		if err != nil {
			return nil, fmt.Errorf("failed to convert tool %s: %w", spec.Name, err)
		}
		result = append(result, tool)
	}
	return result, nil
}

// ToOllamaTool converts a single llm.ToolSpec to Ollama Tool format.
// Nested schemas are reduced to their type and description.
func ToOllamaTool(spec *llm.ToolSpec) (api.Tool, error) {
	if spec.Name == "" {
		return api.Tool{}, fmt.Errorf("tool name is required")
	}
	properties := make(map[string]api.ToolProperty)
	for k, v := range spec.Schema.Properties {
		prop := api.ToolProperty{Type: []string{"string"}}
		if propMap, ok := v.(map[string]any); ok {
			if propType, ok := propMap["type"].(string); ok {
				prop.Type = []string{propType}
			}
			if desc, ok := propMap["description"].(string); ok {
				prop.Description = desc
			}
		}
		properties[k] = prop
	}

	typ := spec.Schema.Type
	if typ == "" {
		typ = "object"
	}
	parameters := api.ToolFunctionParameters{
		Type:       typ,
		Properties: properties,
		Required:   spec.Schema.Required,
	}

	return api.Tool{
		Type: "function",
		Function: api.ToolFunction{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  parameters,
		},
	}, nil
}

// FromOllamaMessage converts the response message to an llm.AssistantMessage.
// Ollama does not assign tool call ids, so each call gets a fresh uuid.
func FromOllamaMessage(msg api.Message, structured bool) (*llm.AssistantMessage, error) {
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
		args := make(map[string]any, len(toolCall.Function.Arguments))
		for k, v := range toolCall.Function.Arguments {
			args[k] = v
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:      uuid.NewString(),
			Name:    toolCall.Function.Name,
			Payload: args,
		})
		names = append(names, toolCall.Function.Name)
	}
	out.Name = strings.Join(names, ", ")
	return out, nil
}
