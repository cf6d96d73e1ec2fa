package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aschepis/bpmai/blob"
)

// Role represents the author of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Content is the body of a message. It is exactly one of Text, Structured or Parts.
type Content interface {
	isContent()
}

// Text is plain message text. It is also a Part.
type Text string

// Structured is a schema-constrained result object.
type Structured map[string]any

// Parts is an ordered list of text and attachment parts.
type Parts []Part

func (Text) isContent()       {}
func (Structured) isContent() {}
func (Parts) isContent()      {}

// Part is one element of multimodal content: Text or Attachment.
type Part interface {
	isPart()
}

// Attachment references binary content such as an image or an audio file.
type Attachment struct {
	Blob *blob.Blob
}

func (Text) isPart()       {}
func (Attachment) isPart() {}

// Message is one conversational turn. Implementations are *SystemMessage, *UserMessage,
// *AssistantMessage and *ToolResultMessage; the role is fixed by the type.
type Message interface {
	Role() Role
	// Body returns the message content, or nil when there is none.
	Body() Content
	isMessage()
}

// SystemMessage carries instructions for the model.
type SystemMessage struct {
	Content Content
	Name    string
}

// UserMessage is a turn authored by the user. It may carry attachments.
type UserMessage struct {
	Content Content
	Name    string
}

// AssistantMessage is a model turn, optionally requesting tool calls.
type AssistantMessage struct {
	Content   Content
	Name      string
	ToolCalls []ToolCall
}

// ToolResultMessage returns the output of the tool call identified by ID.
type ToolResultMessage struct {
	ID      string
	Content Content
	Name    string
}

func (*SystemMessage) Role() Role     { return RoleSystem }
func (*UserMessage) Role() Role       { return RoleUser }
func (*AssistantMessage) Role() Role  { return RoleAssistant }
func (*ToolResultMessage) Role() Role { return RoleTool }

func (m *SystemMessage) Body() Content     { return m.Content }
func (m *UserMessage) Body() Content       { return m.Content }
func (m *AssistantMessage) Body() Content  { return m.Content }
func (m *ToolResultMessage) Body() Content { return m.Content }

func (*SystemMessage) isMessage()     {}
func (*UserMessage) isMessage()       {}
func (*AssistantMessage) isMessage()  {}
func (*ToolResultMessage) isMessage() {}

// HasToolCalls reports whether the assistant requested any tool calls.
func (m *AssistantMessage) HasToolCalls() bool {
	return m != nil && len(m.ToolCalls) > 0
}

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID   string
	Name string
	// Payload is either a map[string]any or a raw JSON string.
	Payload any
}

// Arguments resolves the payload to an argument map. Mappings pass through; strings,
// byte slices and json.RawMessage are decoded as a JSON object.
func (tc ToolCall) Arguments() (map[string]any, error) {
	switch p := tc.Payload.(type) {
	case map[string]any:
		return p, nil
	case Structured:
		return map[string]any(p), nil
	case string:
		return decodeArguments(tc.ID, []byte(p))
	case json.RawMessage:
		return decodeArguments(tc.ID, p)
	case []byte:
		return decodeArguments(tc.ID, p)
	default:
		return nil, &PayloadDecodeError{ID: tc.ID, Err: fmt.Errorf("unexpected payload type %T", tc.Payload)}
	}
}

func decodeArguments(id string, data []byte) (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, &PayloadDecodeError{ID: id, Err: err}
	}
	if args == nil {
		return nil, &PayloadDecodeError{ID: id, Err: fmt.Errorf("payload is not an object")}
	}
	return args, nil
}

// ToolSpec represents a tool definition that can be provided to an LLM.
type ToolSpec struct {
	Name        string
	Description string
	Schema      ToolSchema
}

// ToolSchema represents the JSON schema for a tool's input parameters.
type ToolSchema struct {
	Type        string
	Properties  map[string]any
	Required    []string
	ExtraFields map[string]any // For any additional schema fields
}

// Map renders the schema as a JSON-schema object.
func (s ToolSchema) Map() map[string]any {
	out := make(map[string]any, len(s.ExtraFields)+3)
	for k, v := range s.ExtraFields {
		out[k] = v
	}
	typ := s.Type
	if typ == "" {
		typ = "object"
	}
	out["type"] = typ
	props := s.Properties
	if props == nil {
		props = map[string]any{}
	}
	out["properties"] = props
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

// Request represents a complete LLM API request.
type Request struct {
	Model    string
	Messages []Message
	Tools    []ToolSpec
	// ToolChoice forces the named tool when set.
	ToolChoice string
	// OutputSchema requests a structured JSON response. Mutually exclusive with Tools.
	OutputSchema map[string]any
	MaxTokens    int64
	Temperature  *float64 // Optional temperature override
}

// Response represents a complete LLM API response.
type Response struct {
	Message    *AssistantMessage
	Usage      *Usage
	StopReason string
}

// Usage represents token usage information from an LLM response.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	// Provider-specific usage fields can be added here
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// NewUserText creates a user message with text content.
func NewUserText(text string) *UserMessage {
	return &UserMessage{Content: Text(text)}
}

// NewSystemText creates a system message with text content.
func NewSystemText(text string) *SystemMessage {
	return &SystemMessage{Content: Text(text)}
}

// ContentText returns the textual part of content. Structured content is rendered as
// JSON; attachments are skipped.
func ContentText(c Content) string {
	switch v := c.(type) {
	case Text:
		return string(v)
	case Structured:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(map[string]any(v))
		}
		return string(b)
	case Parts:
		var texts []string
		for _, p := range v {
			if t, ok := p.(Text); ok {
				texts = append(texts, string(t))
			}
		}
		return strings.Join(texts, "\n")
	default:
		return ""
	}
}

// Attachments returns the blobs referenced by content, in order.
func Attachments(c Content) []*blob.Blob {
	parts, ok := c.(Parts)
	if !ok {
		return nil
	}
	var out []*blob.Blob
	for _, p := range parts {
		if a, ok := p.(Attachment); ok {
			out = append(out, a.Blob)
		}
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (m *SystemMessage) MarshalJSON() ([]byte, error) {
	return marshalMessage(RoleSystem, m.Name, m.Content, nil)
}

// MarshalJSON implements json.Marshaler.
func (m *UserMessage) MarshalJSON() ([]byte, error) {
	return marshalMessage(RoleUser, m.Name, m.Content, nil)
}

// MarshalJSON implements json.Marshaler.
func (m *AssistantMessage) MarshalJSON() ([]byte, error) {
	var extra map[string]any
	if len(m.ToolCalls) > 0 {
		calls := make([]map[string]any, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			calls[i] = map[string]any{"id": tc.ID, "name": tc.Name, "payload": tc.Payload}
		}
		extra = map[string]any{"tool_calls": calls}
	}
	return marshalMessage(RoleAssistant, m.Name, m.Content, extra)
}

// MarshalJSON implements json.Marshaler.
func (m *ToolResultMessage) MarshalJSON() ([]byte, error) {
	return marshalMessage(RoleTool, m.Name, m.Content, map[string]any{"id": m.ID})
}

func marshalMessage(role Role, name string, c Content, extra map[string]any) ([]byte, error) {
	out := map[string]any{"role": role}
	if name != "" {
		out["name"] = name
	}
	if c != nil {
		out["content"] = contentJSON(c)
	}
	for k, v := range extra {
		out[k] = v
	}
	return json.Marshal(out)
}

func contentJSON(c Content) any {
	switch v := c.(type) {
	case Text:
		return string(v)
	case Structured:
		return map[string]any(v)
	case Parts:
		parts := make([]any, len(v))
		for i, p := range v {
			switch pv := p.(type) {
			case Text:
				parts[i] = map[string]any{"type": "text", "text": string(pv)}
			case Attachment:
				parts[i] = pv.Blob
			}
		}
		return parts
	default:
		return nil
	}
}
