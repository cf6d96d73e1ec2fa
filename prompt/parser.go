package prompt

import (
	"regexp"
	"strings"

	"github.com/aschepis/bpmai/blob"
	"github.com/aschepis/bpmai/llm"
)

const toolResultPrefix = "tool_result:"

// escapedOpen stands in for a marker opening inside escaped text until parsing is done.
const escapedOpen = "\ue000"

// Escape makes s safe to embed in a template as data: marker openings in s are neither
// interpreted nor rejected by Parse, which restores them in the resulting messages.
func Escape(s string) string {
	return strings.ReplaceAll(s, "[#", escapedOpen)
}

// Unescape reverses Escape for text that does not go through Parse.
func Unescape(s string) string {
	return strings.ReplaceAll(s, escapedOpen, "[#")
}

var (
	roleMarker     = regexp.MustCompile(`\[#\s*(user|assistant|system|tool_result:[^#]*?|)\s*#\]`)
	anyMarker      = regexp.MustCompile(`(?s)\[#(.*?)#\]`)
	blobMarker     = regexp.MustCompile(`^\s*blob\s*(.*?)\s*$`)
	toolCallMarker = regexp.MustCompile(`^\s*tool_call:\s*(.*?)\s*$`)
	toolCallInfo   = regexp.MustCompile(`^(.+?)\s*\((.+)\)$`)
)

type markerKind int

const (
	markerBlob markerKind = iota
	markerToolCall
)

// marker is a blob or tool_call marker found inside a section body.
type marker struct {
	kind       markerKind
	arg        string
	start, end int
}

// Parse splits a rendered template into chat messages.
//
// Text without any role marker becomes a single user message. Otherwise every role marker
// opens a section that runs until the next role marker, and each section becomes one
// message. Messages left with neither content nor tool calls are dropped.
func Parse(rendered string) ([]llm.Message, error) {
	locs := roleMarker.FindAllStringSubmatchIndex(rendered, -1)
	if len(locs) == 0 {
		return compact([]llm.Message{&llm.UserMessage{Content: textContent(rendered)}}), nil
	}

	if lead := strings.TrimSpace(rendered[:locs[0][0]]); lead != "" {
		return nil, formatError("text before the first role marker: %q", abbreviate(lead))
	}

	messages := make([]llm.Message, 0, len(locs))
	for i, loc := range locs {
		label := strings.TrimSpace(rendered[loc[2]:loc[3]])
		end := len(rendered)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		msg, err := parseSection(label, rendered[loc[1]:end])
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return compact(messages), nil
}

func parseSection(label, body string) (llm.Message, error) {
	if strings.HasPrefix(label, toolResultPrefix) {
		id := strings.TrimSpace(strings.TrimPrefix(label, toolResultPrefix))
		if id == "" {
			return nil, formatError("tool_result marker without an id")
		}
		return &llm.ToolResultMessage{ID: id, Content: llm.Text(Unescape(strings.TrimSpace(body)))}, nil
	}

	role := sectionRole(label)
	markers, err := scanMarkers(body)
	if err != nil {
		return nil, err
	}

	var blobs, calls int
	for _, m := range markers {
		if m.kind == markerBlob {
			blobs++
		} else {
			calls++
		}
	}

	var (
		content   llm.Content
		toolCalls []llm.ToolCall
	)
	switch {
	case blobs > 0 && calls > 0:
		return nil, &UnsupportedContentCombinationError{Role: role}
	case calls > 0 && role != llm.RoleAssistant:
		return nil, formatError("tool_call marker in %s section", role)
	case blobs > 0:
		content, err = attachmentContent(body, markers)
	case calls > 0:
		content, toolCalls = toolCallContent(body, markers)
	default:
		content = textContent(body)
	}
	if err != nil {
		return nil, err
	}

	switch role {
	case llm.RoleAssistant:
		return &llm.AssistantMessage{Content: content, ToolCalls: toolCalls}, nil
	case llm.RoleSystem:
		return &llm.SystemMessage{Content: content}, nil
	default:
		return &llm.UserMessage{Content: content}, nil
	}
}

// sectionRole maps a role label to a role. Anything that is not assistant or system,
// including the empty label, is a user section.
func sectionRole(label string) llm.Role {
	switch label {
	case string(llm.RoleAssistant):
		return llm.RoleAssistant
	case string(llm.RoleSystem):
		return llm.RoleSystem
	default:
		return llm.RoleUser
	}
}

// scanMarkers finds the blob and tool_call markers of a section body in document order.
func scanMarkers(body string) ([]marker, error) {
	var markers []marker
	pos := 0
	for _, loc := range anyMarker.FindAllStringSubmatchIndex(body, -1) {
		if strings.Contains(body[pos:loc[0]], "[#") {
			return nil, formatError("unterminated marker")
		}
		inner := body[loc[2]:loc[3]]
		switch {
		case blobMarker.MatchString(inner):
			arg := blobMarker.FindStringSubmatch(inner)[1]
			if arg == "" {
				return nil, formatError("blob marker without a locator")
			}
			markers = append(markers, marker{kind: markerBlob, arg: arg, start: loc[0], end: loc[1]})
		case toolCallMarker.MatchString(inner):
			arg := toolCallMarker.FindStringSubmatch(inner)[1]
			if arg == "" {
				return nil, formatError("tool_call marker without a name")
			}
			markers = append(markers, marker{kind: markerToolCall, arg: arg, start: loc[0], end: loc[1]})
		default:
			return nil, formatError("unknown marker %q", strings.TrimSpace(inner))
		}
		pos = loc[1]
	}
	if strings.Contains(body[pos:], "[#") {
		return nil, formatError("unterminated marker")
	}
	return markers, nil
}

// attachmentContent interleaves trimmed text segments with attachments. Empty segments are
// dropped and a lone text segment is returned as plain text.
func attachmentContent(body string, markers []marker) (llm.Content, error) {
	var parts llm.Parts
	start := 0
	for _, m := range markers {
		if text := strings.TrimSpace(body[start:m.start]); text != "" {
			parts = append(parts, llm.Text(Unescape(text)))
		}
		b, err := blob.FromLocation(m.arg)
		if err != nil {
			return nil, &TemplateFormatError{Reason: "invalid blob marker", Err: err}
		}
		parts = append(parts, llm.Attachment{Blob: b})
		start = m.end
	}
	if text := strings.TrimSpace(body[start:]); text != "" {
		parts = append(parts, llm.Text(Unescape(text)))
	}

	if len(parts) == 1 {
		if text, ok := parts[0].(llm.Text); ok {
			return text, nil
		}
	}
	return parts, nil
}

// toolCallContent returns the text before the first marker as content and one tool call per
// marker. The payload of a call is the trimmed text up to the next marker.
func toolCallContent(body string, markers []marker) (llm.Content, []llm.ToolCall) {
	calls := make([]llm.ToolCall, 0, len(markers))
	for i, m := range markers {
		end := len(body)
		if i+1 < len(markers) {
			end = markers[i+1].start
		}
		name, id := m.arg, ""
		if info := toolCallInfo.FindStringSubmatch(m.arg); info != nil {
			name, id = strings.TrimSpace(info[1]), strings.TrimSpace(info[2])
		}
		if id == "" {
			id = name
		}
		calls = append(calls, llm.ToolCall{
			ID:      id,
			Name:    name,
			Payload: Unescape(strings.TrimSpace(body[m.end:end])),
		})
	}
	return textContent(body[:markers[0].start]), calls
}

func textContent(s string) llm.Content {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return llm.Text(Unescape(s))
}

// compact drops messages that carry neither content nor tool calls. Tool results are kept
// even when empty.
func compact(messages []llm.Message) []llm.Message {
	out := messages[:0]
	for _, msg := range messages {
		if _, ok := msg.(*llm.ToolResultMessage); ok {
			out = append(out, msg)
			continue
		}
		if msg.Body() != nil {
			out = append(out, msg)
			continue
		}
		if am, ok := msg.(*llm.AssistantMessage); ok && am.HasToolCalls() {
			out = append(out, msg)
		}
	}
	return out
}

func abbreviate(s string) string {
	const limit = 40
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
