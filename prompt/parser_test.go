package prompt

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschepis/bpmai/llm"
)

func TestParseWithoutMarkers(t *testing.T) {
	messages, err := Parse("  just a question?\n")
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{&llm.UserMessage{Content: llm.Text("just a question?")}}, messages)

	messages, err = Parse(" \n\t")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestParseAttachmentIsolation(t *testing.T) {
	messages, err := Parse("[# user #]\nLook: [# blob img.png #] thanks")
	require.NoError(t, err)
	require.Len(t, messages, 1)

	parts, ok := messages[0].Body().(llm.Parts)
	require.True(t, ok)
	require.Len(t, parts, 3)
	assert.Equal(t, llm.Text("Look:"), parts[0])
	att := parts[1].(llm.Attachment)
	assert.Equal(t, "img.png", att.Blob.Location())
	assert.Equal(t, "image/png", att.Blob.MimeType())
	assert.Equal(t, llm.Text("thanks"), parts[2])
}

func TestParseAttachmentOnly(t *testing.T) {
	messages, err := Parse("[# user #]\n[# blob scan.pdf #]\n")
	require.NoError(t, err)
	require.Len(t, messages, 1)

	parts, ok := messages[0].Body().(llm.Parts)
	require.True(t, ok)
	require.Len(t, parts, 1)
	assert.True(t, parts[0].(llm.Attachment).Blob.IsPDF())
}

func TestParseToolCallOrderAndIDs(t *testing.T) {
	messages, err := Parse(`[# assistant #]
[# tool_call: search (s1) #]
{"q": "a"}
[# tool_call: search (s2) #]
{"q": "b"}
[# tool_call: fetch #]
`)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	am := messages[0].(*llm.AssistantMessage)
	assert.Nil(t, am.Content)
	require.Len(t, am.ToolCalls, 3)
	assert.Equal(t, llm.ToolCall{ID: "s1", Name: "search", Payload: `{"q": "a"}`}, am.ToolCalls[0])
	assert.Equal(t, llm.ToolCall{ID: "s2", Name: "search", Payload: `{"q": "b"}`}, am.ToolCalls[1])
	assert.Equal(t, llm.ToolCall{ID: "fetch", Name: "fetch", Payload: ""}, am.ToolCalls[2])

	args, err := am.ToolCalls[0].Arguments()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"q": "a"}, args)
}

func TestParseUndecodablePayloadStillParses(t *testing.T) {
	messages, err := Parse("[# assistant #]\n[# tool_call: calc (c) #]\nnot json")
	require.NoError(t, err)

	call := messages[0].(*llm.AssistantMessage).ToolCalls[0]
	_, err = call.Arguments()
	var decodeErr *llm.PayloadDecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "c", decodeErr.ID)
}

func TestParseToolResult(t *testing.T) {
	messages, err := Parse("[# tool_result: call_7 #]\n  42 apples \n")
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{&llm.ToolResultMessage{ID: "call_7", Content: llm.Text("42 apples")}}, messages)
}

func TestParseToolResultBodyIsNotScanned(t *testing.T) {
	messages, err := Parse("[# tool_result: r #]\nsaw [# blob x.png #] and [# weird #]")
	require.NoError(t, err)
	assert.Equal(t, llm.Text("saw [# blob x.png #] and [# weird #]"), messages[0].Body())
}

func TestParseEmptyMarkerIsUser(t *testing.T) {
	messages, err := Parse("[# system #]\nsys\n[# #]\nhello")
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{
		&llm.SystemMessage{Content: llm.Text("sys")},
		&llm.UserMessage{Content: llm.Text("hello")},
	}, messages)
}

func TestParseDropsEmptySections(t *testing.T) {
	messages, err := Parse("[# system #]\n\n[# user #]\nhi\n[# assistant #]\n")
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{&llm.UserMessage{Content: llm.Text("hi")}}, messages)
}

func TestParseMixedMarkers(t *testing.T) {
	_, err := Parse("[# assistant #]\n[# blob a.png #]\n[# tool_call: f #]\n{}")
	var mixed *UnsupportedContentCombinationError
	require.ErrorAs(t, err, &mixed)
	assert.Equal(t, llm.RoleAssistant, mixed.Role)
}

func TestParseFormatErrors(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{name: "text before first marker", input: "preamble\n[# user #]\nhi"},
		{name: "unterminated marker", input: "[# user #]\nhello [# blob a.png"},
		{name: "unknown marker", input: "[# user #]\nhello [# image a.png #]"},
		{name: "empty tool result id", input: "[# tool_result: #]\nx"},
		{name: "empty tool call name", input: "[# assistant #]\n[# tool_call: #]\nx"},
		{name: "empty blob locator", input: "[# user #]\n[# blob #]"},
		{name: "tool call in user section", input: "[# user #]\n[# tool_call: lookup (c1) #]\n{\"q\":1}"},
		{name: "tool call in system section", input: "[# system #]\nhi\n[# tool_call: lookup #]\n{}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.input)
			var formatErr *TemplateFormatError
			assert.ErrorAs(t, err, &formatErr)
		})
	}
}

func TestParseEscapedText(t *testing.T) {
	rendered := "[# user #]\nCustomer wrote: see ticket " + Escape("[#4521] and [# note #]") + "\n[# blob a.png #]"
	messages, err := Parse(rendered)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	parts, ok := messages[0].Body().(llm.Parts)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, llm.Text("Customer wrote: see ticket [#4521] and [# note #]"), parts[0])
	assert.IsType(t, llm.Attachment{}, parts[1])

	messages, err = Parse("[# assistant #]\n[# tool_call: f #]\n" + Escape(`{"q": "[# x"}`))
	require.NoError(t, err)
	am := messages[0].(*llm.AssistantMessage)
	assert.Equal(t, `{"q": "[# x"}`, am.ToolCalls[0].Payload)

	assert.Equal(t, "a [# b", Unescape(Escape("a [# b")))
}

func TestAbbreviateKeepsRunes(t *testing.T) {
	s := strings.Repeat("ä", 50)
	out := abbreviate(s)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, strings.Repeat("ä", 40)+"...", out)
	assert.Equal(t, "short", abbreviate("short"))
}
