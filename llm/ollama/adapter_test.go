package ollama

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschepis/bpmai/blob"
	"github.com/aschepis/bpmai/llm"
)

func pngBlob(t *testing.T) *blob.Blob {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	b, err := blob.FromData(buf.Bytes(), "image/png")
	require.NoError(t, err)
	return b
}

func TestToOllamaMessage(t *testing.T) {
	notes, err := blob.FromData([]byte("some notes"), "text/plain")
	require.NoError(t, err)
	c := &converter{storage: blob.NewStorage(zerolog.Nop())}

	msgs, err := c.ToOllamaMessages(context.Background(), []llm.Message{
		&llm.UserMessage{Content: llm.Parts{llm.Text("Look:"), llm.Attachment{Blob: pngBlob(t)}, llm.Attachment{Blob: notes}}},
		&llm.AssistantMessage{ToolCalls: []llm.ToolCall{{ID: "a", Name: "lookup", Payload: `{"q": "x"}`}}},
		&llm.ToolResultMessage{ID: "a", Content: llm.Text("found")},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "Look:\nsome notes", msgs[0].Content)
	assert.Len(t, msgs[0].Images, 1)

	assert.Equal(t, "assistant", msgs[1].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "lookup", msgs[1].ToolCalls[0].Function.Name)
	assert.Equal(t, "x", msgs[1].ToolCalls[0].Function.Arguments["q"])

	assert.Equal(t, "found", msgs[2].Content)
}

func TestToOllamaTool(t *testing.T) {
	tool, err := ToOllamaTool(&llm.ToolSpec{
		Name: "store_decision",
		Schema: llm.ToolSchema{
			Properties: map[string]any{"decision": map[string]any{"type": "boolean", "description": "the decision"}},
			Required:   []string{"decision"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "object", tool.Function.Parameters.Type)
	assert.Equal(t, []string{"decision"}, tool.Function.Parameters.Required)
	assert.Equal(t, "the decision", tool.Function.Parameters.Properties["decision"].Description)

	_, err = ToOllamaTool(&llm.ToolSpec{})
	assert.Error(t, err)
}
