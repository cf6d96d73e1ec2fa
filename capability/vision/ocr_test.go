package vision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschepis/bpmai/blob"
	"github.com/aschepis/bpmai/capability"
	"github.com/aschepis/bpmai/llm"
	"github.com/aschepis/bpmai/llm/llmtest"
)

func TestNewLLMOCRRequiresVision(t *testing.T) {
	_, err := NewLLMOCR(llmtest.NewFakeClient().Model(false, false))
	assert.ErrorIs(t, err, ErrNoVision)
}

func TestRecognizeSendsImageAttachment(t *testing.T) {
	fake := llmtest.NewFakeClient(&llm.AssistantMessage{Content: llm.Text("  Invoice #42\nTotal: 300 EUR \n")})
	ocr, err := NewLLMOCR(fake.Model(true, false))
	require.NoError(t, err)

	img, err := blob.FromLocation("scan.png")
	require.NoError(t, err)

	text, err := capability.ImagesToText(context.Background(), ocr, []*blob.Blob{img}, "German")
	require.NoError(t, err)
	assert.Equal(t, "Invoice #42\nTotal: 300 EUR", text)

	req := fake.LastRequest()
	require.NotNil(t, req)
	require.Len(t, req.Messages, 1)
	parts, ok := req.Messages[0].Body().(llm.Parts)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Contains(t, string(parts[0].(llm.Text)), "The text is in German.")
	assert.Same(t, img, parts[1].(llm.Attachment).Blob)
}

func TestRecognizeKeepsPageOrder(t *testing.T) {
	client := llm.ClientFunc(func(_ context.Context, req *llm.Request) (*llm.Response, error) {
		att := req.Messages[0].Body().(llm.Parts)[1].(llm.Attachment)
		return &llm.Response{Message: &llm.AssistantMessage{Content: llm.Text("text of " + att.Blob.Location())}}, nil
	})
	ocr, err := NewLLMOCR(&llm.Model{Client: client, Name: "vision", SupportsImages: true})
	require.NoError(t, err)

	var pages []*blob.Blob
	for _, loc := range []string{"p1.png", "p2.png", "p3.png", "p4.png", "p5.png", "p6.png"} {
		b, err := blob.FromLocation(loc)
		require.NoError(t, err)
		pages = append(pages, b)
	}

	result, err := ocr.Recognize(context.Background(), pages, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"text of p1.png", "text of p2.png", "text of p3.png",
		"text of p4.png", "text of p5.png", "text of p6.png",
	}, result.Texts)
}

func TestRecognizePropagatesErrors(t *testing.T) {
	fake := llmtest.NewFakeClient().FailWith(errors.New("model down"))
	ocr, err := NewLLMOCR(fake.Model(true, false))
	require.NoError(t, err)

	img, err := blob.FromLocation("scan.jpg")
	require.NoError(t, err)
	_, err = ocr.Recognize(context.Background(), []*blob.Blob{img}, "")
	assert.ErrorContains(t, err, "model down")
}
