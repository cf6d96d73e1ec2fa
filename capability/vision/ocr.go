// Package vision implements capabilities on top of vision-capable chat models.
package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/aschepis/bpmai/blob"
	"github.com/aschepis/bpmai/capability"
	"github.com/aschepis/bpmai/llm"
)

// DefaultConcurrency bounds the number of pages recognized in parallel.
const DefaultConcurrency = 4

const instruction = "Transcribe all text in this image exactly as it appears, preserving line breaks. " +
	"Output only the transcribed text without any commentary."

// ErrNoVision is returned when the model cannot read images.
var ErrNoVision = errors.New("vision: model does not support images")

// LLMOCR implements capability.OCR with a vision-capable model, one request per image.
type LLMOCR struct {
	model       *llm.Model
	concurrency int
}

var _ capability.OCR = (*LLMOCR)(nil)

// NewLLMOCR creates an OCR backed by model.
func NewLLMOCR(model *llm.Model) (*LLMOCR, error) {
	if !model.SupportsImages {
		return nil, ErrNoVision
	}
	return &LLMOCR{model: model, concurrency: DefaultConcurrency}, nil
}

// Recognize implements capability.OCR. Texts are returned in the order of images.
func (o *LLMOCR) Recognize(ctx context.Context, images []*blob.Blob, language string) (*capability.OCRResult, error) {
	texts := make([]string, len(images))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, img := range images {
		g.Go(func() error {
			text, err := o.recognize(ctx, img, language)
			if err != nil {
				return fmt.Errorf("image %d (%s): %w", i, img.Source(), err)
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &capability.OCRResult{Texts: texts}, nil
}

func (o *LLMOCR) recognize(ctx context.Context, img *blob.Blob, language string) (string, error) {
	prompt := instruction
	if language != "" {
		prompt += " The text is in " + language + "."
	}
	msg, err := o.model.Predict(ctx, llm.Messages{
		&llm.UserMessage{Content: llm.Parts{llm.Text(prompt), llm.Attachment{Blob: img}}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(llm.ContentText(msg.Content)), nil
}
