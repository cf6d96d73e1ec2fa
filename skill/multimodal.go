package skill

import (
	"context"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/aschepis/bpmai/blob"
	"github.com/aschepis/bpmai/capability"
	"github.com/aschepis/bpmai/media"
	"github.com/aschepis/bpmai/prompt"
)

// blobPlaceholder references a file so that prompt parsing turns it into an attachment.
func blobPlaceholder(location string) string {
	return "[# blob " + location + " #]"
}

// preprocess prepares multimodal inputs. With vision, image and PDF inputs become blob
// placeholders; otherwise they are replaced by their OCR text when an OCR is configured.
// Audio inputs are transcribed when an ASR is configured. All other text, including OCR
// and ASR output, is escaped with prompt.Escape so that it renders as data; use plainText
// for text that is not passed through a prompt.
func preprocess(ctx context.Context, in *Input, vision bool, o options) (*Input, error) {
	out := orderedmap.New[string, any](in.Len())
	for pair := in.Oldest(); pair != nil; pair = pair.Next() {
		value, err := preprocessValue(ctx, pair.Value, vision, o)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", pair.Key, err)
		}
		out.Set(pair.Key, value)
	}
	return out, nil
}

func preprocessValue(ctx context.Context, v any, vision bool, o options) (any, error) {
	location, ok := v.(string)
	if !ok {
		return escapeValue(v), nil
	}

	switch {
	case media.IsSupportedImageOrPDF(location):
		if vision {
			return blobPlaceholder(location), nil
		}
		if o.ocr == nil {
			return prompt.Escape(location), nil
		}
		img, err := blob.FromLocation(location)
		if err != nil {
			return nil, err
		}
		text, err := capability.ImagesToText(ctx, o.ocr, []*blob.Blob{img}, "")
		return prompt.Escape(text), err

	case media.IsSupportedAudio(location):
		if o.asr == nil {
			return prompt.Escape(location), nil
		}
		audio, err := blob.FromLocation(location)
		if err != nil {
			return nil, err
		}
		text, err := capability.Transcribe(ctx, o.asr, audio, "")
		return prompt.Escape(text), err
	}
	return prompt.Escape(location), nil
}

// escapeValue escapes every string nested in v.
func escapeValue(v any) any {
	switch val := v.(type) {
	case string:
		return prompt.Escape(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = escapeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = escapeValue(item)
		}
		return out
	case *orderedmap.OrderedMap[string, any]:
		out := orderedmap.New[string, any](val.Len())
		for pair := val.Oldest(); pair != nil; pair = pair.Next() {
			out.Set(pair.Key, escapeValue(pair.Value))
		}
		return out
	}
	return v
}

// plainText reverses the escaping of preprocess.
func plainText(s string) string {
	return prompt.Unescape(s)
}
