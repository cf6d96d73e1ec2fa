// Package capability defines the non-chat model families used by skills: OCR, speech
// recognition, machine translation, zero-shot classification, question answering and
// part-of-speech tagging.
//
// The package-level helpers wrap a call in a tracing span and apply confidence thresholds.
package capability

import (
	"context"
	"strings"

	"github.com/samber/lo"

	"github.com/aschepis/bpmai/blob"
	"github.com/aschepis/bpmai/tracing"
)

// OCRResult holds the recognized text of each page or image, in input order.
type OCRResult struct {
	Texts []string `json:"texts"`
}

// OCR recognizes text in images.
type OCR interface {
	Recognize(ctx context.Context, images []*blob.Blob, language string) (*OCRResult, error)
}

// ASR transcribes audio.
type ASR interface {
	Transcribe(ctx context.Context, audio *blob.Blob, language string) (string, error)
}

// Translator translates texts into a target language given as an ISO 639-1 code.
type Translator interface {
	Translate(ctx context.Context, texts []string, targetLanguage string) ([]string, error)
}

// LabelScore is the score of one candidate class.
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// ClassificationResult holds the best label and the scores of all labels.
type ClassificationResult struct {
	MaxLabel     string       `json:"max_label"`
	MaxScore     float64      `json:"max_score"`
	LabelsScores []LabelScore `json:"labels_scores"`
}

// ZeroShotClassifier assigns one of a set of free-form classes to a text.
// An empty hypothesisTemplate selects the implementation's default.
type ZeroShotClassifier interface {
	Classify(ctx context.Context, text string, classes []string, hypothesisTemplate string) (*ClassificationResult, error)
}

// QAResult is an answer span found in a context.
type QAResult struct {
	Answer     string  `json:"answer"`
	Score      float64 `json:"score"`
	StartIndex int     `json:"start_index"`
	EndIndex   int     `json:"end_index"`
}

// ExtractiveQA answers a question with a span of passage.
type ExtractiveQA interface {
	Answer(ctx context.Context, passage, question string) (*QAResult, error)
}

// QuestionAnswering answers a question about a document, such as a scanned form.
type QuestionAnswering interface {
	AnswerDocument(ctx context.Context, document *blob.Blob, question string) (*QAResult, error)
}

// Token is a word with its part-of-speech tag, e.g. ("30", "NUM").
type Token struct {
	Text string `json:"text"`
	Tag  string `json:"tag"`
}

// POSTagger tags the tokens of a text.
type POSTagger interface {
	Tag(ctx context.Context, text string) ([]Token, error)
}

// ImagesToText runs OCR over images and joins the page texts with newlines.
func ImagesToText(ctx context.Context, ocr OCR, images []*blob.Blob, language string) (string, error) {
	inputs := map[string]any{"images": blobSources(images), "language": language}
	return tracing.Span(ctx, "ocr", inputs, func(ctx context.Context) (string, error) {
		result, err := ocr.Recognize(ctx, images, language)
		if err != nil {
			return "", err
		}
		return strings.Join(result.Texts, "\n"), nil
	})
}

// Transcribe runs speech recognition on audio.
func Transcribe(ctx context.Context, asr ASR, audio *blob.Blob, language string) (string, error) {
	inputs := map[string]any{"audio": audio.Source(), "language": language}
	return tracing.Span(ctx, "asr", inputs, func(ctx context.Context) (string, error) {
		return asr.Transcribe(ctx, audio, language)
	})
}

// Translate translates texts into targetLanguage.
func Translate(ctx context.Context, t Translator, texts []string, targetLanguage string) ([]string, error) {
	inputs := map[string]any{"texts": texts, "target_language": targetLanguage}
	return tracing.Span(ctx, "nmt", inputs, func(ctx context.Context) ([]string, error) {
		return t.Translate(ctx, texts, targetLanguage)
	})
}

// Classify returns the best label for text. ok is false when threshold is positive and
// the best score does not exceed it.
func Classify(ctx context.Context, c ZeroShotClassifier, text string, classes []string, threshold float64, hypothesisTemplate string) (label string, ok bool, err error) {
	inputs := map[string]any{
		"text":                 text,
		"classes":              classes,
		"confidence_threshold": threshold,
		"hypothesis_template":  hypothesisTemplate,
	}
	result, err := tracing.Span(ctx, "classification", inputs, func(ctx context.Context) (*ClassificationResult, error) {
		return c.Classify(ctx, text, classes, hypothesisTemplate)
	})
	if err != nil {
		return "", false, err
	}
	if !Accept(result.MaxScore, threshold) {
		return "", false, nil
	}
	return result.MaxLabel, true, nil
}

// Answer returns the answer to question found in text. ok is false when no answer scores
// above threshold.
func Answer(ctx context.Context, qa ExtractiveQA, text, question string, threshold float64) (answer string, ok bool, err error) {
	inputs := map[string]any{"context": text, "question": question, "confidence_threshold": threshold}
	result, err := tracing.Span(ctx, "extractive_qa", inputs, func(ctx context.Context) (*QAResult, error) {
		return qa.Answer(ctx, text, question)
	})
	if err != nil {
		return "", false, err
	}
	if result.Answer == "" || !Accept(result.Score, threshold) {
		return "", false, nil
	}
	return result.Answer, true, nil
}

// AnswerDocument is Answer for document question answering.
func AnswerDocument(ctx context.Context, qa QuestionAnswering, document *blob.Blob, question string, threshold float64) (answer string, ok bool, err error) {
	inputs := map[string]any{"document": document.Source(), "question": question, "confidence_threshold": threshold}
	result, err := tracing.Span(ctx, "qa", inputs, func(ctx context.Context) (*QAResult, error) {
		return qa.AnswerDocument(ctx, document, question)
	})
	if err != nil {
		return "", false, err
	}
	if result.Answer == "" || !Accept(result.Score, threshold) {
		return "", false, nil
	}
	return result.Answer, true, nil
}

// Accept reports whether score passes threshold. A threshold of zero or less accepts
// every score.
func Accept(score, threshold float64) bool {
	return threshold <= 0 || score > threshold
}

func blobSources(blobs []*blob.Blob) []string {
	return lo.Map(blobs, func(b *blob.Blob, _ int) string { return b.Source() })
}
