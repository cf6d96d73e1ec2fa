package skill

import (
	"context"
	"strings"
	"sync"

	"github.com/aschepis/bpmai/blob"
	"github.com/aschepis/bpmai/capability"
)

type fakeOCR struct{ text string }

func (f fakeOCR) Recognize(_ context.Context, images []*blob.Blob, _ string) (*capability.OCRResult, error) {
	texts := make([]string, len(images))
	for i := range images {
		texts[i] = f.text
	}
	return &capability.OCRResult{Texts: texts}, nil
}

type fakeASR struct{ transcript string }

func (f fakeASR) Transcribe(context.Context, *blob.Blob, string) (string, error) {
	return f.transcript, nil
}

// fakeClassifier returns the class chosen by pick with the given score.
type fakeClassifier struct {
	mu         sync.Mutex
	pick       func(text string, classes []string) (string, float64)
	hypotheses []string
}

func (f *fakeClassifier) Classify(_ context.Context, text string, classes []string, hypothesis string) (*capability.ClassificationResult, error) {
	f.mu.Lock()
	f.hypotheses = append(f.hypotheses, hypothesis)
	f.mu.Unlock()
	label, score := f.pick(text, classes)
	return &capability.ClassificationResult{MaxLabel: label, MaxScore: score}, nil
}

// fakeQA answers with answer(passage, question).
type fakeQA struct {
	mu        sync.Mutex
	questions []string
	answer    func(passage, question string) (string, float64)
}

func (f *fakeQA) Answer(_ context.Context, passage, question string) (*capability.QAResult, error) {
	f.mu.Lock()
	f.questions = append(f.questions, question)
	f.mu.Unlock()
	text, score := f.answer(passage, question)
	return &capability.QAResult{Answer: text, Score: score, StartIndex: strings.Index(passage, text)}, nil
}

type fakeTagger struct{ tokens []capability.Token }

func (f fakeTagger) Tag(context.Context, string) ([]capability.Token, error) {
	return f.tokens, nil
}

type fakeTranslator struct {
	target string
	texts  []string
}

func (f *fakeTranslator) Translate(_ context.Context, texts []string, target string) ([]string, error) {
	f.target = target
	f.texts = texts
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = "[" + target + "] " + t
	}
	return out, nil
}
