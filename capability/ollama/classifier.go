// Package ollama provides capabilities backed by a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/aschepis/bpmai/capability"
	"github.com/aschepis/bpmai/llm"
)

const (
	// DefaultEmbeddingModel is used when no embedding model is configured.
	DefaultEmbeddingModel = "nomic-embed-text"
	// DefaultHypothesisTemplate is filled with each class; "{}" marks the class.
	DefaultHypothesisTemplate = "This example is {}."
	// DefaultTemperature sharpens the softmax over cosine similarities.
	DefaultTemperature = 0.05
)

// EmbeddingClassifier implements capability.ZeroShotClassifier by comparing the embedding
// of the text with the embedding of each filled hypothesis.
type EmbeddingClassifier struct {
	client      *api.Client
	model       string
	temperature float64
	logger      zerolog.Logger
}

// NewEmbeddingClassifier creates a classifier. An empty model selects
// DefaultEmbeddingModel.
func NewEmbeddingClassifier(client *api.Client, model string, logger zerolog.Logger) *EmbeddingClassifier {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &EmbeddingClassifier{
		client:      client,
		model:       model,
		temperature: DefaultTemperature,
		logger:      logger.With().Str("component", "embedding_classifier").Logger(),
	}
}

// Classify implements capability.ZeroShotClassifier.
func (c *EmbeddingClassifier) Classify(ctx context.Context, text string, classes []string, hypothesisTemplate string) (*capability.ClassificationResult, error) {
	if len(classes) == 0 {
		return nil, errors.New("no classes given")
	}
	if hypothesisTemplate == "" {
		hypothesisTemplate = DefaultHypothesisTemplate
	}

	inputs := make([]string, 0, len(classes)+1)
	inputs = append(inputs, text)
	for _, class := range classes {
		inputs = append(inputs, fillHypothesis(hypothesisTemplate, class))
	}

	resp, err := c.client.Embed(ctx, &api.EmbedRequest{Model: c.model, Input: inputs})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return nil, llm.ClassifyStatus(llm.ProviderOllama, statusErr.StatusCode, nil, err)
		}
		if te := llm.ClassifyTransportError(llm.ProviderOllama, err); te != nil {
			return nil, te
		}
		return nil, llm.NewProviderError("ollama embed request failed", err)
	}
	if len(resp.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(inputs), len(resp.Embeddings))
	}

	sims := make([]float64, len(classes))
	for i := range classes {
		sims[i] = cosine(resp.Embeddings[0], resp.Embeddings[i+1])
	}
	scores := softmax(sims, c.temperature)

	result := &capability.ClassificationResult{LabelsScores: make([]capability.LabelScore, len(classes))}
	for i, class := range classes {
		result.LabelsScores[i] = capability.LabelScore{Label: class, Score: scores[i]}
	}
	sort.SliceStable(result.LabelsScores, func(i, j int) bool {
		return result.LabelsScores[i].Score > result.LabelsScores[j].Score
	})
	result.MaxLabel = result.LabelsScores[0].Label
	result.MaxScore = result.LabelsScores[0].Score

	c.logger.Debug().Str("label", result.MaxLabel).Float64("score", result.MaxScore).Msg("Classified text")
	return result, nil
}

func fillHypothesis(template, class string) string {
	if strings.Contains(template, "{}") {
		return strings.ReplaceAll(template, "{}", class)
	}
	return template + " " + class
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := 0; i < len(a) && i < len(b); i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func softmax(xs []float64, temperature float64) []float64 {
	if temperature <= 0 {
		temperature = 1
	}
	peak := math.Inf(-1)
	for _, x := range xs {
		peak = math.Max(peak, x)
	}
	out := make([]float64, len(xs))
	var sum float64
	for i, x := range xs {
		out[i] = math.Exp((x - peak) / temperature)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
