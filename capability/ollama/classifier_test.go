package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// vectors maps input texts to fixed embeddings.
var vectors = map[string][]float32{
	"The invoice total is 300 EUR.":  {1, 0.1, 0},
	"This example is about finance.": {0.9, 0.2, 0},
	"This example is about sports.":  {0, 0.1, 1},
}

func newEmbedServer(t *testing.T) *api.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultEmbeddingModel, req.Model)

		embeddings := make([][]float32, 0, len(req.Input))
		for _, in := range req.Input {
			embeddings = append(embeddings, vectors[in])
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": embeddings})
	}))
	t.Cleanup(server.Close)

	base, err := url.Parse(server.URL)
	require.NoError(t, err)
	return api.NewClient(base, server.Client())
}

func TestEmbeddingClassifierPicksClosestClass(t *testing.T) {
	c := NewEmbeddingClassifier(newEmbedServer(t), "", zerolog.Nop())

	result, err := c.Classify(context.Background(), "The invoice total is 300 EUR.", []string{"about sports", "about finance"}, "")
	require.NoError(t, err)
	assert.Equal(t, "about finance", result.MaxLabel)
	assert.Greater(t, result.MaxScore, 0.9)
	require.Len(t, result.LabelsScores, 2)
	assert.Equal(t, "about finance", result.LabelsScores[0].Label)
	assert.InDelta(t, 1.0, result.LabelsScores[0].Score+result.LabelsScores[1].Score, 1e-9)
}

func TestEmbeddingClassifierRequiresClasses(t *testing.T) {
	c := NewEmbeddingClassifier(nil, "", zerolog.Nop())
	_, err := c.Classify(context.Background(), "text", nil, "")
	assert.Error(t, err)
}

func TestFillHypothesis(t *testing.T) {
	assert.Equal(t, "This text is urgent.", fillHypothesis("This text is {}.", "urgent"))
	assert.Equal(t, "Topic: billing", fillHypothesis("Topic:", "billing"))
}

func TestSoftmax(t *testing.T) {
	scores := softmax([]float64{0.5, 0.5}, DefaultTemperature)
	assert.InDelta(t, 0.5, scores[0], 1e-9)
	assert.InDelta(t, 0.5, scores[1], 1e-9)
}
