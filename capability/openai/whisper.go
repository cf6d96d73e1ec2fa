// Package openai provides capabilities backed by the OpenAI API.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/aschepis/bpmai/blob"
	"github.com/aschepis/bpmai/llm"
)

// DefaultWhisperModel is the transcription model used when none is configured.
const DefaultWhisperModel = openai.Whisper1

// Whisper implements capability.ASR with OpenAI's transcription endpoint.
type Whisper struct {
	client  *openai.Client
	model   string
	storage *blob.Storage
	logger  zerolog.Logger
}

// NewWhisper creates a Whisper transcriber. An empty model selects DefaultWhisperModel.
func NewWhisper(client *openai.Client, model string, storage *blob.Storage, logger zerolog.Logger) *Whisper {
	if model == "" {
		model = DefaultWhisperModel
	}
	if storage == nil {
		storage = blob.NewStorage(logger)
	}
	return &Whisper{
		client:  client,
		model:   model,
		storage: storage,
		logger:  logger.With().Str("component", "whisper").Logger(),
	}
}

// Transcribe implements capability.ASR.
func (w *Whisper) Transcribe(ctx context.Context, audio *blob.Blob, language string) (string, error) {
	data, err := w.storage.Bytes(ctx, audio)
	if err != nil {
		return "", fmt.Errorf("load audio: %w", err)
	}

	req := openai.AudioRequest{
		Model:    w.model,
		FilePath: fileName(audio),
		Reader:   bytes.NewReader(data),
		Language: language,
	}
	resp, err := w.client.CreateTranscription(ctx, req)
	if err != nil {
		return "", classifyError(err)
	}
	w.logger.Debug().Str("audio", audio.Source()).Int("chars", len(resp.Text)).Msg("Transcribed audio")
	return resp.Text, nil
}

// fileName gives the upload a name whose extension matches the audio format, which the
// endpoint uses to detect it.
func fileName(audio *blob.Blob) string {
	if ext := blob.Extension(audio.Location()); ext != "" {
		return "audio." + ext
	}
	switch sub := strings.TrimPrefix(audio.MimeType(), "audio/"); sub {
	case "", "mpeg":
		return "audio.mp3"
	case "vnd.wav", "x-wav":
		return "audio.wav"
	default:
		return "audio." + sub
	}
}

func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return llm.ClassifyStatus(llm.ProviderOpenAI, apiErr.HTTPStatusCode, nil, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return llm.ClassifyStatus(llm.ProviderOpenAI, reqErr.HTTPStatusCode, nil, err)
	}
	if te := llm.ClassifyTransportError(llm.ProviderOpenAI, err); te != nil {
		return te
	}
	return llm.NewProviderError("OpenAI transcription failed", err)
}
