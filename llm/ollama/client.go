package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/aschepis/bpmai/blob"
	"github.com/aschepis/bpmai/llm"
)

// OllamaClient implements the llm.Client interface for Ollama's API.
type OllamaClient struct {
	client *api.Client
	model  string // Default model to use if not specified in request
	conv   *converter
	logger zerolog.Logger
}

// NewOllamaClient creates a new OllamaClient.
// If host is empty, it will use the default from environment (OLLAMA_HOST or http://localhost:11434).
// If model is empty, it will use the model from the request.
func NewOllamaClient(host, model string, storage *blob.Storage, logger zerolog.Logger) (*OllamaClient, error) {
	client, err := NewAPIClient(host)
	if err != nil {
		return nil, err
	}
	if storage == nil {
		storage = blob.NewStorage(logger)
	}
	return &OllamaClient{
		client: client,
		model:  model,
		conv:   &converter{storage: storage},
		logger: logger.With().Str("component", "ollama").Logger(),
	}, nil
}

// NewAPIClient creates a raw Ollama API client for host, or from the environment when
// host is empty.
func NewAPIClient(host string) (*api.Client, error) {
	if host == "" {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return client, nil
	}
	baseURL, err := parseHost(host)
	if err != nil {
		return nil, fmt.Errorf("invalid host: %w", err)
	}
	return api.NewClient(baseURL, &http.Client{}), nil
}

// parseHost parses a host string into a URL.
func parseHost(host string) (*url.URL, error) {
	// If host doesn't have a scheme, add http://
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

// Synchronous implements llm.Client.Synchronous.
// Ollama has no forced tool choice; with a single tool offered the model is expected to use it.
func (c *OllamaClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	ollamaMsgs, err := c.conv.ToOllamaMessages(ctx, req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}

	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: ollamaMsgs,
		Stream:   new(bool), // false for non-streaming
		Options:  make(map[string]any),
	}

	if len(req.Tools) > 0 {
		tools, err := ToOllamaTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("failed to convert tools: %w", err)
		}
		chatReq.Tools = tools
	}

	structured := req.OutputSchema != nil
	if structured {
		format, err := json.Marshal(req.OutputSchema)
		if err != nil {
			return nil, fmt.Errorf("encode output schema: %w", err)
		}
		chatReq.Format = json.RawMessage(format)
	}

	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Options["temperature"] = *req.Temperature
	}

	var chatResp api.ChatResponse
	err = c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		chatResp = resp
		return nil
	})
	if err != nil {
		return nil, classifyError(err)
	}

	out, err := FromOllamaMessage(chatResp.Message, structured)
	if err != nil {
		return nil, err
	}

	usage := &llm.Usage{
		InputTokens:  int64(chatResp.PromptEvalCount),
		OutputTokens: int64(chatResp.EvalCount),
	}
	c.logger.Debug().
		Str("model", model).
		Int64("input_tokens", usage.InputTokens).
		Int64("output_tokens", usage.OutputTokens).
		Int("tool_calls", len(out.ToolCalls)).
		Msg("Ollama response")

	stopReason := "stop"
	if chatResp.DoneReason != "" {
		stopReason = chatResp.DoneReason
	}

	return &llm.Response{
		Message:    out,
		Usage:      usage,
		StopReason: stopReason,
	}, nil
}

func classifyError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return llm.ClassifyStatus(llm.ProviderOllama, statusErr.StatusCode, nil, err)
	}
	if te := llm.ClassifyTransportError(llm.ProviderOllama, err); te != nil {
		return te
	}
	return llm.NewProviderError("ollama chat request failed", err)
}
