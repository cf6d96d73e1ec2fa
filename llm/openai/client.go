package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/aschepis/bpmai/blob"
	"github.com/aschepis/bpmai/llm"
)

// OpenAIClient implements the llm.Client interface for OpenAI's API.
type OpenAIClient struct {
	client *openai.Client
	model  string // Default model to use if not specified in request
	conv   *converter
	logger zerolog.Logger
}

// NewOpenAIClient creates a new OpenAIClient.
// If apiKey is empty, it will return an error.
// If baseURL is empty, it will use the default OpenAI API endpoint.
// If model is empty, it will use the model from the request.
func NewOpenAIClient(apiKey, baseURL, model, organization string, storage *blob.Storage, logger zerolog.Logger) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if organization != "" {
		config.OrgID = organization
	}
	if storage == nil {
		storage = blob.NewStorage(logger)
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		model:  model,
		conv:   &converter{storage: storage},
		logger: logger.With().Str("component", "openai").Logger(),
	}, nil
}

// API exposes the underlying SDK client, e.g. for transcription.
func (c *OpenAIClient) API() *openai.Client {
	return c.client
}

// Synchronous implements llm.Client.Synchronous.
func (c *OpenAIClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
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

	openaiMsgs, err := c.conv.ToOpenAIMessages(ctx, req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: openaiMsgs,
	}

	if len(req.Tools) > 0 {
		tools, err := ToOpenAITools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("failed to convert tools: %w", err)
		}
		chatReq.Tools = tools
		if req.ToolChoice != "" {
			chatReq.ToolChoice = toolChoice(req.ToolChoice)
		} else {
			chatReq.ToolChoice = "auto"
		}
	}

	structured := req.OutputSchema != nil
	if structured {
		format, err := responseFormat(req.OutputSchema)
		if err != nil {
			return nil, err
		}
		chatReq.ResponseFormat = format
	}

	if req.MaxTokens > 0 {
		chatReq.MaxTokens = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}

	chatResp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, convertOpenAIError(err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, llm.NewProviderError("no choices in response", nil)
	}

	choice := chatResp.Choices[0]
	out, err := FromOpenAIMessage(choice.Message, structured)
	if err != nil {
		return nil, err
	}

	usage := &llm.Usage{
		InputTokens:  int64(chatResp.Usage.PromptTokens),
		OutputTokens: int64(chatResp.Usage.CompletionTokens),
	}
	c.logger.Debug().
		Str("model", model).
		Int64("input_tokens", usage.InputTokens).
		Int64("output_tokens", usage.OutputTokens).
		Int("tool_calls", len(out.ToolCalls)).
		Msg("OpenAI response")

	return &llm.Response{
		Message:    out,
		Usage:      usage,
		StopReason: stopReason(choice.FinishReason),
	}, nil
}

func stopReason(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonLength:
		return "max_tokens"
	case openai.FinishReasonToolCalls:
		return "tool_calls"
	default:
		return "stop"
	}
}

// convertOpenAIError converts OpenAI API errors to llm.Error types.
func convertOpenAIError(err error) error {
	if err == nil {
		return nil
	}

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
	return llm.NewProviderError("OpenAI API error", err)
}
