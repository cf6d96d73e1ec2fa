package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/aschepis/bpmai/blob"
	"github.com/aschepis/bpmai/llm"
)

// AnthropicClient implements the llm.Client interface for Anthropic's API.
type AnthropicClient struct {
	client *anthropic.Client
	conv   *converter
	logger zerolog.Logger
}

// NewAnthropicClient creates a new AnthropicClient with the given API key. Attachments are
// loaded through storage. SDK-level retries are disabled; wrap the client with llm.WithRetry.
func NewAnthropicClient(apiKey string, storage *blob.Storage, logger zerolog.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if storage == nil {
		storage = blob.NewStorage(logger)
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0))
	return &AnthropicClient{
		client: &client,
		conv:   &converter{storage: storage},
		logger: logger.With().Str("component", "anthropic").Logger(),
	}, nil
}

// Synchronous implements llm.Client.Synchronous.
func (c *AnthropicClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	system, msgs, err := c.conv.ToMessageParams(ctx, req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}

	tools := req.Tools
	toolChoice := req.ToolChoice
	structured := req.OutputSchema != nil
	if structured {
		tools = []llm.ToolSpec{schemaTool(req.OutputSchema)}
		toolChoice = structuredOutputTool
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  msgs,
		System:    system,
		Tools:     ToToolUnionParams(tools),
	}
	if toolChoice != "" {
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: toolChoice},
		}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}

	out, err := FromMessage(message, structured)
	if err != nil {
		return nil, err
	}

	usage := &llm.Usage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}
	c.logger.Debug().
		Str("model", req.Model).
		Int64("input_tokens", usage.InputTokens).
		Int64("output_tokens", usage.OutputTokens).
		Int("tool_calls", len(out.ToolCalls)).
		Msg("Anthropic response")

	return &llm.Response{
		Message:    out,
		Usage:      usage,
		StopReason: string(message.StopReason),
	}, nil
}

func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var header = apiErr.Response
		if header != nil {
			return llm.ClassifyStatus(llm.ProviderAnthropic, apiErr.StatusCode, llm.ParseRetryAfter(header.Header), err)
		}
		return llm.ClassifyStatus(llm.ProviderAnthropic, apiErr.StatusCode, nil, err)
	}
	if te := llm.ClassifyTransportError(llm.ProviderAnthropic, err); te != nil {
		return te
	}
	return llm.NewProviderError("anthropic request failed", err)
}
