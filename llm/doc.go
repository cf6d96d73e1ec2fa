// Package llm provides a provider-neutral abstraction layer for Large Language Model (LLM) APIs.
//
// This package defines common types, interfaces, and utilities that allow the codebase
// to work with multiple LLM providers (Anthropic, OpenAI, Ollama) without being
// tightly coupled to any specific provider's SDK.
//
// # Core Concepts
//
//  1. Messages: SystemMessage, UserMessage, AssistantMessage and ToolResultMessage implement
//     the sealed Message interface. The role is fixed by the type. Content is exactly one of
//     Text, Structured or Parts, where Parts mixes Text and Attachment.
//
//  2. Tools: ToolSpec describes a tool offered to the model. ToolCall is a model request to
//     run one; ToolCall.Arguments resolves its payload to an argument map.
//
//  3. Client Interface: Client.Synchronous performs one request. Model binds a client to a
//     model name and builds requests from a Formatter (usually a *prompt.Prompt).
//
//  4. Middleware: the Middleware interface adds cross-cutting concerns like tracing and
//     rate limiting without modifying provider implementations. WithRetry wraps a client
//     with exponential backoff for retryable errors.
//
//  5. Errors: the Error type classifies provider failures. Rate limits, transient server
//     errors, connection failures and timeouts are retryable; everything else is not.
//
//  6. Registries: ProviderRegistry picks a provider from preferences and configuration;
//     ClientRegistry memoizes clients per endpoint and credential for its owner.
//
// Usage Example
//
//	client := llm.WithRetry(
//	    llm.WrapWithMiddleware(anthropic.NewClient(apiKey), tracing.NewMiddleware()),
//	    llm.DefaultRetryPolicy(),
//	    logger,
//	)
//	model := &llm.Model{Client: client, Provider: llm.ProviderAnthropic, Name: "claude-haiku-4-5"}
//
//	p := prompt.FromString("Summarize: {{text}}", map[string]any{"text": doc})
//	msg, err := model.Predict(ctx, p)
//
// # Extension Points
//
// To add a new LLM provider:
//  1. Implement the Client interface
//  2. Translate between provider-specific types and llm package types
//  3. Handle provider-specific errors and translate to llm.Error types
package llm
