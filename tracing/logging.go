package tracing

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aschepis/bpmai/llm"
)

// LoggingTracer writes every event to a zerolog logger, indented by span depth.
type LoggingTracer struct {
	logger zerolog.Logger

	mu    sync.Mutex
	depth int
}

// NewLoggingTracer creates a LoggingTracer.
func NewLoggingTracer(logger zerolog.Logger) *LoggingTracer {
	return &LoggingTracer{logger: logger.With().Str("component", "tracer").Logger()}
}

func (t *LoggingTracer) indent() string {
	if t.depth == 0 {
		return "|--"
	}
	return "|" + strings.Repeat("  ", t.depth) + "|--"
}

func (t *LoggingTracer) StartTrace(name string, inputs map[string]any) {
	t.logger.Info().Str("trace", name).Interface("inputs", inputs).Msg("[TRACE START]")
}

func (t *LoggingTracer) EndTrace(outputs map[string]any, err error) {
	if err != nil {
		t.logger.Error().Err(err).Msg("[TRACE ERROR]")
		return
	}
	t.logger.Info().Interface("outputs", outputs).Msg("[TRACE END]")
}

func (t *LoggingTracer) StartSpan(name string, inputs map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger.Info().Str("span", name).Int("depth", t.depth).Interface("inputs", inputs).Msg(t.indent() + "[SPAN START]")
	t.depth++
}

func (t *LoggingTracer) EndSpan(outputs map[string]any, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.depth > 0 {
		t.depth--
	}
	if err != nil {
		t.logger.Error().Err(err).Int("depth", t.depth).Msg(t.indent() + "[SPAN ERROR]")
		return
	}
	t.logger.Info().Int("depth", t.depth).Interface("outputs", outputs).Msg(t.indent() + "[SPAN END]")
}

func (t *LoggingTracer) StartLLM(call LLMCall) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger.Info().
		Str("provider", call.Provider).
		Str("model", call.Model).
		Int("attempt", call.Attempt).
		Strs("tools", call.Tools).
		Int("messages", len(call.Messages)).
		Msg(t.indent() + "[LLM <]")
	if e := t.logger.Debug(); e.Enabled() {
		roles := lo.Map(call.Messages, func(m llm.Message, _ int) string { return string(m.Role()) })
		e.Strs("roles", roles).Msg(t.indent() + "[LLM <] messages")
	}
}

func (t *LoggingTracer) EndLLM(completion *llm.AssistantMessage, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.logger.Error().Err(err).Msg(t.indent() + "[LLM COMPLETION ERROR]")
		return
	}
	e := t.logger.Info()
	if completion != nil {
		e = e.Str("content", llm.ContentText(completion.Content)).
			Strs("tool_calls", lo.Map(completion.ToolCalls, func(tc llm.ToolCall, _ int) string { return tc.Name }))
	}
	e.Msg(t.indent() + "[LLM >]")
}

func (t *LoggingTracer) StartTool(name string, inputs map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger.Info().Str("tool", name).Interface("inputs", inputs).Msg(t.indent() + "[TOOL]")
}

func (t *LoggingTracer) EndTool(name string, output any, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.logger.Error().Err(err).Str("tool", name).Msg(t.indent() + "[TOOL ERROR]")
		return
	}
	t.logger.Info().Str("tool", name).Interface("output", output).Msg(t.indent() + "[TOOL RESULT]")
}

func (t *LoggingTracer) Event(name string, inputs, outputs map[string]any, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.logger.Error().Str("event", name).Err(err).Msg(t.indent() + "[EVENT]")
		return
	}
	t.logger.Info().Str("event", name).Interface("inputs", inputs).Interface("outputs", outputs).Msg(t.indent() + "[EVENT]")
}

func (t *LoggingTracer) Finalize() error { return nil }
