package tracing

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ctxpkg "github.com/aschepis/bpmai/context"
	"github.com/aschepis/bpmai/llm"
	"github.com/aschepis/bpmai/migrations"
)

// recorder keeps a flat log of tracer calls.
type recorder struct {
	mu     sync.Mutex
	events []string
	calls  []LLMCall
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) StartTrace(name string, _ map[string]any) { r.add("trace:" + name) }
func (r *recorder) EndTrace(_ map[string]any, err error)     { r.add("/trace:" + errString(err)) }
func (r *recorder) StartSpan(name string, _ map[string]any)  { r.add("span:" + name) }
func (r *recorder) EndSpan(_ map[string]any, err error)      { r.add("/span:" + errString(err)) }
func (r *recorder) StartLLM(call LLMCall) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	r.add("llm")
}
func (r *recorder) EndLLM(_ *llm.AssistantMessage, err error)         { r.add("/llm:" + errString(err)) }
func (r *recorder) StartTool(name string, _ map[string]any)           { r.add("tool:" + name) }
func (r *recorder) EndTool(name string, _ any, err error)             { r.add("/tool " + name + ":" + errString(err)) }
func (r *recorder) Event(name string, _, _ map[string]any, err error) { r.add("event:" + name) }
func (r *recorder) Finalize() error                                   { return nil }

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.RunMigrations(db, zerolog.Nop()))
	return db
}

func TestFromContextDefaultsToNop(t *testing.T) {
	assert.IsType(t, Nop{}, FromContext(context.Background()))

	rec := &recorder{}
	ctx := WithTracer(context.Background(), rec)
	assert.Same(t, rec, FromContext(ctx))
}

func TestSpanRecordsOutputsAndErrors(t *testing.T) {
	rec := &recorder{}
	ctx := WithTracer(context.Background(), rec)

	got, err := Span(ctx, "ocr", nil, func(context.Context) (string, error) { return "text", nil })
	require.NoError(t, err)
	assert.Equal(t, "text", got)

	boom := errors.New("boom")
	_, err = Span(ctx, "asr", nil, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	_, err = Trace(ctx, "decide", nil, func(ctx context.Context) (map[string]any, error) {
		return Span(ctx, "inner", nil, func(context.Context) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		})
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"span:ocr", "/span:",
		"span:asr", "/span:boom",
		"trace:decide", "span:inner", "/span:", "/trace:",
	}, rec.events)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi{a, b}
	m.StartTool("lookup", nil)
	m.EndTool("lookup", "x", nil)
	m.Event("note", nil, nil, nil)
	require.NoError(t, m.Finalize())

	want := []string{"tool:lookup", "/tool lookup:", "event:note"}
	assert.Equal(t, want, a.events)
	assert.Equal(t, want, b.events)
}

func TestMiddlewareTracesEachAttempt(t *testing.T) {
	rec := &recorder{}
	ctx := WithTracer(context.Background(), rec)

	failures := 1
	client := llm.WrapWithMiddleware(llm.ClientFunc(func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		if failures > 0 {
			failures--
			return nil, llm.NewServerError("service unavailable", 503, errors.New("unavailable"))
		}
		return &llm.Response{Message: &llm.AssistantMessage{Content: llm.Text("hi")}}, nil
	}), NewMiddleware(llm.ProviderOpenAI))

	req := &llm.Request{Model: "gpt-4o", Tools: []llm.ToolSpec{{Name: "store_decision"}}}
	_, err := client.Synchronous(ctxpkg.WithAttempt(ctx, 1), req)
	require.Error(t, err)
	_, err = client.Synchronous(ctxpkg.WithAttempt(ctx, 2), req)
	require.NoError(t, err)

	require.Len(t, rec.calls, 2)
	assert.Equal(t, 1, rec.calls[0].Attempt)
	assert.Equal(t, 2, rec.calls[1].Attempt)
	assert.Equal(t, []string{"store_decision"}, rec.calls[1].Tools)
	assert.Equal(t, "openai", rec.calls[1].Provider)
	assert.Len(t, rec.events, 4)
	assert.Equal(t, "/llm:", rec.events[3])
}

func TestLoggingTracerIndentsSpans(t *testing.T) {
	var buf bytes.Buffer
	tr := NewLoggingTracer(zerolog.New(&buf))

	tr.StartSpan("outer", nil)
	tr.StartSpan("inner", nil)
	tr.Event("note", map[string]any{"k": "v"}, nil, nil)
	tr.EndSpan(nil, nil)
	tr.EndSpan(nil, errors.New("failed"))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 5)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[2], &entry))
	assert.Equal(t, "|    |--[EVENT]", entry["message"])
	require.NoError(t, json.Unmarshal(lines[4], &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "failed", entry["error"])
}

func TestStorePersistsEvents(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, "run-1", zerolog.Nop())
	ctx := context.Background()

	store.StartTrace("decide", map[string]any{"question": "ok?"})
	store.StartSpan("ocr", nil)
	store.EndSpan(map[string]any{"output": "text"}, nil)
	store.StartLLM(LLMCall{Provider: "openai", Model: "gpt-4o", Attempt: 2, Messages: []llm.Message{llm.NewUserText("hi")}})
	store.EndLLM(&llm.AssistantMessage{Content: llm.Text("yes")}, nil)
	store.StartTool("store_decision", map[string]any{"decision": true})
	store.EndTool("store_decision", "stored", nil)
	store.EndTrace(map[string]any{"decision": true}, nil)
	require.NoError(t, store.Finalize())

	traces, err := store.ListTraces(ctx, 10)
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, "decide", traces[0].Name)
	assert.Equal(t, "run-1", traces[0].RunID)
	assert.JSONEq(t, `{"question":"ok?"}`, traces[0].Inputs)
	assert.JSONEq(t, `{"decision":true}`, traces[0].Outputs)
	assert.NotNil(t, traces[0].EndedAt)
	assert.Equal(t, store.TraceID(), traces[0].ID)

	events, err := store.Events(ctx, traces[0].ID)
	require.NoError(t, err)
	kinds := make([]string, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []string{KindSpanStart, KindSpanEnd, KindLLMStart, KindLLMEnd, KindToolStart, KindToolEnd}, kinds)
	assert.Equal(t, "ocr", events[1].Name)
	assert.Equal(t, 0, events[0].Depth)
	assert.Equal(t, "openai/gpt-4o", events[2].Name)
	assert.Equal(t, 2, events[2].Attempt)
	assert.Equal(t, "store_decision", events[5].Name)
}

func TestStoreRecordsToolEndsByName(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, "run-2", zerolog.Nop())

	store.StartTrace("tools", nil)
	store.StartTool("lookup", nil)
	store.StartTool("fetch", nil)
	store.EndTool("lookup", "found", nil)
	store.EndTool("fetch", nil, errors.New("timeout"))
	store.EndTrace(nil, nil)
	require.NoError(t, store.Finalize())

	events, err := store.Events(context.Background(), store.TraceID())
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, KindToolEnd, events[2].Kind)
	assert.Equal(t, "lookup", events[2].Name)
	assert.Empty(t, events[2].Error)
	assert.Equal(t, "fetch", events[3].Name)
	assert.Equal(t, "timeout", events[3].Error)
}

func TestStoreImplicitTraceAndErrors(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db, "", zerolog.Nop())

	store.Event("orphan", nil, nil, errors.New("bad"))

	traces, err := store.ListTraces(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, "run", traces[0].Name)
	assert.Empty(t, traces[0].RunID)
	assert.Nil(t, traces[0].EndedAt)

	events, err := store.Events(context.Background(), traces[0].ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "bad", events[0].Error)
}

func TestStoreFinalizeReportsWriteFailure(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, "", zerolog.Nop())
	store.StartTrace("no tables", nil)
	assert.Error(t, store.Finalize())
}
