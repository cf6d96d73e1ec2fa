package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschepis/bpmai/llm"
	"github.com/aschepis/bpmai/tracing"
)

var echoSpec = llm.ToolSpec{
	Name:        "echo",
	Description: "Echo a word",
	Schema: llm.ToolSchema{
		Type: "object",
		Properties: map[string]any{
			"word":  map[string]any{"type": "string"},
			"times": map[string]any{"type": "integer"},
		},
		Required: []string{"word"},
	},
}

func newEchoRegistry(t *testing.T, delay func(word string) time.Duration) *Registry {
	t.Helper()
	reg := NewRegistry(zerolog.Nop())
	require.NoError(t, reg.Register(Tool{
		Spec: echoSpec,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			word := args["word"].(string)
			if delay != nil {
				select {
				case <-time.After(delay(word)):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			if word == "fail" {
				return nil, errors.New("cannot echo fail")
			}
			return word, nil
		},
	}))
	return reg
}

func callsFor(words ...string) *llm.AssistantMessage {
	msg := &llm.AssistantMessage{}
	for _, w := range words {
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{ID: "id-" + w, Name: "echo", Payload: map[string]any{"word": w}})
	}
	return msg
}

func TestRegistryOrderAndReplace(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	handler := func(context.Context, map[string]any) (any, error) { return nil, nil }
	require.NoError(t, reg.Register(Tool{Spec: llm.ToolSpec{Name: "b"}, Handler: handler}))
	require.NoError(t, reg.Register(Tool{Spec: llm.ToolSpec{Name: "a"}, Handler: handler}))
	require.NoError(t, reg.Register(Tool{Spec: llm.ToolSpec{Name: "b", Description: "new"}, Handler: handler}))

	specs := reg.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "b", specs[0].Name)
	assert.Equal(t, "new", specs[0].Description)
	assert.Equal(t, "a", specs[1].Name)

	assert.Error(t, reg.Register(Tool{Spec: llm.ToolSpec{Name: ""}, Handler: handler}))
	assert.Error(t, reg.Register(Tool{Spec: llm.ToolSpec{Name: "c"}}))
}

func TestHandleUnknownTool(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	_, err := reg.Handle(context.Background(), "missing", nil)
	var unknown *UnknownToolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "missing", unknown.Name)
}

func TestValidate(t *testing.T) {
	spec := llm.ToolSpec{
		Name: "store_decision",
		Schema: llm.ToolSchema{
			Properties: map[string]any{
				"decision":  map[string]any{"type": "boolean"},
				"count":     map[string]any{"type": "integer"},
				"score":     map[string]any{"type": "number"},
				"reasoning": map[string]any{"type": "string"},
				"tags":      map[string]any{"type": "array"},
			},
			Required: []string{"decision", "reasoning"},
		},
	}

	got, err := Validate(spec, map[string]any{
		"decision":  "yes",
		"count":     float64(3),
		"score":     "0.5",
		"reasoning": "because",
		"extra":     1,
	})
	require.NoError(t, err)
	assert.Equal(t, true, got["decision"])
	assert.Equal(t, int64(3), got["count"])
	assert.Equal(t, 0.5, got["score"])
	assert.Equal(t, 1, got["extra"])

	tests := []struct {
		name  string
		args  map[string]any
		param string
	}{
		{"missing required", map[string]any{"decision": true}, "reasoning"},
		{"empty required", map[string]any{"decision": true, "reasoning": ""}, "reasoning"},
		{"bad boolean", map[string]any{"decision": "maybe", "reasoning": "x"}, "decision"},
		{"fractional integer", map[string]any{"decision": true, "reasoning": "x", "count": 1.5}, "count"},
		{"not an array", map[string]any{"decision": true, "reasoning": "x", "tags": "a"}, "tags"},
		{"object as string", map[string]any{"decision": true, "reasoning": map[string]any{"a": 1}}, "reasoning"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(spec, tt.args)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.param, verr.Param)
			assert.Equal(t, "store_decision", verr.Tool)
		})
	}
}

func TestRunAllKeepsCallOrder(t *testing.T) {
	// Earlier calls finish last under the concurrent policy.
	delays := map[string]time.Duration{"one": 30 * time.Millisecond, "two": 15 * time.Millisecond, "three": 0}
	for _, policy := range []Policy{Sequential, Concurrent} {
		t.Run(policy.String(), func(t *testing.T) {
			reg := newEchoRegistry(t, func(w string) time.Duration { return delays[w] })
			exec := NewExecutor(reg, policy, zerolog.Nop())

			results, err := exec.RunAll(context.Background(), callsFor("one", "two", "three"))
			require.NoError(t, err)
			require.Len(t, results, 3)
			for i, want := range []string{"one", "two", "three"} {
				assert.Equal(t, "id-"+want, results[i].ID)
				assert.Equal(t, "echo", results[i].Name)
				assert.Equal(t, llm.Text(want), results[i].Content)
			}
		})
	}
}

func TestRunAllFailures(t *testing.T) {
	for _, policy := range []Policy{Sequential, Concurrent} {
		t.Run(policy.String(), func(t *testing.T) {
			exec := NewExecutor(newEchoRegistry(t, nil), policy, zerolog.Nop())
			_, err := exec.RunAll(context.Background(), callsFor("ok", "fail"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "id-fail")

			bad := &llm.AssistantMessage{ToolCalls: []llm.ToolCall{{ID: "x", Name: "echo", Payload: "{not json"}}}
			_, err = exec.RunAll(context.Background(), bad)
			var decodeErr *llm.PayloadDecodeError
			assert.ErrorAs(t, err, &decodeErr)
		})
	}
}

func TestRunAllWithoutCalls(t *testing.T) {
	exec := NewExecutor(NewRegistry(zerolog.Nop()), Concurrent, zerolog.Nop())
	results, err := exec.RunAll(context.Background(), &llm.AssistantMessage{Content: llm.Text("done")})
	require.NoError(t, err)
	assert.Empty(t, results)
}

type toolRecorder struct {
	tracing.Nop
	mu    sync.Mutex
	names []string
	ends  []string
}

func (r *toolRecorder) StartTool(name string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func (r *toolRecorder) EndTool(name string, _ any, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends = append(r.ends, name)
}

func TestRunAllEmitsToolTraces(t *testing.T) {
	rec := &toolRecorder{}
	ctx := tracing.WithTracer(context.Background(), rec)
	exec := NewExecutor(newEchoRegistry(t, nil), Sequential, zerolog.Nop())

	_, err := exec.RunAll(ctx, callsFor("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "echo"}, rec.names)
	assert.Equal(t, []string{"echo", "echo"}, rec.ends)
}

func TestResultText(t *testing.T) {
	assert.Equal(t, "", resultText(nil))
	assert.Equal(t, "plain", resultText("plain"))
	assert.Equal(t, `{"a":1}`, resultText(map[string]int{"a": 1}))
}

func TestRemoteTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tools/lookup", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Args map[string]any `json:"args"`
		}
		assert.NoError(t, json.Unmarshal(body, &req))
		if req.Args["id"] == "raw" {
			_, _ = w.Write([]byte("not json"))
			return
		}
		if req.Args["id"] == "broken" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"found": true}`))
	}))
	defer srv.Close()

	spec := llm.ToolSpec{
		Name:   "lookup",
		Schema: llm.ToolSchema{Properties: map[string]any{"id": map[string]any{"type": "string"}}, Required: []string{"id"}},
	}
	reg := NewRegistry(zerolog.Nop())
	require.NoError(t, reg.Register(RemoteTool(spec, NewHTTPRemoteCaller(srv.URL+"/", "secret"))))

	out, err := reg.Handle(context.Background(), "lookup", map[string]any{"id": "42"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"found": true}, out)

	out, err = reg.Handle(context.Background(), "lookup", map[string]any{"id": "raw"})
	require.NoError(t, err)
	assert.Equal(t, "not json", out)

	_, err = reg.Handle(context.Background(), "lookup", map[string]any{"id": "broken"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
