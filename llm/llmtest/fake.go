// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/aschepis/bpmai/llm"
)

// FakeClient replays scripted responses in order and records every request.
// Once the script is exhausted it answers with an empty assistant message.
type FakeClient struct {
	mu        sync.Mutex
	responses []*llm.AssistantMessage
	errs      []error
	next      int
	requests  []*llm.Request
}

// NewFakeClient creates a client answering with responses in order.
func NewFakeClient(responses ...*llm.AssistantMessage) *FakeClient {
	return &FakeClient{responses: responses}
}

// FailWith makes the next calls fail with errs, one per call, before replaying responses.
func (f *FakeClient) FailWith(errs ...error) *FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
	return f
}

// Synchronous implements llm.Client.
func (f *FakeClient) Synchronous(_ context.Context, req *llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}

	msg := &llm.AssistantMessage{}
	if f.next < len(f.responses) {
		msg = f.responses[f.next]
		f.next++
	}
	return &llm.Response{Message: msg, StopReason: "end_turn"}, nil
}

// Requests returns the recorded requests.
func (f *FakeClient) Requests() []*llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*llm.Request(nil), f.requests...)
}

// LastRequest returns the most recent request, or nil.
func (f *FakeClient) LastRequest() *llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

// Model wraps the fake in an llm.Model.
func (f *FakeClient) Model(supportsImages, supportsAudio bool) *llm.Model {
	return &llm.Model{
		Client:         f,
		Provider:       "fake",
		Name:           "test-model",
		SupportsImages: supportsImages,
		SupportsAudio:  supportsAudio,
	}
}

// ToolResponse is an assistant message calling a single tool with id "fake".
func ToolResponse(name string, payload any) *llm.AssistantMessage {
	return &llm.AssistantMessage{ToolCalls: []llm.ToolCall{{ID: "fake", Name: name, Payload: payload}}}
}

// RequestText joins the text of all messages of a request.
func RequestText(req *llm.Request) string {
	texts := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		texts = append(texts, llm.ContentText(m.Body()))
	}
	return strings.Join(texts, "\n\n")
}

// AssertLastRequestContains fails the test unless the last request mentions text.
func (f *FakeClient) AssertLastRequestContains(t testing.TB, text string) {
	t.Helper()
	req := f.LastRequest()
	if req == nil {
		t.Fatalf("expected a request containing %q, got none", text)
	}
	if !strings.Contains(RequestText(req), text) {
		t.Errorf("expected last request to contain %q, got:\n%s", text, RequestText(req))
	}
}

// AssertLastRequestNotContains fails the test if the last request mentions text.
func (f *FakeClient) AssertLastRequestNotContains(t testing.TB, text string) {
	t.Helper()
	req := f.LastRequest()
	if req != nil && strings.Contains(RequestText(req), text) {
		t.Errorf("expected last request not to contain %q", text)
	}
}

// AssertNoRequest fails the test if the client was called.
func (f *FakeClient) AssertNoRequest(t testing.TB) {
	t.Helper()
	if n := len(f.Requests()); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

// AssertLastRequestDefinedTool fails unless the last request offered the tool. When
// forced is set, it must be the only tool and the forced choice.
func (f *FakeClient) AssertLastRequestDefinedTool(t testing.TB, name string, forced bool) {
	t.Helper()
	req := f.LastRequest()
	if req == nil {
		t.Fatalf("expected a request defining tool %q, got none", name)
	}
	found := false
	for _, tool := range req.Tools {
		if tool.Name == name {
			found = true
		}
	}
	if !found {
		t.Errorf("expected tool %q in last request", name)
	}
	if forced && (len(req.Tools) != 1 || req.ToolChoice != name) {
		t.Errorf("expected %q to be the only, forced tool", name)
	}
}
