package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"termbot/internal/domain"
)

// --- request building ---

func TestOpenAIBuildBody(t *testing.T) {
	o := NewOpenAI(OpenAIConfig{APIKey: "k", Logger: testLogger()})

	body := o.buildBody(domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: "be brief"},
			{Role: "assistant", ToolCalls: []domain.ToolCall{
				{ID: "call_1", Name: "shell", Arguments: `{"command":"ls"}`},
			}},
			{Role: "tool", Content: "a.txt", ToolCallID: "call_1", ToolName: "shell"},
		},
		MaxTokens:   256,
		Temperature: 0.7,
	}, true)

	if body.Model != "gpt-4o-mini" {
		t.Errorf("default model not applied: %q", body.Model)
	}
	if !body.Stream || body.StreamOptions == nil || !body.StreamOptions.IncludeUsage {
		t.Error("streaming request must ask for usage")
	}
	if body.MaxTokens != 256 {
		t.Errorf("max tokens not carried: %d", body.MaxTokens)
	}
	// The argument string goes over the wire untouched.
	tc := body.Messages[1].ToolCalls[0]
	if tc.Function.Arguments != `{"command":"ls"}` {
		t.Errorf("arguments altered: %q", tc.Function.Arguments)
	}
	if body.Messages[2].ToolCallID != "call_1" || body.Messages[2].Name != "shell" {
		t.Errorf("tool result identity dropped: %+v", body.Messages[2])
	}
}

// --- chat over HTTP ---

func TestOpenAIChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing auth header, got %q", got)
		}
		var req oaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		fmt.Fprint(w, `{
			"choices": [{
				"message": {"role": "assistant", "content": "hi there"},
				"finish_reason": "stop"
			}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
		}`)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "test-key", APIBase: srv.URL, Logger: testLogger()})
	resp, err := o.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Content != "hi there" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.FinishReason != domain.FinishStop {
		t.Errorf("unexpected finish reason %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("usage not mapped: %+v", resp.Usage)
	}
}

func TestOpenAIChat_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": []}`)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	resp, err := o.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.FinishReason != domain.FinishStop {
		t.Errorf("empty choices should finish as stop, got %q", resp.FinishReason)
	}
}

// --- streaming ---

func TestOpenAIChatStream_FragmentedToolCall(t *testing.T) {
	// Arguments for one call split across three SSE events, the way the
	// completions API actually fragments them.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"shell","arguments":""}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"comm"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"and\":\"ls\"}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
			`{"choices":[],"usage":{"prompt_tokens":20,"completion_tokens":10,"total_tokens":30}}`,
			`[DONE]`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	out := make(chan domain.StreamChunk, 16)
	errCh := make(chan error, 1)
	go func() { errCh <- o.ChatStream(context.Background(), domain.ChatRequest{}, out) }()

	var deltas []domain.ToolCallDelta
	var finish string
	var usage *domain.Usage
	for chunk := range out {
		deltas = append(deltas, chunk.ToolCallDeltas...)
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
	if err := <-errCh; err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	if len(deltas) != 3 {
		t.Fatalf("expected 3 fragments, got %d", len(deltas))
	}
	for i, d := range deltas {
		if d.Index != 0 {
			t.Errorf("fragment %d: index %d, want 0", i, d.Index)
		}
	}
	if deltas[0].ID != "call_a" || deltas[0].Name != "shell" {
		t.Errorf("first fragment missing identity: %+v", deltas[0])
	}
	var assembled string
	for _, d := range deltas {
		assembled += d.ArgumentsDelta
	}
	if assembled != `{"command":"ls"}` {
		t.Errorf("fragments do not reassemble: %q", assembled)
	}
	if finish != domain.FinishToolCalls {
		t.Errorf("expected tool_calls finish, got %q", finish)
	}
	if usage == nil || usage.TotalTokens != 30 {
		t.Errorf("usage chunk not delivered: %+v", usage)
	}
}

func TestOpenAIChatStream_SkipsMalformedChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: not json at all\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	out := make(chan domain.StreamChunk, 16)
	errCh := make(chan error, 1)
	go func() { errCh <- o.ChatStream(context.Background(), domain.ChatRequest{}, out) }()

	var content string
	for chunk := range out {
		content += chunk.ContentDelta
	}
	if err := <-errCh; err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if content != "ok" {
		t.Errorf("expected malformed chunk skipped and %q delivered, got %q", "ok", content)
	}
}
