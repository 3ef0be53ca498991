package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"termbot/internal/domain"
)

const (
	ollamaDefaultBase  = "http://localhost:11434"
	ollamaDefaultModel = "llama3.1:8b"
)

// Ollama implements domain.Provider and domain.StreamingProvider for a
// local or remote Ollama instance.
type Ollama struct {
	apiBase      string
	defaultModel string
	client       *http.Client
	streaming    *http.Client
	logger       *slog.Logger
}

type OllamaConfig struct {
	APIBase      string
	DefaultModel string
	Logger       *slog.Logger
}

func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.APIBase == "" {
		cfg.APIBase = ollamaDefaultBase
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = ollamaDefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ollama{
		apiBase:      cfg.APIBase,
		defaultModel: cfg.DefaultModel,
		client:       SharedHTTPClient(defaultHTTPTimeout),
		streaming:    StreamingHTTPClient(),
		logger:       cfg.Logger,
	}
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Models() []string {
	// Common defaults; the full list would need GET /api/tags.
	return []string{"llama3.1:8b", "llama3.1:70b", "llama3.2:3b", "mistral", "codellama", "phi3"}
}

func (o *Ollama) SupportsToolCalling() bool { return true }

func (o *Ollama) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", o.apiBase+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}

// ollamaRequest matches the Ollama /api/chat request body.
type ollamaRequest struct {
	Model       string       `json:"model"`
	Messages    []ollamaMsg  `json:"messages"`
	Stream      bool         `json:"stream"`
	Tools       []ollamaTool `json:"tools,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
}

type ollamaMsg struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type ollamaTool struct {
	Type     string     `json:"type"`
	Function ollamaFunc `json:"function"`
}

type ollamaFunc struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ollamaToolCall struct {
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type,omitempty"`
	Function ollamaFuncCall `json:"function"`
}

type ollamaFuncCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"` // JSON object or JSON string
}

type ollamaResponse struct {
	Message    ollamaMsg `json:"message"`
	Done       bool      `json:"done"`
	DoneReason string    `json:"done_reason"`
	PromptEval int       `json:"prompt_eval_count"`
	EvalCount  int       `json:"eval_count"`
}

func (o *Ollama) buildBody(req domain.ChatRequest, stream bool) ollamaRequest {
	model := req.Model
	if model == "" {
		model = o.defaultModel
	}
	msgs := make([]ollamaMsg, 0, len(req.Messages))
	for _, m := range req.Messages {
		om := ollamaMsg{Role: m.Role, Content: m.Content}
		if m.ToolCallID != "" {
			om.ToolCallID = m.ToolCallID
			om.Name = m.ToolName
		}
		for _, tc := range m.ToolCalls {
			args := json.RawMessage(tc.Arguments)
			if !json.Valid(args) {
				args = json.RawMessage("{}")
			}
			om.ToolCalls = append(om.ToolCalls, ollamaToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: ollamaFuncCall{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		msgs = append(msgs, om)
	}

	body := ollamaRequest{Model: model, Messages: msgs, Stream: stream}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, ollamaTool{
			Type: "function",
			Function: ollamaFunc{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return body
}

func (o *Ollama) post(ctx context.Context, client *http.Client, body ollamaRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	buildReq := func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", o.apiBase+"/api/chat", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return httpReq, nil
	}
	return doWithRetry(ctx, client, buildReq, o.logger)
}

func (o *Ollama) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := o.post(ctx, o.client, o.buildBody(req, false))
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, string(respBody))
	}

	var ollamaResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return o.buildResponse(ollamaResp), nil
}

// ChatStream streams NDJSON chunks into out. Ollama delivers each tool call
// whole within a single chunk, so every call maps to one delta carrying the
// full argument string; indices follow arrival order. out is closed before
// return.
func (o *Ollama) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamChunk) error {
	defer close(out)

	resp, err := o.post(ctx, o.streaming, o.buildBody(req, true))
	if err != nil {
		return fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama returned %d: %s", resp.StatusCode, string(respBody))
	}

	nextIndex := 0
	decoder := json.NewDecoder(resp.Body)
	for decoder.More() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		var chunk ollamaResponse
		if err := decoder.Decode(&chunk); err != nil {
			return fmt.Errorf("stream decode: %w", err)
		}

		var sc domain.StreamChunk
		sc.ContentDelta = chunk.Message.Content
		for _, tc := range chunk.Message.ToolCalls {
			sc.ToolCallDeltas = append(sc.ToolCallDeltas, domain.ToolCallDelta{
				Index:          nextIndex,
				ID:             tc.ID,
				Name:           tc.Function.Name,
				ArgumentsDelta: normalizeArgs(tc.Function.Arguments),
			})
			nextIndex++
		}
		if chunk.Done {
			sc.FinishReason = mapDoneReason(chunk.DoneReason, nextIndex > 0)
			if chunk.PromptEval > 0 || chunk.EvalCount > 0 {
				sc.Usage = &domain.Usage{
					PromptTokens:     chunk.PromptEval,
					CompletionTokens: chunk.EvalCount,
					TotalTokens:      chunk.PromptEval + chunk.EvalCount,
				}
			}
		}
		if sc.ContentDelta == "" && len(sc.ToolCallDeltas) == 0 && sc.FinishReason == "" {
			continue
		}
		select {
		case out <- sc:
		case <-ctx.Done():
			return ctx.Err()
		}
		if chunk.Done {
			break
		}
	}
	return nil
}

func (o *Ollama) buildResponse(ollamaResp ollamaResponse) *domain.ChatResponse {
	out := &domain.ChatResponse{
		Content:      ollamaResp.Message.Content,
		FinishReason: mapDoneReason(ollamaResp.DoneReason, len(ollamaResp.Message.ToolCalls) > 0),
		Usage: domain.Usage{
			PromptTokens:     ollamaResp.PromptEval,
			CompletionTokens: ollamaResp.EvalCount,
			TotalTokens:      ollamaResp.PromptEval + ollamaResp.EvalCount,
		},
	}
	for _, tc := range ollamaResp.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: normalizeArgs(tc.Function.Arguments),
		})
	}
	return out
}

// normalizeArgs unwraps Ollama's two argument encodings (JSON object, or a
// JSON string containing JSON) into the raw object text.
func normalizeArgs(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return "{}"
	}
	if s[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err == nil {
			return inner
		}
	}
	return s
}

func mapDoneReason(reason string, hasToolCalls bool) string {
	switch reason {
	case "stop", "":
		if hasToolCalls {
			return domain.FinishToolCalls
		}
		return domain.FinishStop
	case "length":
		return domain.FinishLength
	}
	return reason
}

var (
	_ domain.Provider          = (*Ollama)(nil)
	_ domain.StreamingProvider = (*Ollama)(nil)
)
