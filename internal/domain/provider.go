package domain

import "context"

// Provider is the interface all completion backends must implement.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Models() []string
	SupportsToolCalling() bool
	Healthy(ctx context.Context) error
}

// StreamingProvider is an optional extension for backends that can deliver
// incremental chunks. Implementations must close out before returning and
// must not reassemble tool-call fragments: chunks carry the wire deltas
// verbatim and the orchestrator owns reassembly.
type StreamingProvider interface {
	Provider
	ChatStream(ctx context.Context, req ChatRequest, out chan<- StreamChunk) error
}

// FinishReason values reported by the finish signal of a stream or response.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// StreamChunk is one incremental unit from a streaming completion. A chunk
// may carry a content fragment, one or more tool-call delta fragments, a
// finish signal, or usage totals; any combination may be empty.
type StreamChunk struct {
	ContentDelta   string
	ToolCallDeltas []ToolCallDelta
	FinishReason   string // empty until the finish signal
	Usage          *Usage // usually present only on the final chunk
}

// ToolCallDelta is a fragment of one tool call within a stream. Index keys
// the in-progress call; ID and Name are set only on the fragment that opens
// the call. ArgumentsDelta is a substring of the raw argument JSON and must
// never be assumed to be complete.
type ToolCallDelta struct {
	Index          int
	ID             string
	Name           string
	ArgumentsDelta string
}

type ChatRequest struct {
	Messages    []Message
	Tools       []ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float64
}

type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
	LatencyMs    int64
}

func (r *ChatResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// ToolDefinition is the provider-facing schema of one registered tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
