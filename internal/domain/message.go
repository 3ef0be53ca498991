package domain

import "time"

// Message is a single conversational turn.
type Message struct {
	Role       string     `json:"role"` // system | user | assistant | tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// ToolCall is the model's request to invoke a tool. Arguments is the raw JSON
// string exactly as the model produced it: fragments are concatenated in
// arrival order and the buffer is parsed only after the call is finalized.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Conversation is a persisted chat session.
type Conversation struct {
	ID        string
	Title     string
	Provider  string
	Model     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuditEntry records a security-relevant action for the audit log.
type AuditEntry struct {
	Action   string
	ToolName string
	Command  string
	Result   string
	Details  string
}
