package domain

import "time"

// InboundMessage is a user message arriving from a channel.
type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Timestamp time.Time
}

// OutboundMessage is a response or stream event going back to a channel.
type OutboundMessage struct {
	Channel     string
	ChatID      string
	Content     string
	Format      string
	StreamEvent *StreamEvent
}

// StreamEventType classifies a display event emitted while a turn runs.
type StreamEventType string

const (
	StreamToken     StreamEventType = "token"
	StreamThinking  StreamEventType = "thinking"
	StreamToolStart StreamEventType = "tool_start"
	StreamToolEnd   StreamEventType = "tool_end"
	StreamDone      StreamEventType = "done"
	StreamError     StreamEventType = "error"
)

// StreamEvent is a single display event (live token, tool activity, final).
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	ToolID  string          `json:"tool_id,omitempty"`
	OK      bool            `json:"ok,omitempty"` // tool_end: whether the call succeeded
}

// MessageBus moves messages between channels and the agent loop.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	SendOutbound(msg OutboundMessage)
	OnOutbound(channelName string, handler func(OutboundMessage))
	Close()
}
