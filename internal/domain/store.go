package domain

import "context"

// MemoryStore persists conversations, messages, and the audit log.
type MemoryStore interface {
	CreateConversation(ctx context.Context, conv Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]Conversation, error)
	UpdateTitle(ctx context.Context, id, title string) error
	SaveMessage(ctx context.Context, convID string, msg Message) error
	GetHistory(ctx context.Context, convID string, limit int) ([]Message, error)
	LogAudit(ctx context.Context, entry AuditEntry) error
	Close() error
}
