package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"termbot/internal/domain"
)

// SessionManager maps channel sessions to persisted conversations and tracks
// per-conversation token usage for the life of the process.
type SessionManager struct {
	store        domain.MemoryStore
	logger       *slog.Logger
	mu           sync.RWMutex
	tokenUsage   map[string]int64
	tokenUsageMu sync.RWMutex
}

func NewSessionManager(store domain.MemoryStore, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		store:      store,
		logger:     logger,
		tokenUsage: make(map[string]int64),
	}
}

// AddTokenUsage adds tokens used in a completion to the conversation total.
func (sm *SessionManager) AddTokenUsage(convID string, tokens int) {
	if tokens <= 0 {
		return
	}
	sm.tokenUsageMu.Lock()
	sm.tokenUsage[convID] += int64(tokens)
	sm.tokenUsageMu.Unlock()
}

// GetTokenUsage returns tokens used so far for this conversation, in-memory
// only.
func (sm *SessionManager) GetTokenUsage(convID string) int64 {
	sm.tokenUsageMu.RLock()
	defer sm.tokenUsageMu.RUnlock()
	return sm.tokenUsage[convID]
}

// GetOrCreateConversation resolves sessionKey to a conversation id, creating
// the conversation on first use.
func (sm *SessionManager) GetOrCreateConversation(ctx context.Context, sessionKey, provider, model string) (string, error) {
	if sm.store == nil {
		return sessionKey, nil
	}

	sm.mu.RLock()
	conv, err := sm.store.GetConversation(ctx, sessionKey)
	sm.mu.RUnlock()
	if err != nil {
		return "", err
	}
	if conv != nil {
		return conv.ID, nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	conv, err = sm.store.GetConversation(ctx, sessionKey)
	if err != nil {
		return "", err
	}
	if conv != nil {
		return conv.ID, nil
	}

	newConv := domain.Conversation{
		ID:       sessionKey,
		Title:    "New conversation",
		Provider: provider,
		Model:    model,
	}
	if err := sm.store.CreateConversation(ctx, newConv); err != nil {
		return "", err
	}
	return newConv.ID, nil
}

// GetHistory loads the last limit messages, oldest first.
func (sm *SessionManager) GetHistory(ctx context.Context, convID string, limit int) ([]domain.Message, error) {
	if sm.store == nil {
		return nil, nil
	}
	return sm.store.GetHistory(ctx, convID, limit)
}

// SaveMessage persists one message.
func (sm *SessionManager) SaveMessage(ctx context.Context, convID string, msg domain.Message) error {
	if sm.store == nil {
		return nil
	}
	return sm.store.SaveMessage(ctx, convID, msg)
}

// UpdateTitle derives a conversation title from the first user message.
func (sm *SessionManager) UpdateTitle(ctx context.Context, convID, firstMessage string) {
	if sm.store == nil {
		return
	}
	title := strings.TrimSpace(firstMessage)
	if len(title) > 60 {
		title = title[:57] + "..."
	}
	if title == "" {
		return
	}
	if err := sm.store.UpdateTitle(ctx, convID, title); err != nil {
		sm.logger.Warn("failed to update conversation title", "convID", convID, "error", err)
	}
}

// ListConversations returns recent conversations, newest first.
func (sm *SessionManager) ListConversations(ctx context.Context, limit int) ([]domain.Conversation, error) {
	if sm.store == nil {
		return nil, nil
	}
	return sm.store.ListConversations(ctx, limit)
}
