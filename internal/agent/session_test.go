package agent

import (
	"context"
	"testing"

	"termbot/internal/domain"
)

// fakeStore records calls without touching a database.
type fakeStore struct {
	conversations map[string]*domain.Conversation
	titles        map[string]string
	messages      map[string][]domain.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[string]*domain.Conversation),
		titles:        make(map[string]string),
		messages:      make(map[string][]domain.Message),
	}
}

func (f *fakeStore) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	f.conversations[conv.ID] = &conv
	return nil
}

func (f *fakeStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	return f.conversations[id], nil
}

func (f *fakeStore) ListConversations(ctx context.Context, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	for _, c := range f.conversations {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeStore) UpdateTitle(ctx context.Context, id, title string) error {
	f.titles[id] = title
	return nil
}

func (f *fakeStore) SaveMessage(ctx context.Context, convID string, msg domain.Message) error {
	f.messages[convID] = append(f.messages[convID], msg)
	return nil
}

func (f *fakeStore) GetHistory(ctx context.Context, convID string, limit int) ([]domain.Message, error) {
	return f.messages[convID], nil
}

func (f *fakeStore) LogAudit(ctx context.Context, entry domain.AuditEntry) error { return nil }
func (f *fakeStore) Close() error                                                { return nil }

func TestSessionManager_NilStorePassthrough(t *testing.T) {
	sm := NewSessionManager(nil, testLogger())
	ctx := context.Background()

	id, err := sm.GetOrCreateConversation(ctx, "cli:default", "ollama", "m")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if id != "cli:default" {
		t.Fatalf("expected session key passthrough, got %q", id)
	}
	if err := sm.SaveMessage(ctx, id, domain.Message{Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	history, err := sm.GetHistory(ctx, id, 10)
	if err != nil || history != nil {
		t.Fatalf("expected empty history, got %v, %v", history, err)
	}
}

func TestSessionManager_CreatesOnce(t *testing.T) {
	store := newFakeStore()
	sm := NewSessionManager(store, testLogger())
	ctx := context.Background()

	id1, err := sm.GetOrCreateConversation(ctx, "cli:default", "ollama", "m")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	id2, err := sm.GetOrCreateConversation(ctx, "cli:default", "ollama", "m")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected stable conversation id, got %q and %q", id1, id2)
	}
	if len(store.conversations) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(store.conversations))
	}
}

func TestSessionManager_TitleTruncated(t *testing.T) {
	store := newFakeStore()
	sm := NewSessionManager(store, testLogger())
	ctx := context.Background()

	long := "this is a very long first message that should be shortened into a readable conversation title"
	sm.UpdateTitle(ctx, "conv", long)
	title := store.titles["conv"]
	if len(title) > 60 {
		t.Fatalf("title too long: %d chars", len(title))
	}
	if title[len(title)-3:] != "..." {
		t.Fatalf("expected ellipsis, got %q", title)
	}
}

func TestSessionManager_TokenUsage(t *testing.T) {
	sm := NewSessionManager(nil, testLogger())
	sm.AddTokenUsage("c", 100)
	sm.AddTokenUsage("c", 50)
	sm.AddTokenUsage("c", -5) // ignored
	if got := sm.GetTokenUsage("c"); got != 150 {
		t.Fatalf("expected 150, got %d", got)
	}
}
