package memory

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"termbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_ConversationLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	conv := domain.Conversation{ID: "cli:default", Title: "first chat", Provider: "ollama", Model: "llama3.1:8b"}
	if err := store.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	got, err := store.GetConversation(ctx, "cli:default")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Title != "first chat" || got.Provider != "ollama" {
		t.Errorf("conversation fields lost: %+v", got)
	}

	if err := store.UpdateTitle(ctx, "cli:default", "renamed"); err != nil {
		t.Fatalf("UpdateTitle: %v", err)
	}
	got, _ = store.GetConversation(ctx, "cli:default")
	if got.Title != "renamed" {
		t.Errorf("title not updated: %q", got.Title)
	}

	list, err := store.ListConversations(ctx, 10)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 conversation, got %d", len(list))
	}
}

func TestStore_GetConversationMissing(t *testing.T) {
	store := testStore(t)

	got, err := store.GetConversation(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown conversation, got %+v", got)
	}
}

func TestStore_MessageRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.CreateConversation(ctx, domain.Conversation{ID: "c1"}); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	msgs := []domain.Message{
		{Role: "user", Content: "list files"},
		{Role: "assistant", ToolCalls: []domain.ToolCall{
			{ID: "call_1", Name: "shell", Arguments: `{"command":"ls"}`},
		}},
		{Role: "tool", Content: "a.txt", ToolCallID: "call_1", ToolName: "shell"},
		{Role: "assistant", Content: "There is one file: a.txt"},
	}
	for _, m := range msgs {
		if err := store.SaveMessage(ctx, "c1", m); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	history, err := store.GetHistory(ctx, "c1", 100)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(history))
	}
	// Oldest first.
	if history[0].Role != "user" || history[3].Role != "assistant" {
		t.Errorf("order wrong: first=%s last=%s", history[0].Role, history[3].Role)
	}
	if len(history[1].ToolCalls) != 1 || history[1].ToolCalls[0].Arguments != `{"command":"ls"}` {
		t.Errorf("tool calls did not survive the round trip: %+v", history[1].ToolCalls)
	}
	if history[2].ToolCallID != "call_1" || history[2].ToolName != "shell" {
		t.Errorf("tool result identity lost: %+v", history[2])
	}
}

func TestStore_HistoryLimitKeepsLatest(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.CreateConversation(ctx, domain.Conversation{ID: "c1"}); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	for _, content := range []string{"one", "two", "three", "four"} {
		if err := store.SaveMessage(ctx, "c1", domain.Message{Role: "user", Content: content}); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	history, err := store.GetHistory(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Content != "three" || history[1].Content != "four" {
		t.Errorf("expected the two most recent, got %q, %q", history[0].Content, history[1].Content)
	}
}

func TestStore_AuditLog(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	err := store.LogAudit(ctx, domain.AuditEntry{
		Action:   "blocked",
		ToolName: "shell",
		Command:  "rm -rf /",
		Result:   "deny",
	})
	if err != nil {
		t.Fatalf("LogAudit: %v", err)
	}

	var count int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM audit_log`).Scan(&count); err != nil {
		t.Fatalf("count audit rows: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 audit row, got %d", count)
	}
}

func TestStore_Prune(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.CreateConversation(ctx, domain.Conversation{ID: "c1"}); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if err := store.SaveMessage(ctx, "c1", domain.Message{Role: "user", Content: "recent"}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	// Everything was written just now, so pruning must keep it all.
	if err := store.Prune(ctx, 30); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	history, _ := store.GetHistory(ctx, "c1", 10)
	if len(history) != 1 {
		t.Errorf("recent message pruned, got %d messages", len(history))
	}

	// Zero retention disables pruning.
	if err := store.Prune(ctx, 0); err != nil {
		t.Errorf("Prune with zero retention: %v", err)
	}
}
