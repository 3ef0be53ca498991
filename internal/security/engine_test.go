package security

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"termbot/internal/config"
	"termbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recordingAudit captures audit entries.
type recordingAudit struct {
	entries []domain.AuditEntry
}

func (r *recordingAudit) LogAudit(ctx context.Context, entry domain.AuditEntry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func testCfg(policy string) config.SecurityConfig {
	return config.SecurityConfig{
		DefaultPolicy:   policy,
		Blacklist:       []string{"rm -rf /", "mkfs"},
		Whitelist:       []string{"ls", "cat ", "pwd"},
		ConfirmPatterns: []string{"sudo "},
		AuditLog:        true,
	}
}

func mustEngine(t *testing.T, cfg config.SecurityConfig, confirm bool) *Engine {
	t.Helper()
	confirmFn := func(ctx context.Context, q string) (bool, error) { return confirm, nil }
	e, err := NewEngine(cfg, confirmFn, &recordingAudit{}, testLogger())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// --- decision order ---

func TestCheck_BlacklistBlocks(t *testing.T) {
	e := mustEngine(t, testCfg("allow"), true)
	action, err := e.Check(context.Background(), "shell", "rm -rf / --no-preserve-root", true)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if action != domain.ActionBlock {
		t.Fatalf("expected block, got %v", action)
	}
}

func TestCheck_WhitelistBeatsConfirmPatterns(t *testing.T) {
	cfg := testCfg("ask")
	cfg.Whitelist = []string{"sudo ls"}
	e := mustEngine(t, cfg, false)
	action, _ := e.Check(context.Background(), "shell", "sudo ls", true)
	if action != domain.ActionAllow {
		t.Fatalf("whitelist must win over confirm patterns, got %v", action)
	}
}

func TestCheck_ConfirmPattern(t *testing.T) {
	e := mustEngine(t, testCfg("allow"), true)
	action, _ := e.Check(context.Background(), "shell", "sudo apt install", false)
	if action != domain.ActionConfirm {
		t.Fatalf("expected confirm, got %v", action)
	}
}

func TestCheck_DestructiveRequiresConfirmUnderAsk(t *testing.T) {
	e := mustEngine(t, testCfg("ask"), true)
	action, _ := e.Check(context.Background(), "write_file", "write notes.txt", true)
	if action != domain.ActionConfirm {
		t.Fatalf("expected confirm for destructive tool, got %v", action)
	}
}

func TestCheck_DestructiveAllowedUnderAllowPolicy(t *testing.T) {
	e := mustEngine(t, testCfg("allow"), false)
	action, _ := e.Check(context.Background(), "write_file", "write notes.txt", true)
	if action != domain.ActionAllow {
		t.Fatalf("allow policy must skip confirmation, got %v", action)
	}
}

func TestCheck_DefaultPolicies(t *testing.T) {
	cases := map[string]domain.SecurityAction{
		"allow": domain.ActionAllow,
		"deny":  domain.ActionBlock,
		"ask":   domain.ActionAllow, // non-destructive under ask
	}
	for policy, want := range cases {
		e := mustEngine(t, testCfg(policy), false)
		action, _ := e.Check(context.Background(), "web_search", "unmatched command", false)
		if action != want {
			t.Fatalf("policy %q: expected %v, got %v", policy, want, action)
		}
	}
}

// --- confirmation ---

func TestRequestConfirmation_Denied(t *testing.T) {
	e := mustEngine(t, testCfg("ask"), false)
	ok, err := e.RequestConfirmation(context.Background(), "shell", "sudo reboot")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if ok {
		t.Fatal("expected denial")
	}
}

func TestRequestConfirmation_NoHandlerDenies(t *testing.T) {
	e, err := NewEngine(testCfg("ask"), nil, &recordingAudit{}, testLogger())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ok, err := e.RequestConfirmation(context.Background(), "shell", "sudo reboot")
	if err != nil || ok {
		t.Fatalf("missing handler must deny, got ok=%v err=%v", ok, err)
	}
}

// --- audit ---

func TestCheck_WritesAuditEntries(t *testing.T) {
	audit := &recordingAudit{}
	e, err := NewEngine(testCfg("allow"), nil, audit, testLogger())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.Check(context.Background(), "shell", "rm -rf /", true)
	e.Check(context.Background(), "shell", "harmless", false)
	if len(audit.entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(audit.entries))
	}
	if audit.entries[0].Result != "blocked" {
		t.Fatalf("unexpected first entry: %+v", audit.entries[0])
	}
}

// --- pattern compilation ---

func TestCompilePatterns_InvalidRegexFallsBackToLiteral(t *testing.T) {
	cfg := config.SecurityConfig{
		DefaultPolicy: "allow",
		Blacklist:     []string{"rm -rf [unclosed"},
	}
	e, err := NewEngine(cfg, nil, nil, testLogger())
	if err != nil {
		t.Fatalf("NewEngine must tolerate non-regex patterns: %v", err)
	}
	action, _ := e.Check(context.Background(), "shell", "rm -rf [unclosed thing", false)
	if action != domain.ActionBlock {
		t.Fatalf("literal fallback must still match, got %v", action)
	}
}
