package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"termbot/internal/domain"
	"termbot/internal/tool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedProvider replays one chunk sequence per model round.
type scriptedProvider struct {
	rounds   [][]domain.StreamChunk
	requests []domain.ChatRequest
}

func (p *scriptedProvider) Name() string                       { return "scripted" }
func (p *scriptedProvider) Models() []string                   { return []string{"test"} }
func (p *scriptedProvider) SupportsToolCalling() bool          { return true }
func (p *scriptedProvider) Healthy(ctx context.Context) error  { return nil }
func (p *scriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return nil, errors.New("scripted provider is stream only")
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamChunk) error {
	defer close(out)
	round := len(p.requests)
	p.requests = append(p.requests, req)
	if round >= len(p.rounds) {
		out <- domain.StreamChunk{ContentDelta: "out of script", FinishReason: domain.FinishStop}
		return nil
	}
	for _, chunk := range p.rounds[round] {
		out <- chunk
	}
	return nil
}

// recordingTool captures the arguments and order of its invocations.
type invocation struct {
	tool string
	args map[string]any
}

func testOrchestrator(t *testing.T, reg *tool.Registry, rounds int) *Orchestrator {
	t.Helper()
	return NewOrchestrator(OrchestratorConfig{
		Registry:      reg,
		Retry:         tool.NewRetryExecutor(reg, tool.RetryPolicy{MaxAttempts: 1}, testLogger()),
		Tracker:       tool.NewTracker(),
		Logger:        testLogger(),
		MaxToolRounds: rounds,
	})
}

func registryWith(t *testing.T, defs ...*tool.Definition) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry(testLogger())
	for _, d := range defs {
		if err := reg.Register(d); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return reg
}

func userMessages(content string) []domain.Message {
	return []domain.Message{
		{Role: "system", Content: "You are a test assistant."},
		{Role: "user", Content: content},
	}
}

// --- plain completion ---

func TestRunTurn_PlainAnswer(t *testing.T) {
	prov := &scriptedProvider{rounds: [][]domain.StreamChunk{{
		{ContentDelta: "Hello"},
		{ContentDelta: ", world"},
		{FinishReason: domain.FinishStop, Usage: &domain.Usage{TotalTokens: 12}},
	}}}
	orch := testOrchestrator(t, registryWith(t), 5)

	var tokens []string
	res, err := orch.RunTurn(context.Background(), prov, userMessages("hi"), func(ev domain.StreamEvent) {
		if ev.Type == domain.StreamToken {
			tokens = append(tokens, ev.Content)
		}
	})
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if res.State != StateDone {
		t.Fatalf("expected done, got %s", res.State)
	}
	if res.Content != "Hello, world" {
		t.Fatalf("unexpected content: %q", res.Content)
	}
	if strings.Join(tokens, "") != "Hello, world" {
		t.Fatalf("tokens not streamed verbatim: %v", tokens)
	}
	if res.TokensUsed != 12 {
		t.Fatalf("expected usage 12, got %d", res.TokensUsed)
	}
}

// --- fragment reassembly ---

func TestRunTurn_ReassemblesSplitArguments(t *testing.T) {
	var got []invocation
	echo := tool.NewBuilder("echo").
		Description("d").
		RequiredString("text", "t").
		Execute(func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
			got = append(got, invocation{"echo", args})
			return domain.Ok("done"), nil
		}).
		MustBuild()

	prov := &scriptedProvider{rounds: [][]domain.StreamChunk{
		{
			{ToolCallDeltas: []domain.ToolCallDelta{{Index: 0, ID: "call_a", Name: "echo", ArgumentsDelta: `{"te`}}},
			{ToolCallDeltas: []domain.ToolCallDelta{{Index: 0, ArgumentsDelta: `xt":"sp`}}},
			{ToolCallDeltas: []domain.ToolCallDelta{{Index: 0, ArgumentsDelta: `lit"}`}}},
			{FinishReason: domain.FinishToolCalls},
		},
		{
			{ContentDelta: "Echoed."},
			{FinishReason: domain.FinishStop},
		},
	}}
	orch := testOrchestrator(t, registryWith(t, echo), 5)

	res, err := orch.RunTurn(context.Background(), prov, userMessages("echo split"), nil)
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if res.Content != "Echoed." {
		t.Fatalf("unexpected content: %q", res.Content)
	}
	if len(got) != 1 || got[0].args["text"] != "split" {
		t.Fatalf("arguments not reassembled: %+v", got)
	}
}

func TestRunTurn_InterleavedCallsKeepIssueOrder(t *testing.T) {
	mk := func(id string) *tool.Definition {
		return tool.NewBuilder(id).
			Description("d").
			Execute(func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
				return domain.Ok(id + " output"), nil
			}).
			MustBuild()
	}

	// Call B's fragments finish before call A's, but A was issued first.
	prov := &scriptedProvider{rounds: [][]domain.StreamChunk{
		{
			{ToolCallDeltas: []domain.ToolCallDelta{
				{Index: 0, ID: "call_a", Name: "alpha", ArgumentsDelta: "{"},
				{Index: 1, ID: "call_b", Name: "beta", ArgumentsDelta: "{}"},
			}},
			{ToolCallDeltas: []domain.ToolCallDelta{{Index: 0, ArgumentsDelta: "}"}}},
			{FinishReason: domain.FinishToolCalls},
		},
		{
			{ContentDelta: "ok"},
			{FinishReason: domain.FinishStop},
		},
	}}
	orch := testOrchestrator(t, registryWith(t, mk("alpha"), mk("beta")), 5)

	if _, err := orch.RunTurn(context.Background(), prov, userMessages("go"), nil); err != nil {
		t.Fatalf("turn: %v", err)
	}

	// The tool result messages in round 2's request must be in issue order.
	second := prov.requests[1]
	var toolMsgs []domain.Message
	for _, m := range second.Messages {
		if m.Role == "tool" {
			toolMsgs = append(toolMsgs, m)
		}
	}
	if len(toolMsgs) != 2 {
		t.Fatalf("expected 2 tool messages, got %d", len(toolMsgs))
	}
	if toolMsgs[0].ToolCallID != "call_a" || toolMsgs[1].ToolCallID != "call_b" {
		t.Fatalf("results out of issue order: %s then %s", toolMsgs[0].ToolCallID, toolMsgs[1].ToolCallID)
	}
	if toolMsgs[0].Content != "alpha output" {
		t.Fatalf("unexpected first result: %q", toolMsgs[0].Content)
	}
}

// --- failure folding ---

func TestRunTurn_MalformedArgumentsProduceParseResult(t *testing.T) {
	echo := tool.NewBuilder("echo").
		Description("d").
		RequiredString("text", "t").
		Execute(func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
			t.Fatal("tool must not run with unparseable arguments")
			return nil, nil
		}).
		MustBuild()

	prov := &scriptedProvider{rounds: [][]domain.StreamChunk{
		{
			{ToolCallDeltas: []domain.ToolCallDelta{{Index: 0, ID: "call_1", Name: "echo", ArgumentsDelta: `{"text": bro`}}},
			{FinishReason: domain.FinishToolCalls},
		},
		{
			{ContentDelta: "Sorry about that."},
			{FinishReason: domain.FinishStop},
		},
	}}
	orch := testOrchestrator(t, registryWith(t, echo), 5)

	res, err := orch.RunTurn(context.Background(), prov, userMessages("go"), nil)
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if res.State != StateDone {
		t.Fatalf("expected done, got %s", res.State)
	}

	second := prov.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" {
		t.Fatalf("expected tool result message, got role %q", last.Role)
	}
	if !strings.Contains(last.Content, "parse") && !strings.Contains(last.Content, "valid JSON") {
		t.Fatalf("result must explain the parse failure: %q", last.Content)
	}
	if !strings.Contains(last.Content, "schema") {
		t.Fatalf("result must include the schema hint: %q", last.Content)
	}
}

func TestRunTurn_ToolCallsFinishWithNoCallsReasks(t *testing.T) {
	// A tool_calls finish with zero accumulated calls is a provider quirk;
	// the turn must go back to the model rather than end.
	prov := &scriptedProvider{rounds: [][]domain.StreamChunk{
		{
			{FinishReason: domain.FinishToolCalls},
		},
		{
			{ContentDelta: "final answer"},
			{FinishReason: domain.FinishStop},
		},
	}}
	orch := testOrchestrator(t, registryWith(t), 5)

	res, err := orch.RunTurn(context.Background(), prov, userMessages("hm"), nil)
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if len(prov.requests) != 2 {
		t.Fatalf("expected a second model round, got %d requests", len(prov.requests))
	}
	if res.State != StateDone || res.Content != "final answer" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Rounds != 2 {
		t.Fatalf("expected 2 rounds, got %d", res.Rounds)
	}
}

func TestRunTurn_ToolCallsFinishWithNoCallsStillHitsRoundLimit(t *testing.T) {
	quirk := []domain.StreamChunk{{FinishReason: domain.FinishToolCalls}}
	prov := &scriptedProvider{rounds: [][]domain.StreamChunk{quirk, quirk, quirk}}
	orch := testOrchestrator(t, registryWith(t), 3)

	res, err := orch.RunTurn(context.Background(), prov, userMessages("hm"), nil)
	if !errors.Is(err, ErrRoundLimitExceeded) {
		t.Fatalf("expected round limit error, got %v", err)
	}
	if res.State != StateFatal {
		t.Fatalf("expected fatal state, got %v", res.State)
	}
}

// --- round limit ---

func TestRunTurn_RoundLimitIsFatal(t *testing.T) {
	noop := tool.NewBuilder("noop").
		Description("d").
		Execute(func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
			return domain.Ok("again"), nil
		}).
		MustBuild()

	loopRound := []domain.StreamChunk{
		{ToolCallDeltas: []domain.ToolCallDelta{{Index: 0, ID: "c", Name: "noop", ArgumentsDelta: "{}"}}},
		{FinishReason: domain.FinishToolCalls},
	}
	prov := &scriptedProvider{rounds: [][]domain.StreamChunk{loopRound, loopRound, loopRound, loopRound}}
	orch := testOrchestrator(t, registryWith(t, noop), 3)

	res, err := orch.RunTurn(context.Background(), prov, userMessages("loop forever"), nil)
	if !errors.Is(err, ErrRoundLimitExceeded) {
		t.Fatalf("expected ErrRoundLimitExceeded, got %v", err)
	}
	if res.State != StateFatal {
		t.Fatalf("expected fatal state, got %s", res.State)
	}
	if len(prov.requests) != 3 {
		t.Fatalf("expected exactly 3 model rounds, got %d", len(prov.requests))
	}
}

// --- content-embedded calls ---

func TestRunTurn_ExtractsCallFromContent(t *testing.T) {
	ran := false
	noop := tool.NewBuilder("shell").
		Description("d").
		RequiredString("command", "c").
		Execute(func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
			ran = true
			return domain.Ok("ok"), nil
		}).
		MustBuild()

	prov := &scriptedProvider{rounds: [][]domain.StreamChunk{
		{
			{ContentDelta: `{"name":"shell","arguments":{"command":"ls"}}`},
			{FinishReason: domain.FinishStop},
		},
		{
			{ContentDelta: "Listed."},
			{FinishReason: domain.FinishStop},
		},
	}}
	orch := testOrchestrator(t, registryWith(t, noop), 5)

	res, err := orch.RunTurn(context.Background(), prov, userMessages("ls"), nil)
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if !ran {
		t.Fatal("embedded call was not executed")
	}
	if res.Content != "Listed." {
		t.Fatalf("unexpected content: %q", res.Content)
	}
}

// --- cancellation ---

func TestRunTurn_CancelledContext(t *testing.T) {
	prov := &scriptedProvider{rounds: [][]domain.StreamChunk{{
		{ContentDelta: "never seen", FinishReason: domain.FinishStop},
	}}}
	orch := testOrchestrator(t, registryWith(t), 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := orch.RunTurn(ctx, prov, userMessages("hi"), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if res.State != StateCancelled {
		t.Fatalf("expected cancelled state, got %s", res.State)
	}
}
