package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"termbot/internal/bus"
	"termbot/internal/domain"
	"termbot/internal/metrics"
	"termbot/internal/security"
	"termbot/internal/tool"
)

// TurnState is the phase of one conversational turn.
type TurnState string

const (
	StateAwaitingModel  TurnState = "awaiting_model"
	StateStreaming      TurnState = "streaming"
	StateExecutingTools TurnState = "executing_tools"
	StateDone           TurnState = "done"
	StateFatal          TurnState = "fatal"
	StateCancelled      TurnState = "cancelled"
)

// ErrRoundLimitExceeded terminates a turn whose model keeps requesting tools
// past the configured round budget.
var ErrRoundLimitExceeded = errors.New("tool round limit exceeded")

const (
	defaultMaxToolRounds    = 10
	defaultMaxParallelTools = 4
	defaultLLMMaxTokens     = 4096
	defaultTemperature      = 0.7
)

// partialCall accumulates one in-progress tool call during streaming. The
// argument buffer grows by concatenating fragments in arrival order and is
// parsed only after the finish signal.
type partialCall struct {
	id   string
	name string
	args strings.Builder
}

// callAccumulator reassembles tool-call fragments keyed by their wire index.
// Finalized calls come back in first-seen order, which is the order the
// model issued them.
type callAccumulator struct {
	order []int
	calls map[int]*partialCall
}

func newCallAccumulator() *callAccumulator {
	return &callAccumulator{calls: make(map[int]*partialCall)}
}

func (a *callAccumulator) add(d domain.ToolCallDelta) {
	pc, ok := a.calls[d.Index]
	if !ok {
		pc = &partialCall{}
		a.calls[d.Index] = pc
		a.order = append(a.order, d.Index)
	}
	if d.ID != "" {
		pc.id = d.ID
	}
	if d.Name != "" {
		pc.name = d.Name
	}
	pc.args.WriteString(d.ArgumentsDelta)
}

func (a *callAccumulator) empty() bool { return len(a.order) == 0 }

// finalize converts accumulated fragments into complete calls. Calls with no
// name are dropped: they can never resolve to a tool. An empty argument
// buffer becomes the empty object so downstream parsing has one shape.
func (a *callAccumulator) finalize() []domain.ToolCall {
	out := make([]domain.ToolCall, 0, len(a.order))
	for i, idx := range a.order {
		pc := a.calls[idx]
		if pc.name == "" {
			continue
		}
		id := pc.id
		if id == "" {
			id = fmt.Sprintf("call_%d_%d", time.Now().UnixNano(), i)
		}
		args := pc.args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		out = append(out, domain.ToolCall{ID: id, Name: pc.name, Arguments: args})
	}
	return out
}

// Orchestrator runs conversational turns: it calls the model, reassembles
// streamed tool calls, gates and executes them, and feeds results back until
// the model answers in plain text or a bound trips.
type Orchestrator struct {
	registry *tool.Registry
	retry    *tool.RetryExecutor
	tracker  *tool.Tracker
	security *security.Engine
	events   *bus.EventBus
	limiter  *RateLimiter
	logger   *slog.Logger

	maxToolRounds    int
	maxParallelTools int
	maxContextTokens int
}

// OrchestratorConfig holds dependencies and bounds for the turn loop.
type OrchestratorConfig struct {
	Registry *tool.Registry
	Retry    *tool.RetryExecutor
	Tracker  *tool.Tracker
	Security *security.Engine
	Events   *bus.EventBus
	Limiter  *RateLimiter
	Logger   *slog.Logger

	MaxToolRounds    int
	MaxParallelTools int
	MaxContextTokens int
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = defaultMaxToolRounds
	}
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = defaultMaxParallelTools
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		registry:         cfg.Registry,
		retry:            cfg.Retry,
		tracker:          cfg.Tracker,
		security:         cfg.Security,
		events:           cfg.Events,
		limiter:          cfg.Limiter,
		logger:           cfg.Logger,
		maxToolRounds:    cfg.MaxToolRounds,
		maxParallelTools: cfg.MaxParallelTools,
		maxContextTokens: cfg.MaxContextTokens,
	}
}

// TurnResult is the outcome of one turn.
type TurnResult struct {
	Content    string
	State      TurnState
	Rounds     int
	TokensUsed int
	LatencyMs  int64
}

// RunTurn drives one turn to completion. emit receives display events as the
// turn progresses and may be nil. messages must start with the system prompt
// and end with the new user message; the slice is not mutated.
func (o *Orchestrator) RunTurn(ctx context.Context, provider domain.Provider, messages []domain.Message, emit func(domain.StreamEvent)) (*TurnResult, error) {
	if emit == nil {
		emit = func(domain.StreamEvent) {}
	}
	history := append([]domain.Message(nil), messages...)
	res := &TurnResult{State: StateAwaitingModel}
	start := time.Now()
	metrics.ActiveTurns.Inc()
	defer metrics.ActiveTurns.Dec()
	defer func() { res.LatencyMs = time.Since(start).Milliseconds() }()

	toolDefs := o.registry.Definitions()

	for round := 0; ; round++ {
		if ctx.Err() != nil {
			res.State = StateCancelled
			return res, ctx.Err()
		}
		if round >= o.maxToolRounds {
			res.State = StateFatal
			metrics.RoundLimitHits.Inc()
			o.emitEvent(bus.EventRoundLimitReached, map[string]any{"rounds": round})
			return res, fmt.Errorf("%w: %d rounds", ErrRoundLimitExceeded, round)
		}
		res.Rounds = round + 1

		history = TruncateHistory(history, o.maxContextTokens)
		o.logger.Debug("model round", "round", round+1,
			"messages", len(history), "tokens", EstimateHistoryTokens(history))

		res.State = StateAwaitingModel
		resp, err := o.callModel(ctx, provider, history, toolDefs, emit, res)
		if err != nil {
			if ctx.Err() != nil {
				res.State = StateCancelled
				return res, ctx.Err()
			}
			res.State = StateFatal
			o.emitEvent(bus.EventProviderError, map[string]any{"error": err.Error()})
			return res, err
		}

		// Smaller models sometimes embed the call JSON in content.
		if !resp.HasToolCalls() && resp.Content != "" {
			if extracted := extractToolCallsFromContent(resp.Content); len(extracted) > 0 {
				resp.ToolCalls = extracted
				resp.Content = ""
				o.logger.Info("extracted tool calls from content text", "count", len(extracted))
			}
		}

		if !resp.HasToolCalls() {
			// Some backends signal tool_calls and then deliver none. Go back
			// to the model for another round instead of ending the turn.
			if resp.FinishReason == domain.FinishToolCalls {
				o.logger.Warn("tool_calls finish with no calls, re-asking", "round", round+1)
				continue
			}
			res.Content = resp.Content
			res.State = StateDone
			o.emitEvent(bus.EventTurnCompleted, map[string]any{"rounds": res.Rounds})
			return res, nil
		}

		history = append(history, domain.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		contextTokens := EstimateHistoryTokens(history)

		res.State = StateExecutingTools
		results := o.executeCalls(ctx, resp.ToolCalls, emit)
		if ctx.Err() != nil {
			res.State = StateCancelled
			return res, ctx.Err()
		}

		// Results append in issue order regardless of completion order. The
		// token estimate is recounted after every append so it is current
		// before the next round goes out.
		for i, tc := range resp.ToolCalls {
			history = append(history, domain.Message{
				Role:       "tool",
				Content:    renderResult(results[i]),
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
			contextTokens = EstimateHistoryTokens(history)
		}
		o.logger.Debug("tool round complete", "round", round+1,
			"calls", len(resp.ToolCalls), "context_tokens", contextTokens)
	}
}

// callModel performs one completion, streaming when the provider supports
// it. Streamed tool-call fragments are reassembled here; the finish signal
// finalizes them.
func (o *Orchestrator) callModel(ctx context.Context, provider domain.Provider, history []domain.Message, toolDefs []domain.ToolDefinition, emit func(domain.StreamEvent), res *TurnResult) (*domain.ChatResponse, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	metrics.LLMRequestsTotal.Inc()
	start := time.Now()
	defer func() {
		metrics.LLMLatency.Observe(time.Since(start).Seconds())
	}()

	req := domain.ChatRequest{
		Messages:    history,
		Tools:       toolDefs,
		MaxTokens:   defaultLLMMaxTokens,
		Temperature: defaultTemperature,
	}

	sp, ok := provider.(domain.StreamingProvider)
	if !ok {
		resp, err := provider.Chat(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("model error: %w", err)
		}
		res.TokensUsed += resp.Usage.TotalTokens
		if resp.Content != "" {
			emit(domain.StreamEvent{Type: domain.StreamToken, Content: resp.Content})
		}
		return resp, nil
	}

	res.State = StateStreaming
	chunks := make(chan domain.StreamChunk, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- sp.ChatStream(ctx, req, chunks)
	}()

	var content strings.Builder
	acc := newCallAccumulator()
	finish := ""
	for chunk := range chunks {
		if chunk.ContentDelta != "" {
			content.WriteString(chunk.ContentDelta)
			emit(domain.StreamEvent{Type: domain.StreamToken, Content: chunk.ContentDelta})
		}
		for _, d := range chunk.ToolCallDeltas {
			acc.add(d)
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
		if chunk.Usage != nil {
			res.TokensUsed += chunk.Usage.TotalTokens
		}
	}
	// ChatStream closes the channel before returning, so the range exits
	// first; block on errCh to observe the final error.
	if err := <-errCh; err != nil {
		return nil, fmt.Errorf("model stream error: %w", err)
	}

	calls := acc.finalize()
	return &domain.ChatResponse{
		Content:      content.String(),
		ToolCalls:    calls,
		FinishReason: finish,
	}, nil
}

// executeCalls runs a round of tool calls with bounded parallelism. The
// returned slice is indexed by issue order.
func (o *Orchestrator) executeCalls(ctx context.Context, calls []domain.ToolCall, emit func(domain.StreamEvent)) []*domain.ToolResult {
	results := make([]*domain.ToolResult, len(calls))
	sem := make(chan struct{}, o.maxParallelTools)
	var wg sync.WaitGroup

	for i, tc := range calls {
		emit(domain.StreamEvent{Type: domain.StreamToolStart, Tool: tc.Name, ToolID: tc.ID})

		wg.Add(1)
		go func(idx int, tc domain.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res := o.executeOne(ctx, tc)
			results[idx] = res
			emit(domain.StreamEvent{Type: domain.StreamToolEnd, Tool: tc.Name, ToolID: tc.ID, OK: res.Success})
		}(i, tc)
	}
	wg.Wait()
	return results
}

// executeOne runs a single call end to end: argument parsing, the security
// gate, then the retrying executor. Every failure mode folds into a result.
func (o *Orchestrator) executeOne(ctx context.Context, tc domain.ToolCall) *domain.ToolResult {
	metrics.ToolExecutions.Inc()
	start := time.Now()
	defer func() {
		metrics.ToolLatency.Observe(time.Since(start).Seconds())
	}()

	args, parseErr := parseArguments(tc.Arguments)
	if parseErr != nil {
		msg := fmt.Sprintf("arguments are not valid JSON: %v", parseErr)
		if hint := o.schemaHint(tc.Name); hint != "" {
			msg += "; expected schema: " + hint
		}
		o.tracker.Start(tc.ID, tc.Name, nil)
		res := domain.Fail(domain.KindParse, msg)
		o.tracker.Complete(tc.ID, res)
		return res
	}

	if o.security != nil {
		if res := o.gate(ctx, tc, args); res != nil {
			return res
		}
	}

	o.tracker.Start(tc.ID, tc.Name, args)
	o.emitEvent(bus.EventToolBeforeExecute, map[string]any{"tool": tc.Name, "call_id": tc.ID})

	res := o.retry.Execute(ctx, tc.Name, args)

	o.tracker.Complete(tc.ID, res)
	o.emitEvent(bus.EventToolAfterExecute, map[string]any{
		"tool": tc.Name, "call_id": tc.ID, "ok": res.Success,
	})
	return res
}

// gate runs the security engine. A nil return means the call may proceed.
func (o *Orchestrator) gate(ctx context.Context, tc domain.ToolCall, args map[string]any) *domain.ToolResult {
	command := securityCommand(tc.Name, args)
	destructive := false
	if def, ok := o.registry.Get(tc.Name); ok {
		destructive = def.Destructive()
	}
	if command == "" && !destructive {
		return nil
	}

	action, err := o.security.Check(ctx, tc.Name, command, destructive)
	if err != nil {
		return domain.Fail(domain.KindExecution, "security check failed: "+err.Error())
	}
	switch action {
	case domain.ActionBlock:
		metrics.SecurityBlocks.Inc()
		o.emitEvent(bus.EventSecurityBlocked, map[string]any{"tool": tc.Name, "command": command})
		return domain.Fail(domain.KindExecution, "blocked by security policy: "+command)
	case domain.ActionConfirm:
		confirmed, err := o.security.RequestConfirmation(ctx, tc.Name, command)
		if err != nil {
			return domain.Fail(domain.KindExecution, "confirmation failed: "+err.Error())
		}
		if !confirmed {
			return domain.Fail(domain.KindExecution, "denied by user: "+command)
		}
		o.emitEvent(bus.EventSecurityConfirmed, map[string]any{"tool": tc.Name, "command": command})
	}
	return nil
}

func (o *Orchestrator) schemaHint(toolID string) string {
	def, ok := o.registry.Get(toolID)
	if !ok {
		return ""
	}
	data, err := json.Marshal(def.Parameters())
	if err != nil {
		return ""
	}
	return string(data)
}

func (o *Orchestrator) emitEvent(eventType string, payload map[string]any) {
	if o.events == nil {
		return
	}
	o.events.Emit(bus.Event{Type: eventType, Source: "orchestrator", Payload: payload})
}

// parseArguments decodes the raw argument JSON, retrying once with escape
// sanitization for the malformed output some models produce.
func parseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		if err2 := json.Unmarshal([]byte(sanitizeJSONEscapes(raw)), &args); err2 != nil {
			return nil, err
		}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// securityCommand builds a human-readable command string from a tool call so
// the security engine can evaluate it. Covers shell, file writes, and web
// access.
func securityCommand(name string, args map[string]any) string {
	argStr := func(key string) string {
		if v, ok := args[key]; ok {
			return fmt.Sprintf("%v", v)
		}
		return ""
	}
	switch name {
	case "shell", "exec":
		return argStr("command")
	case "write_file":
		if path := argStr("path"); path != "" {
			return "write " + path
		}
	case "web_fetch", "web_page":
		if url := argStr("url"); url != "" {
			return "fetch " + url
		}
	}
	return ""
}

// renderResult converts a tool result into the text the model sees.
func renderResult(res *domain.ToolResult) string {
	if res == nil {
		return "Error: tool produced no result"
	}
	if !res.Success {
		return fmt.Sprintf("Error (%s): %s", res.Kind, res.Error)
	}
	if res.Output == "" && res.Data != nil {
		if data, err := json.Marshal(res.Data); err == nil {
			return string(data)
		}
	}
	return res.Output
}
