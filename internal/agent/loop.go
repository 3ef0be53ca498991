package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"termbot/internal/bus"
	"termbot/internal/domain"
	"termbot/internal/metrics"
	"termbot/internal/provider"
)

const defaultHistoryLimit = 40

// Loop consumes inbound messages from the bus, runs a turn for each, and
// streams the output back to the originating channel.
type Loop struct {
	bus          domain.MessageBus
	events       *bus.EventBus
	factory      *provider.Factory
	orchestrator *Orchestrator
	sessions     *SessionManager
	prompt       *PromptBuilder
	logger       *slog.Logger

	defaultProvider string
	maxConcurrent   int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// LoopConfig wires the loop's collaborators.
type LoopConfig struct {
	Bus          domain.MessageBus
	Events       *bus.EventBus
	Factory      *provider.Factory
	Orchestrator *Orchestrator
	Sessions     *SessionManager
	Prompt       *PromptBuilder
	Logger       *slog.Logger

	DefaultProvider string
	MaxConcurrent   int
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		bus:             cfg.Bus,
		events:          cfg.Events,
		factory:         cfg.Factory,
		orchestrator:    cfg.Orchestrator,
		sessions:        cfg.Sessions,
		prompt:          cfg.Prompt,
		logger:          cfg.Logger,
		defaultProvider: cfg.DefaultProvider,
		maxConcurrent:   cfg.MaxConcurrent,
	}
}

// Run consumes inbound messages until ctx is cancelled or the bus closes.
// Messages from distinct chats process concurrently up to MaxConcurrent.
func (l *Loop) Run(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	sem := make(chan struct{}, l.maxConcurrent)
	inbox := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.wg.Wait()
			return
		case msg, ok := <-inbox:
			if !ok {
				l.wg.Wait()
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				l.wg.Wait()
				return
			}
			l.wg.Add(1)
			go func(msg domain.InboundMessage) {
				defer l.wg.Done()
				defer func() { <-sem }()
				l.processMessage(ctx, msg)
			}(msg)
		}
	}
}

// Stop cancels the run loop and waits for in-flight turns.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	metrics.MessagesTotal.Inc()
	l.emitEvent(bus.EventMessageReceived, map[string]any{
		"channel": msg.Channel, "chat_id": msg.ChatID,
	})

	emit := func(ev domain.StreamEvent) {
		e := ev
		l.bus.SendOutbound(domain.OutboundMessage{
			Channel:     msg.Channel,
			ChatID:      msg.ChatID,
			StreamEvent: &e,
		})
	}

	content, err := l.runTurn(ctx, msg, emit)
	if err != nil {
		l.logger.Error("turn failed", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		emit(domain.StreamEvent{Type: domain.StreamError, Content: err.Error()})
		return
	}
	emit(domain.StreamEvent{Type: domain.StreamDone, Content: content})
	l.emitEvent(bus.EventMessageSent, map[string]any{
		"channel": msg.Channel, "chat_id": msg.ChatID,
	})
}

// ProcessDirect runs one turn synchronously, bypassing the bus. Used by
// one-shot command invocations.
func (l *Loop) ProcessDirect(ctx context.Context, sessionKey, content string, emit func(domain.StreamEvent)) (string, error) {
	msg := domain.InboundMessage{Channel: "direct", ChatID: sessionKey, Content: content}
	return l.runTurn(ctx, msg, emit)
}

// runTurn resolves the provider, assembles history, executes the turn, and
// persists both sides of the exchange.
func (l *Loop) runTurn(ctx context.Context, msg domain.InboundMessage, emit func(domain.StreamEvent)) (string, error) {
	prov, err := l.factory.Get(l.defaultProvider)
	if err != nil {
		return "", fmt.Errorf("resolve provider: %w", err)
	}

	sessionKey := msg.Channel + ":" + msg.ChatID
	convID, err := l.sessions.GetOrCreateConversation(ctx, sessionKey, prov.Name(), "")
	if err != nil {
		return "", fmt.Errorf("open conversation: %w", err)
	}

	history, err := l.sessions.GetHistory(ctx, convID, defaultHistoryLimit)
	if err != nil {
		l.logger.Warn("history load failed, starting fresh", "conversation", convID, "error", err)
		history = nil
	}
	if len(history) == 0 {
		l.sessions.UpdateTitle(ctx, convID, msg.Content)
	}

	userMsg := domain.Message{Role: "user", Content: msg.Content}
	messages := make([]domain.Message, 0, len(history)+2)
	messages = append(messages, domain.Message{Role: "system", Content: l.prompt.BuildSystemPrompt()})
	messages = append(messages, history...)
	messages = append(messages, userMsg)

	if err := l.sessions.SaveMessage(ctx, convID, userMsg); err != nil {
		l.logger.Warn("saving user message failed", "conversation", convID, "error", err)
	}

	res, err := l.orchestrator.RunTurn(ctx, prov, messages, emit)
	if res != nil {
		l.sessions.AddTokenUsage(convID, res.TokensUsed)
	}
	if err != nil {
		return "", err
	}

	if saveErr := l.sessions.SaveMessage(ctx, convID, domain.Message{
		Role:    "assistant",
		Content: res.Content,
	}); saveErr != nil {
		l.logger.Warn("saving assistant message failed", "conversation", convID, "error", saveErr)
	}

	l.logger.Info("turn completed", "conversation", convID,
		"rounds", res.Rounds, "tokens", res.TokensUsed, "latency_ms", res.LatencyMs)
	return res.Content, nil
}

func (l *Loop) emitEvent(eventType string, payload map[string]any) {
	if l.events == nil {
		return
	}
	l.events.Emit(bus.Event{Type: eventType, Source: "loop", Payload: payload})
}
