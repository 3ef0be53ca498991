package agent

import "termbot/internal/domain"

// EstimateTokens approximates the token count of text. One token per four
// bytes is close enough for budget decisions without a tokenizer dependency;
// the estimate deliberately errs high for short strings.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}

// perMessageOverhead covers role markers and separators the chat template
// adds around each message.
const perMessageOverhead = 4

// EstimateHistoryTokens returns the approximate token footprint of a message
// slice. Callers recount after every history mutation rather than tracking a
// running total, so a truncation or rewrite can never leave the count stale.
func EstimateHistoryTokens(msgs []domain.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		total += EstimateTokens(m.Content)
		for _, tc := range m.ToolCalls {
			total += EstimateTokens(tc.Name) + EstimateTokens(tc.Arguments)
		}
	}
	return total
}

// TruncateHistory drops the oldest non-system messages until the estimate
// fits the budget. The system prompt and the most recent message always
// survive. Tool results whose assistant call message was dropped are dropped
// with it so the history never starts with an orphaned tool message.
func TruncateHistory(msgs []domain.Message, maxTokens int) []domain.Message {
	if maxTokens <= 0 || EstimateHistoryTokens(msgs) <= maxTokens {
		return msgs
	}

	var system []domain.Message
	rest := msgs
	if len(msgs) > 0 && msgs[0].Role == "system" {
		system = msgs[:1]
		rest = msgs[1:]
	}

	for len(rest) > 1 {
		candidate := append(append([]domain.Message{}, system...), rest...)
		if EstimateHistoryTokens(candidate) <= maxTokens {
			return candidate
		}
		rest = rest[1:]
		for len(rest) > 1 && rest[0].Role == "tool" {
			rest = rest[1:]
		}
	}
	return append(append([]domain.Message{}, system...), rest...)
}
