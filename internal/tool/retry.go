package tool

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"termbot/internal/domain"
)

// RetryPolicy bounds the retry loop. Delay for attempt n (1-based) is
// BaseDelay*n*n plus up to 25% jitter, capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the provider HTTP retry shape.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay * time.Duration(attempt*attempt)
	d += time.Duration(rand.Int63n(int64(d)/4 + 1))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// transientMarkers are error substrings worth retrying. Anything else is
// assumed deterministic and fails fast.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"temporar",
	"connection refused",
	"connection reset",
	"broken pipe",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"unavailable",
	"busy",
	"locked",
}

// Retryable classifies a failed result. Validation, not-found and parse
// failures are terminal: re-running the same bad input cannot help.
// Initialization and execution failures retry only when the message carries
// a transient marker.
func Retryable(res *domain.ToolResult) bool {
	if res == nil || res.Success {
		return false
	}
	switch res.Kind {
	case domain.KindValidation, domain.KindNotFound, domain.KindParse:
		return false
	}
	msg := strings.ToLower(res.Error)
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// RetryExecutor wraps a registry with bounded retries for transient
// failures. The final result is whatever the last attempt produced.
type RetryExecutor struct {
	registry *Registry
	policy   RetryPolicy
	logger   *slog.Logger
}

func NewRetryExecutor(reg *Registry, policy RetryPolicy, logger *slog.Logger) *RetryExecutor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryExecutor{registry: reg, policy: policy, logger: logger}
}

// Execute runs the tool, retrying transient failures up to the policy's
// attempt bound. Context cancellation between attempts stops the loop.
func (e *RetryExecutor) Execute(ctx context.Context, id string, args map[string]any) *domain.ToolResult {
	var res *domain.ToolResult
	for attempt := 1; ; attempt++ {
		res = e.registry.Execute(ctx, id, args)
		if res.Success || !Retryable(res) || attempt >= e.policy.MaxAttempts {
			return res
		}
		d := e.policy.delay(attempt)
		e.logger.Warn("retrying tool", "tool", id, "attempt", attempt, "delay", d, "error", res.Error)
		select {
		case <-ctx.Done():
			return domain.Fail(domain.KindExecution, "cancelled while retrying: "+ctx.Err().Error())
		case <-time.After(d):
		}
	}
}
