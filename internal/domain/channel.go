package domain

import "context"

// Channel is a user-facing surface (terminal REPL, one-shot command).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}
