// Package security gates destructive tool calls through pattern lists, a
// capability check and an optional user confirmation callback.
package security

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"termbot/internal/config"
	"termbot/internal/domain"
)

// ConfirmFunc asks the user a yes/no question and reports the answer.
type ConfirmFunc func(ctx context.Context, question string) (bool, error)

// AuditLogger is the sink for audit entries.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry domain.AuditEntry) error
}

// Engine decides whether a tool call may run. Decision order: blacklist,
// whitelist, confirm patterns, destructive capabilities, default policy.
type Engine struct {
	cfg         config.SecurityConfig
	confirmFn   ConfirmFunc
	auditLogger AuditLogger
	logger      *slog.Logger

	blacklistRe []*regexp.Regexp
	whitelistRe []*regexp.Regexp
	confirmRe   []*regexp.Regexp
}

func NewEngine(cfg config.SecurityConfig, confirmFn ConfirmFunc, auditLogger AuditLogger, logger *slog.Logger) (*Engine, error) {
	e := &Engine{
		cfg:         cfg,
		confirmFn:   confirmFn,
		auditLogger: auditLogger,
		logger:      logger,
	}
	var err error
	e.blacklistRe, err = compilePatterns(cfg.Blacklist)
	if err != nil {
		return nil, fmt.Errorf("invalid blacklist pattern: %w", err)
	}
	e.whitelistRe, err = compilePatterns(cfg.Whitelist)
	if err != nil {
		return nil, fmt.Errorf("invalid whitelist pattern: %w", err)
	}
	e.confirmRe, err = compilePatterns(cfg.ConfirmPatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid confirm pattern: %w", err)
	}
	return e, nil
}

// Check classifies one tool call. command is the human-readable rendering of
// the call (the shell command line, the target path, the URL) that the
// pattern lists match against. destructive marks tools whose declared
// capabilities require confirmation regardless of the default policy.
func (e *Engine) Check(ctx context.Context, toolName, command string, destructive bool) (domain.SecurityAction, error) {
	cmd := strings.TrimSpace(command)

	for _, re := range e.blacklistRe {
		if re.MatchString(cmd) {
			e.logger.Warn("tool call blocked by blacklist", "tool", toolName, "command", cmd, "pattern", re.String())
			e.logAction(ctx, "command_blocked", toolName, cmd, "blocked", "blacklist match: "+re.String())
			return domain.ActionBlock, nil
		}
	}
	for _, re := range e.whitelistRe {
		if re.MatchString(cmd) {
			e.logAction(ctx, "tool_exec", toolName, cmd, "allowed", "whitelist match: "+re.String())
			return domain.ActionAllow, nil
		}
	}
	for _, re := range e.confirmRe {
		if re.MatchString(cmd) {
			e.logger.Info("tool call requires confirmation", "tool", toolName, "command", cmd)
			return domain.ActionConfirm, nil
		}
	}
	if destructive && e.cfg.DefaultPolicy != "allow" {
		return domain.ActionConfirm, nil
	}

	switch e.cfg.DefaultPolicy {
	case "allow":
		e.logAction(ctx, "tool_exec", toolName, cmd, "allowed", "default policy: allow")
		return domain.ActionAllow, nil
	case "deny":
		e.logAction(ctx, "command_blocked", toolName, cmd, "blocked", "default policy: deny")
		return domain.ActionBlock, nil
	default: // "ask"
		if destructive {
			return domain.ActionConfirm, nil
		}
		e.logAction(ctx, "tool_exec", toolName, cmd, "allowed", "default policy: ask, non-destructive")
		return domain.ActionAllow, nil
	}
}

// RequestConfirmation asks the user to approve the call. With no handler
// registered the call is denied.
func (e *Engine) RequestConfirmation(ctx context.Context, toolName, command string) (bool, error) {
	if e.confirmFn == nil {
		e.logAction(ctx, "confirm_no", toolName, command, "denied", "no confirmation handler")
		return false, nil
	}

	question := fmt.Sprintf("Security confirmation\n\nTool: %s\nCall: %s\n\nAllow this action? (yes/no)", toolName, command)
	confirmed, err := e.confirmFn(ctx, question)
	if err != nil {
		e.logAction(ctx, "confirm_no", toolName, command, "denied", "confirmation error: "+err.Error())
		return false, err
	}
	if confirmed {
		e.logAction(ctx, "confirm_yes", toolName, command, "confirmed", "user confirmed")
	} else {
		e.logAction(ctx, "confirm_no", toolName, command, "denied", "user denied")
	}
	return confirmed, nil
}

func (e *Engine) logAction(ctx context.Context, action, toolName, command, result, details string) {
	if !e.cfg.AuditLog || e.auditLogger == nil {
		return
	}
	if err := e.auditLogger.LogAudit(ctx, domain.AuditEntry{
		Action:   action,
		ToolName: toolName,
		Command:  command,
		Result:   result,
		Details:  details,
	}); err != nil {
		e.logger.Warn("audit log write failed", "err", err)
	}
}

// compilePatterns compiles each pattern, falling back to a literal substring
// match when the string is not a valid regexp.
func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			re, err = regexp.Compile(regexp.QuoteMeta(p))
			if err != nil {
				return nil, fmt.Errorf("pattern %q: %w", p, err)
			}
		}
		out = append(out, re)
	}
	return out, nil
}
