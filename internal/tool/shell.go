package tool

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"termbot/internal/domain"
)

const (
	defaultShellTimeout   = 30
	defaultMaxOutputBytes = 65536
)

// ShellConfig bounds the shell tool.
type ShellConfig struct {
	WorkingDir     string
	TimeoutSeconds int
	MaxOutputBytes int
}

// NewShellTool runs a command through sh -c inside the working directory.
func NewShellTool(cfg ShellConfig) *Definition {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultShellTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	return NewBuilder("shell").
		Description("Execute a shell command. Use for running terminal commands, scripts, or any CLI tool. Returns stdout and stderr.").
		Category("system").
		Tags("shell", "exec").
		Capability(domain.CapSystemExecute).
		RequiredString("command", "The shell command to execute (e.g. 'ls -la', 'git status')").
		Execute(func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
			command := strings.TrimSpace(args["command"].(string))
			if command == "" {
				return nil, fmt.Errorf("missing argument: command")
			}
			dir := cfg.WorkingDir
			if dir == "" {
				dir = "."
			}
			absDir, err := filepath.Abs(dir)
			if err != nil {
				absDir = dir
			}
			cctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
			defer cancel()

			// sh -c for reliable handling of pipes, redirects and quotes.
			cmd := exec.CommandContext(cctx, "sh", "-c", command)
			cmd.Dir = absDir
			output, err := cmd.CombinedOutput()
			if err != nil {
				if cctx.Err() != nil {
					return domain.Fail(domain.KindExecution, "command timed out or cancelled"), nil
				}
				return domain.Fail(domain.KindExecution,
					fmt.Sprintf("exit: %v\n%s", err, truncate(string(output), cfg.MaxOutputBytes))), nil
			}
			return domain.Ok(truncate(string(output), cfg.MaxOutputBytes)), nil
		}).
		MustBuild()
}

func truncate(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max] + "\n... (output truncated)"
	}
	return s
}
