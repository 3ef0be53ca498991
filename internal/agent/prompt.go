package agent

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// PromptBuilder assembles the system prompt for each turn.
type PromptBuilder struct {
	workspace string
	extra     string
}

func NewPromptBuilder(workspace, extra string) *PromptBuilder {
	return &PromptBuilder{workspace: workspace, extra: extra}
}

// BuildSystemPrompt renders the system prompt with the current time,
// workspace, and platform context.
func (p *PromptBuilder) BuildSystemPrompt() string {
	now := time.Now().Format("2006-01-02 15:04 (Monday)")
	workspacePath, err := filepath.Abs(p.workspace)
	if err != nil {
		workspacePath = p.workspace
	}

	var sb strings.Builder
	sb.WriteString("You are TermBot, a helpful assistant running in the user's terminal.\n\n")
	fmt.Fprintf(&sb, "Current time: %s\n", now)
	fmt.Fprintf(&sb, "Workspace: %s\n", workspacePath)
	fmt.Fprintf(&sb, "Platform: %s %s\n\n", runtime.GOOS, runtime.GOARCH)
	sb.WriteString(`## Tools
You can call the registered tools to act on the user's behalf. When you call
a tool, wait for its result before answering. Tool results marked as errors
describe what went wrong; correct the arguments and retry, or explain the
failure to the user. Prefer relative paths inside the workspace.

## Style
Answer concisely in plain text or markdown. Do not invent tool output.
`)
	if p.extra != "" {
		sb.WriteString("\n")
		sb.WriteString(p.extra)
		sb.WriteString("\n")
	}
	return sb.String()
}
