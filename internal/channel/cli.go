package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"termbot/internal/domain"
)

// SlashHandler handles a /command line. It returns the text to print, or an
// error when the command fails.
type SlashHandler func(ctx context.Context, args []string) (string, error)

// CLI is the interactive terminal REPL. It renders streamed tokens and tool
// activity as they arrive and doubles as the confirmation prompt for the
// security engine.
type CLI struct {
	bus    domain.MessageBus
	logger *slog.Logger
	in     io.Reader
	out    io.Writer

	commands map[string]SlashHandler

	thinking  bool
	streaming bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}

	// confirmMu serializes confirmation prompts against the REPL reader.
	confirmMu sync.Mutex
	confirmCh chan string
	awaiting  bool
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		logger:    cfg.Logger,
		in:        cfg.In,
		out:       cfg.Out,
		commands:  make(map[string]SlashHandler),
		confirmCh: make(chan string, 1),
	}
}

func (c *CLI) Name() string { return "cli" }

// RegisterCommand attaches a /command (without the slash) to the REPL.
func (c *CLI) RegisterCommand(name string, handler SlashHandler) {
	c.commands[name] = handler
}

// Start runs the REPL and blocks until context cancellation or EOF.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus
	bus.OnOutbound("cli", c.render)

	fmt.Fprintln(c.out, "TermBot. Type a message, /help for commands, /quit to exit.")
	fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}
		line := strings.TrimSpace(scanner.Text())

		// A pending confirmation steals the next line.
		c.confirmMu.Lock()
		if c.awaiting {
			c.awaiting = false
			c.confirmMu.Unlock()
			c.confirmCh <- line
			continue
		}
		c.confirmMu.Unlock()

		if line == "" {
			fmt.Fprint(c.out, "You> ")
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := c.handleSlash(ctx, line); quit {
				return nil
			}
			fmt.Fprint(c.out, "You> ")
			continue
		}

		c.startThinking()
		c.bus.Publish(domain.InboundMessage{
			Channel:   "cli",
			ChatID:    "default",
			SenderID:  "user",
			Content:   line,
			Timestamp: time.Now(),
		})
	}
}

// Stop is a no-op: the REPL exits when Start returns.
func (c *CLI) Stop() error { return nil }

// Confirm prompts the user with the security engine's question and waits for
// the answer. Wired into the engine as its ConfirmFunc.
func (c *CLI) Confirm(ctx context.Context, question string) (bool, error) {
	c.stopThinking()
	fmt.Fprintf(c.out, "\r\033[K%s\n", question)
	fmt.Fprint(c.out, "Allow? [y/N] ")

	c.confirmMu.Lock()
	c.awaiting = true
	c.confirmMu.Unlock()

	select {
	case <-ctx.Done():
		c.confirmMu.Lock()
		c.awaiting = false
		c.confirmMu.Unlock()
		return false, ctx.Err()
	case answer := <-c.confirmCh:
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes", nil
	}
}

func (c *CLI) handleSlash(ctx context.Context, line string) (quit bool) {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return false
	}
	name, args := fields[0], fields[1:]

	switch name {
	case "quit", "exit", "q":
		c.logger.Info("user requested quit")
		return true
	case "help":
		fmt.Fprintln(c.out, "Commands: /help /quit"+c.commandList())
		return false
	}

	handler, ok := c.commands[name]
	if !ok {
		fmt.Fprintf(c.out, "Unknown command /%s. Try /help.\n", name)
		return false
	}
	output, err := handler(ctx, args)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return false
	}
	if output != "" {
		fmt.Fprintln(c.out, output)
	}
	return false
}

func (c *CLI) commandList() string {
	var sb strings.Builder
	for name := range c.commands {
		sb.WriteString(" /")
		sb.WriteString(name)
	}
	return sb.String()
}

// render displays one stream event. Tokens print inline as they arrive.
func (c *CLI) render(msg domain.OutboundMessage) {
	ev := msg.StreamEvent
	if ev == nil {
		c.stopThinking()
		fmt.Fprintf(c.out, "\r\033[K%s\n", msg.Content)
		fmt.Fprint(c.out, "You> ")
		return
	}

	switch ev.Type {
	case domain.StreamToken:
		c.stopThinking()
		if !c.streaming {
			c.streaming = true
			fmt.Fprint(c.out, "\r\033[K")
		}
		fmt.Fprint(c.out, ev.Content)
	case domain.StreamToolStart:
		c.stopThinking()
		if c.streaming {
			fmt.Fprintln(c.out)
			c.streaming = false
		}
		fmt.Fprintf(c.out, "\r\033[K* running %s...\n", ev.Tool)
		c.startThinking()
	case domain.StreamToolEnd:
		c.stopThinking()
		status := "ok"
		if !ev.OK {
			status = "failed"
		}
		fmt.Fprintf(c.out, "\r\033[K* %s %s\n", ev.Tool, status)
		c.startThinking()
	case domain.StreamDone:
		c.stopThinking()
		if c.streaming {
			c.streaming = false
			fmt.Fprintln(c.out)
		} else if ev.Content != "" {
			// Non-streaming providers deliver everything in the final event.
			fmt.Fprintf(c.out, "\r\033[K%s\n", ev.Content)
		}
		fmt.Fprint(c.out, "You> ")
	case domain.StreamError:
		c.stopThinking()
		c.streaming = false
		fmt.Fprintf(c.out, "\r\033[KError: %s\n", ev.Content)
		fmt.Fprint(c.out, "You> ")
	}
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func(stop chan struct{}) {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}(c.thinkStop)
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}
