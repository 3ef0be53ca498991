package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"termbot/internal/agent"
	"termbot/internal/browser"
	"termbot/internal/bus"
	"termbot/internal/channel"
	"termbot/internal/config"
	"termbot/internal/domain"
	"termbot/internal/memory"
	"termbot/internal/metrics"
	"termbot/internal/provider"
	"termbot/internal/security"
	"termbot/internal/tool"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "termbot",
		Short: "TermBot: a tool-using AI assistant for the terminal",
		Long:  "TermBot is a terminal chat agent that can read and write files, run commands, and browse the web on your behalf.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.termbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(askCmd())
	root.AddCommand(toolsCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfigOrDefaults() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		return config.Defaults()
	}
	return cfg
}

// setupLogger rebuilds the global logger from config. During chat the log
// goes to a file when configured so it does not fight the REPL for the
// terminal.
func setupLogger(cfg *config.Config) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out io.Writer = os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Warn("cannot open log file, logging to stderr", "path", cfg.General.LogFile, "err", err)
		} else {
			out = f
		}
	}
	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "workspace", cfg.General.Workspace)
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat",
		RunE:  runChat,
	}
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [message]",
		Short: "Ask one question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(nil)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			emit := func(ev domain.StreamEvent) {
				if ev.Type == domain.StreamToken {
					fmt.Print(ev.Content)
				}
			}
			content, err := rt.loop.ProcessDirect(ctx, "ask", strings.Join(args, " "), emit)
			if err != nil {
				return err
			}
			// Providers without streaming deliver everything at once.
			if content != "" && !strings.HasSuffix(content, "\n") {
				fmt.Println()
			}
			return nil
		},
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cliCh := channel.NewCLI(channel.CLIConfig{Logger: logger})
	rt, err := buildRuntime(cliCh.Confirm)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cliCh.RegisterCommand("sessions", func(ctx context.Context, args []string) (string, error) {
		convs, err := rt.sessions.ListConversations(ctx, 20)
		if err != nil {
			return "", err
		}
		if len(convs) == 0 {
			return "No conversations yet.", nil
		}
		var sb strings.Builder
		for _, c := range convs {
			fmt.Fprintf(&sb, "%s  %s  (%s)\n", c.UpdatedAt.Format("2006-01-02 15:04"), c.Title, c.ID)
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	})
	cliCh.RegisterCommand("tools", func(ctx context.Context, args []string) (string, error) {
		return renderToolList(rt.registry), nil
	})
	cliCh.RegisterCommand("metrics", func(ctx context.Context, args []string) (string, error) {
		return metrics.Collector.Render(), nil
	})

	go rt.loop.Run(ctx)

	logger.Info("chat started", "provider", rt.cfg.General.DefaultProvider)
	return cliCh.Start(ctx, rt.bus)
}

// runtime bundles everything a running agent needs, so chat and ask share
// one assembly path.
type runtime struct {
	cfg      *config.Config
	bus      *bus.InMemoryBus
	store    *memory.SQLiteStore
	registry *tool.Registry
	sessions *agent.SessionManager
	loop     *agent.Loop
}

func (rt *runtime) shutdown() {
	rt.loop.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rt.registry.CleanupAll(ctx)
	if rt.store != nil {
		rt.store.Close()
	}
	rt.bus.Close()
}

func buildRuntime(confirmFn security.ConfirmFunc) (*runtime, error) {
	cfg := loadConfigOrDefaults()
	setupLogger(cfg)

	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}

	messageBus := bus.New(100, logger)
	events := bus.NewEventBus(logger)

	var store *memory.SQLiteStore
	if cfg.Memory.Enabled {
		var err error
		store, err = memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("memory store: %w", err)
		}
		if cfg.Memory.RetentionDays > 0 {
			if err := store.Prune(context.Background(), cfg.Memory.RetentionDays); err != nil {
				logger.Warn("prune failed", "err", err)
			}
		}
	}

	var auditSink security.AuditLogger
	if store != nil {
		auditSink = store
	}
	secEngine, err := security.NewEngine(cfg.Security, confirmFn, auditSink, logger)
	if err != nil {
		return nil, fmt.Errorf("security engine: %w", err)
	}

	registry := registerTools(cfg)

	retryPolicy := tool.DefaultRetryPolicy()
	if cfg.Agent.RetryAttempts > 0 {
		retryPolicy.MaxAttempts = cfg.Agent.RetryAttempts
	}
	retryExec := tool.NewRetryExecutor(registry, retryPolicy, logger)

	var limiter *agent.RateLimiter
	if pc, ok := cfg.Providers[cfg.General.DefaultProvider]; ok && pc.RateLimitPerMin > 0 {
		limiter = agent.NewRateLimiter(pc.RateLimitBurst, float64(pc.RateLimitPerMin))
	}

	orch := agent.NewOrchestrator(agent.OrchestratorConfig{
		Registry:         registry,
		Retry:            retryExec,
		Tracker:          tool.NewTracker(),
		Security:         secEngine,
		Events:           events,
		Limiter:          limiter,
		Logger:           logger,
		MaxToolRounds:    cfg.Agent.MaxToolRounds,
		MaxParallelTools: cfg.Agent.MaxParallelTools,
		MaxContextTokens: cfg.Agent.MaxContextTokens,
	})

	var memStore domain.MemoryStore
	if store != nil {
		memStore = store
	}
	sessions := agent.NewSessionManager(memStore, logger)
	prompt := agent.NewPromptBuilder(cfg.General.Workspace, cfg.General.SystemPromptExtra)
	factory := provider.NewFactory(cfg, logger)

	loop := agent.NewLoop(agent.LoopConfig{
		Bus:             messageBus,
		Events:          events,
		Factory:         factory,
		Orchestrator:    orch,
		Sessions:        sessions,
		Prompt:          prompt,
		Logger:          logger,
		DefaultProvider: cfg.General.DefaultProvider,
		MaxConcurrent:   cfg.Agent.MaxParallelTools,
	})

	return &runtime{
		cfg:      cfg,
		bus:      messageBus,
		store:    store,
		registry: registry,
		sessions: sessions,
		loop:     loop,
	}, nil
}

// registerTools builds the registry with every built-in tool plus discovered
// external descriptors.
func registerTools(cfg *config.Config) *tool.Registry {
	registry := tool.NewRegistry(logger)
	register := func(def *tool.Definition) {
		if err := registry.Register(def); err != nil {
			logger.Warn("tool registration failed", "tool", def.ID, "err", err)
		}
	}

	ws := cfg.General.Workspace
	register(tool.NewShellTool(tool.ShellConfig{
		WorkingDir:     ws,
		TimeoutSeconds: cfg.Tools.Shell.Timeout,
		MaxOutputBytes: cfg.Tools.Shell.MaxOutputBytes,
	}))
	register(tool.NewReadFileTool(ws))
	register(tool.NewWriteFileTool(ws))
	register(tool.NewListDirTool(ws))
	register(tool.NewFileSearchTool(ws))
	register(tool.NewWebSearchTool())
	register(tool.NewWebFetchTool())
	register(tool.NewSysInfoTool())

	if cfg.Tools.Browser.Enabled {
		bridge := browser.NewBridge(browser.BridgeConfig{
			ProfileDir: cfg.Tools.Browser.ProfileDir,
			Headless:   cfg.Tools.Browser.Headless,
			Timeout:    60 * time.Second,
			Logger:     logger,
		})
		register(tool.NewWebPageTool(bridge))
	}

	if cfg.Tools.Discovery.Enabled && cfg.Tools.Discovery.Dir != "" {
		n, err := tool.Discover(cfg.Tools.Discovery.Dir, registry, logger)
		if err != nil {
			logger.Warn("tool discovery failed", "dir", cfg.Tools.Discovery.Dir, "err", err)
		} else if n > 0 {
			logger.Info("discovered external tools", "count", n)
		}
	}

	return registry
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()
			registry := registerTools(cfg)
			defer registry.CleanupAll(context.Background())
			fmt.Println(renderToolList(registry))
			return nil
		},
	}
}

func renderToolList(registry *tool.Registry) string {
	defs := registry.List(tool.Filter{})
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	var sb strings.Builder
	for _, d := range defs {
		marker := " "
		if d.Destructive() {
			marker = "!"
		}
		fmt.Fprintf(&sb, "%s %-14s %-10s %s\n", marker, d.ID, d.Category, d.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show provider and config status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				fmt.Printf("config: %s (not loaded: %v)\n", cfgPath, err)
				cfg = config.Defaults()
			} else {
				fmt.Printf("config: %s\n", cfgPath)
			}
			fmt.Printf("default provider: %s\n", cfg.General.DefaultProvider)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			factory := provider.NewFactory(cfg, logger)
			for name, checkErr := range factory.HealthCheck(ctx) {
				if checkErr != nil {
					fmt.Printf("provider %s: unhealthy (%v)\n", name, checkErr)
				} else {
					fmt.Printf("provider %s: healthy\n", name)
				}
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("termbot " + version)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. general.defaultProvider)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. general.defaultProvider ollama)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
