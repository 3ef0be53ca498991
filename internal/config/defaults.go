package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace:       "~/.termbot/workspace",
			LogLevel:        "info",
			DefaultProvider: "ollama",
		},
		Providers: map[string]ProviderConfig{
			"ollama": {
				Enabled:      true,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
			"openai": {
				Enabled:         false,
				APIBase:         "https://api.openai.com/v1",
				APIKey:          "${OPENAI_API_KEY}",
				DefaultModel:    "gpt-4o-mini",
				RateLimitPerMin: 60,
				RateLimitBurst:  10,
			},
		},
		Agent: AgentConfig{
			MaxToolRounds:    10,
			MaxParallelTools: 4,
			MaxContextTokens: 8192,
			RetryAttempts:    3,
		},
		Memory: MemoryConfig{
			Enabled:                   true,
			DBPath:                    "~/.termbot/memory.db",
			MaxHistoryPerConversation: 100,
			RetentionDays:             365,
		},
		Security: SecurityConfig{
			DefaultPolicy:         "ask",
			Blacklist:             defaultBlacklist(),
			Whitelist:             defaultWhitelist(),
			ConfirmPatterns:       defaultConfirmPatterns(),
			ConfirmTimeoutSeconds: 60,
			AuditLog:              true,
		},
		Tools: ToolsConfig{
			Shell: ShellToolConfig{
				Timeout:        30,
				MaxOutputBytes: 65536,
			},
			Browser: BrowserToolConfig{
				Enabled:  false,
				Headless: true,
			},
			Discovery: DiscoveryConfig{
				Enabled: true,
				Dir:     "~/.termbot/tools",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func defaultBlacklist() []string {
	return []string{
		"rm -rf /",
		"rm -rf /*",
		"mkfs",
		"dd if=",
		":(){:|:&};:",
		"chmod -R 777 /",
		"mv /* /dev/null",
	}
}

func defaultWhitelist() []string {
	return []string{
		"ls", "cat", "echo", "pwd", "date", "whoami",
		"git status", "git log", "git diff", "git branch",
		"go version", "go env",
		"uname", "uptime", "df -h", "free -h",
	}
}

func defaultConfirmPatterns() []string {
	return []string{
		"rm ", "sudo ", "kill ", "killall ",
		"chmod ", "chown ", "curl ", "wget ",
		"> /", "systemctl ", "shutdown", "reboot",
	}
}
