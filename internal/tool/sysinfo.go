package tool

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"termbot/internal/domain"
)

var startTime = time.Now()

// NewSysInfoTool reports host and process information. Takes no arguments.
func NewSysInfoTool() *Definition {
	return NewBuilder("system_info").
		Description("Get system information: OS, CPU cores, process memory, working directory, and uptime.").
		Category("system").
		Tags("system", "info").
		Composable().
		Execute(func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
			hostname, _ := os.Hostname()
			cwd, _ := os.Getwd()

			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)

			info := []string{
				"=== System Information ===",
				fmt.Sprintf("Hostname: %s", hostname),
				fmt.Sprintf("OS: %s/%s", runtime.GOOS, runtime.GOARCH),
				fmt.Sprintf("Logical Cores: %d", runtime.NumCPU()),
				"",
				"=== Process ===",
				fmt.Sprintf("Alloc: %.1f MB", float64(mem.Alloc)/1024/1024),
				fmt.Sprintf("Sys: %.1f MB", float64(mem.Sys)/1024/1024),
				fmt.Sprintf("Goroutines: %d", runtime.NumGoroutine()),
				fmt.Sprintf("Go: %s", runtime.Version()),
				"",
				"=== Runtime ===",
				fmt.Sprintf("Working Dir: %s", cwd),
				fmt.Sprintf("Time: %s", time.Now().Format(time.RFC3339)),
				fmt.Sprintf("Uptime: %.0f seconds", time.Since(startTime).Seconds()),
			}
			return domain.Ok(strings.Join(info, "\n")), nil
		}).
		MustBuild()
}
