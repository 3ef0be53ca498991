package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"termbot/internal/domain"
)

// Manifest indexes a tools directory. Each entry points at a YAML descriptor
// relative to the manifest's directory.
type Manifest struct {
	Version   int            `json:"version"`
	Generated time.Time      `json:"generated"`
	Tools     []ManifestTool `json:"tools"`
}

type ManifestTool struct {
	ID     string `json:"id"`
	Module string `json:"module"`
}

// Descriptor is the YAML shape of a discovered external tool. The command is
// run as a subprocess with arguments delivered as JSON on stdin; stdout is
// the tool's output.
type Descriptor struct {
	ID           string           `yaml:"id"`
	Name         string           `yaml:"name"`
	Description  string           `yaml:"description"`
	Category     string           `yaml:"category"`
	Tags         []string         `yaml:"tags"`
	Capabilities []string         `yaml:"capabilities"`
	Command      []string         `yaml:"command"`
	TimeoutSecs  int              `yaml:"timeout_seconds"`
	Arguments    []DescriptorArg  `yaml:"arguments"`
	Examples     []DescriptorExam `yaml:"examples"`
}

type DescriptorArg struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	Default     any    `yaml:"default"`
	Enum        []any  `yaml:"enum"`
}

type DescriptorExam struct {
	Description string         `yaml:"description"`
	Arguments   map[string]any `yaml:"arguments"`
}

// Discover reads manifest.json in dir and registers every listed tool whose
// descriptor parses. Malformed entries are logged and skipped so one broken
// descriptor cannot take the whole tool set down. A missing directory or
// manifest is not an error.
func Discover(dir string, reg *Registry, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	manifestPath := filepath.Join(dir, "manifest.json")
	data, err := os.ReadFile(manifestPath)
	if os.IsNotExist(err) {
		logger.Debug("no tool manifest, skipping discovery", "dir", dir)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read tool manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return 0, fmt.Errorf("parse tool manifest: %w", err)
	}

	loaded := 0
	for _, mt := range m.Tools {
		path := filepath.Join(dir, mt.Module)
		def, err := loadDescriptor(path)
		if err != nil {
			logger.Warn("skipping tool descriptor", "id", mt.ID, "path", path, "err", err)
			continue
		}
		if mt.ID != "" && mt.ID != def.ID {
			logger.Warn("skipping tool descriptor", "id", mt.ID, "path", path,
				"err", "manifest id does not match descriptor id")
			continue
		}
		if err := reg.Register(def); err != nil {
			logger.Warn("skipping discovered tool", "id", def.ID, "err", err)
			continue
		}
		logger.Info("discovered external tool", "id", def.ID, "path", path)
		loaded++
	}
	return loaded, nil
}

func loadDescriptor(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var desc Descriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(desc.Command) == 0 {
		return nil, fmt.Errorf("descriptor %q has no command", desc.ID)
	}
	if desc.Name == "" {
		desc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	b := NewBuilder(desc.ID).
		Name(desc.Name).
		Description(desc.Description).
		Category(orDefault(desc.Category, "external")).
		Tags(desc.Tags...).
		Execute(subprocessExecutor(desc))
	for _, c := range desc.Capabilities {
		b.Capability(domain.Capability(c))
	}
	for _, a := range desc.Arguments {
		b.Argument(ArgumentSpec{
			Name:        a.Name,
			Type:        ArgumentType(orDefault(a.Type, string(TypeString))),
			Description: a.Description,
			Required:    a.Required,
			Default:     a.Default,
			Enum:        a.Enum,
		})
	}
	for _, ex := range desc.Examples {
		b.Example(ex.Description, ex.Arguments)
	}
	return b.Build()
}

// subprocessExecutor runs the descriptor's command with the call arguments
// as a JSON object on stdin. External tools run out of process so a
// misbehaving one cannot crash the agent.
func subprocessExecutor(desc Descriptor) ExecuteFunc {
	timeout := time.Duration(desc.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
		payload, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encode arguments: %w", err)
		}
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(cctx, desc.Command[0], desc.Command[1:]...)
		cmd.Stdin = bytes.NewReader(payload)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = err.Error()
			}
			if cctx.Err() == context.DeadlineExceeded {
				msg = fmt.Sprintf("timed out after %s: %s", timeout, msg)
			}
			return domain.Fail(domain.KindExecution, msg), nil
		}
		return domain.Ok(strings.TrimSpace(stdout.String())), nil
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
