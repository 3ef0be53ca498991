package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"termbot/internal/domain"
)

// resolvePath resolves a path relative to the workspace and rejects escapes.
func resolvePath(workspace, path string) (string, error) {
	path = strings.TrimSpace(path)
	if !filepath.IsAbs(path) && workspace != "" {
		path = filepath.Join(workspace, path)
	}
	resolved, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if workspace != "" {
		wsAbs, err := filepath.Abs(workspace)
		if err != nil {
			return "", fmt.Errorf("resolve workspace: %w", err)
		}
		if !strings.HasPrefix(resolved, wsAbs+string(filepath.Separator)) && resolved != wsAbs {
			return "", fmt.Errorf("path %q is outside workspace %q", resolved, wsAbs)
		}
	}
	return resolved, nil
}

// NewReadFileTool reads a file inside the workspace.
func NewReadFileTool(workspace string) *Definition {
	return NewBuilder("read_file").
		Description("Read the contents of a file. Provide the file path relative to workspace or absolute.").
		Category("filesystem").
		Tags("file", "read").
		Capability(domain.CapFileRead).
		Composable().
		RequiredString("path", "File path to read (relative to workspace or absolute)").
		Example("read the project readme", map[string]any{"path": "README.md"}).
		Execute(func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
			resolved, err := resolvePath(workspace, args["path"].(string))
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				return nil, fmt.Errorf("read file: %w", err)
			}
			return domain.Ok(string(data)), nil
		}).
		MustBuild()
}

// NewWriteFileTool writes content to a file, creating parent directories.
func NewWriteFileTool(workspace string) *Definition {
	return NewBuilder("write_file").
		Description("Write content to a file. Creates the file if it does not exist; overwrites if it exists.").
		Category("filesystem").
		Tags("file", "write").
		Capability(domain.CapFileWrite).
		RequiredString("path", "File path to write (relative to workspace or absolute)").
		RequiredString("content", "Content to write to the file").
		Execute(func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
			content := args["content"].(string)
			resolved, err := resolvePath(workspace, args["path"].(string))
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
				return nil, fmt.Errorf("create directory: %w", err)
			}
			if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
				return nil, fmt.Errorf("write file: %w", err)
			}
			return domain.Ok(fmt.Sprintf("Wrote %d bytes to %s", len(content), resolved)), nil
		}).
		MustBuild()
}

// NewListDirTool lists a directory inside the workspace.
func NewListDirTool(workspace string) *Definition {
	return NewBuilder("list_dir").
		Description("List files and directories at the given path. Use '.' or empty for current directory.").
		Category("filesystem").
		Tags("file", "list").
		Capability(domain.CapFileRead).
		Composable().
		OptionalString("path", "Directory path to list (use '.' for current directory)", ".").
		Execute(func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
			resolved, err := resolvePath(workspace, args["path"].(string))
			if err != nil {
				return nil, err
			}
			entries, err := os.ReadDir(resolved)
			if err != nil {
				return nil, fmt.Errorf("list dir: %w", err)
			}
			var lines []string
			for _, e := range entries {
				info, err := e.Info()
				size := ""
				if err == nil && info != nil && !e.IsDir() {
					size = fmt.Sprintf(" %d", info.Size())
				}
				lines = append(lines, e.Name()+size)
			}
			return domain.Ok(strings.Join(lines, "\n")), nil
		}).
		MustBuild()
}
