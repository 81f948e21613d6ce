package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"coco/internal/logging"
	"coco/internal/tools"
)

// Config wires the workspace root into handlers. Relative paths in tool
// inputs resolve against the workspace.
type Config struct {
	Workspace string
}

func (c Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Workspace, path)
}

// argString fetches a string input; inputs have passed schema validation so
// a present key has the right type.
func argString(input map[string]any, key string) string {
	v, _ := input[key].(string)
	return v
}

// argInt fetches an integer input. JSON decoding yields float64.
func argInt(input map[string]any, key string) (int, bool) {
	if f, ok := input[key].(float64); ok {
		return int(f), true
	}
	return 0, false
}

// ReadFileTool reads file contents, optionally a line range.
func ReadFileTool(cfg Config) *tools.Tool {
	return &tools.Tool{
		Name:        "read_file",
		Description: "Read the contents of a file",
		Category:    tools.CategoryCore,
		Schema: tools.Schema{
			Required: []string{"path"},
			Properties: map[string]tools.Property{
				"path":       {Type: "string", Description: "The file path to read"},
				"start_line": {Type: "integer", Description: "Starting line number (1-indexed, optional)"},
				"end_line":   {Type: "integer", Description: "Ending line number (inclusive, optional)"},
			},
		},
		Handler: func(_ context.Context, input map[string]any) (string, error) {
			path := cfg.resolve(argString(input, "path"))
			content, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("%w: failed to read %s: %v", tools.ErrInvalidInput, path, err)
			}
			result := string(content)

			start, hasStart := argInt(input, "start_line")
			end, hasEnd := argInt(input, "end_line")
			if hasStart || hasEnd {
				lines := strings.Split(result, "\n")
				if !hasStart || start < 1 {
					start = 1
				}
				if !hasEnd || end > len(lines) {
					end = len(lines)
				}
				if start > end {
					return "", fmt.Errorf("%w: start_line %d beyond end_line %d", tools.ErrInvalidInput, start, end)
				}
				result = strings.Join(lines[start-1:end], "\n")
			}
			logging.Tools("read_file: %s (%d bytes)", path, len(result))
			return result, nil
		},
	}
}

// WriteFileTool writes content to a file, creating parent directories.
func WriteFileTool(cfg Config) *tools.Tool {
	return &tools.Tool{
		Name:        "write_file",
		Description: "Write content to a file, creating it if it doesn't exist",
		Category:    tools.CategoryCore,
		Schema: tools.Schema{
			Required: []string{"path", "content"},
			Properties: map[string]tools.Property{
				"path":    {Type: "string", Description: "The file path to write"},
				"content": {Type: "string", Description: "The content to write"},
			},
		},
		Handler: func(_ context.Context, input map[string]any) (string, error) {
			path := cfg.resolve(argString(input, "path"))
			content := argString(input, "content")
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return "", fmt.Errorf("%w: create directories: %v", tools.ErrInternal, err)
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return "", fmt.Errorf("%w: write %s: %v", tools.ErrInternal, path, err)
			}
			logging.Tools("write_file: %s (%d bytes)", path, len(content))
			return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
		},
	}
}

// ListDirTool lists a directory's entries.
func ListDirTool(cfg Config) *tools.Tool {
	return &tools.Tool{
		Name:        "list_dir",
		Description: "List files in a directory",
		Category:    tools.CategoryCore,
		Schema: tools.Schema{
			Required: []string{"path"},
			Properties: map[string]tools.Property{
				"path":           {Type: "string", Description: "The directory path to list"},
				"include_hidden": {Type: "boolean", Description: "Include hidden files (default false)", Default: false},
			},
		},
		Handler: func(_ context.Context, input map[string]any) (string, error) {
			path := cfg.resolve(argString(input, "path"))
			includeHidden, _ := input["include_hidden"].(bool)

			entries, err := os.ReadDir(path)
			if err != nil {
				return "", fmt.Errorf("%w: read directory %s: %v", tools.ErrInvalidInput, path, err)
			}
			var names []string
			for _, entry := range entries {
				name := entry.Name()
				if !includeHidden && strings.HasPrefix(name, ".") {
					continue
				}
				if entry.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			logging.Tools("list_dir: %s (%d entries)", path, len(names))
			return strings.Join(names, "\n"), nil
		},
	}
}

// UploadFileTool copies a file into the workspace shared/ directory, the
// local stand-in for cloud storage.
func UploadFileTool(cfg Config) *tools.Tool {
	return &tools.Tool{
		Name:        "upload_file",
		Description: "Copy a file into the shared uploads area",
		Category:    tools.CategoryCore,
		Schema: tools.Schema{
			Required: []string{"path"},
			Properties: map[string]tools.Property{
				"path": {Type: "string", Description: "The file to upload"},
			},
		},
		Handler: func(_ context.Context, input map[string]any) (string, error) {
			src := cfg.resolve(argString(input, "path"))
			data, err := os.ReadFile(src)
			if err != nil {
				return "", fmt.Errorf("%w: read %s: %v", tools.ErrInvalidInput, src, err)
			}
			destDir := filepath.Join(cfg.Workspace, "shared")
			if err := os.MkdirAll(destDir, 0o755); err != nil {
				return "", fmt.Errorf("%w: %v", tools.ErrInternal, err)
			}
			dest := filepath.Join(destDir, filepath.Base(src))
			if err := os.WriteFile(dest, data, 0o644); err != nil {
				return "", fmt.Errorf("%w: %v", tools.ErrInternal, err)
			}
			logging.Tools("upload_file: %s -> %s", src, dest)
			return fmt.Sprintf("Uploaded %s to %s", filepath.Base(src), dest), nil
		},
	}
}
