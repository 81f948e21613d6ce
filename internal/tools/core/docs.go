package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"coco/internal/logging"
	"coco/internal/tools"
)

// slugify turns a document title into a safe filename stem.
func slugify(title string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			sb.WriteByte('-')
		}
	}
	slug := strings.Trim(sb.String(), "-")
	if slug == "" {
		slug = time.Now().Format("20060102-150405")
	}
	return slug
}

// CreateDocumentTool writes a markdown document into the workspace docs/
// directory.
func CreateDocumentTool(cfg Config) *tools.Tool {
	return &tools.Tool{
		Name:        "create_document",
		Description: "Create a markdown document in the workspace docs folder",
		Category:    tools.CategoryCore,
		Schema: tools.Schema{
			Required: []string{"title", "content"},
			Properties: map[string]tools.Property{
				"title":   {Type: "string", Description: "Document title"},
				"content": {Type: "string", Description: "Markdown body"},
			},
		},
		Handler: func(_ context.Context, input map[string]any) (string, error) {
			title := argString(input, "title")
			content := argString(input, "content")

			dir := filepath.Join(cfg.Workspace, "docs")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("%w: %v", tools.ErrInternal, err)
			}
			path := filepath.Join(dir, slugify(title)+".md")
			body := fmt.Sprintf("# %s\n\n%s\n", title, content)
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				return "", fmt.Errorf("%w: %v", tools.ErrInternal, err)
			}
			logging.Tools("create_document: %s", path)
			return fmt.Sprintf("Created document %q at %s", title, path), nil
		},
	}
}

// CreateSpreadsheetTool writes rows as CSV into the workspace docs/
// directory.
func CreateSpreadsheetTool(cfg Config) *tools.Tool {
	return &tools.Tool{
		Name:        "create_spreadsheet",
		Description: "Create a CSV spreadsheet in the workspace docs folder",
		Category:    tools.CategoryCore,
		Schema: tools.Schema{
			Required: []string{"title", "rows"},
			Properties: map[string]tools.Property{
				"title": {Type: "string", Description: "Spreadsheet title"},
				"rows": {
					Type:        "array",
					Description: "Rows of comma-separated values",
					Items:       &tools.Items{Type: "string"},
				},
			},
		},
		Handler: func(_ context.Context, input map[string]any) (string, error) {
			title := argString(input, "title")
			rawRows, _ := input["rows"].([]any)
			if len(rawRows) == 0 {
				return "", fmt.Errorf("%w: rows must not be empty", tools.ErrInvalidInput)
			}

			var sb strings.Builder
			for _, r := range rawRows {
				row, _ := r.(string)
				sb.WriteString(row)
				sb.WriteByte('\n')
			}

			dir := filepath.Join(cfg.Workspace, "docs")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("%w: %v", tools.ErrInternal, err)
			}
			path := filepath.Join(dir, slugify(title)+".csv")
			if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
				return "", fmt.Errorf("%w: %v", tools.ErrInternal, err)
			}
			logging.Tools("create_spreadsheet: %s (%d rows)", path, len(rawRows))
			return fmt.Sprintf("Created spreadsheet %q with %d rows at %s", title, len(rawRows), path), nil
		},
	}
}
