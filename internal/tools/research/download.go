package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"coco/internal/logging"
	"coco/internal/tools"
)

// maxDownloadBytes bounds a single download.
const maxDownloadBytes = 32 << 20

// DownloadFileTool fetches a URL into the workspace downloads/ directory.
func DownloadFileTool(client *http.Client, workspace string) *tools.Tool {
	if client == nil {
		client = http.DefaultClient
	}
	return &tools.Tool{
		Name:        "download_file",
		Description: "Download a URL into the workspace downloads folder",
		Category:    tools.CategoryResearch,
		Schema: tools.Schema{
			Required: []string{"url"},
			Properties: map[string]tools.Property{
				"url":      {Type: "string", Description: "The URL to download"},
				"filename": {Type: "string", Description: "Override the saved filename"},
			},
		},
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			rawURL, _ := input["url"].(string)
			if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
				return "", fmt.Errorf("%w: url must be http(s)", tools.ErrInvalidInput)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return "", fmt.Errorf("%w: %v", tools.ErrInvalidInput, err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("%w: download: %v", tools.ErrExternalFailure, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusTooManyRequests {
				return "", &tools.RateLimitError{Service: "download"}
			}
			if resp.StatusCode != http.StatusOK {
				return "", fmt.Errorf("%w: HTTP %d fetching %s", tools.ErrExternalFailure, resp.StatusCode, rawURL)
			}

			name, _ := input["filename"].(string)
			if name == "" {
				name = path.Base(resp.Request.URL.Path)
			}
			if name == "" || name == "/" || name == "." {
				name = "download"
			}
			name = filepath.Base(name)

			dir := filepath.Join(workspace, "downloads")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("%w: %v", tools.ErrInternal, err)
			}
			dest := filepath.Join(dir, name)
			f, err := os.Create(dest)
			if err != nil {
				return "", fmt.Errorf("%w: %v", tools.ErrInternal, err)
			}
			defer f.Close()

			n, err := io.Copy(f, io.LimitReader(resp.Body, maxDownloadBytes))
			if err != nil {
				return "", fmt.Errorf("%w: copy: %v", tools.ErrExternalFailure, err)
			}
			logging.Tools("download_file: %s (%d bytes) -> %s", rawURL, n, dest)
			return fmt.Sprintf("Downloaded %d bytes to %s", n, dest), nil
		},
	}
}

// RegisterAll registers the research tools.
func RegisterAll(registry *tools.Registry, client *http.Client, workspace string) error {
	for _, tool := range []*tools.Tool{SearchWebTool(client), DownloadFileTool(client, workspace)} {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
