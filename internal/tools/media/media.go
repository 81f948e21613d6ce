// Package media exposes image and video generation tools. The actual
// generation backends are external; these handlers call a provider endpoint
// keyed by COCO_MEDIA_API_KEY and save the asset under the workspace.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"coco/internal/logging"
	"coco/internal/tools"
)

const (
	envAPIKey   = "COCO_MEDIA_API_KEY"
	envEndpoint = "COCO_MEDIA_ENDPOINT"
)

// Available reports whether a media generation backend is configured.
func Available() bool {
	return os.Getenv(envAPIKey) != "" && os.Getenv(envEndpoint) != ""
}

// Config carries the workspace root and HTTP client for asset downloads.
type Config struct {
	Workspace string
	Client    *http.Client
}

func (c Config) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

// generate calls the provider and saves the returned asset. The provider
// contract: POST {prompt, kind} with bearer auth, response {url} pointing at
// the rendered asset.
func generate(ctx context.Context, cfg Config, kind, prompt, ext string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"prompt": prompt, "kind": kind})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, os.Getenv(envEndpoint), strings.NewReader(string(payload)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", tools.ErrInternal, err)
	}
	req.Header.Set("Authorization", "Bearer "+os.Getenv(envAPIKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := cfg.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: media provider: %v", tools.ErrExternalFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &tools.RateLimitError{Service: "media", RetryAfter: time.Minute}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: media provider HTTP %d", tools.ErrExternalFailure, resp.StatusCode)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.URL == "" {
		return "", fmt.Errorf("%w: malformed provider response", tools.ErrExternalFailure)
	}

	assetReq, err := http.NewRequestWithContext(ctx, http.MethodGet, out.URL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", tools.ErrExternalFailure, err)
	}
	assetResp, err := cfg.client().Do(assetReq)
	if err != nil {
		return "", fmt.Errorf("%w: asset fetch: %v", tools.ErrExternalFailure, err)
	}
	defer assetResp.Body.Close()

	dir := filepath.Join(cfg.Workspace, "media")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", tools.ErrInternal, err)
	}
	dest := filepath.Join(dir, fmt.Sprintf("%s-%d%s", kind, time.Now().UnixNano(), ext))
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("%w: %v", tools.ErrInternal, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, assetResp.Body); err != nil {
		return "", fmt.Errorf("%w: save asset: %v", tools.ErrExternalFailure, err)
	}

	logging.Tools("generated %s asset: %s", kind, dest)
	return dest, nil
}

// GenerateImageTool renders an image from a prompt.
func GenerateImageTool(cfg Config) *tools.Tool {
	return &tools.Tool{
		Name:        "generate_image",
		Description: "Generate an image from a text prompt",
		Category:    tools.CategoryMedia,
		Available:   Available,
		Timeout:     2 * time.Minute,
		Schema: tools.Schema{
			Required: []string{"prompt"},
			Properties: map[string]tools.Property{
				"prompt": {Type: "string", Description: "What to render"},
			},
		},
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			prompt, _ := input["prompt"].(string)
			dest, err := generate(ctx, cfg, "image", prompt, ".png")
			if err != nil {
				return "", err
			}
			return "Image saved to " + dest, nil
		},
	}
}

// GenerateVideoTool renders a short video from a prompt.
func GenerateVideoTool(cfg Config) *tools.Tool {
	return &tools.Tool{
		Name:        "generate_video",
		Description: "Generate a short video from a text prompt",
		Category:    tools.CategoryMedia,
		Available:   Available,
		Timeout:     5 * time.Minute,
		Schema: tools.Schema{
			Required: []string{"prompt"},
			Properties: map[string]tools.Property{
				"prompt": {Type: "string", Description: "What the video should show"},
			},
		},
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			prompt, _ := input["prompt"].(string)
			dest, err := generate(ctx, cfg, "video", prompt, ".mp4")
			if err != nil {
				return "", err
			}
			return "Video saved to " + dest, nil
		},
	}
}

// RegisterAll registers the media tools.
func RegisterAll(registry *tools.Registry, cfg Config) error {
	for _, tool := range []*tools.Tool{GenerateImageTool(cfg), GenerateVideoTool(cfg)} {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
