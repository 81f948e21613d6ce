// Package social exposes the Twitter posting tool. The provider API is an
// external collaborator reached over HTTP; credentials come from the
// environment.
package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"coco/internal/logging"
	"coco/internal/tools"
)

const (
	envBearer   = "COCO_TWITTER_BEARER"
	envEndpoint = "COCO_TWITTER_ENDPOINT"

	defaultEndpoint = "https://api.twitter.com/2/tweets"
	maxTweetRunes   = 280
)

// Available reports whether Twitter credentials are configured.
func Available() bool {
	return os.Getenv(envBearer) != ""
}

func endpoint() string {
	if v := os.Getenv(envEndpoint); v != "" {
		return v
	}
	return defaultEndpoint
}

// PostTweetTool posts a tweet, optionally as a reply. Outward-facing:
// autonomous invocations go through the approval outbox.
func PostTweetTool(client *http.Client) *tools.Tool {
	if client == nil {
		client = http.DefaultClient
	}
	return &tools.Tool{
		Name:             "post_tweet",
		Description:      "Post a tweet, optionally replying to another tweet",
		Category:         tools.CategorySocial,
		Available:        Available,
		RequiresApproval: true,
		Schema: tools.Schema{
			Required: []string{"text"},
			Properties: map[string]tools.Property{
				"text":        {Type: "string", Description: "Tweet text, up to 280 characters"},
				"reply_to_id": {Type: "string", Description: "Tweet id to reply to"},
			},
		},
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			text, _ := input["text"].(string)
			if strings.TrimSpace(text) == "" {
				return "", fmt.Errorf("%w: empty tweet", tools.ErrInvalidInput)
			}
			if n := len([]rune(text)); n > maxTweetRunes {
				return "", fmt.Errorf("%w: tweet is %d characters, max %d", tools.ErrInvalidInput, n, maxTweetRunes)
			}

			body := map[string]any{"text": text}
			if replyTo, _ := input["reply_to_id"].(string); replyTo != "" {
				body["reply"] = map[string]any{"in_reply_to_tweet_id": replyTo}
			}
			payload, _ := json.Marshal(body)

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(), strings.NewReader(string(payload)))
			if err != nil {
				return "", fmt.Errorf("%w: %v", tools.ErrInternal, err)
			}
			req.Header.Set("Authorization", "Bearer "+os.Getenv(envBearer))
			req.Header.Set("Content-Type", "application/json")

			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("%w: twitter: %v", tools.ErrExternalFailure, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusTooManyRequests {
				return "", &tools.RateLimitError{Service: "twitter", RetryAfter: 15 * time.Minute}
			}
			if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
				return "", fmt.Errorf("%w: twitter HTTP %d", tools.ErrExternalFailure, resp.StatusCode)
			}

			var out struct {
				Data struct {
					ID string `json:"id"`
				} `json:"data"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return "", fmt.Errorf("%w: malformed twitter response", tools.ErrExternalFailure)
			}
			logging.Tools("post_tweet: id=%s (%d chars)", out.Data.ID, len([]rune(text)))
			return fmt.Sprintf("Tweet posted (id %s)", out.Data.ID), nil
		},
	}
}

// RegisterAll registers the social tools.
func RegisterAll(registry *tools.Registry, client *http.Client) error {
	return registry.Register(PostTweetTool(client))
}
