// Package research exposes network lookup tools: web search and file
// download.
package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"coco/internal/logging"
	"coco/internal/tools"
)

// SearchResult is one parsed web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// maxSearchResults caps results regardless of what the LLM asks for.
const maxSearchResults = 30

// SearchWebTool searches the web via the DuckDuckGo HTML endpoint. No API
// key required.
func SearchWebTool(client *http.Client) *tools.Tool {
	if client == nil {
		client = http.DefaultClient
	}
	return &tools.Tool{
		Name:        "search_web",
		Description: "Search the web and return titles, URLs, and snippets",
		Category:    tools.CategoryResearch,
		Schema: tools.Schema{
			Required: []string{"query"},
			Properties: map[string]tools.Property{
				"query":       {Type: "string", Description: "The search query"},
				"max_results": {Type: "integer", Description: "Maximum results to return (default 10)", Default: 10},
			},
		},
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			query, _ := input["query"].(string)
			if strings.TrimSpace(query) == "" {
				return "", fmt.Errorf("%w: empty query", tools.ErrInvalidInput)
			}
			maxResults := 10
			if f, ok := input["max_results"].(float64); ok && f > 0 {
				maxResults = int(f)
			}
			if maxResults > maxSearchResults {
				maxResults = maxSearchResults
			}

			results, err := searchDuckDuckGo(ctx, client, query, maxResults)
			if err != nil {
				return "", fmt.Errorf("%w: search: %v", tools.ErrExternalFailure, err)
			}
			logging.Tools("search_web: %q -> %d results", query, len(results))
			if len(results) == 0 {
				return "No results found for: " + query, nil
			}
			return FormatResults(query, results), nil
		},
	}
}

// FormatResults renders search hits as the markdown block fed back to the
// LLM.
func FormatResults(query string, results []SearchResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q:\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Snippet)
		}
	}
	return sb.String()
}

func searchDuckDuckGo(ctx context.Context, client *http.Client, query string, maxResults int) ([]SearchResult, error) {
	searchURL := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &tools.RateLimitError{Service: "duckduckgo", RetryAfter: 0}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return ParseDuckDuckGoResults(string(body), maxResults), nil
}

// ParseDuckDuckGoResults extracts search hits from DuckDuckGo's HTML search
// page. Results carry class "result" within "results_links" containers.
func ParseDuckDuckGoResults(htmlContent string, maxResults int) []SearchResult {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil
	}

	var results []SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			class := attrValue(n, "class")
			if strings.Contains(class, "result") && strings.Contains(class, "results_links") {
				if r := extractResult(n); r.URL != "" && r.Title != "" {
					results = append(results, r)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results
}

func extractResult(n *html.Node) SearchResult {
	var result SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			class := attrValue(n, "class")
			if strings.Contains(class, "result__a") {
				result.URL = cleanRedirect(attrValue(n, "href"))
				result.Title = textContent(n)
			} else if strings.Contains(class, "result__snippet") {
				result.Snippet = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return result
}

// cleanRedirect unwraps DuckDuckGo's redirect URLs to the real target.
func cleanRedirect(raw string) string {
	if !strings.HasPrefix(raw, "//duckduckgo.com/l/?uddg=") {
		return raw
	}
	decoded, err := url.QueryUnescape(strings.TrimPrefix(raw, "//duckduckgo.com/l/?uddg="))
	if err != nil {
		return raw
	}
	if idx := strings.Index(decoded, "&"); idx > 0 {
		decoded = decoded[:idx]
	}
	return decoded
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
