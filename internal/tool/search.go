package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"termbot/internal/domain"
)

const (
	searchTimeout   = 15 * time.Second
	fetchMaxBytes   = 100 * 1024 // 100KB
	fetchMaxOutput  = 10000
	userAgentString = "TermBot/0.1"
)

// NewWebSearchTool searches the web using the DuckDuckGo Instant Answer API.
func NewWebSearchTool() *Definition {
	client := &http.Client{Timeout: searchTimeout}
	return NewBuilder("web_search").
		Description("Search the web for information. Returns a summary of search results. Use for current events, facts, or anything you're unsure about.").
		Category("web").
		Tags("web", "search").
		Capability(domain.CapNetworkAccess).
		Composable().
		RequiredString("query", "Search query to look up on the web").
		Execute(func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
			query := args["query"].(string)
			endpoint := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1&skip_disambig=1",
				url.QueryEscape(query))
			req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("User-Agent", userAgentString)
			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("search request failed: %w", err)
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("read response: %w", err)
			}
			var ddg ddgResponse
			if err := json.Unmarshal(body, &ddg); err != nil {
				return nil, fmt.Errorf("parse response: %w", err)
			}

			var results []string
			if ddg.Abstract != "" {
				results = append(results, fmt.Sprintf("## %s\n%s\nSource: %s", ddg.Heading, ddg.Abstract, ddg.AbstractURL))
			}
			if ddg.Answer != "" {
				results = append(results, fmt.Sprintf("Answer: %s", ddg.Answer))
			}
			for i, topic := range ddg.RelatedTopics {
				if i >= 5 {
					break
				}
				if topic.Text != "" {
					results = append(results, "- "+topic.Text)
				}
			}
			if len(results) == 0 {
				return domain.Ok(fmt.Sprintf("No instant results found for: %s. Try a more specific query.", query)), nil
			}
			return domain.Ok(strings.Join(results, "\n\n")), nil
		}).
		MustBuild()
}

// NewWebFetchTool fetches the text content of a URL.
func NewWebFetchTool() *Definition {
	client := &http.Client{Timeout: searchTimeout}
	return NewBuilder("web_fetch").
		Description("Fetch the content of a web page by URL. Returns the text content (HTML stripped). Useful for reading articles, documentation, etc.").
		Category("web").
		Tags("web", "fetch").
		Capability(domain.CapNetworkAccess).
		Composable().
		RequiredString("url", "Full URL to fetch (must start with http:// or https://)").
		Execute(func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
			rawURL := args["url"].(string)
			// Scheme check guards against SSRF via file:// and friends.
			parsed, err := url.Parse(rawURL)
			if err != nil {
				return nil, fmt.Errorf("invalid URL: %w", err)
			}
			if parsed.Scheme != "http" && parsed.Scheme != "https" {
				return nil, fmt.Errorf("unsupported URL scheme: %s (only http/https allowed)", parsed.Scheme)
			}
			req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
			if err != nil {
				return nil, fmt.Errorf("new request: %w", err)
			}
			req.Header.Set("User-Agent", userAgentString)
			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetch failed: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
			}
			body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBytes))
			if err != nil {
				return nil, fmt.Errorf("read body: %w", err)
			}
			text := stripHTMLTags(string(body))
			if len(text) > fetchMaxOutput {
				text = text[:fetchMaxOutput] + "\n... (truncated)"
			}
			return domain.Ok(text), nil
		}).
		MustBuild()
}

// NewFileSearchTool finds files by name pattern under the workspace.
func NewFileSearchTool(workspace string) *Definition {
	return NewBuilder("file_search").
		Description("Find files under the workspace whose name matches a glob pattern, e.g. '*.go' or 'config*'.").
		Category("filesystem").
		Tags("file", "search").
		Capability(domain.CapFileRead).
		Composable().
		RequiredString("pattern", "Glob pattern matched against file names").
		Argument(ArgumentSpec{Name: "limit", Type: TypeNumber, Description: "Maximum results to return", Default: float64(50)}).
		Execute(func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
			pattern := args["pattern"].(string)
			limit := int(args["limit"].(float64))
			root := workspace
			if root == "" {
				root = "."
			}
			var hits []string
			err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if d.IsDir() {
					if strings.HasPrefix(d.Name(), ".") && path != root {
						return filepath.SkipDir
					}
					return nil
				}
				if ok, _ := filepath.Match(pattern, d.Name()); ok {
					rel, rerr := filepath.Rel(root, path)
					if rerr != nil {
						rel = path
					}
					hits = append(hits, rel)
					if len(hits) >= limit {
						return filepath.SkipAll
					}
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("walk workspace: %w", err)
			}
			if len(hits) == 0 {
				return domain.Ok("no files matched " + pattern), nil
			}
			return domain.Ok(strings.Join(hits, "\n")), nil
		}).
		MustBuild()
}

// stripHTMLTags removes HTML tags from a string (simple approach).
func stripHTMLTags(s string) string {
	var result strings.Builder
	inTag := false
	for _, r := range s {
		if r == '<' {
			inTag = true
			continue
		}
		if r == '>' {
			inTag = false
			continue
		}
		if !inTag {
			result.WriteRune(r)
		}
	}
	lines := strings.Split(result.String(), "\n")
	var cleaned []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}

type ddgResponse struct {
	Abstract      string     `json:"Abstract"`
	AbstractURL   string     `json:"AbstractURL"`
	Heading       string     `json:"Heading"`
	Answer        string     `json:"Answer"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

type ddgTopic struct {
	Text     string `json:"Text"`
	FirstURL string `json:"FirstURL"`
}
