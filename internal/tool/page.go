package tool

import (
	"context"
	"fmt"
	"net/url"

	"termbot/internal/browser"
	"termbot/internal/domain"
)

// NewWebPageTool renders a page in headless Chrome and returns its visible
// text. Heavier than web_fetch but works on client-rendered sites.
func NewWebPageTool(bridge *browser.Bridge) *Definition {
	return NewBuilder("web_page").
		Description("Render a web page in a headless browser and return its visible text. Use when web_fetch returns empty or script-only content.").
		Category("web").
		Tags("web", "browser").
		Capability(domain.CapNetworkAccess).
		Composable().
		RequiredString("url", "Full URL to render (must start with http:// or https://)").
		Argument(ArgumentSpec{
			Name:        "screenshot_path",
			Type:        TypeString,
			Description: "If set, also save a full-page PNG screenshot to this path",
		}).
		Execute(func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
			rawURL := args["url"].(string)
			parsed, err := url.Parse(rawURL)
			if err != nil {
				return nil, fmt.Errorf("invalid URL: %w", err)
			}
			if parsed.Scheme != "http" && parsed.Scheme != "https" {
				return nil, fmt.Errorf("unsupported URL scheme: %s (only http/https allowed)", parsed.Scheme)
			}
			text, err := bridge.RenderText(ctx, rawURL)
			if err != nil {
				return nil, err
			}
			if len(text) > fetchMaxOutput {
				text = text[:fetchMaxOutput] + "\n... (truncated)"
			}
			if shot, _ := args["screenshot_path"].(string); shot != "" {
				if err := bridge.Screenshot(ctx, rawURL, shot); err != nil {
					text += "\n(screenshot failed: " + err.Error() + ")"
				} else {
					text += "\n(screenshot saved to " + shot + ")"
				}
			}
			return domain.Ok(text), nil
		}).
		MustBuild()
}
