package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"

	"github.com/ccrvlh/codey-sub000/internal/engine"
	"github.com/ccrvlh/codey-sub000/internal/parser"
)

const maxSiteBytes = 4 << 20

// runInspectSite fetches a page and returns its readable text content so the
// model can consult documentation without a browser.
func (tb *Table) runInspectSite(ctx context.Context, task *engine.Task, params map[parser.ParamName]string) (string, error) {
	raw := strings.TrimSpace(params[parser.ParamURL])
	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return "", fmt.Errorf("invalid url %q: must be http or https", raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := tb.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", raw, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %s", raw, resp.Status)
	}

	body := io.LimitReader(resp.Body, maxSiteBytes)
	article, err := readability.FromReader(body, target)
	if err != nil {
		return "", fmt.Errorf("extract content from %s: %w", raw, err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("no readable content at %s", raw)
	}
	if article.Title != "" {
		text = article.Title + "\n\n" + text
	}
	return text, nil
}
