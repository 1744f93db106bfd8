package builtin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/voxtail/voxtail/internal/tool"
	"github.com/voxtail/voxtail/pkg/types"
)

const (
	scrapeTimeout   = 10 * time.Second
	scrapeUserAgent = "Mozilla/5.0 (compatible; Voxtail/1.0)"

	// maxPageBytes bounds how much of the response body is parsed.
	maxPageBytes = 2 << 20

	// maxPageRunes caps extracted text handed back to the model.
	maxPageRunes = 50000

	maxHeadings = 10
	maxLinks    = 20

	truncationMark = "... [Content truncated]"
)

var _ tool.Tool = (*ScrapeTool)(nil)

// ScrapeTool fetches a web page and extracts its readable text, so the model
// can answer from actual page content instead of search snippets. Failures
// surface as bilingual strings the model can relay verbatim.
type ScrapeTool struct {
	client *http.Client
}

// NewScrapeTool creates a ScrapeTool with a bounded request timeout.
func NewScrapeTool() *ScrapeTool {
	return &ScrapeTool{
		client: &http.Client{Timeout: scrapeTimeout},
	}
}

// Definition implements tool.Tool.
func (t *ScrapeTool) Definition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "web_scraper",
		Description: "Fetch a web page and extract its readable text. Use after web_search when a snippet is not enough to answer.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The http or https URL to fetch",
				},
				"extract_links": map[string]any{
					"type":        "boolean",
					"description": "Also list the links found on the page",
				},
			},
			"required": []any{"url"},
		},
	}
}

// Invoke implements tool.Tool.
func (t *ScrapeTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	raw, _ := args["url"].(string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("builtin: url must not be empty")
	}
	wantLinks, _ := args["extract_links"].(bool)

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Sprintf("无效的网址 %q，仅支持 HTTP/HTTPS / Invalid URL %q, only HTTP and HTTPS are supported", raw, raw), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("builtin: scrape request: %w", err)
	}
	req.Header.Set("User-Agent", scrapeUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Sprintf("无法访问 %q / Could not reach %q", raw, raw), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("访问 %q 返回 HTTP %d / Fetching %q returned HTTP %d",
			raw, resp.StatusCode, raw, resp.StatusCode), nil
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(strings.ToLower(ct), "text/html") {
		return fmt.Sprintf("%q 不是网页（%s）/ %q is not an HTML page (%s)", raw, ct, raw, ct), nil
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return fmt.Sprintf("无法解析 %q 的内容 / Could not parse the content of %q", raw, raw), nil
	}

	base := resp.Request.URL
	return formatPage(extractPage(doc, base), wantLinks), nil
}

// page is the readable content pulled out of one HTML document.
type page struct {
	title    string
	text     string
	headings []string
	links    []string
}

// skippedElements are removed wholesale before text extraction; they carry
// chrome, not content.
var skippedElements = map[string]bool{
	"script": true,
	"style":  true,
	"nav":    true,
	"header": true,
	"footer": true,
	"aside":  true,
}

// extractPage walks the parsed document collecting the title, body text,
// headings, and links. Relative link targets are resolved against base.
func extractPage(doc *html.Node, base *url.URL) page {
	var p page
	var text strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			text.WriteString(n.Data)
			text.WriteByte(' ')
			return
		case html.ElementNode:
			if skippedElements[n.Data] {
				return
			}
			switch n.Data {
			case "title":
				if p.title == "" {
					p.title = strings.TrimSpace(nodeText(n))
				}
				return
			case "h1", "h2", "h3", "h4", "h5", "h6":
				if h := strings.TrimSpace(nodeText(n)); h != "" && len(p.headings) < maxHeadings {
					p.headings = append(p.headings, h)
				}
			case "a":
				if link := resolveLink(n, base); link != "" && len(p.links) < maxLinks {
					p.links = append(p.links, link)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	p.text = cleanText(text.String())
	return p
}

// nodeText concatenates all text nodes under n.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// resolveLink renders one anchor as "text: absolute-url", or "" when the
// anchor has no usable target.
func resolveLink(n *html.Node, base *url.URL) string {
	var href string
	for _, a := range n.Attr {
		if a.Key == "href" {
			href = a.Val
			break
		}
	}
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	label := strings.TrimSpace(nodeText(n))
	if label == "" {
		return abs.String()
	}
	return label + ": " + abs.String()
}

// cleanText collapses runs of whitespace into single spaces and drops empty
// lines.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// formatPage renders the extracted content for the model: title, headings,
// text capped at maxPageRunes, and optionally the links.
func formatPage(p page, wantLinks bool) string {
	var b strings.Builder
	if p.title != "" {
		fmt.Fprintf(&b, "Title: %s\n", p.title)
	}
	for _, h := range p.headings {
		fmt.Fprintf(&b, "# %s\n", h)
	}

	text := p.text
	if runes := []rune(text); len(runes) > maxPageRunes {
		text = string(runes[:maxPageRunes]) + truncationMark
	}
	if text != "" {
		b.WriteString(text)
		b.WriteByte('\n')
	}

	if wantLinks && len(p.links) > 0 {
		b.WriteString("Links:\n")
		for i, l := range p.links {
			fmt.Fprintf(&b, "%d. %s\n", i+1, l)
		}
	}
	if b.Len() == 0 {
		return "网页没有可读内容 / The page has no readable content"
	}
	return strings.TrimRight(b.String(), "\n")
}
