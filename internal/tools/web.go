package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	webUserAgent     = "Mozilla/5.0 (compatible; clawlet/1.0; +https://github.com/KafClaw/clawlet)"
	defaultFetchMax  = 50000
	maxFetchBodySize = 5 << 20
	braveSearchURL   = "https://api.search.brave.com/res/v1/web/search"
)

// WebSearchTool queries the Brave Search API.
type WebSearchTool struct {
	apiKey     string
	maxResults int
	endpoint   string
	client     *http.Client
}

// NewWebSearchTool creates a WebSearchTool. maxResults is clamped to 1..10.
func NewWebSearchTool(apiKey string, maxResults int) *WebSearchTool {
	return &WebSearchTool{
		apiKey:     apiKey,
		maxResults: clamp(maxResults, 1, 10),
		endpoint:   braveSearchURL,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web. Returns titles, URLs, and snippets."
}

func (t *WebSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
			"count": map[string]any{
				"type":        "integer",
				"minimum":     1,
				"maximum":     10,
				"description": "Results (1-10)",
			},
		},
		"required": []string{"query"},
	}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (t *WebSearchTool) Execute(ctx context.Context, _ Origin, params map[string]any) (string, error) {
	if t.apiKey == "" {
		return "Error: BRAVE_API_KEY not configured", nil
	}
	query := GetString(params, "query", "")
	n := clamp(GetInt(params, "count", t.maxResults), 1, 10)

	u := t.endpoint + "?" + url.Values{"q": {query}, "count": {fmt.Sprint(n)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Sprintf("Error: search API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil
	}

	var data braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return fmt.Sprintf("Error: decode search response: %v", err), nil
	}
	results := data.Web.Results
	if len(results) == 0 {
		return fmt.Sprintf("No results for: %s", query), nil
	}
	if len(results) > n {
		results = results[:n]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Results for: %s\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s\n   %s", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&b, "\n   %s", r.Description)
		}
	}
	return b.String(), nil
}

// WebFetchTool downloads a URL and extracts readable text.
type WebFetchTool struct {
	maxChars int
	client   *http.Client
}

// NewWebFetchTool creates a WebFetchTool.
func NewWebFetchTool(maxChars int) *WebFetchTool {
	if maxChars <= 0 {
		maxChars = defaultFetchMax
	}
	return &WebFetchTool{
		maxChars: maxChars,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch URL and extract readable content (HTML to text)."
}

func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "URL to fetch",
			},
			"maxChars": map[string]any{
				"type":    "integer",
				"minimum": 100,
			},
		},
		"required": []string{"url"},
	}
}

type fetchResult struct {
	URL       string `json:"url"`
	FinalURL  string `json:"finalUrl,omitempty"`
	Status    int    `json:"status,omitempty"`
	Extractor string `json:"extractor,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	Length    int    `json:"length,omitempty"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (t *WebFetchTool) Execute(ctx context.Context, _ Origin, params map[string]any) (string, error) {
	raw := GetString(params, "url", "")
	maxChars := GetInt(params, "maxChars", t.maxChars)

	if err := validateURL(raw); err != nil {
		return encodeFetch(fetchResult{URL: raw, Error: "URL validation failed: " + err.Error()}), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return encodeFetch(fetchResult{URL: raw, Error: err.Error()}), nil
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return encodeFetch(fetchResult{URL: raw, Error: err.Error()}), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodySize))
	if err != nil {
		return encodeFetch(fetchResult{URL: raw, Error: err.Error()}), nil
	}

	ctype := resp.Header.Get("Content-Type")
	res := fetchResult{URL: raw, FinalURL: resp.Request.URL.String(), Status: resp.StatusCode}
	switch {
	case strings.Contains(ctype, "application/json"):
		var v any
		if json.Unmarshal(body, &v) == nil {
			pretty, _ := json.MarshalIndent(v, "", "  ")
			res.Text, res.Extractor = string(pretty), "json"
		} else {
			res.Text, res.Extractor = string(body), "raw"
		}
	case strings.Contains(ctype, "text/html") || looksLikeHTML(body):
		res.Text, res.Extractor = htmlToText(string(body)), "html"
	default:
		res.Text, res.Extractor = string(body), "raw"
	}

	if r := []rune(res.Text); len(r) > maxChars {
		res.Text, res.Truncated = string(r[:maxChars]), true
	}
	res.Length = len([]rune(res.Text))
	return encodeFetch(res), nil
}

func encodeFetch(r fetchResult) string {
	data, _ := json.Marshal(r)
	return string(data)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("only http/https allowed, got '%s'", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing domain")
	}
	return nil
}

func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(strings.TrimSpace(string(body[:min(len(body), 256)])))
	return strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html")
}

// htmlToText walks the parsed document and keeps visible text, with line
// breaks after block elements.
func htmlToText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return src
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head", "svg":
				return
			case "li":
				b.WriteString("\n- ")
			}
		}
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				b.WriteString(s)
				b.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "div", "br", "h1", "h2", "h3", "h4", "h5", "h6", "section", "article", "tr", "ul", "ol":
				b.WriteString("\n")
			}
		}
	}
	walk(doc)
	return normalizeWhitespace(b.String())
}

func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
