package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sibylhq/sibyl/internal/application/agent"
)

const (
	duckDuckGoSearchURL = "https://html.duckduckgo.com/html/"
	searchTimeout       = 15 * time.Second
	maxSearchQueryLen   = 500
	webSearchResults    = 5
)

// searchResult is one parsed web search hit.
type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

type webSearch struct {
	client  *http.Client
	baseURL string
}

// WebSearch searches the public web through the DuckDuckGo HTML endpoint.
func WebSearch() *agent.Tool {
	return webSearchAt(duckDuckGoSearchURL)
}

// webSearchAt points the tool at a different endpoint. Tests use it.
func webSearchAt(baseURL string) *agent.Tool {
	ws := &webSearch{
		client: &http.Client{
			Timeout: searchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		baseURL: baseURL,
	}
	return &agent.Tool{
		Name:        "web_search",
		Description: "Searches the web and returns result titles, URLs and snippets. Input is a plain-text search query. Use web_reader to read a result in full.",
		Invoke:      ws.invoke,
	}
}

func (w *webSearch) invoke(ctx context.Context, input string) (string, error) {
	query := strings.TrimSpace(input)
	if query == "" {
		return "", fmt.Errorf("search query is empty")
	}
	if len(query) > maxSearchQueryLen {
		return "", fmt.Errorf("search query too long (max %d characters)", maxSearchQueryLen)
	}

	results, err := w.search(ctx, query, webSearchResults)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return fmt.Sprintf("No web results found for %q.", query), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Web results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
	}
	return b.String(), nil
}

func (w *webSearch) search(ctx context.Context, query string, limit int) ([]searchResult, error) {
	form := url.Values{}
	form.Set("q", query)
	form.Set("b", "")
	form.Set("kl", "us-en")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Sibyl/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned HTTP %d", resp.StatusCode)
	}
	return parseSearchResults(resp.Body, limit)
}

// parseSearchResults pulls result blocks out of the DuckDuckGo HTML page.
// Internal and relative links are skipped.
func parseSearchResults(r io.Reader, limit int) ([]searchResult, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing search page: %w", err)
	}

	var results []searchResult
	doc.Find("div.result__body").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find("a.result__a").First()
		href, _ := link.Attr("href")
		if href == "" || strings.Contains(href, "duckduckgo.com") || strings.HasPrefix(href, "/") {
			return true
		}
		title := foldSpace(link.Text())
		if title == "" {
			return true
		}
		results = append(results, searchResult{
			Title:   title,
			URL:     href,
			Snippet: foldSpace(s.Find(".result__snippet").Text()),
		})
		return len(results) < limit
	})
	return results, nil
}

func foldSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
