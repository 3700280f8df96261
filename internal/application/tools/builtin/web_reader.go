package builtin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"golang.org/x/net/html"

	"github.com/sibylhq/sibyl/internal/application/agent"
)

const (
	webReaderMaxBody   = 2 << 20 // response body cap in bytes
	webReaderMaxOutput = 8000    // markdown cap in bytes
)

// WebReader fetches a page and returns its main content as markdown.
// Boilerplate is stripped with the readability extraction before the
// markdown conversion.
func WebReader() *agent.Tool {
	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
	return &agent.Tool{
		Name:        "web_reader",
		Description: "Fetches a web page and returns its main article content as markdown, with navigation and boilerplate removed. Input is the page URL.",
		Invoke: func(ctx context.Context, input string) (string, error) {
			return readPage(ctx, client, input)
		},
	}
}

func readPage(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	pageURL := strings.TrimSpace(rawURL)
	if pageURL == "" {
		return "", fmt.Errorf("url is empty")
	}
	if !strings.HasPrefix(pageURL, "http://") && !strings.HasPrefix(pageURL, "https://") {
		pageURL = "https://" + pageURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Sibyl/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, pageURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, webReaderMaxBody))
	if err != nil {
		return "", fmt.Errorf("reading page: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(body), resp.Request.URL)
	if err != nil {
		return "", fmt.Errorf("extracting content: %w", err)
	}

	var articleHTML bytes.Buffer
	if err := article.RenderHTML(&articleHTML); err != nil {
		return "", fmt.Errorf("rendering content: %w", err)
	}

	md, err := htmltomarkdown.ConvertString(
		articleHTML.String(),
		converter.WithDomain(resp.Request.URL.String()),
	)
	if err != nil {
		return "", fmt.Errorf("converting to markdown: %w", err)
	}
	md = tidyMarkdown(md)
	if len(md) > webReaderMaxOutput {
		md = truncateMarkdown(md, webReaderMaxOutput)
	}
	if md == "" {
		return "", fmt.Errorf("page had no readable content")
	}

	meta := scrapeMeta(body)
	title := strings.TrimSpace(article.Title())
	if title == "" {
		title = meta.Title
	}
	site := strings.TrimSpace(article.SiteName())
	if site == "" {
		site = meta.SiteName
	}

	var out strings.Builder
	if title != "" {
		fmt.Fprintf(&out, "Title: %s\n", title)
	}
	if site != "" {
		fmt.Fprintf(&out, "Site: %s\n", site)
	}
	if out.Len() > 0 {
		out.WriteString("\n")
	}
	out.WriteString(md)
	return out.String(), nil
}

type pageMeta struct {
	Title    string
	SiteName string
}

// scrapeMeta pulls title and site name from the raw document for pages
// where the readability pass comes back without them.
func scrapeMeta(body []byte) pageMeta {
	var meta pageMeta
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return meta
	}

	var titleTag, ogTitle string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if titleTag == "" && n.FirstChild != nil {
					titleTag = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				var prop, content string
				for _, attr := range n.Attr {
					switch attr.Key {
					case "property", "name":
						prop = attr.Val
					case "content":
						content = attr.Val
					}
				}
				switch prop {
				case "og:title":
					if ogTitle == "" {
						ogTitle = strings.TrimSpace(content)
					}
				case "og:site_name":
					if meta.SiteName == "" {
						meta.SiteName = strings.TrimSpace(content)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	meta.Title = titleTag
	if meta.Title == "" {
		meta.Title = ogTitle
	}
	return meta
}

// tidyMarkdown trims trailing space per line and folds runs of blank
// lines down to one.
func tidyMarkdown(md string) string {
	lines := strings.Split(md, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
			line = ""
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// truncateMarkdown cuts at a paragraph or sentence boundary when one
// exists in the second half of the budget.
func truncateMarkdown(md string, maxLen int) string {
	truncated := md[:maxLen]
	if idx := strings.LastIndex(truncated, "\n\n"); idx > maxLen/2 {
		return truncated[:idx] + "\n\n[content truncated]"
	}
	if idx := strings.LastIndex(truncated, ". "); idx > maxLen/2 {
		return truncated[:idx+1] + "\n\n[content truncated]"
	}
	return truncated + "..."
}
