package extractor

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// ErrUnsupportedFormat reports a file extension with no extractor.
// PDF/Office/OCR live in an external service, not here.
type ErrUnsupportedFormat struct {
	Extension string
}

func (e *ErrUnsupportedFormat) Error() string {
	return fmt.Sprintf("unsupported file format: %q", e.Extension)
}

// Extractor turns uploaded files into plain text, dispatched on the file
// extension.
type Extractor struct{}

// New creates the extension-dispatched extractor.
func New() *Extractor {
	return &Extractor{}
}

// SupportedExtensions lists the extensions Extract accepts.
func (e *Extractor) SupportedExtensions() []string {
	return []string{".txt", ".md", ".markdown", ".html", ".htm"}
}

// Extract returns the plain text of data. Unknown extensions return
// *ErrUnsupportedFormat.
func (e *Extractor) Extract(ctx context.Context, data []byte, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt", ".md", ".markdown":
		return extractPlain(data)
	case ".html", ".htm":
		return extractHTML(data)
	default:
		return "", &ErrUnsupportedFormat{Extension: ext}
	}
}

func extractPlain(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("file is not valid UTF-8 text")
	}
	return strings.TrimSpace(string(data)), nil
}

// extractHTML strips markup and boilerplate, returning the visible text.
func extractHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, noscript, iframe, nav, footer").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	text := root.Text()
	return collapseWhitespace(text), nil
}

// collapseWhitespace folds runs of blank space into single spaces while
// keeping paragraph breaks, so the splitter still sees them.
func collapseWhitespace(text string) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		out = append(out, line)
	}
	joined := strings.Join(out, "\n")

	for strings.Contains(joined, "\n\n\n") {
		joined = strings.ReplaceAll(joined, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(joined)
}
