// Package extract turns uploaded document bytes into plain text for
// chunking and analysis. Plain text and markdown pass through with page
// markers synthesized from form feeds; HTML goes through readability to
// isolate the main content and is converted to markdown.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
)

// ErrUnsupportedType marks a document whose format has no text extraction
// path. Callers decide whether a vision fallback applies.
var ErrUnsupportedType = errors.New("unsupported document type")

// Result is the extraction outcome. PageCount is zero for unpaginated
// sources; Title is set only when the source declares one (HTML).
type Result struct {
	Text      string
	PageCount int
	Title     string
}

// Supported reports whether mimeType has a native extraction path.
// Image types are not "supported" here even though the analyze pipeline
// can still OCR them through a vision model.
func Supported(mimeType string) bool {
	switch normalizeMime(mimeType) {
	case "text/plain", "text/markdown", "text/x-markdown", "text/html", "application/xhtml+xml":
		return true
	}
	return false
}

// FromFile reads path and extracts it. An empty mimeType is inferred from
// the file extension.
func FromFile(path, mimeType string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if normalizeMime(mimeType) == "" || normalizeMime(mimeType) == "application/octet-stream" {
		mimeType = mimeFromExtension(path)
	}
	return FromBytes(data, mimeType)
}

// FromBytes extracts text from raw document bytes.
func FromBytes(data []byte, mimeType string) (*Result, error) {
	switch normalizeMime(mimeType) {
	case "text/plain", "text/markdown", "text/x-markdown":
		return fromText(data), nil
	case "text/html", "application/xhtml+xml":
		return fromHTML(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
}

// fromText normalizes line endings and synthesizes "--- Page N ---" markers
// from form feed separators so paginated plain text keeps its page numbers
// through chunking.
func fromText(data []byte) *Result {
	text := normalizeNewlines(string(data))
	pages := strings.Split(text, "\f")
	if len(pages) == 1 {
		return &Result{Text: strings.TrimSpace(text)}
	}
	var b strings.Builder
	count := 0
	for _, page := range pages {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}
		count++
		fmt.Fprintf(&b, "--- Page %d ---\n%s\n", count, page)
	}
	return &Result{Text: strings.TrimSpace(b.String()), PageCount: count}
}

// fromHTML isolates the readable article and converts it to markdown. When
// readability cannot find an article (fragments, tiny pages), the whole
// document is converted instead.
func fromHTML(data []byte) (*Result, error) {
	res := &Result{}
	source := string(data)

	article, err := readability.FromReader(bytes.NewReader(data), nil)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		res.Title = strings.TrimSpace(article.Title)
		source = article.Content
	}

	md, err := htmltomarkdown.ConvertString(source)
	if err != nil {
		return nil, fmt.Errorf("convert html: %w", err)
	}
	res.Text = strings.TrimSpace(md)
	if res.Text == "" {
		return nil, fmt.Errorf("%w: empty html document", ErrUnsupportedType)
	}
	return res, nil
}

func normalizeMime(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt, _, _ = strings.Cut(mimeType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func mimeFromExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".text", ".log":
		return "text/plain"
	case ".md", ".markdown":
		return "text/markdown"
	case ".html", ".htm":
		return "text/html"
	}
	return ""
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
