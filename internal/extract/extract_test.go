package extract

import (
	"errors"
	"strings"
	"testing"
)

func TestFromBytesPlainTextPassesThrough(t *testing.T) {
	got, err := FromBytes([]byte("Hello world.\r\nSecond line."), "text/plain; charset=utf-8")
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if got.Text != "Hello world.\nSecond line." {
		t.Errorf("text = %q, want CRLF normalized", got.Text)
	}
	if got.PageCount != 0 {
		t.Errorf("page count = %d, want 0 for unpaginated text", got.PageCount)
	}
}

func TestFromBytesSynthesizesPageMarkersFromFormFeeds(t *testing.T) {
	got, err := FromBytes([]byte("first page\fsecond page\f\fthird page"), "text/plain")
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if got.PageCount != 3 {
		t.Fatalf("page count = %d, want 3 (empty page dropped)", got.PageCount)
	}
	for _, marker := range []string{"--- Page 1 ---", "--- Page 2 ---", "--- Page 3 ---"} {
		if !strings.Contains(got.Text, marker) {
			t.Errorf("text missing %q:\n%s", marker, got.Text)
		}
	}
	if !strings.Contains(got.Text, "--- Page 3 ---\nthird page") {
		t.Errorf("third page content should follow its marker:\n%s", got.Text)
	}
}

func TestFromBytesMarkdownKeepsFormatting(t *testing.T) {
	src := "# Title\n\n- one\n- two\n"
	got, err := FromBytes([]byte(src), "text/markdown")
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if got.Text != strings.TrimSpace(src) {
		t.Errorf("markdown should pass through untouched, got %q", got.Text)
	}
}

func TestFromBytesHTMLConvertsToMarkdown(t *testing.T) {
	html := `<html><head><title>Sample</title></head><body>
		<article><h1>Heading</h1><p>Hello <b>world</b> from a paragraph.</p></article>
	</body></html>`
	got, err := FromBytes([]byte(html), "text/html")
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if strings.Contains(got.Text, "<p>") || strings.Contains(got.Text, "</b>") {
		t.Errorf("output still contains html tags:\n%s", got.Text)
	}
	if !strings.Contains(got.Text, "Hello") || !strings.Contains(got.Text, "world") {
		t.Errorf("output lost the paragraph text:\n%s", got.Text)
	}
}

func TestFromBytesRejectsUnknownTypes(t *testing.T) {
	_, err := FromBytes([]byte("%PDF-1.7"), "application/pdf")
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("err = %v, want ErrUnsupportedType", err)
	}
}

func TestSupported(t *testing.T) {
	cases := []struct {
		mime string
		want bool
	}{
		{"text/plain", true},
		{"text/plain; charset=utf-8", true},
		{"text/markdown", true},
		{"text/html", true},
		{"application/pdf", false},
		{"image/png", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := Supported(tc.mime); got != tc.want {
			t.Errorf("Supported(%q) = %v, want %v", tc.mime, got, tc.want)
		}
	}
}

func TestMimeFromExtension(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"notes/readme.TXT", "text/plain"},
		{"doc.md", "text/markdown"},
		{"page.html", "text/html"},
		{"binary.bin", ""},
	}
	for _, tc := range cases {
		if got := mimeFromExtension(tc.path); got != tc.want {
			t.Errorf("mimeFromExtension(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}
