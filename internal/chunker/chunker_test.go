package chunker

import (
	"strings"
	"testing"
)

func TestSplitEmpty(t *testing.T) {
	if got := Split("", 500, 50); got != nil {
		t.Fatalf("Split(empty) = %v, want nil", got)
	}
	if got := Split("   \n\n  ", 500, 50); got != nil {
		t.Fatalf("Split(whitespace) = %v, want nil", got)
	}
}

func TestSplitSingleParagraph(t *testing.T) {
	text := "A short paragraph that fits in one chunk."
	chunks := Split(text, 500, 50)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if c.Content != text {
		t.Errorf("content = %q, want %q", c.Content, text)
	}
	if c.ChunkIndex != 0 || c.PageNumber != 0 {
		t.Errorf("index/page = %d/%d, want 0/0", c.ChunkIndex, c.PageNumber)
	}
	if c.ChunkType != TypeParagraph {
		t.Errorf("type = %q, want paragraph", c.ChunkType)
	}
	if text[c.CharStart:c.CharEnd] != text {
		t.Errorf("offsets [%d:%d] do not cover the text", c.CharStart, c.CharEnd)
	}
}

func TestSplitGreedyAccumulation(t *testing.T) {
	paras := []string{
		strings.Repeat("a", 200),
		strings.Repeat("b", 200),
		strings.Repeat("c", 200),
	}
	text := strings.Join(paras, "\n\n")
	chunks := Split(text, 500, 50)
	// 200+2+200 = 402 fits; adding the third would exceed 500.
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0].Content, "a") || !strings.Contains(chunks[0].Content, "b") {
		t.Errorf("first chunk should hold first two paragraphs")
	}
	if !strings.HasPrefix(chunks[1].Content, "c") {
		t.Errorf("second chunk should start the third paragraph")
	}
}

func TestSplitDenseIndexes(t *testing.T) {
	text := strings.Repeat("Sentence one here. ", 120) // forces sentence fallback
	chunks := Split(text, 300, 40)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d has index %d; indexes must be dense from 0", i, c.ChunkIndex)
		}
		if len(c.Content) == 0 {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

func TestSplitPageMarkers(t *testing.T) {
	text := "--- Page 1 ---\nFirst page text.\n\n--- Page 2 ---\nSecond page text."
	chunks := Split(text, 500, 50)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].PageNumber != 1 || chunks[1].PageNumber != 2 {
		t.Errorf("pages = %d,%d; want 1,2", chunks[0].PageNumber, chunks[1].PageNumber)
	}
	if strings.Contains(chunks[0].Content, "--- Page") {
		t.Errorf("marker leaked into chunk content: %q", chunks[0].Content)
	}
}

func TestSplitPreambleBeforeFirstMarker(t *testing.T) {
	text := "Cover sheet.\n\n--- Page 1 ---\nBody."
	chunks := Split(text, 500, 50)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].PageNumber != 0 {
		t.Errorf("preamble page = %d, want 0", chunks[0].PageNumber)
	}
	if chunks[1].PageNumber != 1 {
		t.Errorf("body page = %d, want 1", chunks[1].PageNumber)
	}
}

func TestSplitOffsetsSliceOriginal(t *testing.T) {
	text := "Alpha paragraph.\n\nBeta paragraph follows here.\n\nGamma closes."
	chunks := Split(text, 30, 5)
	for i, c := range chunks {
		got := text[c.CharStart:c.CharEnd]
		if !strings.Contains(got, strings.Split(c.Content, "\n")[0][:5]) {
			t.Errorf("chunk %d offsets [%d:%d]=%q do not locate content %q", i, c.CharStart, c.CharEnd, got, c.Content)
		}
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := "--- Page 1 ---\n" + strings.Repeat("Deterministic sentence. ", 80)
	a := Split(text, 256, 32)
	b := Split(text, 256, 32)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("chunk %d differs between runs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestInferType(t *testing.T) {
	cases := []struct {
		content string
		want    string
	}{
		{"# Heading\nbody", TypeHeading},
		{"- item one\n- item two", TypeList},
		{"* starred item", TypeList},
		{"1. numbered", TypeList},
		{"plain prose here", TypeParagraph},
		{"some text\n```go\ncode\n```", TypeCode},
	}
	for _, tc := range cases {
		if got := inferType(tc.content); got != tc.want {
			t.Errorf("inferType(%q) = %q, want %q", tc.content, got, tc.want)
		}
	}
}

func TestSentenceOverlapCarried(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
	chunks := Split(text, 200, 50)
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	// Every window after the first should start with carried tail text.
	for i := 1; i < len(chunks); i++ {
		if chunks[i].CharStart >= chunks[i].CharEnd {
			t.Errorf("chunk %d has inverted offsets [%d:%d]", i, chunks[i].CharStart, chunks[i].CharEnd)
		}
	}
}
