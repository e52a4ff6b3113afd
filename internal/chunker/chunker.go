// Package chunker splits documents and notes into retrievable chunks with
// position metadata. Splitting is deterministic so re-chunking an unchanged
// text yields byte-identical chunk sets.
package chunker

import (
	"regexp"
	"strings"
)

const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
)

const (
	TypeParagraph = "paragraph"
	TypeHeading   = "heading"
	TypeList      = "list"
	TypeCode      = "code"
)

// Chunk is one retrievable slice of a source text. CharStart/CharEnd are
// offsets into the original text; ChunkIndex is dense from 0.
type Chunk struct {
	Content    string
	ChunkIndex int
	PageNumber int
	CharStart  int
	CharEnd    int
	ChunkType  string
}

var (
	pageMarker   = regexp.MustCompile(`(?m)^--- Page (\d+) ---$`)
	sentenceEnd  = regexp.MustCompile(`[.!?]\s+`)
	listLead     = regexp.MustCompile(`^(\-|\*|\d+\.)\s`)
	blankLineSep = regexp.MustCompile(`\n\s*\n`)
)

// Split chunks text greedily by paragraph up to chunkSize characters,
// falling back to sentence boundaries with overlap carry when a single
// paragraph exceeds the budget. Page markers of the form "--- Page N ---"
// partition the text first; without them everything is page 0.
func Split(text string, chunkSize, overlap int) []Chunk {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultOverlap
		if overlap >= chunkSize {
			overlap = chunkSize / 10
		}
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []Chunk
	index := 0
	for _, page := range splitPages(text) {
		for _, c := range splitPage(page, chunkSize, overlap) {
			c.ChunkIndex = index
			c.PageNumber = page.number
			chunks = append(chunks, c)
			index++
		}
	}
	return chunks
}

type page struct {
	number int
	text   string
	offset int
}

// splitPages partitions on page markers. The marker lines themselves are
// excluded from every chunk but their offsets are preserved.
func splitPages(text string) []page {
	locs := pageMarker.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return []page{{number: 0, text: text, offset: 0}}
	}
	var pages []page
	for i, loc := range locs {
		num := 0
		for _, ch := range text[loc[2]:loc[3]] {
			num = num*10 + int(ch-'0')
		}
		start := loc[1]
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		pages = append(pages, page{number: num, text: text[start:end], offset: start})
	}
	// Text before the first marker still belongs to the document.
	if locs[0][0] > 0 {
		head := page{number: 0, text: text[:locs[0][0]], offset: 0}
		pages = append([]page{head}, pages...)
	}
	return pages
}

func splitPage(p page, chunkSize, overlap int) []Chunk {
	var chunks []Chunk

	type para struct {
		text  string
		start int
	}
	var paras []para
	cursor := 0
	for _, raw := range blankLineSep.Split(p.text, -1) {
		idx := strings.Index(p.text[cursor:], raw)
		if idx < 0 {
			idx = 0
		}
		start := cursor + idx
		cursor = start + len(raw)
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		lead := strings.Index(raw, trimmed)
		if lead < 0 {
			lead = 0
		}
		paras = append(paras, para{text: trimmed, start: p.offset + start + lead})
	}

	var (
		buf      strings.Builder
		bufStart = -1
		bufEnd   = 0
	)
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		content := buf.String()
		chunks = append(chunks, Chunk{
			Content:   content,
			CharStart: bufStart,
			CharEnd:   bufEnd,
			ChunkType: inferType(content),
		})
		buf.Reset()
		bufStart = -1
	}

	for _, pa := range paras {
		// A paragraph too large for any chunk is split at sentence
		// boundaries with overlap carried between the pieces.
		if len(pa.text) > chunkSize {
			flush()
			for _, sc := range splitSentences(pa.text, pa.start, chunkSize, overlap) {
				chunks = append(chunks, sc)
			}
			continue
		}
		if buf.Len() > 0 && buf.Len()+2+len(pa.text) > chunkSize {
			flush()
		}
		if buf.Len() == 0 {
			bufStart = pa.start
		} else {
			buf.WriteString("\n\n")
		}
		buf.WriteString(pa.text)
		bufEnd = pa.start + len(pa.text)
	}
	flush()
	return chunks
}

// splitSentences windows an oversized paragraph at sentence ends, carrying
// overlap characters into each following window.
func splitSentences(text string, baseOffset, chunkSize, overlap int) []Chunk {
	var sentences []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		sentences = append(sentences, text[last:loc[1]])
		last = loc[1]
	}
	if last < len(text) {
		sentences = append(sentences, text[last:])
	}

	var (
		chunks   []Chunk
		buf      strings.Builder
		bufStart = baseOffset
		consumed = 0
	)
	flush := func() {
		content := strings.TrimSpace(buf.String())
		if content == "" {
			return
		}
		chunks = append(chunks, Chunk{
			Content:   content,
			CharStart: bufStart,
			CharEnd:   baseOffset + consumed,
			ChunkType: inferType(content),
		})
	}
	for _, s := range sentences {
		if buf.Len() > 0 && buf.Len()+len(s) > chunkSize {
			flush()
			carry := buf.String()
			if overlap > 0 && len(carry) > overlap {
				carry = carry[len(carry)-overlap:]
			}
			buf.Reset()
			bufStart = baseOffset + consumed - len(carry)
			buf.WriteString(carry)
		}
		buf.WriteString(s)
		consumed += len(s)
	}
	flush()
	return chunks
}

// inferType classifies a chunk from its first line.
func inferType(content string) string {
	if strings.Contains(content, "```") {
		return TypeCode
	}
	first := content
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		first = content[:i]
	}
	first = strings.TrimSpace(first)
	switch {
	case strings.HasPrefix(first, "#"):
		return TypeHeading
	case listLead.MatchString(first):
		return TypeList
	default:
		return TypeParagraph
	}
}
