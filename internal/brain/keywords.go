package brain

import (
	"encoding/json"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// keywordStopwords drops glue words before frequency counting. Short list on
// purpose; length and frequency filters catch the rest.
var keywordStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "are": true, "was": true, "were": true,
	"have": true, "has": true, "had": true, "but": true, "not": true,
	"you": true, "your": true, "all": true, "can": true, "will": true,
	"into": true, "its": true, "about": true, "when": true, "what": true,
	"how": true, "why": true, "use": true, "using": true, "also": true,
	"more": true, "some": true, "than": true, "then": true, "them": true,
	"they": true, "there": true, "their": true, "which": true, "would": true,
	"should": true, "could": true, "overview": true, "key": true,
	"points": true, "details": true, "connections": true, "notes": true,
	"note": true,
}

// tokenizeWords lowercases and splits on non-alphanumerics, dropping tokens
// shorter than three runes and stopwords.
func tokenizeWords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 3 || keywordStopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// extractKeywords scores terms for a topic file: body text counts once, note
// titles twice, tags three times. The heuristic is deterministic so rebuilds
// of unchanged notes produce identical keyword sets.
func extractKeywords(content string, notes []*types.Note, tagsByNote map[uuid.UUID][]string) []string {
	freq := make(map[string]int)
	for _, w := range tokenizeWords(content) {
		freq[w]++
	}
	for _, n := range notes {
		for _, w := range tokenizeWords(n.Title) {
			freq[w] += 2
		}
		for _, tag := range tagsByNote[n.ID] {
			freq[strings.ToLower(tag)] += 3
		}
	}

	terms := make([]string, 0, len(freq))
	for w := range freq {
		terms = append(terms, w)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > maxTopicKeywords {
		terms = terms[:maxTopicKeywords]
	}
	return terms
}

// decodeKeywords reads a keyword list back out of its jsonb column. Bad or
// empty payloads decode to nil rather than erroring; keywords are advisory.
func decodeKeywords(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var kws []string
	if err := json.Unmarshal(raw, &kws); err != nil {
		return nil
	}
	return kws
}
