package brain

import (
	"sort"
	"strings"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/embedding"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// Topic selection weights. Embedding similarity dominates when available;
// keyword overlap carries the whole score when the query could not be
// embedded. Topics loaded in the previous turn get a continuity boost so
// follow-up questions stay on subject.
const (
	keywordWeight     = 0.3
	embeddingWeight   = 0.7
	prevLoadedBoost   = 0.3
	minTopicScore     = 0.05
	titleFallbackFrac = 0.5

	coreBudgetFraction = 0.4
)

// computeMaxTopics scales how many topics may load with the room left after
// the core files.
func computeMaxTopics(remainingBudget int) int {
	switch {
	case remainingBudget < 3000:
		return 3
	case remainingBudget <= 8000:
		return 5
	case remainingBudget <= 20000:
		return 10
	default:
		return 15
	}
}

// topicPick is the outcome of one selection round. scoredCount distinguishes
// topics that earned their slot from pinned ones that ride along; when it is
// zero the answer prompt tells the model the notes do not cover the question.
type topicPick struct {
	files       []*types.BrainFile
	matchedKeys []string
	pinnedCount int
	scoredCount int
}

func selectTopics(topics []*types.BrainFile, query string, queryEmb []float32, prevLoaded map[string]bool, budget, maxTopics int) topicPick {
	var pick topicPick
	remaining := budget

	pinned := make([]*types.BrainFile, 0)
	rest := make([]*types.BrainFile, 0, len(topics))
	for _, t := range topics {
		if t.IsPinned {
			pinned = append(pinned, t)
		} else {
			rest = append(rest, t)
		}
	}
	sort.Slice(pinned, func(i, j int) bool { return pinned[i].FileKey < pinned[j].FileKey })
	for _, t := range pinned {
		cost := topicCost(t)
		if cost > remaining {
			continue
		}
		pick.files = append(pick.files, t)
		pick.matchedKeys = append(pick.matchedKeys, t.FileKey)
		pick.pinnedCount++
		remaining -= cost
	}

	queryTokens := tokenSet(query)
	type scored struct {
		file  *types.BrainFile
		score float64
	}
	candidates := make([]scored, 0, len(rest))
	for _, t := range rest {
		s := keywordWeight*keywordScore(queryTokens, query, t) +
			embeddingWeight*embeddingScore(queryEmb, t)
		if prevLoaded[t.FileKey] {
			s += prevLoadedBoost
		}
		if s < minTopicScore {
			continue
		}
		candidates = append(candidates, scored{file: t, score: s})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].file.FileKey < candidates[j].file.FileKey
	})

	for _, c := range candidates {
		if pick.scoredCount >= maxTopics {
			break
		}
		cost := topicCost(c.file)
		if cost > remaining {
			continue
		}
		pick.files = append(pick.files, c.file)
		pick.matchedKeys = append(pick.matchedKeys, c.file.FileKey)
		pick.scoredCount++
		remaining -= cost
	}
	return pick
}

// keywordScore is the fraction of the topic's keywords present in the query.
// Topics without keywords fall back to title overlap at half weight so they
// are findable but never outrank a real keyword match.
func keywordScore(queryTokens map[string]bool, query string, t *types.BrainFile) float64 {
	kws := decodeKeywords(t.TopicKeywords)
	if len(kws) > 0 {
		matched := 0
		for _, kw := range kws {
			if queryMentions(queryTokens, query, kw) {
				matched++
			}
		}
		return float64(matched) / float64(len(kws))
	}
	titleTokens := tokenizeWords(t.Title)
	if len(titleTokens) == 0 {
		return 0
	}
	matched := 0
	for _, w := range titleTokens {
		if queryTokens[w] {
			matched++
		}
	}
	return float64(matched) / float64(len(titleTokens)) * titleFallbackFrac
}

// queryMentions matches single-word keywords by token and multi-word ones by
// substring, so "machine learning" still hits.
func queryMentions(queryTokens map[string]bool, query, keyword string) bool {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return false
	}
	if !strings.ContainsAny(kw, " -_") {
		return queryTokens[kw]
	}
	return strings.Contains(strings.ToLower(query), kw)
}

func embeddingScore(queryEmb []float32, t *types.BrainFile) float64 {
	if len(queryEmb) == 0 || t.Embedding == nil {
		return 0
	}
	cos := embedding.Cosine(queryEmb, t.Embedding.Slice())
	if cos < 0 {
		return 0
	}
	return cos
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range tokenizeWords(s) {
		set[w] = true
	}
	return set
}

func topicCost(t *types.BrainFile) int {
	if t.TokenCountApprox > 0 {
		return t.TokenCountApprox
	}
	return tokensApprox(t.Content)
}

// coreSet is the always-loaded tier in pack order: identity first, then the
// owner's accumulated memory, then the knowledge map.
type coreSet struct {
	soul      *types.BrainFile
	memory    *types.BrainFile
	mnemosyne *types.BrainFile
}

func (cs coreSet) ordered() []*types.BrainFile {
	out := make([]*types.BrainFile, 0, 3)
	for _, f := range []*types.BrainFile{cs.soul, cs.memory, cs.mnemosyne} {
		if f != nil && strings.TrimSpace(f.Content) != "" {
			out = append(out, f)
		}
	}
	return out
}

// assembledPrompt is the final system prompt plus its accounting.
type assembledPrompt struct {
	text        string
	filesLoaded []string
	tokens      int
	truncated   bool
}

// assemblePrompt packs the core tier into its sub-budget (truncating the
// tail file when it would overflow) and then appends the selected topics in
// full. Files are separated by rules so the model sees their boundaries.
func assemblePrompt(core coreSet, topics []*types.BrainFile, budget int) assembledPrompt {
	var out assembledPrompt
	coreBudget := int(float64(budget) * coreBudgetFraction)
	var sections []string

	remaining := coreBudget
	for _, f := range core.ordered() {
		cost := topicCost(f)
		content := f.Content
		if cost > remaining {
			keepChars := remaining * 4
			if keepChars <= 0 {
				out.truncated = true
				break
			}
			content = truncateRunes(content, keepChars)
			cost = tokensApprox(content)
			out.truncated = true
		}
		sections = append(sections, strings.TrimSpace(content))
		out.filesLoaded = append(out.filesLoaded, f.FileKey)
		out.tokens += cost
		remaining -= cost
	}

	for _, t := range topics {
		sections = append(sections, strings.TrimSpace(t.Content))
		out.filesLoaded = append(out.filesLoaded, t.FileKey)
		out.tokens += topicCost(t)
	}

	out.text = strings.Join(sections, "\n\n---\n\n")
	return out
}

// noCoverageAddendum is appended when the brain has topics but none matched
// the question; the model must admit the gap instead of improvising.
const noCoverageAddendum = "\n\n---\n\nNone of the owner's topic files matched this question. Say plainly that their notes do not cover it, and do not substitute general knowledge for their notes."
