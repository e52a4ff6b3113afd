package nexus

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

const (
	// DefaultContextBudget is the approximate token budget for the
	// assembled system prompt.
	DefaultContextBudget = 2000

	blockPreviewChars    = 600
	citationPreviewChars = 240
	maxWikilinksPerCite  = 5
	maxPathsPerCite      = 3
	insightCharBudget    = 600
	maxCommunitySuggest  = 2
	maxTagSuggest        = 2
	coRetrievalWindow    = 30 * 24 * time.Hour
)

// Connection insight types between two cited sources.
const (
	InsightWikilink        = "wikilink"
	InsightSharedCommunity = "shared_community"
	InsightSharedTag       = "shared_tag"
	InsightCoRetrieval     = "co_retrieval"
)

// RichCitation carries everything the UI needs to ground one source:
// deep link, origin chain, community, tags, and graph paths to the
// other cited sources. Index matches the [n] markers in the answer.
type RichCitation struct {
	Index           int        `json:"index"`
	SourceType      string     `json:"source_type"`
	SourceID        uuid.UUID  `json:"source_id"`
	NoteID          *uuid.UUID `json:"note_id,omitempty"`
	Title           string     `json:"title"`
	Preview         string     `json:"preview"`
	URL             string     `json:"url"`
	Score           float64    `json:"score"`
	RetrievalMethod string     `json:"retrieval_method"`
	OriginType      string     `json:"origin_type"`
	OriginID        *uuid.UUID `json:"origin_id,omitempty"`
	CommunityID     *int       `json:"community_id,omitempty"`
	CommunityName   string     `json:"community_name,omitempty"`
	TopTerms        []string   `json:"top_terms,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	Wikilinks       []string   `json:"wikilinks,omitempty"`
	ConnectionPaths []string   `json:"connection_paths,omitempty"`

	// Content is the packing source for the prompt block; it never
	// leaves the process.
	Content string `json:"-"`
}

// ConnectionInsight describes one relationship between two included
// citations, by their indices.
type ConnectionInsight struct {
	Type        string `json:"type"`
	FromIndex   int    `json:"from_index"`
	ToIndex     int    `json:"to_index"`
	Description string `json:"description"`
}

// ExplorationSuggestion points at a community or tag the answer did not
// draw on.
type ExplorationSuggestion struct {
	Type   string `json:"type"`
	Label  string `json:"label"`
	Reason string `json:"reason"`
}

// AssembledContext is the prompt-ready bundle for one query. Citations
// holds every surviving candidate for UI grounding; only the first
// Included ones were packed into the prompt.
type AssembledContext struct {
	SystemPrompt           string
	Citations              []RichCitation
	ConnectionInsights     []ConnectionInsight
	ExplorationSuggestions []ExplorationSuggestion
	TotalTokensApprox      int
	Truncated              bool
	Included               int
}

// Assembler resolves source chains for fused candidates and packs them
// into a token-budgeted prompt.
type Assembler struct {
	notes       repos.NoteRepo
	documents   repos.DocumentRepo
	images      repos.ImageRepo
	links       repos.NoteLinkRepo
	tags        repos.TagRepo
	communities repos.CommunityRepo
	patterns    repos.AccessPatternRepo
	log         *logger.Logger
}

func NewAssembler(
	notes repos.NoteRepo,
	documents repos.DocumentRepo,
	images repos.ImageRepo,
	links repos.NoteLinkRepo,
	tags repos.TagRepo,
	communities repos.CommunityRepo,
	patterns repos.AccessPatternRepo,
	baseLog *logger.Logger,
) *Assembler {
	return &Assembler{
		notes:       notes,
		documents:   documents,
		images:      images,
		links:       links,
		tags:        tags,
		communities: communities,
		patterns:    patterns,
		log:         baseLog.With("service", "NexusAssembler"),
	}
}

// Assemble turns ranked candidates into an AssembledContext under the
// given token budget (<=0 uses the default).
func (a *Assembler) Assemble(dbc dbctx.Context, ownerID uuid.UUID, candidates []Candidate, budget int) (*AssembledContext, error) {
	if budget <= 0 {
		budget = DefaultContextBudget
	}

	data, err := a.fetchChainData(dbc, ownerID, candidates)
	if err != nil {
		return nil, err
	}

	citations := buildCitations(candidates, data)
	prompt, included, tokens, truncated := packPrompt(citations, budget)

	out := &AssembledContext{
		SystemPrompt:           prompt,
		Citations:              citations,
		ConnectionInsights:     deriveInsights(citations[:included], data, insightCharBudget),
		ExplorationSuggestions: deriveSuggestions(citations[:included], data),
		TotalTokensApprox:      tokens,
		Truncated:              truncated,
		Included:               included,
	}
	return out, nil
}

// chainData is the graph context fetched once per assembly.
type chainData struct {
	notes        map[uuid.UUID]*types.Note
	titles       map[uuid.UUID]string
	docOrigins   map[uuid.UUID]*types.Document
	imageOrigins map[uuid.UUID]*types.Image
	tagsByNote   map[uuid.UUID][]string
	outgoing     map[uuid.UUID]map[uuid.UUID]bool
	neighbors    map[uuid.UUID]map[uuid.UUID]bool
	communities  map[int]*types.CommunityMetadata
	tagCounts    []repos.TagCount
	coCounts     map[[2]uuid.UUID]int
}

func (a *Assembler) fetchChainData(dbc dbctx.Context, ownerID uuid.UUID, candidates []Candidate) (*chainData, error) {
	data := &chainData{
		notes:        map[uuid.UUID]*types.Note{},
		titles:       map[uuid.UUID]string{},
		docOrigins:   map[uuid.UUID]*types.Document{},
		imageOrigins: map[uuid.UUID]*types.Image{},
		tagsByNote:   map[uuid.UUID][]string{},
		outgoing:     map[uuid.UUID]map[uuid.UUID]bool{},
		neighbors:    map[uuid.UUID]map[uuid.UUID]bool{},
		communities:  map[int]*types.CommunityMetadata{},
		coCounts:     map[[2]uuid.UUID]int{},
	}

	noteSet := map[uuid.UUID]bool{}
	var noteIDs []uuid.UUID
	for _, c := range candidates {
		if c.NoteID != nil && !noteSet[*c.NoteID] {
			noteSet[*c.NoteID] = true
			noteIDs = append(noteIDs, *c.NoteID)
		}
	}

	touching, err := a.links.ListTouching(dbc, ownerID, noteIDs)
	if err != nil {
		return nil, err
	}
	addEdge := func(m map[uuid.UUID]map[uuid.UUID]bool, from, to uuid.UUID) {
		if m[from] == nil {
			m[from] = map[uuid.UUID]bool{}
		}
		m[from][to] = true
	}
	union := append([]uuid.UUID{}, noteIDs...)
	seen := map[uuid.UUID]bool{}
	for _, id := range noteIDs {
		seen[id] = true
	}
	for _, l := range touching {
		addEdge(data.outgoing, l.SourceNoteID, l.TargetNoteID)
		addEdge(data.neighbors, l.SourceNoteID, l.TargetNoteID)
		addEdge(data.neighbors, l.TargetNoteID, l.SourceNoteID)
		for _, id := range []uuid.UUID{l.SourceNoteID, l.TargetNoteID} {
			if !seen[id] {
				seen[id] = true
				union = append(union, id)
			}
		}
	}

	liveNotes, err := a.notes.GetLiveByIDs(dbc, ownerID, union)
	if err != nil {
		return nil, err
	}
	for _, n := range liveNotes {
		data.titles[n.ID] = n.Title
		if noteSet[n.ID] {
			data.notes[n.ID] = n
		}
	}

	docs, err := a.documents.ListBySummaryNotes(dbc, ownerID, noteIDs)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if d.SummaryNoteID != nil {
			data.docOrigins[*d.SummaryNoteID] = d
		}
	}
	imgs, err := a.images.ListBySummaryNotes(dbc, ownerID, noteIDs)
	if err != nil {
		return nil, err
	}
	for _, im := range imgs {
		if im.SummaryNoteID != nil {
			data.imageOrigins[*im.SummaryNoteID] = im
		}
	}

	if data.tagsByNote, err = a.tags.ListForNotes(dbc, ownerID, noteIDs); err != nil {
		return nil, err
	}

	communities, err := a.communities.ListByOwner(dbc, ownerID)
	if err != nil {
		return nil, err
	}
	for _, c := range communities {
		data.communities[c.CommunityID] = c
	}

	if data.tagCounts, err = a.tags.CountsByOwner(dbc, ownerID); err != nil {
		return nil, err
	}
	if data.coCounts, err = a.patterns.CoRetrievalCounts(dbc, ownerID, coRetrievalWindow); err != nil {
		return nil, err
	}

	return data, nil
}

// buildCitations resolves each candidate's source chain. Candidates whose
// backing note has vanished are dropped; indices are contiguous 1-based
// over the survivors so they line up with [n] markers.
func buildCitations(candidates []Candidate, data *chainData) []RichCitation {
	kept := make([]RichCitation, 0, len(candidates))
	for _, c := range candidates {
		var note *types.Note
		if c.NoteID != nil {
			note = data.notes[*c.NoteID]
			if note == nil && (c.SourceType == types.EntityNote || c.SourceType == types.EntityChunk) {
				continue
			}
		}

		title, content := c.Title, c.Content
		if note != nil {
			if title == "" {
				title = note.Title
			}
			if content == "" {
				content = note.Content
			}
		}
		if title == "" && content == "" {
			continue
		}

		cite := RichCitation{
			SourceType:      c.SourceType,
			SourceID:        c.SourceID,
			NoteID:          c.NoteID,
			Title:           title,
			Preview:         truncateRunes(content, citationPreviewChars),
			URL:             deepLink(c),
			Score:           c.FinalScore,
			RetrievalMethod: c.RetrievalMethod,
			OriginType:      types.OriginManual,
			Content:         content,
		}

		switch c.SourceType {
		case types.EntityDocumentChunk:
			cite.OriginType = types.OriginDocumentAnalysis
			cite.OriginID = c.DocumentID
		case types.EntityImage:
			cite.OriginType = types.OriginImageAnalysis
			id := c.SourceID
			cite.OriginID = &id
		default:
			if c.NoteID != nil {
				if d := data.docOrigins[*c.NoteID]; d != nil {
					cite.OriginType = types.OriginDocumentAnalysis
					id := d.ID
					cite.OriginID = &id
				} else if im := data.imageOrigins[*c.NoteID]; im != nil {
					cite.OriginType = types.OriginImageAnalysis
					id := im.ID
					cite.OriginID = &id
				}
			}
		}

		if note != nil {
			if note.CommunityID != nil {
				cite.CommunityID = note.CommunityID
				if meta := data.communities[*note.CommunityID]; meta != nil {
					cite.CommunityName = communityLabel(meta)
					cite.TopTerms = decodeTerms(meta.TopTerms)
				}
			}
			cite.Tags = data.tagsByNote[note.ID]
			cite.Wikilinks = outgoingTitles(note.ID, data)
		}

		kept = append(kept, cite)
	}

	for i := range kept {
		kept[i].Index = i + 1
	}
	attachConnectionPaths(kept, data)
	return kept
}

func outgoingTitles(noteID uuid.UUID, data *chainData) []string {
	targets := data.outgoing[noteID]
	if len(targets) == 0 {
		return nil
	}
	titles := make([]string, 0, len(targets))
	for id := range targets {
		if t := data.titles[id]; t != "" {
			titles = append(titles, t)
		}
	}
	sort.Strings(titles)
	if len(titles) > maxWikilinksPerCite {
		titles = titles[:maxWikilinksPerCite]
	}
	return titles
}

// attachConnectionPaths records, per citation, the shortest wikilink path
// (up to 2 hops) to each other note-backed citation.
func attachConnectionPaths(cites []RichCitation, data *chainData) {
	for i := range cites {
		if cites[i].NoteID == nil {
			continue
		}
		from := *cites[i].NoteID
		var paths []string
		for j := range cites {
			if i == j || cites[j].NoteID == nil {
				continue
			}
			to := *cites[j].NoteID
			if from == to {
				continue
			}
			if data.neighbors[from][to] {
				paths = append(paths, fmt.Sprintf("%s -> %s", cites[i].Title, cites[j].Title))
				continue
			}
			if via, ok := sharedNeighbor(from, to, data); ok {
				paths = append(paths, fmt.Sprintf("%s -> %s -> %s", cites[i].Title, data.titles[via], cites[j].Title))
			}
		}
		if len(paths) > maxPathsPerCite {
			paths = paths[:maxPathsPerCite]
		}
		cites[i].ConnectionPaths = paths
	}
}

// sharedNeighbor picks a deterministic intermediate node linked to both
// endpoints, preferring the one with the lexically smallest title.
func sharedNeighbor(a, b uuid.UUID, data *chainData) (uuid.UUID, bool) {
	var best uuid.UUID
	var bestTitle string
	found := false
	for x := range data.neighbors[a] {
		if x == a || x == b || !data.neighbors[b][x] {
			continue
		}
		t := data.titles[x]
		if t == "" {
			continue
		}
		if !found || t < bestTitle || (t == bestTitle && x.String() < best.String()) {
			best, bestTitle, found = x, t, true
		}
	}
	return best, found
}

func deepLink(c Candidate) string {
	switch c.SourceType {
	case types.EntityDocumentChunk:
		if c.DocumentID != nil {
			if c.PageNumber > 0 {
				return fmt.Sprintf("/documents/%s?page=%d", c.DocumentID, c.PageNumber)
			}
			return "/documents/" + c.DocumentID.String()
		}
	case types.EntityImage:
		return "/images/" + c.SourceID.String()
	default:
		if c.NoteID != nil {
			return "/notes/" + c.NoteID.String()
		}
	}
	return ""
}

func communityLabel(meta *types.CommunityMetadata) string {
	if meta.Label != "" {
		return meta.Label
	}
	return "community " + strconv.Itoa(meta.CommunityID)
}

func decodeTerms(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var terms []string
	if err := json.Unmarshal(raw, &terms); err != nil {
		return nil
	}
	return terms
}

const systemPromptHeader = `You are NEXUS, the retrieval engine of a personal knowledge base. Answer the question using ONLY the numbered sources below. Cite every claim with its bracketed source number, like [1] or [2][3]. If the sources do not contain the answer, say so plainly instead of guessing.

SOURCES:

`

// packPrompt appends citation blocks in rank order until the next block
// would exceed the token budget. Returns the prompt, how many citations
// were included, the approximate token total, and whether packing was
// cut short.
func packPrompt(citations []RichCitation, budget int) (string, int, int, bool) {
	var b strings.Builder
	b.WriteString(systemPromptHeader)
	tokens := tokensApprox(systemPromptHeader)

	if len(citations) == 0 {
		tail := "No sources matched this query.\n"
		b.WriteString(tail)
		return b.String(), 0, tokens + tokensApprox(tail), false
	}

	included := 0
	truncated := false
	for _, c := range citations {
		block := citationBlock(c)
		cost := tokensApprox(block)
		if tokens+cost > budget {
			if included == 0 {
				// Even the first block does not fit whole. Cut its preview
				// down so the model still gets one source without blowing
				// the budget; the header line names it either way.
				if fitted := fitBlock(c, budget-tokens); fitted != "" {
					b.WriteString(fitted)
					tokens += tokensApprox(fitted)
					included++
				}
			}
			truncated = true
			break
		}
		b.WriteString(block)
		tokens += cost
		included++
	}
	return b.String(), included, tokens, truncated
}

// fitBlock rebuilds a citation block with progressively shorter previews
// until it fits the token allowance. Returns "" when not even the bare
// header line fits.
func fitBlock(c RichCitation, allowance int) string {
	preview := blockPreviewChars
	for {
		preview /= 2
		trimmed := c
		trimmed.Content = truncateRunes(c.Content, preview)
		block := citationBlock(trimmed)
		if tokensApprox(block) <= allowance {
			return block
		}
		if preview == 0 {
			return ""
		}
	}
}

func citationBlock(c RichCitation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s (%s)\n", c.Index, c.Title, c.SourceType)
	if c.CommunityName != "" {
		fmt.Fprintf(&b, "Community: %s\n", c.CommunityName)
	}
	if len(c.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(c.Tags, ", "))
	}
	b.WriteString(truncateRunes(c.Content, blockPreviewChars))
	b.WriteString("\n\n")
	return b.String()
}

// deriveInsights emits one relationship per pair of included citations,
// strongest kind first, until the character budget runs out.
func deriveInsights(included []RichCitation, data *chainData, charBudget int) []ConnectionInsight {
	var out []ConnectionInsight
	used := 0
	for i := 0; i < len(included); i++ {
		for j := i + 1; j < len(included); j++ {
			a, b := included[i], included[j]
			if a.NoteID == nil || b.NoteID == nil {
				continue
			}
			ins, ok := pairInsight(a, b, data)
			if !ok {
				continue
			}
			if used+len(ins.Description) > charBudget {
				return out
			}
			used += len(ins.Description)
			out = append(out, ins)
		}
	}
	return out
}

func pairInsight(a, b RichCitation, data *chainData) (ConnectionInsight, bool) {
	ins := ConnectionInsight{FromIndex: a.Index, ToIndex: b.Index}
	an, bn := *a.NoteID, *b.NoteID

	switch {
	case data.outgoing[an][bn]:
		ins.Type = InsightWikilink
		ins.Description = fmt.Sprintf("%q links to %q", a.Title, b.Title)
	case data.outgoing[bn][an]:
		ins.Type = InsightWikilink
		ins.Description = fmt.Sprintf("%q links to %q", b.Title, a.Title)
	case a.CommunityID != nil && b.CommunityID != nil && *a.CommunityID == *b.CommunityID:
		ins.Type = InsightSharedCommunity
		name := a.CommunityName
		if name == "" {
			name = "community " + strconv.Itoa(*a.CommunityID)
		}
		ins.Description = fmt.Sprintf("%q and %q are both in %s", a.Title, b.Title, name)
	default:
		if shared := sharedStrings(a.Tags, b.Tags); len(shared) > 0 {
			if len(shared) > 3 {
				shared = shared[:3]
			}
			ins.Type = InsightSharedTag
			ins.Description = fmt.Sprintf("%q and %q share tags: %s", a.Title, b.Title, strings.Join(shared, ", "))
			break
		}
		if n := data.coCounts[pairKey(an, bn)]; n > 0 {
			ins.Type = InsightCoRetrieval
			ins.Description = fmt.Sprintf("%q and %q appeared together in %d earlier queries", a.Title, b.Title, n)
			break
		}
		return ConnectionInsight{}, false
	}
	return ins, true
}

// pairKey orders two ids the way AccessPatternRepo keys co-retrieval
// counts: smaller UUID string first.
func pairKey(a, b uuid.UUID) [2]uuid.UUID {
	if a.String() <= b.String() {
		return [2]uuid.UUID{a, b}
	}
	return [2]uuid.UUID{b, a}
}

func sharedStrings(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	set := map[string]bool{}
	for _, s := range a {
		set[s] = true
	}
	var out []string
	for _, s := range b {
		if set[s] {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// deriveSuggestions surfaces the largest communities and the most-used
// tags the included citations did not touch.
func deriveSuggestions(included []RichCitation, data *chainData) []ExplorationSuggestion {
	coveredCommunities := map[int]bool{}
	coveredTags := map[string]bool{}
	for _, c := range included {
		if c.CommunityID != nil {
			coveredCommunities[*c.CommunityID] = true
		}
		for _, t := range c.Tags {
			coveredTags[t] = true
		}
	}

	var out []ExplorationSuggestion

	metas := make([]*types.CommunityMetadata, 0, len(data.communities))
	for _, m := range data.communities {
		if !coveredCommunities[m.CommunityID] {
			metas = append(metas, m)
		}
	}
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].NodeCount != metas[j].NodeCount {
			return metas[i].NodeCount > metas[j].NodeCount
		}
		return metas[i].CommunityID < metas[j].CommunityID
	})
	for i := 0; i < len(metas) && i < maxCommunitySuggest; i++ {
		m := metas[i]
		reason := fmt.Sprintf("%d notes in this community were not drawn on", m.NodeCount)
		if terms := decodeTerms(m.TopTerms); len(terms) > 0 {
			if len(terms) > 3 {
				terms = terms[:3]
			}
			reason = fmt.Sprintf("%d notes about %s were not drawn on", m.NodeCount, strings.Join(terms, ", "))
		}
		out = append(out, ExplorationSuggestion{
			Type:   "community",
			Label:  communityLabel(m),
			Reason: reason,
		})
	}

	added := 0
	for _, tc := range data.tagCounts {
		if added >= maxTagSuggest {
			break
		}
		if coveredTags[tc.Name] {
			continue
		}
		out = append(out, ExplorationSuggestion{
			Type:   "tag",
			Label:  "#" + tc.Name,
			Reason: fmt.Sprintf("%d notes tagged #%s were not drawn on", tc.Count, tc.Name),
		})
		added++
	}

	return out
}

var citationMarkerRe = regexp.MustCompile(`\[(\d+)\]`)

// ExtractUsedIndices scans generated text for [n] citation markers and
// returns the distinct in-range indices, ascending.
func ExtractUsedIndices(text string, maxIndex int) []int {
	if text == "" || maxIndex <= 0 {
		return nil
	}
	seen := map[int]bool{}
	for _, m := range citationMarkerRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > maxIndex {
			continue
		}
		seen[n] = true
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func tokensApprox(s string) int {
	return len(s) / 4
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
