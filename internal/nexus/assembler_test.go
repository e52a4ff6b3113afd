package nexus

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

func emptyChainData() *chainData {
	return &chainData{
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
}

func noteCandidate(id uuid.UUID, title, content string) Candidate {
	nid := id
	return Candidate{
		SourceType:      types.EntityNote,
		SourceID:        id,
		NoteID:          &nid,
		Title:           title,
		Content:         content,
		FinalScore:      0.8,
		RetrievalMethod: "vector",
	}
}

func TestBuildCitationsHydratesFromNote(t *testing.T) {
	id := uuid.New()
	data := emptyChainData()
	data.notes[id] = &types.Note{ID: id, Title: "Docker Basics", Content: "containers everywhere"}
	data.titles[id] = "Docker Basics"

	// A diffusion-only candidate arrives with no title or content.
	nid := id
	cand := Candidate{SourceType: types.EntityNote, SourceID: id, NoteID: &nid, FinalScore: 0.4, RetrievalMethod: "diffusion"}

	got := buildCitations([]Candidate{cand}, data)
	if len(got) != 1 {
		t.Fatalf("got %d citations, want 1", len(got))
	}
	c := got[0]
	if c.Title != "Docker Basics" || !strings.Contains(c.Preview, "containers") {
		t.Fatalf("citation not hydrated: title=%q preview=%q", c.Title, c.Preview)
	}
	if c.Index != 1 {
		t.Fatalf("index = %d, want 1", c.Index)
	}
	if c.URL != "/notes/"+id.String() {
		t.Fatalf("url = %q", c.URL)
	}
	if c.OriginType != types.OriginManual {
		t.Fatalf("origin = %q, want manual", c.OriginType)
	}
}

func TestBuildCitationsSkipsVanishedNotes(t *testing.T) {
	gone, alive := uuid.New(), uuid.New()
	data := emptyChainData()
	data.notes[alive] = &types.Note{ID: alive, Title: "Kept", Content: "still here"}

	got := buildCitations([]Candidate{
		noteCandidate(gone, "", ""),
		noteCandidate(alive, "", ""),
	}, data)
	if len(got) != 1 {
		t.Fatalf("got %d citations, want 1", len(got))
	}
	if got[0].Title != "Kept" || got[0].Index != 1 {
		t.Fatalf("surviving citation misnumbered: %+v", got[0])
	}
}

func TestBuildCitationsResolvesOrigins(t *testing.T) {
	fromDoc, fromImg, manual := uuid.New(), uuid.New(), uuid.New()
	docID, imgID := uuid.New(), uuid.New()

	data := emptyChainData()
	for _, id := range []uuid.UUID{fromDoc, fromImg, manual} {
		data.notes[id] = &types.Note{ID: id, Title: "n", Content: "c"}
	}
	snDoc, snImg := fromDoc, fromImg
	data.docOrigins[fromDoc] = &types.Document{ID: docID, SummaryNoteID: &snDoc}
	data.imageOrigins[fromImg] = &types.Image{ID: imgID, SummaryNoteID: &snImg}

	got := buildCitations([]Candidate{
		noteCandidate(fromDoc, "a", "x"),
		noteCandidate(fromImg, "b", "y"),
		noteCandidate(manual, "c", "z"),
	}, data)
	if len(got) != 3 {
		t.Fatalf("got %d citations", len(got))
	}
	if got[0].OriginType != types.OriginDocumentAnalysis || got[0].OriginID == nil || *got[0].OriginID != docID {
		t.Fatalf("document origin not resolved: %+v", got[0])
	}
	if got[1].OriginType != types.OriginImageAnalysis || got[1].OriginID == nil || *got[1].OriginID != imgID {
		t.Fatalf("image origin not resolved: %+v", got[1])
	}
	if got[2].OriginType != types.OriginManual || got[2].OriginID != nil {
		t.Fatalf("manual origin not resolved: %+v", got[2])
	}
}

func TestBuildCitationsDocumentChunkAndImage(t *testing.T) {
	docID, imgID := uuid.New(), uuid.New()
	chunkID := uuid.New()

	did := docID
	chunk := Candidate{
		SourceType: types.EntityDocumentChunk,
		SourceID:   chunkID,
		DocumentID: &did,
		Title:      "paper.pdf",
		Content:    "page text",
		PageNumber: 3,
	}
	img := Candidate{
		SourceType: types.EntityImage,
		SourceID:   imgID,
		Title:      "whiteboard.png",
		Content:    "diagram of the pipeline",
	}

	got := buildCitations([]Candidate{chunk, img}, emptyChainData())
	if len(got) != 2 {
		t.Fatalf("got %d citations", len(got))
	}
	if got[0].URL != "/documents/"+docID.String()+"?page=3" {
		t.Fatalf("chunk url = %q", got[0].URL)
	}
	if got[0].OriginType != types.OriginDocumentAnalysis {
		t.Fatalf("chunk origin = %q", got[0].OriginType)
	}
	if got[1].URL != "/images/"+imgID.String() {
		t.Fatalf("image url = %q", got[1].URL)
	}
	if got[1].OriginType != types.OriginImageAnalysis || got[1].OriginID == nil || *got[1].OriginID != imgID {
		t.Fatalf("image origin = %+v", got[1])
	}
}

func TestBuildCitationsCommunityTagsLinks(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	cid := 7
	data := emptyChainData()
	data.notes[a] = &types.Note{ID: a, Title: "A", Content: "x", CommunityID: &cid}
	data.notes[b] = &types.Note{ID: b, Title: "B", Content: "y"}
	data.titles[a], data.titles[b] = "A", "B"
	data.communities[7] = &types.CommunityMetadata{
		CommunityID: 7,
		Label:       "Infrastructure",
		TopTerms:    datatypes.JSON([]byte(`["docker","k8s"]`)),
	}
	data.tagsByNote[a] = []string{"devops"}
	data.outgoing[a] = map[uuid.UUID]bool{b: true}
	data.neighbors[a] = map[uuid.UUID]bool{b: true}
	data.neighbors[b] = map[uuid.UUID]bool{a: true}

	got := buildCitations([]Candidate{
		noteCandidate(a, "A", "x"),
		noteCandidate(b, "B", "y"),
	}, data)
	if len(got) != 2 {
		t.Fatalf("got %d citations", len(got))
	}
	first := got[0]
	if first.CommunityID == nil || *first.CommunityID != 7 || first.CommunityName != "Infrastructure" {
		t.Fatalf("community not attached: %+v", first)
	}
	if len(first.TopTerms) != 2 || first.TopTerms[0] != "docker" {
		t.Fatalf("top terms = %v", first.TopTerms)
	}
	if len(first.Tags) != 1 || first.Tags[0] != "devops" {
		t.Fatalf("tags = %v", first.Tags)
	}
	if len(first.Wikilinks) != 1 || first.Wikilinks[0] != "B" {
		t.Fatalf("wikilinks = %v", first.Wikilinks)
	}
	if len(first.ConnectionPaths) != 1 || first.ConnectionPaths[0] != "A -> B" {
		t.Fatalf("paths = %v", first.ConnectionPaths)
	}
}

func TestAttachConnectionPathsTwoHop(t *testing.T) {
	a, b, via := uuid.New(), uuid.New(), uuid.New()
	data := emptyChainData()
	data.notes[a] = &types.Note{ID: a, Title: "A", Content: "x"}
	data.notes[b] = &types.Note{ID: b, Title: "B", Content: "y"}
	data.titles[a], data.titles[b], data.titles[via] = "A", "B", "Middle"
	data.neighbors[a] = map[uuid.UUID]bool{via: true}
	data.neighbors[b] = map[uuid.UUID]bool{via: true}
	data.neighbors[via] = map[uuid.UUID]bool{a: true, b: true}

	got := buildCitations([]Candidate{
		noteCandidate(a, "A", "x"),
		noteCandidate(b, "B", "y"),
	}, data)
	if len(got[0].ConnectionPaths) != 1 || got[0].ConnectionPaths[0] != "A -> Middle -> B" {
		t.Fatalf("paths = %v", got[0].ConnectionPaths)
	}
	if len(got[1].ConnectionPaths) != 1 || got[1].ConnectionPaths[0] != "B -> Middle -> A" {
		t.Fatalf("reverse paths = %v", got[1].ConnectionPaths)
	}
}

func TestPackPromptBudget(t *testing.T) {
	long := strings.Repeat("alpha bravo charlie ", 40) // ~800 chars → ~200 tokens each
	cites := []RichCitation{
		{Index: 1, Title: "One", SourceType: types.EntityNote, Content: long},
		{Index: 2, Title: "Two", SourceType: types.EntityNote, Content: long},
		{Index: 3, Title: "Three", SourceType: types.EntityNote, Content: long},
	}

	headerTokens := tokensApprox(systemPromptHeader)
	prompt, included, tokens, truncated := packPrompt(cites, headerTokens+320)
	if included != 2 {
		t.Fatalf("included = %d, want 2", included)
	}
	if !truncated {
		t.Fatal("expected truncated=true")
	}
	if !strings.Contains(prompt, "[1] One (note)") || !strings.Contains(prompt, "[2] Two (note)") {
		t.Fatal("prompt missing packed blocks")
	}
	if strings.Contains(prompt, "[3] Three") {
		t.Fatal("prompt should not contain the overflow block")
	}
	if tokens > headerTokens+320 {
		t.Fatalf("token accounting exceeded budget: %d", tokens)
	}
}

func TestPackPromptShrinksOversizedFirstBlock(t *testing.T) {
	cites := []RichCitation{{Index: 1, Title: "Only", SourceType: types.EntityNote, Content: strings.Repeat("x", 4000)}}
	budget := 150
	prompt, included, tokens, truncated := packPrompt(cites, budget)
	if included != 1 || !truncated {
		t.Fatalf("included=%d truncated=%v, want 1/true", included, truncated)
	}
	if tokens > budget {
		t.Fatalf("tokens = %d, exceeds budget %d", tokens, budget)
	}
	if !strings.Contains(prompt, "[1] Only") {
		t.Fatal("first block header missing")
	}
}

func TestPackPromptSkipsFirstBlockWithoutAnyRoom(t *testing.T) {
	cites := []RichCitation{{Index: 1, Title: "Only", SourceType: types.EntityNote, Content: "short"}}
	_, included, _, truncated := packPrompt(cites, tokensApprox(systemPromptHeader))
	if included != 0 || !truncated {
		t.Fatalf("included=%d truncated=%v, want 0/true", included, truncated)
	}
}

func TestPackPromptEmpty(t *testing.T) {
	prompt, included, _, truncated := packPrompt(nil, 100)
	if included != 0 || truncated {
		t.Fatalf("included=%d truncated=%v", included, truncated)
	}
	if !strings.Contains(prompt, "No sources matched") {
		t.Fatal("empty prompt should say no sources matched")
	}
}

func TestDeriveInsightsPriorityAndBudget(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	cid := 3
	data := emptyChainData()
	data.outgoing[a] = map[uuid.UUID]bool{b: true}
	data.coCounts[pairKey(a, c)] = 4

	na, nb, nc := a, b, c
	cites := []RichCitation{
		{Index: 1, NoteID: &na, Title: "A", CommunityID: &cid, CommunityName: "Infra", Tags: []string{"go"}},
		{Index: 2, NoteID: &nb, Title: "B", CommunityID: &cid, CommunityName: "Infra", Tags: []string{"go"}},
		{Index: 3, NoteID: &nc, Title: "C"},
	}

	got := deriveInsights(cites, data, insightCharBudget)
	if len(got) != 2 {
		t.Fatalf("got %d insights: %+v", len(got), got)
	}
	// A→B has a direct wikilink, which outranks their shared community
	// and shared tag.
	if got[0].Type != InsightWikilink || got[0].FromIndex != 1 || got[0].ToIndex != 2 {
		t.Fatalf("first insight = %+v", got[0])
	}
	if !strings.Contains(got[0].Description, `"A" links to "B"`) {
		t.Fatalf("description = %q", got[0].Description)
	}
	if got[1].Type != InsightCoRetrieval || got[1].ToIndex != 3 {
		t.Fatalf("second insight = %+v", got[1])
	}
	if !strings.Contains(got[1].Description, "4 earlier queries") {
		t.Fatalf("description = %q", got[1].Description)
	}

	// A one-character budget stops emission immediately.
	if got := deriveInsights(cites, data, 1); len(got) != 0 {
		t.Fatalf("budget ignored: %+v", got)
	}
}

func TestDeriveInsightsSharedCommunityAndTags(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	cid := 9
	na, nb := a, b
	data := emptyChainData()

	community := []RichCitation{
		{Index: 1, NoteID: &na, Title: "A", CommunityID: &cid, CommunityName: "Gardening"},
		{Index: 2, NoteID: &nb, Title: "B", CommunityID: &cid, CommunityName: "Gardening"},
	}
	got := deriveInsights(community, data, insightCharBudget)
	if len(got) != 1 || got[0].Type != InsightSharedCommunity {
		t.Fatalf("insights = %+v", got)
	}

	tags := []RichCitation{
		{Index: 1, NoteID: &na, Title: "A", Tags: []string{"soil", "compost"}},
		{Index: 2, NoteID: &nb, Title: "B", Tags: []string{"compost"}},
	}
	got = deriveInsights(tags, data, insightCharBudget)
	if len(got) != 1 || got[0].Type != InsightSharedTag {
		t.Fatalf("insights = %+v", got)
	}
	if !strings.Contains(got[0].Description, "compost") {
		t.Fatalf("description = %q", got[0].Description)
	}
}

func TestDeriveSuggestions(t *testing.T) {
	coveredID := 1
	data := emptyChainData()
	data.communities[1] = &types.CommunityMetadata{CommunityID: 1, Label: "Covered", NodeCount: 50}
	data.communities[2] = &types.CommunityMetadata{
		CommunityID: 2, Label: "Music", NodeCount: 20,
		TopTerms: datatypes.JSON([]byte(`["jazz","theory"]`)),
	}
	data.communities[3] = &types.CommunityMetadata{CommunityID: 3, NodeCount: 40}
	data.tagCounts = []repos.TagCount{
		{Name: "covered-tag", Count: 9},
		{Name: "piano", Count: 5},
	}

	id := uuid.New()
	nid := id
	included := []RichCitation{{Index: 1, NoteID: &nid, Title: "A", CommunityID: &coveredID, Tags: []string{"covered-tag"}}}

	got := deriveSuggestions(included, data)
	if len(got) != 3 {
		t.Fatalf("got %d suggestions: %+v", len(got), got)
	}
	// Largest uncovered community first; community 3 has no label.
	if got[0].Type != "community" || got[0].Label != "community 3" {
		t.Fatalf("first suggestion = %+v", got[0])
	}
	if got[1].Label != "Music" || !strings.Contains(got[1].Reason, "jazz") {
		t.Fatalf("second suggestion = %+v", got[1])
	}
	if got[2].Type != "tag" || got[2].Label != "#piano" {
		t.Fatalf("tag suggestion = %+v", got[2])
	}
}

func TestExtractUsedIndices(t *testing.T) {
	cases := []struct {
		name string
		text string
		max  int
		want []int
	}{
		{"simple", "Per [1], containers share the kernel [2].", 3, []int{1, 2}},
		{"dedupe and sort", "[3] then [1] then [3] again", 3, []int{1, 3}},
		{"out of range dropped", "see [4] and [0] and [2]", 3, []int{2}},
		{"no markers", "plain prose", 3, nil},
		{"empty", "", 3, nil},
		{"adjacent markers", "claim[1][2]", 2, []int{1, 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractUsedIndices(tc.text, tc.max)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	got := truncateRunes("ありがとうございます", 5)
	if len([]rune(got)) != 5 {
		t.Fatalf("rune length = %d, want 5", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
}

func TestPairKeyOrdersBySmallerString(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")
	if pairKey(a, b) != pairKey(b, a) {
		t.Fatal("pair key must be order independent")
	}
	if pairKey(a, b)[0] != a {
		t.Fatal("smaller UUID string must come first")
	}
}
