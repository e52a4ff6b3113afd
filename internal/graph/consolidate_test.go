package graph

import (
	"math"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

func embeddedNote(title string, vec []float32) *types.Note {
	v := pgvector.NewVector(vec)
	return &types.Note{ID: uuid.New(), Title: title, Embedding: &v}
}

func link(from, to uuid.UUID) *types.NoteLink {
	return &types.NoteLink{SourceNoteID: from, TargetNoteID: to}
}

func TestPageRankScores(t *testing.T) {
	a := &types.Note{ID: uuid.New(), Title: "a"}
	b := &types.Note{ID: uuid.New(), Title: "b"}
	c := &types.Note{ID: uuid.New(), Title: "c"}
	isolated := &types.Note{ID: uuid.New(), Title: "d"}
	notes := []*types.Note{a, b, c, isolated}
	links := []*types.NoteLink{link(a.ID, b.ID), link(c.ID, b.ID)}

	scores := pageRankScores(notes, links)
	if len(scores) != 4 {
		t.Fatalf("scored %d notes, want 4", len(scores))
	}
	if scores[b.ID] <= scores[a.ID] || scores[b.ID] <= scores[c.ID] {
		t.Fatalf("hub should outrank spokes: %v", scores)
	}
	if scores[isolated.ID] <= 0 {
		t.Fatalf("isolated note got no teleport mass: %v", scores[isolated.ID])
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Fatalf("ranks should sum to 1, got %v", sum)
	}
}

func TestDetectCommunitiesTwoTriangles(t *testing.T) {
	notes := make([]*types.Note, 6)
	for i := range notes {
		notes[i] = &types.Note{ID: uuid.New()}
	}
	triangle := func(i, j, k int) []*types.NoteLink {
		return []*types.NoteLink{
			link(notes[i].ID, notes[j].ID),
			link(notes[j].ID, notes[k].ID),
			link(notes[k].ID, notes[i].ID),
		}
	}
	links := append(triangle(0, 1, 2), triangle(3, 4, 5)...)
	// single bridge between the clusters
	links = append(links, link(notes[2].ID, notes[3].ID))

	groups := DetectCommunities(notes, links, nil)
	if len(groups) != 2 {
		t.Fatalf("got %d communities, want 2: %v", len(groups), groups)
	}
	members := func(g []uuid.UUID) map[uuid.UUID]bool {
		m := make(map[uuid.UUID]bool)
		for _, id := range g {
			m[id] = true
		}
		return m
	}
	all := map[uuid.UUID]bool{}
	for _, g := range groups {
		if len(g) != 3 {
			t.Fatalf("community size %d, want 3", len(g))
		}
		for id := range members(g) {
			all[id] = true
		}
	}
	if len(all) != 6 {
		t.Fatalf("groups should cover all notes, covered %d", len(all))
	}
	// first triangle must land whole in one group
	first := members(groups[0])
	sameSide := first[notes[0].ID]
	for _, i := range []int{1, 2} {
		if first[notes[i].ID] != sameSide {
			t.Fatalf("triangle split across communities: %v", groups)
		}
	}

	again := DetectCommunities(notes, links, nil)
	if !reflect.DeepEqual(groups, again) {
		t.Fatalf("detection not deterministic:\n%v\n%v", groups, again)
	}
}

func TestDetectCommunitiesDropsSingletons(t *testing.T) {
	a := &types.Note{ID: uuid.New()}
	b := &types.Note{ID: uuid.New()}
	loner := &types.Note{ID: uuid.New()}
	groups := DetectCommunities([]*types.Note{a, b, loner}, []*types.NoteLink{link(a.ID, b.ID)}, nil)

	if len(groups) != 1 || len(groups[0]) != 2 {
		t.Fatalf("groups = %v, want one pair", groups)
	}
	for _, id := range groups[0] {
		if id == loner.ID {
			t.Fatal("singleton should not be grouped")
		}
	}
}

func TestDetectCommunitiesUsesSemanticEdges(t *testing.T) {
	a := &types.Note{ID: uuid.New()}
	b := &types.Note{ID: uuid.New()}
	edges := []*types.SemanticEdge{{SourceID: a.ID, TargetID: b.ID, SimilarityScore: 0.9}}

	groups := DetectCommunities([]*types.Note{a, b}, nil, edges)
	if len(groups) != 1 || len(groups[0]) != 2 {
		t.Fatalf("semantic-only pair should cluster: %v", groups)
	}
}

func TestCommunityTerms(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	titles := map[uuid.UUID]string{
		ids[0]: "Docker networking basics",
		ids[1]: "Docker compose for the homelab",
		ids[2]: "Kubernetes ingress",
	}
	tags := map[uuid.UUID][]string{
		ids[0]: {"infra"},
		ids[1]: {"infra"},
	}

	terms := communityTerms(ids, titles, tags)
	if len(terms) == 0 || terms[0] != "infra" {
		// infra: 2 tags × double weight = 4, docker: 2
		t.Fatalf("terms = %v, want infra first", terms)
	}
	if terms[1] != "docker" {
		t.Fatalf("terms = %v, want docker second", terms)
	}
	if len(terms) > maxTopTerms {
		t.Fatalf("terms not capped: %v", terms)
	}
	for _, term := range terms {
		if term == "the" || term == "for" {
			t.Fatalf("stopword survived: %v", terms)
		}
	}
}

func TestTokenizeTerms(t *testing.T) {
	got := tokenizeTerms("The Quick-Brown Fox, of 2024!")
	want := []string{"quick", "brown", "fox", "2024"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tokenizeTerms = %v, want %v", got, want)
	}
}

func TestCommunityLabelFromTerms(t *testing.T) {
	if got := communityLabelFromTerms([]string{"docker", "infra"}); got != "Docker" {
		t.Fatalf("label = %q", got)
	}
	if got := communityLabelFromTerms(nil); got != "" {
		t.Fatalf("empty terms should yield empty label, got %q", got)
	}
}

func TestPairwiseEdges(t *testing.T) {
	owner := uuid.New()
	a := embeddedNote("a", []float32{1, 0})
	b := embeddedNote("b", []float32{1, 0})
	c := embeddedNote("c", []float32{0, 1})

	edges, keep := pairwiseEdges(owner, []*types.Note{a, b, c}, 0.7)
	if len(edges) != 1 {
		t.Fatalf("got %d edges, want 1", len(edges))
	}
	e := edges[0]
	if e.SourceID.String() > e.TargetID.String() {
		t.Fatalf("edge not in canonical order: %s > %s", e.SourceID, e.TargetID)
	}
	if e.SimilarityScore < 0.999 {
		t.Fatalf("similarity = %v, want ~1", e.SimilarityScore)
	}
	if e.SourceType != types.EntityNote || e.TargetType != types.EntityNote {
		t.Fatalf("edge types = %s/%s", e.SourceType, e.TargetType)
	}
	if !keep[[2]uuid.UUID{e.SourceID, e.TargetID}] || len(keep) != 1 {
		t.Fatalf("keep set = %v", keep)
	}
}

func TestCanonicalPair(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")
	x, y := canonicalPair(b, a)
	if x != a || y != b {
		t.Fatalf("canonicalPair did not order: %s, %s", x, y)
	}
	x, y = canonicalPair(a, b)
	if x != a || y != b {
		t.Fatalf("already-ordered pair changed: %s, %s", x, y)
	}
}

func TestMissingSuggestions(t *testing.T) {
	owner := uuid.New()
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	strong := []*types.SemanticEdge{
		{SourceID: a, TargetID: b, SimilarityScore: 0.82},
		{SourceID: c, TargetID: d, SimilarityScore: 0.85},
	}
	// c→d already linked in reverse direction
	links := []*types.NoteLink{link(d, c)}

	got := missingSuggestions(owner, strong, links)
	if len(got) != 1 {
		t.Fatalf("got %d suggestions, want 1", len(got))
	}
	s := got[0]
	if s.SourceNoteID != a || s.TargetNoteID != b {
		t.Fatalf("suggestion pair = %s→%s", s.SourceNoteID, s.TargetNoteID)
	}
	if s.Status != types.SuggestionPending || s.Similarity != 0.82 {
		t.Fatalf("suggestion = %+v", s)
	}
}

func TestFormatCommunityMap(t *testing.T) {
	comms := []*types.CommunityMetadata{
		{CommunityID: 2, Label: "", NodeCount: 3, TopTerms: []byte(`["jazz","piano"]`)},
		{CommunityID: 1, Label: "Infrastructure", NodeCount: 2, TopTerms: []byte(`["docker","networking"]`)},
	}
	got := formatCommunityMap(comms)
	want := "[1] Infrastructure (2 notes): docker, networking\n[2] community 2 (3 notes): jazz, piano"
	if got != want {
		t.Fatalf("community map:\n%q\nwant:\n%q", got, want)
	}
	if formatCommunityMap(nil) != "" {
		t.Fatal("empty input should render empty map")
	}
}

func TestFormatTagOverview(t *testing.T) {
	got := formatTagOverview([]repos.TagCount{
		{Name: "docker", Count: 2},
		{Name: "cooking", Count: 1},
	})
	if got != "#docker (2), #cooking (1)" {
		t.Fatalf("tag overview = %q", got)
	}
	if formatTagOverview(nil) != "" {
		t.Fatal("empty counts should render empty overview")
	}
}

func TestGroupCentersAndMemberPositions(t *testing.T) {
	if centers := groupCenters(1); centers[0] != [2]float64{0, 0} {
		t.Fatalf("lone community should center at origin: %v", centers[0])
	}

	centers := groupCenters(3)
	seen := map[[2]float64]bool{}
	for _, ctr := range centers {
		r := math.Hypot(ctr[0], ctr[1])
		if math.Abs(r-communityRingRadius) > 1e-9 {
			t.Fatalf("center off ring: %v (r=%v)", ctr, r)
		}
		seen[ctr] = true
	}
	if len(seen) != 3 {
		t.Fatalf("centers collide: %v", centers)
	}

	x, y := memberPosition(centers[0], 0, 1)
	if x != centers[0][0] || y != centers[0][1] {
		t.Fatal("sole member should sit on the community center")
	}
	x, y = memberPosition(centers[0], 1, 4)
	d := math.Hypot(x-centers[0][0], y-centers[0][1])
	if math.Abs(d-memberRingRadius) > 1e-9 {
		t.Fatalf("member off ring: distance %v", d)
	}
}

func TestConsolidateOptionsWithDefaults(t *testing.T) {
	o := ConsolidateOptions{}.withDefaults()
	if o.EdgeThreshold != DefaultEdgeThreshold || o.MissingLinkThreshold != DefaultMissingLinkThreshold {
		t.Fatalf("defaults = %+v", o)
	}
	if o.MaxPairwiseNotes != DefaultMaxPairwiseNotes {
		t.Fatalf("pairwise cap = %d", o.MaxPairwiseNotes)
	}
	custom := ConsolidateOptions{EdgeThreshold: 0.5, MissingLinkThreshold: 0.9, MaxPairwiseNotes: 10}.withDefaults()
	if custom.EdgeThreshold != 0.5 || custom.MissingLinkThreshold != 0.9 || custom.MaxPairwiseNotes != 10 {
		t.Fatalf("explicit options overwritten: %+v", custom)
	}
}

func TestFailedSteps(t *testing.T) {
	res := &ConsolidationResult{Steps: []StepOutcome{
		{Step: StepPageRank, Status: StepStatusOK},
		{Step: StepCommunities, Status: StepStatusFailed, Detail: "boom"},
		{Step: StepSemanticEdges, Status: StepStatusSkipped},
		{Step: StepMissingLinks, Status: StepStatusFailed},
	}}
	got := res.FailedSteps()
	if !reflect.DeepEqual(got, []string{StepCommunities, StepMissingLinks}) {
		t.Fatalf("failed steps = %v", got)
	}
}
