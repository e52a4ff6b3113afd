package search

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

func TestOptionsNormalizedDefaults(t *testing.T) {
	o := Options{}.normalized()

	if o.Limit != DefaultLimit {
		t.Errorf("Limit = %d, want %d", o.Limit, DefaultLimit)
	}
	if o.Threshold != DefaultThreshold {
		t.Errorf("Threshold = %v, want %v", o.Threshold, DefaultThreshold)
	}
	if o.DateRange != RangeAll {
		t.Errorf("DateRange = %q, want %q", o.DateRange, RangeAll)
	}
	if o.SortBy != SortRelevance {
		t.Errorf("SortBy = %q, want %q", o.SortBy, SortRelevance)
	}
	if o.SemanticWeight != DefaultSemanticWeight || o.FulltextWeight != DefaultFulltextWeight {
		t.Errorf("weights = %v/%v, want %v/%v",
			o.SemanticWeight, o.FulltextWeight, DefaultSemanticWeight, DefaultFulltextWeight)
	}
	if o.BothBoost != DefaultBothBoost {
		t.Errorf("BothBoost = %v, want %v", o.BothBoost, DefaultBothBoost)
	}
}

func TestOptionsNormalizedKeepsExplicit(t *testing.T) {
	o := Options{Limit: 5, Threshold: 0.6, DateRange: RangeWeek, SortBy: SortTitle}.normalized()

	if o.Limit != 5 || o.Threshold != 0.6 || o.DateRange != RangeWeek || o.SortBy != SortTitle {
		t.Errorf("explicit options were overwritten: %+v", o)
	}
}

func TestSourceTypes(t *testing.T) {
	all := []string{types.EntityNote, types.EntityChunk, types.EntityDocumentChunk, types.EntityImage}

	tests := []struct {
		name      string
		requested []string
		want      []string
	}{
		{"empty means all", nil, all},
		{"subset preserved in canonical order", []string{types.EntityImage, types.EntityNote}, []string{types.EntityNote, types.EntityImage}},
		{"unknown dropped", []string{types.EntityNote, "bogus"}, []string{types.EntityNote}},
		{"all unknown yields nothing", []string{"bogus", "document"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Options{SourceTypes: tt.requested}.sourceTypes()
			if len(got) != len(tt.want) {
				t.Fatalf("sourceTypes() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("sourceTypes() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestSinceFor(t *testing.T) {
	now := time.Date(2025, time.March, 15, 14, 30, 0, 0, time.UTC)

	if got := sinceFor(RangeToday, now); !got.Equal(time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("today = %v, want start of day", got)
	}
	if got := sinceFor(RangeWeek, now); !got.Equal(now.AddDate(0, 0, -7)) {
		t.Errorf("week = %v", got)
	}
	if got := sinceFor(RangeMonth, now); !got.Equal(now.AddDate(0, -1, 0)) {
		t.Errorf("month = %v", got)
	}
	if got := sinceFor(RangeYear, now); !got.Equal(now.AddDate(-1, 0, 0)) {
		t.Errorf("year = %v", got)
	}
	if got := sinceFor(RangeAll, now); !got.IsZero() {
		t.Errorf("all = %v, want zero", got)
	}
	if got := sinceFor("", now); !got.IsZero() {
		t.Errorf("empty = %v, want zero", got)
	}
}

func TestToSemanticResultsAppliesThreshold(t *testing.T) {
	hits := []hit{
		{SourceID: uuid.New(), Similarity: 0.9},
		{SourceID: uuid.New(), Similarity: 0.31},
		{SourceID: uuid.New(), Similarity: 0.29},
	}

	got := toSemanticResults(types.EntityNote, hits, 0.3)

	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	for _, r := range got {
		if r.MatchedBy != MatchedSemantic {
			t.Errorf("MatchedBy = %q, want %q", r.MatchedBy, MatchedSemantic)
		}
		if r.Score != r.Similarity {
			t.Errorf("Score = %v, want similarity %v", r.Score, r.Similarity)
		}
		if r.SourceType != types.EntityNote {
			t.Errorf("SourceType = %q", r.SourceType)
		}
	}
}

func TestNormalizeRanks(t *testing.T) {
	results := []Result{
		{Rank: 0.08, MatchedBy: MatchedFulltext},
		{Rank: 0.04, MatchedBy: MatchedFulltext},
		{Similarity: 0.9, Score: 0.9, MatchedBy: MatchedSemantic},
	}

	normalizeRanks(results)

	if results[0].Rank != 1.0 || results[0].Score != 1.0 {
		t.Errorf("best lexical hit = rank %v score %v, want 1.0/1.0", results[0].Rank, results[0].Score)
	}
	if results[1].Rank != 0.5 || results[1].Score != 0.5 {
		t.Errorf("second hit = rank %v score %v, want 0.5/0.5", results[1].Rank, results[1].Score)
	}
	if results[2].Score != 0.9 {
		t.Errorf("semantic score changed to %v", results[2].Score)
	}
}

func TestNormalizeRanksNoLexicalHits(t *testing.T) {
	results := []Result{{Similarity: 0.8, Score: 0.8, MatchedBy: MatchedSemantic}}
	normalizeRanks(results)
	if results[0].Score != 0.8 {
		t.Errorf("Score = %v, want 0.8", results[0].Score)
	}
}

func TestMergeHybridBoostsAgreement(t *testing.T) {
	shared := uuid.New()
	semOnly := uuid.New()
	ftOnly := uuid.New()
	opts := Options{}.normalized()

	sem := []Result{
		{SourceType: types.EntityNote, SourceID: shared, Similarity: 0.8},
		{SourceType: types.EntityNote, SourceID: semOnly, Similarity: 0.9},
	}
	ft := []Result{
		{SourceType: types.EntityNote, SourceID: shared, Rank: 1.0},
		{SourceType: types.EntityChunk, SourceID: ftOnly, Rank: 0.5},
	}

	merged := mergeHybrid(sem, ft, opts)

	if len(merged) != 3 {
		t.Fatalf("got %d results, want 3", len(merged))
	}

	byID := map[uuid.UUID]Result{}
	for _, r := range merged {
		byID[r.SourceID] = r
	}

	both := byID[shared]
	want := (0.7*0.8 + 0.3*1.0) * 1.2
	if diff := both.Score - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("both score = %v, want %v", both.Score, want)
	}
	if both.MatchedBy != MatchedBoth {
		t.Errorf("MatchedBy = %q, want %q", both.MatchedBy, MatchedBoth)
	}
	if both.Rank != 1.0 || both.Similarity != 0.8 {
		t.Errorf("merged result lost signal metadata: rank %v sim %v", both.Rank, both.Similarity)
	}

	if got := byID[semOnly]; got.Score != 0.7*0.9 || got.MatchedBy != MatchedSemantic {
		t.Errorf("semantic-only = score %v matched %q", got.Score, got.MatchedBy)
	}
	if got := byID[ftOnly]; got.Score != 0.3*0.5 || got.MatchedBy != MatchedFulltext {
		t.Errorf("fulltext-only = score %v matched %q", got.Score, got.MatchedBy)
	}
}

func TestMergeHybridDistinctTypesDoNotCollide(t *testing.T) {
	id := uuid.New()
	opts := Options{}.normalized()

	sem := []Result{{SourceType: types.EntityNote, SourceID: id, Similarity: 0.8}}
	ft := []Result{{SourceType: types.EntityChunk, SourceID: id, Rank: 1.0}}

	merged := mergeHybrid(sem, ft, opts)

	if len(merged) != 2 {
		t.Fatalf("got %d results, want 2: same id under different source types must stay separate", len(merged))
	}
	for _, r := range merged {
		if r.MatchedBy == MatchedBoth {
			t.Errorf("spurious both-match for %s", r.SourceType)
		}
	}
}

func TestSortResults(t *testing.T) {
	early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	base := []Result{
		{Title: "Beta", Score: 0.5, UpdatedAt: late},
		{Title: "alpha", Score: 0.9, UpdatedAt: early},
		{Title: "Gamma", Score: 0.7, UpdatedAt: early},
	}

	relevance := append([]Result(nil), base...)
	sortResults(relevance, SortRelevance)
	if relevance[0].Title != "alpha" || relevance[1].Title != "Gamma" || relevance[2].Title != "Beta" {
		t.Errorf("relevance order = %q %q %q", relevance[0].Title, relevance[1].Title, relevance[2].Title)
	}

	byDate := append([]Result(nil), base...)
	sortResults(byDate, SortDate)
	if byDate[0].Title != "Beta" {
		t.Errorf("date order first = %q, want Beta", byDate[0].Title)
	}
	// Equal timestamps fall back to score.
	if byDate[1].Title != "alpha" || byDate[2].Title != "Gamma" {
		t.Errorf("date tie order = %q %q", byDate[1].Title, byDate[2].Title)
	}

	byTitle := append([]Result(nil), base...)
	sortResults(byTitle, SortTitle)
	if byTitle[0].Title != "alpha" || byTitle[1].Title != "Beta" || byTitle[2].Title != "Gamma" {
		t.Errorf("title order = %q %q %q (case-insensitive expected)", byTitle[0].Title, byTitle[1].Title, byTitle[2].Title)
	}
}

func TestTrim(t *testing.T) {
	results := []Result{{Title: "a"}, {Title: "b"}, {Title: "c"}}

	if got := trim(results, 2); len(got) != 2 {
		t.Errorf("trim(2) = %d results", len(got))
	}
	if got := trim(results, 10); len(got) != 3 {
		t.Errorf("trim(10) = %d results", len(got))
	}
	if got := trim(results, 0); len(got) != 3 {
		t.Errorf("trim(0) = %d results", len(got))
	}
}
