package nexus

import (
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/navigator"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/search"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

func TestStrategyUsedReflectsContributions(t *testing.T) {
	vectorOnly := strategySet{vector: []search.Result{{}}}
	if got := vectorOnly.used(); len(got) != 1 || got[0] != StrategyVector {
		t.Fatalf("vector-only used = %v", got)
	}

	full := strategySet{
		vector:    []search.Result{{}},
		graph:     []navigator.Result{{}},
		diffusion: map[uuid.UUID]float64{uuid.New(): 0.5},
	}
	got := full.used()
	if len(got) != 3 || got[0] != StrategyVector || got[1] != StrategyGraph || got[2] != StrategyDiffusion {
		t.Fatalf("full used = %v", got)
	}

	// A navigator that degraded to nothing must not be reported.
	degraded := strategySet{vector: []search.Result{{}}, diffusion: map[uuid.UUID]float64{uuid.New(): 0.5}}
	got = degraded.used()
	if len(got) != 2 || got[1] != StrategyDiffusion {
		t.Fatalf("degraded used = %v", got)
	}
}

func TestWeightsForSumToOne(t *testing.T) {
	for _, intent := range []string{IntentFactual, IntentSynthesis, IntentExploration, IntentTemporal, IntentCreative} {
		w := weightsFor(intent)
		sum := w.graph + w.vector + w.diffusion
		if math.Abs(sum-1.0) > 1e-9 {
			t.Errorf("%s: weights sum to %v, want 1.0", intent, sum)
		}
	}
	if weightsFor("nonsense") != intentWeights[IntentFactual] {
		t.Error("unknown intent should fall back to factual weights")
	}
}

func vecResult(id uuid.UUID, score float64) search.Result {
	nid := id
	return search.Result{
		SourceType: types.EntityNote,
		SourceID:   id,
		NoteID:     &nid,
		Title:      "note " + id.String()[:4],
		Content:    "content",
		Similarity: score,
		Score:      score,
	}
}

func TestFuseVectorOnly(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	set := strategySet{vector: []search.Result{vecResult(a, 0.8), vecResult(b, 0.5)}}

	got := fuse(set, IntentFactual, 10)
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	// Sole strategy absorbs the full weight.
	if got[0].SourceID != a || math.Abs(got[0].FinalScore-0.8) > 1e-9 {
		t.Fatalf("top candidate = %s score %v, want %s score 0.8", got[0].SourceID, got[0].FinalScore, a)
	}
	if got[1].SourceID != b || math.Abs(got[1].FinalScore-0.5) > 1e-9 {
		t.Fatalf("second candidate = %s score %v", got[1].SourceID, got[1].FinalScore)
	}
	if got[0].Rank != 1 || got[1].Rank != 2 {
		t.Fatalf("ranks = %d, %d", got[0].Rank, got[1].Rank)
	}
	if got[0].RetrievalMethod != "vector" {
		t.Fatalf("retrieval method = %q", got[0].RetrievalMethod)
	}
	if got[0].NoteID == nil || *got[0].NoteID != a {
		t.Fatal("note id not carried through fusion")
	}
	if got[0].Title == "" || got[0].Content == "" {
		t.Fatal("title/content not carried through fusion")
	}
}

func TestFuseCrossConfirmationBoost(t *testing.T) {
	x, y := uuid.New(), uuid.New()
	set := strategySet{
		vector:    []search.Result{vecResult(x, 0.8), vecResult(y, 0.9)},
		diffusion: map[uuid.UUID]float64{x: 0.5},
	}

	got := fuse(set, IntentFactual, 10)
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}

	wv := 0.5 / 0.7
	wd := 0.2 / 0.7
	wantX := (wv*0.8 + wd*0.5) * crossConfirmationBoost
	wantY := wv * 0.9

	if got[0].SourceID != x {
		t.Fatalf("cross-confirmed candidate should rank first, got %s", got[0].SourceID)
	}
	if math.Abs(got[0].FinalScore-wantX) > 1e-9 {
		t.Fatalf("boosted score = %v, want %v", got[0].FinalScore, wantX)
	}
	if math.Abs(got[1].FinalScore-wantY) > 1e-9 {
		t.Fatalf("single-strategy score = %v, want %v", got[1].FinalScore, wantY)
	}
	if got[0].RetrievalMethod != "vector" {
		t.Fatalf("dominant method = %q, want vector", got[0].RetrievalMethod)
	}
	if len(got[0].Scores) != 2 {
		t.Fatalf("expected both strategy scores recorded, got %v", got[0].Scores)
	}
}

func TestFuseRedistributesToSoleStrategy(t *testing.T) {
	id := uuid.New()
	set := strategySet{graph: []navigator.Result{{NoteID: id, Title: "Graph pick", Score: 0.5}}}

	got := fuse(set, IntentFactual, 10)
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1", len(got))
	}
	// Graph weight for factual is 0.30, but as the only strategy it
	// must normalize to 1.0.
	if got[0].FinalScore != 0.5 {
		t.Fatalf("score = %v, want 0.5", got[0].FinalScore)
	}
	if got[0].SourceType != types.EntityNote || got[0].NoteID == nil || *got[0].NoteID != id {
		t.Fatal("graph-only candidate should be a note with its id set")
	}
	if got[0].Title != "Graph pick" {
		t.Fatalf("title = %q", got[0].Title)
	}
	if got[0].RetrievalMethod != "graph" {
		t.Fatalf("method = %q", got[0].RetrievalMethod)
	}
}

func TestFuseDropsBelowMinScore(t *testing.T) {
	set := strategySet{vector: []search.Result{vecResult(uuid.New(), 0.0005)}}
	if got := fuse(set, IntentFactual, 10); len(got) != 0 {
		t.Fatalf("expected noise candidate dropped, got %d", len(got))
	}
}

func TestFuseDirectHitBeatsGraphOnlyOnTie(t *testing.T) {
	direct, graphOnly := uuid.New(), uuid.New()
	// Creative weights vector and graph equally, so both candidates
	// fuse to the identical score and only the tie rule separates them.
	set := strategySet{
		vector: []search.Result{vecResult(direct, 0.6)},
		graph:  []navigator.Result{{NoteID: graphOnly, Title: "other", Score: 0.6}},
	}

	got := fuse(set, IntentCreative, 10)
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	if got[0].FinalScore != got[1].FinalScore {
		t.Fatalf("test requires a tie, scores %v vs %v", got[0].FinalScore, got[1].FinalScore)
	}
	if got[0].SourceID != direct {
		t.Fatalf("direct hit should outrank graph-only candidate on ties")
	}
}

func TestFuseTieWithinStrategyKeepsEarlierAppearance(t *testing.T) {
	late := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	early := uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")
	set := strategySet{vector: []search.Result{vecResult(early, 0.7), vecResult(late, 0.7)}}

	got := fuse(set, IntentFactual, 10)
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	if got[0].SourceID != early {
		t.Fatal("earlier appearance in the strategy should win the tie")
	}
}

func TestFuseDiffusionOnly(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	set := strategySet{diffusion: map[uuid.UUID]float64{a: 0.9, b: 0.3}}

	got := fuse(set, IntentFactual, 10)
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	if got[0].SourceID != a || got[0].FinalScore != 0.9 {
		t.Fatalf("top = %s %v, want %s 0.9", got[0].SourceID, got[0].FinalScore, a)
	}
	if got[0].RetrievalMethod != "diffusion" {
		t.Fatalf("method = %q", got[0].RetrievalMethod)
	}
	if got[0].NoteID == nil || *got[0].NoteID != a {
		t.Fatal("diffusion candidate should carry its note id")
	}
}

func TestFuseCapsAndRanks(t *testing.T) {
	var results []search.Result
	scores := []float64{0.9, 0.8, 0.7, 0.6, 0.5}
	for _, s := range scores {
		results = append(results, vecResult(uuid.New(), s))
	}
	got := fuse(strategySet{vector: results}, IntentFactual, 3)
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
	for i, c := range got {
		if c.Rank != i+1 {
			t.Errorf("rank[%d] = %d", i, c.Rank)
		}
		if i > 0 && got[i-1].FinalScore < c.FinalScore {
			t.Error("candidates not sorted by score")
		}
	}
}

func TestFuseEmptySet(t *testing.T) {
	if got := fuse(strategySet{}, IntentFactual, 10); got != nil {
		t.Fatalf("empty strategy set should fuse to nil, got %v", got)
	}
}
