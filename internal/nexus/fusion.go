package nexus

import (
	"sort"

	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/navigator"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/search"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

const (
	// crossConfirmationBoost rewards candidates surfaced by more than
	// one strategy.
	crossConfirmationBoost = 1.3
	// minFusedScore drops noise candidates after weighting.
	minFusedScore = 1e-3

	// DefaultMaxCandidates is how many fused candidates enter context
	// assembly when the caller does not override it.
	DefaultMaxCandidates = 10
)

// strategyWeights holds the per-strategy fusion weights for one intent.
type strategyWeights struct {
	graph     float64
	vector    float64
	diffusion float64
}

var intentWeights = map[string]strategyWeights{
	IntentFactual:     {graph: 0.30, vector: 0.50, diffusion: 0.20},
	IntentSynthesis:   {graph: 0.40, vector: 0.30, diffusion: 0.30},
	IntentExploration: {graph: 0.50, vector: 0.20, diffusion: 0.30},
	IntentTemporal:    {graph: 0.20, vector: 0.60, diffusion: 0.20},
	IntentCreative:    {graph: 0.40, vector: 0.40, diffusion: 0.20},
}

func weightsFor(intent string) strategyWeights {
	if w, ok := intentWeights[intent]; ok {
		return w
	}
	return intentWeights[IntentFactual]
}

// strategySet carries the raw output of every strategy that ran.
type strategySet struct {
	vector    []search.Result
	graph     []navigator.Result
	diffusion map[uuid.UUID]float64
}

// used lists the strategy ids that actually contributed candidates, in
// reporting order. The navigator and diffuser degrade to empty output on
// failure or missing caches, so the mode alone overstates what ran; vector
// search is the base strategy and aborts the query when it errors.
func (s strategySet) used() []string {
	out := []string{StrategyVector}
	if len(s.graph) > 0 {
		out = append(out, StrategyGraph)
	}
	if len(s.diffusion) > 0 {
		out = append(out, StrategyDiffusion)
	}
	return out
}

// Candidate is one fused retrieval candidate, ready for context assembly.
type Candidate struct {
	SourceType string
	SourceID   uuid.UUID

	NoteID     *uuid.UUID
	DocumentID *uuid.UUID
	ImageID    *uuid.UUID

	Title      string
	Content    string
	PageNumber int
	Similarity float64

	// Scores maps strategy id to that strategy's raw score.
	Scores     map[string]float64
	FinalScore float64
	Rank       int

	// RetrievalMethod names the strategy that contributed the most
	// weighted mass: "vector", "graph", "diffusion".
	RetrievalMethod string
}

// fusionKey identifies one candidate across strategies.
func fusionKey(sourceType string, id uuid.UUID) string {
	return sourceType + "/" + id.String()
}

type fusionEntry struct {
	cand Candidate
	// firstIndex records where the candidate first appeared in each
	// strategy's ordering, for deterministic tie-breaking.
	firstIndex map[string]int
}

// fuse merges strategy outputs into a single ranked candidate list.
//
// Weights follow the intent matrix; weights of strategies that produced
// nothing are redistributed proportionally across the ones that did.
// Candidates confirmed by more than one strategy get a fixed boost, and
// anything below minFusedScore is dropped.
func fuse(set strategySet, intent string, maxResults int) []Candidate {
	if maxResults <= 0 {
		maxResults = DefaultMaxCandidates
	}

	// Fixed accumulation order keeps fused scores bit-for-bit stable.
	accumOrder := []string{StrategyVector, StrategyGraph, StrategyDiffusion}

	w := weightsFor(intent)
	norm := map[string]float64{}
	if len(set.vector) > 0 {
		norm[StrategyVector] = w.vector
	}
	if len(set.graph) > 0 {
		norm[StrategyGraph] = w.graph
	}
	if len(set.diffusion) > 0 {
		norm[StrategyDiffusion] = w.diffusion
	}
	if len(norm) == 0 {
		return nil
	}
	var total float64
	for _, s := range accumOrder {
		total += norm[s]
	}
	for k, v := range norm {
		norm[k] = v / total
	}

	entries := map[string]*fusionEntry{}
	get := func(sourceType string, id uuid.UUID) *fusionEntry {
		key := fusionKey(sourceType, id)
		e, ok := entries[key]
		if !ok {
			e = &fusionEntry{
				cand: Candidate{
					SourceType: sourceType,
					SourceID:   id,
					Scores:     map[string]float64{},
				},
				firstIndex: map[string]int{},
			}
			entries[key] = e
		}
		return e
	}

	for i, r := range set.vector {
		e := get(r.SourceType, r.SourceID)
		e.cand.Scores[StrategyVector] = r.Score
		e.firstIndex[StrategyVector] = i
		e.cand.NoteID = r.NoteID
		e.cand.DocumentID = r.DocumentID
		e.cand.ImageID = r.ImageID
		e.cand.Title = r.Title
		e.cand.Content = r.Content
		e.cand.PageNumber = r.PageNumber
		e.cand.Similarity = r.Similarity
	}
	for i, r := range set.graph {
		id := r.NoteID
		e := get(types.EntityNote, id)
		e.cand.Scores[StrategyGraph] = r.Score
		e.firstIndex[StrategyGraph] = i
		if e.cand.NoteID == nil {
			nid := id
			e.cand.NoteID = &nid
		}
		if e.cand.Title == "" {
			e.cand.Title = r.Title
		}
	}
	for i, id := range sortedDiffusionIDs(set.diffusion) {
		e := get(types.EntityNote, id)
		e.cand.Scores[StrategyDiffusion] = set.diffusion[id]
		e.firstIndex[StrategyDiffusion] = i
		if e.cand.NoteID == nil {
			nid := id
			e.cand.NoteID = &nid
		}
	}

	out := make([]*fusionEntry, 0, len(entries))
	for _, e := range entries {
		var score float64
		var bestMass float64
		for _, strat := range accumOrder {
			s, ok := e.cand.Scores[strat]
			if !ok {
				continue
			}
			mass := norm[strat] * s
			score += mass
			if mass > bestMass || e.cand.RetrievalMethod == "" {
				bestMass = mass
				e.cand.RetrievalMethod = methodName(strat)
			}
		}
		if len(e.cand.Scores) > 1 {
			score *= crossConfirmationBoost
		}
		if score < minFusedScore {
			continue
		}
		e.cand.FinalScore = score
		out = append(out, e)
	}

	priority := strategyPriority(norm)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.cand.FinalScore != b.cand.FinalScore {
			return a.cand.FinalScore > b.cand.FinalScore
		}
		// Direct hits outrank graph-only candidates on equal scores.
		_, aDirect := a.firstIndex[StrategyVector]
		_, bDirect := b.firstIndex[StrategyVector]
		if aDirect != bDirect {
			return aDirect
		}
		// Then the candidate seen by the more heavily weighted
		// strategy wins; within one strategy, the earlier appearance
		// wins.
		for _, strat := range priority {
			ai, aok := a.firstIndex[strat]
			bi, bok := b.firstIndex[strat]
			switch {
			case aok && !bok:
				return true
			case !aok && bok:
				return false
			case aok && bok && ai != bi:
				return ai < bi
			}
		}
		return a.cand.SourceID.String() < b.cand.SourceID.String()
	})

	if len(out) > maxResults {
		out = out[:maxResults]
	}
	results := make([]Candidate, len(out))
	for i, e := range out {
		e.cand.Rank = i + 1
		results[i] = e.cand
	}
	return results
}

func methodName(strategy string) string {
	switch strategy {
	case StrategyGraph:
		return "graph"
	case StrategyDiffusion:
		return "diffusion"
	default:
		return "vector"
	}
}

// strategyPriority orders strategy ids by normalized weight, descending;
// ties resolve vector, graph, diffusion.
func strategyPriority(norm map[string]float64) []string {
	fixed := []string{StrategyVector, StrategyGraph, StrategyDiffusion}
	order := make([]string, 0, len(norm))
	for _, s := range fixed {
		if _, ok := norm[s]; ok {
			order = append(order, s)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return norm[order[i]] > norm[order[j]]
	})
	return order
}

func sortedDiffusionIDs(scores map[uuid.UUID]float64) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i].String() < ids[j].String()
	})
	return ids
}
