// Package graph holds the owner-scoped graph computations: personalized
// PageRank diffusion for retrieval and the consolidation pipeline that
// refreshes importance, communities, semantic edges, and navigation caches.
package graph

import (
	"math"

	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/embedding"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// Adjacency weights per edge source. Contributions accumulate when a pair
// is connected through more than one source.
const (
	WikilinkForwardWeight = 1.0
	WikilinkReverseWeight = 0.5
	SemanticWeightFactor  = 0.6
	SharedTagWeight       = 0.5
)

const (
	DefaultAlpha    = 0.85
	DefaultMaxIter  = 20
	DefaultEpsilon  = 1e-6
	DefaultMaxNotes = 500
	DefaultMinScore = 0.01

	// personalizationFloor keeps every candidate reachable even when its
	// embedding is missing or dissimilar to the query.
	personalizationFloor = 0.01
)

type DiffusionOptions struct {
	Alpha    float64
	MaxIter  int
	Epsilon  float64
	MaxNotes int
	// MinScore filters the normalized output map.
	MinScore float64
}

func (o DiffusionOptions) withDefaults() DiffusionOptions {
	if o.Alpha <= 0 || o.Alpha >= 1 {
		o.Alpha = DefaultAlpha
	}
	if o.MaxIter <= 0 {
		o.MaxIter = DefaultMaxIter
	}
	if o.Epsilon <= 0 {
		o.Epsilon = DefaultEpsilon
	}
	if o.MaxNotes <= 0 {
		o.MaxNotes = DefaultMaxNotes
	}
	if o.MinScore <= 0 {
		o.MinScore = DefaultMinScore
	}
	return o
}

// Diffuser spreads query relevance through the note graph with personalized
// PageRank. The candidate set is capped to the most recently updated live
// notes so one run stays cheap even on large stores.
type Diffuser struct {
	notes repos.NoteRepo
	links repos.NoteLinkRepo
	edges repos.SemanticEdgeRepo
	tags  repos.TagRepo
	log   *logger.Logger
}

func NewDiffuser(notes repos.NoteRepo, links repos.NoteLinkRepo, edges repos.SemanticEdgeRepo, tags repos.TagRepo, baseLog *logger.Logger) *Diffuser {
	return &Diffuser{
		notes: notes,
		links: links,
		edges: edges,
		tags:  tags,
		log:   baseLog.With("service", "Diffuser"),
	}
}

// Diffuse returns note_id → score normalized to [0,1], filtered at
// opts.MinScore. A nil or empty queryEmb yields a uniform personalization.
func (d *Diffuser) Diffuse(dbc dbctx.Context, ownerID uuid.UUID, queryEmb []float32, opts DiffusionOptions) (map[uuid.UUID]float64, error) {
	opts = opts.withDefaults()
	if ownerID == uuid.Nil {
		return nil, nil
	}

	candidates, err := d.notes.ListGraphCandidates(dbc, ownerID, opts.MaxNotes)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	links, err := d.links.ListLiveByOwner(dbc, ownerID)
	if err != nil {
		return nil, err
	}
	semEdges, err := d.edges.ListNoteEdges(dbc, ownerID, 0)
	if err != nil {
		return nil, err
	}
	tagPairs, err := d.tags.SharedNotePairs(dbc, ownerID)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	g := buildAdjacency(ids, links, semEdges, tagPairs)
	p := personalization(candidates, queryEmb)
	scores := runDiffusion(g, p, opts)

	out := make(map[uuid.UUID]float64)
	for i, score := range scores {
		if score >= opts.MinScore {
			out[g.ids[i]] = score
		}
	}
	d.log.Debug("Diffusion complete",
		"owner_id", ownerID, "candidates", len(candidates), "scored", len(out))
	return out, nil
}

type arc struct {
	to int
	w  float64
}

// sparseGraph is a column-oriented adjacency: out[j] holds the arcs leaving
// node j and colSum[j] their total weight, so column-normalization happens
// during iteration instead of materializing A.
type sparseGraph struct {
	ids    []uuid.UUID
	index  map[uuid.UUID]int
	out    [][]arc
	colSum []float64
}

func newSparseGraph(ids []uuid.UUID) *sparseGraph {
	g := &sparseGraph{
		ids:    ids,
		index:  make(map[uuid.UUID]int, len(ids)),
		out:    make([][]arc, len(ids)),
		colSum: make([]float64, len(ids)),
	}
	for i, id := range ids {
		g.index[id] = i
	}
	return g
}

// addArc records a directed edge, silently dropping endpoints outside the
// candidate set.
func (g *sparseGraph) addArc(from, to uuid.UUID, w float64) {
	if w <= 0 || from == to {
		return
	}
	i, ok := g.index[from]
	if !ok {
		return
	}
	j, ok := g.index[to]
	if !ok {
		return
	}
	g.out[i] = append(g.out[i], arc{to: j, w: w})
	g.colSum[i] += w
}

func buildAdjacency(ids []uuid.UUID, links []*types.NoteLink, semEdges []*types.SemanticEdge, tagPairs []repos.NotePair) *sparseGraph {
	g := newSparseGraph(ids)
	for _, l := range links {
		g.addArc(l.SourceNoteID, l.TargetNoteID, WikilinkForwardWeight)
		g.addArc(l.TargetNoteID, l.SourceNoteID, WikilinkReverseWeight)
	}
	for _, e := range semEdges {
		w := SemanticWeightFactor * e.SimilarityScore
		g.addArc(e.SourceID, e.TargetID, w)
		g.addArc(e.TargetID, e.SourceID, w)
	}
	for _, pair := range tagPairs {
		g.addArc(pair.SourceID, pair.TargetID, SharedTagWeight)
		g.addArc(pair.TargetID, pair.SourceID, SharedTagWeight)
	}
	return g
}

// personalization builds the restart distribution: per-note cosine to the
// query embedding, floor-clipped, then normalized to sum 1. Without a query
// embedding it is uniform.
func personalization(candidates []repos.GraphCandidate, queryEmb []float32) []float64 {
	n := len(candidates)
	p := make([]float64, n)
	if len(queryEmb) == 0 {
		for i := range p {
			p[i] = 1.0 / float64(n)
		}
		return p
	}

	var sum float64
	for i, c := range candidates {
		sim := 0.0
		if c.Embedding != nil {
			sim = embedding.Cosine(queryEmb, c.Embedding.Slice())
		}
		if sim < personalizationFloor {
			sim = personalizationFloor
		}
		p[i] = sim
		sum += sim
	}
	for i := range p {
		p[i] /= sum
	}
	return p
}

// runDiffusion iterates s ← (1-α)p + αAs until the L1 delta drops under
// epsilon or MaxIter is hit, then max-normalizes to [0,1].
func runDiffusion(g *sparseGraph, p []float64, opts DiffusionOptions) []float64 {
	n := len(g.ids)
	if n == 0 {
		return nil
	}

	s := make([]float64, n)
	copy(s, p)
	next := make([]float64, n)

	for iter := 0; iter < opts.MaxIter; iter++ {
		for i := range next {
			next[i] = (1 - opts.Alpha) * p[i]
		}
		for j, arcs := range g.out {
			if s[j] == 0 || g.colSum[j] == 0 {
				continue
			}
			share := opts.Alpha * s[j] / g.colSum[j]
			for _, a := range arcs {
				next[a.to] += share * a.w
			}
		}

		var delta float64
		for i := range s {
			delta += math.Abs(next[i] - s[i])
		}
		s, next = next, s
		if delta < opts.Epsilon {
			break
		}
	}

	var max float64
	for _, v := range s {
		if v > max {
			max = v
		}
	}
	if max > 0 {
		for i := range s {
			s[i] /= max
		}
	}
	return s
}
