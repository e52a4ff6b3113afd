package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/embedding"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

const (
	DefaultEdgeThreshold        = 0.70
	DefaultMissingLinkThreshold = 0.80
	DefaultMaxPairwiseNotes     = 2000

	pageRankDamping   = 0.85
	pageRankTol       = 1e-6
	louvainResolution = 1.0

	// Singleton clusters are noise; below this size a group's notes stay
	// community-less and render on the orphan ring.
	minCommunitySize = 2
	maxTopTerms      = 5
	maxOverviewTags  = 50

	communityRingRadius = 320.0
	memberRingRadius    = 120.0
	orphanRingRadius    = 520.0
)

// Consolidation step names, in pipeline order.
const (
	StepPageRank      = "pagerank"
	StepCommunities   = "communities"
	StepSemanticEdges = "semantic_edges"
	StepMissingLinks  = "missing_links"
	StepNavCache      = "navigation_cache"
)

const (
	StepStatusOK      = "ok"
	StepStatusSkipped = "skipped"
	StepStatusFailed  = "failed"
)

type ConsolidateOptions struct {
	EdgeThreshold        float64
	MissingLinkThreshold float64
	// MaxPairwiseNotes caps the semantic-edge refresh to the most recently
	// updated notes so the O(n²) pass stays bounded.
	MaxPairwiseNotes int
}

func (o ConsolidateOptions) withDefaults() ConsolidateOptions {
	if o.EdgeThreshold <= 0 || o.EdgeThreshold >= 1 {
		o.EdgeThreshold = DefaultEdgeThreshold
	}
	if o.MissingLinkThreshold <= 0 || o.MissingLinkThreshold >= 1 {
		o.MissingLinkThreshold = DefaultMissingLinkThreshold
	}
	if o.MaxPairwiseNotes <= 0 {
		o.MaxPairwiseNotes = DefaultMaxPairwiseNotes
	}
	return o
}

// StepOutcome records how one consolidation step ended. Outcomes land in the
// background task's result payload.
type StepOutcome struct {
	Step   string `json:"step"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
	Millis int64  `json:"millis"`
}

type ConsolidationResult struct {
	OwnerID uuid.UUID     `json:"owner_id"`
	Steps   []StepOutcome `json:"steps"`
}

// FailedSteps lists the names of steps that errored.
func (r *ConsolidationResult) FailedSteps() []string {
	var out []string
	for _, s := range r.Steps {
		if s.Status == StepStatusFailed {
			out = append(out, s.Step)
		}
	}
	return out
}

// skipError marks a step that had nothing to do. It is recorded as skipped
// rather than failed.
type skipError struct{ reason string }

func (e *skipError) Error() string { return e.reason }

func skipStep(reason string) error { return &skipError{reason: reason} }

// Consolidator refreshes the owner's derived graph state: per-note PageRank,
// Louvain communities with map positions, semantic edges, missing-link
// suggestions, and the navigation caches. Steps run sequentially; each writes
// in its own transaction and one step's failure never aborts the rest.
type Consolidator struct {
	db          *gorm.DB
	notes       repos.NoteRepo
	links       repos.NoteLinkRepo
	edges       repos.SemanticEdgeRepo
	tags        repos.TagRepo
	importance  repos.ImportanceScoreRepo
	communities repos.CommunityRepo
	positions   repos.GraphPositionRepo
	suggestions repos.LinkSuggestionRepo
	navCache    repos.NavigationCacheRepo
	opts        ConsolidateOptions
	log         *logger.Logger
}

func NewConsolidator(
	db *gorm.DB,
	notes repos.NoteRepo,
	links repos.NoteLinkRepo,
	edges repos.SemanticEdgeRepo,
	tags repos.TagRepo,
	importance repos.ImportanceScoreRepo,
	communities repos.CommunityRepo,
	positions repos.GraphPositionRepo,
	suggestions repos.LinkSuggestionRepo,
	navCache repos.NavigationCacheRepo,
	opts ConsolidateOptions,
	baseLog *logger.Logger,
) *Consolidator {
	return &Consolidator{
		db:          db,
		notes:       notes,
		links:       links,
		edges:       edges,
		tags:        tags,
		importance:  importance,
		communities: communities,
		positions:   positions,
		suggestions: suggestions,
		navCache:    navCache,
		opts:        opts.withDefaults(),
		log:         baseLog.With("service", "Consolidator"),
	}
}

// Run executes the full pipeline for one owner. It only errors when the
// shared inputs cannot be loaded; individual step failures are recorded in
// the result and logged.
func (c *Consolidator) Run(ctx context.Context, ownerID uuid.UUID) (*ConsolidationResult, error) {
	if ownerID == uuid.Nil {
		return nil, nil
	}
	dbc := dbctx.New(ctx)
	notes, err := c.notes.ListLive(dbc, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	links, err := c.links.ListLiveByOwner(dbc, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load links: %w", err)
	}

	res := &ConsolidationResult{OwnerID: ownerID}
	c.runStep(ctx, res, StepPageRank, func(dbc dbctx.Context) (string, error) {
		return c.stepPageRank(dbc, ownerID, notes, links)
	})
	c.runStep(ctx, res, StepCommunities, func(dbc dbctx.Context) (string, error) {
		return c.stepCommunities(dbc, ownerID, notes, links)
	})
	c.runStep(ctx, res, StepSemanticEdges, func(dbc dbctx.Context) (string, error) {
		return c.stepSemanticEdges(dbc, ownerID, notes)
	})
	c.runStep(ctx, res, StepMissingLinks, func(dbc dbctx.Context) (string, error) {
		return c.stepMissingLinks(dbc, ownerID, links)
	})
	c.runStep(ctx, res, StepNavCache, func(dbc dbctx.Context) (string, error) {
		return c.stepNavCache(dbc, ownerID)
	})

	if failed := res.FailedSteps(); len(failed) > 0 {
		c.log.Warn("Consolidation finished with failed steps",
			"owner_id", ownerID, "failed", strings.Join(failed, ","))
	} else {
		c.log.Info("Consolidation finished", "owner_id", ownerID, "notes", len(notes))
	}
	return res, nil
}

type stepFunc func(dbc dbctx.Context) (detail string, err error)

// runStep executes fn in its own transaction and appends the outcome.
// Panics from the numeric libraries are contained to the step.
func (c *Consolidator) runStep(ctx context.Context, res *ConsolidationResult, name string, fn stepFunc) {
	start := time.Now()
	var detail string
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("step panic: %v", r)
			}
		}()
		return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var ferr error
			detail, ferr = fn(dbctx.WithTx(ctx, tx))
			return ferr
		})
	}()

	out := StepOutcome{Step: name, Status: StepStatusOK, Detail: detail, Millis: time.Since(start).Milliseconds()}
	var skip *skipError
	switch {
	case err == nil:
	case errors.As(err, &skip):
		out.Status = StepStatusSkipped
		out.Detail = skip.reason
		c.log.Debug("Consolidation step skipped", "step", name, "reason", skip.reason)
	default:
		out.Status = StepStatusFailed
		out.Detail = err.Error()
		c.log.Warn("Consolidation step failed", "step", name, "error", err)
	}
	res.Steps = append(res.Steps, out)
}

func (c *Consolidator) stepPageRank(dbc dbctx.Context, ownerID uuid.UUID, notes []*types.Note, links []*types.NoteLink) (string, error) {
	if len(notes) == 0 {
		return "", skipStep("no live notes")
	}
	scores := pageRankScores(notes, links)
	if err := c.importance.UpsertBatch(dbc, ownerID, scores); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d notes ranked", len(scores)), nil
}

func (c *Consolidator) stepCommunities(dbc dbctx.Context, ownerID uuid.UUID, notes []*types.Note, links []*types.NoteLink) (string, error) {
	if len(notes) < minCommunitySize {
		return "", skipStep("not enough notes to cluster")
	}
	semEdges, err := c.edges.ListNoteEdges(dbc, ownerID, 0)
	if err != nil {
		return "", err
	}

	groups := DetectCommunities(notes, links, semEdges)

	allIDs := make([]uuid.UUID, len(notes))
	titleByID := make(map[uuid.UUID]string, len(notes))
	for i, n := range notes {
		allIDs[i] = n.ID
		titleByID[n.ID] = n.Title
	}
	tagsByNote, err := c.tags.ListForNotes(dbc, ownerID, allIDs)
	if err != nil {
		return "", err
	}

	if err := c.notes.ClearCommunities(dbc, ownerID); err != nil {
		return "", err
	}

	centers := groupCenters(len(groups))
	rows := make([]*types.CommunityMetadata, 0, len(groups))
	var positions []*types.GraphPosition
	grouped := make(map[uuid.UUID]bool)

	for k, members := range groups {
		cid := k + 1
		if err := c.notes.AssignCommunity(dbc, ownerID, cid, members); err != nil {
			return "", err
		}
		terms := communityTerms(members, titleByID, tagsByNote)
		termsJSON, _ := json.Marshal(terms)
		rows = append(rows, &types.CommunityMetadata{
			OwnerID:     ownerID,
			CommunityID: cid,
			Label:       communityLabelFromTerms(terms),
			NodeCount:   len(members),
			TopTerms:    termsJSON,
			CenterX:     centers[k][0],
			CenterY:     centers[k][1],
		})
		for m, id := range members {
			grouped[id] = true
			x, y := memberPosition(centers[k], m, len(members))
			positions = append(positions, &types.GraphPosition{OwnerID: ownerID, NoteID: id, X: x, Y: y})
		}
	}

	var orphans []uuid.UUID
	for _, id := range allIDs {
		if !grouped[id] {
			orphans = append(orphans, id)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].String() < orphans[j].String() })
	for i, id := range orphans {
		x, y := ringPosition(0, 0, orphanRingRadius, i, len(orphans))
		positions = append(positions, &types.GraphPosition{OwnerID: ownerID, NoteID: id, X: x, Y: y})
	}

	if err := c.communities.ReplaceForOwner(dbc, ownerID, rows); err != nil {
		return "", err
	}
	if err := c.positions.UpsertComputed(dbc, positions); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d communities over %d notes", len(rows), len(notes)), nil
}

func (c *Consolidator) stepSemanticEdges(dbc dbctx.Context, ownerID uuid.UUID, notes []*types.Note) (string, error) {
	embedded := make([]*types.Note, 0, len(notes))
	for _, n := range notes {
		if n.Embedding != nil && len(n.Embedding.Slice()) > 0 {
			embedded = append(embedded, n)
		}
	}
	if len(embedded) < 2 {
		return "", skipStep("fewer than two embedded notes")
	}
	capped := false
	if len(embedded) > c.opts.MaxPairwiseNotes {
		sort.Slice(embedded, func(i, j int) bool { return embedded[i].UpdatedAt.After(embedded[j].UpdatedAt) })
		embedded = embedded[:c.opts.MaxPairwiseNotes]
		capped = true
	}

	edges, keep := pairwiseEdges(ownerID, embedded, c.opts.EdgeThreshold)
	if err := c.edges.UpsertBatch(dbc, edges); err != nil {
		return "", err
	}
	if err := c.edges.DeleteNotIn(dbc, ownerID, keep); err != nil {
		return "", err
	}
	detail := fmt.Sprintf("%d edges kept", len(edges))
	if capped {
		detail += fmt.Sprintf(" (capped to %d most recent notes)", c.opts.MaxPairwiseNotes)
	}
	return detail, nil
}

func (c *Consolidator) stepMissingLinks(dbc dbctx.Context, ownerID uuid.UUID, links []*types.NoteLink) (string, error) {
	strong, err := c.edges.ListNoteEdges(dbc, ownerID, c.opts.MissingLinkThreshold)
	if err != nil {
		return "", err
	}
	suggestions := missingSuggestions(ownerID, strong, links)
	if err := c.suggestions.UpsertPending(dbc, suggestions); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d suggestions", len(suggestions)), nil
}

func (c *Consolidator) stepNavCache(dbc dbctx.Context, ownerID uuid.UUID) (string, error) {
	comms, err := c.communities.ListByOwner(dbc, ownerID)
	if err != nil {
		return "", err
	}
	tagCounts, err := c.tags.CountsByOwner(dbc, ownerID)
	if err != nil {
		return "", err
	}
	if err := c.navCache.Upsert(dbc, ownerID, types.CacheCommunityMap, formatCommunityMap(comms)); err != nil {
		return "", err
	}
	if err := c.navCache.Upsert(dbc, ownerID, types.CacheTagOverview, formatTagOverview(tagCounts)); err != nil {
		return "", err
	}
	return "caches rebuilt", nil
}

// pageRankScores ranks notes over the directed wikilink graph. Isolated
// notes still receive the uniform teleport mass.
func pageRankScores(notes []*types.Note, links []*types.NoteLink) map[uuid.UUID]float64 {
	idx := make(map[uuid.UUID]int64, len(notes))
	ids := make([]uuid.UUID, len(notes))
	dg := simple.NewDirectedGraph()
	for i, n := range notes {
		idx[n.ID] = int64(i)
		ids[i] = n.ID
		dg.AddNode(simple.Node(int64(i)))
	}
	for _, l := range links {
		f, okF := idx[l.SourceNoteID]
		t, okT := idx[l.TargetNoteID]
		if !okF || !okT || f == t {
			continue
		}
		dg.SetEdge(simple.Edge{F: simple.Node(f), T: simple.Node(t)})
	}

	ranks := network.PageRank(dg, pageRankDamping, pageRankTol)
	scores := make(map[uuid.UUID]float64, len(ranks))
	for id64, score := range ranks {
		scores[ids[id64]] = score
	}
	return scores
}

// DetectCommunities runs Louvain over the blended undirected graph
// (wikilinks plus similarity-weighted semantic edges) and returns groups of
// at least minCommunitySize, largest first, members sorted by ID. The random
// source is fixed so repeated runs on unchanged data agree.
func DetectCommunities(notes []*types.Note, links []*types.NoteLink, semEdges []*types.SemanticEdge) [][]uuid.UUID {
	idx := make(map[uuid.UUID]int64, len(notes))
	ids := make([]uuid.UUID, len(notes))
	for i, n := range notes {
		idx[n.ID] = int64(i)
		ids[i] = n.ID
	}

	weights := make(map[[2]int64]float64)
	accumulate := func(a, b uuid.UUID, w float64) {
		i, okA := idx[a]
		j, okB := idx[b]
		if !okA || !okB || i == j || w <= 0 {
			return
		}
		if i > j {
			i, j = j, i
		}
		weights[[2]int64{i, j}] += w
	}
	for _, l := range links {
		accumulate(l.SourceNoteID, l.TargetNoteID, WikilinkForwardWeight)
	}
	for _, e := range semEdges {
		accumulate(e.SourceID, e.TargetID, SemanticWeightFactor*e.SimilarityScore)
	}

	wg := simple.NewWeightedUndirectedGraph(0, 0)
	for i := range notes {
		wg.AddNode(simple.Node(int64(i)))
	}
	for pair, w := range weights {
		wg.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(pair[0]), T: simple.Node(pair[1]), W: w})
	}

	reduced := community.Modularize(wg, louvainResolution, rand.NewPCG(7, 7))

	var groups [][]uuid.UUID
	for _, comm := range reduced.Communities() {
		if len(comm) < minCommunitySize {
			continue
		}
		members := make([]uuid.UUID, len(comm))
		for i, node := range comm {
			members[i] = ids[node.ID()]
		}
		sort.Slice(members, func(i, j int) bool { return members[i].String() < members[j].String() })
		groups = append(groups, members)
	}
	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i]) != len(groups[j]) {
			return len(groups[i]) > len(groups[j])
		}
		return groups[i][0].String() < groups[j][0].String()
	})
	return groups
}

// communityTerms ranks the cluster's vocabulary: tokenized member titles,
// with tag names counted double since tagging is a deliberate signal.
func communityTerms(members []uuid.UUID, titleByID map[uuid.UUID]string, tagsByNote map[uuid.UUID][]string) []string {
	freq := make(map[string]int)
	for _, id := range members {
		for _, tok := range tokenizeTerms(titleByID[id]) {
			freq[tok]++
		}
		for _, tag := range tagsByNote[id] {
			freq[strings.ToLower(tag)] += 2
		}
	}
	terms := make([]string, 0, len(freq))
	for t := range freq {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > maxTopTerms {
		terms = terms[:maxTopTerms]
	}
	return terms
}

var termStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"into": true, "about": true, "this": true, "that": true, "how": true,
	"what": true, "why": true, "note": true, "notes": true, "your": true,
}

func tokenizeTerms(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 3 || termStopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func communityLabelFromTerms(terms []string) string {
	if len(terms) == 0 {
		return ""
	}
	r := []rune(terms[0])
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// groupCenters spreads community centers evenly on a ring; a lone community
// sits at the origin.
func groupCenters(n int) [][2]float64 {
	centers := make([][2]float64, n)
	if n == 1 {
		return centers
	}
	for k := range centers {
		x, y := ringPosition(0, 0, communityRingRadius, k, n)
		centers[k] = [2]float64{x, y}
	}
	return centers
}

func memberPosition(center [2]float64, i, n int) (float64, float64) {
	if n == 1 {
		return center[0], center[1]
	}
	return ringPosition(center[0], center[1], memberRingRadius, i, n)
}

func ringPosition(cx, cy, radius float64, i, n int) (float64, float64) {
	theta := 2 * math.Pi * float64(i) / float64(n)
	return cx + radius*math.Cos(theta), cy + radius*math.Sin(theta)
}

// pairwiseEdges computes cosine similarity for every embedded-note pair and
// keeps those at or above threshold, in canonical (SourceID < TargetID)
// order. The keep set feeds the stale-edge prune.
func pairwiseEdges(ownerID uuid.UUID, embedded []*types.Note, threshold float64) ([]*types.SemanticEdge, map[[2]uuid.UUID]bool) {
	vecs := make([][]float32, len(embedded))
	for i, n := range embedded {
		vecs[i] = n.Embedding.Slice()
	}
	var edges []*types.SemanticEdge
	keep := make(map[[2]uuid.UUID]bool)
	for i := 0; i < len(embedded); i++ {
		for j := i + 1; j < len(embedded); j++ {
			sim := embedding.Cosine(vecs[i], vecs[j])
			if sim < threshold {
				continue
			}
			a, b := canonicalPair(embedded[i].ID, embedded[j].ID)
			keep[[2]uuid.UUID{a, b}] = true
			edges = append(edges, &types.SemanticEdge{
				OwnerID:         ownerID,
				SourceID:        a,
				TargetID:        b,
				SourceType:      types.EntityNote,
				TargetType:      types.EntityNote,
				SimilarityScore: sim,
			})
		}
	}
	return edges, keep
}

func canonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() > b.String() {
		return b, a
	}
	return a, b
}

// missingSuggestions finds strong semantic edges with no wikilink in either
// direction. Rows for pairs the user already accepted or dismissed are left
// alone by the pending-only upsert.
func missingSuggestions(ownerID uuid.UUID, strong []*types.SemanticEdge, links []*types.NoteLink) []*types.NexusLinkSuggestion {
	linked := make(map[[2]uuid.UUID]bool, len(links))
	for _, l := range links {
		linked[[2]uuid.UUID{l.SourceNoteID, l.TargetNoteID}] = true
	}
	var out []*types.NexusLinkSuggestion
	for _, e := range strong {
		if linked[[2]uuid.UUID{e.SourceID, e.TargetID}] || linked[[2]uuid.UUID{e.TargetID, e.SourceID}] {
			continue
		}
		out = append(out, &types.NexusLinkSuggestion{
			OwnerID:      ownerID,
			SourceNoteID: e.SourceID,
			TargetNoteID: e.TargetID,
			Similarity:   e.SimilarityScore,
			Status:       types.SuggestionPending,
		})
	}
	return out
}

// formatCommunityMap renders the navigator's community blob, one line per
// community: [id] label (count notes): term, term.
func formatCommunityMap(comms []*types.CommunityMetadata) string {
	sorted := make([]*types.CommunityMetadata, len(comms))
	copy(sorted, comms)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CommunityID < sorted[j].CommunityID })

	var b strings.Builder
	for _, cm := range sorted {
		label := cm.Label
		if label == "" {
			label = fmt.Sprintf("community %d", cm.CommunityID)
		}
		var terms []string
		_ = json.Unmarshal(cm.TopTerms, &terms)
		b.WriteString(fmt.Sprintf("[%d] %s (%d notes)", cm.CommunityID, label, cm.NodeCount))
		if len(terms) > 0 {
			b.WriteString(": " + strings.Join(terms, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatTagOverview renders "#tag (count), ..." for the most used tags.
func formatTagOverview(counts []repos.TagCount) string {
	if len(counts) > maxOverviewTags {
		counts = counts[:maxOverviewTags]
	}
	parts := make([]string, 0, len(counts))
	for _, tc := range counts {
		parts = append(parts, fmt.Sprintf("#%s (%d)", tc.Name, tc.Count))
	}
	return strings.Join(parts, ", ")
}
