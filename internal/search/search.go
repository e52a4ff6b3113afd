// Package search provides candidate retrieval over notes, note chunks,
// document chunks, and image analyses. Semantic search ranks by pgvector
// cosine similarity, fulltext by Postgres ts_rank, and hybrid linearly
// combines the two with a boost for sources confirmed by both signals.
package search

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

const (
	DefaultLimit     = 20
	DefaultThreshold = 0.3

	DefaultSemanticWeight = 0.7
	DefaultFulltextWeight = 0.3
	// Applied after weighting when both signals agree on a source.
	DefaultBothBoost = 1.2
)

// Date windows accepted by Options.DateRange.
const (
	RangeToday = "today"
	RangeWeek  = "week"
	RangeMonth = "month"
	RangeYear  = "year"
	RangeAll   = "all"
)

// Sort orders accepted by Options.SortBy.
const (
	SortRelevance = "relevance"
	SortDate      = "date"
	SortTitle     = "title"
)

// How results were matched.
const (
	MatchedSemantic = "semantic"
	MatchedFulltext = "fulltext"
	MatchedBoth     = "both"
)

type Options struct {
	// SourceTypes restricts the search to the given source types
	// (types.EntityNote, EntityChunk, EntityDocumentChunk, EntityImage).
	// Empty means all of them.
	SourceTypes []string
	Limit       int
	// Threshold is the minimum cosine similarity for a semantic hit.
	Threshold float64
	DateRange string
	SortBy    string

	// Hybrid combination parameters.
	SemanticWeight float64
	FulltextWeight float64
	BothBoost      float64
}

func (o Options) normalized() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.DateRange == "" {
		o.DateRange = RangeAll
	}
	if o.SortBy == "" {
		o.SortBy = SortRelevance
	}
	if o.SemanticWeight <= 0 {
		o.SemanticWeight = DefaultSemanticWeight
	}
	if o.FulltextWeight <= 0 {
		o.FulltextWeight = DefaultFulltextWeight
	}
	if o.BothBoost <= 0 {
		o.BothBoost = DefaultBothBoost
	}
	return o
}

// sourceTypes returns the requested types intersected with the searchable
// set, preserving the canonical order. Unknown entries are dropped; an
// all-unknown request yields nothing rather than everything.
func (o Options) sourceTypes() []string {
	all := []string{types.EntityNote, types.EntityChunk, types.EntityDocumentChunk, types.EntityImage}
	if len(o.SourceTypes) == 0 {
		return all
	}
	requested := make(map[string]bool, len(o.SourceTypes))
	for _, st := range o.SourceTypes {
		requested[st] = true
	}
	var out []string
	for _, st := range all {
		if requested[st] {
			out = append(out, st)
		}
	}
	return out
}

// Result is one retrieval candidate. Exactly one of NoteID, DocumentID,
// ImageID points at the containing artifact; for whole-note hits NoteID
// equals SourceID.
type Result struct {
	SourceType string     `json:"source_type"`
	SourceID   uuid.UUID  `json:"source_id"`
	NoteID     *uuid.UUID `json:"note_id,omitempty"`
	DocumentID *uuid.UUID `json:"document_id,omitempty"`
	ImageID    *uuid.UUID `json:"image_id,omitempty"`

	Title      string `json:"title"`
	Content    string `json:"content"`
	PageNumber int    `json:"page_number,omitempty"`

	Similarity float64 `json:"similarity,omitempty"`
	Rank       float64 `json:"rank,omitempty"`
	Score      float64 `json:"score"`
	MatchedBy  string  `json:"matched_by"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Service interface {
	// Semantic ranks embedded sources by cosine similarity to queryEmb.
	// Source types with no embedded rows at all silently fall back to
	// fulltext on query so un-analyzed content is still reachable.
	Semantic(dbc dbctx.Context, ownerID uuid.UUID, query string, queryEmb []float32, opts Options) ([]Result, error)
	// Fulltext runs lexical search; terms are AND-combined.
	Fulltext(dbc dbctx.Context, ownerID uuid.UUID, query string, opts Options) ([]Result, error)
	// Hybrid merges both signals per source with Options weights.
	Hybrid(dbc dbctx.Context, ownerID uuid.UUID, query string, queryEmb []float32, opts Options) ([]Result, error)
}

type service struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewService(db *gorm.DB, baseLog *logger.Logger) Service {
	return &service{
		db:  db,
		log: baseLog.With("service", "SearchService"),
	}
}

func (s *service) Semantic(dbc dbctx.Context, ownerID uuid.UUID, query string, queryEmb []float32, opts Options) ([]Result, error) {
	opts = opts.normalized()
	if ownerID == uuid.Nil || len(queryEmb) == 0 {
		return nil, nil
	}
	vec := pgvector.NewVector(queryEmb)
	since := sinceFor(opts.DateRange, time.Now())

	var out []Result
	for _, st := range opts.sourceTypes() {
		hits, err := s.semanticFor(dbc, ownerID, st, vec, since, opts.Limit)
		if err != nil {
			return nil, err
		}
		results := toSemanticResults(st, hits, opts.Threshold)
		if len(results) == 0 && query != "" {
			populated, err := s.hasEmbeddings(dbc, ownerID, st)
			if err != nil {
				return nil, err
			}
			if !populated {
				ftHits, err := s.fulltextFor(dbc, ownerID, st, query, since, opts.Limit)
				if err != nil {
					return nil, err
				}
				results = toFulltextResults(st, ftHits)
			}
		}
		out = append(out, results...)
	}

	normalizeRanks(out)
	sortResults(out, opts.SortBy)
	return trim(out, opts.Limit), nil
}

func (s *service) Fulltext(dbc dbctx.Context, ownerID uuid.UUID, query string, opts Options) ([]Result, error) {
	opts = opts.normalized()
	query = strings.TrimSpace(query)
	if ownerID == uuid.Nil || query == "" {
		return nil, nil
	}
	since := sinceFor(opts.DateRange, time.Now())

	var out []Result
	for _, st := range opts.sourceTypes() {
		hits, err := s.fulltextFor(dbc, ownerID, st, query, since, opts.Limit)
		if err != nil {
			return nil, err
		}
		out = append(out, toFulltextResults(st, hits)...)
	}

	normalizeRanks(out)
	sortResults(out, opts.SortBy)
	return trim(out, opts.Limit), nil
}

func (s *service) Hybrid(dbc dbctx.Context, ownerID uuid.UUID, query string, queryEmb []float32, opts Options) ([]Result, error) {
	opts = opts.normalized()
	if ownerID == uuid.Nil {
		return nil, nil
	}

	// Fulltext already covers every source here, so the per-source
	// degrade inside Semantic is skipped by passing an empty query.
	sem, err := s.Semantic(dbc, ownerID, "", queryEmb, opts)
	if err != nil {
		return nil, err
	}
	ft, err := s.Fulltext(dbc, ownerID, query, opts)
	if err != nil {
		return nil, err
	}

	merged := mergeHybrid(sem, ft, opts)
	sortResults(merged, opts.SortBy)
	return trim(merged, opts.Limit), nil
}

// hit is the shared row shape scanned from every search query; columns
// irrelevant to a source are selected as typed NULLs.
type hit struct {
	SourceID   uuid.UUID  `gorm:"column:source_id"`
	NoteID     *uuid.UUID `gorm:"column:note_id"`
	DocumentID *uuid.UUID `gorm:"column:document_id"`
	ImageID    *uuid.UUID `gorm:"column:image_id"`
	Title      string     `gorm:"column:title"`
	Content    string     `gorm:"column:content"`
	PageNumber int        `gorm:"column:page_number"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at"`
	Similarity float64    `gorm:"column:similarity"`
	Rank       float64    `gorm:"column:rank"`
}

func (s *service) semanticFor(dbc dbctx.Context, ownerID uuid.UUID, sourceType string, vec pgvector.Vector, since time.Time, limit int) ([]hit, error) {
	switch sourceType {
	case types.EntityNote:
		return s.semanticNotes(dbc, ownerID, vec, since, limit)
	case types.EntityChunk:
		return s.semanticNoteChunks(dbc, ownerID, vec, since, limit)
	case types.EntityDocumentChunk:
		return s.semanticDocumentChunks(dbc, ownerID, vec, since, limit)
	case types.EntityImage:
		return s.semanticImages(dbc, ownerID, vec, since, limit)
	}
	return nil, nil
}

func (s *service) fulltextFor(dbc dbctx.Context, ownerID uuid.UUID, sourceType, query string, since time.Time, limit int) ([]hit, error) {
	switch sourceType {
	case types.EntityNote:
		return s.fulltextNotes(dbc, ownerID, query, since, limit)
	case types.EntityChunk:
		return s.fulltextNoteChunks(dbc, ownerID, query, since, limit)
	case types.EntityDocumentChunk:
		return s.fulltextDocumentChunks(dbc, ownerID, query, since, limit)
	case types.EntityImage:
		return s.fulltextImages(dbc, ownerID, query, since, limit)
	}
	return nil, nil
}

func (s *service) semanticNotes(dbc dbctx.Context, ownerID uuid.UUID, vec pgvector.Vector, since time.Time, limit int) ([]hit, error) {
	sql := `
		SELECT n.id AS source_id, n.id AS note_id,
		       NULL::uuid AS document_id, NULL::uuid AS image_id,
		       n.title AS title, n.content AS content, 0 AS page_number,
		       n.created_at AS created_at, n.updated_at AS updated_at,
		       1 - (n.embedding <=> ?) AS similarity
		FROM notes n
		WHERE n.owner_id = ? AND n.is_trashed = FALSE AND n.embedding IS NOT NULL`
	args := []interface{}{vec, ownerID}
	if !since.IsZero() {
		sql += ` AND n.updated_at >= ?`
		args = append(args, since)
	}
	sql += ` ORDER BY n.embedding <=> ? LIMIT ?`
	args = append(args, vec, limit)

	var rows []hit
	if err := dbc.DB(s.db).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *service) semanticNoteChunks(dbc dbctx.Context, ownerID uuid.UUID, vec pgvector.Vector, since time.Time, limit int) ([]hit, error) {
	sql := `
		SELECT c.id AS source_id, c.note_id AS note_id,
		       NULL::uuid AS document_id, NULL::uuid AS image_id,
		       n.title AS title, c.content AS content, 0 AS page_number,
		       c.created_at AS created_at, n.updated_at AS updated_at,
		       1 - (c.embedding <=> ?) AS similarity
		FROM note_chunks c
		JOIN notes n ON n.id = c.note_id
		WHERE c.owner_id = ? AND n.is_trashed = FALSE AND c.embedding IS NOT NULL`
	args := []interface{}{vec, ownerID}
	if !since.IsZero() {
		sql += ` AND n.updated_at >= ?`
		args = append(args, since)
	}
	sql += ` ORDER BY c.embedding <=> ? LIMIT ?`
	args = append(args, vec, limit)

	var rows []hit
	if err := dbc.DB(s.db).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *service) semanticDocumentChunks(dbc dbctx.Context, ownerID uuid.UUID, vec pgvector.Vector, since time.Time, limit int) ([]hit, error) {
	sql := `
		SELECT c.id AS source_id, NULL::uuid AS note_id,
		       c.document_id AS document_id, NULL::uuid AS image_id,
		       d.title AS title, c.content AS content, c.page_number AS page_number,
		       c.created_at AS created_at, d.updated_at AS updated_at,
		       1 - (c.embedding <=> ?) AS similarity
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.owner_id = ? AND d.is_trashed = FALSE AND c.embedding IS NOT NULL`
	args := []interface{}{vec, ownerID}
	if !since.IsZero() {
		sql += ` AND d.updated_at >= ?`
		args = append(args, since)
	}
	sql += ` ORDER BY c.embedding <=> ? LIMIT ?`
	args = append(args, vec, limit)

	var rows []hit
	if err := dbc.DB(s.db).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *service) semanticImages(dbc dbctx.Context, ownerID uuid.UUID, vec pgvector.Vector, since time.Time, limit int) ([]hit, error) {
	sql := `
		SELECT i.id AS source_id, NULL::uuid AS note_id,
		       NULL::uuid AS document_id, i.id AS image_id,
		       coalesce(i.title, '') AS title,
		       coalesce(i.ai_analysis_result->>'description', '') AS content,
		       0 AS page_number,
		       i.created_at AS created_at, i.updated_at AS updated_at,
		       1 - (i.embedding <=> ?) AS similarity
		FROM images i
		WHERE i.owner_id = ? AND i.is_trashed = FALSE AND i.embedding IS NOT NULL`
	args := []interface{}{vec, ownerID}
	if !since.IsZero() {
		sql += ` AND i.updated_at >= ?`
		args = append(args, since)
	}
	sql += ` ORDER BY i.embedding <=> ? LIMIT ?`
	args = append(args, vec, limit)

	var rows []hit
	if err := dbc.DB(s.db).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Fulltext expressions must match the GIN index definitions in
// db.PostgresService.ensureIndexes verbatim or Postgres will seq-scan.

func (s *service) fulltextNotes(dbc dbctx.Context, ownerID uuid.UUID, query string, since time.Time, limit int) ([]hit, error) {
	sql := `
		SELECT n.id AS source_id, n.id AS note_id,
		       NULL::uuid AS document_id, NULL::uuid AS image_id,
		       n.title AS title, n.content AS content, 0 AS page_number,
		       n.created_at AS created_at, n.updated_at AS updated_at,
		       ts_rank(to_tsvector('english', coalesce(n.title,'') || ' ' || coalesce(n.content,'')),
		               plainto_tsquery('english', ?)) AS rank
		FROM notes n
		WHERE n.owner_id = ? AND n.is_trashed = FALSE
		  AND to_tsvector('english', coalesce(n.title,'') || ' ' || coalesce(n.content,''))
		      @@ plainto_tsquery('english', ?)`
	args := []interface{}{query, ownerID, query}
	if !since.IsZero() {
		sql += ` AND n.updated_at >= ?`
		args = append(args, since)
	}
	sql += ` ORDER BY rank DESC LIMIT ?`
	args = append(args, limit)

	var rows []hit
	if err := dbc.DB(s.db).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *service) fulltextNoteChunks(dbc dbctx.Context, ownerID uuid.UUID, query string, since time.Time, limit int) ([]hit, error) {
	sql := `
		SELECT c.id AS source_id, c.note_id AS note_id,
		       NULL::uuid AS document_id, NULL::uuid AS image_id,
		       n.title AS title, c.content AS content, 0 AS page_number,
		       c.created_at AS created_at, n.updated_at AS updated_at,
		       ts_rank(to_tsvector('english', c.content), plainto_tsquery('english', ?)) AS rank
		FROM note_chunks c
		JOIN notes n ON n.id = c.note_id
		WHERE c.owner_id = ? AND n.is_trashed = FALSE
		  AND to_tsvector('english', c.content) @@ plainto_tsquery('english', ?)`
	args := []interface{}{query, ownerID, query}
	if !since.IsZero() {
		sql += ` AND n.updated_at >= ?`
		args = append(args, since)
	}
	sql += ` ORDER BY rank DESC LIMIT ?`
	args = append(args, limit)

	var rows []hit
	if err := dbc.DB(s.db).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *service) fulltextDocumentChunks(dbc dbctx.Context, ownerID uuid.UUID, query string, since time.Time, limit int) ([]hit, error) {
	sql := `
		SELECT c.id AS source_id, NULL::uuid AS note_id,
		       c.document_id AS document_id, NULL::uuid AS image_id,
		       d.title AS title, c.content AS content, c.page_number AS page_number,
		       c.created_at AS created_at, d.updated_at AS updated_at,
		       ts_rank(to_tsvector('english', c.content), plainto_tsquery('english', ?)) AS rank
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.owner_id = ? AND d.is_trashed = FALSE
		  AND to_tsvector('english', c.content) @@ plainto_tsquery('english', ?)`
	args := []interface{}{query, ownerID, query}
	if !since.IsZero() {
		sql += ` AND d.updated_at >= ?`
		args = append(args, since)
	}
	sql += ` ORDER BY rank DESC LIMIT ?`
	args = append(args, limit)

	var rows []hit
	if err := dbc.DB(s.db).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *service) fulltextImages(dbc dbctx.Context, ownerID uuid.UUID, query string, since time.Time, limit int) ([]hit, error) {
	// Images have no FTS index; the table stays small enough that a
	// seq scan over titles and analysis descriptions is acceptable.
	sql := `
		SELECT i.id AS source_id, NULL::uuid AS note_id,
		       NULL::uuid AS document_id, i.id AS image_id,
		       coalesce(i.title, '') AS title,
		       coalesce(i.ai_analysis_result->>'description', '') AS content,
		       0 AS page_number,
		       i.created_at AS created_at, i.updated_at AS updated_at,
		       ts_rank(to_tsvector('english', coalesce(i.title,'') || ' ' || coalesce(i.ai_analysis_result->>'description','')),
		               plainto_tsquery('english', ?)) AS rank
		FROM images i
		WHERE i.owner_id = ? AND i.is_trashed = FALSE
		  AND to_tsvector('english', coalesce(i.title,'') || ' ' || coalesce(i.ai_analysis_result->>'description',''))
		      @@ plainto_tsquery('english', ?)`
	args := []interface{}{query, ownerID, query}
	if !since.IsZero() {
		sql += ` AND i.updated_at >= ?`
		args = append(args, since)
	}
	sql += ` ORDER BY rank DESC LIMIT ?`
	args = append(args, limit)

	var rows []hit
	if err := dbc.DB(s.db).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// hasEmbeddings reports whether any embedded rows exist for the source
// type, which decides the degrade-to-fulltext path.
func (s *service) hasEmbeddings(dbc dbctx.Context, ownerID uuid.UUID, sourceType string) (bool, error) {
	table := map[string]string{
		types.EntityNote:          "notes",
		types.EntityChunk:         "note_chunks",
		types.EntityDocumentChunk: "document_chunks",
		types.EntityImage:         "images",
	}[sourceType]
	if table == "" {
		return false, nil
	}
	var count int64
	err := dbc.DB(s.db).
		Table(table).
		Where("owner_id = ? AND embedding IS NOT NULL", ownerID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func toSemanticResults(sourceType string, hits []hit, threshold float64) []Result {
	var out []Result
	for _, h := range hits {
		if h.Similarity < threshold {
			continue
		}
		r := toResult(sourceType, h)
		r.Score = h.Similarity
		r.MatchedBy = MatchedSemantic
		out = append(out, r)
	}
	return out
}

func toFulltextResults(sourceType string, hits []hit) []Result {
	var out []Result
	for _, h := range hits {
		r := toResult(sourceType, h)
		r.MatchedBy = MatchedFulltext
		out = append(out, r)
	}
	return out
}

func toResult(sourceType string, h hit) Result {
	return Result{
		SourceType: sourceType,
		SourceID:   h.SourceID,
		NoteID:     h.NoteID,
		DocumentID: h.DocumentID,
		ImageID:    h.ImageID,
		Title:      h.Title,
		Content:    h.Content,
		PageNumber: h.PageNumber,
		Similarity: h.Similarity,
		Rank:       h.Rank,
		CreatedAt:  h.CreatedAt,
		UpdatedAt:  h.UpdatedAt,
	}
}

// normalizeRanks maps raw ts_rank values onto [0,1] relative to the best
// lexical hit and assigns Score to fulltext-only results. ts_rank has no
// fixed upper bound, so absolute values are not comparable to cosine
// similarities without this.
func normalizeRanks(results []Result) {
	var max float64
	for i := range results {
		if results[i].Rank > max {
			max = results[i].Rank
		}
	}
	if max <= 0 {
		return
	}
	for i := range results {
		if results[i].Rank <= 0 {
			continue
		}
		results[i].Rank = results[i].Rank / max
		if results[i].MatchedBy == MatchedFulltext {
			results[i].Score = results[i].Rank
		}
	}
}

func hybridKey(r Result) string {
	return r.SourceType + "/" + r.SourceID.String()
}

// mergeHybrid combines semantic and fulltext result sets. Scores are
// weighted sums; a source present in both sets keeps the richer metadata
// of each signal and gets the both-boost.
func mergeHybrid(sem, ft []Result, opts Options) []Result {
	byKey := make(map[string]*Result, len(sem)+len(ft))
	order := make([]string, 0, len(sem)+len(ft))

	for _, r := range sem {
		r.Score = opts.SemanticWeight * r.Similarity
		r.MatchedBy = MatchedSemantic
		key := hybridKey(r)
		cp := r
		byKey[key] = &cp
		order = append(order, key)
	}
	for _, r := range ft {
		key := hybridKey(r)
		if existing, ok := byKey[key]; ok {
			existing.Rank = r.Rank
			existing.Score += opts.FulltextWeight * r.Rank
			existing.Score *= opts.BothBoost
			existing.MatchedBy = MatchedBoth
			continue
		}
		r.Score = opts.FulltextWeight * r.Rank
		r.MatchedBy = MatchedFulltext
		cp := r
		byKey[key] = &cp
		order = append(order, key)
	}

	out := make([]Result, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	return out
}

// sinceFor converts a date-range window into a lower bound; zero time
// means no bound.
func sinceFor(dateRange string, now time.Time) time.Time {
	switch dateRange {
	case RangeToday:
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	case RangeWeek:
		return now.AddDate(0, 0, -7)
	case RangeMonth:
		return now.AddDate(0, -1, 0)
	case RangeYear:
		return now.AddDate(-1, 0, 0)
	}
	return time.Time{}
}

func sortResults(results []Result, sortBy string) {
	switch sortBy {
	case SortDate:
		sort.SliceStable(results, func(i, j int) bool {
			if !results[i].UpdatedAt.Equal(results[j].UpdatedAt) {
				return results[i].UpdatedAt.After(results[j].UpdatedAt)
			}
			return results[i].Score > results[j].Score
		})
	case SortTitle:
		sort.SliceStable(results, func(i, j int) bool {
			ti, tj := strings.ToLower(results[i].Title), strings.ToLower(results[j].Title)
			if ti != tj {
				return ti < tj
			}
			return results[i].Score > results[j].Score
		})
	default:
		sort.SliceStable(results, func(i, j int) bool {
			if results[i].Score != results[j].Score {
				return results[i].Score > results[j].Score
			}
			return results[i].UpdatedAt.After(results[j].UpdatedAt)
		})
	}
}

func trim(results []Result, limit int) []Result {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}
