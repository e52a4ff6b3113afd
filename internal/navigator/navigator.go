// Package navigator implements map-level candidate selection: an LLM reads
// the cached community map and tag overview plus a note directory and picks
// the notes worth visiting for a query. It is a best-effort strategy — any
// missing cache, provider failure, or malformed reply yields an empty result
// so the fuser can redistribute its weight.
package navigator

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/llm"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

const (
	// DefaultMaxResults caps how many notes one navigation can surface.
	DefaultMaxResults = 10

	// maxPromptTitles bounds the note directory included in the prompt.
	maxPromptTitles = 200

	// maxTitleDistance is the levenshtein budget for resolving a reply
	// entry that is a note title rather than an ID.
	maxTitleDistance = 3

	navTemperature = 0.1
	navMaxTokens   = 512
)

// Generator is the slice of the provider surface the navigator needs; a
// breaker-gated *llm.Instance satisfies it.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResult, error)
}

// CacheReader and NoteDirectory are the repo slices the navigator consumes;
// repos.NavigationCacheRepo and repos.NoteRepo satisfy them.
type CacheReader interface {
	Get(dbc dbctx.Context, ownerID uuid.UUID, cacheType string) (*types.NexusNavigationCache, error)
}

type NoteDirectory interface {
	ListTitles(dbc dbctx.Context, ownerID uuid.UUID) ([]repos.NoteTitle, error)
	GetLiveByIDs(dbc dbctx.Context, ownerID uuid.UUID, ids []uuid.UUID) ([]*types.Note, error)
}

// Result is one navigator pick, scored by reply position.
type Result struct {
	NoteID uuid.UUID `json:"note_id"`
	Title  string    `json:"title"`
	Score  float64   `json:"score"`
}

type Service interface {
	// Navigate asks gen to pick up to maxResults notes for the query.
	// It returns nil (never an error surfaced as a failure) when the
	// navigation caches are missing or the reply is unusable.
	Navigate(dbc dbctx.Context, ownerID uuid.UUID, query string, gen Generator, model string, maxResults int) ([]Result, error)
}

type service struct {
	navCache CacheReader
	notes    NoteDirectory
	log      *logger.Logger
}

func NewService(navCache CacheReader, notes NoteDirectory, baseLog *logger.Logger) Service {
	return &service{
		navCache: navCache,
		notes:    notes,
		log:      baseLog.With("service", "NavigatorService"),
	}
}

func (s *service) Navigate(dbc dbctx.Context, ownerID uuid.UUID, query string, gen Generator, model string, maxResults int) ([]Result, error) {
	if ownerID == uuid.Nil || strings.TrimSpace(query) == "" || gen == nil {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	communityMap, err := s.navCache.Get(dbc, ownerID, types.CacheCommunityMap)
	if err != nil {
		return nil, err
	}
	tagOverview, err := s.navCache.Get(dbc, ownerID, types.CacheTagOverview)
	if err != nil {
		return nil, err
	}
	if communityMap == nil || communityMap.Content == "" || tagOverview == nil || tagOverview.Content == "" {
		s.log.Debug("Navigation cache not populated; skipping", "owner_id", ownerID)
		return nil, nil
	}

	titles, err := s.notes.ListTitles(dbc, ownerID)
	if err != nil {
		return nil, err
	}
	if len(titles) == 0 {
		return nil, nil
	}

	req := llm.GenerateRequest{
		Model: model,
		Messages: []llm.Message{
			{Role: "system", Content: navSystemPrompt},
			{Role: "user", Content: buildPrompt(query, communityMap.Content, tagOverview.Content, titles, maxResults)},
		},
		Temperature: navTemperature,
		MaxTokens:   navMaxTokens,
	}
	res, err := gen.Generate(dbc.Context(), req)
	if err != nil {
		// Navigation is advisory; a provider failure must not sink the
		// whole query.
		s.log.Warn("Navigator generation failed", "owner_id", ownerID, "error", err)
		return nil, nil
	}

	picks := parsePicks(res.Content)
	if len(picks) == 0 {
		s.log.Debug("Navigator reply had no usable picks", "owner_id", ownerID)
		return nil, nil
	}

	ids := resolvePicks(picks, titles, maxResults)
	if len(ids) == 0 {
		return nil, nil
	}

	notes, err := s.notes.GetLiveByIDs(dbc, ownerID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*types.Note, len(notes))
	for _, n := range notes {
		byID[n.ID] = n
	}

	// Reply order carries the model's preference; score by position.
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		n, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, Result{
			NoteID: n.ID,
			Title:  n.Title,
			Score:  1.0 / float64(len(out)+1),
		})
	}
	return out, nil
}

const navSystemPrompt = `You are a navigator for a personal knowledge graph. ` +
	`Given a map of note communities, a tag overview, and a directory of notes, ` +
	`select the notes most relevant to the user's query. ` +
	`Respond with ONLY a JSON array of note ids from the directory, most relevant first. ` +
	`Use the exact ids. If nothing fits, respond with [].`

func buildPrompt(query, communityMap, tagOverview string, titles []repos.NoteTitle, maxResults int) string {
	var b strings.Builder
	b.WriteString("COMMUNITY MAP:\n")
	b.WriteString(communityMap)
	b.WriteString("\n\nTAG OVERVIEW:\n")
	b.WriteString(tagOverview)
	b.WriteString("\n\nNOTE DIRECTORY (id | title):\n")
	for i, t := range titles {
		if i >= maxPromptTitles {
			break
		}
		b.WriteString(t.ID.String())
		b.WriteString(" | ")
		b.WriteString(t.Title)
		b.WriteByte('\n')
	}
	b.WriteString("\nQUERY: ")
	b.WriteString(query)
	b.WriteString("\n\nReturn a JSON array with at most ")
	b.WriteString(strconv.Itoa(maxResults))
	b.WriteString(" note ids.")
	return b.String()
}

// parsePicks extracts the reply's JSON array of strings. Anything that does
// not decode as a string array is treated as no picks.
func parsePicks(content string) []string {
	block := llm.ExtractJSONBlock(content)
	if block == "" {
		return nil
	}
	var picks []string
	if err := json.Unmarshal([]byte(block), &picks); err != nil {
		return nil
	}
	return picks
}

// resolvePicks maps reply entries to note IDs. UUID entries are taken as-is;
// anything else is treated as a title and matched exactly first, then by
// levenshtein distance within maxTitleDistance.
func resolvePicks(picks []string, titles []repos.NoteTitle, maxResults int) []uuid.UUID {
	known := make(map[uuid.UUID]bool, len(titles))
	for _, t := range titles {
		known[t.ID] = true
	}

	seen := make(map[uuid.UUID]bool, maxResults)
	var out []uuid.UUID
	for _, pick := range picks {
		if len(out) >= maxResults {
			break
		}
		pick = strings.TrimSpace(pick)
		if pick == "" {
			continue
		}
		var id uuid.UUID
		if parsed, err := uuid.Parse(pick); err == nil {
			if !known[parsed] {
				continue
			}
			id = parsed
		} else {
			matched, ok := matchTitle(pick, titles)
			if !ok {
				continue
			}
			id = matched
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func matchTitle(pick string, titles []repos.NoteTitle) (uuid.UUID, bool) {
	lowered := strings.ToLower(pick)
	for _, t := range titles {
		if strings.ToLower(t.Title) == lowered {
			return t.ID, true
		}
	}

	best := uuid.Nil
	bestDist := maxTitleDistance + 1
	for _, t := range titles {
		d := levenshtein.ComputeDistance(lowered, strings.ToLower(t.Title))
		if d < bestDist {
			bestDist = d
			best = t.ID
		}
	}
	if best == uuid.Nil {
		return uuid.Nil, false
	}
	return best, true
}
