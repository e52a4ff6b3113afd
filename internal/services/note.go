package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/brain"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/wikilink"
)

// wikilinkMaxDistance is the levenshtein budget when a [[target]] matches no
// title or slug exactly. Two candidates at the same distance is ambiguous
// and resolves to nothing.
const wikilinkMaxDistance = 2

// NoteInput carries the writable note fields. Pointers distinguish "leave
// alone" from "set to zero value" on update.
type NoteInput struct {
	Title      *string `json:"title"`
	Content    *string `json:"content"`
	HTML       *string `json:"html"`
	IsFavorite *bool   `json:"is_favorite"`
	TagNames   []string `json:"tags"`
}

// NoteView is a note plus the relations the editor surface needs.
type NoteView struct {
	Note      *types.Note       `json:"note"`
	Tags      []*types.Tag      `json:"tags"`
	Backlinks []*types.NoteLink `json:"backlinks"`
}

// NoteService owns the note CRUD surface. Every content write re-resolves
// wikilinks inside the note's transaction and queues the embedding and brain
// follow-ups; trash and restore keep the graph tables consistent.
type NoteService interface {
	Create(ctx context.Context, ownerID uuid.UUID, in NoteInput) (*types.Note, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*NoteView, error)
	List(ctx context.Context, ownerID uuid.UUID, trashed bool) ([]*types.Note, error)
	Update(ctx context.Context, ownerID, id uuid.UUID, in NoteInput) (*types.Note, error)
	SetTrashed(ctx context.Context, ownerID, id uuid.UUID, trashed bool) (*types.Note, error)
	SetFavorite(ctx context.Context, ownerID, id uuid.UUID, favorite bool) (*types.Note, error)
}

type noteService struct {
	db          *gorm.DB
	notes       repos.NoteRepo
	links       repos.NoteLinkRepo
	tags        repos.TagRepo
	suggestions repos.LinkSuggestionRepo
	edges       repos.SemanticEdgeRepo
	importance  repos.ImportanceScoreRepo
	positions   repos.GraphPositionRepo
	taskIntake  TaskService
	log         *logger.Logger
}

func NewNoteService(
	db *gorm.DB,
	notes repos.NoteRepo,
	links repos.NoteLinkRepo,
	tags repos.TagRepo,
	suggestions repos.LinkSuggestionRepo,
	edges repos.SemanticEdgeRepo,
	importance repos.ImportanceScoreRepo,
	positions repos.GraphPositionRepo,
	taskIntake TaskService,
	baseLog *logger.Logger,
) NoteService {
	return &noteService{
		db:          db,
		notes:       notes,
		links:       links,
		tags:        tags,
		suggestions: suggestions,
		edges:       edges,
		importance:  importance,
		positions:   positions,
		taskIntake:  taskIntake,
		log:         baseLog.With("service", "NoteService"),
	}
}

func (s *noteService) Create(ctx context.Context, ownerID uuid.UUID, in NoteInput) (*types.Note, error) {
	title := ""
	if in.Title != nil {
		title = strings.TrimSpace(*in.Title)
	}
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", apperr.ErrValidation)
	}

	note := &types.Note{OwnerID: ownerID, Title: title}
	if in.Content != nil {
		note.Content = *in.Content
	}
	if in.HTML != nil {
		note.HTML = *in.HTML
	}
	if in.IsFavorite != nil {
		note.IsFavorite = *in.IsFavorite
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.WithTx(ctx, tx)
		slug, err := wikilink.NextSlug(wikilink.Slugify(title), func(candidate string) (bool, error) {
			return s.notes.SlugExists(txc, ownerID, candidate)
		})
		if err != nil {
			return fmt.Errorf("resolve slug: %w", err)
		}
		note.Slug = slug
		if _, err := s.notes.Create(txc, note); err != nil {
			return fmt.Errorf("create note: %w", err)
		}
		if len(in.TagNames) > 0 {
			if err := s.applyTags(txc, ownerID, note.ID, in.TagNames); err != nil {
				return err
			}
		}
		return s.resolveWikilinks(txc, ownerID, note.ID, note.Content)
	})
	if err != nil {
		return nil, err
	}

	s.enqueueNoteFollowups(ctx, ownerID, note.ID, brain.ChangeCreated)
	return note, nil
}

func (s *noteService) Get(ctx context.Context, ownerID, id uuid.UUID) (*NoteView, error) {
	dbc := dbctx.New(ctx)
	note, err := s.notes.GetByID(dbc, ownerID, id)
	if err != nil {
		return nil, err
	}
	if note == nil {
		return nil, fmt.Errorf("%w: note %s", apperr.ErrNotFound, id)
	}
	tags, err := s.tags.ListForNote(dbc, note.ID)
	if err != nil {
		return nil, err
	}
	backlinks, err := s.links.ListBacklinks(dbc, ownerID, note.ID)
	if err != nil {
		return nil, err
	}
	return &NoteView{Note: note, Tags: tags, Backlinks: backlinks}, nil
}

func (s *noteService) List(ctx context.Context, ownerID uuid.UUID, trashed bool) ([]*types.Note, error) {
	return s.notes.List(dbctx.New(ctx), ownerID, trashed)
}

func (s *noteService) Update(ctx context.Context, ownerID, id uuid.UUID, in NoteInput) (*types.Note, error) {
	dbc := dbctx.New(ctx)
	note, err := s.notes.GetByID(dbc, ownerID, id)
	if err != nil {
		return nil, err
	}
	if note == nil {
		return nil, fmt.Errorf("%w: note %s", apperr.ErrNotFound, id)
	}

	updates := map[string]interface{}{}
	contentChanged := false
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", apperr.ErrValidation)
		}
		if title != note.Title {
			updates["title"] = title
			note.Title = title
			contentChanged = true
		}
	}
	if in.Content != nil && *in.Content != note.Content {
		updates["content"] = *in.Content
		note.Content = *in.Content
		contentChanged = true
	}
	if in.HTML != nil && *in.HTML != note.HTML {
		updates["html"] = *in.HTML
		note.HTML = *in.HTML
	}
	if in.IsFavorite != nil && *in.IsFavorite != note.IsFavorite {
		updates["is_favorite"] = *in.IsFavorite
		note.IsFavorite = *in.IsFavorite
	}
	if len(updates) == 0 && in.TagNames == nil {
		return note, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.WithTx(ctx, tx)
		if len(updates) > 0 {
			if err := s.notes.UpdateFields(txc, note.ID, updates); err != nil {
				return fmt.Errorf("update note: %w", err)
			}
		}
		if in.TagNames != nil {
			if err := s.applyTags(txc, ownerID, note.ID, in.TagNames); err != nil {
				return err
			}
		}
		if contentChanged {
			return s.resolveWikilinks(txc, ownerID, note.ID, note.Content)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if contentChanged {
		s.enqueueNoteFollowups(ctx, ownerID, note.ID, brain.ChangeUpdated)
	}
	return note, nil
}

func (s *noteService) SetTrashed(ctx context.Context, ownerID, id uuid.UUID, trashed bool) (*types.Note, error) {
	dbc := dbctx.New(ctx)
	note, err := s.notes.GetByID(dbc, ownerID, id)
	if err != nil {
		return nil, err
	}
	if note == nil {
		return nil, fmt.Errorf("%w: note %s", apperr.ErrNotFound, id)
	}
	if note.IsTrashed == trashed {
		return note, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.WithTx(ctx, tx)
		if err := s.notes.UpdateFields(txc, note.ID, map[string]interface{}{"is_trashed": trashed}); err != nil {
			return err
		}
		if trashed {
			// A trashed note leaves the graph entirely: outgoing links,
			// pending suggestions, semantic edges, its importance score and
			// its layout position all go with it.
			if err := s.links.DeleteForNote(txc, ownerID, note.ID); err != nil {
				return err
			}
			if err := s.suggestions.DeleteForNote(txc, ownerID, note.ID); err != nil {
				return err
			}
			if err := s.edges.DeleteForEntity(txc, ownerID, note.ID); err != nil {
				return err
			}
			if err := s.importance.DeleteForNote(txc, ownerID, note.ID); err != nil {
				return err
			}
			return s.positions.DeleteForNote(txc, ownerID, note.ID)
		}
		return s.resolveWikilinks(txc, ownerID, note.ID, note.Content)
	})
	if err != nil {
		return nil, err
	}
	note.IsTrashed = trashed

	if trashed {
		s.enqueueBrainIncremental(ctx, ownerID, note.ID, brain.ChangeDeleted)
	} else {
		s.enqueueNoteFollowups(ctx, ownerID, note.ID, brain.ChangeCreated)
	}
	return note, nil
}

func (s *noteService) SetFavorite(ctx context.Context, ownerID, id uuid.UUID, favorite bool) (*types.Note, error) {
	dbc := dbctx.New(ctx)
	note, err := s.notes.GetByID(dbc, ownerID, id)
	if err != nil {
		return nil, err
	}
	if note == nil {
		return nil, fmt.Errorf("%w: note %s", apperr.ErrNotFound, id)
	}
	if note.IsFavorite == favorite {
		return note, nil
	}
	if err := s.notes.UpdateFields(dbc, note.ID, map[string]interface{}{"is_favorite": favorite}); err != nil {
		return nil, err
	}
	note.IsFavorite = favorite
	return note, nil
}

func (s *noteService) applyTags(txc dbctx.Context, ownerID, noteID uuid.UUID, names []string) error {
	ids := make([]uuid.UUID, 0, len(names))
	seen := map[string]struct{}{}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		tag, err := s.tags.GetOrCreate(txc, ownerID, name)
		if err != nil {
			return err
		}
		if tag != nil {
			ids = append(ids, tag.ID)
		}
	}
	return s.tags.ReplaceNoteTags(txc, noteID, ids)
}

// resolveWikilinks rewrites the note's outgoing link rows from its current
// content. Targets resolve by exact title, then slug, then closest title
// within the levenshtein budget; a tie or a miss drops the link silently so
// a half-typed [[target]] never blocks a save.
func (s *noteService) resolveWikilinks(txc dbctx.Context, ownerID, noteID uuid.UUID, content string) error {
	targets := wikilink.Targets(content)
	if len(targets) == 0 {
		return s.links.ReplaceForSource(txc, ownerID, noteID, nil)
	}

	titles, err := s.notes.ListTitles(txc, ownerID)
	if err != nil {
		return err
	}

	byTitle := make(map[string]uuid.UUID, len(titles))
	bySlug := make(map[string]uuid.UUID, len(titles))
	for _, t := range titles {
		byTitle[strings.ToLower(t.Title)] = t.ID
		bySlug[t.Slug] = t.ID
	}

	var targetIDs []uuid.UUID
	seen := map[uuid.UUID]struct{}{}
	for _, raw := range targets {
		id, ok := s.resolveTarget(raw, titles, byTitle, bySlug)
		if !ok || id == noteID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		targetIDs = append(targetIDs, id)
	}
	return s.links.ReplaceForSource(txc, ownerID, noteID, targetIDs)
}

func (s *noteService) resolveTarget(raw string, titles []repos.NoteTitle, byTitle, bySlug map[string]uuid.UUID) (uuid.UUID, bool) {
	needle := strings.ToLower(strings.TrimSpace(raw))
	if needle == "" {
		return uuid.Nil, false
	}
	if id, ok := byTitle[needle]; ok {
		return id, true
	}
	if id, ok := bySlug[wikilink.Slugify(raw)]; ok {
		return id, true
	}

	best, bestID := wikilinkMaxDistance+1, uuid.Nil
	ambiguous := false
	for _, t := range titles {
		d := levenshtein.ComputeDistance(needle, strings.ToLower(t.Title))
		switch {
		case d < best:
			best, bestID, ambiguous = d, t.ID, false
		case d == best:
			ambiguous = true
		}
	}
	if best > wikilinkMaxDistance || ambiguous {
		return uuid.Nil, false
	}
	return bestID, true
}

// enqueueNoteFollowups queues the embedding refresh and the incremental
// brain update for a content change. Both are deduped against runnable rows
// so rapid saves do not stack identical work; enqueue failures are logged,
// never surfaced, because the note write already committed.
func (s *noteService) enqueueNoteFollowups(ctx context.Context, ownerID, noteID uuid.UUID, change string) {
	eid := noteID
	if _, err := s.taskIntake.Enqueue(ctx, ownerID, types.TaskNoteEmbed, types.EntityNote, &eid, map[string]any{"note_id": noteID}); err != nil {
		s.log.Warn("Enqueue note_embed failed", "note_id", noteID, "error", err)
	}
	s.enqueueBrainIncremental(ctx, ownerID, noteID, change)
}

func (s *noteService) enqueueBrainIncremental(ctx context.Context, ownerID, noteID uuid.UUID, change string) {
	eid := noteID
	payload := map[string]any{"note_id": noteID, "change": change}
	if _, err := s.taskIntake.Enqueue(ctx, ownerID, types.TaskBrainIncremental, types.EntityNote, &eid, payload); err != nil {
		s.log.Warn("Enqueue brain_incremental failed", "note_id", noteID, "error", err)
	}
}
