package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// NoteTitle is the slim projection used for wikilink resolution and
// navigation summaries.
type NoteTitle struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
	Slug  string    `json:"slug"`
}

// GraphCandidate is the slim projection graph computations rank over.
type GraphCandidate struct {
	ID        uuid.UUID        `json:"id"`
	Embedding *pgvector.Vector `json:"-"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type NoteRepo interface {
	Create(dbc dbctx.Context, note *types.Note) (*types.Note, error)
	GetByID(dbc dbctx.Context, ownerID, id uuid.UUID) (*types.Note, error)
	GetLiveByIDs(dbc dbctx.Context, ownerID uuid.UUID, ids []uuid.UUID) ([]*types.Note, error)
	List(dbc dbctx.Context, ownerID uuid.UUID, trashed bool) ([]*types.Note, error)
	ListLive(dbc dbctx.Context, ownerID uuid.UUID) ([]*types.Note, error)
	ListTitles(dbc dbctx.Context, ownerID uuid.UUID) ([]NoteTitle, error)
	ListGraphCandidates(dbc dbctx.Context, ownerID uuid.UUID, limit int) ([]GraphCandidate, error)
	CountLive(dbc dbctx.Context, ownerID uuid.UUID) (int64, error)
	SlugExists(dbc dbctx.Context, ownerID uuid.UUID, slug string) (bool, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateEmbedding(dbc dbctx.Context, id uuid.UUID, embedding *pgvector.Vector) error
	AssignCommunity(dbc dbctx.Context, ownerID uuid.UUID, communityID int, noteIDs []uuid.UUID) error
	ClearCommunities(dbc dbctx.Context, ownerID uuid.UUID) error
}

type noteRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNoteRepo(db *gorm.DB, baseLog *logger.Logger) NoteRepo {
	return &noteRepo{
		db:  db,
		log: baseLog.With("repo", "NoteRepo"),
	}
}

func (r *noteRepo) Create(dbc dbctx.Context, note *types.Note) (*types.Note, error) {
	if note == nil {
		return nil, errors.New("note is nil")
	}
	if err := dbc.DB(r.db).Create(note).Error; err != nil {
		return nil, err
	}
	return note, nil
}

func (r *noteRepo) GetByID(dbc dbctx.Context, ownerID, id uuid.UUID) (*types.Note, error) {
	if ownerID == uuid.Nil || id == uuid.Nil {
		return nil, nil
	}
	var note types.Note
	err := dbc.DB(r.db).
		Where("owner_id = ? AND id = ?", ownerID, id).
		First(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &note, nil
}

func (r *noteRepo) GetLiveByIDs(dbc dbctx.Context, ownerID uuid.UUID, ids []uuid.UUID) ([]*types.Note, error) {
	var out []*types.Note
	if ownerID == uuid.Nil || len(ids) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("owner_id = ? AND id IN ? AND is_trashed = FALSE", ownerID, ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *noteRepo) List(dbc dbctx.Context, ownerID uuid.UUID, trashed bool) ([]*types.Note, error) {
	var out []*types.Note
	if ownerID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("owner_id = ? AND is_trashed = ?", ownerID, trashed).
		Order("updated_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *noteRepo) ListLive(dbc dbctx.Context, ownerID uuid.UUID) ([]*types.Note, error) {
	return r.List(dbc, ownerID, false)
}

func (r *noteRepo) ListTitles(dbc dbctx.Context, ownerID uuid.UUID) ([]NoteTitle, error) {
	var out []NoteTitle
	if ownerID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Model(&types.Note{}).
		Select("id, title, slug").
		Where("owner_id = ? AND is_trashed = FALSE", ownerID).
		Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListGraphCandidates returns the most recently updated live notes without
// loading their content; limit bounds graph computations.
func (r *noteRepo) ListGraphCandidates(dbc dbctx.Context, ownerID uuid.UUID, limit int) ([]GraphCandidate, error) {
	var out []GraphCandidate
	if ownerID == uuid.Nil {
		return out, nil
	}
	q := dbc.DB(r.db).
		Model(&types.Note{}).
		Select("id, embedding, updated_at").
		Where("owner_id = ? AND is_trashed = FALSE", ownerID).
		Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *noteRepo) CountLive(dbc dbctx.Context, ownerID uuid.UUID) (int64, error) {
	if ownerID == uuid.Nil {
		return 0, nil
	}
	var count int64
	err := dbc.DB(r.db).
		Model(&types.Note{}).
		Where("owner_id = ? AND is_trashed = FALSE", ownerID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *noteRepo) SlugExists(dbc dbctx.Context, ownerID uuid.UUID, slug string) (bool, error) {
	if ownerID == uuid.Nil || slug == "" {
		return false, nil
	}
	var count int64
	err := dbc.DB(r.db).
		Model(&types.Note{}).
		Where("owner_id = ? AND slug = ?", ownerID, slug).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *noteRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return dbc.DB(r.db).
		Model(&types.Note{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *noteRepo) UpdateEmbedding(dbc dbctx.Context, id uuid.UUID, embedding *pgvector.Vector) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.Note{}).
		Where("id = ?", id).
		Update("embedding", embedding).Error
}

func (r *noteRepo) AssignCommunity(dbc dbctx.Context, ownerID uuid.UUID, communityID int, noteIDs []uuid.UUID) error {
	if ownerID == uuid.Nil || len(noteIDs) == 0 {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.Note{}).
		Where("owner_id = ? AND id IN ?", ownerID, noteIDs).
		Update("community_id", communityID).Error
}

func (r *noteRepo) ClearCommunities(dbc dbctx.Context, ownerID uuid.UUID) error {
	if ownerID == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.Note{}).
		Where("owner_id = ?", ownerID).
		Update("community_id", nil).Error
}
