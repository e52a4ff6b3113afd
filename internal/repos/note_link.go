package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

type NoteLinkRepo interface {
	Create(dbc dbctx.Context, link *types.NoteLink) error
	ReplaceForSource(dbc dbctx.Context, ownerID, sourceID uuid.UUID, targetIDs []uuid.UUID) error
	ListLiveByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]*types.NoteLink, error)
	ListTouching(dbc dbctx.Context, ownerID uuid.UUID, noteIDs []uuid.UUID) ([]*types.NoteLink, error)
	ListBacklinks(dbc dbctx.Context, ownerID, targetID uuid.UUID) ([]*types.NoteLink, error)
	DeleteForNote(dbc dbctx.Context, ownerID, noteID uuid.UUID) error
}

type noteLinkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNoteLinkRepo(db *gorm.DB, baseLog *logger.Logger) NoteLinkRepo {
	return &noteLinkRepo{
		db:  db,
		log: baseLog.With("repo", "NoteLinkRepo"),
	}
}

func (r *noteLinkRepo) Create(dbc dbctx.Context, link *types.NoteLink) error {
	if link == nil || link.SourceNoteID == uuid.Nil || link.TargetNoteID == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_note_id"}, {Name: "target_note_id"}},
		DoNothing: true,
	}).Create(link).Error
}

// ReplaceForSource rewrites the outgoing link set of one note. Self links
// and duplicate targets are dropped here so resolution code stays simple.
func (r *noteLinkRepo) ReplaceForSource(dbc dbctx.Context, ownerID, sourceID uuid.UUID, targetIDs []uuid.UUID) error {
	if ownerID == uuid.Nil || sourceID == uuid.Nil {
		return nil
	}
	db := dbc.DB(r.db)
	if err := db.
		Where("owner_id = ? AND source_note_id = ?", ownerID, sourceID).
		Delete(&types.NoteLink{}).Error; err != nil {
		return err
	}
	seen := map[uuid.UUID]bool{}
	rows := make([]*types.NoteLink, 0, len(targetIDs))
	for _, targetID := range targetIDs {
		if targetID == uuid.Nil || targetID == sourceID || seen[targetID] {
			continue
		}
		seen[targetID] = true
		rows = append(rows, &types.NoteLink{
			OwnerID:      ownerID,
			SourceNoteID: sourceID,
			TargetNoteID: targetID,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, 100).Error
}

// ListLiveByOwner returns links whose endpoints are both live notes.
func (r *noteLinkRepo) ListLiveByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]*types.NoteLink, error) {
	var out []*types.NoteLink
	if ownerID == uuid.Nil {
		return out, nil
	}
	err := dbc.DB(r.db).Raw(`
		SELECT nl.* FROM note_links nl
		JOIN notes s ON s.id = nl.source_note_id AND s.is_trashed = FALSE
		JOIN notes t ON t.id = nl.target_note_id AND t.is_trashed = FALSE
		WHERE nl.owner_id = ?
	`, ownerID).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListTouching returns links where either endpoint is in noteIDs.
func (r *noteLinkRepo) ListTouching(dbc dbctx.Context, ownerID uuid.UUID, noteIDs []uuid.UUID) ([]*types.NoteLink, error) {
	var out []*types.NoteLink
	if ownerID == uuid.Nil || len(noteIDs) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("owner_id = ? AND (source_note_id IN ? OR target_note_id IN ?)", ownerID, noteIDs, noteIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *noteLinkRepo) ListBacklinks(dbc dbctx.Context, ownerID, targetID uuid.UUID) ([]*types.NoteLink, error) {
	var out []*types.NoteLink
	if ownerID == uuid.Nil || targetID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("owner_id = ? AND target_note_id = ?", ownerID, targetID).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *noteLinkRepo) DeleteForNote(dbc dbctx.Context, ownerID, noteID uuid.UUID) error {
	if ownerID == uuid.Nil || noteID == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).
		Where("owner_id = ? AND (source_note_id = ? OR target_note_id = ?)", ownerID, noteID, noteID).
		Delete(&types.NoteLink{}).Error
}
