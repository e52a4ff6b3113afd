package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// NoteChunkRepo owns the chunk write path. Chunks are only ever written
// wholesale by the embedding task and only ever read through the search
// queries, so replacement is the whole surface.
type NoteChunkRepo interface {
	ReplaceForNote(dbc dbctx.Context, noteID uuid.UUID, chunks []*types.NoteChunk) error
}

type noteChunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNoteChunkRepo(db *gorm.DB, baseLog *logger.Logger) NoteChunkRepo {
	return &noteChunkRepo{
		db:  db,
		log: baseLog.With("repo", "NoteChunkRepo"),
	}
}

// ReplaceForNote swaps a note's chunk set in one statement pair. Callers
// wrap it in a transaction so readers never observe a half-written set.
func (r *noteChunkRepo) ReplaceForNote(dbc dbctx.Context, noteID uuid.UUID, chunks []*types.NoteChunk) error {
	if noteID == uuid.Nil {
		return nil
	}
	db := dbc.DB(r.db)
	if err := db.Where("note_id = ?", noteID).Delete(&types.NoteChunk{}).Error; err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	return db.CreateInBatches(chunks, 100).Error
}
