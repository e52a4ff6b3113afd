package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

type DocumentChunkRepo interface {
	ReplaceForDocument(dbc dbctx.Context, documentID uuid.UUID, chunks []*types.DocumentChunk) error
}

type documentChunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentChunkRepo(db *gorm.DB, baseLog *logger.Logger) DocumentChunkRepo {
	return &documentChunkRepo{
		db:  db,
		log: baseLog.With("repo", "DocumentChunkRepo"),
	}
}

func (r *documentChunkRepo) ReplaceForDocument(dbc dbctx.Context, documentID uuid.UUID, chunks []*types.DocumentChunk) error {
	if documentID == uuid.Nil {
		return nil
	}
	db := dbc.DB(r.db)
	if err := db.Where("document_id = ?", documentID).Delete(&types.DocumentChunk{}).Error; err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	return db.CreateInBatches(chunks, 100).Error
}
