package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

type ImageChunkRepo interface {
	ReplaceForImage(dbc dbctx.Context, imageID uuid.UUID, chunks []*types.ImageChunk) error
}

type imageChunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewImageChunkRepo(db *gorm.DB, baseLog *logger.Logger) ImageChunkRepo {
	return &imageChunkRepo{
		db:  db,
		log: baseLog.With("repo", "ImageChunkRepo"),
	}
}

func (r *imageChunkRepo) ReplaceForImage(dbc dbctx.Context, imageID uuid.UUID, chunks []*types.ImageChunk) error {
	if imageID == uuid.Nil {
		return nil
	}
	db := dbc.DB(r.db)
	if err := db.Where("image_id = ?", imageID).Delete(&types.ImageChunk{}).Error; err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	return db.CreateInBatches(chunks, 100).Error
}
