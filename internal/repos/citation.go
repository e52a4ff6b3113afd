package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

type CitationRepo interface {
	CreateBatch(dbc dbctx.Context, citations []*types.NexusCitation) error
	ListByMessage(dbc dbctx.Context, messageID uuid.UUID) ([]*types.NexusCitation, error)
	CreateMessageCitations(dbc dbctx.Context, citations []*types.MessageCitation) error
}

type citationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCitationRepo(db *gorm.DB, baseLog *logger.Logger) CitationRepo {
	return &citationRepo{
		db:  db,
		log: baseLog.With("repo", "CitationRepo"),
	}
}

func (r *citationRepo) CreateBatch(dbc dbctx.Context, citations []*types.NexusCitation) error {
	if len(citations) == 0 {
		return nil
	}
	return dbc.DB(r.db).CreateInBatches(citations, 50).Error
}

func (r *citationRepo) ListByMessage(dbc dbctx.Context, messageID uuid.UUID) ([]*types.NexusCitation, error) {
	var out []*types.NexusCitation
	if messageID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("message_id = ?", messageID).
		Order("rank ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *citationRepo) CreateMessageCitations(dbc dbctx.Context, citations []*types.MessageCitation) error {
	if len(citations) == 0 {
		return nil
	}
	return dbc.DB(r.db).CreateInBatches(citations, 50).Error
}
