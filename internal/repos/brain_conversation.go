package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

type BrainConversationRepo interface {
	Create(dbc dbctx.Context, conv *types.BrainConversation) (*types.BrainConversation, error)
	GetByID(dbc dbctx.Context, ownerID, id uuid.UUID) (*types.BrainConversation, error)
	ListByOwner(dbc dbctx.Context, ownerID uuid.UUID, limit int) ([]*types.BrainConversation, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	ListDueForSummary(dbc dbctx.Context, threshold int) ([]*types.BrainConversation, error)

	CreateMessage(dbc dbctx.Context, msg *types.BrainMessage) (*types.BrainMessage, error)
	UpdateMessageFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	ListMessages(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.BrainMessage, error)
}

type brainConversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBrainConversationRepo(db *gorm.DB, baseLog *logger.Logger) BrainConversationRepo {
	return &brainConversationRepo{
		db:  db,
		log: baseLog.With("repo", "BrainConversationRepo"),
	}
}

func (r *brainConversationRepo) Create(dbc dbctx.Context, conv *types.BrainConversation) (*types.BrainConversation, error) {
	if conv == nil {
		return nil, errors.New("conversation is nil")
	}
	if err := dbc.DB(r.db).Create(conv).Error; err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *brainConversationRepo) GetByID(dbc dbctx.Context, ownerID, id uuid.UUID) (*types.BrainConversation, error) {
	if ownerID == uuid.Nil || id == uuid.Nil {
		return nil, nil
	}
	var conv types.BrainConversation
	err := dbc.DB(r.db).
		Where("owner_id = ? AND id = ?", ownerID, id).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *brainConversationRepo) ListByOwner(dbc dbctx.Context, ownerID uuid.UUID, limit int) ([]*types.BrainConversation, error) {
	var out []*types.BrainConversation
	if ownerID == uuid.Nil {
		return out, nil
	}
	q := dbc.DB(r.db).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *brainConversationRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return dbc.DB(r.db).
		Model(&types.BrainConversation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ListDueForSummary finds conversations whose unsummarized message count has
// crossed the threshold; the summary job condenses their history.
func (r *brainConversationRepo) ListDueForSummary(dbc dbctx.Context, threshold int) ([]*types.BrainConversation, error) {
	var out []*types.BrainConversation
	if threshold <= 0 {
		threshold = 10
	}
	if err := dbc.DB(r.db).
		Where("messages_since_summary >= ?", threshold).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *brainConversationRepo) CreateMessage(dbc dbctx.Context, msg *types.BrainMessage) (*types.BrainMessage, error) {
	if msg == nil {
		return nil, errors.New("message is nil")
	}
	if err := dbc.DB(r.db).Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *brainConversationRepo) UpdateMessageFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.BrainMessage{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *brainConversationRepo) ListMessages(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.BrainMessage, error) {
	var out []*types.BrainMessage
	if conversationID == uuid.Nil {
		return out, nil
	}
	q := dbc.DB(r.db).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC")
	if limit > 0 {
		// Most recent N, returned oldest-first.
		var recent []*types.BrainMessage
		if err := dbc.DB(r.db).
			Where("conversation_id = ?", conversationID).
			Order("created_at DESC").
			Limit(limit).
			Find(&recent).Error; err != nil {
			return nil, err
		}
		for i := len(recent) - 1; i >= 0; i-- {
			out = append(out, recent[i])
		}
		return out, nil
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
