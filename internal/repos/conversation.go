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

type ConversationRepo interface {
	Create(dbc dbctx.Context, conv *types.Conversation) (*types.Conversation, error)
	GetByID(dbc dbctx.Context, ownerID, id uuid.UUID) (*types.Conversation, error)
	ListByOwner(dbc dbctx.Context, ownerID uuid.UUID, limit int) ([]*types.Conversation, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error

	CreateMessage(dbc dbctx.Context, msg *types.ChatMessage) (*types.ChatMessage, error)
	UpdateMessageFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	ListMessages(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.ChatMessage, error)
	CountMessages(dbc dbctx.Context, conversationID uuid.UUID) (int64, error)
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, baseLog *logger.Logger) ConversationRepo {
	return &conversationRepo{
		db:  db,
		log: baseLog.With("repo", "ConversationRepo"),
	}
}

func (r *conversationRepo) Create(dbc dbctx.Context, conv *types.Conversation) (*types.Conversation, error) {
	if conv == nil {
		return nil, errors.New("conversation is nil")
	}
	if err := dbc.DB(r.db).Create(conv).Error; err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *conversationRepo) GetByID(dbc dbctx.Context, ownerID, id uuid.UUID) (*types.Conversation, error) {
	if ownerID == uuid.Nil || id == uuid.Nil {
		return nil, nil
	}
	var conv types.Conversation
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

func (r *conversationRepo) ListByOwner(dbc dbctx.Context, ownerID uuid.UUID, limit int) ([]*types.Conversation, error) {
	var out []*types.Conversation
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

func (r *conversationRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return dbc.DB(r.db).
		Model(&types.Conversation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *conversationRepo) CreateMessage(dbc dbctx.Context, msg *types.ChatMessage) (*types.ChatMessage, error) {
	if msg == nil {
		return nil, errors.New("message is nil")
	}
	if err := dbc.DB(r.db).Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *conversationRepo) UpdateMessageFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.ChatMessage{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *conversationRepo) ListMessages(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.ChatMessage, error) {
	var out []*types.ChatMessage
	if conversationID == uuid.Nil {
		return out, nil
	}
	if limit > 0 {
		var recent []*types.ChatMessage
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
	if err := dbc.DB(r.db).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conversationRepo) CountMessages(dbc dbctx.Context, conversationID uuid.UUID) (int64, error) {
	if conversationID == uuid.Nil {
		return 0, nil
	}
	var count int64
	err := dbc.DB(r.db).
		Model(&types.ChatMessage{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
