package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

const conversationLimit = 50

// MessageView pairs a stored message with the rich citations persisted for
// it, so a re-opened conversation can render its [n] markers as links again.
type MessageView struct {
	*types.ChatMessage
	Citations []*types.NexusCitation `json:"citations,omitempty"`
}

// ConversationView is one retrieval-chat session with its full history.
type ConversationView struct {
	Conversation *types.Conversation `json:"conversation"`
	Messages     []*MessageView      `json:"messages"`
}

// ConversationService serves retrieval-chat history. Sessions are created
// by the query stream itself; this surface is read-only.
type ConversationService interface {
	List(ctx context.Context, ownerID uuid.UUID) ([]*types.Conversation, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*ConversationView, error)
}

type conversationService struct {
	convos    repos.ConversationRepo
	citations repos.CitationRepo
	log       *logger.Logger
}

func NewConversationService(convos repos.ConversationRepo, citations repos.CitationRepo, baseLog *logger.Logger) ConversationService {
	return &conversationService{
		convos:    convos,
		citations: citations,
		log:       baseLog.With("service", "ConversationService"),
	}
}

func (s *conversationService) List(ctx context.Context, ownerID uuid.UUID) ([]*types.Conversation, error) {
	return s.convos.ListByOwner(dbctx.New(ctx), ownerID, conversationLimit)
}

func (s *conversationService) Get(ctx context.Context, ownerID, id uuid.UUID) (*ConversationView, error) {
	dbc := dbctx.New(ctx)
	conv, err := s.convos.GetByID(dbc, ownerID, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: conversation %s", apperr.ErrNotFound, id)
	}
	msgs, err := s.convos.ListMessages(dbc, conv.ID, 0)
	if err != nil {
		return nil, err
	}

	views := make([]*MessageView, 0, len(msgs))
	for _, m := range msgs {
		view := &MessageView{ChatMessage: m}
		if m.Role == types.RoleAssistant {
			cites, err := s.citations.ListByMessage(dbc, m.ID)
			if err != nil {
				s.log.Warn("loading message citations", "message_id", m.ID, "error", err)
			} else {
				view.Citations = cites
			}
		}
		views = append(views, view)
	}
	return &ConversationView{Conversation: conv, Messages: views}, nil
}
