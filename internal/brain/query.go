package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/embedding"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/llm"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// Chat stream event types. Context is emitted before the first token so the
// client can show which files the answer draws on.
const (
	ChatEventToken    = "token"
	ChatEventContext  = "context"
	ChatEventMetadata = "metadata"
	ChatEventError    = "error"
	ChatEventDone     = "done"
)

const (
	DefaultTokenBudget = 8000

	// SummaryDueThreshold is how many turns a conversation accumulates
	// before its rolling summary is due for a refresh.
	SummaryDueThreshold = 10

	defaultHistoryLimit = 10
)

// ChatEvent is one typed unit of the brain chat stream.
type ChatEvent struct {
	Type          string        `json:"type"`
	Content       string        `json:"content,omitempty"`
	ErrorType     string        `json:"error_type,omitempty"`
	FilesLoaded   []string      `json:"files_loaded,omitempty"`
	TopicsMatched []string      `json:"topics_matched,omitempty"`
	Metadata      *ChatMetadata `json:"metadata,omitempty"`
}

// ChatMetadata closes the stream with how the context was packed.
type ChatMetadata struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Model          string    `json:"model"`
	TokensApprox   int       `json:"context_tokens_approx"`
	Truncated      bool      `json:"context_truncated"`
}

// ChatEmitFunc delivers one event to the client. A non-nil return stops
// further emission; generation still drains so the answer is persisted.
type ChatEmitFunc func(ChatEvent) error

type ChatRequest struct {
	Query          string     `json:"query"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
}

// ChatService answers questions from the synthesized brain files instead of
// raw note retrieval. It always runs on the local model: brain chat reads
// the owner's distilled memory, which never leaves the machine.
type ChatService interface {
	ChatStream(ctx context.Context, ownerID uuid.UUID, req ChatRequest, emit ChatEmitFunc) error
}

type chatService struct {
	cfg      Config
	files    repos.BrainFileRepo
	convos   repos.BrainConversationRepo
	tasks    repos.BackgroundTaskRepo
	registry *llm.Registry
	embedder embedding.Client
	usage    *llm.UsageLogger
	log      *logger.Logger
}

func NewChatService(
	cfg Config,
	files repos.BrainFileRepo,
	convos repos.BrainConversationRepo,
	tasks repos.BackgroundTaskRepo,
	registry *llm.Registry,
	embedder embedding.Client,
	usage *llm.UsageLogger,
	baseLog *logger.Logger,
) ChatService {
	return &chatService{
		cfg:      cfg.withDefaults(),
		files:    files,
		convos:   convos,
		tasks:    tasks,
		registry: registry,
		embedder: embedder,
		usage:    usage,
		log:      baseLog.With("service", "BrainChatService"),
	}
}

func (s *chatService) ChatStream(ctx context.Context, ownerID uuid.UUID, req ChatRequest, emit ChatEmitFunc) error {
	query := strings.TrimSpace(req.Query)
	if ownerID == uuid.Nil || query == "" {
		return fmt.Errorf("%w: query text required", apperr.ErrValidation)
	}
	dbc := dbctx.New(ctx)

	all, err := s.files.ListByOwner(dbc, ownerID)
	if err != nil {
		return err
	}
	core, topics := splitFiles(all)
	if core.soul == nil && core.mnemosyne == nil && len(topics) == 0 {
		return fmt.Errorf("%w: brain has not been built yet", apperr.ErrValidation)
	}

	conv, err := s.resolveConversation(dbc, ownerID, req, query)
	if err != nil {
		return err
	}
	history, err := s.convos.ListMessages(dbc, conv.ID, s.cfg.HistoryLimit)
	if err != nil {
		return err
	}
	prevLoaded := previouslyMatchedTopics(history)

	if _, err := s.convos.CreateMessage(dbc, &types.BrainMessage{
		ConversationID: conv.ID,
		OwnerID:        ownerID,
		Role:           types.RoleUser,
		Content:        query,
	}); err != nil {
		return err
	}

	queryEmb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		// Selection still works on keywords alone.
		s.log.Warn("query embedding unavailable", "error", err)
		queryEmb = nil
	}

	bc := buildBrainContext(core, topics, query, queryEmb, prevLoaded, s.cfg.TokenBudget)

	loadedJSON, _ := json.Marshal(emptyIfNil(bc.filesLoaded))
	matchedJSON, _ := json.Marshal(emptyIfNil(bc.matchedKeys))
	assistant, err := s.convos.CreateMessage(dbc, &types.BrainMessage{
		ConversationID:   conv.ID,
		OwnerID:          ownerID,
		Role:             types.RoleAssistant,
		Model:            s.cfg.Model,
		Status:           types.MessageStatusPartial,
		BrainFilesLoaded: loadedJSON,
		TopicsMatched:    matchedJSON,
	})
	if err != nil {
		return err
	}

	var emitErr error
	send := func(ev ChatEvent) {
		if emitErr != nil {
			return
		}
		emitErr = emit(ev)
	}
	send(ChatEvent{Type: ChatEventContext, FilesLoaded: bc.filesLoaded, TopicsMatched: bc.matchedKeys})

	var answer strings.Builder
	onChunk := func(ch llm.StreamChunk) {
		if ch.Content == "" {
			return
		}
		answer.WriteString(ch.Content)
		send(ChatEvent{Type: ChatEventToken, Content: ch.Content})
	}
	res, genErr := s.registry.Local().Stream(ctx, llm.GenerateRequest{
		Model:       s.cfg.Model,
		Messages:    buildChatMessages(bc.text, history, query),
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}, onChunk)

	// Persistence must survive a dropped client connection.
	pdbc := dbctx.New(context.WithoutCancel(ctx))

	if genErr != nil {
		s.finishFailed(pdbc, assistant.ID, answer.String(), genErr)
		send(ChatEvent{Type: ChatEventError, Content: userMessage(genErr), ErrorType: errorType(genErr)})
		send(ChatEvent{Type: ChatEventDone})
		return nil
	}

	s.persistOutcome(pdbc, ownerID, conv, assistant.ID, len(history), answer.String(), res)
	send(ChatEvent{Type: ChatEventMetadata, Metadata: &ChatMetadata{
		MessageID:      assistant.ID,
		ConversationID: conv.ID,
		Model:          s.cfg.Model,
		TokensApprox:   bc.tokens,
		Truncated:      bc.truncated,
	}})
	send(ChatEvent{Type: ChatEventDone})
	return nil
}

func (s *chatService) resolveConversation(dbc dbctx.Context, ownerID uuid.UUID, req ChatRequest, query string) (*types.BrainConversation, error) {
	if req.ConversationID != nil && *req.ConversationID != uuid.Nil {
		conv, err := s.convos.GetByID(dbc, ownerID, *req.ConversationID)
		if err != nil {
			return nil, err
		}
		if conv == nil {
			return nil, fmt.Errorf("%w: conversation %s", apperr.ErrNotFound, req.ConversationID)
		}
		return conv, nil
	}
	return s.convos.Create(dbc, &types.BrainConversation{
		OwnerID: ownerID,
		Title:   truncateRunes(query, 80),
	})
}

func (s *chatService) finishFailed(dbc dbctx.Context, messageID uuid.UUID, partial string, genErr error) {
	status := types.MessageStatusError
	if partial != "" {
		status = types.MessageStatusPartial
	}
	if err := s.convos.UpdateMessageFields(dbc, messageID, map[string]interface{}{
		"content":    partial,
		"status":     status,
		"error_type": errorType(genErr),
	}); err != nil {
		s.log.Error("persisting failed brain message", "message_id", messageID, "error", err)
	}
}

// persistOutcome stores the completed answer, bumps the rolling summary
// counter, and queues the follow-up work an exchange triggers. Secondary
// failures are logged, never surfaced.
func (s *chatService) persistOutcome(dbc dbctx.Context, ownerID uuid.UUID, conv *types.BrainConversation, messageID uuid.UUID, historyLen int, answer string, res *llm.GenerateResult) {
	if err := s.convos.UpdateMessageFields(dbc, messageID, map[string]interface{}{
		"content": answer,
		"status":  types.MessageStatusComplete,
	}); err != nil {
		s.log.Error("persisting brain message", "message_id", messageID, "error", err)
	}
	if err := s.convos.UpdateFields(dbc, conv.ID, map[string]interface{}{
		"messages_since_summary": gorm.Expr("messages_since_summary + 1"),
	}); err != nil {
		s.log.Warn("bumping summary counter", "conversation_id", conv.ID, "error", err)
	}

	if res != nil {
		s.usage.Log(dbc, ownerID, res, "brain_chat", &conv.ID)
	}

	s.enqueueFollowups(dbc, ownerID, conv, historyLen)
}

// enqueueFollowups queues memory evolution after every exchange and the
// conversation summary pass when it is due: on the first exchange (for the
// title) and whenever enough turns piled up since the last summary.
func (s *chatService) enqueueFollowups(dbc dbctx.Context, ownerID uuid.UUID, conv *types.BrainConversation, historyLen int) {
	cid := conv.ID
	payload, _ := json.Marshal(map[string]any{"conversation_id": cid})

	if busy, err := s.tasks.HasRunnableForEntity(dbc, ownerID, types.TaskMemoryEvolve, cid); err != nil {
		s.log.Warn("checking memory evolution queue", "error", err)
	} else if !busy {
		if _, err := s.tasks.Create(dbc, []*types.BackgroundTask{{
			OwnerID:    ownerID,
			TaskType:   types.TaskMemoryEvolve,
			EntityType: "brain_conversation",
			EntityID:   &cid,
			Payload:    datatypes.JSON(payload),
		}}); err != nil {
			s.log.Warn("queueing memory evolution", "conversation_id", cid, "error", err)
		}
	}

	if historyLen > 0 && conv.MessagesSinceSummary+1 < SummaryDueThreshold {
		return
	}
	if busy, err := s.tasks.HasRunnableForEntity(dbc, ownerID, types.TaskConversationSummary, cid); err != nil {
		s.log.Warn("checking summary queue", "error", err)
		return
	} else if busy {
		return
	}
	if _, err := s.tasks.Create(dbc, []*types.BackgroundTask{{
		OwnerID:    ownerID,
		TaskType:   types.TaskConversationSummary,
		EntityType: "brain_conversation",
		EntityID:   &cid,
		Payload:    datatypes.JSON(payload),
	}}); err != nil {
		s.log.Warn("queueing conversation summary", "conversation_id", cid, "error", err)
	}
}

// brainContext is the packed prompt plus the bookkeeping the message row and
// the context event need.
type brainContext struct {
	assembledPrompt
	matchedKeys []string
	noneMatched bool
}

// buildBrainContext packs the core tier, sizes the topic allowance off the
// room that remains, selects topics, and assembles the final prompt. When
// topics exist but none matched, the prompt gains the no-coverage addendum.
func buildBrainContext(core coreSet, topics []*types.BrainFile, query string, queryEmb []float32, prevLoaded map[string]bool, budget int) brainContext {
	coreBudget := int(float64(budget) * coreBudgetFraction)
	coreActual := 0
	for _, f := range core.ordered() {
		coreActual += topicCost(f)
	}
	if coreActual > coreBudget {
		coreActual = coreBudget
	}
	remaining := budget - coreActual

	pick := selectTopics(topics, query, queryEmb, prevLoaded, remaining, computeMaxTopics(remaining))
	bc := brainContext{
		assembledPrompt: assemblePrompt(core, pick.files, budget),
		matchedKeys:     pick.matchedKeys,
		noneMatched:     len(topics) > 0 && pick.scoredCount == 0,
	}
	if bc.noneMatched {
		bc.text += noCoverageAddendum
	}
	return bc
}

// splitFiles separates the always-loaded core from the topic pool. Askimap
// and user_profile stay out of the chat context: they serve the memory and
// profile surfaces, not answering.
func splitFiles(all []*types.BrainFile) (coreSet, []*types.BrainFile) {
	var core coreSet
	topics := make([]*types.BrainFile, 0, len(all))
	for _, f := range all {
		switch f.FileKey {
		case types.BrainFileSoul:
			core.soul = f
		case types.BrainFileMemory:
			core.memory = f
		case types.BrainFileMnemosyne:
			core.mnemosyne = f
		default:
			if f.FileType == types.BrainFileTopic {
				topics = append(topics, f)
			}
		}
	}
	return core, topics
}

// previouslyMatchedTopics reads the topic keys the last assistant turn
// loaded; those topics get the continuity boost this turn.
func previouslyMatchedTopics(history []*types.BrainMessage) map[string]bool {
	set := make(map[string]bool)
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role != types.RoleAssistant {
			continue
		}
		var keys []string
		if err := json.Unmarshal(m.TopicsMatched, &keys); err == nil {
			for _, k := range keys {
				set[k] = true
			}
		}
		return set
	}
	return set
}

func buildChatMessages(systemPrompt string, history []*types.BrainMessage, query string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: types.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		if m.Status != types.MessageStatusComplete || m.Content == "" {
			continue
		}
		if m.Role != types.RoleUser && m.Role != types.RoleAssistant {
			continue
		}
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: types.RoleUser, Content: query})
	return messages
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// errorType is the wire label for a generation failure.
func errorType(err error) string {
	if apperr.IsCircuitOpen(err) {
		return "circuit_open"
	}
	if kind := apperr.KindOf(err); kind != "" && kind != apperr.KindUnknown {
		return string(kind)
	}
	return "unknown"
}

func userMessage(err error) string {
	if apperr.IsCircuitOpen(err) {
		return "The AI provider is cooling down after repeated failures. Please retry shortly."
	}
	return apperr.KindOf(err).UserMessage()
}
