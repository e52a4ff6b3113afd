package nexus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/embedding"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/graph"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/llm"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/navigator"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/search"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// Stream event types, in emission order. Error may terminate the stream
// at any point; done is always last.
const (
	EventToken       = "token"
	EventCitations   = "citations"
	EventConnections = "connections"
	EventSuggestions = "suggestions"
	EventMetadata    = "metadata"
	EventError       = "error"
	EventDone        = "done"
)

const defaultHistoryLimit = 10

// StreamEvent is one typed unit of the NEXUS answer stream.
type StreamEvent struct {
	Type        string                  `json:"type"`
	Content     string                  `json:"content,omitempty"`
	ErrorType   string                  `json:"error_type,omitempty"`
	Citations   []RichCitation          `json:"citations,omitempty"`
	UsedIndices []int                   `json:"used_indices,omitempty"`
	Connections []ConnectionInsight     `json:"connections,omitempty"`
	Suggestions []ExplorationSuggestion `json:"suggestions,omitempty"`
	Metadata    *StreamMetadata         `json:"metadata,omitempty"`
}

// StreamMetadata closes the stream with how the answer was produced.
type StreamMetadata struct {
	Mode           string    `json:"mode"`
	Intent         string    `json:"intent"`
	AutoDetected   bool      `json:"auto_detected"`
	StrategiesUsed []string  `json:"strategies_used"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	FallbackFrom   string    `json:"fallback_from,omitempty"`
	TokensApprox   int       `json:"context_tokens_approx"`
	Truncated      bool      `json:"context_truncated"`
}

// EmitFunc delivers one event to the client. A non-nil return stops
// further emission; generation still drains so the answer is persisted.
type EmitFunc func(StreamEvent) error

// QueryRequest is one NEXUS question.
type QueryRequest struct {
	Query          string     `json:"query"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	Mode           string     `json:"mode,omitempty"`
	Provider       string     `json:"provider,omitempty"`
	Model          string     `json:"model,omitempty"`
}

// Config carries the tunables of the query pipeline.
type Config struct {
	DefaultProvider string
	DefaultModel    string
	Temperature     float64
	MaxTokens       int
	ContextBudget   int
	MaxResults      int
	HistoryLimit    int
}

func (c Config) withDefaults() Config {
	if c.DefaultProvider == "" {
		c.DefaultProvider = llm.ProviderLocal
	}
	if c.ContextBudget <= 0 {
		c.ContextBudget = DefaultContextBudget
	}
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxCandidates
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	return c
}

// Service runs the full NEXUS pipeline: route, retrieve, fuse, assemble,
// stream, persist.
type Service interface {
	QueryStream(ctx context.Context, ownerID uuid.UUID, req QueryRequest, emit EmitFunc) error
}

type service struct {
	cfg       Config
	search    search.Service
	navigator navigator.Service
	diffuser  *graph.Diffuser
	assembler *Assembler
	embedder  embedding.Client
	registry  *llm.Registry
	usage     *llm.UsageLogger

	navCache  repos.NavigationCacheRepo
	convos    repos.ConversationRepo
	citations repos.CitationRepo
	patterns  repos.AccessPatternRepo
	tasks     repos.BackgroundTaskRepo

	log *logger.Logger
}

func NewService(
	cfg Config,
	searchSvc search.Service,
	nav navigator.Service,
	diffuser *graph.Diffuser,
	assembler *Assembler,
	embedder embedding.Client,
	registry *llm.Registry,
	usage *llm.UsageLogger,
	navCache repos.NavigationCacheRepo,
	convos repos.ConversationRepo,
	citations repos.CitationRepo,
	patterns repos.AccessPatternRepo,
	tasks repos.BackgroundTaskRepo,
	baseLog *logger.Logger,
) Service {
	return &service{
		cfg:       cfg.withDefaults(),
		search:    searchSvc,
		navigator: nav,
		diffuser:  diffuser,
		assembler: assembler,
		embedder:  embedder,
		registry:  registry,
		usage:     usage,
		navCache:  navCache,
		convos:    convos,
		citations: citations,
		patterns:  patterns,
		tasks:     tasks,
		log:       baseLog.With("service", "NexusService"),
	}
}

func (s *service) QueryStream(ctx context.Context, ownerID uuid.UUID, req QueryRequest, emit EmitFunc) error {
	query := strings.TrimSpace(req.Query)
	if ownerID == uuid.Nil || query == "" {
		return fmt.Errorf("%w: query text required", apperr.ErrValidation)
	}
	dbc := dbctx.New(ctx)

	conv, err := s.resolveConversation(dbc, ownerID, req, query)
	if err != nil {
		return err
	}
	history, err := s.convos.ListMessages(dbc, conv.ID, s.cfg.HistoryLimit)
	if err != nil {
		return err
	}
	if _, err := s.convos.CreateMessage(dbc, &types.ChatMessage{
		ConversationID: conv.ID,
		OwnerID:        ownerID,
		Role:           types.RoleUser,
		Content:        query,
	}); err != nil {
		return err
	}

	provider := req.Provider
	if provider == "" {
		provider = s.cfg.DefaultProvider
	}
	model := req.Model
	if model == "" {
		model = s.cfg.DefaultModel
	}

	fallbackFrom := ""
	inst, err := s.registry.ForOwner(dbc, ownerID, provider)
	if err != nil {
		if errors.Is(err, apperr.ErrValidation) {
			return err
		}
		// Credential problems degrade to the local provider instead of
		// failing the question.
		s.log.Warn("provider unavailable, using local",
			"provider", provider, "error", err)
		fallbackFrom = provider
		provider = llm.ProviderLocal
		model = s.cfg.DefaultModel
		inst = s.registry.Local()
	}

	navReady := false
	if cm, cerr := s.navCache.Get(dbc, ownerID, types.CacheCommunityMap); cerr == nil && cm != nil && cm.Content != "" {
		navReady = true
	}
	route := classifyRoute(query, req.Mode, navReady)

	queryEmb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		// Retrieval degrades to fulltext; diffusion falls back to a
		// uniform personalization vector.
		s.log.Warn("query embedding unavailable", "error", err)
		queryEmb = nil
	}

	set, err := s.runStrategies(ctx, ownerID, query, queryEmb, route)
	if err != nil {
		return err
	}
	candidates := fuse(set, route.Intent, s.cfg.MaxResults)

	assembled, err := s.assembler.Assemble(dbc, ownerID, candidates, s.cfg.ContextBudget)
	if err != nil {
		return err
	}

	assistant, err := s.convos.CreateMessage(dbc, &types.ChatMessage{
		ConversationID: conv.ID,
		OwnerID:        ownerID,
		Role:           types.RoleAssistant,
		Model:          model,
		Status:         types.MessageStatusPartial,
	})
	if err != nil {
		return err
	}

	messages := buildMessages(assembled.SystemPrompt, history, query)
	genReq := llm.GenerateRequest{
		Model:       model,
		Messages:    messages,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}

	var answer strings.Builder
	var chunkCount int
	var emitErr error
	send := func(ev StreamEvent) {
		if emitErr != nil {
			return
		}
		emitErr = emit(ev)
	}
	onChunk := func(ch llm.StreamChunk) {
		if ch.Content == "" {
			return
		}
		chunkCount++
		answer.WriteString(ch.Content)
		send(StreamEvent{Type: EventToken, Content: ch.Content})
	}

	res, genErr := inst.Stream(ctx, genReq, onChunk)
	if genErr != nil && provider != llm.ProviderLocal && chunkCount == 0 && ctx.Err() == nil {
		// Nothing was produced yet, so the whole request can transparently
		// rerun on the local provider.
		s.log.Warn("cloud stream failed before first token, retrying locally",
			"provider", provider, "error", genErr)
		fallbackFrom = provider
		provider = llm.ProviderLocal
		model = s.cfg.DefaultModel
		genReq.Model = model
		res, genErr = s.registry.Local().Stream(ctx, genReq, onChunk)
	}

	// Persistence must survive a dropped client connection.
	pdbc := dbctx.New(context.WithoutCancel(ctx))

	meta := &StreamMetadata{
		Mode:           route.Mode,
		Intent:         route.Intent,
		AutoDetected:   route.AutoDetected,
		StrategiesUsed: set.used(),
		Provider:       provider,
		Model:          model,
		MessageID:      assistant.ID,
		ConversationID: conv.ID,
		FallbackFrom:   fallbackFrom,
		TokensApprox:   assembled.TotalTokensApprox,
		Truncated:      assembled.Truncated,
	}

	if genErr != nil {
		s.finishFailed(pdbc, assistant.ID, answer.String(), model, meta, genErr)
		errType := errorType(genErr)
		send(StreamEvent{Type: EventError, Content: userMessage(genErr), ErrorType: errType})
		send(StreamEvent{Type: EventDone})
		return nil
	}

	usedIdx := ExtractUsedIndices(answer.String(), len(assembled.Citations))
	s.persistOutcome(pdbc, ownerID, conv, assistant.ID, query, answer.String(), model, assembled, usedIdx, meta, res)

	send(StreamEvent{Type: EventCitations, Citations: assembled.Citations, UsedIndices: usedIdx})
	if len(assembled.ConnectionInsights) > 0 {
		send(StreamEvent{Type: EventConnections, Connections: assembled.ConnectionInsights})
	}
	if len(assembled.ExplorationSuggestions) > 0 {
		send(StreamEvent{Type: EventSuggestions, Suggestions: assembled.ExplorationSuggestions})
	}
	send(StreamEvent{Type: EventMetadata, Metadata: meta})
	send(StreamEvent{Type: EventDone})
	return nil
}

func (s *service) resolveConversation(dbc dbctx.Context, ownerID uuid.UUID, req QueryRequest, query string) (*types.Conversation, error) {
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
	return s.convos.Create(dbc, &types.Conversation{
		OwnerID: ownerID,
		Title:   truncateRunes(query, 80),
		Model:   req.Model,
	})
}

// runStrategies executes the mode's strategies concurrently. Hybrid search
// is the primary strategy and its failure aborts the query; navigator and
// diffusion failures only cost their fusion weight.
func (s *service) runStrategies(ctx context.Context, ownerID uuid.UUID, query string, queryEmb []float32, route Route) (strategySet, error) {
	var set strategySet
	g, gctx := errgroup.WithContext(ctx)
	gdbc := dbctx.New(gctx)

	g.Go(func() error {
		res, err := s.search.Hybrid(gdbc, ownerID, query, queryEmb, search.Options{Limit: s.cfg.MaxResults * 2})
		if err != nil {
			return err
		}
		set.vector = res
		return nil
	})

	if route.Mode == ModeStandard || route.Mode == ModeDeep {
		g.Go(func() error {
			// Navigation is an internal map-reading step; it always runs
			// on the local model regardless of the answering provider.
			res, err := s.navigator.Navigate(gdbc, ownerID, query, s.registry.Local(), s.cfg.DefaultModel, s.cfg.MaxResults)
			if err != nil {
				s.log.Warn("graph navigation failed", "error", err)
				return nil
			}
			set.graph = res
			return nil
		})
	}

	if route.Mode == ModeDeep {
		g.Go(func() error {
			scores, err := s.diffuser.Diffuse(gdbc, ownerID, queryEmb, graph.DiffusionOptions{})
			if err != nil {
				s.log.Warn("diffusion ranking failed", "error", err)
				return nil
			}
			set.diffusion = scores
			return nil
		})
	}

	err := g.Wait()
	return set, err
}

// buildMessages lays out system prompt, trimmed history, then the query.
func buildMessages(systemPrompt string, history []*types.ChatMessage, query string) []llm.Message {
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

// finishFailed marks the assistant message after a mid-stream failure.
// Content received before the failure is kept as a partial answer.
func (s *service) finishFailed(dbc dbctx.Context, messageID uuid.UUID, partial, model string, meta *StreamMetadata, genErr error) {
	status := types.MessageStatusError
	if partial != "" {
		status = types.MessageStatusPartial
	}
	updates := map[string]interface{}{
		"content":    partial,
		"status":     status,
		"error_type": errorType(genErr),
		"model":      model,
	}
	if raw, err := json.Marshal(meta); err == nil {
		updates["metadata"] = datatypes.JSON(raw)
	}
	if err := s.convos.UpdateMessageFields(dbc, messageID, updates); err != nil {
		s.log.Error("persisting failed assistant message", "message_id", messageID, "error", err)
	}
}

// persistOutcome stores the completed answer: message content, rich and
// minimal citations, usage, the access pattern, and a title job for new
// conversations. Secondary failures are logged, never surfaced.
func (s *service) persistOutcome(
	dbc dbctx.Context,
	ownerID uuid.UUID,
	conv *types.Conversation,
	messageID uuid.UUID,
	query, answer, model string,
	assembled *AssembledContext,
	usedIdx []int,
	meta *StreamMetadata,
	res *llm.GenerateResult,
) {
	updates := map[string]interface{}{
		"content": answer,
		"status":  types.MessageStatusComplete,
		"model":   model,
	}
	if raw, err := json.Marshal(meta); err == nil {
		updates["metadata"] = datatypes.JSON(raw)
	}
	if err := s.convos.UpdateMessageFields(dbc, messageID, updates); err != nil {
		s.log.Error("persisting assistant message", "message_id", messageID, "error", err)
	}
	if err := s.convos.UpdateFields(dbc, conv.ID, map[string]interface{}{"model": model}); err != nil {
		s.log.Warn("touching conversation", "conversation_id", conv.ID, "error", err)
	}

	used := map[int]bool{}
	for _, n := range usedIdx {
		used[n] = true
	}
	rows := make([]*types.NexusCitation, 0, len(assembled.Citations))
	minimal := make([]*types.MessageCitation, 0, len(assembled.Citations))
	var noteIDs []uuid.UUID
	for _, c := range assembled.Citations {
		rows = append(rows, citationRow(ownerID, messageID, c, used[c.Index]))
		minimal = append(minimal, &types.MessageCitation{
			MessageID:  messageID,
			SourceType: c.SourceType,
			SourceID:   c.SourceID,
			Similarity: c.Score,
			Snippet:    c.Preview,
		})
		if c.NoteID != nil {
			noteIDs = append(noteIDs, *c.NoteID)
		}
	}
	if err := s.citations.CreateBatch(dbc, rows); err != nil {
		s.log.Error("persisting citations", "message_id", messageID, "error", err)
	}
	if err := s.citations.CreateMessageCitations(dbc, minimal); err != nil {
		s.log.Warn("persisting message citations", "message_id", messageID, "error", err)
	}

	if err := s.patterns.Record(dbc, ownerID, query, noteIDs); err != nil {
		s.log.Warn("recording access pattern", "error", err)
	}

	if res != nil {
		s.usage.Log(dbc, ownerID, res, "nexus_query", &conv.ID)
	}

	// A brand-new conversation holds exactly this exchange; queue the
	// title pass.
	if count, err := s.convos.CountMessages(dbc, conv.ID); err == nil && count == 2 {
		cid := conv.ID
		if _, err := s.tasks.Create(dbc, []*types.BackgroundTask{{
			OwnerID:    ownerID,
			TaskType:   types.TaskConversationSummary,
			EntityType: "conversation",
			EntityID:   &cid,
		}}); err != nil {
			s.log.Warn("queueing conversation summary", "conversation_id", conv.ID, "error", err)
		}
	}
}

func citationRow(ownerID, messageID uuid.UUID, c RichCitation, wasUsed bool) *types.NexusCitation {
	row := &types.NexusCitation{
		MessageID:       messageID,
		OwnerID:         ownerID,
		Rank:            c.Index,
		SourceType:      c.SourceType,
		SourceID:        c.SourceID,
		Title:           c.Title,
		Preview:         c.Preview,
		URL:             c.URL,
		Score:           c.Score,
		RetrievalMethod: c.RetrievalMethod,
		OriginType:      c.OriginType,
		OriginID:        c.OriginID,
		CommunityID:     c.CommunityID,
		CommunityName:   c.CommunityName,
		WasUsed:         wasUsed,
	}
	if raw, err := json.Marshal(emptyIfNil(c.Wikilinks)); err == nil {
		row.Wikilinks = datatypes.JSON(raw)
	}
	if raw, err := json.Marshal(emptyIfNil(c.ConnectionPaths)); err == nil {
		row.ConnectionPaths = datatypes.JSON(raw)
	}
	return row
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
