package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// SuggestionView pairs a pending link suggestion with the titles the
// review UI renders.
type SuggestionView struct {
	*types.NexusLinkSuggestion
	SourceTitle string `json:"source_title"`
	TargetTitle string `json:"target_title"`
}

// GraphNode is one note on the map view, merged with its stored position
// and pagerank importance. Importance drives node sizing; notes the
// consolidator has not scored yet render at zero.
type GraphNode struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	CommunityID *int      `json:"community_id,omitempty"`
	IsFavorite  bool      `json:"is_favorite"`
	Importance  float64   `json:"importance"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	IsPinned    bool      `json:"is_pinned"`
}

// GraphEdge is one rendered connection: an explicit wikilink or a semantic
// similarity edge above the display threshold.
type GraphEdge struct {
	SourceID uuid.UUID `json:"source_id"`
	TargetID uuid.UUID `json:"target_id"`
	Kind     string    `json:"kind"`
	Score    float64   `json:"score,omitempty"`
}

type GraphView struct {
	Nodes       []GraphNode                `json:"nodes"`
	Edges       []GraphEdge                `json:"edges"`
	Communities []*types.CommunityMetadata `json:"communities"`
}

// NexusAdminService is the non-streaming NEXUS surface: suggestion review,
// consolidation kicks, and the graph map view.
type NexusAdminService interface {
	ListSuggestions(ctx context.Context, ownerID uuid.UUID) ([]SuggestionView, error)
	AcceptSuggestion(ctx context.Context, ownerID, id uuid.UUID) error
	DismissSuggestion(ctx context.Context, ownerID, id uuid.UUID) error
	Consolidate(ctx context.Context, ownerID uuid.UUID) (*types.BackgroundTask, error)
	Graph(ctx context.Context, ownerID uuid.UUID) (*GraphView, error)
	PinPosition(ctx context.Context, ownerID, noteID uuid.UUID, x, y float64) error
	UnpinPosition(ctx context.Context, ownerID, noteID uuid.UUID) error
}

type nexusAdminService struct {
	db            *gorm.DB
	notes         repos.NoteRepo
	links         repos.NoteLinkRepo
	edges         repos.SemanticEdgeRepo
	suggestions   repos.LinkSuggestionRepo
	communities   repos.CommunityRepo
	positions     repos.GraphPositionRepo
	importance    repos.ImportanceScoreRepo
	taskIntake    TaskService
	edgeThreshold float64
	log           *logger.Logger
}

func NewNexusAdminService(
	db *gorm.DB,
	notes repos.NoteRepo,
	links repos.NoteLinkRepo,
	edges repos.SemanticEdgeRepo,
	suggestions repos.LinkSuggestionRepo,
	communities repos.CommunityRepo,
	positions repos.GraphPositionRepo,
	importance repos.ImportanceScoreRepo,
	taskIntake TaskService,
	edgeThreshold float64,
	baseLog *logger.Logger,
) NexusAdminService {
	return &nexusAdminService{
		db:            db,
		notes:         notes,
		links:         links,
		edges:         edges,
		suggestions:   suggestions,
		communities:   communities,
		positions:     positions,
		importance:    importance,
		taskIntake:    taskIntake,
		edgeThreshold: edgeThreshold,
		log:           baseLog.With("service", "NexusAdminService"),
	}
}

func (s *nexusAdminService) ListSuggestions(ctx context.Context, ownerID uuid.UUID) ([]SuggestionView, error) {
	dbc := dbctx.New(ctx)
	pending, err := s.suggestions.ListByStatus(dbc, ownerID, types.SuggestionPending)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return []SuggestionView{}, nil
	}

	ids := make([]uuid.UUID, 0, len(pending)*2)
	for _, sg := range pending {
		ids = append(ids, sg.SourceNoteID, sg.TargetNoteID)
	}
	notes, err := s.notes.GetLiveByIDs(dbc, ownerID, ids)
	if err != nil {
		return nil, err
	}
	titles := make(map[uuid.UUID]string, len(notes))
	for _, n := range notes {
		titles[n.ID] = n.Title
	}

	out := make([]SuggestionView, 0, len(pending))
	for _, sg := range pending {
		out = append(out, SuggestionView{
			NexusLinkSuggestion: sg,
			SourceTitle:         titles[sg.SourceNoteID],
			TargetTitle:         titles[sg.TargetNoteID],
		})
	}
	return out, nil
}

// AcceptSuggestion materializes the suggested connection as a real wikilink
// row and retires the suggestion, atomically.
func (s *nexusAdminService) AcceptSuggestion(ctx context.Context, ownerID, id uuid.UUID) error {
	sg, err := s.loadPending(ctx, ownerID, id)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.WithTx(ctx, tx)
		if err := s.links.Create(txc, &types.NoteLink{
			OwnerID:      ownerID,
			SourceNoteID: sg.SourceNoteID,
			TargetNoteID: sg.TargetNoteID,
		}); err != nil {
			return err
		}
		return s.suggestions.UpdateStatus(txc, sg.ID, types.SuggestionAccepted)
	})
}

func (s *nexusAdminService) DismissSuggestion(ctx context.Context, ownerID, id uuid.UUID) error {
	sg, err := s.loadPending(ctx, ownerID, id)
	if err != nil {
		return err
	}
	return s.suggestions.UpdateStatus(dbctx.New(ctx), sg.ID, types.SuggestionDismissed)
}

func (s *nexusAdminService) loadPending(ctx context.Context, ownerID, id uuid.UUID) (*types.NexusLinkSuggestion, error) {
	sg, err := s.suggestions.GetByID(dbctx.New(ctx), ownerID, id)
	if err != nil {
		return nil, err
	}
	if sg == nil {
		return nil, fmt.Errorf("%w: suggestion %s", apperr.ErrNotFound, id)
	}
	if sg.Status != types.SuggestionPending {
		return nil, fmt.Errorf("%w: suggestion already %s", apperr.ErrValidation, sg.Status)
	}
	return sg, nil
}

// Consolidate queues one maintenance sweep for the owner. The owner id
// doubles as the dedup entity so repeated clicks collapse into one run.
func (s *nexusAdminService) Consolidate(ctx context.Context, ownerID uuid.UUID) (*types.BackgroundTask, error) {
	eid := ownerID
	return s.taskIntake.Enqueue(ctx, ownerID, types.TaskConsolidation, "owner", &eid, nil)
}

func (s *nexusAdminService) Graph(ctx context.Context, ownerID uuid.UUID) (*GraphView, error) {
	dbc := dbctx.New(ctx)

	notes, err := s.notes.ListLive(dbc, ownerID)
	if err != nil {
		return nil, err
	}
	positions, err := s.positions.ListByOwner(dbc, ownerID)
	if err != nil {
		return nil, err
	}
	posByNote := make(map[uuid.UUID]*types.GraphPosition, len(positions))
	for _, p := range positions {
		posByNote[p.NoteID] = p
	}
	scores, err := s.importance.MapByOwner(dbc, ownerID)
	if err != nil {
		return nil, err
	}

	view := &GraphView{Nodes: make([]GraphNode, 0, len(notes))}
	live := make(map[uuid.UUID]bool, len(notes))
	for _, n := range notes {
		live[n.ID] = true
		node := GraphNode{
			ID:          n.ID,
			Title:       n.Title,
			Slug:        n.Slug,
			CommunityID: n.CommunityID,
			IsFavorite:  n.IsFavorite,
			Importance:  scores[n.ID],
		}
		if p := posByNote[n.ID]; p != nil {
			node.X, node.Y, node.IsPinned = p.X, p.Y, p.IsPinned
		}
		view.Nodes = append(view.Nodes, node)
	}

	links, err := s.links.ListLiveByOwner(dbc, ownerID)
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		view.Edges = append(view.Edges, GraphEdge{
			SourceID: l.SourceNoteID,
			TargetID: l.TargetNoteID,
			Kind:     "wikilink",
		})
	}

	semantic, err := s.edges.ListNoteEdges(dbc, ownerID, s.edgeThreshold)
	if err != nil {
		return nil, err
	}
	for _, e := range semantic {
		// A consolidation racing a trash can reintroduce edges for a
		// hidden note until the next sweep, so filter on liveness here too.
		if !live[e.SourceID] || !live[e.TargetID] {
			continue
		}
		view.Edges = append(view.Edges, GraphEdge{
			SourceID: e.SourceID,
			TargetID: e.TargetID,
			Kind:     "semantic",
			Score:    e.SimilarityScore,
		})
	}

	view.Communities, err = s.communities.ListByOwner(dbc, ownerID)
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *nexusAdminService) PinPosition(ctx context.Context, ownerID, noteID uuid.UUID, x, y float64) error {
	note, err := s.notes.GetByID(dbctx.New(ctx), ownerID, noteID)
	if err != nil {
		return err
	}
	if note == nil || note.IsTrashed {
		return fmt.Errorf("%w: note %s", apperr.ErrNotFound, noteID)
	}
	return s.positions.Pin(dbctx.New(ctx), ownerID, noteID, x, y)
}

func (s *nexusAdminService) UnpinPosition(ctx context.Context, ownerID, noteID uuid.UUID) error {
	return s.positions.Unpin(dbctx.New(ctx), ownerID, noteID)
}
