package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/brain"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

const brainConversationLimit = 50

// BrainConversationView is a brain conversation plus its messages.
type BrainConversationView struct {
	Conversation *types.BrainConversation `json:"conversation"`
	Messages     []*types.BrainMessage    `json:"messages"`
}

// BrainFilesView pairs the synthesized files with the latest build log so
// the client can poll build progress from the same endpoint it renders.
type BrainFilesView struct {
	Files       []*types.BrainFile   `json:"files"`
	LatestBuild *types.BrainBuildLog `json:"latest_build,omitempty"`
}

// BrainAdminService is the non-chat brain surface: kicking builds, serving
// the synthesized files, applying user edits, and conversation history.
type BrainAdminService interface {
	Build(ctx context.Context, ownerID uuid.UUID) (*types.BackgroundTask, error)
	ListFiles(ctx context.Context, ownerID uuid.UUID) (*BrainFilesView, error)
	PatchFile(ctx context.Context, ownerID uuid.UUID, fileKey, content string) (*types.BrainFile, error)
	ListConversations(ctx context.Context, ownerID uuid.UUID) ([]*types.BrainConversation, error)
	GetConversation(ctx context.Context, ownerID, id uuid.UUID) (*BrainConversationView, error)
}

type brainAdminService struct {
	files      repos.BrainFileRepo
	logs       repos.BrainBuildLogRepo
	convos     repos.BrainConversationRepo
	notes      repos.NoteRepo
	taskIntake TaskService
	log        *logger.Logger
}

func NewBrainAdminService(
	files repos.BrainFileRepo,
	logs repos.BrainBuildLogRepo,
	convos repos.BrainConversationRepo,
	notes repos.NoteRepo,
	taskIntake TaskService,
	baseLog *logger.Logger,
) BrainAdminService {
	return &brainAdminService{
		files:      files,
		logs:       logs,
		convos:     convos,
		notes:      notes,
		taskIntake: taskIntake,
		log:        baseLog.With("service", "BrainAdminService"),
	}
}

// Build queues a full brain build, deduped on the owner so double clicks
// collapse into one run. Too few live notes is rejected here, at request
// time, rather than letting the queued build fail minutes later.
func (s *brainAdminService) Build(ctx context.Context, ownerID uuid.UUID) (*types.BackgroundTask, error) {
	count, err := s.notes.CountLive(dbctx.New(ctx), ownerID)
	if err != nil {
		return nil, err
	}
	if count < brain.MinNotesForBuild {
		return nil, fmt.Errorf("%w: brain build needs at least %d notes, have %d",
			apperr.ErrValidation, brain.MinNotesForBuild, count)
	}
	eid := ownerID
	return s.taskIntake.Enqueue(ctx, ownerID, types.TaskBrainBuild, "owner", &eid, nil)
}

func (s *brainAdminService) ListFiles(ctx context.Context, ownerID uuid.UUID) (*BrainFilesView, error) {
	dbc := dbctx.New(ctx)
	files, err := s.files.ListByOwner(dbc, ownerID)
	if err != nil {
		return nil, err
	}
	latest, err := s.logs.GetLatest(dbc, ownerID)
	if err != nil {
		return nil, err
	}
	return &BrainFilesView{Files: files, LatestBuild: latest}, nil
}

// PatchFile applies a user edit to one brain file. Edited files are marked
// so rebuilds regenerate around them instead of overwriting the edit.
func (s *brainAdminService) PatchFile(ctx context.Context, ownerID uuid.UUID, fileKey, content string) (*types.BrainFile, error) {
	fileKey = strings.TrimSpace(fileKey)
	if fileKey == "" {
		return nil, fmt.Errorf("%w: file key required", apperr.ErrValidation)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: content cannot be empty", apperr.ErrValidation)
	}

	dbc := dbctx.New(ctx)
	file, err := s.files.GetByKey(dbc, ownerID, fileKey)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, fmt.Errorf("%w: brain file %q", apperr.ErrNotFound, fileKey)
	}

	sum := sha256.Sum256([]byte(content))
	updates := map[string]interface{}{
		"content":            content,
		"content_hash":       hex.EncodeToString(sum[:]),
		"token_count_approx": len(content) / 4,
		"is_user_edited":     true,
		"is_stale":           false,
		"version":            file.Version + 1,
	}
	if err := s.files.UpdateFields(dbc, ownerID, fileKey, updates); err != nil {
		return nil, err
	}

	file.Content = content
	file.ContentHash = updates["content_hash"].(string)
	file.TokenCountApprox = updates["token_count_approx"].(int)
	file.IsUserEdited = true
	file.IsStale = false
	file.Version++
	s.log.Info("Brain file edited", "owner_id", ownerID, "file_key", fileKey)
	return file, nil
}

func (s *brainAdminService) ListConversations(ctx context.Context, ownerID uuid.UUID) ([]*types.BrainConversation, error) {
	return s.convos.ListByOwner(dbctx.New(ctx), ownerID, brainConversationLimit)
}

func (s *brainAdminService) GetConversation(ctx context.Context, ownerID, id uuid.UUID) (*BrainConversationView, error) {
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
	return &BrainConversationView{Conversation: conv, Messages: msgs}, nil
}
