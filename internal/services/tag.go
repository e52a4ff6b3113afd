package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
)

// TagService lists the owner's tags with usage counts. Tags are created as
// a side effect of note saves and analysis tasks, never directly.
type TagService interface {
	List(ctx context.Context, ownerID uuid.UUID) ([]repos.TagCount, error)
}

type tagService struct {
	tags repos.TagRepo
	log  *logger.Logger
}

func NewTagService(tags repos.TagRepo, baseLog *logger.Logger) TagService {
	return &tagService{
		tags: tags,
		log:  baseLog.With("service", "TagService"),
	}
}

func (s *tagService) List(ctx context.Context, ownerID uuid.UUID) ([]repos.TagCount, error) {
	return s.tags.CountsByOwner(dbctx.New(ctx), ownerID)
}
