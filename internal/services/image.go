package services

import (
	"context"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

var imageMimeTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// ImageService mirrors the document surface for images: store the bytes,
// queue the vision analysis, serve the row.
type ImageService interface {
	Upload(ctx context.Context, ownerID uuid.UUID, title string, header *multipart.FileHeader) (*types.Image, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*types.Image, error)
	List(ctx context.Context, ownerID uuid.UUID, trashed bool) ([]*types.Image, error)
	SetTrashed(ctx context.Context, ownerID, id uuid.UUID, trashed bool) (*types.Image, error)
}

type imageService struct {
	images     repos.ImageRepo
	taskIntake TaskService
	cfg        UploadConfig
	log        *logger.Logger
}

func NewImageService(images repos.ImageRepo, taskIntake TaskService, cfg UploadConfig, baseLog *logger.Logger) ImageService {
	return &imageService{
		images:     images,
		taskIntake: taskIntake,
		cfg:        cfg,
		log:        baseLog.With("service", "ImageService"),
	}
}

func (s *imageService) Upload(ctx context.Context, ownerID uuid.UUID, title string, header *multipart.FileHeader) (*types.Image, error) {
	mimeType, err := validateUpload(header, imageMimeTypes, s.cfg.MaxBytes)
	if err != nil {
		return nil, err
	}
	if title = strings.TrimSpace(title); title == "" {
		title = strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename))
	}

	path, err := saveUpload(s.cfg.Dir, ownerID, header)
	if err != nil {
		return nil, err
	}

	img := &types.Image{
		OwnerID:          ownerID,
		Title:            title,
		Filepath:         path,
		MimeType:         mimeType,
		FileSize:         header.Size,
		AIAnalysisStatus: types.AnalysisQueued,
	}
	if _, err := s.images.Create(dbctx.New(ctx), img); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			s.log.Warn("Orphaned upload left on disk", "path", path, "error", rmErr)
		}
		return nil, fmt.Errorf("create image: %w", err)
	}

	eid := img.ID
	if _, err := s.taskIntake.Enqueue(ctx, ownerID, types.TaskImageAnalyze, types.EntityImage, &eid, map[string]any{"image_id": img.ID}); err != nil {
		s.log.Warn("Enqueue image_analyze failed", "image_id", img.ID, "error", err)
	}
	return img, nil
}

func (s *imageService) Get(ctx context.Context, ownerID, id uuid.UUID) (*types.Image, error) {
	img, err := s.images.GetByID(dbctx.New(ctx), ownerID, id)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("%w: image %s", apperr.ErrNotFound, id)
	}
	return img, nil
}

func (s *imageService) List(ctx context.Context, ownerID uuid.UUID, trashed bool) ([]*types.Image, error) {
	return s.images.List(dbctx.New(ctx), ownerID, trashed)
}

func (s *imageService) SetTrashed(ctx context.Context, ownerID, id uuid.UUID, trashed bool) (*types.Image, error) {
	img, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if img.IsTrashed == trashed {
		return img, nil
	}
	if err := s.images.UpdateFields(dbctx.New(ctx), img.ID, map[string]interface{}{"is_trashed": trashed}); err != nil {
		return nil, err
	}
	img.IsTrashed = trashed
	return img, nil
}
