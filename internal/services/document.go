package services

import (
	"context"
	"fmt"
	"io"
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

// Document MIME types accepted at upload. Text formats get native
// extraction; image formats go through vision transcription instead.
var documentMimeTypes = map[string]bool{
	"text/plain":            true,
	"text/markdown":         true,
	"text/x-markdown":       true,
	"text/html":             true,
	"application/xhtml+xml": true,
	"image/png":             true,
	"image/jpeg":            true,
	"image/webp":            true,
}

// UploadConfig bounds what the upload surfaces accept and where files land.
type UploadConfig struct {
	Dir      string
	MaxBytes int64
}

// DocumentService stores uploads on disk, creates the row in the queued
// analysis state, and hands the rest of the lifecycle to the task queue.
type DocumentService interface {
	Upload(ctx context.Context, ownerID uuid.UUID, title string, header *multipart.FileHeader) (*types.Document, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*types.Document, error)
	List(ctx context.Context, ownerID uuid.UUID, trashed bool) ([]*types.Document, error)
	SetTrashed(ctx context.Context, ownerID, id uuid.UUID, trashed bool) (*types.Document, error)
}

type documentService struct {
	docs       repos.DocumentRepo
	taskIntake TaskService
	cfg        UploadConfig
	log        *logger.Logger
}

func NewDocumentService(docs repos.DocumentRepo, taskIntake TaskService, cfg UploadConfig, baseLog *logger.Logger) DocumentService {
	return &documentService{
		docs:       docs,
		taskIntake: taskIntake,
		cfg:        cfg,
		log:        baseLog.With("service", "DocumentService"),
	}
}

func (s *documentService) Upload(ctx context.Context, ownerID uuid.UUID, title string, header *multipart.FileHeader) (*types.Document, error) {
	mimeType, err := validateUpload(header, documentMimeTypes, s.cfg.MaxBytes)
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

	doc := &types.Document{
		OwnerID:          ownerID,
		Title:            title,
		Filepath:         path,
		MimeType:         mimeType,
		FileSize:         header.Size,
		AIAnalysisStatus: types.AnalysisQueued,
	}
	if _, err := s.docs.Create(dbctx.New(ctx), doc); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			s.log.Warn("Orphaned upload left on disk", "path", path, "error", rmErr)
		}
		return nil, fmt.Errorf("create document: %w", err)
	}

	eid := doc.ID
	if _, err := s.taskIntake.Enqueue(ctx, ownerID, types.TaskDocumentAnalyze, types.EntityDocument, &eid, map[string]any{"document_id": doc.ID}); err != nil {
		s.log.Warn("Enqueue document_analyze failed", "document_id", doc.ID, "error", err)
	}
	return doc, nil
}

func (s *documentService) Get(ctx context.Context, ownerID, id uuid.UUID) (*types.Document, error) {
	doc, err := s.docs.GetByID(dbctx.New(ctx), ownerID, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document %s", apperr.ErrNotFound, id)
	}
	return doc, nil
}

func (s *documentService) List(ctx context.Context, ownerID uuid.UUID, trashed bool) ([]*types.Document, error) {
	return s.docs.List(dbctx.New(ctx), ownerID, trashed)
}

func (s *documentService) SetTrashed(ctx context.Context, ownerID, id uuid.UUID, trashed bool) (*types.Document, error) {
	doc, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if doc.IsTrashed == trashed {
		return doc, nil
	}
	if err := s.docs.UpdateFields(dbctx.New(ctx), doc.ID, map[string]interface{}{"is_trashed": trashed}); err != nil {
		return nil, err
	}
	doc.IsTrashed = trashed
	return doc, nil
}

// validateUpload checks size and resolves the effective MIME type from the
// declared header, falling back to the filename extension.
func validateUpload(header *multipart.FileHeader, allowed map[string]bool, maxBytes int64) (string, error) {
	if header == nil {
		return "", fmt.Errorf("%w: file is required", apperr.ErrValidation)
	}
	if maxBytes > 0 && header.Size > maxBytes {
		return "", fmt.Errorf("%w: file exceeds the %d byte limit", apperr.ErrValidation, maxBytes)
	}
	if header.Size <= 0 {
		return "", fmt.Errorf("%w: file is empty", apperr.ErrValidation)
	}
	mimeType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimeFromName(header.Filename)
	}
	if !allowed[mimeType] {
		return "", fmt.Errorf("%w: unsupported file type %q", apperr.ErrValidation, mimeType)
	}
	return mimeType, nil
}

func mimeFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return "text/plain"
	case ".md", ".markdown":
		return "text/markdown"
	case ".html", ".htm":
		return "text/html"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return ""
	}
}

// saveUpload writes the file under dir/<owner>/<uuid><ext>. The stored name
// never reuses client input beyond the extension.
func saveUpload(dir string, ownerID uuid.UUID, header *multipart.FileHeader) (string, error) {
	ownerDir := filepath.Join(dir, ownerID.String())
	if err := os.MkdirAll(ownerDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	path := filepath.Join(ownerDir, uuid.New().String()+ext)

	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}
