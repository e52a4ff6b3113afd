package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

type BrainFileRepo interface {
	Upsert(dbc dbctx.Context, file *types.BrainFile) error
	GetByKey(dbc dbctx.Context, ownerID uuid.UUID, fileKey string) (*types.BrainFile, error)
	ListByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]*types.BrainFile, error)
	ListTopics(dbc dbctx.Context, ownerID uuid.UUID) ([]*types.BrainFile, error)
	UpdateFields(dbc dbctx.Context, ownerID uuid.UUID, fileKey string, updates map[string]interface{}) error
	DeleteTopicsNotIn(dbc dbctx.Context, ownerID uuid.UUID, keepKeys []string) (int64, error)
	Delete(dbc dbctx.Context, ownerID uuid.UUID, fileKey string) error
	ClearStale(dbc dbctx.Context, ownerID uuid.UUID) error
	CountMicroTopics(dbc dbctx.Context, ownerID uuid.UUID) (int64, error)
}

type brainFileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBrainFileRepo(db *gorm.DB, baseLog *logger.Logger) BrainFileRepo {
	return &brainFileRepo{
		db:  db,
		log: baseLog.With("repo", "BrainFileRepo"),
	}
}

// Upsert writes a brain file keyed on (owner_id, file_key). Existing rows
// keep their identity and get a version bump; new rows start at version 1.
func (r *brainFileRepo) Upsert(dbc dbctx.Context, file *types.BrainFile) error {
	if file == nil || file.OwnerID == uuid.Nil || file.FileKey == "" {
		return errors.New("brain file missing owner or key")
	}
	assignments := map[string]interface{}{
		"file_type":              file.FileType,
		"title":                  file.Title,
		"content":                file.Content,
		"compressed_content":     file.CompressedContent,
		"compressed_token_count": file.CompressedTokenCount,
		"community_id":           file.CommunityID,
		"topic_keywords":         file.TopicKeywords,
		"source_note_ids":        file.SourceNoteIDs,
		"token_count_approx":     file.TokenCountApprox,
		"content_hash":           file.ContentHash,
		"is_stale":               file.IsStale,
		"version":                gorm.Expr("brain_files.version + 1"),
		"updated_at":             time.Now(),
	}
	if file.Embedding != nil {
		assignments["embedding"] = file.Embedding
	}
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "file_key"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(file).Error
}

func (r *brainFileRepo) GetByKey(dbc dbctx.Context, ownerID uuid.UUID, fileKey string) (*types.BrainFile, error) {
	if ownerID == uuid.Nil || fileKey == "" {
		return nil, nil
	}
	var file types.BrainFile
	err := dbc.DB(r.db).
		Where("owner_id = ? AND file_key = ?", ownerID, fileKey).
		First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *brainFileRepo) ListByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]*types.BrainFile, error) {
	var out []*types.BrainFile
	if ownerID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("owner_id = ?", ownerID).
		Order("file_type ASC, file_key ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *brainFileRepo) listByType(dbc dbctx.Context, ownerID uuid.UUID, fileType string) ([]*types.BrainFile, error) {
	var out []*types.BrainFile
	if ownerID == uuid.Nil || fileType == "" {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("owner_id = ? AND file_type = ?", ownerID, fileType).
		Order("file_key ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *brainFileRepo) ListTopics(dbc dbctx.Context, ownerID uuid.UUID) ([]*types.BrainFile, error) {
	return r.listByType(dbc, ownerID, types.BrainFileTopic)
}

func (r *brainFileRepo) UpdateFields(dbc dbctx.Context, ownerID uuid.UUID, fileKey string, updates map[string]interface{}) error {
	if ownerID == uuid.Nil || fileKey == "" || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return dbc.DB(r.db).
		Model(&types.BrainFile{}).
		Where("owner_id = ? AND file_key = ?", ownerID, fileKey).
		Updates(updates).Error
}

// DeleteTopicsNotIn removes topic files whose key no longer appears in the
// latest build. Core files are untouched.
func (r *brainFileRepo) DeleteTopicsNotIn(dbc dbctx.Context, ownerID uuid.UUID, keepKeys []string) (int64, error) {
	if ownerID == uuid.Nil {
		return 0, nil
	}
	q := dbc.DB(r.db).
		Where("owner_id = ? AND file_type = ?", ownerID, types.BrainFileTopic)
	if len(keepKeys) > 0 {
		q = q.Where("file_key NOT IN ?", keepKeys)
	}
	res := q.Delete(&types.BrainFile{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *brainFileRepo) Delete(dbc dbctx.Context, ownerID uuid.UUID, fileKey string) error {
	if ownerID == uuid.Nil || fileKey == "" {
		return nil
	}
	return dbc.DB(r.db).
		Where("owner_id = ? AND file_key = ?", ownerID, fileKey).
		Delete(&types.BrainFile{}).Error
}

func (r *brainFileRepo) ClearStale(dbc dbctx.Context, ownerID uuid.UUID) error {
	if ownerID == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.BrainFile{}).
		Where("owner_id = ? AND is_stale = TRUE", ownerID).
		Updates(map[string]interface{}{
			"is_stale":   false,
			"updated_at": time.Now(),
		}).Error
}

// CountMicroTopics counts topics built from a single note; the incremental
// updater recommends a full rebuild when there are too many of them.
func (r *brainFileRepo) CountMicroTopics(dbc dbctx.Context, ownerID uuid.UUID) (int64, error) {
	if ownerID == uuid.Nil {
		return 0, nil
	}
	var count int64
	err := dbc.DB(r.db).
		Model(&types.BrainFile{}).
		Where("owner_id = ? AND file_type = ? AND jsonb_array_length(source_note_ids) = 1", ownerID, types.BrainFileTopic).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
