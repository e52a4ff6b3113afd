package repos

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// TagCount pairs a tag name with how many live notes carry it.
type TagCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// NotePair is an undirected co-occurrence edge between two notes.
type NotePair struct {
	SourceID uuid.UUID `json:"source_id"`
	TargetID uuid.UUID `json:"target_id"`
	Shared   int       `json:"shared"`
}

type TagRepo interface {
	GetOrCreate(dbc dbctx.Context, ownerID uuid.UUID, name string) (*types.Tag, error)
	ListByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]*types.Tag, error)
	CountsByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]TagCount, error)
	ReplaceNoteTags(dbc dbctx.Context, noteID uuid.UUID, tagIDs []uuid.UUID) error
	ListForNote(dbc dbctx.Context, noteID uuid.UUID) ([]*types.Tag, error)
	ListForNotes(dbc dbctx.Context, ownerID uuid.UUID, noteIDs []uuid.UUID) (map[uuid.UUID][]string, error)
	SharedNotePairs(dbc dbctx.Context, ownerID uuid.UUID) ([]NotePair, error)
	ReplaceImageTags(dbc dbctx.Context, imageID uuid.UUID, tagIDs []uuid.UUID) error
}

type tagRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTagRepo(db *gorm.DB, baseLog *logger.Logger) TagRepo {
	return &tagRepo{
		db:  db,
		log: baseLog.With("repo", "TagRepo"),
	}
}

func (r *tagRepo) GetOrCreate(dbc dbctx.Context, ownerID uuid.UUID, name string) (*types.Tag, error) {
	if ownerID == uuid.Nil || name == "" {
		return nil, errors.New("tag owner and name are required")
	}
	db := dbc.DB(r.db)
	tag := &types.Tag{OwnerID: ownerID, Name: name}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "name"}},
		DoNothing: true,
	}).Create(tag).Error; err != nil {
		return nil, err
	}
	// A conflict leaves the struct without the existing row's id.
	if tag.ID == uuid.Nil {
		var existing types.Tag
		if err := db.Where("owner_id = ? AND name = ?", ownerID, name).First(&existing).Error; err != nil {
			return nil, err
		}
		return &existing, nil
	}
	return tag, nil
}

func (r *tagRepo) ListByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]*types.Tag, error) {
	var out []*types.Tag
	if ownerID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("owner_id = ?", ownerID).
		Order("name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *tagRepo) CountsByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]TagCount, error) {
	var out []TagCount
	if ownerID == uuid.Nil {
		return out, nil
	}
	err := dbc.DB(r.db).Raw(`
		SELECT t.name AS name, COUNT(nt.note_id) AS count
		FROM tags t
		JOIN note_tags nt ON nt.tag_id = t.id
		JOIN notes n ON n.id = nt.note_id AND n.is_trashed = FALSE
		WHERE t.owner_id = ?
		GROUP BY t.name
		ORDER BY count DESC, t.name ASC
	`, ownerID).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *tagRepo) ReplaceNoteTags(dbc dbctx.Context, noteID uuid.UUID, tagIDs []uuid.UUID) error {
	if noteID == uuid.Nil {
		return nil
	}
	db := dbc.DB(r.db)
	if err := db.Where("note_id = ?", noteID).Delete(&types.NoteTag{}).Error; err != nil {
		return err
	}
	if len(tagIDs) == 0 {
		return nil
	}
	rows := make([]*types.NoteTag, 0, len(tagIDs))
	for _, tagID := range tagIDs {
		rows = append(rows, &types.NoteTag{NoteID: noteID, TagID: tagID})
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (r *tagRepo) ListForNote(dbc dbctx.Context, noteID uuid.UUID) ([]*types.Tag, error) {
	var out []*types.Tag
	if noteID == uuid.Nil {
		return out, nil
	}
	err := dbc.DB(r.db).Raw(`
		SELECT t.* FROM tags t
		JOIN note_tags nt ON nt.tag_id = t.id
		WHERE nt.note_id = ?
		ORDER BY t.name ASC
	`, noteID).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *tagRepo) ListForNotes(dbc dbctx.Context, ownerID uuid.UUID, noteIDs []uuid.UUID) (map[uuid.UUID][]string, error) {
	out := map[uuid.UUID][]string{}
	if ownerID == uuid.Nil || len(noteIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		NoteID uuid.UUID
		Name   string
	}
	err := dbc.DB(r.db).Raw(`
		SELECT nt.note_id AS note_id, t.name AS name
		FROM note_tags nt
		JOIN tags t ON t.id = nt.tag_id
		WHERE t.owner_id = ? AND nt.note_id IN ?
		ORDER BY t.name ASC
	`, ownerID, noteIDs).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.NoteID] = append(out[row.NoteID], row.Name)
	}
	return out, nil
}

// SharedNotePairs lists every live note pair that shares at least one tag,
// with the shared-tag count. Pairs come back once, ordered source < target.
func (r *tagRepo) SharedNotePairs(dbc dbctx.Context, ownerID uuid.UUID) ([]NotePair, error) {
	var out []NotePair
	if ownerID == uuid.Nil {
		return out, nil
	}
	err := dbc.DB(r.db).Raw(`
		SELECT a.note_id AS source_id, b.note_id AS target_id, COUNT(*) AS shared
		FROM note_tags a
		JOIN note_tags b ON a.tag_id = b.tag_id AND a.note_id < b.note_id
		JOIN notes na ON na.id = a.note_id AND na.owner_id = ? AND na.is_trashed = FALSE
		JOIN notes nb ON nb.id = b.note_id AND nb.owner_id = ? AND nb.is_trashed = FALSE
		GROUP BY a.note_id, b.note_id
	`, ownerID, ownerID).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *tagRepo) ReplaceImageTags(dbc dbctx.Context, imageID uuid.UUID, tagIDs []uuid.UUID) error {
	if imageID == uuid.Nil {
		return nil
	}
	db := dbc.DB(r.db)
	if err := db.Where("image_id = ?", imageID).Delete(&types.ImageTag{}).Error; err != nil {
		return err
	}
	if len(tagIDs) == 0 {
		return nil
	}
	rows := make([]*types.ImageTag, 0, len(tagIDs))
	for _, tagID := range tagIDs {
		rows = append(rows, &types.ImageTag{ImageID: imageID, TagID: tagID})
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}
