package repos

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

type AccessPatternRepo interface {
	Record(dbc dbctx.Context, ownerID uuid.UUID, queryText string, noteIDs []uuid.UUID) error
	CoRetrievalCounts(dbc dbctx.Context, ownerID uuid.UUID, since time.Duration) (map[[2]uuid.UUID]int, error)
}

type accessPatternRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAccessPatternRepo(db *gorm.DB, baseLog *logger.Logger) AccessPatternRepo {
	return &accessPatternRepo{
		db:  db,
		log: baseLog.With("repo", "AccessPatternRepo"),
	}
}

func (r *accessPatternRepo) Record(dbc dbctx.Context, ownerID uuid.UUID, queryText string, noteIDs []uuid.UUID) error {
	if ownerID == uuid.Nil || len(noteIDs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(noteIDs))
	for _, id := range noteIDs {
		ids = append(ids, id.String())
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	row := &types.NexusAccessPattern{
		OwnerID:       ownerID,
		QueryText:     queryText,
		ResultNoteIDs: datatypes.JSON(raw),
	}
	return dbc.DB(r.db).Create(row).Error
}

// CoRetrievalCounts counts how often each unordered note pair appeared in
// the same query's result set within the window. Pairs are keyed with the
// smaller UUID string first.
func (r *accessPatternRepo) CoRetrievalCounts(dbc dbctx.Context, ownerID uuid.UUID, since time.Duration) (map[[2]uuid.UUID]int, error) {
	counts := map[[2]uuid.UUID]int{}
	if ownerID == uuid.Nil {
		return counts, nil
	}
	var rows []*types.NexusAccessPattern
	q := dbc.DB(r.db).Where("owner_id = ?", ownerID)
	if since > 0 {
		q = q.Where("created_at >= ?", time.Now().Add(-since))
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		var ids []string
		if err := json.Unmarshal(row.ResultNoteIDs, &ids); err != nil {
			continue
		}
		parsed := make([]uuid.UUID, 0, len(ids))
		for _, s := range ids {
			id, err := uuid.Parse(s)
			if err != nil {
				continue
			}
			parsed = append(parsed, id)
		}
		for i := 0; i < len(parsed); i++ {
			for j := i + 1; j < len(parsed); j++ {
				a, b := parsed[i], parsed[j]
				if b.String() < a.String() {
					a, b = b, a
				}
				counts[[2]uuid.UUID{a, b}]++
			}
		}
	}
	return counts, nil
}
