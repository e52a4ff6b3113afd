package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// Note change kinds the incremental updater understands.
const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

const (
	// microTopicOverlap is the keyword-overlap floor for folding a new note
	// into an existing topic; below it the note opens a micro-topic.
	microTopicOverlap = 0.3

	// microTopicRebuildThreshold is how many single-note topics may pile up
	// before the updater starts recommending a full rebuild.
	microTopicRebuildThreshold = 10
)

// Incremental keeps topic files current between full builds by absorbing
// single note changes. It leans on the Builder for synthesis so incremental
// topics read exactly like full-build ones.
type Incremental struct {
	b   *Builder
	log *logger.Logger
}

func NewIncremental(b *Builder, baseLog *logger.Logger) *Incremental {
	return &Incremental{
		b:   b,
		log: baseLog.With("component", "BrainIncremental"),
	}
}

// Apply folds one note change into the topic files and refreshes the
// knowledge map. Owners without a built brain are skipped: their first full
// build will see the note anyway.
func (inc *Incremental) Apply(ctx context.Context, ownerID, noteID uuid.UUID, change string) error {
	if ownerID == uuid.Nil || noteID == uuid.Nil {
		return fmt.Errorf("%w: owner and note ids required", apperr.ErrValidation)
	}
	dbc := dbctx.New(ctx)

	topics, err := inc.b.files.ListTopics(dbc, ownerID)
	if err != nil {
		return err
	}
	if len(topics) == 0 {
		return nil
	}

	started := time.Now()
	lg, err := inc.b.logs.Create(dbc, &types.BrainBuildLog{
		OwnerID:   ownerID,
		BuildType: types.BuildTypeIncremental,
		Status:    types.BuildProcessing,
		StartedAt: &started,
	})
	if err != nil {
		return fmt.Errorf("create build log: %w", err)
	}

	topicsCreated, err := inc.apply(ctx, dbc, ownerID, noteID, change, topics)
	if err != nil {
		inc.b.failLog(ctx, lg.ID, err)
		return err
	}
	completed := time.Now()
	return inc.b.logs.UpdateFields(dbc, lg.ID, map[string]interface{}{
		"status":          types.BuildCompleted,
		"progress_pct":    100,
		"current_step":    "done",
		"notes_processed": 1,
		"topics_created":  topicsCreated,
		"completed_at":    &completed,
	})
}

func (inc *Incremental) apply(ctx context.Context, dbc dbctx.Context, ownerID, noteID uuid.UUID, change string, topics []*types.BrainFile) (int, error) {
	containing := topicsContaining(topics, noteID)
	created := 0

	switch change {
	case ChangeCreated:
		if len(containing) > 0 {
			// Replayed event; the note is already absorbed.
			inc.regenerateAll(ctx, dbc, ownerID, containing)
			break
		}
		note, err := inc.b.notes.GetByID(dbc, ownerID, noteID)
		if err != nil {
			return 0, err
		}
		if note == nil || note.IsTrashed {
			return 0, nil
		}
		if best, overlap := bestTopicFor(note, topics); best != nil && overlap >= microTopicOverlap {
			addSourceNote(best, noteID)
			inc.regenerateAll(ctx, dbc, ownerID, []*types.BrainFile{best})
		} else {
			if err := inc.createMicroTopic(ctx, dbc, ownerID, note); err != nil {
				return 0, err
			}
			created = 1
		}

	case ChangeUpdated:
		if len(containing) == 0 {
			return inc.apply(ctx, dbc, ownerID, noteID, ChangeCreated, topics)
		}
		inc.regenerateAll(ctx, dbc, ownerID, containing)

	case ChangeDeleted:
		for _, t := range containing {
			removeSourceNote(t, noteID)
			if len(decodeNoteIDs(t.SourceNoteIDs)) == 0 {
				if err := inc.b.files.Delete(dbc, ownerID, t.FileKey); err != nil {
					return created, err
				}
				continue
			}
			inc.regenerateAll(ctx, dbc, ownerID, []*types.BrainFile{t})
		}

	default:
		return 0, fmt.Errorf("%w: unknown change type %q", apperr.ErrValidation, change)
	}

	if err := inc.refreshDerivedFiles(ctx, dbc, ownerID); err != nil {
		return created, err
	}

	if count, err := inc.b.files.CountMicroTopics(dbc, ownerID); err == nil && count > microTopicRebuildThreshold {
		inc.log.Warn("Micro-topics piling up; full rebuild recommended",
			"owner_id", ownerID, "micro_topics", count)
	}
	return created, nil
}

// regenerateAll rebuilds each topic from its live source notes. A failing
// regeneration marks the topic stale and moves on: the old content keeps
// serving until the next successful build clears the flag.
func (inc *Incremental) regenerateAll(ctx context.Context, dbc dbctx.Context, ownerID uuid.UUID, list []*types.BrainFile) {
	for _, t := range list {
		if err := inc.regenerateTopic(ctx, dbc, ownerID, t); err != nil {
			inc.log.Warn("Topic regeneration failed; marked stale", "file_key", t.FileKey, "error", err)
			if uerr := inc.b.files.UpdateFields(dbc, ownerID, t.FileKey, map[string]interface{}{
				"is_stale": true,
			}); uerr != nil {
				inc.log.Error("Marking topic stale failed", "file_key", t.FileKey, "error", uerr)
			}
		}
	}
}

func (inc *Incremental) regenerateTopic(ctx context.Context, dbc dbctx.Context, ownerID uuid.UUID, topic *types.BrainFile) error {
	notes, err := inc.b.notes.GetLiveByIDs(dbc, ownerID, decodeNoteIDs(topic.SourceNoteIDs))
	if err != nil {
		return err
	}
	if len(notes) == 0 {
		return inc.b.files.Delete(dbc, ownerID, topic.FileKey)
	}
	tagsByNote, err := inc.b.tags.ListForNotes(dbc, ownerID, noteIDsOf(notes))
	if err != nil {
		return err
	}
	cid := orphanCommunityID
	if topic.CommunityID != nil {
		cid = *topic.CommunityID
	}
	fresh, err := inc.b.synthesizeTopic(ctx, ownerID, topic.FileKey, bucket{communityID: cid, notes: notes}, tagsByNote)
	if err != nil {
		return err
	}
	return inc.finishTopic(ctx, dbc, fresh)
}

// createMicroTopic opens a single-note topic. The key derives from the note
// id, so a retried task converges on the same file.
func (inc *Incremental) createMicroTopic(ctx context.Context, dbc dbctx.Context, ownerID uuid.UUID, note *types.Note) error {
	key := fmt.Sprintf("topic_m%s", note.ID.String()[:8])
	tagsByNote, err := inc.b.tags.ListForNotes(dbc, ownerID, []uuid.UUID{note.ID})
	if err != nil {
		return err
	}
	fresh, err := inc.b.synthesizeTopic(ctx, ownerID, key, bucket{
		communityID: orphanCommunityID,
		notes:       []*types.Note{note},
	}, tagsByNote)
	if err != nil {
		return err
	}
	return inc.finishTopic(ctx, dbc, fresh)
}

func (inc *Incremental) finishTopic(ctx context.Context, dbc dbctx.Context, topic *types.BrainFile) error {
	if err := inc.b.compressTopic(ctx, topic); err != nil {
		return err
	}
	topic.ContentHash = contentHash(topic.Content)
	inc.b.attachEmbeddings(ctx, []*types.BrainFile{topic})
	return inc.b.files.Upsert(dbc, topic)
}

// refreshDerivedFiles rewrites the knowledge map and routing table from the
// topics now on disk, keeping the always-loaded tier in step with them.
func (inc *Incremental) refreshDerivedFiles(ctx context.Context, dbc dbctx.Context, ownerID uuid.UUID) error {
	topics, err := inc.b.files.ListTopics(dbc, ownerID)
	if err != nil {
		return err
	}
	knowledgeMap := coreFile(ownerID, types.BrainFileMnemosyne, "Knowledge Map", assembleKnowledgeMap(topics))
	routing := coreFile(ownerID, types.BrainFileAskimap, "Question Routing", assembleAskimap(topics))
	for _, f := range []*types.BrainFile{knowledgeMap, routing} {
		f.ContentHash = contentHash(f.Content)
	}
	inc.b.attachEmbeddings(ctx, []*types.BrainFile{knowledgeMap, routing})
	for _, f := range []*types.BrainFile{knowledgeMap, routing} {
		if err := inc.b.files.Upsert(dbc, f); err != nil {
			return fmt.Errorf("upsert %s: %w", f.FileKey, err)
		}
	}
	return nil
}

// bestTopicFor scores keyword overlap between the note and each topic,
// returning the best hit. Ties keep the first topic in key order.
func bestTopicFor(note *types.Note, topics []*types.BrainFile) (*types.BrainFile, float64) {
	noteTokens := tokenSet(note.Title + " " + truncateRunes(note.Content, embedPrefixChars))
	var best *types.BrainFile
	bestScore := 0.0
	for _, t := range topics {
		kws := decodeKeywords(t.TopicKeywords)
		if len(kws) == 0 {
			continue
		}
		matched := 0
		for _, kw := range kws {
			if noteTokens[kw] {
				matched++
			}
		}
		score := float64(matched) / float64(len(kws))
		if score > bestScore {
			best = t
			bestScore = score
		}
	}
	return best, bestScore
}

func topicsContaining(topics []*types.BrainFile, noteID uuid.UUID) []*types.BrainFile {
	var out []*types.BrainFile
	for _, t := range topics {
		for _, id := range decodeNoteIDs(t.SourceNoteIDs) {
			if id == noteID {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func decodeNoteIDs(raw datatypes.JSON) []uuid.UUID {
	if len(raw) == 0 {
		return nil
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil
	}
	return ids
}

func addSourceNote(t *types.BrainFile, id uuid.UUID) {
	ids := decodeNoteIDs(t.SourceNoteIDs)
	for _, x := range ids {
		if x == id {
			return
		}
	}
	raw, err := json.Marshal(append(ids, id))
	if err != nil {
		return
	}
	t.SourceNoteIDs = raw
}

func removeSourceNote(t *types.BrainFile, id uuid.UUID) {
	ids := decodeNoteIDs(t.SourceNoteIDs)
	kept := ids[:0]
	for _, x := range ids {
		if x != id {
			kept = append(kept, x)
		}
	}
	raw, err := json.Marshal(kept)
	if err != nil {
		return
	}
	t.SourceNoteIDs = raw
}
