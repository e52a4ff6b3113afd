package pipeline

import (
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/chunker"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/embedding"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/tasks"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// NoteEmbed regenerates a note's embedding and chunk set after any create or
// update. Chunks are replaced wholesale so a retried run converges on the
// same rows.
type NoteEmbed struct {
	notes    repos.NoteRepo
	chunks   repos.NoteChunkRepo
	embedder embedding.Client
	log      *logger.Logger
}

func NewNoteEmbed(notes repos.NoteRepo, chunks repos.NoteChunkRepo, embedder embedding.Client, baseLog *logger.Logger) *NoteEmbed {
	return &NoteEmbed{
		notes:    notes,
		chunks:   chunks,
		embedder: embedder,
		log:      baseLog.With("task", types.TaskNoteEmbed),
	}
}

func (p *NoteEmbed) Type() string { return types.TaskNoteEmbed }

func (p *NoteEmbed) Run(tc *tasks.Context) error {
	if tc == nil || tc.Task == nil {
		return nil
	}
	noteID, ok := tc.PayloadUUID("note_id")
	if !ok {
		tc.FailPermanent("validate", fmt.Errorf("missing note_id"))
		return nil
	}
	ctx := tc.Ctx
	dbc := dbctx.New(ctx)

	note, err := p.notes.GetByID(dbc, tc.Task.OwnerID, noteID)
	if err != nil {
		return fmt.Errorf("load note: %w", err)
	}
	if note == nil || note.IsTrashed {
		tc.Succeed("done", map[string]any{"skipped": "note missing or trashed"})
		return nil
	}

	tc.Progress("embed_note", 20)
	vec, err := p.embedder.Embed(ctx, note.Title+"\n\n"+note.Content)
	if err != nil {
		return fmt.Errorf("embed note: %w", err)
	}
	noteVec := pgvector.NewVector(vec)
	if err := p.notes.UpdateEmbedding(dbc, note.ID, &noteVec); err != nil {
		return fmt.Errorf("save note embedding: %w", err)
	}

	tc.Progress("chunk", 50)
	parts := chunker.Split(note.Content, chunker.DefaultChunkSize, chunker.DefaultOverlap)
	rows := make([]*types.NoteChunk, 0, len(parts))
	texts := make([]string, 0, len(parts))
	for _, ch := range parts {
		rows = append(rows, &types.NoteChunk{
			NoteID:     note.ID,
			OwnerID:    note.OwnerID,
			Content:    ch.Content,
			ChunkIndex: ch.ChunkIndex,
			ChunkType:  ch.ChunkType,
			CharStart:  ch.CharStart,
			CharEnd:    ch.CharEnd,
		})
		texts = append(texts, ch.Content)
	}

	tc.Progress("embed_chunks", 70)
	if len(rows) > 0 {
		vecs, err := p.embedder.BatchEmbed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		if len(vecs) == len(rows) {
			for i := range rows {
				chunkVec := pgvector.NewVector(vecs[i])
				rows[i].Embedding = &chunkVec
			}
		}
	}
	if err := p.chunks.ReplaceForNote(dbc, note.ID, rows); err != nil {
		return fmt.Errorf("replace note chunks: %w", err)
	}

	tc.Succeed("done", map[string]any{"chunks": len(rows)})
	return nil
}
