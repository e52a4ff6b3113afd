package pipeline

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

func longNoteContent() string {
	para := strings.TrimSpace(strings.Repeat("container networking basics ", 12))
	return para + "\n\n" + para + "\n\n" + para
}

func TestNoteEmbedReplacesChunksAndEmbedding(t *testing.T) {
	note := &types.Note{
		ID:      uuid.New(),
		OwnerID: uuid.New(),
		Title:   "Docker",
		Content: longNoteContent(),
	}
	notes := newFakeNoteStore(note)
	chunks := &fakeNoteChunks{}
	emb := &fakeEmbedder{}
	store := &fakeTaskStore{}
	task := newTask(types.TaskNoteEmbed, map[string]any{"note_id": note.ID.String()})
	task.OwnerID = note.OwnerID

	h := NewNoteEmbed(notes, chunks, emb, logger.NewNop())
	if err := h.Run(newTestContext(task, store)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if task.Status != types.TaskCompleted {
		t.Fatalf("status = %q, want completed (error: %s)", task.Status, task.Error)
	}
	if notes.embeddings[note.ID] == nil {
		t.Fatalf("note embedding not saved")
	}
	if !strings.HasPrefix(emb.lastText, "Docker\n\n") {
		t.Fatalf("note vector should embed title plus content, got %q", emb.lastText[:20])
	}
	if chunks.noteID != note.ID || len(chunks.chunks) < 2 {
		t.Fatalf("chunks = %d for note %s, want a multi-chunk replace", len(chunks.chunks), chunks.noteID)
	}
	for i, ch := range chunks.chunks {
		if ch.NoteID != note.ID || ch.OwnerID != note.OwnerID {
			t.Fatalf("chunk %d has wrong ownership: %+v", i, ch)
		}
		if ch.Embedding == nil {
			t.Fatalf("chunk %d missing embedding", i)
		}
	}
	if !strings.Contains(string(task.Result), `"chunks"`) {
		t.Fatalf("result should report chunk count: %s", task.Result)
	}
}

func TestNoteEmbedSkipsTrashedNote(t *testing.T) {
	note := &types.Note{ID: uuid.New(), OwnerID: uuid.New(), Title: "Gone", IsTrashed: true}
	notes := newFakeNoteStore(note)
	emb := &fakeEmbedder{}
	task := newTask(types.TaskNoteEmbed, map[string]any{"note_id": note.ID.String()})
	task.OwnerID = note.OwnerID

	h := NewNoteEmbed(notes, &fakeNoteChunks{}, emb, logger.NewNop())
	if err := h.Run(newTestContext(task, &fakeTaskStore{})); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if task.Status != types.TaskCompleted || !strings.Contains(string(task.Result), "skipped") {
		t.Fatalf("trashed note should complete as a skip, got %q %s", task.Status, task.Result)
	}
	if emb.calls != 0 {
		t.Fatalf("embedder should not run for a trashed note")
	}
}

func TestNoteEmbedFailsWithoutPayload(t *testing.T) {
	task := newTask(types.TaskNoteEmbed, nil)
	h := NewNoteEmbed(newFakeNoteStore(), &fakeNoteChunks{}, &fakeEmbedder{}, logger.NewNop())

	if err := h.Run(newTestContext(task, &fakeTaskStore{})); err != nil {
		t.Fatalf("validation failures are self-reported, got %v", err)
	}
	if task.Status != types.TaskFailed || task.Stage != "validate" {
		t.Fatalf("status/stage = %q/%q, want failed/validate", task.Status, task.Stage)
	}
	if task.Retryable {
		t.Fatalf("a missing payload field can never succeed on retry")
	}
}

func TestNoteEmbedReturnsEmbedErrors(t *testing.T) {
	note := &types.Note{ID: uuid.New(), OwnerID: uuid.New(), Title: "T", Content: "body"}
	notes := newFakeNoteStore(note)
	emb := &fakeEmbedder{err: apperr.ErrEmbeddingUnavailable}
	task := newTask(types.TaskNoteEmbed, map[string]any{"note_id": note.ID.String()})
	task.OwnerID = note.OwnerID

	h := NewNoteEmbed(notes, &fakeNoteChunks{}, emb, logger.NewNop())
	err := h.Run(newTestContext(task, &fakeTaskStore{}))
	if !errors.Is(err, apperr.ErrEmbeddingUnavailable) {
		t.Fatalf("embed failures must surface for the worker to classify, got %v", err)
	}
	if task.Status != types.TaskProcessing {
		t.Fatalf("handler must not mark the task itself, got %q", task.Status)
	}
}
