package pipeline

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

func analyzedDoc(status string) *types.Document {
	return &types.Document{
		ID:               uuid.New(),
		OwnerID:          uuid.New(),
		Title:            "Quarterly Report",
		AIAnalysisStatus: status,
		AISummary:        "A report about container infrastructure spending.",
		ExtractedText:    longNoteContent(),
		PageCount:        1,
	}
}

func TestDocumentEmbedCompletesDocument(t *testing.T) {
	doc := analyzedDoc(types.AnalysisNeedsReview)
	docs := newFakeDocStore(doc)
	chunks := &fakeDocChunks{}
	emb := &fakeEmbedder{}
	task := newTask(types.TaskDocumentEmbed, map[string]any{"document_id": doc.ID.String()})
	task.OwnerID = doc.OwnerID

	h := NewDocumentEmbed(docs, chunks, emb, logger.NewNop())
	if err := h.Run(newTestContext(task, &fakeTaskStore{})); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if task.Status != types.TaskCompleted {
		t.Fatalf("status = %q (error: %s)", task.Status, task.Error)
	}
	if doc.AIAnalysisStatus != types.AnalysisCompleted {
		t.Fatalf("document status = %q, want completed", doc.AIAnalysisStatus)
	}
	if docs.embeddings[doc.ID] == nil {
		t.Fatalf("document embedding not saved")
	}
	if chunks.documentID != doc.ID || len(chunks.chunks) < 2 {
		t.Fatalf("chunks = %d, want a multi-chunk replace", len(chunks.chunks))
	}
	for i, ch := range chunks.chunks {
		if ch.Embedding == nil {
			t.Fatalf("chunk %d missing embedding", i)
		}
	}
	// The document vector seeds from the analysis summary when there is one.
	if !strings.Contains(emb.lastText, "container infrastructure spending") {
		t.Fatalf("document vector should embed the summary, got %q", emb.lastText)
	}
}

func TestDocumentEmbedFallsBackToTextWithoutSummary(t *testing.T) {
	doc := analyzedDoc(types.AnalysisNeedsReview)
	doc.AISummary = ""
	docs := newFakeDocStore(doc)
	emb := &fakeEmbedder{}
	task := newTask(types.TaskDocumentEmbed, map[string]any{"document_id": doc.ID.String()})
	task.OwnerID = doc.OwnerID

	h := NewDocumentEmbed(docs, &fakeDocChunks{}, emb, logger.NewNop())
	if err := h.Run(newTestContext(task, &fakeTaskStore{})); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(emb.lastText, "container networking basics") {
		t.Fatalf("without a summary the extracted text seeds the vector, got %q", emb.lastText[:40])
	}
}

func TestDocumentEmbedSkipsUnanalyzedDocument(t *testing.T) {
	for _, status := range []string{types.AnalysisQueued, types.AnalysisProcessing, types.AnalysisFailed} {
		doc := analyzedDoc(status)
		docs := newFakeDocStore(doc)
		chunks := &fakeDocChunks{}
		emb := &fakeEmbedder{}
		task := newTask(types.TaskDocumentEmbed, map[string]any{"document_id": doc.ID.String()})
		task.OwnerID = doc.OwnerID

		h := NewDocumentEmbed(docs, chunks, emb, logger.NewNop())
		if err := h.Run(newTestContext(task, &fakeTaskStore{})); err != nil {
			t.Fatalf("%s: Run: %v", status, err)
		}
		if task.Status != types.TaskCompleted || !strings.Contains(string(task.Result), "analysis not finished") {
			t.Fatalf("%s: want a skip completion, got %q %s", status, task.Status, task.Result)
		}
		if emb.calls != 0 || len(chunks.chunks) != 0 {
			t.Fatalf("%s: nothing should be embedded before analysis finishes", status)
		}
		if doc.AIAnalysisStatus != status {
			t.Fatalf("%s: document status must not move, got %q", status, doc.AIAnalysisStatus)
		}
	}
}

func TestDocumentEmbedSkipsEmptyText(t *testing.T) {
	doc := analyzedDoc(types.AnalysisNeedsReview)
	doc.ExtractedText = "   "
	docs := newFakeDocStore(doc)
	emb := &fakeEmbedder{}
	task := newTask(types.TaskDocumentEmbed, map[string]any{"document_id": doc.ID.String()})
	task.OwnerID = doc.OwnerID

	h := NewDocumentEmbed(docs, &fakeDocChunks{}, emb, logger.NewNop())
	if err := h.Run(newTestContext(task, &fakeTaskStore{})); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if task.Status != types.TaskCompleted || !strings.Contains(string(task.Result), "no extracted text") {
		t.Fatalf("want a skip completion, got %q %s", task.Status, task.Result)
	}
	if emb.calls != 0 {
		t.Fatalf("nothing to embed for an empty document")
	}
}
