package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

func analyzeHandler(stub *chatStub) *DocumentAnalyze {
	return &DocumentAnalyze{
		registry: stub.registry(),
		opts:     testOptions(),
		log:      logger.NewNop(),
	}
}

func TestDocumentAnalyzeEnrichParsesModelJSON(t *testing.T) {
	stub := newChatStub(t, "Here you go:\n```json\n"+
		`{"summary": "  A field guide to container networking. ",`+
		` "tags": ["Docker", "docker", " networking "],`+
		` "wikilinks": ["Container Networking", "Linux Bridges"]}`+
		"\n```")
	p := analyzeHandler(stub)

	enr, err := p.enrich(context.Background(), "Quarterly Report", longNoteContent())
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if enr.Summary != "A field guide to container networking." {
		t.Fatalf("summary = %q", enr.Summary)
	}
	if len(enr.Tags) != 2 || enr.Tags[0] != "docker" || enr.Tags[1] != "networking" {
		t.Fatalf("tags = %v, want lowercased and deduplicated", enr.Tags)
	}
	if len(enr.Wikilinks) != 2 || enr.Wikilinks[0] != "Container Networking" {
		t.Fatalf("wikilinks = %v", enr.Wikilinks)
	}
	if !strings.Contains(stub.body(0), "Title: Quarterly Report") {
		t.Fatalf("prompt should carry the document title, got %s", stub.body(0))
	}
}

func TestDocumentAnalyzeEnrichRejectsEmptySummary(t *testing.T) {
	stub := newChatStub(t, `{"summary": "   ", "tags": ["a"], "wikilinks": []}`)
	p := analyzeHandler(stub)

	if _, err := p.enrich(context.Background(), "Doc", "some text"); err == nil {
		t.Fatalf("expected an error for a blank summary")
	}
}

func TestDocumentAnalyzeExtractsPaginatedText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("first page\fsecond page"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	p := &DocumentAnalyze{log: logger.NewNop()}
	task := newTask(types.TaskDocumentAnalyze, nil)
	tc := newTestContext(task, &fakeTaskStore{})

	doc := &types.Document{ID: uuid.New(), Filepath: path, MimeType: "text/plain"}
	text, pages, title, err := p.extractText(context.Background(), tc, doc)
	if err != nil {
		t.Fatalf("extractText: %v", err)
	}
	if pages != 2 {
		t.Fatalf("pages = %d, want 2", pages)
	}
	if !strings.Contains(text, "--- Page 2 ---") || !strings.Contains(text, "second page") {
		t.Fatalf("text lost its page markers: %q", text)
	}
	if title != "" {
		t.Fatalf("plain text has no declared title, got %q", title)
	}
}

func TestDocumentAnalyzeRejectsUnsupportedType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 stub"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	p := &DocumentAnalyze{log: logger.NewNop()}
	task := newTask(types.TaskDocumentAnalyze, nil)
	tc := newTestContext(task, &fakeTaskStore{})

	doc := &types.Document{ID: uuid.New(), Filepath: path, MimeType: "application/pdf"}
	_, _, _, err := p.extractText(context.Background(), tc, doc)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("unsupported type should be a validation error, got %v", err)
	}
}

func TestDocumentAnalyzeTranscribesImageUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(path, []byte("not really a png"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	stub := newChatStub(t, "Receipt from the hardware store.")
	p := analyzeHandler(stub)
	task := newTask(types.TaskDocumentAnalyze, nil)
	tc := newTestContext(task, &fakeTaskStore{})

	doc := &types.Document{ID: uuid.New(), Filepath: path, MimeType: "image/png"}
	text, pages, _, err := p.extractText(context.Background(), tc, doc)
	if err != nil {
		t.Fatalf("extractText: %v", err)
	}
	if text != "Receipt from the hardware store." || pages != 1 {
		t.Fatalf("text = %q pages = %d", text, pages)
	}
	if !strings.Contains(stub.body(0), `"images"`) {
		t.Fatalf("vision request should attach the image, got %s", stub.body(0))
	}
	if !strings.Contains(stub.body(0), "test-vision") {
		t.Fatalf("transcription should use the vision model, got %s", stub.body(0))
	}
}

func TestDocumentAnalyzeFailureMarksDocument(t *testing.T) {
	doc := analyzedDoc(types.AnalysisProcessing)
	docs := newFakeDocStore(doc)
	p := &DocumentAnalyze{docs: docs, log: logger.NewNop()}
	task := newTask(types.TaskDocumentAnalyze, nil)
	tc := newTestContext(task, &fakeTaskStore{})

	cause := errors.New("model melted")
	if got := p.failDocument(tc, doc.ID, cause); got != cause {
		t.Fatalf("failDocument must hand back the original error, got %v", got)
	}
	if doc.AIAnalysisStatus != types.AnalysisFailed {
		t.Fatalf("status = %q, want failed", doc.AIAnalysisStatus)
	}
	if doc.AIAnalysisError != "model melted" {
		t.Fatalf("error = %q", doc.AIAnalysisError)
	}
}

func TestDocumentAnalyzeSkipsMissingDocument(t *testing.T) {
	p := &DocumentAnalyze{docs: newFakeDocStore(), log: logger.NewNop()}
	task := newTask(types.TaskDocumentAnalyze, map[string]any{"document_id": uuid.New().String()})

	if err := p.Run(newTestContext(task, &fakeTaskStore{})); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if task.Status != types.TaskCompleted || !strings.Contains(string(task.Result), "skipped") {
		t.Fatalf("want a skip completion, got %q %s", task.Status, task.Result)
	}
}

func TestDocumentAnalyzeFailsWithoutPayload(t *testing.T) {
	p := &DocumentAnalyze{log: logger.NewNop()}
	task := newTask(types.TaskDocumentAnalyze, nil)

	if err := p.Run(newTestContext(task, &fakeTaskStore{})); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if task.Status != types.TaskFailed || task.Stage != "validate" || task.Retryable {
		t.Fatalf("want a permanent validation failure, got %q %q retryable=%v",
			task.Status, task.Stage, task.Retryable)
	}
}
