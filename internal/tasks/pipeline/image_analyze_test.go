package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

func tempImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(path, []byte("jpeg bytes"), 0o600); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return path
}

func TestImageAnalyzeDescribeParsesModelJSON(t *testing.T) {
	stub := newChatStub(t, "```json\n"+
		`{"description": " A whiteboard covered in a systems diagram. ",`+
		` "detected_text": " cache -> queue ",`+
		` "tags": ["Whiteboard", "whiteboard", "diagram"],`+
		` "suggested_title": "\"Systems Design Whiteboard\""}`+
		"\n```")
	p := &ImageAnalyze{registry: stub.registry(), opts: testOptions(), log: logger.NewNop()}

	analysis, err := p.describe(context.Background(), tempImage(t))
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if analysis.Description != "A whiteboard covered in a systems diagram." {
		t.Fatalf("description = %q", analysis.Description)
	}
	if analysis.DetectedText != "cache -> queue" {
		t.Fatalf("detected_text = %q", analysis.DetectedText)
	}
	if len(analysis.Tags) != 2 || analysis.Tags[0] != "whiteboard" || analysis.Tags[1] != "diagram" {
		t.Fatalf("tags = %v, want lowercased and deduplicated", analysis.Tags)
	}
	if analysis.SuggestedTitle != "Systems Design Whiteboard" {
		t.Fatalf("suggested_title = %q, want quotes stripped", analysis.SuggestedTitle)
	}
	if !strings.Contains(stub.body(0), `"images"`) {
		t.Fatalf("vision request should attach the image, got %s", stub.body(0))
	}
	if !strings.Contains(stub.body(0), "test-vision") {
		t.Fatalf("describe should use the vision model, got %s", stub.body(0))
	}
}

func TestImageAnalyzeDescribeRejectsMissingDescription(t *testing.T) {
	stub := newChatStub(t, `{"detected_text": "something", "tags": []}`)
	p := &ImageAnalyze{registry: stub.registry(), opts: testOptions(), log: logger.NewNop()}

	if _, err := p.describe(context.Background(), tempImage(t)); err == nil {
		t.Fatalf("expected an error when the model returns no description")
	}
}

func TestImageAnalyzeReplaceChunksEmbedsAnalysisText(t *testing.T) {
	chunks := &fakeImageChunks{}
	emb := &fakeEmbedder{}
	p := &ImageAnalyze{chunks: chunks, embedder: emb, log: logger.NewNop()}

	img := &types.Image{ID: uuid.New(), OwnerID: uuid.New()}
	ctx := context.Background()
	if err := p.replaceChunks(ctx, dbctx.New(ctx), img, longNoteContent()); err != nil {
		t.Fatalf("replaceChunks: %v", err)
	}
	if chunks.imageID != img.ID || len(chunks.chunks) < 2 {
		t.Fatalf("chunks = %d, want a multi-chunk replace", len(chunks.chunks))
	}
	for i, ch := range chunks.chunks {
		if ch.ImageID != img.ID || ch.OwnerID != img.OwnerID {
			t.Fatalf("chunk %d has wrong ownership", i)
		}
		if ch.Embedding == nil {
			t.Fatalf("chunk %d missing embedding", i)
		}
	}
	if emb.batchSize != len(chunks.chunks) {
		t.Fatalf("embedded %d texts for %d chunks", emb.batchSize, len(chunks.chunks))
	}
}

func TestImageAnalyzeFailureMarksImage(t *testing.T) {
	img := &types.Image{ID: uuid.New(), OwnerID: uuid.New(), AIAnalysisStatus: types.AnalysisProcessing}
	images := newFakeImageStore(img)
	p := &ImageAnalyze{images: images, log: logger.NewNop()}
	task := newTask(types.TaskImageAnalyze, nil)
	tc := newTestContext(task, &fakeTaskStore{})

	cause := errors.New("vision model unreachable")
	if got := p.failImage(tc, img.ID, cause); got != cause {
		t.Fatalf("failImage must hand back the original error, got %v", got)
	}
	if img.AIAnalysisStatus != types.AnalysisFailed || img.AIAnalysisError != "vision model unreachable" {
		t.Fatalf("image not marked failed: %q %q", img.AIAnalysisStatus, img.AIAnalysisError)
	}
}

func TestImageAnalyzeSkipsTrashedImage(t *testing.T) {
	img := &types.Image{ID: uuid.New(), OwnerID: uuid.New(), IsTrashed: true}
	p := &ImageAnalyze{images: newFakeImageStore(img), log: logger.NewNop()}
	task := newTask(types.TaskImageAnalyze, map[string]any{"image_id": img.ID.String()})
	task.OwnerID = img.OwnerID

	if err := p.Run(newTestContext(task, &fakeTaskStore{})); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if task.Status != types.TaskCompleted || !strings.Contains(string(task.Result), "skipped") {
		t.Fatalf("want a skip completion, got %q %s", task.Status, task.Result)
	}
	if img.AIAnalysisStatus != "" {
		t.Fatalf("trashed image must not be touched, status = %q", img.AIAnalysisStatus)
	}
}
