package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/llm"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/tasks"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// fakeTaskStore satisfies the task repo for handler tests. Lifecycle writes
// are acknowledged blindly; the task context mirrors them onto the task
// struct, which is what the tests assert against.
type fakeTaskStore struct {
	created []*types.BackgroundTask
	pending map[string]bool
	updates int
}

func pendingKey(taskType string, entityID uuid.UUID) string {
	return taskType + "/" + entityID.String()
}

func (f *fakeTaskStore) Create(_ dbctx.Context, rows []*types.BackgroundTask) ([]*types.BackgroundTask, error) {
	for _, t := range rows {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		f.created = append(f.created, t)
	}
	return rows, nil
}

func (f *fakeTaskStore) GetByID(_ dbctx.Context, _ uuid.UUID) (*types.BackgroundTask, error) {
	return nil, nil
}

func (f *fakeTaskStore) GetByIDForOwner(_ dbctx.Context, _, _ uuid.UUID) (*types.BackgroundTask, error) {
	return nil, nil
}

func (f *fakeTaskStore) ClaimNextRunnable(_ dbctx.Context, _ int, _, _ time.Duration) (*types.BackgroundTask, error) {
	return nil, nil
}

func (f *fakeTaskStore) UpdateFields(_ dbctx.Context, _ uuid.UUID, _ map[string]interface{}) error {
	f.updates++
	return nil
}

func (f *fakeTaskStore) UpdateFieldsUnlessStatus(_ dbctx.Context, _ uuid.UUID, _ []string, _ map[string]interface{}) (bool, error) {
	f.updates++
	return true, nil
}

func (f *fakeTaskStore) Heartbeat(_ dbctx.Context, _ uuid.UUID) error { return nil }

func (f *fakeTaskStore) HasRunnableForEntity(_ dbctx.Context, _ uuid.UUID, taskType string, entityID uuid.UUID) (bool, error) {
	if f.pending[pendingKey(taskType, entityID)] {
		return true, nil
	}
	for _, t := range f.created {
		if t.TaskType == taskType && t.EntityID != nil && *t.EntityID == entityID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTaskStore) ResetStuckProcessing(_ dbctx.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeTaskStore) createdOfType(taskType string) []*types.BackgroundTask {
	var out []*types.BackgroundTask
	for _, t := range f.created {
		if t.TaskType == taskType {
			out = append(out, t)
		}
	}
	return out
}

var _ repos.BackgroundTaskRepo = (*fakeTaskStore)(nil)

// fakeNoteStore keeps notes in memory and records embedding writes.
type fakeNoteStore struct {
	notes      map[uuid.UUID]*types.Note
	embeddings map[uuid.UUID]*pgvector.Vector
}

func newFakeNoteStore(notes ...*types.Note) *fakeNoteStore {
	f := &fakeNoteStore{
		notes:      map[uuid.UUID]*types.Note{},
		embeddings: map[uuid.UUID]*pgvector.Vector{},
	}
	for _, n := range notes {
		f.notes[n.ID] = n
	}
	return f
}

func (f *fakeNoteStore) Create(_ dbctx.Context, note *types.Note) (*types.Note, error) {
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}
	f.notes[note.ID] = note
	return note, nil
}

func (f *fakeNoteStore) GetByID(_ dbctx.Context, _ uuid.UUID, id uuid.UUID) (*types.Note, error) {
	return f.notes[id], nil
}

func (f *fakeNoteStore) GetBySlug(_ dbctx.Context, _ uuid.UUID, slug string) (*types.Note, error) {
	for _, n := range f.notes {
		if n.Slug == slug {
			return n, nil
		}
	}
	return nil, nil
}

func (f *fakeNoteStore) GetLiveByIDs(_ dbctx.Context, _ uuid.UUID, _ []uuid.UUID) ([]*types.Note, error) {
	return nil, nil
}

func (f *fakeNoteStore) List(_ dbctx.Context, _ uuid.UUID, _ bool) ([]*types.Note, error) {
	return nil, nil
}

func (f *fakeNoteStore) ListLive(_ dbctx.Context, _ uuid.UUID) ([]*types.Note, error) {
	return nil, nil
}

func (f *fakeNoteStore) ListTitles(_ dbctx.Context, _ uuid.UUID) ([]repos.NoteTitle, error) {
	return nil, nil
}

func (f *fakeNoteStore) ListGraphCandidates(_ dbctx.Context, _ uuid.UUID, _ int) ([]repos.GraphCandidate, error) {
	return nil, nil
}

func (f *fakeNoteStore) ListRecentWithEmbeddings(_ dbctx.Context, _ uuid.UUID, _ int) ([]*types.Note, error) {
	return nil, nil
}

func (f *fakeNoteStore) CountLive(_ dbctx.Context, _ uuid.UUID) (int64, error) {
	return int64(len(f.notes)), nil
}

func (f *fakeNoteStore) SlugExists(_ dbctx.Context, _ uuid.UUID, slug string) (bool, error) {
	for _, n := range f.notes {
		if n.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeNoteStore) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if n := f.notes[id]; n != nil {
		if v, ok := updates["title"].(string); ok {
			n.Title = v
		}
		if v, ok := updates["content"].(string); ok {
			n.Content = v
		}
	}
	return nil
}

func (f *fakeNoteStore) UpdateEmbedding(_ dbctx.Context, id uuid.UUID, embedding *pgvector.Vector) error {
	f.embeddings[id] = embedding
	return nil
}

func (f *fakeNoteStore) AssignCommunity(_ dbctx.Context, _ uuid.UUID, _ int, _ []uuid.UUID) error {
	return nil
}

func (f *fakeNoteStore) ClearCommunities(_ dbctx.Context, _ uuid.UUID) error { return nil }

var _ repos.NoteRepo = (*fakeNoteStore)(nil)

type fakeNoteChunks struct {
	noteID uuid.UUID
	chunks []*types.NoteChunk
}

func (f *fakeNoteChunks) ReplaceForNote(_ dbctx.Context, noteID uuid.UUID, chunks []*types.NoteChunk) error {
	f.noteID = noteID
	f.chunks = chunks
	return nil
}

func (f *fakeNoteChunks) GetByNoteID(_ dbctx.Context, _ uuid.UUID) ([]*types.NoteChunk, error) {
	return nil, nil
}

func (f *fakeNoteChunks) GetByIDs(_ dbctx.Context, _ []uuid.UUID) ([]*types.NoteChunk, error) {
	return nil, nil
}

func (f *fakeNoteChunks) UpdateEmbedding(_ dbctx.Context, _ uuid.UUID, _ *pgvector.Vector) error {
	return nil
}

func (f *fakeNoteChunks) DeleteForNote(_ dbctx.Context, _ uuid.UUID) error { return nil }

var _ repos.NoteChunkRepo = (*fakeNoteChunks)(nil)

// fakeDocStore applies the update fields handlers actually write, so tests
// can assert the final document state.
type fakeDocStore struct {
	docs       map[uuid.UUID]*types.Document
	embeddings map[uuid.UUID]*pgvector.Vector
}

func newFakeDocStore(docs ...*types.Document) *fakeDocStore {
	f := &fakeDocStore{
		docs:       map[uuid.UUID]*types.Document{},
		embeddings: map[uuid.UUID]*pgvector.Vector{},
	}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *fakeDocStore) Create(_ dbctx.Context, doc *types.Document) (*types.Document, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	f.docs[doc.ID] = doc
	return doc, nil
}

func (f *fakeDocStore) GetByID(_ dbctx.Context, _, id uuid.UUID) (*types.Document, error) {
	return f.docs[id], nil
}

func (f *fakeDocStore) GetLiveByIDs(_ dbctx.Context, _ uuid.UUID, _ []uuid.UUID) ([]*types.Document, error) {
	return nil, nil
}

func (f *fakeDocStore) ListBySummaryNotes(_ dbctx.Context, _ uuid.UUID, _ []uuid.UUID) ([]*types.Document, error) {
	return nil, nil
}

func (f *fakeDocStore) List(_ dbctx.Context, _ uuid.UUID, _ bool) ([]*types.Document, error) {
	return nil, nil
}

func (f *fakeDocStore) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	doc := f.docs[id]
	if doc == nil {
		return nil
	}
	for k, v := range updates {
		switch k {
		case "title":
			doc.Title = v.(string)
		case "extracted_text":
			doc.ExtractedText = v.(string)
		case "page_count":
			doc.PageCount = v.(int)
		case "ai_summary":
			doc.AISummary = v.(string)
		case "suggested_tags":
			doc.SuggestedTags = v.(datatypes.JSON)
		case "suggested_wikilinks":
			doc.SuggestedWikilinks = v.(datatypes.JSON)
		case "ai_analysis_status":
			doc.AIAnalysisStatus = v.(string)
		case "ai_analysis_error":
			doc.AIAnalysisError = v.(string)
		case "summary_note_id":
			if nid, ok := v.(uuid.UUID); ok {
				doc.SummaryNoteID = &nid
			}
		}
	}
	return nil
}

func (f *fakeDocStore) UpdateEmbedding(_ dbctx.Context, id uuid.UUID, embedding *pgvector.Vector) error {
	f.embeddings[id] = embedding
	return nil
}

func (f *fakeDocStore) ResetStuckAnalyses(_ dbctx.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

var _ repos.DocumentRepo = (*fakeDocStore)(nil)

type fakeDocChunks struct {
	documentID uuid.UUID
	chunks     []*types.DocumentChunk
}

func (f *fakeDocChunks) ReplaceForDocument(_ dbctx.Context, documentID uuid.UUID, chunks []*types.DocumentChunk) error {
	f.documentID = documentID
	f.chunks = chunks
	return nil
}

func (f *fakeDocChunks) GetByDocumentID(_ dbctx.Context, _ uuid.UUID) ([]*types.DocumentChunk, error) {
	return nil, nil
}

func (f *fakeDocChunks) GetByIDs(_ dbctx.Context, _ []uuid.UUID) ([]*types.DocumentChunk, error) {
	return nil, nil
}

func (f *fakeDocChunks) UpdateEmbedding(_ dbctx.Context, _ uuid.UUID, _ *pgvector.Vector) error {
	return nil
}

func (f *fakeDocChunks) DeleteForDocument(_ dbctx.Context, _ uuid.UUID) error { return nil }

var _ repos.DocumentChunkRepo = (*fakeDocChunks)(nil)

type fakeImageStore struct {
	images     map[uuid.UUID]*types.Image
	embeddings map[uuid.UUID]*pgvector.Vector
}

func newFakeImageStore(images ...*types.Image) *fakeImageStore {
	f := &fakeImageStore{
		images:     map[uuid.UUID]*types.Image{},
		embeddings: map[uuid.UUID]*pgvector.Vector{},
	}
	for _, img := range images {
		f.images[img.ID] = img
	}
	return f
}

func (f *fakeImageStore) Create(_ dbctx.Context, img *types.Image) (*types.Image, error) {
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	f.images[img.ID] = img
	return img, nil
}

func (f *fakeImageStore) GetByID(_ dbctx.Context, _, id uuid.UUID) (*types.Image, error) {
	return f.images[id], nil
}

func (f *fakeImageStore) GetLiveByIDs(_ dbctx.Context, _ uuid.UUID, _ []uuid.UUID) ([]*types.Image, error) {
	return nil, nil
}

func (f *fakeImageStore) ListBySummaryNotes(_ dbctx.Context, _ uuid.UUID, _ []uuid.UUID) ([]*types.Image, error) {
	return nil, nil
}

func (f *fakeImageStore) List(_ dbctx.Context, _ uuid.UUID, _ bool) ([]*types.Image, error) {
	return nil, nil
}

func (f *fakeImageStore) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	img := f.images[id]
	if img == nil {
		return nil
	}
	for k, v := range updates {
		switch k {
		case "title":
			img.Title = v.(string)
		case "ai_analysis_result":
			img.AIAnalysisResult = v.(datatypes.JSON)
		case "ai_analysis_status":
			img.AIAnalysisStatus = v.(string)
		case "ai_analysis_error":
			img.AIAnalysisError = v.(string)
		case "summary_note_id":
			if nid, ok := v.(uuid.UUID); ok {
				img.SummaryNoteID = &nid
			}
		}
	}
	return nil
}

func (f *fakeImageStore) UpdateEmbedding(_ dbctx.Context, id uuid.UUID, embedding *pgvector.Vector) error {
	f.embeddings[id] = embedding
	return nil
}

func (f *fakeImageStore) ResetStuckAnalyses(_ dbctx.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

var _ repos.ImageRepo = (*fakeImageStore)(nil)

type fakeImageChunks struct {
	imageID uuid.UUID
	chunks  []*types.ImageChunk
}

func (f *fakeImageChunks) ReplaceForImage(_ dbctx.Context, imageID uuid.UUID, chunks []*types.ImageChunk) error {
	f.imageID = imageID
	f.chunks = chunks
	return nil
}

func (f *fakeImageChunks) GetByImageID(_ dbctx.Context, _ uuid.UUID) ([]*types.ImageChunk, error) {
	return nil, nil
}

func (f *fakeImageChunks) GetByIDs(_ dbctx.Context, _ []uuid.UUID) ([]*types.ImageChunk, error) {
	return nil, nil
}

func (f *fakeImageChunks) UpdateEmbedding(_ dbctx.Context, _ uuid.UUID, _ *pgvector.Vector) error {
	return nil
}

func (f *fakeImageChunks) DeleteForImage(_ dbctx.Context, _ uuid.UUID) error { return nil }

var _ repos.ImageChunkRepo = (*fakeImageChunks)(nil)

// fakeEmbedder returns small fixed vectors and records what it was asked to
// embed.
type fakeEmbedder struct {
	err       error
	lastText  string
	batchSize int
	calls     int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	f.lastText = text
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 2, 3}, nil
}

func (f *fakeEmbedder) BatchEmbed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.batchSize = len(texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1, 0}
	}
	return out, nil
}

type fakeConvStore struct {
	conv *types.Conversation
	msgs []*types.ChatMessage
}

func (f *fakeConvStore) Create(_ dbctx.Context, conv *types.Conversation) (*types.Conversation, error) {
	return conv, nil
}

func (f *fakeConvStore) GetByID(_ dbctx.Context, _, id uuid.UUID) (*types.Conversation, error) {
	if f.conv != nil && f.conv.ID == id {
		return f.conv, nil
	}
	return nil, nil
}

func (f *fakeConvStore) ListByOwner(_ dbctx.Context, _ uuid.UUID, _ int) ([]*types.Conversation, error) {
	return nil, nil
}

func (f *fakeConvStore) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if f.conv != nil && f.conv.ID == id {
		if v, ok := updates["title"].(string); ok {
			f.conv.Title = v
		}
	}
	return nil
}

func (f *fakeConvStore) CreateMessage(_ dbctx.Context, msg *types.ChatMessage) (*types.ChatMessage, error) {
	return msg, nil
}

func (f *fakeConvStore) UpdateMessageFields(_ dbctx.Context, _ uuid.UUID, _ map[string]interface{}) error {
	return nil
}

func (f *fakeConvStore) ListMessages(_ dbctx.Context, _ uuid.UUID, limit int) ([]*types.ChatMessage, error) {
	if limit > 0 && len(f.msgs) > limit {
		return f.msgs[len(f.msgs)-limit:], nil
	}
	return f.msgs, nil
}

func (f *fakeConvStore) CountMessages(_ dbctx.Context, _ uuid.UUID) (int64, error) {
	return int64(len(f.msgs)), nil
}

var _ repos.ConversationRepo = (*fakeConvStore)(nil)

type fakeBrainConvStore struct {
	conv *types.BrainConversation
	msgs []*types.BrainMessage
}

func (f *fakeBrainConvStore) Create(_ dbctx.Context, conv *types.BrainConversation) (*types.BrainConversation, error) {
	return conv, nil
}

func (f *fakeBrainConvStore) GetByID(_ dbctx.Context, _, id uuid.UUID) (*types.BrainConversation, error) {
	if f.conv != nil && f.conv.ID == id {
		return f.conv, nil
	}
	return nil, nil
}

func (f *fakeBrainConvStore) ListByOwner(_ dbctx.Context, _ uuid.UUID, _ int) ([]*types.BrainConversation, error) {
	return nil, nil
}

func (f *fakeBrainConvStore) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if f.conv == nil || f.conv.ID != id {
		return nil
	}
	if v, ok := updates["title"].(string); ok {
		f.conv.Title = v
	}
	if v, ok := updates["summary"].(string); ok {
		f.conv.Summary = v
	}
	if v, ok := updates["messages_since_summary"].(int); ok {
		f.conv.MessagesSinceSummary = v
	}
	return nil
}

func (f *fakeBrainConvStore) ListDueForSummary(_ dbctx.Context, _ int) ([]*types.BrainConversation, error) {
	return nil, nil
}

func (f *fakeBrainConvStore) CreateMessage(_ dbctx.Context, msg *types.BrainMessage) (*types.BrainMessage, error) {
	return msg, nil
}

func (f *fakeBrainConvStore) UpdateMessageFields(_ dbctx.Context, _ uuid.UUID, _ map[string]interface{}) error {
	return nil
}

func (f *fakeBrainConvStore) ListMessages(_ dbctx.Context, _ uuid.UUID, limit int) ([]*types.BrainMessage, error) {
	if limit > 0 && len(f.msgs) > limit {
		return f.msgs[len(f.msgs)-limit:], nil
	}
	return f.msgs, nil
}

var _ repos.BrainConversationRepo = (*fakeBrainConvStore)(nil)

// chatStub fakes the local model server's chat endpoint. Successive calls
// get successive canned contents; the last one repeats.
type chatStub struct {
	srv      *httptest.Server
	mu       sync.Mutex
	bodies   []string
	contents []string
}

func newChatStub(t *testing.T, contents ...string) *chatStub {
	t.Helper()
	s := &chatStub{contents: contents}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		i := len(s.bodies)
		s.bodies = append(s.bodies, string(raw))
		s.mu.Unlock()
		if i >= len(s.contents) {
			i = len(s.contents) - 1
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "test-model",
			"message": map[string]any{"role": "assistant", "content": s.contents[i]},
			"done":    true,
		})
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *chatStub) registry() *llm.Registry {
	return llm.NewRegistry(llm.RegistryOptions{
		LocalBaseURL:     s.srv.URL,
		FailureThreshold: 10,
		RecoveryTimeout:  time.Second,
	}, nil, nil, logger.NewNop())
}

func (s *chatStub) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

func (s *chatStub) body(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.bodies) {
		return ""
	}
	return s.bodies[i]
}

func newTask(taskType string, payload map[string]any) *types.BackgroundTask {
	var raw datatypes.JSON
	if payload != nil {
		b, _ := json.Marshal(payload)
		raw = datatypes.JSON(b)
	}
	return &types.BackgroundTask{
		ID:       uuid.New(),
		OwnerID:  uuid.New(),
		TaskType: taskType,
		Status:   types.TaskProcessing,
		Payload:  raw,
	}
}

func newTestContext(task *types.BackgroundTask, store *fakeTaskStore) *tasks.Context {
	return tasks.NewContext(context.Background(), task, store, nil)
}

func testOptions() Options {
	return Options{Model: "test-model", VisionModel: "test-vision", Temperature: 0.2}
}
