package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/tasks"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// fakeUsers keeps users in memory keyed by email.
type fakeUsers struct {
	byEmail map[string]*types.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byEmail: map[string]*types.User{}}
}

func (f *fakeUsers) Create(_ dbctx.Context, user *types.User) (*types.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	f.byEmail[user.Email] = user
	return user, nil
}

func (f *fakeUsers) GetByEmail(_ dbctx.Context, email string) (*types.User, error) {
	return f.byEmail[email], nil
}

var _ repos.UserRepo = (*fakeUsers)(nil)

// fakeTaskQueue records created rows and answers the dedup probe from them.
type fakeTaskQueue struct {
	created []*types.BackgroundTask
	rows    map[uuid.UUID]*types.BackgroundTask
	dupErr  error
}

func newFakeTaskQueue() *fakeTaskQueue {
	return &fakeTaskQueue{rows: map[uuid.UUID]*types.BackgroundTask{}}
}

func (f *fakeTaskQueue) Create(_ dbctx.Context, rows []*types.BackgroundTask) ([]*types.BackgroundTask, error) {
	for _, t := range rows {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		f.created = append(f.created, t)
		f.rows[t.ID] = t
	}
	return rows, nil
}

func (f *fakeTaskQueue) GetByIDForOwner(_ dbctx.Context, ownerID, id uuid.UUID) (*types.BackgroundTask, error) {
	t := f.rows[id]
	if t == nil || t.OwnerID != ownerID {
		return nil, nil
	}
	return t, nil
}

func (f *fakeTaskQueue) ClaimNextRunnable(_ dbctx.Context, _ int, _, _ time.Duration) (*types.BackgroundTask, error) {
	return nil, nil
}

func (f *fakeTaskQueue) UpdateFieldsUnlessStatus(_ dbctx.Context, _ uuid.UUID, _ []string, _ map[string]interface{}) (bool, error) {
	return true, nil
}

func (f *fakeTaskQueue) Heartbeat(_ dbctx.Context, _ uuid.UUID) error { return nil }

func (f *fakeTaskQueue) HasRunnableForEntity(_ dbctx.Context, ownerID uuid.UUID, taskType string, entityID uuid.UUID) (bool, error) {
	if f.dupErr != nil {
		return false, f.dupErr
	}
	for _, t := range f.created {
		if t.OwnerID == ownerID && t.TaskType == taskType && t.EntityID != nil && *t.EntityID == entityID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTaskQueue) ResetStuckProcessing(_ dbctx.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

var _ repos.BackgroundTaskRepo = (*fakeTaskQueue)(nil)

// recordingNotifier captures which lifecycle events fired.
type recordingNotifier struct {
	created  []*types.BackgroundTask
	progress int
	failed   int
	done     int
}

func (n *recordingNotifier) TaskCreated(_ uuid.UUID, task *types.BackgroundTask) {
	n.created = append(n.created, task)
}

func (n *recordingNotifier) TaskProgress(uuid.UUID, *types.BackgroundTask, string, int) {
	n.progress++
}

func (n *recordingNotifier) TaskFailed(uuid.UUID, *types.BackgroundTask, string, string) {
	n.failed++
}

func (n *recordingNotifier) TaskDone(uuid.UUID, *types.BackgroundTask) { n.done++ }

var _ tasks.Notifier = (*recordingNotifier)(nil)

// enqueueCall is one recorded Enqueue on the fake intake.
type enqueueCall struct {
	ownerID    uuid.UUID
	taskType   string
	entityType string
	entityID   *uuid.UUID
	payload    map[string]any
}

// fakeIntake satisfies TaskService for services that enqueue follow-up work.
type fakeIntake struct {
	calls []enqueueCall
	err   error
}

func (f *fakeIntake) Enqueue(_ context.Context, ownerID uuid.UUID, taskType, entityType string, entityID *uuid.UUID, payload map[string]any) (*types.BackgroundTask, error) {
	f.calls = append(f.calls, enqueueCall{ownerID, taskType, entityType, entityID, payload})
	if f.err != nil {
		return nil, f.err
	}
	return &types.BackgroundTask{ID: uuid.New(), OwnerID: ownerID, TaskType: taskType}, nil
}

func (f *fakeIntake) Get(_ context.Context, _, _ uuid.UUID) (*types.BackgroundTask, error) {
	return nil, nil
}

func (f *fakeIntake) ofType(taskType string) []enqueueCall {
	var out []enqueueCall
	for _, c := range f.calls {
		if c.taskType == taskType {
			out = append(out, c)
		}
	}
	return out
}

var _ TaskService = (*fakeIntake)(nil)

// fakeNoteDir serves titles for wikilink resolution and notes by id.
type fakeNoteDir struct {
	titles      []repos.NoteTitle
	notes       map[uuid.UUID]*types.Note
	updateCalls int
}

func newFakeNoteDir(notes ...*types.Note) *fakeNoteDir {
	f := &fakeNoteDir{notes: map[uuid.UUID]*types.Note{}}
	for _, n := range notes {
		f.notes[n.ID] = n
		f.titles = append(f.titles, repos.NoteTitle{ID: n.ID, Title: n.Title, Slug: n.Slug})
	}
	return f
}

func (f *fakeNoteDir) Create(_ dbctx.Context, note *types.Note) (*types.Note, error) {
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}
	f.notes[note.ID] = note
	f.titles = append(f.titles, repos.NoteTitle{ID: note.ID, Title: note.Title, Slug: note.Slug})
	return note, nil
}

func (f *fakeNoteDir) GetByID(_ dbctx.Context, ownerID, id uuid.UUID) (*types.Note, error) {
	n := f.notes[id]
	if n == nil || (n.OwnerID != uuid.Nil && n.OwnerID != ownerID) {
		return nil, nil
	}
	return n, nil
}

func (f *fakeNoteDir) GetLiveByIDs(_ dbctx.Context, _ uuid.UUID, _ []uuid.UUID) ([]*types.Note, error) {
	return nil, nil
}

func (f *fakeNoteDir) List(_ dbctx.Context, _ uuid.UUID, _ bool) ([]*types.Note, error) {
	return nil, nil
}

func (f *fakeNoteDir) ListLive(_ dbctx.Context, _ uuid.UUID) ([]*types.Note, error) {
	return nil, nil
}

func (f *fakeNoteDir) ListTitles(_ dbctx.Context, _ uuid.UUID) ([]repos.NoteTitle, error) {
	return f.titles, nil
}

func (f *fakeNoteDir) ListGraphCandidates(_ dbctx.Context, _ uuid.UUID, _ int) ([]repos.GraphCandidate, error) {
	return nil, nil
}

func (f *fakeNoteDir) CountLive(_ dbctx.Context, _ uuid.UUID) (int64, error) {
	return int64(len(f.notes)), nil
}

func (f *fakeNoteDir) SlugExists(_ dbctx.Context, _ uuid.UUID, slug string) (bool, error) {
	for _, n := range f.notes {
		if n.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeNoteDir) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.updateCalls++
	n := f.notes[id]
	if n == nil {
		return nil
	}
	if v, ok := updates["is_favorite"].(bool); ok {
		n.IsFavorite = v
	}
	if v, ok := updates["is_trashed"].(bool); ok {
		n.IsTrashed = v
	}
	return nil
}

func (f *fakeNoteDir) UpdateEmbedding(_ dbctx.Context, _ uuid.UUID, _ *pgvector.Vector) error {
	return nil
}

func (f *fakeNoteDir) AssignCommunity(_ dbctx.Context, _ uuid.UUID, _ int, _ []uuid.UUID) error {
	return nil
}

func (f *fakeNoteDir) ClearCommunities(_ dbctx.Context, _ uuid.UUID) error { return nil }

var _ repos.NoteRepo = (*fakeNoteDir)(nil)

// fakeLinkSet records ReplaceForSource calls.
type fakeLinkSet struct {
	sourceID  uuid.UUID
	targetIDs []uuid.UUID
	replaced  int
	deleted   int
}

func (f *fakeLinkSet) Create(_ dbctx.Context, _ *types.NoteLink) error { return nil }

func (f *fakeLinkSet) ReplaceForSource(_ dbctx.Context, _, sourceID uuid.UUID, targetIDs []uuid.UUID) error {
	f.sourceID = sourceID
	f.targetIDs = targetIDs
	f.replaced++
	return nil
}

func (f *fakeLinkSet) ListLiveByOwner(_ dbctx.Context, _ uuid.UUID) ([]*types.NoteLink, error) {
	return nil, nil
}

func (f *fakeLinkSet) ListBySources(_ dbctx.Context, _ uuid.UUID, _ []uuid.UUID) ([]*types.NoteLink, error) {
	return nil, nil
}

func (f *fakeLinkSet) ListTouching(_ dbctx.Context, _ uuid.UUID, _ []uuid.UUID) ([]*types.NoteLink, error) {
	return nil, nil
}

func (f *fakeLinkSet) ListBacklinks(_ dbctx.Context, _, _ uuid.UUID) ([]*types.NoteLink, error) {
	return nil, nil
}

func (f *fakeLinkSet) DeleteForNote(_ dbctx.Context, _, _ uuid.UUID) error {
	f.deleted++
	return nil
}

var _ repos.NoteLinkRepo = (*fakeLinkSet)(nil)

// fakeConvoStore serves one conversation with a fixed message history.
type fakeConvoStore struct {
	conv *types.Conversation
	msgs []*types.ChatMessage
}

func (f *fakeConvoStore) Create(_ dbctx.Context, conv *types.Conversation) (*types.Conversation, error) {
	return conv, nil
}

func (f *fakeConvoStore) GetByID(_ dbctx.Context, ownerID, id uuid.UUID) (*types.Conversation, error) {
	if f.conv == nil || f.conv.ID != id || f.conv.OwnerID != ownerID {
		return nil, nil
	}
	return f.conv, nil
}

func (f *fakeConvoStore) ListByOwner(_ dbctx.Context, ownerID uuid.UUID, _ int) ([]*types.Conversation, error) {
	if f.conv == nil || f.conv.OwnerID != ownerID {
		return nil, nil
	}
	return []*types.Conversation{f.conv}, nil
}

func (f *fakeConvoStore) UpdateFields(_ dbctx.Context, _ uuid.UUID, _ map[string]interface{}) error {
	return nil
}

func (f *fakeConvoStore) CreateMessage(_ dbctx.Context, msg *types.ChatMessage) (*types.ChatMessage, error) {
	return msg, nil
}

func (f *fakeConvoStore) UpdateMessageFields(_ dbctx.Context, _ uuid.UUID, _ map[string]interface{}) error {
	return nil
}

func (f *fakeConvoStore) ListMessages(_ dbctx.Context, _ uuid.UUID, _ int) ([]*types.ChatMessage, error) {
	return f.msgs, nil
}

func (f *fakeConvoStore) CountMessages(_ dbctx.Context, _ uuid.UUID) (int64, error) {
	return int64(len(f.msgs)), nil
}

var _ repos.ConversationRepo = (*fakeConvoStore)(nil)

// fakeCitationStore keys stored citations by message.
type fakeCitationStore struct {
	byMessage map[uuid.UUID][]*types.NexusCitation
}

func (f *fakeCitationStore) CreateBatch(_ dbctx.Context, citations []*types.NexusCitation) error {
	if f.byMessage == nil {
		f.byMessage = map[uuid.UUID][]*types.NexusCitation{}
	}
	for _, c := range citations {
		f.byMessage[c.MessageID] = append(f.byMessage[c.MessageID], c)
	}
	return nil
}

func (f *fakeCitationStore) ListByMessage(_ dbctx.Context, messageID uuid.UUID) ([]*types.NexusCitation, error) {
	return f.byMessage[messageID], nil
}

func (f *fakeCitationStore) CreateMessageCitations(_ dbctx.Context, _ []*types.MessageCitation) error {
	return nil
}

var _ repos.CitationRepo = (*fakeCitationStore)(nil)
