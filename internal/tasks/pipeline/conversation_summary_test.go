package pipeline

import (
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

func summaryHandler(stub *chatStub, convos *fakeConvStore, brainConvos *fakeBrainConvStore) *ConversationSummary {
	return NewConversationSummary(convos, brainConvos, stub.registry(), testOptions(), logger.NewNop())
}

func chatMsgs(conv uuid.UUID, contents ...string) []*types.ChatMessage {
	out := make([]*types.ChatMessage, len(contents))
	for i, c := range contents {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		out[i] = &types.ChatMessage{
			ID: uuid.New(), ConversationID: conv,
			Role: role, Content: c, Status: types.MessageStatusComplete,
		}
	}
	return out
}

func brainMsgs(conv uuid.UUID, contents ...string) []*types.BrainMessage {
	out := make([]*types.BrainMessage, len(contents))
	for i, c := range contents {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		out[i] = &types.BrainMessage{
			ID: uuid.New(), ConversationID: conv,
			Role: role, Content: c, Status: types.MessageStatusComplete,
		}
	}
	return out
}

// Queue rows from the chat service carry the conversation on the entity
// columns with no payload; the handler must pick it up from there.
func TestConversationSummaryNexusTitlesConversation(t *testing.T) {
	conv := &types.Conversation{ID: uuid.New(), OwnerID: uuid.New()}
	convos := &fakeConvStore{conv: conv, msgs: chatMsgs(conv.ID, "how do bridges work?", "A bridge forwards frames between interfaces.")}
	stub := newChatStub(t, "Linux Bridge Basics")
	p := summaryHandler(stub, convos, &fakeBrainConvStore{})

	task := newTask(types.TaskConversationSummary, nil)
	task.OwnerID = conv.OwnerID
	task.EntityType = "conversation"
	id := conv.ID
	task.EntityID = &id

	if err := p.Run(newTestContext(task, &fakeTaskStore{})); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if task.Status != types.TaskCompleted {
		t.Fatalf("status = %q (error: %s)", task.Status, task.Error)
	}
	if conv.Title != "Linux Bridge Basics" {
		t.Fatalf("title = %q", conv.Title)
	}
	if stub.calls() != 1 {
		t.Fatalf("model calls = %d, want 1", stub.calls())
	}
}

func TestConversationSummaryNexusSkipsShortConversations(t *testing.T) {
	conv := &types.Conversation{ID: uuid.New(), OwnerID: uuid.New()}
	msgs := chatMsgs(conv.ID, "hello?", "")
	msgs[1].Status = types.MessageStatusPartial
	convos := &fakeConvStore{conv: conv, msgs: msgs}
	stub := newChatStub(t, "unused")
	p := summaryHandler(stub, convos, &fakeBrainConvStore{})

	task := newTask(types.TaskConversationSummary, map[string]any{"conversation_id": conv.ID.String()})
	task.OwnerID = conv.OwnerID
	task.EntityType = "conversation"

	if err := p.Run(newTestContext(task, &fakeTaskStore{})); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(string(task.Result), "not enough messages") {
		t.Fatalf("result = %s", task.Result)
	}
	if conv.Title != "" || stub.calls() != 0 {
		t.Fatalf("a one-message conversation must stay untitled")
	}
}

func TestConversationSummaryBrainTitlesFirstExchange(t *testing.T) {
	conv := &types.BrainConversation{ID: uuid.New(), OwnerID: uuid.New(), MessagesSinceSummary: 1}
	brainConvos := &fakeBrainConvStore{
		conv: conv,
		msgs: brainMsgs(conv.ID, "what did I decide about caching?", "You chose a two-tier cache."),
	}
	stub := newChatStub(t, "Caching Decisions Recap")
	p := summaryHandler(stub, &fakeConvStore{}, brainConvos)

	task := newTask(types.TaskConversationSummary, map[string]any{"conversation_id": conv.ID.String()})
	task.OwnerID = conv.OwnerID
	task.EntityType = "brain_conversation"

	if err := p.Run(newTestContext(task, &fakeTaskStore{})); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if conv.Title != "Caching Decisions Recap" {
		t.Fatalf("title = %q", conv.Title)
	}
	if !strings.Contains(string(task.Result), `"summarized":false`) {
		t.Fatalf("two messages leave nothing to summarize, result = %s", task.Result)
	}
	if conv.MessagesSinceSummary != 1 {
		t.Fatalf("counter must not reset without a summary, got %d", conv.MessagesSinceSummary)
	}
	if stub.calls() != 1 {
		t.Fatalf("model calls = %d, want the title pass only", stub.calls())
	}
}

func TestConversationSummaryBrainMergesSummary(t *testing.T) {
	conv := &types.BrainConversation{
		ID: uuid.New(), OwnerID: uuid.New(),
		Title: "Existing", Summary: "Old summary", MessagesSinceSummary: 10,
	}
	contents := make([]string, 10)
	for i := range contents {
		contents[i] = "msg-" + strconv.Itoa(i+1)
	}
	brainConvos := &fakeBrainConvStore{conv: conv, msgs: brainMsgs(conv.ID, contents...)}
	stub := newChatStub(t, "Merged running summary.")
	p := summaryHandler(stub, &fakeConvStore{}, brainConvos)

	task := newTask(types.TaskConversationSummary, map[string]any{"conversation_id": conv.ID.String()})
	task.OwnerID = conv.OwnerID
	task.EntityType = "brain_conversation"

	if err := p.Run(newTestContext(task, &fakeTaskStore{})); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if conv.Summary != "Merged running summary." {
		t.Fatalf("summary = %q", conv.Summary)
	}
	if conv.MessagesSinceSummary != 0 {
		t.Fatalf("counter = %d, want reset to 0", conv.MessagesSinceSummary)
	}
	if conv.Title != "Existing" {
		t.Fatalf("an established title must not be rewritten, got %q", conv.Title)
	}
	if stub.calls() != 1 {
		t.Fatalf("model calls = %d, want the summary pass only", stub.calls())
	}
	body := stub.body(0)
	if !strings.Contains(body, "Old summary") || !strings.Contains(body, "msg-4") {
		t.Fatalf("summary prompt must carry the previous summary and older messages, got %s", body)
	}
	if strings.Contains(body, "msg-9") {
		t.Fatalf("recent messages stay out of the merge, got %s", body)
	}
	if !strings.Contains(string(task.Result), `"summarized":true`) {
		t.Fatalf("result = %s", task.Result)
	}
}

func TestConversationSummaryUnknownEntityFailsPermanently(t *testing.T) {
	stub := newChatStub(t, "unused")
	p := summaryHandler(stub, &fakeConvStore{}, &fakeBrainConvStore{})

	task := newTask(types.TaskConversationSummary, map[string]any{"conversation_id": uuid.New().String()})
	task.EntityType = "note"

	if err := p.Run(newTestContext(task, &fakeTaskStore{})); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if task.Status != types.TaskFailed || task.Stage != "validate" || task.Retryable {
		t.Fatalf("want a permanent validation failure, got %q %q retryable=%v",
			task.Status, task.Stage, task.Retryable)
	}
}

func TestConversationSummaryFailsWithoutConversationID(t *testing.T) {
	stub := newChatStub(t, "unused")
	p := summaryHandler(stub, &fakeConvStore{}, &fakeBrainConvStore{})

	task := newTask(types.TaskConversationSummary, nil)
	task.EntityType = "conversation"

	if err := p.Run(newTestContext(task, &fakeTaskStore{})); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if task.Status != types.TaskFailed || task.Stage != "validate" {
		t.Fatalf("want a validation failure, got %q %q", task.Status, task.Stage)
	}
}
