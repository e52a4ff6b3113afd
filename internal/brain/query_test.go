package brain

import (
	"testing"

	"gorm.io/datatypes"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

func TestSplitFiles(t *testing.T) {
	files := []*types.BrainFile{
		{FileKey: types.BrainFileAskimap, FileType: types.BrainFileAskimap},
		{FileKey: types.BrainFileMemory, FileType: types.BrainFileMemory},
		{FileKey: types.BrainFileMnemosyne, FileType: types.BrainFileMnemosyne},
		{FileKey: types.BrainFileSoul, FileType: types.BrainFileSoul},
		{FileKey: types.BrainFileUserProfile, FileType: types.BrainFileUserProfile},
		{FileKey: "topic_001", FileType: types.BrainFileTopic},
	}
	core, topics := splitFiles(files)

	if core.soul == nil || core.memory == nil || core.mnemosyne == nil {
		t.Fatalf("core files missing: %+v", core)
	}
	if len(topics) != 1 || topics[0].FileKey != "topic_001" {
		t.Fatalf("topics = %v", topics)
	}
}

func TestCoreSetOrdered(t *testing.T) {
	core := coreSet{
		soul:      &types.BrainFile{FileKey: types.BrainFileSoul, Content: "identity"},
		memory:    &types.BrainFile{FileKey: types.BrainFileMemory, Content: "   "},
		mnemosyne: &types.BrainFile{FileKey: types.BrainFileMnemosyne, Content: "map"},
	}
	got := core.ordered()
	if len(got) != 2 {
		t.Fatalf("blank memory should drop out, got %d files", len(got))
	}
	if got[0].FileKey != types.BrainFileSoul || got[1].FileKey != types.BrainFileMnemosyne {
		t.Fatalf("order = %s, %s", got[0].FileKey, got[1].FileKey)
	}
}

func TestPreviouslyMatchedTopics(t *testing.T) {
	history := []*types.BrainMessage{
		{Role: types.RoleUser, Content: "q1"},
		{Role: types.RoleAssistant, TopicsMatched: datatypes.JSON(`["topic_001","topic_002"]`)},
	}
	got := previouslyMatchedTopics(history)
	if !got["topic_001"] || !got["topic_002"] || len(got) != 2 {
		t.Fatalf("previouslyMatchedTopics = %v", got)
	}
}

func TestPreviouslyMatchedTopicsOnlyLastTurn(t *testing.T) {
	history := []*types.BrainMessage{
		{Role: types.RoleAssistant, TopicsMatched: datatypes.JSON(`["topic_001"]`)},
		{Role: types.RoleUser, Content: "q2"},
		{Role: types.RoleAssistant, TopicsMatched: datatypes.JSON(`[]`)},
	}
	if got := previouslyMatchedTopics(history); len(got) != 0 {
		t.Fatalf("only the last assistant turn counts, got %v", got)
	}
	if got := previouslyMatchedTopics(nil); len(got) != 0 {
		t.Fatalf("empty history should yield nothing, got %v", got)
	}
}

func TestBuildChatMessages(t *testing.T) {
	history := []*types.BrainMessage{
		{Role: types.RoleUser, Content: "earlier question", Status: types.MessageStatusComplete},
		{Role: types.RoleAssistant, Content: "earlier answer", Status: types.MessageStatusComplete},
		{Role: types.RoleAssistant, Content: "half an answ", Status: types.MessageStatusPartial},
		{Role: "system", Content: "sneaky", Status: types.MessageStatusComplete},
	}
	got := buildChatMessages("SYSTEM", history, "new question")

	if len(got) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(got))
	}
	if got[0].Role != types.RoleSystem || got[0].Content != "SYSTEM" {
		t.Fatalf("system prompt first, got %+v", got[0])
	}
	if got[1].Content != "earlier question" || got[2].Content != "earlier answer" {
		t.Fatalf("history order wrong: %+v", got[1:3])
	}
	if got[3].Role != types.RoleUser || got[3].Content != "new question" {
		t.Fatalf("query last, got %+v", got[3])
	}
}
