package brain

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

func TestBestTopicFor(t *testing.T) {
	note := &types.Note{
		ID:      uuid.New(),
		Title:   "Docker Networking",
		Content: "Notes on docker and kubernetes bridge networks",
	}
	infra := kwTopic("topic_001", `["docker","kubernetes"]`, 10)
	music := kwTopic("topic_002", `["jazz","piano"]`, 10)

	best, score := bestTopicFor(note, []*types.BrainFile{infra, music})
	if best != infra {
		t.Fatalf("expected infra topic, got %v", best)
	}
	if score != 1.0 {
		t.Fatalf("overlap = %v, want 1.0", score)
	}

	stranger := &types.Note{ID: uuid.New(), Title: "Sourdough", Content: "Bread hydration ratios"}
	if got, s := bestTopicFor(stranger, []*types.BrainFile{infra, music}); got != nil || s != 0 {
		t.Fatalf("unrelated note should match nothing, got %v (%v)", got, s)
	}
}

func TestBestTopicForPartialOverlap(t *testing.T) {
	note := &types.Note{ID: uuid.New(), Title: "Docker", Content: "Container startup"}
	topic := kwTopic("topic_001", `["docker","kubernetes","helm","terraform"]`, 10)

	_, score := bestTopicFor(note, []*types.BrainFile{topic})
	if score != 0.25 {
		t.Fatalf("overlap = %v, want 0.25", score)
	}
	if score >= microTopicOverlap {
		t.Fatalf("a quarter overlap should stay below the absorption floor")
	}
}

func TestTopicsContaining(t *testing.T) {
	id1 := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	id2 := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	holder := kwTopic("topic_001", `[]`, 10)
	holder.SourceNoteIDs = datatypes.JSON(fmt.Sprintf(`["%s","%s"]`, id1, id2))
	other := kwTopic("topic_002", `[]`, 10)
	other.SourceNoteIDs = datatypes.JSON(fmt.Sprintf(`["%s"]`, id2))

	got := topicsContaining([]*types.BrainFile{holder, other}, id1)
	if len(got) != 1 || got[0] != holder {
		t.Fatalf("topicsContaining = %v", got)
	}
	if both := topicsContaining([]*types.BrainFile{holder, other}, id2); len(both) != 2 {
		t.Fatalf("note in two topics should return both, got %d", len(both))
	}
}

func TestAddSourceNote(t *testing.T) {
	id1 := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	id2 := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	topic := kwTopic("topic_001", `[]`, 10)
	topic.SourceNoteIDs = datatypes.JSON(fmt.Sprintf(`["%s"]`, id1))

	addSourceNote(topic, id2)
	if ids := decodeNoteIDs(topic.SourceNoteIDs); len(ids) != 2 || ids[1] != id2 {
		t.Fatalf("after add: %v", ids)
	}

	addSourceNote(topic, id2)
	if ids := decodeNoteIDs(topic.SourceNoteIDs); len(ids) != 2 {
		t.Fatalf("adding an existing note must not duplicate it: %v", ids)
	}
}

func TestRemoveSourceNote(t *testing.T) {
	id1 := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	id2 := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	topic := kwTopic("topic_001", `[]`, 10)
	topic.SourceNoteIDs = datatypes.JSON(fmt.Sprintf(`["%s","%s"]`, id1, id2))

	removeSourceNote(topic, id1)
	ids := decodeNoteIDs(topic.SourceNoteIDs)
	if len(ids) != 1 || ids[0] != id2 {
		t.Fatalf("after remove: %v", ids)
	}

	removeSourceNote(topic, id2)
	if ids := decodeNoteIDs(topic.SourceNoteIDs); len(ids) != 0 {
		t.Fatalf("emptied topic should decode to no ids: %v", ids)
	}
	if string(topic.SourceNoteIDs) != "[]" {
		t.Fatalf("emptied list must stay a JSON array, got %s", topic.SourceNoteIDs)
	}
}

func TestDecodeNoteIDs(t *testing.T) {
	if got := decodeNoteIDs(nil); got != nil {
		t.Fatalf("nil raw should decode to nil, got %v", got)
	}
	if got := decodeNoteIDs(datatypes.JSON(`not json`)); got != nil {
		t.Fatalf("garbage should decode to nil, got %v", got)
	}
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	got := decodeNoteIDs(datatypes.JSON(fmt.Sprintf(`["%s"]`, id)))
	if len(got) != 1 || got[0] != id {
		t.Fatalf("decodeNoteIDs = %v", got)
	}
}
