package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/llm"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

const (
	// memoryMaxChars caps the memory file; past it the oldest dated sections
	// are archived away.
	memoryMaxChars     = 16000
	memoryKeepSections = 10
	maxMemoryItems     = 8
	memoryExcerptChars = 6000
	answerExcerptChars = 4000
)

const memoryScanSystem = `You maintain the owner's long-term memory file. Compare the latest exchange against the memory and extract only NEW durable facts or preferences about the owner: profile facts, preferences, ongoing projects, people, decisions. Ignore one-off questions and anything the memory already records.

Reply with JSON only:
{"items": ["fact one", "fact two"]}

Reply {"items": []} when the exchange adds nothing durable.`

const defaultMemoryPreamble = `# Memory

Durable facts and preferences the owner has shared in conversation.`

// Evolver grows the memory file after chat exchanges. It never rewrites
// history: new facts are appended under dated headings, and only the prune
// step may drop old sections once the file is over its cap.
type Evolver struct {
	files    repos.BrainFileRepo
	convos   repos.BrainConversationRepo
	registry *llm.Registry
	cfg      Config
	log      *logger.Logger
}

func NewEvolver(
	files repos.BrainFileRepo,
	convos repos.BrainConversationRepo,
	registry *llm.Registry,
	cfg Config,
	baseLog *logger.Logger,
) *Evolver {
	return &Evolver{
		files:    files,
		convos:   convos,
		registry: registry,
		cfg:      cfg,
		log:      baseLog.With("component", "MemoryEvolver"),
	}
}

// Evolve scans the conversation's latest completed exchange for durable
// facts and appends them to the memory file. A conversation with nothing to
// scan is a no-op, not an error.
func (e *Evolver) Evolve(ctx context.Context, ownerID, conversationID uuid.UUID) error {
	if ownerID == uuid.Nil || conversationID == uuid.Nil {
		return nil
	}
	dbc := dbctx.New(ctx)

	userMsg, assistantMsg, err := e.latestExchange(dbc, conversationID)
	if err != nil {
		return err
	}
	if userMsg == nil || assistantMsg == nil {
		return nil
	}

	memory, err := e.files.GetByKey(dbc, ownerID, types.BrainFileMemory)
	if err != nil {
		return fmt.Errorf("load memory: %w", err)
	}
	content := defaultMemoryPreamble
	if memory != nil && strings.TrimSpace(memory.Content) != "" {
		content = memory.Content
	}

	items, err := e.scanExchange(ctx, content, userMsg.Content, assistantMsg.Content)
	if err != nil {
		return err
	}
	items = dedupeItems(content, items)
	if len(items) == 0 {
		return nil
	}

	updated := appendMemory(content, time.Now().Format("2006-01-02"), items)
	updated = pruneMemory(updated, memoryKeepSections, memoryMaxChars)

	file := &types.BrainFile{
		OwnerID:          ownerID,
		FileKey:          types.BrainFileMemory,
		FileType:         types.BrainFileMemory,
		Title:            "Memory",
		Content:          updated,
		ContentHash:      contentHash(updated),
		TokenCountApprox: tokensApprox(updated),
	}
	if err := e.files.Upsert(dbc, file); err != nil {
		return fmt.Errorf("persist memory: %w", err)
	}
	e.log.Info("Memory evolved", "owner_id", ownerID, "items", len(items))
	return nil
}

// latestExchange returns the most recent complete assistant turn and the
// user turn that prompted it.
func (e *Evolver) latestExchange(dbc dbctx.Context, conversationID uuid.UUID) (*types.BrainMessage, *types.BrainMessage, error) {
	history, err := e.convos.ListMessages(dbc, conversationID, defaultHistoryLimit)
	if err != nil {
		return nil, nil, err
	}
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role != types.RoleAssistant || m.Status != types.MessageStatusComplete || m.Content == "" {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			if history[j].Role == types.RoleUser && history[j].Content != "" {
				return history[j], m, nil
			}
		}
		return nil, nil, nil
	}
	return nil, nil, nil
}

// scanExchange asks the model for new durable facts. A reply that is not
// valid JSON is treated as "nothing new": re-running the scan on the same
// exchange would only reproduce it.
func (e *Evolver) scanExchange(ctx context.Context, memory, question, answer string) ([]string, error) {
	var sb strings.Builder
	sb.WriteString("MEMORY:\n")
	sb.WriteString(truncateRunes(memory, memoryExcerptChars))
	sb.WriteString("\n\nEXCHANGE:\nUser: ")
	sb.WriteString(question)
	sb.WriteString("\nAssistant: ")
	sb.WriteString(truncateRunes(answer, answerExcerptChars))

	res, err := e.registry.Local().Generate(ctx, llm.GenerateRequest{
		Model: e.cfg.Model,
		Messages: []llm.Message{
			{Role: types.RoleSystem, Content: memoryScanSystem},
			{Role: types.RoleUser, Content: sb.String()},
		},
		Temperature: e.cfg.Temperature,
		MaxTokens:   400,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Items []string `json:"items"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSONBlock(res.Content)), &parsed); err != nil {
		e.log.Warn("memory scan reply unparseable", "error", err)
		return nil, nil
	}
	items := make([]string, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		items = append(items, truncateRunes(it, 300))
		if len(items) == maxMemoryItems {
			break
		}
	}
	return items, nil
}

// dedupeItems drops facts the memory already states verbatim.
func dedupeItems(memory string, items []string) []string {
	lower := strings.ToLower(memory)
	out := items[:0]
	for _, it := range items {
		if strings.Contains(lower, strings.ToLower(it)) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// appendMemory adds items as bullets under the given date. When the most
// recent section already carries that date the bullets extend it instead of
// opening a duplicate heading.
func appendMemory(content, date string, items []string) string {
	heading := "## " + date
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(content, "\n"))

	extendToday := false
	if idx := strings.LastIndex(content, "\n## "); idx >= 0 {
		extendToday = strings.HasPrefix(content[idx+1:], heading)
	}
	if extendToday {
		sb.WriteString("\n")
	} else {
		sb.WriteString("\n\n" + heading + "\n")
	}
	for _, it := range items {
		sb.WriteString("- " + it + "\n")
	}
	return sb.String()
}

// pruneMemory enforces the char cap by archiving the oldest dated sections.
// The preamble always survives, and the archive marker records how much was
// dropped. Sections keep dropping past keepSections when the newest ones
// alone still exceed the cap; the last resort is a hard cut with only the
// most recent section left.
func pruneMemory(content string, keepSections, maxChars int) string {
	if len(content) <= maxChars {
		return content
	}
	idx := strings.Index(content, "\n## ")
	if idx < 0 {
		return truncateRunes(content, maxChars)
	}
	preamble := strings.TrimRight(content[:idx], "\n")
	sections := strings.Split(content[idx:], "\n## ")[1:]
	if keepSections > len(sections) {
		keepSections = len(sections)
	}

	for keep := keepSections; keep >= 1; keep-- {
		out := archiveAllBut(preamble, sections, keep)
		if len(out) <= maxChars {
			return out
		}
	}
	return truncateRunes(archiveAllBut(preamble, sections, 1), maxChars)
}

func archiveAllBut(preamble string, sections []string, keep int) string {
	dropped := len(sections) - keep
	var sb strings.Builder
	sb.WriteString(preamble)
	if dropped > 0 {
		fmt.Fprintf(&sb, "\n\n*Older memories archived: %d sections summarized away.*\n", dropped)
	}
	for _, sec := range sections[dropped:] {
		sb.WriteString("\n## " + strings.TrimRight(sec, "\n") + "\n")
	}
	return sb.String()
}
