package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/llm"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/tasks"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

const conversationTitleSystem = `Write a title of 3-6 words for the conversation below. Reply with the title only, no quotes.`

const conversationSummarySystem = `You maintain the running summary of a long conversation. Merge the previous summary with the older messages below into one summary under 200 words. Keep stable facts, decisions, preferences, and open questions; drop greetings and filler. Reply with the summary only.`

const (
	// Recent messages stay verbatim in the chat prompt; only older ones get
	// folded into the rolling summary.
	summaryKeepRecent = 6
	summaryWindow     = 50
	titleWindow       = 4

	maxTitleTokens       = 40
	maxSummaryTokens     = 400
	maxSummaryInputChars = 7000
	maxTranscriptMsg     = 500
)

// ConversationSummary serves both chat surfaces from one task type,
// dispatching on the entity: nexus conversations only get a generated title
// after their first exchange, while brain conversations also carry a rolling
// summary that this handler merges and whose due-counter it resets.
type ConversationSummary struct {
	convos      repos.ConversationRepo
	brainConvos repos.BrainConversationRepo
	registry    *llm.Registry
	opts        Options
	log         *logger.Logger
}

func NewConversationSummary(
	convos repos.ConversationRepo,
	brainConvos repos.BrainConversationRepo,
	registry *llm.Registry,
	opts Options,
	baseLog *logger.Logger,
) *ConversationSummary {
	return &ConversationSummary{
		convos:      convos,
		brainConvos: brainConvos,
		registry:    registry,
		opts:        opts,
		log:         baseLog.With("task", types.TaskConversationSummary),
	}
}

func (p *ConversationSummary) Type() string { return types.TaskConversationSummary }

func (p *ConversationSummary) Run(tc *tasks.Context) error {
	if tc == nil || tc.Task == nil {
		return nil
	}
	convID, ok := tc.PayloadUUID("conversation_id")
	if !ok && tc.Task.EntityID != nil {
		convID = *tc.Task.EntityID
		ok = convID != uuid.Nil
	}
	if !ok {
		tc.FailPermanent("validate", fmt.Errorf("missing conversation_id"))
		return nil
	}

	switch tc.Task.EntityType {
	case "brain_conversation":
		return p.runBrain(tc, convID)
	case "conversation":
		return p.runNexus(tc, convID)
	default:
		tc.FailPermanent("validate", fmt.Errorf("unknown entity type %q", tc.Task.EntityType))
		return nil
	}
}

func (p *ConversationSummary) runNexus(tc *tasks.Context, convID uuid.UUID) error {
	dbc := dbctx.New(tc.Ctx)
	conv, err := p.convos.GetByID(dbc, tc.Task.OwnerID, convID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		tc.Succeed("done", map[string]any{"skipped": "conversation missing"})
		return nil
	}

	msgs, err := p.convos.ListMessages(dbc, convID, titleWindow)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	var lines []string
	for _, m := range msgs {
		if m.Status == types.MessageStatusComplete && strings.TrimSpace(m.Content) != "" {
			lines = append(lines, transcriptLine(m.Role, m.Content))
		}
	}
	if len(lines) < 2 {
		tc.Succeed("done", map[string]any{"skipped": "not enough messages"})
		return nil
	}

	tc.Progress("title", 40)
	title, err := p.generateTitle(tc.Ctx, lines)
	if err != nil {
		return err
	}
	if err := p.convos.UpdateFields(dbc, conv.ID, map[string]interface{}{
		"title": title,
	}); err != nil {
		return fmt.Errorf("save title: %w", err)
	}
	tc.Succeed("done", map[string]any{"title": title})
	return nil
}

func (p *ConversationSummary) runBrain(tc *tasks.Context, convID uuid.UUID) error {
	dbc := dbctx.New(tc.Ctx)
	conv, err := p.brainConvos.GetByID(dbc, tc.Task.OwnerID, convID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		tc.Succeed("done", map[string]any{"skipped": "conversation missing"})
		return nil
	}

	msgs, err := p.brainConvos.ListMessages(dbc, convID, summaryWindow)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	var lines []string
	for _, m := range msgs {
		if m.Status == types.MessageStatusComplete && strings.TrimSpace(m.Content) != "" {
			lines = append(lines, transcriptLine(m.Role, m.Content))
		}
	}
	if len(lines) == 0 {
		tc.Succeed("done", map[string]any{"skipped": "no complete messages"})
		return nil
	}

	result := map[string]any{}

	// The title pass runs on the first-exchange trigger; once the
	// conversation has real history the title is left alone, edited or not.
	if conv.Title == "" || len(lines) <= 4 {
		tc.Progress("title", 25)
		title, err := p.generateTitle(tc.Ctx, lines)
		if err != nil {
			p.log.Warn("title generation failed", "conversation_id", convID, "error", err)
		} else if err := p.brainConvos.UpdateFields(dbc, conv.ID, map[string]interface{}{
			"title": title,
		}); err != nil {
			p.log.Warn("could not save title", "conversation_id", convID, "error", err)
		} else {
			result["title"] = title
		}
	}

	older := lines
	if len(older) > summaryKeepRecent {
		older = older[:len(older)-summaryKeepRecent]
	} else {
		older = nil
	}
	if len(older) == 0 {
		result["summarized"] = false
		tc.Succeed("done", result)
		return nil
	}

	tc.Progress("summarize", 60)
	summary, err := p.generateSummary(tc.Ctx, conv.Summary, older)
	if err != nil {
		return err
	}
	if err := p.brainConvos.UpdateFields(dbc, conv.ID, map[string]interface{}{
		"summary":                summary,
		"messages_since_summary": 0,
	}); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	result["summarized"] = true
	tc.Succeed("done", result)
	return nil
}

func (p *ConversationSummary) generateTitle(ctx context.Context, lines []string) (string, error) {
	res, err := p.registry.Local().Generate(ctx, llm.GenerateRequest{
		Model: p.opts.Model,
		Messages: []llm.Message{
			{Role: types.RoleSystem, Content: conversationTitleSystem},
			{Role: types.RoleUser, Content: truncateRunes(strings.Join(lines, "\n"), maxSummaryInputChars)},
		},
		Temperature: p.opts.Temperature,
		MaxTokens:   maxTitleTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	title := cleanLine(res.Content, 80)
	if title == "" {
		return "", fmt.Errorf("model returned no title")
	}
	return title, nil
}

func (p *ConversationSummary) generateSummary(ctx context.Context, previous string, older []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("Previous summary:\n")
	if strings.TrimSpace(previous) == "" {
		sb.WriteString("(none)\n")
	} else {
		sb.WriteString(previous + "\n")
	}
	sb.WriteString("\nOlder messages:\n")
	sb.WriteString(strings.Join(older, "\n"))

	res, err := p.registry.Local().Generate(ctx, llm.GenerateRequest{
		Model: p.opts.Model,
		Messages: []llm.Message{
			{Role: types.RoleSystem, Content: conversationSummarySystem},
			{Role: types.RoleUser, Content: truncateRunes(sb.String(), maxSummaryInputChars)},
		},
		Temperature: p.opts.Temperature,
		MaxTokens:   maxSummaryTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}
	summary := strings.TrimSpace(res.Content)
	if summary == "" {
		return "", fmt.Errorf("model returned no summary")
	}
	return summary, nil
}

func transcriptLine(role, content string) string {
	return role + ": " + truncateRunes(strings.TrimSpace(content), maxTranscriptMsg)
}
