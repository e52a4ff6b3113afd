package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/extract"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/llm"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/tasks"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/wikilink"
)

const documentEnrichSystem = `You are an archivist for a personal knowledge base. From the document text you are given, reply with one JSON object only:
{"summary": "...", "tags": ["..."], "wikilinks": ["..."]}
- summary: 3-5 sentences covering what the document contains and why it matters.
- tags: up to 6 short lowercase topic tags.
- wikilinks: up to 5 note titles this document should link to, named after the subjects it discusses.
Ground everything in the text; never invent facts. No prose outside the JSON.`

const documentOCRSystem = `You transcribe scanned documents. Return the full text of the page image in reading order, using markdown for obvious structure like headings and lists. Reply with the transcription only.`

const (
	maxEnrichInputChars = 8000
	maxEnrichTokens     = 700
	maxOCRTokens        = 4000
)

// documentEnrichment is the JSON contract the enrichment prompt demands.
type documentEnrichment struct {
	Summary   string   `json:"summary"`
	Tags      []string `json:"tags"`
	Wikilinks []string `json:"wikilinks"`
}

// DocumentAnalyze runs the first half of the document lifecycle: text
// extraction (vision transcription for image uploads), model enrichment, and
// the derived artifacts. Suggestions land on the document for review; the
// status moves to needs_review and the embedding pass is queued separately.
type DocumentAnalyze struct {
	docs     repos.DocumentRepo
	notes    repos.NoteRepo
	tags     repos.TagRepo
	taskRepo repos.BackgroundTaskRepo
	registry *llm.Registry
	db       *gorm.DB
	opts     Options
	log      *logger.Logger
}

func NewDocumentAnalyze(
	docs repos.DocumentRepo,
	notes repos.NoteRepo,
	tags repos.TagRepo,
	taskRepo repos.BackgroundTaskRepo,
	registry *llm.Registry,
	db *gorm.DB,
	opts Options,
	baseLog *logger.Logger,
) *DocumentAnalyze {
	return &DocumentAnalyze{
		docs:     docs,
		notes:    notes,
		tags:     tags,
		taskRepo: taskRepo,
		registry: registry,
		db:       db,
		opts:     opts,
		log:      baseLog.With("task", types.TaskDocumentAnalyze),
	}
}

func (p *DocumentAnalyze) Type() string { return types.TaskDocumentAnalyze }

func (p *DocumentAnalyze) Run(tc *tasks.Context) error {
	if tc == nil || tc.Task == nil {
		return nil
	}
	docID, ok := tc.PayloadUUID("document_id")
	if !ok {
		tc.FailPermanent("validate", fmt.Errorf("missing document_id"))
		return nil
	}
	ctx := tc.Ctx
	dbc := dbctx.New(ctx)

	doc, err := p.docs.GetByID(dbc, tc.Task.OwnerID, docID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc == nil || doc.IsTrashed {
		tc.Succeed("done", map[string]any{"skipped": "document missing or trashed"})
		return nil
	}

	if err := p.docs.UpdateFields(dbc, doc.ID, map[string]interface{}{
		"ai_analysis_status":  types.AnalysisProcessing,
		"ai_analysis_error":   "",
		"ai_analysis_started": time.Now(),
	}); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	tc.Progress("extract", 10)
	text, pageCount, srcTitle, err := p.extractText(ctx, tc, doc)
	if err != nil {
		return p.failDocument(tc, doc.ID, err)
	}

	tc.Progress("save_text", 35)
	updates := map[string]interface{}{
		"extracted_text": text,
		"page_count":     pageCount,
	}
	if title := cleanLine(srcTitle, 200); title != "" && strings.TrimSpace(doc.Title) == "" {
		updates["title"] = title
		doc.Title = title
	}
	if err := p.docs.UpdateFields(dbc, doc.ID, updates); err != nil {
		return fmt.Errorf("save extracted text: %w", err)
	}

	tc.Progress("enrich", 45)
	enr, err := p.enrich(ctx, doc.Title, text)
	if err != nil {
		return p.failDocument(tc, doc.ID, err)
	}

	tagsJSON, err := json.Marshal(enr.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	linksJSON, err := json.Marshal(enr.Wikilinks)
	if err != nil {
		return fmt.Errorf("marshal wikilinks: %w", err)
	}
	tc.Progress("persist", 60)
	if err := p.docs.UpdateFields(dbc, doc.ID, map[string]interface{}{
		"ai_summary":          enr.Summary,
		"suggested_tags":      datatypes.JSON(tagsJSON),
		"suggested_wikilinks": datatypes.JSON(linksJSON),
		"ai_analysis_status":  types.AnalysisNeedsReview,
		"ai_analysis_error":   "",
	}); err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}

	tc.Progress("enrich_links", 75)
	summaryNoteID := p.applyEnrichment(tc, doc, enr)

	tc.Progress("queue_embed", 90)
	if err := enqueueTask(dbc, p.taskRepo, doc.OwnerID, types.TaskDocumentEmbed, "document", doc.ID,
		map[string]any{"document_id": doc.ID}); err != nil {
		return fmt.Errorf("queue embed: %w", err)
	}
	if summaryNoteID != nil {
		if err := enqueueTask(dbc, p.taskRepo, doc.OwnerID, types.TaskNoteEmbed, "note", *summaryNoteID,
			map[string]any{"note_id": *summaryNoteID}); err != nil {
			p.log.Warn("could not queue summary note embed", "document_id", doc.ID, "error", err)
		}
		if err := enqueueTask(dbc, p.taskRepo, doc.OwnerID, types.TaskBrainIncremental, "note", *summaryNoteID,
			map[string]any{"note_id": *summaryNoteID, "change": "created"}); err != nil {
			p.log.Warn("could not queue brain update", "document_id", doc.ID, "error", err)
		}
	}

	result := map[string]any{
		"status":     types.AnalysisNeedsReview,
		"page_count": pageCount,
		"tags":       len(enr.Tags),
	}
	if summaryNoteID != nil {
		result["summary_note_id"] = *summaryNoteID
	}
	tc.Succeed("done", result)
	return nil
}

// extractText pulls text straight from supported files and falls back to
// vision transcription for image uploads (photographed or scanned pages).
func (p *DocumentAnalyze) extractText(ctx context.Context, tc *tasks.Context, doc *types.Document) (string, int, string, error) {
	res, err := extract.FromFile(doc.Filepath, doc.MimeType)
	if err == nil {
		if strings.TrimSpace(res.Text) == "" {
			return "", 0, "", fmt.Errorf("%w: document contains no text", apperr.ErrValidation)
		}
		return res.Text, res.PageCount, res.Title, nil
	}
	if errors.Is(err, extract.ErrUnsupportedType) {
		if strings.HasPrefix(doc.MimeType, "image/") {
			tc.Progress("ocr", 20)
			text, oerr := p.transcribe(ctx, doc.Filepath)
			if oerr != nil {
				return "", 0, "", oerr
			}
			return text, 1, "", nil
		}
		return "", 0, "", fmt.Errorf("%w: unsupported mime type %q", apperr.ErrValidation, doc.MimeType)
	}
	return "", 0, "", fmt.Errorf("extract text: %w", err)
}

func (p *DocumentAnalyze) transcribe(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read scan: %w", err)
	}
	res, err := p.registry.Local().Generate(ctx, llm.GenerateRequest{
		Model: p.opts.VisionModel,
		Messages: []llm.Message{
			{Role: types.RoleSystem, Content: documentOCRSystem},
			{Role: types.RoleUser, Content: "Transcribe this document.",
				Images: []string{base64.StdEncoding.EncodeToString(data)}},
		},
		MaxTokens: maxOCRTokens,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe scan: %w", err)
	}
	text := strings.TrimSpace(res.Content)
	if text == "" {
		return "", fmt.Errorf("%w: vision model found no text", apperr.ErrValidation)
	}
	return text, nil
}

func (p *DocumentAnalyze) enrich(ctx context.Context, title, text string) (*documentEnrichment, error) {
	var sb strings.Builder
	if strings.TrimSpace(title) != "" {
		fmt.Fprintf(&sb, "Title: %s\n\n", title)
	}
	sb.WriteString(truncateRunes(text, maxEnrichInputChars))

	res, err := p.registry.Local().Generate(ctx, llm.GenerateRequest{
		Model: p.opts.Model,
		Messages: []llm.Message{
			{Role: types.RoleSystem, Content: documentEnrichSystem},
			{Role: types.RoleUser, Content: sb.String()},
		},
		Temperature: p.opts.Temperature,
		MaxTokens:   maxEnrichTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("enrich document: %w", err)
	}
	var enr documentEnrichment
	if err := json.Unmarshal([]byte(llm.ExtractJSONBlock(res.Content)), &enr); err != nil {
		return nil, fmt.Errorf("parse enrichment: %w", err)
	}
	enr.Summary = strings.TrimSpace(enr.Summary)
	if enr.Summary == "" {
		return nil, fmt.Errorf("model returned no summary")
	}
	enr.Tags = cleanList(enr.Tags, maxSuggestedTags, true)
	enr.Wikilinks = cleanList(enr.Wikilinks, maxSuggestedLinks, false)
	return &enr, nil
}

// applyEnrichment creates the summary note and its tags. Each piece runs in
// its own transaction and a failure only logs: the saved analysis stands
// whether or not the extras landed.
func (p *DocumentAnalyze) applyEnrichment(tc *tasks.Context, doc *types.Document, enr *documentEnrichment) *uuid.UUID {
	ctx := context.WithoutCancel(tc.Ctx)
	var noteID *uuid.UUID

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tdbc := dbctx.WithTx(ctx, tx)
		note, err := p.createSummaryNote(tdbc, doc, enr)
		if err != nil {
			return err
		}
		if err := p.docs.UpdateFields(tdbc, doc.ID, map[string]interface{}{
			"summary_note_id": note.ID,
		}); err != nil {
			return err
		}
		noteID = &note.ID
		return nil
	})
	if err != nil {
		p.log.Warn("summary note skipped", "document_id", doc.ID, "error", err)
		return nil
	}

	if len(enr.Tags) > 0 {
		err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			tdbc := dbctx.WithTx(ctx, tx)
			ids, err := resolveTags(tdbc, p.tags, doc.OwnerID, enr.Tags)
			if err != nil {
				return err
			}
			return p.tags.ReplaceNoteTags(tdbc, *noteID, ids)
		})
		if err != nil {
			p.log.Warn("summary note tags skipped", "document_id", doc.ID, "error", err)
		}
	}
	return noteID
}

func (p *DocumentAnalyze) createSummaryNote(tdbc dbctx.Context, doc *types.Document, enr *documentEnrichment) (*types.Note, error) {
	title := cleanLine("Summary: "+doc.Title, 160)
	if strings.TrimSpace(doc.Title) == "" {
		title = "Document summary"
	}
	slug, err := wikilink.NextSlug(wikilink.Slugify(title), func(s string) (bool, error) {
		return p.notes.SlugExists(tdbc, doc.OwnerID, s)
	})
	if err != nil {
		return nil, fmt.Errorf("pick slug: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n", title, enr.Summary)
	if len(enr.Wikilinks) > 0 {
		b.WriteString("\n## Related\n\n")
		for _, w := range enr.Wikilinks {
			fmt.Fprintf(&b, "- [[%s]]\n", w)
		}
	}

	return p.notes.Create(tdbc, &types.Note{
		OwnerID: doc.OwnerID,
		Title:   title,
		Slug:    slug,
		Content: b.String(),
	})
}

// failDocument mirrors a handler failure onto the document row before the
// worker records it on the task, so list views show why analysis stopped.
func (p *DocumentAnalyze) failDocument(tc *tasks.Context, id uuid.UUID, err error) error {
	dbc := dbctx.New(context.WithoutCancel(tc.Ctx))
	if uerr := p.docs.UpdateFields(dbc, id, map[string]interface{}{
		"ai_analysis_status": types.AnalysisFailed,
		"ai_analysis_error":  truncateRunes(err.Error(), 500),
	}); uerr != nil {
		p.log.Warn("could not mark document failed", "document_id", id, "error", uerr)
	}
	return err
}
