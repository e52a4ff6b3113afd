package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/chunker"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/embedding"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/llm"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/tasks"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/wikilink"
)

const imageDescribeSystem = `You describe images for a personal knowledge base. Reply with one JSON object only:
{"description": "...", "detected_text": "...", "tags": ["..."], "suggested_title": "..."}
- description: 2-4 sentences covering the subject, setting, and anything notable.
- detected_text: every piece of readable text in the image, or "" when there is none.
- tags: up to 6 short lowercase tags.
- suggested_title: a title of 3-8 words.
No prose outside the JSON.`

const maxDescribeTokens = 900

// imageAnalysis is the JSON contract the vision prompt demands; the parsed
// form is also what lands in ai_analysis_result.
type imageAnalysis struct {
	Description    string   `json:"description"`
	DetectedText   string   `json:"detected_text"`
	Tags           []string `json:"tags"`
	SuggestedTitle string   `json:"suggested_title"`
}

// ImageAnalyze runs the whole image lifecycle in one task: vision
// description, tags, a linked summary note, and retrieval embeddings.
// Unlike documents, image tags apply directly instead of waiting for
// review, because there is no extracted text for the owner to check
// them against.
type ImageAnalyze struct {
	images   repos.ImageRepo
	notes    repos.NoteRepo
	tags     repos.TagRepo
	chunks   repos.ImageChunkRepo
	taskRepo repos.BackgroundTaskRepo
	registry *llm.Registry
	embedder embedding.Client
	db       *gorm.DB
	opts     Options
	log      *logger.Logger
}

func NewImageAnalyze(
	images repos.ImageRepo,
	notes repos.NoteRepo,
	tags repos.TagRepo,
	chunks repos.ImageChunkRepo,
	taskRepo repos.BackgroundTaskRepo,
	registry *llm.Registry,
	embedder embedding.Client,
	db *gorm.DB,
	opts Options,
	baseLog *logger.Logger,
) *ImageAnalyze {
	return &ImageAnalyze{
		images:   images,
		notes:    notes,
		tags:     tags,
		chunks:   chunks,
		taskRepo: taskRepo,
		registry: registry,
		embedder: embedder,
		db:       db,
		opts:     opts,
		log:      baseLog.With("task", types.TaskImageAnalyze),
	}
}

func (p *ImageAnalyze) Type() string { return types.TaskImageAnalyze }

func (p *ImageAnalyze) Run(tc *tasks.Context) error {
	if tc == nil || tc.Task == nil {
		return nil
	}
	imageID, ok := tc.PayloadUUID("image_id")
	if !ok {
		tc.FailPermanent("validate", fmt.Errorf("missing image_id"))
		return nil
	}
	ctx := tc.Ctx
	dbc := dbctx.New(ctx)

	img, err := p.images.GetByID(dbc, tc.Task.OwnerID, imageID)
	if err != nil {
		return fmt.Errorf("load image: %w", err)
	}
	if img == nil || img.IsTrashed {
		tc.Succeed("done", map[string]any{"skipped": "image missing or trashed"})
		return nil
	}

	if err := p.images.UpdateFields(dbc, img.ID, map[string]interface{}{
		"ai_analysis_status":  types.AnalysisProcessing,
		"ai_analysis_error":   "",
		"ai_analysis_started": time.Now(),
	}); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	tc.Progress("describe", 15)
	analysis, err := p.describe(ctx, img.Filepath)
	if err != nil {
		return p.failImage(tc, img.ID, err)
	}

	tc.Progress("persist", 45)
	raw, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	updates := map[string]interface{}{
		"ai_analysis_result": datatypes.JSON(raw),
		"ai_analysis_error":  "",
	}
	if title := cleanLine(analysis.SuggestedTitle, 160); title != "" && strings.TrimSpace(img.Title) == "" {
		updates["title"] = title
		img.Title = title
	}
	if err := p.images.UpdateFields(dbc, img.ID, updates); err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}

	tc.Progress("enrich_links", 60)
	summaryNoteID := p.applyEnrichment(tc, img, analysis)

	// Retrieval side: one vector for the image itself plus chunk rows over
	// the analysis text, which is all the searchable content an image has.
	tc.Progress("embed", 75)
	analysisText := analysis.Description
	if analysis.DetectedText != "" {
		analysisText += "\n\n" + analysis.DetectedText
	}
	vec, err := p.embedder.Embed(ctx, img.Title+"\n\n"+analysisText)
	if err != nil {
		return fmt.Errorf("embed image: %w", err)
	}
	imgVec := pgvector.NewVector(vec)
	if err := p.images.UpdateEmbedding(dbc, img.ID, &imgVec); err != nil {
		return fmt.Errorf("save image embedding: %w", err)
	}
	if err := p.replaceChunks(ctx, dbc, img, analysisText); err != nil {
		return err
	}

	tc.Progress("finalize", 90)
	if err := p.images.UpdateFields(dbc, img.ID, map[string]interface{}{
		"ai_analysis_status": types.AnalysisCompleted,
	}); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if summaryNoteID != nil {
		if err := enqueueTask(dbc, p.taskRepo, img.OwnerID, types.TaskNoteEmbed, "note", *summaryNoteID,
			map[string]any{"note_id": *summaryNoteID}); err != nil {
			p.log.Warn("could not queue summary note embed", "image_id", img.ID, "error", err)
		}
		if err := enqueueTask(dbc, p.taskRepo, img.OwnerID, types.TaskBrainIncremental, "note", *summaryNoteID,
			map[string]any{"note_id": *summaryNoteID, "change": "created"}); err != nil {
			p.log.Warn("could not queue brain update", "image_id", img.ID, "error", err)
		}
	}

	result := map[string]any{
		"status": types.AnalysisCompleted,
		"tags":   len(analysis.Tags),
	}
	if summaryNoteID != nil {
		result["summary_note_id"] = *summaryNoteID
	}
	tc.Succeed("done", result)
	return nil
}

func (p *ImageAnalyze) describe(ctx context.Context, path string) (*imageAnalysis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	res, err := p.registry.Local().Generate(ctx, llm.GenerateRequest{
		Model: p.opts.VisionModel,
		Messages: []llm.Message{
			{Role: types.RoleSystem, Content: imageDescribeSystem},
			{Role: types.RoleUser, Content: "Describe this image.",
				Images: []string{base64.StdEncoding.EncodeToString(data)}},
		},
		Temperature: p.opts.Temperature,
		MaxTokens:   maxDescribeTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("describe image: %w", err)
	}
	var analysis imageAnalysis
	if err := json.Unmarshal([]byte(llm.ExtractJSONBlock(res.Content)), &analysis); err != nil {
		return nil, fmt.Errorf("parse analysis: %w", err)
	}
	analysis.Description = strings.TrimSpace(analysis.Description)
	if analysis.Description == "" {
		return nil, fmt.Errorf("model returned no description")
	}
	analysis.DetectedText = strings.TrimSpace(analysis.DetectedText)
	analysis.Tags = cleanList(analysis.Tags, maxSuggestedTags, true)
	analysis.SuggestedTitle = cleanLine(analysis.SuggestedTitle, 160)
	return &analysis, nil
}

// applyEnrichment creates the linked summary note and applies tags to both
// the image and the note. Failures only log; the analysis stands without
// them.
func (p *ImageAnalyze) applyEnrichment(tc *tasks.Context, img *types.Image, analysis *imageAnalysis) *uuid.UUID {
	ctx := context.WithoutCancel(tc.Ctx)
	var noteID *uuid.UUID

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tdbc := dbctx.WithTx(ctx, tx)
		note, err := p.createSummaryNote(tdbc, img, analysis)
		if err != nil {
			return err
		}
		if err := p.images.UpdateFields(tdbc, img.ID, map[string]interface{}{
			"summary_note_id": note.ID,
		}); err != nil {
			return err
		}
		noteID = &note.ID
		return nil
	})
	if err != nil {
		p.log.Warn("summary note skipped", "image_id", img.ID, "error", err)
	}

	if len(analysis.Tags) > 0 {
		err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			tdbc := dbctx.WithTx(ctx, tx)
			ids, err := resolveTags(tdbc, p.tags, img.OwnerID, analysis.Tags)
			if err != nil {
				return err
			}
			if err := p.tags.ReplaceImageTags(tdbc, img.ID, ids); err != nil {
				return err
			}
			if noteID != nil {
				return p.tags.ReplaceNoteTags(tdbc, *noteID, ids)
			}
			return nil
		})
		if err != nil {
			p.log.Warn("image tags skipped", "image_id", img.ID, "error", err)
		}
	}
	return noteID
}

func (p *ImageAnalyze) createSummaryNote(tdbc dbctx.Context, img *types.Image, analysis *imageAnalysis) (*types.Note, error) {
	title := cleanLine("Image: "+img.Title, 160)
	if strings.TrimSpace(img.Title) == "" {
		title = "Image notes"
	}
	slug, err := wikilink.NextSlug(wikilink.Slugify(title), func(s string) (bool, error) {
		return p.notes.SlugExists(tdbc, img.OwnerID, s)
	})
	if err != nil {
		return nil, fmt.Errorf("pick slug: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n", title, analysis.Description)
	if analysis.DetectedText != "" {
		fmt.Fprintf(&b, "\n## Text\n\n%s\n", analysis.DetectedText)
	}

	return p.notes.Create(tdbc, &types.Note{
		OwnerID: img.OwnerID,
		Title:   title,
		Slug:    slug,
		Content: b.String(),
	})
}

func (p *ImageAnalyze) replaceChunks(ctx context.Context, dbc dbctx.Context, img *types.Image, analysisText string) error {
	parts := chunker.Split(analysisText, chunker.DefaultChunkSize, chunker.DefaultOverlap)
	rows := make([]*types.ImageChunk, 0, len(parts))
	texts := make([]string, 0, len(parts))
	for _, ch := range parts {
		rows = append(rows, &types.ImageChunk{
			ImageID:    img.ID,
			OwnerID:    img.OwnerID,
			Content:    ch.Content,
			ChunkIndex: ch.ChunkIndex,
		})
		texts = append(texts, ch.Content)
	}
	if len(rows) > 0 {
		vecs, err := p.embedder.BatchEmbed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		if len(vecs) == len(rows) {
			for i := range rows {
				chunkVec := pgvector.NewVector(vecs[i])
				rows[i].Embedding = &chunkVec
			}
		}
	}
	if err := p.chunks.ReplaceForImage(dbc, img.ID, rows); err != nil {
		return fmt.Errorf("replace image chunks: %w", err)
	}
	return nil
}

// failImage mirrors a handler failure onto the image row before the worker
// records it on the task.
func (p *ImageAnalyze) failImage(tc *tasks.Context, id uuid.UUID, err error) error {
	dbc := dbctx.New(context.WithoutCancel(tc.Ctx))
	if uerr := p.images.UpdateFields(dbc, id, map[string]interface{}{
		"ai_analysis_status": types.AnalysisFailed,
		"ai_analysis_error":  truncateRunes(err.Error(), 500),
	}); uerr != nil {
		p.log.Warn("could not mark image failed", "image_id", id, "error", uerr)
	}
	return err
}
