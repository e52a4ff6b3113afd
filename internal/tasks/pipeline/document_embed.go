package pipeline

import (
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/chunker"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/embedding"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/tasks"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// DocumentEmbed is the second half of the document lifecycle: chunk the
// extracted text, embed the chunks and the summary, and move the document to
// completed. It runs only after analysis finished; a document still queued,
// processing, or failed is skipped rather than embedded half-done.
type DocumentEmbed struct {
	docs     repos.DocumentRepo
	chunks   repos.DocumentChunkRepo
	embedder embedding.Client
	log      *logger.Logger
}

func NewDocumentEmbed(docs repos.DocumentRepo, chunks repos.DocumentChunkRepo, embedder embedding.Client, baseLog *logger.Logger) *DocumentEmbed {
	return &DocumentEmbed{
		docs:     docs,
		chunks:   chunks,
		embedder: embedder,
		log:      baseLog.With("task", types.TaskDocumentEmbed),
	}
}

func (p *DocumentEmbed) Type() string { return types.TaskDocumentEmbed }

func (p *DocumentEmbed) Run(tc *tasks.Context) error {
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
	switch doc.AIAnalysisStatus {
	case types.AnalysisNeedsReview, types.AnalysisCompleted:
	default:
		tc.Succeed("done", map[string]any{"skipped": "analysis not finished: " + doc.AIAnalysisStatus})
		return nil
	}
	if strings.TrimSpace(doc.ExtractedText) == "" {
		tc.Succeed("done", map[string]any{"skipped": "no extracted text"})
		return nil
	}

	tc.Progress("chunk", 20)
	parts := chunker.Split(doc.ExtractedText, chunker.DefaultChunkSize, chunker.DefaultOverlap)
	rows := make([]*types.DocumentChunk, 0, len(parts))
	texts := make([]string, 0, len(parts))
	for _, ch := range parts {
		rows = append(rows, &types.DocumentChunk{
			DocumentID: doc.ID,
			OwnerID:    doc.OwnerID,
			Content:    ch.Content,
			ChunkIndex: ch.ChunkIndex,
			ChunkType:  ch.ChunkType,
			PageNumber: ch.PageNumber,
			CharStart:  ch.CharStart,
			CharEnd:    ch.CharEnd,
		})
		texts = append(texts, ch.Content)
	}

	tc.Progress("embed_chunks", 40)
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
	if err := p.chunks.ReplaceForDocument(dbc, doc.ID, rows); err != nil {
		return fmt.Errorf("replace document chunks: %w", err)
	}

	// The document-level vector prefers the analysis summary; a document
	// whose enrichment failed still gets one from its opening text.
	tc.Progress("embed_document", 75)
	seed := doc.AISummary
	if strings.TrimSpace(seed) == "" {
		seed = doc.ExtractedText
	}
	vec, err := p.embedder.Embed(ctx, doc.Title+"\n\n"+seed)
	if err != nil {
		return fmt.Errorf("embed document: %w", err)
	}
	docVec := pgvector.NewVector(vec)
	if err := p.docs.UpdateEmbedding(dbc, doc.ID, &docVec); err != nil {
		return fmt.Errorf("save document embedding: %w", err)
	}

	if err := p.docs.UpdateFields(dbc, doc.ID, map[string]interface{}{
		"ai_analysis_status": types.AnalysisCompleted,
	}); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	tc.Succeed("done", map[string]any{"chunks": len(rows), "pages": doc.PageCount})
	return nil
}
