// Package brain synthesizes and serves the owner's long-term memory. A full
// build clusters live notes into topics, asks the local model to write one
// topic file per cluster, compresses each file into a paragraph summary, and
// regenerates the core files (soul, mnemosyne, askimap, user_profile) that
// anchor every brain conversation. Incremental updates and memory evolution
// keep the files current between full builds.
package brain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/embedding"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/graph"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/llm"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

const (
	// MinNotesForBuild is the floor below which a full build is refused;
	// there is nothing meaningful to synthesize yet. The admin surface
	// checks it before enqueueing, the builder re-checks before running.
	MinNotesForBuild = 3

	maxTopicKeywords  = 10
	maxNotesPerPrompt = 30
	noteExcerptChars  = 600
	embedPrefixChars  = 2000
	maxErrorChars     = 500

	maxTopicTokens    = 1600
	maxCompressTokens = 300
	maxProfileTokens  = 500

	// orphanCommunityID marks the bucket of notes that no community
	// claimed. They still deserve a topic file together.
	orphanCommunityID = -1
)

const topicSynthSystem = `You are building one topic file for a personal knowledge base. Synthesize the notes you are given into a single markdown document with exactly these sections:

# <topic title>
## Overview
## Key Points
## Details
## Connections

Stay under 800 words. Ground every statement in the notes; never invent facts. In Connections, mention related notes by title.`

const compressSystem = `Compress the topic file into a single paragraph of 80-120 words. Keep concrete names, numbers, and terminology; drop filler. Reply with the paragraph only.`

const profileSystem = `You maintain a short profile of the person who owns this knowledge base. From the topic titles and keywords below, describe their interests and how they organize knowledge. Reply in markdown with the sections "## Interests" and "## Patterns", 150 words or fewer total.`

const defaultSoul = `# Soul

You are the owner's second brain: a quiet, precise assistant that answers from
their own notes. Speak plainly, cite the notes you draw on by title, and say
so when the notes do not cover a question. Never pad an answer with general
knowledge the notes do not support.`

// Config carries the generation settings shared by the brain build, chat,
// and memory paths.
type Config struct {
	Model        string
	Temperature  float64
	TokenBudget  int
	MaxTokens    int
	HistoryLimit int
}

func (c Config) withDefaults() Config {
	if c.TokenBudget <= 0 {
		c.TokenBudget = DefaultTokenBudget
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	return c
}

// Builder runs full brain builds. One build produces the complete set of
// topic files plus the regenerated core files, tracked through a build log
// row that the UI polls for progress.
type Builder struct {
	db       *gorm.DB
	notes    repos.NoteRepo
	links    repos.NoteLinkRepo
	edges    repos.SemanticEdgeRepo
	tags     repos.TagRepo
	files    repos.BrainFileRepo
	logs     repos.BrainBuildLogRepo
	registry *llm.Registry
	embedder embedding.Client
	cfg      Config
	log      *logger.Logger
}

func NewBuilder(
	db *gorm.DB,
	notes repos.NoteRepo,
	links repos.NoteLinkRepo,
	edges repos.SemanticEdgeRepo,
	tags repos.TagRepo,
	files repos.BrainFileRepo,
	logs repos.BrainBuildLogRepo,
	registry *llm.Registry,
	embedder embedding.Client,
	cfg Config,
	baseLog *logger.Logger,
) *Builder {
	return &Builder{
		db:       db,
		notes:    notes,
		links:    links,
		edges:    edges,
		tags:     tags,
		files:    files,
		logs:     logs,
		registry: registry,
		embedder: embedder,
		cfg:      cfg,
		log:      baseLog.With("component", "BrainBuilder"),
	}
}

// Build runs a full brain build for the owner and returns its build log.
// Every attempt gets its own log row; retries show up as separate rows so
// the history stays honest.
func (b *Builder) Build(ctx context.Context, ownerID uuid.UUID) (*types.BrainBuildLog, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner id required", apperr.ErrValidation)
	}
	dbc := dbctx.New(ctx)
	started := time.Now()
	buildLog, err := b.logs.Create(dbc, &types.BrainBuildLog{
		OwnerID:   ownerID,
		BuildType: types.BuildTypeFull,
		Status:    types.BuildProcessing,
		StartedAt: &started,
	})
	if err != nil {
		return nil, fmt.Errorf("create build log: %w", err)
	}

	if err := b.run(ctx, ownerID, buildLog); err != nil {
		b.failLog(ctx, buildLog.ID, err)
		return buildLog, err
	}
	b.log.Info("Brain build completed", "owner_id", ownerID, "build_log_id", buildLog.ID)
	return buildLog, nil
}

func (b *Builder) run(ctx context.Context, ownerID uuid.UUID, lg *types.BrainBuildLog) error {
	dbc := dbctx.New(ctx)

	b.progress(dbc, lg.ID, "collect", 5)
	notes, err := b.notes.ListLive(dbc, ownerID)
	if err != nil {
		return fmt.Errorf("collect notes: %w", err)
	}
	if len(notes) < MinNotesForBuild {
		return fmt.Errorf("%w: brain build needs at least %d notes, have %d",
			apperr.ErrValidation, MinNotesForBuild, len(notes))
	}

	b.progress(dbc, lg.ID, "cluster", 15)
	links, err := b.links.ListLiveByOwner(dbc, ownerID)
	if err != nil {
		return fmt.Errorf("load links: %w", err)
	}
	semEdges, err := b.edges.ListNoteEdges(dbc, ownerID, 0)
	if err != nil {
		return fmt.Errorf("load semantic edges: %w", err)
	}
	groups := graph.DetectCommunities(notes, links, semEdges)

	b.progress(dbc, lg.ID, "group", 20)
	buckets := bucketNotes(notes, groups)
	tagsByNote, err := b.tags.ListForNotes(dbc, ownerID, noteIDsOf(notes))
	if err != nil {
		return fmt.Errorf("load tags: %w", err)
	}

	topics := make([]*types.BrainFile, 0, len(buckets))
	for i, bkt := range buckets {
		b.progress(dbc, lg.ID, "topic_synth", 20+(i+1)*40/len(buckets))
		key := fmt.Sprintf("topic_%03d", i+1)
		topic, err := b.synthesizeTopic(ctx, ownerID, key, bkt, tagsByNote)
		if err != nil {
			return fmt.Errorf("synthesize %s: %w", key, err)
		}
		topics = append(topics, topic)
	}

	for i, topic := range topics {
		b.progress(dbc, lg.ID, "compress", 60+(i+1)*15/len(topics))
		if err := b.compressTopic(ctx, topic); err != nil {
			return fmt.Errorf("compress %s: %w", topic.FileKey, err)
		}
	}

	b.progress(dbc, lg.ID, "core_files", 80)
	core, err := b.coreFiles(ctx, dbc, ownerID, topics)
	if err != nil {
		return err
	}

	b.progress(dbc, lg.ID, "persist", 90)
	if err := b.persist(ctx, ownerID, topics, core); err != nil {
		return fmt.Errorf("persist brain files: %w", err)
	}

	completed := time.Now()
	return b.logs.UpdateFields(dbc, lg.ID, map[string]interface{}{
		"status":          types.BuildCompleted,
		"progress_pct":    100,
		"current_step":    "done",
		"notes_processed": len(notes),
		"topics_created":  len(topics),
		"completed_at":    &completed,
	})
}

// bucket is one future topic file: a community of notes, or the shared
// orphans bucket for notes no community claimed.
type bucket struct {
	communityID int
	notes       []*types.Note
}

// bucketNotes turns community groups into topic buckets. Orphans land in a
// single trailing bucket so every live note feeds exactly one topic.
func bucketNotes(notes []*types.Note, groups [][]uuid.UUID) []bucket {
	byID := make(map[uuid.UUID]*types.Note, len(notes))
	for _, n := range notes {
		byID[n.ID] = n
	}
	claimed := make(map[uuid.UUID]bool, len(notes))
	buckets := make([]bucket, 0, len(groups)+1)
	for k, group := range groups {
		bkt := bucket{communityID: k + 1, notes: make([]*types.Note, 0, len(group))}
		for _, id := range group {
			if n, ok := byID[id]; ok {
				bkt.notes = append(bkt.notes, n)
				claimed[id] = true
			}
		}
		if len(bkt.notes) > 0 {
			buckets = append(buckets, bkt)
		}
	}
	orphans := bucket{communityID: orphanCommunityID}
	for _, n := range notes {
		if !claimed[n.ID] {
			orphans.notes = append(orphans.notes, n)
		}
	}
	if len(orphans.notes) > 0 {
		sort.Slice(orphans.notes, func(i, j int) bool {
			return orphans.notes[i].ID.String() < orphans.notes[j].ID.String()
		})
		buckets = append(buckets, orphans)
	}
	return buckets
}

func (b *Builder) synthesizeTopic(ctx context.Context, ownerID uuid.UUID, fileKey string, bkt bucket, tagsByNote map[uuid.UUID][]string) (*types.BrainFile, error) {
	res, err := b.registry.Local().Generate(ctx, llm.GenerateRequest{
		Model: b.cfg.Model,
		Messages: []llm.Message{
			{Role: types.RoleSystem, Content: topicSynthSystem},
			{Role: types.RoleUser, Content: topicPrompt(bkt.notes)},
		},
		Temperature: b.cfg.Temperature,
		MaxTokens:   maxTopicTokens,
	})
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(res.Content)
	if content == "" {
		return nil, fmt.Errorf("model returned empty topic content")
	}

	keywords := extractKeywords(content, bkt.notes, tagsByNote)
	kwJSON, err := json.Marshal(keywords)
	if err != nil {
		return nil, fmt.Errorf("marshal keywords: %w", err)
	}
	idsJSON, err := json.Marshal(noteIDsOf(bkt.notes))
	if err != nil {
		return nil, fmt.Errorf("marshal source notes: %w", err)
	}
	cid := bkt.communityID
	return &types.BrainFile{
		OwnerID:          ownerID,
		FileKey:          fileKey,
		FileType:         types.BrainFileTopic,
		Title:            topicTitle(content, bkt.notes),
		Content:          content,
		CommunityID:      &cid,
		TopicKeywords:    kwJSON,
		SourceNoteIDs:    idsJSON,
		TokenCountApprox: tokensApprox(content),
	}, nil
}

func (b *Builder) compressTopic(ctx context.Context, topic *types.BrainFile) error {
	res, err := b.registry.Local().Generate(ctx, llm.GenerateRequest{
		Model: b.cfg.Model,
		Messages: []llm.Message{
			{Role: types.RoleSystem, Content: compressSystem},
			{Role: types.RoleUser, Content: truncateRunes(topic.Content, 6000)},
		},
		Temperature: b.cfg.Temperature,
		MaxTokens:   maxCompressTokens,
	})
	if err != nil {
		return err
	}
	compressed := strings.TrimSpace(res.Content)
	if compressed == "" {
		return fmt.Errorf("model returned empty summary")
	}
	topic.CompressedContent = compressed
	topic.CompressedTokenCount = tokensApprox(compressed)
	return nil
}

// coreFiles regenerates the always-loaded tier. Soul is only rewritten while
// the owner has never edited it, and memory is never touched by a build: it
// belongs to the evolution path.
func (b *Builder) coreFiles(ctx context.Context, dbc dbctx.Context, ownerID uuid.UUID, topics []*types.BrainFile) ([]*types.BrainFile, error) {
	out := make([]*types.BrainFile, 0, 4)

	soul, err := b.files.GetByKey(dbc, ownerID, types.BrainFileSoul)
	if err != nil {
		return nil, fmt.Errorf("load soul: %w", err)
	}
	if soul == nil || !soul.IsUserEdited {
		out = append(out, coreFile(ownerID, types.BrainFileSoul, "Soul", defaultSoul))
	}

	knowledgeMap := assembleKnowledgeMap(topics)
	out = append(out, coreFile(ownerID, types.BrainFileMnemosyne, "Knowledge Map", knowledgeMap))
	out = append(out, coreFile(ownerID, types.BrainFileAskimap, "Question Routing", assembleAskimap(topics)))

	profile, err := b.generateProfile(ctx, topics)
	if err != nil {
		return nil, fmt.Errorf("generate profile: %w", err)
	}
	out = append(out, coreFile(ownerID, types.BrainFileUserProfile, "User Profile", profile))
	return out, nil
}

func coreFile(ownerID uuid.UUID, key, title, content string) *types.BrainFile {
	return &types.BrainFile{
		OwnerID:          ownerID,
		FileKey:          key,
		FileType:         key,
		Title:            title,
		Content:          content,
		TokenCountApprox: tokensApprox(content),
	}
}

func (b *Builder) generateProfile(ctx context.Context, topics []*types.BrainFile) (string, error) {
	var sb strings.Builder
	for _, t := range topics {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Title, strings.Join(decodeKeywords(t.TopicKeywords), ", "))
	}
	res, err := b.registry.Local().Generate(ctx, llm.GenerateRequest{
		Model: b.cfg.Model,
		Messages: []llm.Message{
			{Role: types.RoleSystem, Content: profileSystem},
			{Role: types.RoleUser, Content: sb.String()},
		},
		Temperature: b.cfg.Temperature,
		MaxTokens:   maxProfileTokens,
	})
	if err != nil {
		return "", err
	}
	profile := strings.TrimSpace(res.Content)
	if profile == "" {
		return "", fmt.Errorf("model returned empty profile")
	}
	return profile, nil
}

// persist stamps hashes, attaches embeddings best-effort, and swaps the new
// file set in atomically. Topics that no longer exist are deleted in the
// same transaction so the knowledge map never references a missing file.
func (b *Builder) persist(ctx context.Context, ownerID uuid.UUID, topics, core []*types.BrainFile) error {
	files := make([]*types.BrainFile, 0, len(topics)+len(core))
	files = append(files, topics...)
	files = append(files, core...)

	for _, f := range files {
		f.ContentHash = contentHash(f.Content)
	}
	b.attachEmbeddings(ctx, files)

	keepKeys := make([]string, 0, len(topics))
	for _, t := range topics {
		keepKeys = append(keepKeys, t.FileKey)
	}
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.WithTx(ctx, tx)
		for _, f := range files {
			if err := b.files.Upsert(txc, f); err != nil {
				return fmt.Errorf("upsert %s: %w", f.FileKey, err)
			}
		}
		if _, err := b.files.DeleteTopicsNotIn(txc, ownerID, keepKeys); err != nil {
			return fmt.Errorf("prune topics: %w", err)
		}
		return b.files.ClearStale(txc, ownerID)
	})
}

// attachEmbeddings embeds the head of each file for topic matching. The
// brain works without embeddings (keyword matching still runs), so failures
// degrade rather than abort.
func (b *Builder) attachEmbeddings(ctx context.Context, files []*types.BrainFile) {
	texts := make([]string, len(files))
	for i, f := range files {
		texts[i] = truncateRunes(f.Content, embedPrefixChars)
	}
	vecs, err := b.embedder.BatchEmbed(ctx, texts)
	if err != nil || len(vecs) != len(files) {
		b.log.Warn("Brain file embeddings unavailable", "count", len(files), "error", err)
		return
	}
	for i, f := range files {
		v := pgvector.NewVector(vecs[i])
		f.Embedding = &v
	}
}

func (b *Builder) progress(dbc dbctx.Context, logID uuid.UUID, step string, pct int) {
	if pct > 99 {
		pct = 99
	}
	if err := b.logs.UpdateFields(dbc, logID, map[string]interface{}{
		"current_step": step,
		"progress_pct": pct,
	}); err != nil {
		b.log.Warn("Build progress update failed", "step", step, "error", err)
	}
}

func (b *Builder) failLog(ctx context.Context, logID uuid.UUID, buildErr error) {
	dbc := dbctx.New(context.WithoutCancel(ctx))
	completed := time.Now()
	if err := b.logs.UpdateFields(dbc, logID, map[string]interface{}{
		"status":       types.BuildFailed,
		"error":        truncateRunes(buildErr.Error(), maxErrorChars),
		"completed_at": &completed,
	}); err != nil {
		b.log.Error("Build log failure update failed", "build_log_id", logID, "error", err)
	}
}

// topicPrompt renders the bucket for the model: most recent notes first,
// capped so one oversized community cannot blow the context window.
func topicPrompt(notes []*types.Note) string {
	recent := make([]*types.Note, len(notes))
	copy(recent, notes)
	sort.Slice(recent, func(i, j int) bool { return recent[i].UpdatedAt.After(recent[j].UpdatedAt) })
	if len(recent) > maxNotesPerPrompt {
		recent = recent[:maxNotesPerPrompt]
	}
	var sb strings.Builder
	sb.WriteString("NOTES:\n")
	for _, n := range recent {
		fmt.Fprintf(&sb, "\n## %s\n%s\n", n.Title, truncateRunes(n.Content, noteExcerptChars))
	}
	return sb.String()
}

// topicTitle takes the model's own H1 when present, otherwise falls back to
// the first note title so the file is never unlabeled.
func topicTitle(content string, notes []*types.Note) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "# "); ok {
			if t := strings.TrimSpace(after); t != "" {
				return t
			}
		}
	}
	if len(notes) > 0 {
		return notes[0].Title + " & related"
	}
	return "Untitled topic"
}

// assembleKnowledgeMap concatenates the compressed topic summaries into the
// mnemosyne file. Deterministic on purpose: it must always reflect exactly
// the topics that exist.
func assembleKnowledgeMap(topics []*types.BrainFile) string {
	sorted := make([]*types.BrainFile, len(topics))
	copy(sorted, topics)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FileKey < sorted[j].FileKey })

	var sb strings.Builder
	sb.WriteString("# Knowledge Map\n")
	for _, t := range sorted {
		summary := strings.TrimSpace(t.CompressedContent)
		if summary == "" {
			summary = truncateRunes(strings.TrimSpace(t.Content), 200)
		}
		fmt.Fprintf(&sb, "\n## %s\n%s\n", t.Title, summary)
	}
	return sb.String()
}

// assembleAskimap writes the routing table the chat prompt uses to tell the
// model which topic files cover what.
func assembleAskimap(topics []*types.BrainFile) string {
	sorted := make([]*types.BrainFile, len(topics))
	copy(sorted, topics)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FileKey < sorted[j].FileKey })

	var sb strings.Builder
	sb.WriteString("# Question Routing\n\nMatch a question to the topic files below by keyword.\n")
	for _, t := range sorted {
		fmt.Fprintf(&sb, "\n- %s [%s]", t.Title, t.FileKey)
		if kws := decodeKeywords(t.TopicKeywords); len(kws) > 0 {
			sb.WriteString(": " + strings.Join(kws, ", "))
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

func noteIDsOf(notes []*types.Note) []uuid.UUID {
	ids := make([]uuid.UUID, len(notes))
	for i, n := range notes {
		ids[i] = n.ID
	}
	return ids
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func tokensApprox(s string) int {
	return len(s) / 4
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
