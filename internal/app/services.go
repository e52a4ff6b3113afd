package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/brain"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/embedding"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/graph"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/llm"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/navigator"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/nexus"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/search"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/secrets"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/services"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/sse"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/tasks"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/tasks/pipeline"
)

type Services struct {
	// Auth + CRUD
	Auth     services.AuthService
	Note     services.NoteService
	Document services.DocumentService
	Image    services.ImageService
	Tag      services.TagService

	// Retrieval + generation
	Nexus      nexus.Service
	NexusAdmin services.NexusAdminService
	BrainChat  brain.ChatService
	BrainAdmin services.BrainAdminService

	Conversation services.ConversationService
	Provider     services.ProviderService

	// Task intake + worker
	Task         services.TaskService
	TaskRegistry *tasks.Registry
	TaskWorker   *tasks.Worker
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, hub *sse.SSEHub, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	box, err := secrets.NewBox(cfg.APIKeyEncryptionKey)
	if err != nil {
		return Services{}, fmt.Errorf("init secret box: %w", err)
	}

	registry := llm.NewRegistry(llm.RegistryOptions{
		LocalBaseURL:     cfg.ModelServerURL,
		FailureThreshold: cfg.BreakerFailureThreshold,
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
	}, reposet.APIKey, box, log)

	usage := llm.NewUsageLogger(reposet.UsageLog, log)

	embedder := embedding.NewClient(log, embedding.Config{
		BaseURL:   cfg.ModelServerURL,
		Model:     cfg.EmbeddingModel,
		Dimension: cfg.EmbeddingDim,
	})

	searchSvc := search.NewService(db, log)
	navSvc := navigator.NewService(reposet.NavCache, reposet.Note, log)
	diffuser := graph.NewDiffuser(reposet.Note, reposet.NoteLink, reposet.SemanticEdge, reposet.Tag, log)
	assembler := nexus.NewAssembler(
		reposet.Note, reposet.Document, reposet.Image,
		reposet.NoteLink, reposet.Tag, reposet.Community, reposet.AccessPattern,
		log,
	)

	nexusSvc := nexus.NewService(
		nexus.Config{
			DefaultProvider: llm.ProviderLocal,
			DefaultModel:    cfg.DefaultTextModel,
			Temperature:     cfg.RAGTemperature,
			MaxTokens:       cfg.DefaultTextModelCtx / 2,
			ContextBudget:   cfg.RAGTokenBudget,
		},
		searchSvc, navSvc, diffuser, assembler, embedder, registry, usage,
		reposet.NavCache, reposet.Conversation, reposet.Citation,
		reposet.AccessPattern, reposet.Task,
		log,
	)

	consolidator := graph.NewConsolidator(
		db,
		reposet.Note, reposet.NoteLink, reposet.SemanticEdge, reposet.Tag,
		reposet.Importance, reposet.Community, reposet.GraphPosition,
		reposet.LinkSuggestion, reposet.NavCache,
		graph.ConsolidateOptions{EdgeThreshold: cfg.SemanticEdgeThreshold},
		log,
	)

	brainCfg := brain.Config{
		Model:       cfg.DefaultBrainModel,
		Temperature: cfg.BrainTemperature,
		TokenBudget: cfg.BrainTokenBudget,
	}
	builder := brain.NewBuilder(
		db,
		reposet.Note, reposet.NoteLink, reposet.SemanticEdge, reposet.Tag,
		reposet.BrainFile, reposet.BrainBuildLog,
		registry, embedder, brainCfg,
		log,
	)
	evolver := brain.NewEvolver(reposet.BrainFile, reposet.BrainConversation, registry, brainCfg, log)
	incremental := brain.NewIncremental(builder, log)
	brainChat := brain.NewChatService(
		brainCfg,
		reposet.BrainFile, reposet.BrainConversation, reposet.Task,
		registry, embedder, usage,
		log,
	)

	// The API process broadcasts straight into its hub; a worker-only
	// process publishes over Redis so the API replicas can fan out.
	var emitter services.SSEEmitter
	if cfg.RunServer {
		emitter = &services.HubEmitter{Hub: hub}
	} else {
		if clients.SSEBus == nil {
			return Services{}, fmt.Errorf("RUN_WORKER without RUN_SERVER requires REDIS_ADDR for event fanout")
		}
		emitter = &services.RedisEmitter{Bus: clients.SSEBus}
	}
	notifier := services.NewTaskNotifier(emitter)

	taskSvc := services.NewTaskService(reposet.Task, notifier, log)
	authSvc := services.NewAuthService(reposet.User, cfg.JWTSecretKey, cfg.AccessTokenTTL, log)
	noteSvc := services.NewNoteService(
		db,
		reposet.Note, reposet.NoteLink, reposet.Tag, reposet.LinkSuggestion,
		reposet.SemanticEdge, reposet.Importance, reposet.GraphPosition,
		taskSvc, log,
	)

	uploadCfg := services.UploadConfig{Dir: cfg.UploadDir, MaxBytes: cfg.MaxUploadBytes}
	docSvc := services.NewDocumentService(reposet.Document, taskSvc, uploadCfg, log)
	imgSvc := services.NewImageService(reposet.Image, taskSvc, uploadCfg, log)

	var modelCache services.ModelStatusCache
	if clients.ModelCache != nil {
		modelCache = clients.ModelCache
	} else {
		modelCache = services.NewMemoryModelCache(0)
	}
	providerSvc := services.NewProviderService(registry, reposet.APIKey, reposet.UsageLog, box, modelCache, log)

	nexusAdmin := services.NewNexusAdminService(
		db,
		reposet.Note, reposet.NoteLink, reposet.SemanticEdge,
		reposet.LinkSuggestion, reposet.Community, reposet.GraphPosition,
		reposet.Importance,
		taskSvc, cfg.SemanticEdgeThreshold,
		log,
	)
	brainAdmin := services.NewBrainAdminService(reposet.BrainFile, reposet.BrainBuildLog, reposet.BrainConversation, reposet.Note, taskSvc, log)
	convSvc := services.NewConversationService(reposet.Conversation, reposet.Citation, log)
	tagSvc := services.NewTagService(reposet.Tag, log)

	// Background task handlers.
	taskRegistry := tasks.NewRegistry()
	opts := pipeline.Options{
		Model:       cfg.DefaultTextModel,
		VisionModel: cfg.DefaultVisionModel,
		Temperature: cfg.RAGTemperature,
	}
	handlers := []tasks.Handler{
		pipeline.NewNoteEmbed(reposet.Note, reposet.NoteChunk, embedder, log),
		pipeline.NewDocumentAnalyze(reposet.Document, reposet.Note, reposet.Tag, reposet.Task, registry, db, opts, log),
		pipeline.NewDocumentEmbed(reposet.Document, reposet.DocumentChunk, embedder, log),
		pipeline.NewImageAnalyze(reposet.Image, reposet.Note, reposet.Tag, reposet.ImageChunk, reposet.Task, registry, embedder, db, opts, log),
		pipeline.NewBrainBuild(builder, log),
		pipeline.NewBrainIncremental(incremental, log),
		pipeline.NewMemoryEvolve(evolver, log),
		pipeline.NewConversationSummary(reposet.Conversation, reposet.BrainConversation, registry, opts, log),
		pipeline.NewConsolidation(consolidator, log),
	}
	for _, h := range handlers {
		if err := taskRegistry.Register(h); err != nil {
			return Services{}, fmt.Errorf("register task handler: %w", err)
		}
	}

	worker := tasks.NewWorker(reposet.Task, taskRegistry, notifier, cfg.WorkerConcurrency, log)

	return Services{
		Auth:     authSvc,
		Note:     noteSvc,
		Document: docSvc,
		Image:    imgSvc,
		Tag:      tagSvc,

		Nexus:      nexusSvc,
		NexusAdmin: nexusAdmin,
		BrainChat:  brainChat,
		BrainAdmin: brainAdmin,

		Conversation: convSvc,
		Provider:     providerSvc,

		Task:         taskSvc,
		TaskRegistry: taskRegistry,
		TaskWorker:   worker,
	}, nil
}
