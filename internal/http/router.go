package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/Simmak7/project-Mnemosyne-sub001/internal/http/handlers"
	httpMW "github.com/Simmak7/project-Mnemosyne-sub001/internal/http/middleware"
)

type RouterConfig struct {
	AuthHandler    *httpH.AuthHandler
	AuthMiddleware *httpMW.AuthMiddleware

	NoteHandler         *httpH.NoteHandler
	DocumentHandler     *httpH.DocumentHandler
	ImageHandler        *httpH.ImageHandler
	TagHandler          *httpH.TagHandler
	ConversationHandler *httpH.ConversationHandler
	NexusHandler        *httpH.NexusHandler
	BrainHandler        *httpH.BrainHandler
	ProviderHandler     *httpH.ProviderHandler
	TaskHandler         *httpH.TaskHandler
	RealtimeHandler     *httpH.RealtimeHandler

	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		// Auth (public)
		if cfg.AuthHandler != nil {
			api.POST("/register", cfg.AuthHandler.Register)
			api.POST("/login", cfg.AuthHandler.Login)
		}
		if cfg.HealthHandler != nil {
			api.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		}
	}

	protected := api.Group("/")
	{
		// Middleware
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			protected.GET("/sse/stream", cfg.RealtimeHandler.Stream)
		}

		// Notes
		if cfg.NoteHandler != nil {
			protected.POST("/notes", cfg.NoteHandler.Create)
			protected.GET("/notes", cfg.NoteHandler.List)
			protected.GET("/notes/:id", cfg.NoteHandler.Get)
			protected.PATCH("/notes/:id", cfg.NoteHandler.Update)
			protected.DELETE("/notes/:id", cfg.NoteHandler.Delete)
			protected.POST("/notes/:id/restore", cfg.NoteHandler.Restore)
			protected.POST("/notes/:id/favorite", cfg.NoteHandler.Favorite)
		}

		// Documents
		if cfg.DocumentHandler != nil {
			protected.POST("/documents", cfg.DocumentHandler.Upload)
			protected.GET("/documents", cfg.DocumentHandler.List)
			protected.GET("/documents/:id", cfg.DocumentHandler.Get)
			protected.DELETE("/documents/:id", cfg.DocumentHandler.Delete)
		}

		// Images
		if cfg.ImageHandler != nil {
			protected.POST("/images", cfg.ImageHandler.Upload)
			protected.GET("/images", cfg.ImageHandler.List)
			protected.GET("/images/:id", cfg.ImageHandler.Get)
			protected.DELETE("/images/:id", cfg.ImageHandler.Delete)
		}

		// Tags
		if cfg.TagHandler != nil {
			protected.GET("/tags", cfg.TagHandler.List)
		}

		// NEXUS
		if cfg.NexusHandler != nil {
			protected.POST("/nexus/query", cfg.NexusHandler.Query)
			protected.GET("/nexus/suggestions", cfg.NexusHandler.ListSuggestions)
			protected.POST("/nexus/suggestions/:id/accept", cfg.NexusHandler.AcceptSuggestion)
			protected.POST("/nexus/suggestions/:id/dismiss", cfg.NexusHandler.DismissSuggestion)
			protected.POST("/nexus/consolidate", cfg.NexusHandler.Consolidate)
			protected.GET("/nexus/graph", cfg.NexusHandler.Graph)
			protected.POST("/nexus/graph/positions/:noteId", cfg.NexusHandler.PinPosition)
			protected.DELETE("/nexus/graph/positions/:noteId", cfg.NexusHandler.UnpinPosition)
		}

		// Brain
		if cfg.BrainHandler != nil {
			protected.POST("/brain/build", cfg.BrainHandler.Build)
			protected.GET("/brain/files", cfg.BrainHandler.ListFiles)
			protected.PATCH("/brain/files/:key", cfg.BrainHandler.PatchFile)
			protected.POST("/brain/chat", cfg.BrainHandler.Chat)
			protected.GET("/brain/conversations", cfg.BrainHandler.ListConversations)
			protected.GET("/brain/conversations/:id", cfg.BrainHandler.GetConversation)
		}

		// Conversations
		if cfg.ConversationHandler != nil {
			protected.GET("/conversations", cfg.ConversationHandler.List)
			protected.GET("/conversations/:id", cfg.ConversationHandler.Get)
		}

		// Providers and models
		if cfg.ProviderHandler != nil {
			protected.GET("/models", cfg.ProviderHandler.ListModels)
			protected.POST("/models/pull", cfg.ProviderHandler.PullModel)
			protected.DELETE("/models/:name", cfg.ProviderHandler.DeleteModel)
			protected.POST("/providers/keys", cfg.ProviderHandler.UpsertKey)
			protected.DELETE("/providers/keys/:provider", cfg.ProviderHandler.DeleteKey)
			protected.GET("/providers/health", cfg.ProviderHandler.Health)
			protected.GET("/providers/usage", cfg.ProviderHandler.Usage)
		}

		// Tasks
		if cfg.TaskHandler != nil {
			protected.GET("/tasks/:id", cfg.TaskHandler.Get)
		}
	}

	return r
}
