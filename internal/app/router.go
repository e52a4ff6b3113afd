package app

import (
	"github.com/gin-gonic/gin"

	internalhttp "github.com/Simmak7/project-Mnemosyne-sub001/internal/http"
)

func wireRouter(handlers Handlers, middleware Middleware) *gin.Engine {
	return internalhttp.NewRouter(internalhttp.RouterConfig{
		AuthHandler:    handlers.Auth,
		AuthMiddleware: middleware.Auth,

		NoteHandler:         handlers.Note,
		DocumentHandler:     handlers.Document,
		ImageHandler:        handlers.Image,
		TagHandler:          handlers.Tag,
		ConversationHandler: handlers.Conversation,
		NexusHandler:        handlers.Nexus,
		BrainHandler:        handlers.Brain,
		ProviderHandler:     handlers.Provider,
		TaskHandler:         handlers.Task,
		RealtimeHandler:     handlers.Realtime,

		HealthHandler: handlers.Health,
	})
}
