package app

import (
	httpH "github.com/Simmak7/project-Mnemosyne-sub001/internal/http/handlers"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/sse"
)

type Handlers struct {
	Auth     *httpH.AuthHandler
	Health   *httpH.HealthHandler
	Realtime *httpH.RealtimeHandler

	Note         *httpH.NoteHandler
	Document     *httpH.DocumentHandler
	Image        *httpH.ImageHandler
	Tag          *httpH.TagHandler
	Conversation *httpH.ConversationHandler

	Nexus    *httpH.NexusHandler
	Brain    *httpH.BrainHandler
	Provider *httpH.ProviderHandler
	Task     *httpH.TaskHandler
}

func wireHandlers(log *logger.Logger, services Services, hub *sse.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Auth:     httpH.NewAuthHandler(services.Auth),
		Health:   httpH.NewHealthHandler(),
		Realtime: httpH.NewRealtimeHandler(log, hub),

		Note:         httpH.NewNoteHandler(services.Note),
		Document:     httpH.NewDocumentHandler(services.Document),
		Image:        httpH.NewImageHandler(services.Image),
		Tag:          httpH.NewTagHandler(services.Tag),
		Conversation: httpH.NewConversationHandler(services.Conversation),

		Nexus:    httpH.NewNexusHandler(services.Nexus, services.NexusAdmin, log),
		Brain:    httpH.NewBrainHandler(services.BrainChat, services.BrainAdmin, log),
		Provider: httpH.NewProviderHandler(services.Provider, log),
		Task:     httpH.NewTaskHandler(services.Task),
	}
}
