package app

import (
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
)

type Repos struct {
	User   repos.UserRepo
	APIKey repos.UserAPIKeyRepo

	Note          repos.NoteRepo
	NoteChunk     repos.NoteChunkRepo
	Document      repos.DocumentRepo
	DocumentChunk repos.DocumentChunkRepo
	Image         repos.ImageRepo
	ImageChunk    repos.ImageChunkRepo
	Tag           repos.TagRepo

	NoteLink       repos.NoteLinkRepo
	SemanticEdge   repos.SemanticEdgeRepo
	Community      repos.CommunityRepo
	GraphPosition  repos.GraphPositionRepo
	NavCache       repos.NavigationCacheRepo
	Importance     repos.ImportanceScoreRepo
	LinkSuggestion repos.LinkSuggestionRepo
	AccessPattern  repos.AccessPatternRepo

	Conversation      repos.ConversationRepo
	Citation          repos.CitationRepo
	BrainFile         repos.BrainFileRepo
	BrainBuildLog     repos.BrainBuildLogRepo
	BrainConversation repos.BrainConversationRepo

	UsageLog repos.UsageLogRepo
	Task     repos.BackgroundTaskRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		User:   repos.NewUserRepo(db, log),
		APIKey: repos.NewUserAPIKeyRepo(db, log),

		Note:          repos.NewNoteRepo(db, log),
		NoteChunk:     repos.NewNoteChunkRepo(db, log),
		Document:      repos.NewDocumentRepo(db, log),
		DocumentChunk: repos.NewDocumentChunkRepo(db, log),
		Image:         repos.NewImageRepo(db, log),
		ImageChunk:    repos.NewImageChunkRepo(db, log),
		Tag:           repos.NewTagRepo(db, log),

		NoteLink:       repos.NewNoteLinkRepo(db, log),
		SemanticEdge:   repos.NewSemanticEdgeRepo(db, log),
		Community:      repos.NewCommunityRepo(db, log),
		GraphPosition:  repos.NewGraphPositionRepo(db, log),
		NavCache:       repos.NewNavigationCacheRepo(db, log),
		Importance:     repos.NewImportanceScoreRepo(db, log),
		LinkSuggestion: repos.NewLinkSuggestionRepo(db, log),
		AccessPattern:  repos.NewAccessPatternRepo(db, log),

		Conversation:      repos.NewConversationRepo(db, log),
		Citation:          repos.NewCitationRepo(db, log),
		BrainFile:         repos.NewBrainFileRepo(db, log),
		BrainBuildLog:     repos.NewBrainBuildLogRepo(db, log),
		BrainConversation: repos.NewBrainConversationRepo(db, log),

		UsageLog: repos.NewUsageLogRepo(db, log),
		Task:     repos.NewBackgroundTaskRepo(db, log),
	}
}
