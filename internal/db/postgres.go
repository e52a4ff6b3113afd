package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "mnemosyne", log)
	postgresSSL := utils.GetEnv("POSTGRES_SSLMODE", "disable", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		postgresUser, postgresPassword, postgresHost, postgresPort, postgresName, postgresSSL)

	serviceLog.Info("Connecting to Postgres...")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	for _, ext := range []string{"uuid-ossp", "vector"} {
		if err := db.Exec(fmt.Sprintf(`CREATE EXTENSION IF NOT EXISTS %q;`, ext)).Error; err != nil {
			serviceLog.Error("Failed to enable extension", "extension", ext, "error", err)
			return nil, fmt.Errorf("enable extension %s: %w", ext, err)
		}
	}
	serviceLog.Info("Postgres extensions enabled", "extensions", "uuid-ossp, vector")

	return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.User{},
		&types.UserAPIKey{},
		&types.Note{},
		&types.NoteChunk{},
		&types.Document{},
		&types.DocumentChunk{},
		&types.Image{},
		&types.ImageChunk{},
		&types.Tag{},
		&types.NoteTag{},
		&types.ImageTag{},
		&types.NoteLink{},
		&types.SemanticEdge{},
		&types.CommunityMetadata{},
		&types.GraphPosition{},
		&types.NexusNavigationCache{},
		&types.NexusImportanceScore{},
		&types.NexusLinkSuggestion{},
		&types.NexusAccessPattern{},
		&types.Conversation{},
		&types.ChatMessage{},
		&types.MessageCitation{},
		&types.NexusCitation{},
		&types.BrainFile{},
		&types.BrainBuildLog{},
		&types.BrainConversation{},
		&types.BrainMessage{},
		&types.AIUsageLog{},
		&types.BackgroundTask{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}
	return s.ensureIndexes()
}

// ensureIndexes creates the vector and fulltext indexes AutoMigrate cannot
// express. IVFFlat needs rows to build useful lists; lists=100 suits the
// single-user scale this runs at.
func (s *PostgresService) ensureIndexes() error {
	s.log.Info("Ensuring vector and fulltext indexes...")
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_notes_embedding ON notes
		   USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);`,
		`CREATE INDEX IF NOT EXISTS idx_note_chunks_embedding ON note_chunks
		   USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);`,
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding ON document_chunks
		   USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);`,
		`CREATE INDEX IF NOT EXISTS idx_image_chunks_embedding ON image_chunks
		   USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);`,
		`CREATE INDEX IF NOT EXISTS idx_images_embedding ON images
		   USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);`,
		`CREATE INDEX IF NOT EXISTS idx_brain_files_embedding ON brain_files
		   USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);`,
		`CREATE INDEX IF NOT EXISTS idx_notes_fts ON notes
		   USING gin (to_tsvector('english', coalesce(title,'') || ' ' || coalesce(content,'')));`,
		`CREATE INDEX IF NOT EXISTS idx_note_chunks_fts ON note_chunks
		   USING gin (to_tsvector('english', content));`,
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_fts ON document_chunks
		   USING gin (to_tsvector('english', content));`,
	}
	for _, stmt := range stmts {
		if err := s.db.Exec(stmt).Error; err != nil {
			s.log.Error("Index creation failed", "error", err)
			return fmt.Errorf("ensure index: %w", err)
		}
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
