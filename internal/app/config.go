package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/utils"
)

// Config is everything read from the environment at startup. Model knobs and
// thresholds get defaults; secrets and keys are validated loudly so a
// misconfigured deployment dies at boot instead of at the first request.
type Config struct {
	// Auth
	JWTSecretKey   string
	AccessTokenTTL time.Duration

	// Models
	ModelServerURL      string
	DefaultTextModel    string
	DefaultTextModelCtx int
	DefaultBrainModel   string
	DefaultVisionModel  string
	EmbeddingModel      string
	EmbeddingDim        int

	// Generation
	RAGTemperature   float64
	BrainTemperature float64
	RAGTokenBudget   int
	BrainTokenBudget int

	// Graph
	SemanticEdgeThreshold float64

	// Circuit breaker
	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration

	// Secrets
	APIKeyEncryptionKey string

	// Uploads
	UploadDir      string
	MaxUploadBytes int64

	// Infra
	RedisAddr         string
	RunServer         bool
	RunWorker         bool
	WorkerConcurrency int
	ServerAddr        string
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		JWTSecretKey:   utils.GetEnv("JWT_SECRET_KEY", "", log),
		AccessTokenTTL: time.Duration(utils.GetEnvAsInt("ACCESS_TOKEN_TTL", 86400, log)) * time.Second,

		ModelServerURL:      utils.GetEnv("MODEL_SERVER_URL", "http://localhost:11434", log),
		DefaultTextModel:    utils.GetEnv("DEFAULT_TEXT_MODEL", "qwen3:8b", log),
		DefaultTextModelCtx: utils.GetEnvAsInt("DEFAULT_TEXT_MODEL_CTX", 8192, log),
		DefaultBrainModel:   utils.GetEnv("DEFAULT_BRAIN_MODEL", "qwen3:8b", log),
		DefaultVisionModel:  utils.GetEnv("DEFAULT_VISION_MODEL", "qwen2.5vl:7b", log),
		EmbeddingModel:      utils.GetEnv("EMBEDDING_MODEL", "nomic-embed-text", log),
		EmbeddingDim:        utils.GetEnvAsInt("EMBEDDING_DIM", 768, log),

		RAGTemperature:   utils.GetEnvAsFloat("RAG_TEMPERATURE", 0.3, log),
		BrainTemperature: utils.GetEnvAsFloat("BRAIN_TEMPERATURE", 0.4, log),
		RAGTokenBudget:   utils.GetEnvAsInt("RAG_TOKEN_BUDGET", 4000, log),
		BrainTokenBudget: utils.GetEnvAsInt("BRAIN_TOKEN_BUDGET", 8000, log),

		SemanticEdgeThreshold: utils.GetEnvAsFloat("SEMANTIC_EDGE_THRESHOLD", 0.7, log),

		BreakerFailureThreshold: utils.GetEnvAsInt("BREAKER_FAILURE_THRESHOLD", 3, log),
		BreakerRecoveryTimeout:  time.Duration(utils.GetEnvAsInt("BREAKER_RECOVERY_SECONDS", 30, log)) * time.Second,

		APIKeyEncryptionKey: utils.GetEnv("API_KEY_ENCRYPTION_KEY", "", log),

		UploadDir:      utils.GetEnv("UPLOAD_DIR", "./uploads", log),
		MaxUploadBytes: int64(utils.GetEnvAsInt("MAX_UPLOAD_BYTES", 50*1024*1024, log)),

		RedisAddr:         strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "", log)),
		RunServer:         utils.GetEnvAsBool("RUN_SERVER", true, log),
		RunWorker:         utils.GetEnvAsBool("RUN_WORKER", true, log),
		WorkerConcurrency: utils.GetEnvAsInt("WORKER_CONCURRENCY", 2, log),
		ServerAddr:        utils.GetEnv("SERVER_ADDR", ":8080", log),
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.JWTSecretKey) == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if strings.TrimSpace(c.APIKeyEncryptionKey) == "" {
		return fmt.Errorf("API_KEY_ENCRYPTION_KEY is required")
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim)
	}
	if c.SemanticEdgeThreshold < 0 || c.SemanticEdgeThreshold > 1 {
		return fmt.Errorf("SEMANTIC_EDGE_THRESHOLD must be in [0,1], got %v", c.SemanticEdgeThreshold)
	}
	if c.BreakerFailureThreshold <= 0 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be positive, got %d", c.BreakerFailureThreshold)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if !c.RunServer && !c.RunWorker {
		return fmt.Errorf("at least one of RUN_SERVER / RUN_WORKER must be enabled")
	}
	return nil
}
