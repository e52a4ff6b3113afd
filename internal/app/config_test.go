package app

import (
	"strings"
	"testing"
	"time"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
)

func validConfig() Config {
	return Config{
		JWTSecretKey:            "secret",
		APIKeyEncryptionKey:     "0123456789abcdef0123456789abcdef",
		EmbeddingDim:            768,
		SemanticEdgeThreshold:   0.7,
		BreakerFailureThreshold: 3,
		MaxUploadBytes:          1024,
		RunServer:               true,
		RunWorker:               true,
	}
}

func TestConfigValidateOK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestConfigValidateFailures(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"missing jwt secret", func(c *Config) { c.JWTSecretKey = "  " }, "JWT_SECRET_KEY"},
		{"missing encryption key", func(c *Config) { c.APIKeyEncryptionKey = "" }, "API_KEY_ENCRYPTION_KEY"},
		{"zero embedding dim", func(c *Config) { c.EmbeddingDim = 0 }, "EMBEDDING_DIM"},
		{"threshold above one", func(c *Config) { c.SemanticEdgeThreshold = 1.5 }, "SEMANTIC_EDGE_THRESHOLD"},
		{"threshold negative", func(c *Config) { c.SemanticEdgeThreshold = -0.1 }, "SEMANTIC_EDGE_THRESHOLD"},
		{"zero breaker threshold", func(c *Config) { c.BreakerFailureThreshold = 0 }, "BREAKER_FAILURE_THRESHOLD"},
		{"zero upload cap", func(c *Config) { c.MaxUploadBytes = 0 }, "MAX_UPLOAD_BYTES"},
		{"both roles disabled", func(c *Config) { c.RunServer, c.RunWorker = false, false }, "RUN_SERVER"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("err %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	log := logger.NewNop()
	cfg := LoadConfig(log)

	if cfg.ModelServerURL != "http://localhost:11434" {
		t.Fatalf("ModelServerURL = %q", cfg.ModelServerURL)
	}
	if cfg.AccessTokenTTL != 24*time.Hour {
		t.Fatalf("AccessTokenTTL = %v, want 24h", cfg.AccessTokenTTL)
	}
	if cfg.EmbeddingDim != 768 {
		t.Fatalf("EmbeddingDim = %d, want 768", cfg.EmbeddingDim)
	}
	if !cfg.RunServer || !cfg.RunWorker {
		t.Fatal("both roles should default on")
	}
	if cfg.ServerAddr != ":8080" {
		t.Fatalf("ServerAddr = %q, want :8080", cfg.ServerAddr)
	}
}

func TestLoadConfigReadsEnvironment(t *testing.T) {
	t.Setenv("DEFAULT_TEXT_MODEL", "llama3:70b")
	t.Setenv("EMBEDDING_DIM", "1024")
	t.Setenv("RUN_WORKER", "false")
	t.Setenv("SEMANTIC_EDGE_THRESHOLD", "0.85")

	cfg := LoadConfig(logger.NewNop())
	if cfg.DefaultTextModel != "llama3:70b" {
		t.Fatalf("DefaultTextModel = %q", cfg.DefaultTextModel)
	}
	if cfg.EmbeddingDim != 1024 {
		t.Fatalf("EmbeddingDim = %d", cfg.EmbeddingDim)
	}
	if cfg.RunWorker {
		t.Fatal("RUN_WORKER=false not honored")
	}
	if cfg.SemanticEdgeThreshold != 0.85 {
		t.Fatalf("SemanticEdgeThreshold = %v", cfg.SemanticEdgeThreshold)
	}
}
