package app

import (
	"fmt"
	"time"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/clients/redis"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
)

// Clients holds the optional out-of-process connections. Redis is the only
// one: without REDIS_ADDR both fields stay nil and the app runs fully
// in-process (hub-local SSE, in-memory model status cache).
type Clients struct {
	SSEBus     redis.SSEBus
	ModelCache *redis.ModelCache
}

func wireClients(cfg Config, log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not set, running without redis")
		return Clients{}, nil
	}

	bus, err := redis.NewSSEBus(cfg.RedisAddr, "events", log)
	if err != nil {
		return Clients{}, fmt.Errorf("init redis SSE bus: %w", err)
	}

	cache, err := redis.NewModelCache(cfg.RedisAddr, 5*time.Minute, log)
	if err != nil {
		_ = bus.Close()
		return Clients{}, fmt.Errorf("init redis model cache: %w", err)
	}

	return Clients{SSEBus: bus, ModelCache: cache}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.ModelCache != nil {
		_ = c.ModelCache.Close()
	}
	if c.SSEBus != nil {
		_ = c.SSEBus.Close()
	}
}
