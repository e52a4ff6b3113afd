package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/llm"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
)

const modelCacheKey = "models:local"

// ModelCache shares the local model inventory across processes. A pull or
// delete in one process invalidates the key, so every API replica reflects
// the change on its next read.
type ModelCache struct {
	rdb *goredis.Client
	ttl time.Duration
	log *logger.Logger
}

func NewModelCache(addr string, ttl time.Duration, baseLog *logger.Logger) (*ModelCache, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &ModelCache{
		rdb: rdb,
		ttl: ttl,
		log: baseLog.With("client", "RedisModelCache"),
	}, nil
}

func (c *ModelCache) Get(ctx context.Context) ([]llm.ModelInfo, bool) {
	raw, err := c.rdb.Get(ctx, modelCacheKey).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.log.Warn("Model cache read failed", "error", err)
		}
		return nil, false
	}
	var models []llm.ModelInfo
	if err := json.Unmarshal(raw, &models); err != nil {
		c.log.Warn("Model cache entry corrupt, dropping", "error", err)
		_ = c.rdb.Del(ctx, modelCacheKey).Err()
		return nil, false
	}
	return models, true
}

func (c *ModelCache) Set(ctx context.Context, models []llm.ModelInfo) {
	raw, err := json.Marshal(models)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, modelCacheKey, raw, c.ttl).Err(); err != nil {
		c.log.Warn("Model cache write failed", "error", err)
	}
}

func (c *ModelCache) Invalidate(ctx context.Context) {
	if err := c.rdb.Del(ctx, modelCacheKey).Err(); err != nil {
		c.log.Warn("Model cache invalidation failed", "error", err)
	}
}

func (c *ModelCache) Close() error { return c.rdb.Close() }
