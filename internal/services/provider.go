package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/llm"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/secrets"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// ModelStatusCache holds the local model inventory between requests so the
// models endpoint does not hit the model server on every call. Pull and
// delete invalidate it; with Redis the invalidation reaches every process.
type ModelStatusCache interface {
	Get(ctx context.Context) ([]llm.ModelInfo, bool)
	Set(ctx context.Context, models []llm.ModelInfo)
	Invalidate(ctx context.Context)
}

// memoryModelCache is the single-process fallback when Redis is not
// configured.
type memoryModelCache struct {
	mu      sync.Mutex
	models  []llm.ModelInfo
	ttl     time.Duration
	setAt   time.Time
	hasData bool
}

func NewMemoryModelCache(ttl time.Duration) ModelStatusCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &memoryModelCache{ttl: ttl}
}

func (c *memoryModelCache) Get(context.Context) ([]llm.ModelInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasData || time.Since(c.setAt) > c.ttl {
		return nil, false
	}
	out := make([]llm.ModelInfo, len(c.models))
	copy(out, c.models)
	return out, true
}

func (c *memoryModelCache) Set(_ context.Context, models []llm.ModelInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = models
	c.setAt = time.Now()
	c.hasData = true
}

func (c *memoryModelCache) Invalidate(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasData = false
	c.models = nil
}

// ProviderHealth is one row of the providers health report.
type ProviderHealth struct {
	Provider     string `json:"provider"`
	Configured   bool   `json:"configured"`
	Healthy      bool   `json:"healthy"`
	BreakerState string `json:"breaker_state,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ModelsView is the models endpoint payload: the local inventory plus which
// cloud providers have keys on file.
type ModelsView struct {
	Local       []llm.ModelInfo `json:"local"`
	FromCache   bool            `json:"from_cache"`
	CloudKeys   []string        `json:"cloud_keys"`
	RetrievedAt time.Time       `json:"retrieved_at"`
}

// UsageView summarizes cloud AI spend over a trailing window.
type UsageView struct {
	WindowDays   int                 `json:"window_days"`
	TotalCostUSD float64             `json:"total_cost_usd"`
	Rows         []*types.AIUsageLog `json:"rows"`
}

const (
	defaultUsageWindowDays = 30
	maxUsageWindowDays     = 365
)

// ProviderService is the admin surface over the provider registry: model
// inventory and lifecycle on the local server, encrypted cloud credentials,
// health, and spend.
type ProviderService interface {
	ListModels(ctx context.Context, ownerID uuid.UUID) (*ModelsView, error)
	PullModel(ctx context.Context, name string, onProgress func(llm.PullProgress)) error
	DeleteModel(ctx context.Context, name string) error
	UpsertKey(ctx context.Context, ownerID uuid.UUID, provider, apiKey, baseURL string) error
	DeleteKey(ctx context.Context, ownerID uuid.UUID, provider string) error
	Health(ctx context.Context, ownerID uuid.UUID) ([]ProviderHealth, error)
	Usage(ctx context.Context, ownerID uuid.UUID, days int) (*UsageView, error)
}

type providerService struct {
	registry *llm.Registry
	apiKeys  repos.UserAPIKeyRepo
	usage    repos.UsageLogRepo
	box      *secrets.Box
	cache    ModelStatusCache
	log      *logger.Logger
}

func NewProviderService(
	registry *llm.Registry,
	apiKeys repos.UserAPIKeyRepo,
	usage repos.UsageLogRepo,
	box *secrets.Box,
	cache ModelStatusCache,
	baseLog *logger.Logger,
) ProviderService {
	if cache == nil {
		cache = NewMemoryModelCache(0)
	}
	return &providerService{
		registry: registry,
		apiKeys:  apiKeys,
		usage:    usage,
		box:      box,
		cache:    cache,
		log:      baseLog.With("service", "ProviderService"),
	}
}

func (s *providerService) ListModels(ctx context.Context, ownerID uuid.UUID) (*ModelsView, error) {
	view := &ModelsView{RetrievedAt: time.Now(), CloudKeys: []string{}}

	if models, ok := s.cache.Get(ctx); ok {
		view.Local = models
		view.FromCache = true
	} else {
		models, err := s.registry.LocalModels().ListModels(ctx)
		if err != nil {
			return nil, fmt.Errorf("list local models: %w", err)
		}
		s.cache.Set(ctx, models)
		view.Local = models
	}

	keys, err := s.apiKeys.ListByOwner(dbctx.New(ctx), ownerID)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if k.IsActive {
			view.CloudKeys = append(view.CloudKeys, k.Provider)
		}
	}
	return view, nil
}

func (s *providerService) PullModel(ctx context.Context, name string, onProgress func(llm.PullProgress)) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: model name required", apperr.ErrValidation)
	}
	if err := s.registry.LocalModels().PullModel(ctx, name, onProgress); err != nil {
		return err
	}
	s.cache.Invalidate(ctx)
	s.log.Info("Model pulled", "model", name)
	return nil
}

func (s *providerService) DeleteModel(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: model name required", apperr.ErrValidation)
	}
	if err := s.registry.LocalModels().DeleteModel(ctx, name); err != nil {
		return err
	}
	s.cache.Invalidate(ctx)
	s.log.Info("Model deleted", "model", name)
	return nil
}

func (s *providerService) UpsertKey(ctx context.Context, ownerID uuid.UUID, provider, apiKey, baseURL string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	switch provider {
	case llm.ProviderAnthropic, llm.ProviderOpenAI, llm.ProviderCustom:
	default:
		return fmt.Errorf("%w: unknown provider %q", apperr.ErrValidation, provider)
	}
	if strings.TrimSpace(apiKey) == "" {
		return fmt.Errorf("%w: api key required", apperr.ErrValidation)
	}
	if provider == llm.ProviderCustom && strings.TrimSpace(baseURL) == "" {
		return fmt.Errorf("%w: custom provider requires a base url", apperr.ErrValidation)
	}

	sealed, err := s.box.Seal(apiKey)
	if err != nil {
		return fmt.Errorf("seal api key: %w", err)
	}
	_, err = s.apiKeys.Upsert(dbctx.New(ctx), &types.UserAPIKey{
		OwnerID:      ownerID,
		Provider:     provider,
		EncryptedKey: sealed,
		BaseURL:      strings.TrimSpace(baseURL),
		IsActive:     true,
	})
	if err != nil {
		return err
	}
	// Cached instances hold the old credential; drop them.
	s.registry.Invalidate(ownerID, provider)
	s.log.Info("Provider key stored", "owner_id", ownerID, "provider", provider)
	return nil
}

func (s *providerService) DeleteKey(ctx context.Context, ownerID uuid.UUID, provider string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if err := s.apiKeys.Delete(dbctx.New(ctx), ownerID, provider); err != nil {
		return err
	}
	s.registry.Invalidate(ownerID, provider)
	return nil
}

// Health probes the local backend and every cloud provider the owner has a
// key for. Probe failures land in the row, never as an endpoint error.
func (s *providerService) Health(ctx context.Context, ownerID uuid.UUID) ([]ProviderHealth, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out := []ProviderHealth{s.probe(probeCtx, s.registry.Local(), true)}

	keys, err := s.apiKeys.ListByOwner(dbctx.New(ctx), ownerID)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if !k.IsActive {
			continue
		}
		inst, err := s.registry.ForOwner(dbctx.New(ctx), ownerID, k.Provider)
		if err != nil {
			out = append(out, ProviderHealth{Provider: k.Provider, Configured: true, Error: err.Error()})
			continue
		}
		out = append(out, s.probe(probeCtx, inst, true))
	}
	return out, nil
}

// Usage reports the owner's AI spend over the trailing window: summed
// estimated cost plus the per-call rows. Local model calls are never
// logged, so this is cloud spend only.
func (s *providerService) Usage(ctx context.Context, ownerID uuid.UUID, days int) (*UsageView, error) {
	if days <= 0 {
		days = defaultUsageWindowDays
	}
	if days > maxUsageWindowDays {
		days = maxUsageWindowDays
	}
	window := time.Duration(days) * 24 * time.Hour

	dbc := dbctx.New(ctx)
	rows, err := s.usage.ListByOwner(dbc, ownerID, window)
	if err != nil {
		return nil, err
	}
	total, err := s.usage.TotalCost(dbc, ownerID, window)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []*types.AIUsageLog{}
	}
	return &UsageView{WindowDays: days, TotalCostUSD: total, Rows: rows}, nil
}

func (s *providerService) probe(ctx context.Context, inst *llm.Instance, configured bool) ProviderHealth {
	h := ProviderHealth{
		Provider:     inst.Name(),
		Configured:   configured,
		BreakerState: string(inst.Breaker().State()),
	}
	if err := inst.HealthCheck(ctx); err != nil {
		h.Error = err.Error()
		return h
	}
	h.Healthy = true
	return h
}
