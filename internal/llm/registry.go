package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/secrets"
)

// Instance is a provider paired with its breaker. Every call passes the
// breaker's pre-request gate; outcomes feed back into it. Timeouts and
// transport failures count against the breaker, auth and bad-request
// failures do not, and a fast-failed circuit-open is never re-counted.
type Instance struct {
	provider Provider
	breaker  *Breaker
}

func NewInstance(provider Provider, breaker *Breaker) *Instance {
	return &Instance{provider: provider, breaker: breaker}
}

func (i *Instance) Name() string      { return i.provider.Name() }
func (i *Instance) Breaker() *Breaker { return i.breaker }

func (i *Instance) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if err := i.breaker.Allow(); err != nil {
		return nil, err
	}
	res, err := i.provider.Generate(ctx, req)
	i.observe(err)
	return res, err
}

func (i *Instance) Stream(ctx context.Context, req GenerateRequest, onChunk func(StreamChunk)) (*GenerateResult, error) {
	if err := i.breaker.Allow(); err != nil {
		return nil, err
	}
	res, err := i.provider.Stream(ctx, req, onChunk)
	i.observe(err)
	return res, err
}

func (i *Instance) HealthCheck(ctx context.Context) error {
	return i.provider.HealthCheck(ctx)
}

func (i *Instance) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return i.provider.ListModels(ctx)
}

func (i *Instance) observe(err error) {
	if err == nil {
		i.breaker.RecordSuccess()
		return
	}
	if apperr.IsCircuitOpen(err) {
		return
	}
	switch apperr.KindOf(err) {
	case apperr.KindTimeout, apperr.KindTransient:
		i.breaker.RecordFailure()
	}
}

type RegistryOptions struct {
	LocalBaseURL     string
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// Registry hands out provider instances. The local provider is a process
// singleton; cloud providers are materialized per owner from their stored
// credential and cached so breaker state survives across requests.
type Registry struct {
	opts    RegistryOptions
	apiKeys repos.UserAPIKeyRepo
	box     *secrets.Box
	log     *logger.Logger

	mu        sync.Mutex
	local     *Instance
	localProv *LocalProvider
	instances map[string]*Instance
}

func NewRegistry(opts RegistryOptions, apiKeys repos.UserAPIKeyRepo, box *secrets.Box, baseLog *logger.Logger) *Registry {
	log := baseLog.With("service", "LLMRegistry")
	localProv := NewLocal(LocalOptions{BaseURL: opts.LocalBaseURL, MaxRetries: 2}, baseLog)
	return &Registry{
		opts:      opts,
		apiKeys:   apiKeys,
		box:       box,
		log:       log,
		localProv: localProv,
		local:     NewInstance(localProv, NewBreaker(ProviderLocal, opts.FailureThreshold, opts.RecoveryTimeout)),
		instances: map[string]*Instance{},
	}
}

// Local returns the always-available local instance.
func (r *Registry) Local() *Instance { return r.local }

// LocalModels exposes the local provider's management surface (pull,
// delete, inventory) that cloud providers do not have.
func (r *Registry) LocalModels() *LocalProvider { return r.localProv }

// ForOwner resolves a provider instance for one owner. Cloud providers
// require a stored, active credential; the key is decrypted here and never
// leaves this call except inside the constructed client.
func (r *Registry) ForOwner(dbc dbctx.Context, ownerID uuid.UUID, provider string) (*Instance, error) {
	switch provider {
	case "", ProviderLocal:
		return r.local, nil
	case ProviderAnthropic, ProviderOpenAI, ProviderCustom:
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", apperr.ErrValidation, provider)
	}

	cacheKey := provider + "/" + ownerID.String()
	r.mu.Lock()
	if inst, ok := r.instances[cacheKey]; ok {
		r.mu.Unlock()
		return inst, nil
	}
	r.mu.Unlock()

	row, err := r.apiKeys.GetByProvider(dbc, ownerID, provider)
	if err != nil {
		return nil, err
	}
	if row == nil || !row.IsActive {
		return nil, fmt.Errorf("%w: no active %s credential", apperr.ErrNotFound, provider)
	}

	apiKey, err := r.box.Open(row.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s credential: %w", provider, err)
	}

	var prov Provider
	switch provider {
	case ProviderAnthropic:
		prov = NewAnthropic(apiKey, r.log)
	case ProviderOpenAI:
		prov = NewOpenAI(apiKey, r.log)
	case ProviderCustom:
		prov, err = NewCustom(row.BaseURL, apiKey, r.log)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
		}
	}

	inst := NewInstance(prov, NewBreaker(provider, r.opts.FailureThreshold, r.opts.RecoveryTimeout))

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another request may have raced us here; keep the first instance so
	// its breaker history is not discarded.
	if existing, ok := r.instances[cacheKey]; ok {
		return existing, nil
	}
	r.instances[cacheKey] = inst
	return inst, nil
}

// Invalidate drops a cached cloud instance, e.g. after the owner replaces
// or deletes the stored credential.
func (r *Registry) Invalidate(ownerID uuid.UUID, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, provider+"/"+ownerID.String())
}
