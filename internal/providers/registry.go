package providers

import (
	"time"

	"go-freight/internal/common/apperrors"
	"go-freight/internal/config"
)

// RetryProfile is the per-provider retry and concurrency budget the sync
// orchestrator honors. Limits come from each vendor's published rate policy.
type RetryProfile struct {
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxConcurrent int
}

var retryProfiles = map[ProviderType]RetryProfile{
	ProviderKeepTruckin: {MaxAttempts: 3, BaseBackoff: 2 * time.Second, MaxConcurrent: 4},
	ProviderSamsara:     {MaxAttempts: 3, BaseBackoff: 1 * time.Second, MaxConcurrent: 5},
	ProviderOmnitracs:   {MaxAttempts: 4, BaseBackoff: 5 * time.Second, MaxConcurrent: 2},
	ProviderMcLeod:      {MaxAttempts: 3, BaseBackoff: 2 * time.Second, MaxConcurrent: 3},
	ProviderTMW:         {MaxAttempts: 2, BaseBackoff: 10 * time.Second, MaxConcurrent: 2},
	ProviderMercuryGate: {MaxAttempts: 2, BaseBackoff: 10 * time.Second, MaxConcurrent: 2},
}

var defaultProfile = RetryProfile{MaxAttempts: 3, BaseBackoff: 2 * time.Second, MaxConcurrent: 2}

// Registry resolves provider types to adapter instances. All adapters are
// registered once at startup; there is no dynamic loading.
type Registry struct {
	adapters map[ProviderType]Adapter
}

// NewRegistry constructs every supported adapter from config.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{adapters: make(map[ProviderType]Adapter)}
	for _, a := range []Adapter{
		NewKeepTruckin(cfg.KeepTruckin),
		NewSamsara(cfg.Samsara),
		NewOmnitracs(cfg.Omnitracs),
		NewMcLeod(),
		NewTMW(),
		NewMercuryGate(),
	} {
		r.adapters[a.Type()] = a
	}
	return r
}

// NewRegistryWith builds a registry over explicit adapters. Used in tests.
func NewRegistryWith(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[ProviderType]Adapter)}
	for _, a := range adapters {
		r.adapters[a.Type()] = a
	}
	return r
}

// Get resolves the adapter for a provider type.
func (r *Registry) Get(p ProviderType) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, apperrors.Validation("unknown provider type: %s", p)
	}
	return a, nil
}

// Types lists the registered provider types.
func (r *Registry) Types() []ProviderType {
	out := make([]ProviderType, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}

// Profile returns the retry/concurrency budget for a provider.
func (r *Registry) Profile(p ProviderType) RetryProfile {
	if prof, ok := retryProfiles[p]; ok {
		return prof
	}
	return defaultProfile
}
