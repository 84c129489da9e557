package providers

import (
	"fmt"
	"sync"

	"github.com/yiliangbetter/openclaw/internal/config"
)

// Registry maps provider names to clients.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry builds a registry from configured credentials. Providers
// without an API key are not registered; resolving them fails at run time
// and surfaces through the normal error path.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	if key := cfg.Providers.Anthropic.APIKey; key != "" {
		r.Register(NewAnthropicProvider(key, cfg.Providers.Anthropic.BaseURL))
	}
	if key := cfg.Providers.OpenAI.APIKey; key != "" {
		r.Register(NewOpenAIProvider(key, cfg.Providers.OpenAI.BaseURL))
	}
	return r
}

// Register adds or replaces a provider under its own name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get resolves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("provider %q not configured", name)
}

// Names lists registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	return names
}
