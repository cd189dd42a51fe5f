package llm

import (
	"fmt"
	"sync"

	"github.com/wadang/cua/internal/cuaerr"
)

// Factory builds a Client for one provider. Registered factories are
// looked up by ModelRef.Provider; the ref itself (carrying Name) is
// handed to the factory so it can pick a base URL / model id.
type Factory func(ref ModelRef) (Client, error)

// Registry resolves model strings to cached Client instances, mirroring
// the teacher's internal/adapter/llm.NewLLMClient factory switch but
// generalized from one hardcoded backend to N registered providers plus
// a mock, keyed by a mutex-guarded map the same way the teacher's
// ingress hub guards its connection map (no I/O is ever done while
// holding Registry.mu).
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	cache     map[string]Client
}

// NewRegistry returns an empty Registry. Register factories with
// RegisterFactory before resolving any model string.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		cache:     make(map[string]Client),
	}
}

// RegisterFactory binds provider to fn. Re-registering a provider
// replaces its factory and evicts any cached clients for it.
func (r *Registry) RegisterFactory(provider string, fn Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = fn
	for key := range r.cache {
		if refProvider(key) == provider {
			delete(r.cache, key)
		}
	}
}

// Resolve returns the cached Client for ref, building and caching one on
// first use. Returns *cuaerr.UnknownModel if no factory is registered
// for ref.Provider.
func (r *Registry) Resolve(ref ModelRef) (Client, error) {
	key := ref.String()

	r.mu.Lock()
	if c, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return c, nil
	}
	fn, ok := r.factories[ref.Provider]
	r.mu.Unlock()

	if !ok {
		return nil, &cuaerr.UnknownModel{Model: key}
	}

	c, err := fn(ref)
	if err != nil {
		return nil, fmt.Errorf("llm: building client for %s: %w", key, err)
	}

	r.mu.Lock()
	r.cache[key] = c
	r.mu.Unlock()

	return c, nil
}

func refProvider(key string) string {
	for i, b := range key {
		if b == '/' {
			return key[:i]
		}
	}
	return key
}
