package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type ProviderFactory func(ctx context.Context, model string) (Provider, error)

// Registry resolves a provider by name. The chat service asks it for the
// default provider once per turn, so factories should be cheap.
type Registry struct {
	mu          sync.RWMutex
	factories   map[string]ProviderFactory
	defaultName string
	defaultMdl  string
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = normalize(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	if r.defaultName == "" {
		r.defaultName = name
	}
}

// SetDefault picks the provider and model used by Default.
func (r *Registry) SetDefault(name, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultName = normalize(name)
	r.defaultMdl = model
}

func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	name = normalize(name)
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return f(ctx, model)
}

func (r *Registry) Default(ctx context.Context) (Provider, error) {
	r.mu.RLock()
	name, model := r.defaultName, r.defaultMdl
	r.mu.RUnlock()
	if name == "" {
		return nil, fmt.Errorf("no ai provider registered")
	}
	return r.Get(ctx, name, model)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Static registers a factory that always hands out p.
func Static(p Provider) ProviderFactory {
	return func(context.Context, string) (Provider, error) { return p, nil }
}
