package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Provider is the vendor-neutral model API contract.
type Provider interface {
	// Name returns the vendor identifier ("anthropic", "openai", ...).
	Name() string

	// Generate makes one blocking model call.
	Generate(ctx context.Context, req Request) (*Response, error)

	// GenerateStream starts a streaming model call. The returned Stream
	// delivers text deltas as they arrive; Final blocks until done.
	GenerateStream(ctx context.Context, req Request) (*Stream, error)

	// SupportsTools reports whether the vendor accepts tool definitions.
	SupportsTools() bool

	// SupportsVision reports whether the vendor accepts image content.
	SupportsVision() bool
}

// Registry maps vendor names to configured providers. It is an
// explicit value handed to whoever needs one; there is no package
// singleton.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}}
}

// Register adds a provider under its own name.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = p
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
	return p, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
