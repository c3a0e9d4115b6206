package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/domain/vendor"
	"github.com/coachpo/wgg/internal/infra/config"
)

// Factory constructs a vendor client from its configuration.
type Factory func(ctx context.Context, v product.Vendor, cfg config.VendorConfig) (vendor.Client, error)

type registration struct {
	factory  Factory
	metadata AdapterMetadata
}

// Registry maintains vendor client factories keyed by adapter.
type Registry struct {
	mu        sync.RWMutex
	factories map[config.Adapter]registration
}

// NewRegistry creates a new adapter factory registry.
func NewRegistry() *Registry {
	return &Registry{
		mu:        sync.RWMutex{},
		factories: make(map[config.Adapter]registration),
	}
}

// Register registers a factory for the given adapter.
func (r *Registry) Register(adapter config.Adapter, factory Factory) {
	r.RegisterWithMetadata(AdapterMetadata{Identifier: string(adapter)}, factory)
}

// RegisterWithMetadata registers a factory together with its descriptive metadata.
func (r *Registry) RegisterWithMetadata(meta AdapterMetadata, factory Factory) {
	if factory == nil {
		panic("adapter factory required")
	}
	r.mu.Lock()
	r.factories[config.Adapter(meta.Identifier)] = registration{factory: factory, metadata: meta.Clone()}
	r.mu.Unlock()
}

// Create instantiates the client for vendor v using the adapter named in cfg.
func (r *Registry) Create(ctx context.Context, v product.Vendor, cfg config.VendorConfig) (vendor.Client, error) {
	r.mu.RLock()
	reg, ok := r.factories[cfg.Adapter]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("adapter %q not registered", cfg.Adapter)
	}
	client, err := reg.factory(ctx, v, cfg)
	if err != nil {
		return nil, fmt.Errorf("instantiate vendor %s(%s): %w", v, cfg.Adapter, err)
	}
	return client, nil
}

// Adapters lists the registered adapters ordered by identifier.
func (r *Registry) Adapters() []AdapterMetadata {
	r.mu.RLock()
	out := make([]AdapterMetadata, 0, len(r.factories))
	for _, reg := range r.factories {
		out = append(out, reg.metadata.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}
