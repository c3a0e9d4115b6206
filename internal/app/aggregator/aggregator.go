// Package aggregator is the single entry point over every enabled vendor. Reads go through
// the product cache and sale resolver first and fall back to the vendor client.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"golang.org/x/sync/singleflight"

	"github.com/coachpo/wgg/errs"
	"github.com/coachpo/wgg/internal/app/productcache"
	"github.com/coachpo/wgg/internal/app/sales"
	"github.com/coachpo/wgg/internal/app/snapshot"
	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/domain/vendor"
	"github.com/coachpo/wgg/internal/infra/observability"
)

const (
	defaultAutocompleteTTL     = 10 * time.Minute
	defaultAutocompleteMaxCost = 10_000
	defaultRefreshTimeout      = 2 * time.Minute
)

// Config wires the aggregator. Clients are normally coordinator-wrapped vendor clients; a
// vendor without a client is reported as uninitialised.
type Config struct {
	Clients map[product.Vendor]vendor.Client

	CacheTTL        time.Duration
	CacheMaxEntries int

	PromotionTTL      time.Duration
	DetailConcurrency int

	AutocompleteTTL     time.Duration
	AutocompleteMaxCost int64

	// RefreshTimeout bounds background promotion refreshes.
	RefreshTimeout time.Duration
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the aggregator logger and passes it to the resolver.
func WithLogger(l observability.Logger) Option {
	return func(p *Provider) { p.logger = observability.OrNop(l) }
}

// WithClock overrides the time source of the aggregator and its caches.
func WithClock(clock func() time.Time) Option {
	return func(p *Provider) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// Provider aggregates every enabled vendor.
type Provider struct {
	picnic vendor.Client
	jumbo  vendor.Client

	cache       *productcache.Cache
	sales       *sales.Resolver
	suggestions *suggestionCache

	clock          func() time.Time
	logger         observability.Logger
	refreshTimeout time.Duration

	// inflight collapses concurrent synchronous refreshes of one vendor.
	inflight   singleflight.Group
	refreshing map[product.Vendor]*atomic.Bool
	background conc.WaitGroup
	lifetime   context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
}

// New constructs an aggregator over cfg.Clients.
func New(cfg Config, opts ...Option) (*Provider, error) {
	p := &Provider{
		clock:          time.Now,
		logger:         observability.Nop(),
		refreshTimeout: cfg.RefreshTimeout,
		refreshing:     make(map[product.Vendor]*atomic.Bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.refreshTimeout <= 0 {
		p.refreshTimeout = defaultRefreshTimeout
	}

	for v := range cfg.Clients {
		if !v.Valid() {
			return nil, fmt.Errorf("aggregator: unknown vendor %q", v)
		}
	}

	var enabled []product.Vendor
	for _, v := range product.AllVendors() {
		client := cfg.Clients[v]
		if client == nil {
			continue
		}
		switch v {
		case product.VendorPicnic:
			p.picnic = client
		case product.VendorJumbo:
			p.jumbo = client
		}
		enabled = append(enabled, v)
		p.refreshing[v] = new(atomic.Bool)
	}

	p.cache = productcache.New(productcache.Config{
		TTL:        cfg.CacheTTL,
		MaxEntries: cfg.CacheMaxEntries,
		Vendors:    enabled,
	}, productcache.WithClock(p.clock))
	p.sales = sales.New(sales.Config{
		TTL:               cfg.PromotionTTL,
		DetailConcurrency: cfg.DetailConcurrency,
		Vendors:           enabled,
	}, sales.WithClock(p.clock), sales.WithLogger(p.logger), sales.WithProductSink(p.cache))

	ttl := cfg.AutocompleteTTL
	if ttl <= 0 {
		ttl = defaultAutocompleteTTL
	}
	maxCost := cfg.AutocompleteMaxCost
	if maxCost <= 0 {
		maxCost = defaultAutocompleteMaxCost
	}
	suggestions, err := newSuggestionCache(maxCost, ttl)
	if err != nil {
		return nil, fmt.Errorf("aggregator: autocomplete cache: %w", err)
	}
	p.suggestions = suggestions
	p.lifetime, p.cancel = context.WithCancel(context.Background())
	return p, nil
}

// Vendors returns the enabled vendors in their canonical order.
func (p *Provider) Vendors() []product.Vendor {
	var out []product.Vendor
	for _, v := range product.AllVendors() {
		if c, _ := p.client(v); c != nil {
			out = append(out, v)
		}
	}
	return out
}

// Cache exposes the product cache.
func (p *Provider) Cache() *productcache.Cache { return p.cache }

// Resolver exposes the sale resolver.
func (p *Provider) Resolver() *sales.Resolver { return p.sales }

func (p *Provider) client(v product.Vendor) (vendor.Client, error) {
	var c vendor.Client
	switch v {
	case product.VendorPicnic:
		c = p.picnic
	case product.VendorJumbo:
		c = p.jumbo
	}
	if c == nil {
		return nil, errs.New(string(v), errs.CodeUninitialized, errs.WithMessage("vendor not enabled"))
	}
	return c, nil
}

// RestoreStats reports what a Restore applied.
type RestoreStats struct {
	Products int
	Vendors  int
}

// Snapshot captures the product cache and sale resolver.
func (p *Provider) Snapshot() snapshot.Snapshot {
	return snapshot.Snapshot{
		Version:  snapshot.Version,
		TakenAt:  p.clock(),
		Products: p.cache.Snapshot(),
		Sales:    p.sales.Snapshot(),
	}
}

// Restore seeds the caches. Expired products and vendors that are not enabled are dropped.
func (p *Provider) Restore(snap snapshot.Snapshot) RestoreStats {
	stats := RestoreStats{
		Products: p.cache.Restore(snap.Products),
		Vendors:  p.sales.Restore(snap.Sales),
	}
	p.logger.Info("caches restored from snapshot",
		observability.Time("taken_at", snap.TakenAt),
		observability.Int("products", stats.Products),
		observability.Int("vendors", stats.Vendors),
	)
	return stats
}

// Close cancels background refreshes and waits for them to return.
func (p *Provider) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.background.Wait()
		p.suggestions.close()
	})
}
