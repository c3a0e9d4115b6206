// Package productcache holds the bounded, per-vendor TTL caches for full and search product
// records.
//
// Reads have a side effect: Get on an expired entry deletes it and reports a miss. No
// background sweep is needed for correctness; EvictExpired exists so a scheduled job can
// reclaim memory for keys that are never read again.
package productcache

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/infra/telemetry"
)

const (
	// DefaultTTL applies when Config.TTL is not positive.
	DefaultTTL = 24 * time.Hour
	// DefaultMaxEntries applies when Config.MaxEntries is not positive.
	DefaultMaxEntries = 10_000
)

// Config sizes the cache.
type Config struct {
	TTL        time.Duration
	MaxEntries int
	Vendors    []product.Vendor
}

// Option configures optional cache behaviour.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

type vendorCaches struct {
	full   *store[product.FullProduct]
	search *store[product.SearchProduct]
}

// Cache is safe for concurrent use. The vendor set is fixed at construction, so lookups only
// ever take the lock of the sub-cache they touch.
type Cache struct {
	ttl        time.Duration
	maxEntries int
	clock      func() time.Time
	vendors    map[product.Vendor]*vendorCaches

	hits      metric.Int64Counter
	misses    metric.Int64Counter
	evictions metric.Int64Counter
}

// Lookup is the result of a read that may fall back to an expired value.
type Lookup[T any] struct {
	Value T
	Found bool
	// Stale is set when Value expired and was evicted by this read.
	Stale bool
}

// Fresh reports a live hit.
func (l Lookup[T]) Fresh() bool { return l.Found && !l.Stale }

// New constructs a cache for the configured vendors.
func New(cfg Config, opts ...Option) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		clock:      time.Now,
		vendors:    make(map[product.Vendor]*vendorCaches, len(cfg.Vendors)),
	}
	for _, v := range cfg.Vendors {
		c.vendors[v] = &vendorCaches{
			full:   newStore[product.FullProduct](maxEntries),
			search: newStore[product.SearchProduct](maxEntries),
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.initMetrics()
	return c
}

// TTL returns the uniform time-to-live.
func (c *Cache) TTL() time.Duration { return c.ttl }

// GetFull returns a live full record.
func (c *Cache) GetFull(v product.Vendor, id string) (product.FullProduct, bool) {
	l := c.LookupFull(v, id)
	if !l.Fresh() {
		return product.FullProduct{}, false
	}
	return l.Value, true
}

// LookupFull is GetFull that also hands back a value it just evicted for being expired.
func (c *Cache) LookupFull(v product.Vendor, id string) Lookup[product.FullProduct] {
	vc, ok := c.vendors[v]
	if !ok {
		return Lookup[product.FullProduct]{}
	}
	entry, state := vc.full.get(id, c.clock(), c.ttl)
	c.record(v, product.KindFull, state)
	switch state {
	case stateHit:
		return Lookup[product.FullProduct]{Value: entry.Value, Found: true}
	case stateExpired:
		return Lookup[product.FullProduct]{Value: entry.Value, Found: true, Stale: true}
	default:
		return Lookup[product.FullProduct]{}
	}
}

// GetSearch returns a live search record. On a search-cache miss it falls back to the full
// cache and narrows the result.
func (c *Cache) GetSearch(v product.Vendor, id string) (product.SearchProduct, bool) {
	l := c.LookupSearch(v, id)
	if !l.Fresh() {
		return product.SearchProduct{}, false
	}
	return l.Value, true
}

// LookupSearch is GetSearch that also hands back a value it just evicted for being expired.
func (c *Cache) LookupSearch(v product.Vendor, id string) Lookup[product.SearchProduct] {
	vc, ok := c.vendors[v]
	if !ok {
		return Lookup[product.SearchProduct]{}
	}
	now := c.clock()
	entry, state := vc.search.get(id, now, c.ttl)
	c.record(v, product.KindSearch, state)
	if state == stateHit {
		return Lookup[product.SearchProduct]{Value: entry.Value, Found: true}
	}

	full, fullState := vc.full.get(id, now, c.ttl)
	c.record(v, product.KindFull, fullState)
	if fullState == stateHit {
		return Lookup[product.SearchProduct]{Value: full.Value.Narrow(), Found: true}
	}
	switch {
	case state == stateExpired:
		return Lookup[product.SearchProduct]{Value: entry.Value, Found: true, Stale: true}
	case fullState == stateExpired:
		return Lookup[product.SearchProduct]{Value: full.Value.Narrow(), Found: true, Stale: true}
	default:
		return Lookup[product.SearchProduct]{}
	}
}

// InsertFull stores a full record; the most recent write wins.
func (c *Cache) InsertFull(v product.Vendor, rec product.FullProduct) {
	vc, ok := c.vendors[v]
	if !ok || rec.ID == "" {
		return
	}
	if vc.full.put(rec.ID, Entry[product.FullProduct]{Value: rec, InsertedAt: c.clock()}) {
		c.recordEviction(v, product.KindFull, 1)
	}
}

// InsertSearch stores a search record; the most recent write wins.
func (c *Cache) InsertSearch(v product.Vendor, rec product.SearchProduct) {
	vc, ok := c.vendors[v]
	if !ok || rec.ID == "" {
		return
	}
	if vc.search.put(rec.ID, Entry[product.SearchProduct]{Value: rec, InsertedAt: c.clock()}) {
		c.recordEviction(v, product.KindSearch, 1)
	}
}

// InsertSearchMany stores every record of a batch.
func (c *Cache) InsertSearchMany(v product.Vendor, recs []product.SearchProduct) {
	for _, rec := range recs {
		c.InsertSearch(v, rec)
	}
}

// Contains reports whether any entry, live or not yet evicted, exists for the key.
func (c *Cache) Contains(v product.Vendor, kind product.Kind, id string) bool {
	vc, ok := c.vendors[v]
	if !ok {
		return false
	}
	if kind == product.KindFull {
		return vc.full.contains(id)
	}
	return vc.search.contains(id)
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (c *Cache) Len(v product.Vendor, kind product.Kind) int {
	vc, ok := c.vendors[v]
	if !ok {
		return 0
	}
	if kind == product.KindFull {
		return vc.full.size()
	}
	return vc.search.size()
}

// EvictExpired sweeps every sub-cache and returns the number of entries removed.
func (c *Cache) EvictExpired() int {
	now := c.clock()
	total := 0
	for v, vc := range c.vendors {
		full := vc.full.evictExpired(now, c.ttl)
		search := vc.search.evictExpired(now, c.ttl)
		c.recordEviction(v, product.KindFull, full)
		c.recordEviction(v, product.KindSearch, search)
		total += full + search
	}
	return total
}

// VendorSnapshot holds the live entries of one vendor keyed by product id.
type VendorSnapshot struct {
	Full   map[string]Entry[product.FullProduct]   `json:"full"`
	Search map[string]Entry[product.SearchProduct] `json:"search"`
}

// Snapshot is the serialisable cache content, nested by vendor then id.
type Snapshot map[product.Vendor]VendorSnapshot

// Snapshot copies every live entry.
func (c *Cache) Snapshot() Snapshot {
	now := c.clock()
	out := make(Snapshot, len(c.vendors))
	for v, vc := range c.vendors {
		out[v] = VendorSnapshot{
			Full:   vc.full.live(now, c.ttl),
			Search: vc.search.live(now, c.ttl),
		}
	}
	return out
}

// Restore seeds the cache from a snapshot, keeping original insertion times. Expired entries
// and vendors that are not configured are dropped. Returns the number of entries restored.
func (c *Cache) Restore(snap Snapshot) int {
	now := c.clock()
	restored := 0
	for v, vs := range snap {
		vc, ok := c.vendors[v]
		if !ok {
			continue
		}
		restored += restoreInto(vc.full, vs.Full, now, c.ttl, c.maxEntries)
		restored += restoreInto(vc.search, vs.Search, now, c.ttl, c.maxEntries)
	}
	return restored
}

func restoreInto[T any](s *store[T], entries map[string]Entry[T], now time.Time, ttl time.Duration, limit int) int {
	type keyed struct {
		id    string
		entry Entry[T]
	}
	live := make([]keyed, 0, len(entries))
	for id, entry := range entries {
		if id == "" || !entry.Valid(now, ttl) {
			continue
		}
		live = append(live, keyed{id: id, entry: entry})
	}
	// Oldest first so the bound evicts the same keys it would have at runtime.
	sort.Slice(live, func(i, j int) bool {
		return live[i].entry.InsertedAt.Before(live[j].entry.InsertedAt)
	})
	if len(live) > limit {
		live = live[len(live)-limit:]
	}
	for _, k := range live {
		s.putIfNewer(k.id, k.entry)
	}
	return len(live)
}

func (c *Cache) initMetrics() {
	meter := otel.Meter("wgg.productcache")
	if counter, err := meter.Int64Counter("wgg_product_cache_hits",
		metric.WithDescription("Product cache hits by vendor and kind"),
		metric.WithUnit("{request}")); err == nil {
		c.hits = counter
	}
	if counter, err := meter.Int64Counter("wgg_product_cache_misses",
		metric.WithDescription("Product cache misses by vendor and kind"),
		metric.WithUnit("{request}")); err == nil {
		c.misses = counter
	}
	if counter, err := meter.Int64Counter("wgg_product_cache_evictions",
		metric.WithDescription("Product cache entries removed by expiry or bound"),
		metric.WithUnit("{entry}")); err == nil {
		c.evictions = counter
	}
}

func (c *Cache) record(v product.Vendor, kind product.Kind, state lookupState) {
	switch state {
	case stateHit:
		c.add(c.hits, v, kind, 1)
	case stateExpired:
		c.add(c.misses, v, kind, 1)
		c.add(c.evictions, v, kind, 1)
	default:
		c.add(c.misses, v, kind, 1)
	}
}

func (c *Cache) recordEviction(v product.Vendor, kind product.Kind, n int) {
	if n > 0 {
		c.add(c.evictions, v, kind, int64(n))
	}
}

func (c *Cache) add(counter metric.Int64Counter, v product.Vendor, kind product.Kind, n int64) {
	if counter == nil {
		return
	}
	attrs := telemetry.VendorAttrs(string(v), telemetry.AttrCacheKind.String(string(kind)))
	counter.Add(context.Background(), n, metric.WithAttributes(attrs...))
}
