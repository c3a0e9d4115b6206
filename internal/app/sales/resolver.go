// Package sales keeps vendor promotion listings and the sale records derived from them.
//
// Per vendor the resolver holds the last listing with its MetaInfo, a normal cache of sale
// group id to SaleInfo and an inverted index of product id to sale group id. The inverted
// index is always rebuilt in full from the normal cache, so every index key resolves to a
// live sale. Readers that race a rebuild may see a stale index key; it resolves to a miss.
package sales

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/wgg/errs"
	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/domain/promotion"
	"github.com/coachpo/wgg/internal/domain/vendor"
	"github.com/coachpo/wgg/internal/infra/observability"
	"github.com/coachpo/wgg/internal/infra/telemetry"
)

const (
	// DefaultTTL is how long a reconciled listing is served before a refresh is needed.
	DefaultTTL = time.Hour
	// DefaultDetailConcurrency bounds concurrent promotion_detail fetches per refresh.
	DefaultDetailConcurrency = 4
)

// ProductSink receives products discovered while resolving promotions.
type ProductSink interface {
	InsertSearchMany(v product.Vendor, recs []product.SearchProduct)
}

// Config sizes the resolver.
type Config struct {
	TTL               time.Duration
	DetailConcurrency int
	Vendors           []product.Vendor
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(r *Resolver) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets the resolver logger.
func WithLogger(l observability.Logger) Option {
	return func(r *Resolver) { r.logger = observability.OrNop(l) }
}

// WithProductSink warms a product cache with every product seen in listings and details.
func WithProductSink(sink ProductSink) Option {
	return func(r *Resolver) { r.sink = sink }
}

type vendorState struct {
	// refreshMu serialises refreshes of one vendor.
	refreshMu sync.Mutex

	listingMu sync.RWMutex
	listing   []promotion.Category
	meta      promotion.MetaInfo

	salesMu sync.RWMutex
	sales   map[string]promotion.SaleInfo

	indexMu sync.RWMutex
	index   map[string]string
}

func newVendorState() *vendorState {
	return &vendorState{
		sales: make(map[string]promotion.SaleInfo),
		index: make(map[string]string),
	}
}

// Resolver is safe for concurrent use. Vendors never share locks.
type Resolver struct {
	ttl               time.Duration
	detailConcurrency int
	clock             func() time.Time
	logger            observability.Logger
	sink              ProductSink
	vendors           map[product.Vendor]*vendorState

	refreshDuration metric.Float64Histogram
}

// New constructs a resolver for the configured vendors.
func New(cfg Config, opts ...Option) *Resolver {
	r := &Resolver{
		ttl:               cfg.TTL,
		detailConcurrency: cfg.DetailConcurrency,
		clock:             time.Now,
		logger:            observability.Nop(),
		vendors:           make(map[product.Vendor]*vendorState, len(cfg.Vendors)),
	}
	if r.ttl <= 0 {
		r.ttl = DefaultTTL
	}
	if r.detailConcurrency <= 0 {
		r.detailConcurrency = DefaultDetailConcurrency
	}
	for _, v := range cfg.Vendors {
		r.vendors[v] = newVendorState()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	meter := otel.Meter("wgg.sales")
	if hist, err := meter.Float64Histogram(telemetry.MetricPromotionsRefreshDuration,
		metric.WithDescription("Promotion reconciliation latency"),
		metric.WithUnit("ms")); err == nil {
		r.refreshDuration = hist
	}
	return r
}

// Promotions returns the cached listing while it is fresh. A false result means the caller
// should reconcile; it never triggers network work itself.
func (r *Resolver) Promotions(v product.Vendor) ([]promotion.Category, bool) {
	st, ok := r.vendors[v]
	if !ok {
		return nil, false
	}
	st.listingMu.RLock()
	defer st.listingMu.RUnlock()
	if !st.meta.Fresh(r.clock()) {
		return nil, false
	}
	return cloneListing(st.listing), true
}

// Listing returns the last reconciled listing regardless of expiry.
func (r *Resolver) Listing(v product.Vendor) ([]promotion.Category, promotion.MetaInfo, bool) {
	st, ok := r.vendors[v]
	if !ok {
		return nil, promotion.MetaInfo{}, false
	}
	st.listingMu.RLock()
	defer st.listingMu.RUnlock()
	return cloneListing(st.listing), st.meta, st.meta.IsComplete
}

// Meta returns the vendor's listing metadata.
func (r *Resolver) Meta(v product.Vendor) promotion.MetaInfo {
	st, ok := r.vendors[v]
	if !ok {
		return promotion.MetaInfo{}
	}
	st.listingMu.RLock()
	defer st.listingMu.RUnlock()
	return st.meta
}

// SaleInfo returns the derived record for a sale group.
func (r *Resolver) SaleInfo(v product.Vendor, saleID string) (promotion.SaleInfo, bool) {
	st, ok := r.vendors[v]
	if !ok {
		return promotion.SaleInfo{}, false
	}
	st.salesMu.RLock()
	defer st.salesMu.RUnlock()
	info, ok := st.sales[saleID]
	return info, ok
}

// SaleForProduct resolves a product through the inverted index. An index key whose sale is
// gone is treated as a miss.
func (r *Resolver) SaleForProduct(v product.Vendor, productID string) (promotion.SaleInfo, bool) {
	st, ok := r.vendors[v]
	if !ok {
		return promotion.SaleInfo{}, false
	}
	st.indexMu.RLock()
	saleID, ok := st.index[productID]
	st.indexMu.RUnlock()
	if !ok {
		return promotion.SaleInfo{}, false
	}
	return r.SaleInfo(v, saleID)
}

// SaleIDs returns the sorted keys of the normal cache.
func (r *Resolver) SaleIDs(v product.Vendor) []string {
	st, ok := r.vendors[v]
	if !ok {
		return nil
	}
	st.salesMu.RLock()
	ids := make([]string, 0, len(st.sales))
	for id := range st.sales {
		ids = append(ids, id)
	}
	st.salesMu.RUnlock()
	sort.Strings(ids)
	return ids
}

// InvertedIndex returns a copy of the product id to sale id index.
func (r *Resolver) InvertedIndex(v product.Vendor) map[string]string {
	st, ok := r.vendors[v]
	if !ok {
		return nil
	}
	st.indexMu.RLock()
	defer st.indexMu.RUnlock()
	out := make(map[string]string, len(st.index))
	for k, val := range st.index {
		out[k] = val
	}
	return out
}

// RefreshPromotions reconciles the cached state of v against the vendor's current listing.
//
// An unchanged listing mutates nothing apart from extending the expiry. When the derived sale
// cache lacks groups the listing references, those groups are rebuilt even if the listing
// itself is unchanged. On a detail fetch failure the previous listing is kept so the next
// refresh diffs against it again.
func (r *Resolver) RefreshPromotions(ctx context.Context, v product.Vendor, client vendor.Client) (Diff, error) {
	st, ok := r.vendors[v]
	if !ok {
		return Diff{}, errs.New(string(v), errs.CodeUninitialized, errs.WithOp("refresh_promotions"))
	}
	st.refreshMu.Lock()
	defer st.refreshMu.Unlock()

	start := time.Now()
	diff, err := r.refresh(ctx, v, st, client)
	r.recordRefresh(ctx, v, start, err)
	if err != nil {
		r.logger.Warn("promotion refresh failed",
			observability.String("vendor", v.String()),
			observability.Err(err),
		)
		return diff, err
	}
	r.logger.Debug("promotions reconciled",
		observability.String("vendor", v.String()),
		observability.Int("added", len(diff.Added)),
		observability.Int("removed", len(diff.Removed)),
		observability.Int("healed", len(diff.Healed)),
	)
	return diff, nil
}

func (r *Resolver) refresh(ctx context.Context, v product.Vendor, st *vendorState, client vendor.Client) (Diff, error) {
	upstream, err := client.Promotions(ctx)
	if err != nil {
		return Diff{}, err
	}
	current := promotion.Flatten(upstream)

	st.listingMu.RLock()
	previous := promotion.Flatten(st.listing)
	st.listingMu.RUnlock()

	diff := diffItems(previous, current)

	// Remove first so a group that changed in place is deleted and then re-added.
	removed := diff.RemovedIDs()
	if len(removed) > 0 {
		st.salesMu.Lock()
		for _, id := range removed {
			delete(st.sales, id)
		}
		st.salesMu.Unlock()
	}
	// Healing runs after removals: an id removed through one listing entry may still be
	// referenced by another.
	diff.Healed = r.missingGroups(st, current, diff)

	if diff.Empty() {
		r.markComplete(st, nil, false)
		return diff, nil
	}

	toFetch := diff.AddedGroups()
	for _, id := range diff.Healed {
		for _, g := range groupsOf(current) {
			if g.ID == id {
				toFetch = append(toFetch, g)
				break
			}
		}
	}
	infos, discovered, fetchErr := r.resolveGroups(ctx, client, toFetch)
	if len(infos) > 0 {
		st.salesMu.Lock()
		for _, info := range infos {
			st.sales[info.ID] = info
		}
		st.salesMu.Unlock()
	}
	r.rebuildIndex(st)

	for _, item := range current {
		if item.Kind == promotion.ItemProduct && item.Product != nil {
			discovered = append(discovered, *item.Product)
		}
	}
	if r.sink != nil && len(discovered) > 0 {
		r.sink.InsertSearchMany(v, discovered)
	}

	if fetchErr != nil {
		return diff, fetchErr
	}
	r.markComplete(st, upstream, true)
	return diff, nil
}

// missingGroups returns listed sale groups, once each, that are not part of the diff but have
// no entry in the normal cache.
func (r *Resolver) missingGroups(st *vendorState, current []promotion.Item, diff Diff) []string {
	added := make(map[string]struct{}, len(diff.Added))
	for _, g := range diff.AddedGroups() {
		added[g.ID] = struct{}{}
	}
	st.salesMu.RLock()
	defer st.salesMu.RUnlock()
	var missing []string
	for _, g := range groupsOf(current) {
		if _, ok := added[g.ID]; ok {
			continue
		}
		if _, ok := st.sales[g.ID]; !ok {
			added[g.ID] = struct{}{}
			missing = append(missing, g.ID)
		}
	}
	return missing
}

type resolvedGroup struct {
	info    promotion.SaleInfo
	members []product.SearchProduct
}

func (r *Resolver) resolveGroups(ctx context.Context, client vendor.Client, groups []promotion.SaleGroupLimited) ([]promotion.SaleInfo, []product.SearchProduct, error) {
	if len(groups) == 0 {
		return nil, nil, nil
	}
	now := r.clock()
	p := pool.NewWithResults[resolvedGroup]().
		WithContext(ctx).
		WithMaxGoroutines(r.detailConcurrency)
	for _, g := range groups {
		p.Go(func(ctx context.Context) (resolvedGroup, error) {
			detail, err := client.PromotionDetail(ctx, g.ID)
			if err != nil {
				return resolvedGroup{}, fmt.Errorf("promotion detail %s: %w", g.ID, err)
			}
			return resolvedGroup{info: buildSaleInfo(g, detail, now), members: detail.Items}, nil
		})
	}
	results, err := p.Wait()
	infos := make([]promotion.SaleInfo, 0, len(results))
	var members []product.SearchProduct
	for _, res := range results {
		infos = append(infos, res.info)
		members = append(members, res.members...)
	}
	return infos, members, err
}

// buildSaleInfo takes the validity window from the group, then the detail, then the first
// member product that carries one, and finally falls back to the current ISO week.
func buildSaleInfo(g promotion.SaleGroupLimited, detail promotion.SaleGroupFull, now time.Time) promotion.SaleInfo {
	info := promotion.SaleInfo{ID: g.ID, ItemIDs: detail.ItemIDs()}
	if len(info.ItemIDs) == 0 {
		info.ItemIDs = append([]string(nil), g.ItemIDs...)
	}

	window, found := g.Decorators.SaleValidity()
	if !found {
		window, found = detail.Decorators.SaleValidity()
	}
	for i := 0; !found && i < len(detail.Items); i++ {
		window, found = detail.Items[i].Decorators.SaleValidity()
	}
	if !found {
		window = promotion.GuessValidity(now)
		info.Guessed = true
	}
	info.ValidFrom, info.ValidUntil = window.ValidFrom, window.ValidUntil

	label, ok := g.Decorators.SaleLabel()
	if !ok {
		label, _ = detail.Decorators.SaleLabel()
	}
	info.Label = label
	if d, ok := g.Decorators.Find(product.DecoratorSaleType); ok && d.SaleType != nil {
		info.Type = *d.SaleType
	} else {
		info.Type = product.ParseSaleLabel(label)
	}
	return info
}

func (r *Resolver) rebuildIndex(st *vendorState) {
	st.salesMu.RLock()
	index := make(map[string]string)
	ids := make([]string, 0, len(st.sales))
	for id := range st.sales {
		ids = append(ids, id)
	}
	// Sorted so a product listed in several sales maps deterministically.
	sort.Strings(ids)
	for _, id := range ids {
		for _, pid := range st.sales[id].ItemIDs {
			if _, taken := index[pid]; !taken {
				index[pid] = id
			}
		}
	}
	st.salesMu.RUnlock()

	st.indexMu.Lock()
	st.index = index
	st.indexMu.Unlock()
}

// markComplete extends the expiry and optionally replaces the listing.
func (r *Resolver) markComplete(st *vendorState, listing []promotion.Category, replace bool) {
	st.listingMu.Lock()
	defer st.listingMu.Unlock()
	if replace {
		st.listing = listing
	}
	st.meta = promotion.MetaInfo{IsComplete: true, Expiry: r.clock().Add(r.ttl)}
}

func (r *Resolver) recordRefresh(ctx context.Context, v product.Vendor, start time.Time, err error) {
	if r.refreshDuration == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		if code, ok := errs.CodeOf(err); ok {
			result = string(code)
		}
	}
	attrs := telemetry.VendorAttrs(v.String(), telemetry.AttrResult.String(result))
	r.refreshDuration.Record(context.WithoutCancel(ctx), float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attrs...))
}

func cloneListing(listing []promotion.Category) []promotion.Category {
	if listing == nil {
		return nil
	}
	out := make([]promotion.Category, len(listing))
	copy(out, listing)
	return out
}
