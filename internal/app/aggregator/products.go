package aggregator

import (
	"context"
	"errors"

	"github.com/sourcegraph/conc/iter"

	"github.com/coachpo/wgg/errs"
	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/infra/observability"
)

// Autocomplete returns query suggestions, served from a short-lived cache when possible.
func (p *Provider) Autocomplete(ctx context.Context, v product.Vendor, query string) ([]product.Suggestion, error) {
	client, err := p.client(v)
	if err != nil {
		return nil, err
	}
	normalised := normaliseQuery(query)
	if normalised == "" {
		return nil, nil
	}
	if cached, ok := p.suggestions.get(v, normalised); ok {
		return cached, nil
	}
	suggestions, err := client.Autocomplete(ctx, normalised)
	if err != nil {
		return nil, err
	}
	p.suggestions.set(v, normalised, suggestions)
	return suggestions, nil
}

// Search queries one vendor and caches every returned search record.
func (p *Provider) Search(ctx context.Context, v product.Vendor, query string, offset int) (product.SearchPage, error) {
	client, err := p.client(v)
	if err != nil {
		return product.SearchPage{}, err
	}
	if offset < 0 {
		return product.SearchPage{}, errs.New(string(v), errs.CodeInvalid,
			errs.WithOp("search"), errs.WithMessage("offset must not be negative"))
	}
	page, err := client.Search(ctx, query, offset)
	if err != nil {
		return product.SearchPage{}, err
	}
	p.cache.InsertSearchMany(v, page.Items)
	return page, nil
}

// VendorResult is one vendor's share of a SearchAll.
type VendorResult struct {
	Vendor product.Vendor
	Page   product.SearchPage
	Err    error
}

// SearchAll queries every enabled vendor concurrently. Per-vendor failures are reported in
// the results. When no vendor returned any item the error is NothingFound if at least one
// vendor answered, otherwise the joined vendor errors.
func (p *Provider) SearchAll(ctx context.Context, query string) ([]VendorResult, error) {
	vendors := p.Vendors()
	results := iter.Map(vendors, func(v *product.Vendor) VendorResult {
		page, err := p.Search(ctx, *v, query, 0)
		return VendorResult{Vendor: *v, Page: page, Err: err}
	})

	total := 0
	answered := false
	var failures []error
	for _, res := range results {
		if res.Err != nil {
			failures = append(failures, res.Err)
			p.logger.Warn("vendor search failed",
				observability.String("vendor", res.Vendor.String()),
				observability.Err(res.Err),
			)
			continue
		}
		answered = true
		total += len(res.Page.Items)
	}
	switch {
	case total > 0:
		return results, nil
	case answered || len(vendors) == 0:
		return results, errs.New("all", errs.CodeNothingFound, errs.WithOp("search"), errs.WithMessage(query))
	default:
		return results, errors.Join(failures...)
	}
}

// Product returns a full product record from cache or vendor. If the vendor is unreachable
// and the cache held an expired copy, that copy is served instead of the error.
func (p *Provider) Product(ctx context.Context, v product.Vendor, id string) (product.FullProduct, error) {
	client, err := p.client(v)
	if err != nil {
		return product.FullProduct{}, err
	}
	cached := p.cache.LookupFull(v, id)
	if cached.Fresh() {
		return cached.Value, nil
	}
	rec, err := client.Product(ctx, id)
	if err == nil {
		p.cache.InsertFull(v, rec)
		return rec, nil
	}
	if cached.Stale && staleFallback(err) {
		p.logger.Warn("serving stale product",
			observability.String("vendor", v.String()),
			observability.String("product_id", id),
			observability.Err(err),
		)
		return cached.Value, nil
	}
	return product.FullProduct{}, err
}

// SearchProduct returns the search projection of a product. Misses are filled through a full
// product fetch, which also warms the full cache.
func (p *Provider) SearchProduct(ctx context.Context, v product.Vendor, id string) (product.SearchProduct, error) {
	if _, err := p.client(v); err != nil {
		return product.SearchProduct{}, err
	}
	cached := p.cache.LookupSearch(v, id)
	if cached.Fresh() {
		return cached.Value, nil
	}
	full, err := p.Product(ctx, v, id)
	if err == nil {
		return full.Narrow(), nil
	}
	if cached.Stale && staleFallback(err) {
		return cached.Value, nil
	}
	return product.SearchProduct{}, err
}

func staleFallback(err error) bool {
	return errs.Is(err, errs.CodeUnreachable) || errs.Is(err, errs.CodeRateLimited)
}
