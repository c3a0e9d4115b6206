package aggregator

import (
	"context"

	"github.com/coachpo/wgg/errs"
	"github.com/coachpo/wgg/internal/app/sales"
	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/domain/promotion"
	"github.com/coachpo/wgg/internal/infra/observability"
)

// Promotions returns the vendor's promotion listing.
//
// A fresh listing is served from the resolver. An expired one is still served while a
// background refresh runs. Only when no listing was ever reconciled does the caller wait for
// the vendor.
func (p *Provider) Promotions(ctx context.Context, v product.Vendor) ([]promotion.Category, error) {
	if _, err := p.client(v); err != nil {
		return nil, err
	}
	if listing, ok := p.sales.Promotions(v); ok {
		return listing, nil
	}
	if last, _, ok := p.sales.Listing(v); ok {
		p.refreshInBackground(v)
		return last, nil
	}
	if _, err := p.refreshShared(ctx, v); err != nil {
		return nil, err
	}
	last, _, _ := p.sales.Listing(v)
	return last, nil
}

// PromotionItems returns the search records of every product in a sale group, in the order
// the sale lists them.
func (p *Provider) PromotionItems(ctx context.Context, v product.Vendor, saleID string) ([]product.SearchProduct, error) {
	client, err := p.client(v)
	if err != nil {
		return nil, err
	}
	info, ok := p.sales.SaleInfo(v, saleID)
	if !ok {
		return nil, errs.New(string(v), errs.CodeNotFound,
			errs.WithOp("promotion_items"), errs.WithMessage("unknown sale "+saleID))
	}

	items := make([]product.SearchProduct, 0, len(info.ItemIDs))
	for _, id := range info.ItemIDs {
		rec, ok := p.cache.GetSearch(v, id)
		if !ok {
			items = nil
			break
		}
		items = append(items, rec)
	}
	if items != nil {
		return items, nil
	}

	detail, err := client.PromotionDetail(ctx, saleID)
	if err != nil {
		return nil, err
	}
	p.cache.InsertSearchMany(v, detail.Items)
	byID := make(map[string]product.SearchProduct, len(detail.Items))
	for _, item := range detail.Items {
		byID[item.ID] = item
	}
	items = make([]product.SearchProduct, 0, len(info.ItemIDs))
	for _, id := range info.ItemIDs {
		if rec, ok := byID[id]; ok {
			items = append(items, rec)
		}
	}
	return items, nil
}

// SaleForProduct returns the sale a product currently belongs to.
func (p *Provider) SaleForProduct(v product.Vendor, productID string) (promotion.SaleInfo, bool) {
	return p.sales.SaleForProduct(v, productID)
}

// RefreshPromotions reconciles the vendor's promotions now.
func (p *Provider) RefreshPromotions(ctx context.Context, v product.Vendor) (sales.Diff, error) {
	client, err := p.client(v)
	if err != nil {
		return sales.Diff{}, err
	}
	return p.sales.RefreshPromotions(ctx, v, client)
}

// refreshShared joins the vendor's in-flight refresh or starts one. The refresh itself runs on
// the provider's lifetime with its own timeout; each caller only waits as long as its ctx.
func (p *Provider) refreshShared(ctx context.Context, v product.Vendor) (sales.Diff, error) {
	ch := p.inflight.DoChan(string(v), func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(p.lifetime, p.refreshTimeout)
		defer cancel()
		return p.RefreshPromotions(refreshCtx, v)
	})
	select {
	case res := <-ch:
		diff, _ := res.Val.(sales.Diff)
		return diff, res.Err
	case <-ctx.Done():
		return sales.Diff{}, errs.Classify(string(v), "refresh_promotions", ctx.Err())
	}
}

// refreshInBackground starts at most one background refresh per vendor.
func (p *Provider) refreshInBackground(v product.Vendor) {
	flag, ok := p.refreshing[v]
	if !ok || !flag.CompareAndSwap(false, true) {
		return
	}
	p.background.Go(func() {
		defer flag.Store(false)
		ctx, cancel := context.WithTimeout(p.lifetime, p.refreshTimeout)
		defer cancel()
		if _, err := p.refreshShared(ctx, v); err != nil {
			p.logger.Warn("background promotion refresh failed",
				observability.String("vendor", v.String()),
				observability.Err(err),
			)
		}
	})
}
