package sales

import (
	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/domain/promotion"
)

// VendorSnapshot is the persisted state of one vendor. The inverted index is derived and is
// rebuilt on restore.
type VendorSnapshot struct {
	Listing []promotion.Category          `json:"listing"`
	Meta    promotion.MetaInfo            `json:"meta"`
	Sales   map[string]promotion.SaleInfo `json:"sales"`
}

// Snapshot is the serialisable resolver state keyed by vendor.
type Snapshot map[product.Vendor]VendorSnapshot

// Snapshot copies the state of every vendor.
func (r *Resolver) Snapshot() Snapshot {
	out := make(Snapshot, len(r.vendors))
	for v, st := range r.vendors {
		st.listingMu.RLock()
		vs := VendorSnapshot{Listing: cloneListing(st.listing), Meta: st.meta}
		st.listingMu.RUnlock()

		st.salesMu.RLock()
		vs.Sales = make(map[string]promotion.SaleInfo, len(st.sales))
		for id, info := range st.sales {
			vs.Sales[id] = info
		}
		st.salesMu.RUnlock()
		out[v] = vs
	}
	return out
}

// Restore replaces the state of every configured vendor present in snap. Vendors that are
// not configured are ignored. A restored listing keeps its original expiry, so an expired
// one is reconciled on first use.
func (r *Resolver) Restore(snap Snapshot) int {
	restored := 0
	for v, vs := range snap {
		st, ok := r.vendors[v]
		if !ok {
			continue
		}
		st.refreshMu.Lock()
		st.listingMu.Lock()
		st.listing = cloneListing(vs.Listing)
		st.meta = vs.Meta
		st.listingMu.Unlock()

		st.salesMu.Lock()
		st.sales = make(map[string]promotion.SaleInfo, len(vs.Sales))
		for id, info := range vs.Sales {
			if id == "" {
				continue
			}
			st.sales[id] = info
		}
		st.salesMu.Unlock()
		r.rebuildIndex(st)
		st.refreshMu.Unlock()
		restored++
	}
	return restored
}
