// Package promotion models vendor promotion listings and the sale records derived from them.
package promotion

import (
	"slices"
	"time"

	"github.com/coachpo/wgg/internal/domain/product"
)

// ItemKind discriminates promotion listing entries.
type ItemKind string

const (
	// ItemProduct is a single product on sale, inlined in the listing.
	ItemProduct ItemKind = "product"
	// ItemGroup references a sale group whose members need a detail fetch.
	ItemGroup ItemKind = "group"
)

// SaleGroupLimited is the sale group reference embedded in a listing.
type SaleGroupLimited struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	ImageURL   string             `json:"imageUrl,omitempty"`
	ItemIDs    []string           `json:"itemIds"`
	Decorators product.Decorators `json:"decorators,omitempty"`
}

// Equal reports structural equality.
func (g SaleGroupLimited) Equal(o SaleGroupLimited) bool {
	return g.ID == o.ID &&
		g.Name == o.Name &&
		g.ImageURL == o.ImageURL &&
		slices.Equal(g.ItemIDs, o.ItemIDs) &&
		g.Decorators.Equal(o.Decorators)
}

// SaleGroupFull is the detail view of a sale group as returned by promotion_detail.
type SaleGroupFull struct {
	ID         string                  `json:"id"`
	Name       string                  `json:"name"`
	ImageURL   string                  `json:"imageUrl,omitempty"`
	Items      []product.SearchProduct `json:"items"`
	Decorators product.Decorators      `json:"decorators,omitempty"`
}

// ItemIDs flattens the member product ids.
func (g SaleGroupFull) ItemIDs() []string {
	ids := make([]string, 0, len(g.Items))
	for _, item := range g.Items {
		ids = append(ids, item.ID)
	}
	return ids
}

// Item is one entry in a promotion category; exactly one of Product or Group is set.
type Item struct {
	Kind    ItemKind               `json:"kind"`
	Product *product.SearchProduct `json:"product,omitempty"`
	Group   *SaleGroupLimited      `json:"group,omitempty"`
}

// ProductItem wraps an inline product.
func ProductItem(p product.SearchProduct) Item {
	return Item{Kind: ItemProduct, Product: &p}
}

// GroupItem wraps a sale group reference.
func GroupItem(g SaleGroupLimited) Item {
	return Item{Kind: ItemGroup, Group: &g}
}

// ID returns the promotion id: the sale group id or the inline product id.
func (i Item) ID() string {
	switch {
	case i.Kind == ItemGroup && i.Group != nil:
		return i.Group.ID
	case i.Kind == ItemProduct && i.Product != nil:
		return i.Product.ID
	default:
		return ""
	}
}

// Equal reports structural equality.
func (i Item) Equal(o Item) bool {
	if i.Kind != o.Kind {
		return false
	}
	switch i.Kind {
	case ItemProduct:
		if i.Product == nil || o.Product == nil {
			return i.Product == o.Product
		}
		return i.Product.Equal(*o.Product)
	case ItemGroup:
		if i.Group == nil || o.Group == nil {
			return i.Group == o.Group
		}
		return i.Group.Equal(*o.Group)
	default:
		return true
	}
}

// Category is a named grouping inside a vendor's promotion listing. Some vendors expose
// anonymous groups, in which case ID is nil.
type Category struct {
	ID    *string `json:"id,omitempty"`
	Name  string  `json:"name"`
	Items []Item  `json:"items"`
}

// Equal reports structural equality.
func (c Category) Equal(o Category) bool {
	if (c.ID == nil) != (o.ID == nil) {
		return false
	}
	if c.ID != nil && *c.ID != *o.ID {
		return false
	}
	return c.Name == o.Name && slices.EqualFunc(c.Items, o.Items, Item.Equal)
}

// Flatten returns every item across the listing in order.
func Flatten(listing []Category) []Item {
	total := 0
	for _, c := range listing {
		total += len(c.Items)
	}
	out := make([]Item, 0, total)
	for _, c := range listing {
		out = append(out, c.Items...)
	}
	return out
}

// SaleInfo is the derived record for one sale group.
type SaleInfo struct {
	ID         string           `json:"id"`
	ValidFrom  time.Time        `json:"validFrom"`
	ValidUntil time.Time        `json:"validUntil"`
	ItemIDs    []string         `json:"itemIds"`
	Label      string           `json:"label,omitempty"`
	Type       product.SaleType `json:"type"`
	// Guessed is set when the vendor gave no window and ValidFrom/ValidUntil come from
	// GuessValidity.
	Guessed bool `json:"guessed,omitempty"`
}

// Window returns the validity window.
func (s SaleInfo) Window() product.SaleValidity {
	return product.SaleValidity{ValidFrom: s.ValidFrom, ValidUntil: s.ValidUntil}
}

// MetaInfo tracks per-vendor liveness of the cached promotion listing.
type MetaInfo struct {
	IsComplete bool      `json:"isComplete"`
	Expiry     time.Time `json:"expiry"`
}

// Fresh reports whether the listing may still be served at now.
func (m MetaInfo) Fresh(now time.Time) bool {
	return m.IsComplete && now.Before(m.Expiry)
}

// GuessValidity returns Monday 00:00:00 through Sunday 23:59:59 of the ISO week containing
// now, in now's location. Used when a vendor omits an explicit sale window.
func GuessValidity(now time.Time) product.SaleValidity {
	offset := (int(now.Weekday()) + 6) % 7
	y, m, d := now.Date()
	monday := time.Date(y, m, d-offset, 0, 0, 0, 0, now.Location())
	sunday := time.Date(y, m, d-offset+6, 23, 59, 59, 0, now.Location())
	return product.SaleValidity{ValidFrom: monday, ValidUntil: sunday}
}
