package product

import "slices"

// Kind selects one of the two product projections held in the cache.
type Kind string

const (
	// KindFull is the full product record with nutritional and ingredient detail.
	KindFull Kind = "full"
	// KindSearch is the summary record returned by search and listings.
	KindSearch Kind = "search"
)

// UnitPrice expresses a normalised price per unit (e.g. per kg).
type UnitPrice struct {
	Unit  string `json:"unit"`
	Price int64  `json:"price"`
}

// Price holds prices in cents.
type Price struct {
	Display  int64      `json:"display"`
	Original int64      `json:"original"`
	Unit     *UnitPrice `json:"unit,omitempty"`
}

// Equal reports structural equality.
func (p Price) Equal(o Price) bool {
	if p.Display != o.Display || p.Original != o.Original {
		return false
	}
	switch {
	case p.Unit == nil && o.Unit == nil:
		return true
	case p.Unit == nil || o.Unit == nil:
		return false
	default:
		return *p.Unit == *o.Unit
	}
}

// OnSale reports whether the display price undercuts the original one.
func (p Price) OnSale() bool { return p.Display < p.Original }

// SearchProduct is the summary projection of a product.
type SearchProduct struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	ImageURL     string     `json:"imageUrl,omitempty"`
	UnitQuantity string     `json:"unitQuantity,omitempty"`
	Price        Price      `json:"price"`
	Available    bool       `json:"available"`
	Decorators   Decorators `json:"decorators,omitempty"`
}

// Equal reports structural equality.
func (p SearchProduct) Equal(o SearchProduct) bool {
	return p.ID == o.ID &&
		p.Name == o.Name &&
		p.ImageURL == o.ImageURL &&
		p.UnitQuantity == o.UnitQuantity &&
		p.Available == o.Available &&
		p.Price.Equal(o.Price) &&
		p.Decorators.Equal(o.Decorators)
}

// NutritionRow is one line of a nutritional table.
type NutritionRow struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FullProduct is the detailed projection of a product.
type FullProduct struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Brand        string         `json:"brand,omitempty"`
	Description  string         `json:"description,omitempty"`
	ImageURLs    []string       `json:"imageUrls,omitempty"`
	UnitQuantity string         `json:"unitQuantity,omitempty"`
	Price        Price          `json:"price"`
	Available    bool           `json:"available"`
	Decorators   Decorators     `json:"decorators,omitempty"`
	Ingredients  []string       `json:"ingredients,omitempty"`
	Nutrition    []NutritionRow `json:"nutrition,omitempty"`
	Allergens    []string       `json:"allergens,omitempty"`
}

// Narrow projects the full record onto the search record. The search record is a strict
// subset, so this never needs a network call.
func (p FullProduct) Narrow() SearchProduct {
	image := ""
	if len(p.ImageURLs) > 0 {
		image = p.ImageURLs[0]
	}
	return SearchProduct{
		ID:           p.ID,
		Name:         p.Name,
		ImageURL:     image,
		UnitQuantity: p.UnitQuantity,
		Price:        p.Price,
		Available:    p.Available,
		Decorators:   slices.Clone(p.Decorators),
	}
}

// Suggestion is a single autocomplete hint.
type Suggestion struct {
	Text string `json:"text"`
}

// SearchPage is one page of search results.
type SearchPage struct {
	Items  []SearchProduct `json:"items"`
	Offset int             `json:"offset"`
	Total  int             `json:"total"`
}
