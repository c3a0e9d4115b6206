package product

import (
	"slices"
	"time"
)

// DecoratorKind discriminates the Decorator variants.
type DecoratorKind string

const (
	DecoratorFreshness    DecoratorKind = "freshness"
	DecoratorSaleLabel    DecoratorKind = "sale_label"
	DecoratorSaleValidity DecoratorKind = "sale_validity"
	DecoratorSaleType     DecoratorKind = "sale_type"
	DecoratorUnavailable  DecoratorKind = "unavailable"
)

// UnavailableReason explains why a product cannot be ordered.
type UnavailableReason string

const (
	UnavailableOutOfAssortment UnavailableReason = "out_of_assortment"
	UnavailableOutOfSeason     UnavailableReason = "out_of_season"
	UnavailableTemporary       UnavailableReason = "temporarily_unavailable"
	UnavailableUnknown         UnavailableReason = "unknown"
)

// SaleValidity is the window in which a sale applies.
type SaleValidity struct {
	ValidFrom  time.Time `json:"validFrom"`
	ValidUntil time.Time `json:"validUntil"`
}

// Contains reports whether t falls within the window (inclusive).
func (s SaleValidity) Contains(t time.Time) bool {
	return !t.Before(s.ValidFrom) && !t.After(s.ValidUntil)
}

// Unavailable carries unavailability detail and suggested replacements.
type Unavailable struct {
	Reason       UnavailableReason `json:"reason"`
	Explanation  string            `json:"explanation,omitempty"`
	Replacements []SearchProduct   `json:"replacements,omitempty"`
}

// Decorator is a tagged variant attached to products and sale groups. Exactly one payload
// field matching Kind is populated.
type Decorator struct {
	Kind          DecoratorKind `json:"kind"`
	FreshnessDays int           `json:"freshnessDays,omitempty"`
	SaleLabel     string        `json:"saleLabel,omitempty"`
	Validity      *SaleValidity `json:"validity,omitempty"`
	SaleType      *SaleType     `json:"saleType,omitempty"`
	Unavailable   *Unavailable  `json:"unavailable,omitempty"`
}

// Freshness builds a freshness decorator guaranteeing the product stays fresh for days.
func Freshness(days int) Decorator {
	return Decorator{Kind: DecoratorFreshness, FreshnessDays: days}
}

// SaleLabel builds a sale label decorator.
func SaleLabel(text string) Decorator {
	return Decorator{Kind: DecoratorSaleLabel, SaleLabel: text}
}

// Validity builds a sale validity decorator.
func Validity(from, until time.Time) Decorator {
	return Decorator{Kind: DecoratorSaleValidity, Validity: &SaleValidity{ValidFrom: from, ValidUntil: until}}
}

// Sale builds a structured sale type decorator.
func Sale(t SaleType) Decorator {
	return Decorator{Kind: DecoratorSaleType, SaleType: &t}
}

// NotAvailable builds an unavailability decorator.
func NotAvailable(reason UnavailableReason, explanation string, replacements ...SearchProduct) Decorator {
	return Decorator{
		Kind: DecoratorUnavailable,
		Unavailable: &Unavailable{
			Reason:       reason,
			Explanation:  explanation,
			Replacements: replacements,
		},
	}
}

// Equal reports structural equality.
func (d Decorator) Equal(o Decorator) bool {
	if d.Kind != o.Kind || d.FreshnessDays != o.FreshnessDays || d.SaleLabel != o.SaleLabel {
		return false
	}
	if (d.Validity == nil) != (o.Validity == nil) {
		return false
	}
	if d.Validity != nil && (!d.Validity.ValidFrom.Equal(o.Validity.ValidFrom) || !d.Validity.ValidUntil.Equal(o.Validity.ValidUntil)) {
		return false
	}
	if (d.SaleType == nil) != (o.SaleType == nil) {
		return false
	}
	if d.SaleType != nil && !d.SaleType.Equal(*o.SaleType) {
		return false
	}
	if (d.Unavailable == nil) != (o.Unavailable == nil) {
		return false
	}
	if d.Unavailable != nil {
		a, b := d.Unavailable, o.Unavailable
		if a.Reason != b.Reason || a.Explanation != b.Explanation {
			return false
		}
		if !slices.EqualFunc(a.Replacements, b.Replacements, SearchProduct.Equal) {
			return false
		}
	}
	return true
}

// Decorators is an ordered decorator list.
type Decorators []Decorator

// Equal reports element-wise structural equality.
func (ds Decorators) Equal(o Decorators) bool {
	return slices.EqualFunc(ds, o, Decorator.Equal)
}

// Find returns the first decorator of the given kind.
func (ds Decorators) Find(kind DecoratorKind) (Decorator, bool) {
	for _, d := range ds {
		if d.Kind == kind {
			return d, true
		}
	}
	return Decorator{}, false
}

// SaleValidity returns the explicit sale window, if any.
func (ds Decorators) SaleValidity() (SaleValidity, bool) {
	d, ok := ds.Find(DecoratorSaleValidity)
	if !ok || d.Validity == nil {
		return SaleValidity{}, false
	}
	return *d.Validity, true
}

// SaleLabel returns the sale label text, if any.
func (ds Decorators) SaleLabel() (string, bool) {
	d, ok := ds.Find(DecoratorSaleLabel)
	if !ok {
		return "", false
	}
	return d.SaleLabel, true
}
