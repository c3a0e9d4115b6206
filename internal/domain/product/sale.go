package product

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// SaleKind classifies a promotion mechanic.
type SaleKind string

const (
	SaleUnknown      SaleKind = "unknown"
	SaleOnePlusOne   SaleKind = "one_plus_one"
	SaleXPlusY       SaleKind = "x_plus_y"
	SaleNthHalfPrice SaleKind = "nth_half_price"
	SalePercentOff   SaleKind = "percent_off"
	SaleBundlePrice  SaleKind = "bundle_price"
)

// SaleType is the structured form of a sale label.
type SaleType struct {
	Kind    SaleKind        `json:"kind"`
	Buy     int             `json:"buy,omitempty"`
	Free    int             `json:"free,omitempty"`
	Nth     int             `json:"nth,omitempty"`
	Percent int             `json:"percent,omitempty"`
	Count   int             `json:"count,omitempty"`
	Price   decimal.Decimal `json:"price"`
}

// Equal reports structural equality.
func (s SaleType) Equal(o SaleType) bool {
	return s.Kind == o.Kind &&
		s.Buy == o.Buy &&
		s.Free == o.Free &&
		s.Nth == o.Nth &&
		s.Percent == o.Percent &&
		s.Count == o.Count &&
		s.Price.Equal(o.Price)
}

var (
	plusFreeRe  = regexp.MustCompile(`^(\d+)\s*\+\s*(\d+)\s*(gratis|free)?$`)
	nthHalfRe   = regexp.MustCompile(`^(\d+)\s*e\s+halve\s+prijs$`)
	percentRe   = regexp.MustCompile(`^(\d+)\s*%\s*(korting|off)?$`)
	bundleRe    = regexp.MustCompile(`^(\d+)\s*(voor|for)\s*€?\s*(\d+(?:[.,]\d{1,2})?)$`)
	labelSpaces = regexp.MustCompile(`\s+`)
)

// ParseSaleLabel recognises the common Dutch/English sale label shapes. Labels that do
// not match any known shape yield SaleUnknown.
func ParseSaleLabel(label string) SaleType {
	text := strings.ToLower(strings.TrimSpace(labelSpaces.ReplaceAllString(label, " ")))
	if text == "" {
		return SaleType{Kind: SaleUnknown}
	}
	if m := plusFreeRe.FindStringSubmatch(text); m != nil {
		buy, _ := strconv.Atoi(m[1])
		free, _ := strconv.Atoi(m[2])
		if buy == 1 && free == 1 {
			return SaleType{Kind: SaleOnePlusOne, Buy: 1, Free: 1}
		}
		return SaleType{Kind: SaleXPlusY, Buy: buy, Free: free}
	}
	if m := nthHalfRe.FindStringSubmatch(text); m != nil {
		nth, _ := strconv.Atoi(m[1])
		return SaleType{Kind: SaleNthHalfPrice, Nth: nth}
	}
	if m := percentRe.FindStringSubmatch(text); m != nil {
		pct, _ := strconv.Atoi(m[1])
		if pct > 0 && pct <= 100 {
			return SaleType{Kind: SalePercentOff, Percent: pct}
		}
	}
	if m := bundleRe.FindStringSubmatch(text); m != nil {
		count, _ := strconv.Atoi(m[1])
		price, err := decimal.NewFromString(strings.ReplaceAll(m[3], ",", "."))
		if err == nil && count > 0 {
			return SaleType{Kind: SaleBundlePrice, Count: count, Price: price}
		}
	}
	return SaleType{Kind: SaleUnknown}
}
