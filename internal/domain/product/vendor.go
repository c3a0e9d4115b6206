// Package product defines the normalized, vendor-agnostic product model.
package product

import (
	"fmt"
	"strings"
)

// Vendor identifies one external grocery-store data source.
type Vendor string

const (
	// VendorPicnic is the Picnic grocery delivery service.
	VendorPicnic Vendor = "picnic"
	// VendorJumbo is the Jumbo supermarket chain.
	VendorJumbo Vendor = "jumbo"
)

// AllVendors lists every vendor the aggregator knows how to talk to.
func AllVendors() []Vendor {
	return []Vendor{VendorPicnic, VendorJumbo}
}

// ParseVendor normalises a vendor name.
func ParseVendor(raw string) (Vendor, error) {
	switch Vendor(strings.ToLower(strings.TrimSpace(raw))) {
	case VendorPicnic:
		return VendorPicnic, nil
	case VendorJumbo:
		return VendorJumbo, nil
	default:
		return "", fmt.Errorf("unknown vendor %q", raw)
	}
}

// Valid reports whether v is part of the closed vendor set.
func (v Vendor) Valid() bool {
	switch v {
	case VendorPicnic, VendorJumbo:
		return true
	default:
		return false
	}
}

func (v Vendor) String() string { return string(v) }
