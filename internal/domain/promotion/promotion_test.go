package promotion

import (
	"testing"
	"time"

	"github.com/coachpo/wgg/internal/domain/product"
)

func TestGuessValidityCoversIsoWeek(t *testing.T) {
	cases := []time.Time{
		time.Date(2024, 3, 13, 15, 4, 5, 0, time.UTC), // Wednesday
		time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),  // Monday
		time.Date(2024, 3, 17, 23, 0, 0, 0, time.UTC), // Sunday
	}
	wantFrom := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	wantUntil := time.Date(2024, 3, 17, 23, 59, 59, 0, time.UTC)
	for _, now := range cases {
		got := GuessValidity(now)
		if !got.ValidFrom.Equal(wantFrom) || !got.ValidUntil.Equal(wantUntil) {
			t.Fatalf("%s: expected [%s, %s], got [%s, %s]", now, wantFrom, wantUntil, got.ValidFrom, got.ValidUntil)
		}
	}
}

func TestGuessValidityAcrossMonthBoundary(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) // Wednesday
	got := GuessValidity(now)
	if got.ValidFrom.Month() != time.April || got.ValidFrom.Day() != 29 {
		t.Fatalf("expected Monday 29 April, got %s", got.ValidFrom)
	}
	if got.ValidUntil.Day() != 5 {
		t.Fatalf("expected Sunday 5 May, got %s", got.ValidUntil)
	}
}

func TestItemEquality(t *testing.T) {
	a := GroupItem(SaleGroupLimited{ID: "A", ItemIDs: []string{"p1", "p2"}})
	b := GroupItem(SaleGroupLimited{ID: "A", ItemIDs: []string{"p1", "p2"}})
	c := GroupItem(SaleGroupLimited{ID: "A", ItemIDs: []string{"p1"}})
	if !a.Equal(b) {
		t.Fatalf("structurally equal groups must compare equal")
	}
	if a.Equal(c) {
		t.Fatalf("groups with different members must differ")
	}
	p := ProductItem(product.SearchProduct{ID: "A"})
	if a.Equal(p) {
		t.Fatalf("product and group items must differ")
	}
	if a.ID() != "A" || p.ID() != "A" {
		t.Fatalf("unexpected item ids")
	}
}

func TestFlattenKeepsOrder(t *testing.T) {
	name := "deals"
	listing := []Category{
		{ID: &name, Name: "Deals", Items: []Item{GroupItem(SaleGroupLimited{ID: "A"})}},
		{Name: "Anonymous", Items: []Item{ProductItem(product.SearchProduct{ID: "p9"}), GroupItem(SaleGroupLimited{ID: "B"})}},
	}
	flat := Flatten(listing)
	if len(flat) != 3 || flat[0].ID() != "A" || flat[1].ID() != "p9" || flat[2].ID() != "B" {
		t.Fatalf("unexpected flattened listing: %+v", flat)
	}
	if !listing[0].Equal(listing[0]) || listing[0].Equal(listing[1]) {
		t.Fatalf("category equality mismatch")
	}
}

func TestMetaInfoFresh(t *testing.T) {
	now := time.Now()
	if (MetaInfo{IsComplete: true, Expiry: now.Add(time.Minute)}).Fresh(now) != true {
		t.Fatalf("expected fresh listing")
	}
	if (MetaInfo{IsComplete: false, Expiry: now.Add(time.Minute)}).Fresh(now) {
		t.Fatalf("incomplete listing must not be fresh")
	}
	if (MetaInfo{IsComplete: true, Expiry: now}).Fresh(now) {
		t.Fatalf("listing at expiry must not be fresh")
	}
}
