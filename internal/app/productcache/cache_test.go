package productcache

import (
	"testing"
	"time"

	"github.com/coachpo/wgg/internal/domain/product"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCache(t *testing.T, ttl time.Duration, maxEntries int) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
	c := New(Config{
		TTL:        ttl,
		MaxEntries: maxEntries,
		Vendors:    product.AllVendors(),
	}, WithClock(clock.Now))
	return c, clock
}

func fullProduct(id string) product.FullProduct {
	return product.FullProduct{
		ID:          id,
		Name:        "Product " + id,
		ImageURLs:   []string{"https://img/" + id + "/1", "https://img/" + id + "/2"},
		Price:       product.Price{Display: 199, Original: 249},
		Available:   true,
		Description: "full record",
	}
}

func TestGetFullExpiresAfterTTL(t *testing.T) {
	c, clock := newTestCache(t, 10*time.Second, 100)
	c.InsertFull(product.VendorPicnic, fullProduct("a"))

	if _, ok := c.GetFull(product.VendorPicnic, "a"); !ok {
		t.Fatalf("expected hit before ttl")
	}
	clock.Advance(10 * time.Second)
	if _, ok := c.GetFull(product.VendorPicnic, "a"); ok {
		t.Fatalf("expected miss at exactly ttl")
	}
	if c.Contains(product.VendorPicnic, product.KindFull, "a") {
		t.Fatalf("expired entry must be removed by the read")
	}
}

func TestVendorsAreIsolated(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 100)
	c.InsertFull(product.VendorPicnic, fullProduct("a"))
	if _, ok := c.GetFull(product.VendorJumbo, "a"); ok {
		t.Fatalf("picnic entry leaked into jumbo")
	}
}

func TestGetSearchFallsBackToFull(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 100)
	rec := fullProduct("a")
	c.InsertFull(product.VendorJumbo, rec)

	got, ok := c.GetSearch(product.VendorJumbo, "a")
	if !ok {
		t.Fatalf("expected fallback hit")
	}
	if !got.Equal(rec.Narrow()) {
		t.Fatalf("expected narrowed full record, got %+v", got)
	}
	if c.Len(product.VendorJumbo, product.KindSearch) != 0 {
		t.Fatalf("fallback must not populate the search cache")
	}
}

func TestSearchCachePreferredOverFull(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 100)
	c.InsertFull(product.VendorJumbo, fullProduct("a"))
	search := product.SearchProduct{ID: "a", Name: "search name"}
	c.InsertSearch(product.VendorJumbo, search)

	got, ok := c.GetSearch(product.VendorJumbo, "a")
	if !ok || got.Name != "search name" {
		t.Fatalf("expected search record, got %+v ok=%v", got, ok)
	}
}

func TestMostRecentWriteWins(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 100)
	first := fullProduct("a")
	second := fullProduct("a")
	second.Name = "renamed"
	c.InsertFull(product.VendorPicnic, first)
	c.InsertFull(product.VendorPicnic, second)

	got, _ := c.GetFull(product.VendorPicnic, "a")
	if got.Name != "renamed" {
		t.Fatalf("expected latest write, got %q", got.Name)
	}
}

func TestBoundEvictsOldestInserted(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 2)
	c.InsertSearch(product.VendorPicnic, product.SearchProduct{ID: "a"})
	c.InsertSearch(product.VendorPicnic, product.SearchProduct{ID: "b"})
	// Reading "a" must not refresh its position.
	c.GetSearch(product.VendorPicnic, "a")
	c.InsertSearch(product.VendorPicnic, product.SearchProduct{ID: "c"})

	if c.Contains(product.VendorPicnic, product.KindSearch, "a") {
		t.Fatalf("expected oldest inserted key to be evicted")
	}
	for _, id := range []string{"b", "c"} {
		if !c.Contains(product.VendorPicnic, product.KindSearch, id) {
			t.Fatalf("expected %s to remain", id)
		}
	}
}

func TestUnknownVendorIsIgnored(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := New(Config{Vendors: []product.Vendor{product.VendorPicnic}}, WithClock(clock.Now))
	c.InsertFull(product.VendorJumbo, fullProduct("a"))
	if _, ok := c.GetFull(product.VendorJumbo, "a"); ok {
		t.Fatalf("unconfigured vendor must always miss")
	}
	if c.Len(product.VendorJumbo, product.KindFull) != 0 {
		t.Fatalf("insert for unconfigured vendor must be a no-op")
	}
}

func TestLookupReturnsStaleValueOnce(t *testing.T) {
	c, clock := newTestCache(t, time.Second, 100)
	c.InsertFull(product.VendorPicnic, fullProduct("a"))
	clock.Advance(2 * time.Second)

	l := c.LookupFull(product.VendorPicnic, "a")
	if !l.Found || !l.Stale || l.Fresh() {
		t.Fatalf("expected stale lookup, got %+v", l)
	}
	if l.Value.ID != "a" {
		t.Fatalf("expected stale value to be returned, got %+v", l.Value)
	}
	if again := c.LookupFull(product.VendorPicnic, "a"); again.Found {
		t.Fatalf("stale value must only be handed out by the evicting read")
	}
}

func TestEvictExpiredSweepsAllVendors(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 100)
	c.InsertFull(product.VendorPicnic, fullProduct("a"))
	c.InsertSearch(product.VendorJumbo, product.SearchProduct{ID: "b"})
	clock.Advance(30 * time.Second)
	c.InsertSearch(product.VendorJumbo, product.SearchProduct{ID: "c"})
	clock.Advance(40 * time.Second)

	if got := c.EvictExpired(); got != 2 {
		t.Fatalf("expected 2 evictions, got %d", got)
	}
	if !c.Contains(product.VendorJumbo, product.KindSearch, "c") {
		t.Fatalf("live entry must survive the sweep")
	}
}

func TestSnapshotRestoreKeepsInsertionTimes(t *testing.T) {
	src, clock := newTestCache(t, time.Minute, 100)
	src.InsertFull(product.VendorPicnic, fullProduct("a"))
	clock.Advance(50 * time.Second)
	src.InsertSearch(product.VendorJumbo, product.SearchProduct{ID: "b"})
	snap := src.Snapshot()

	dst := New(Config{TTL: time.Minute, MaxEntries: 100, Vendors: product.AllVendors()}, WithClock(clock.Now))
	if n := dst.Restore(snap); n != 2 {
		t.Fatalf("expected 2 restored entries, got %d", n)
	}
	clock.Advance(20 * time.Second)
	if _, ok := dst.GetFull(product.VendorPicnic, "a"); ok {
		t.Fatalf("restored entry must keep its original insertion time")
	}
	if _, ok := dst.GetSearch(product.VendorJumbo, "b"); !ok {
		t.Fatalf("expected restored search entry to be live")
	}
}

func TestRestoreDropsExpiredAndUnknownVendors(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
	c := New(Config{TTL: time.Minute, Vendors: []product.Vendor{product.VendorPicnic}}, WithClock(clock.Now))
	snap := Snapshot{
		product.VendorPicnic: {
			Full: map[string]Entry[product.FullProduct]{
				"old":   {Value: fullProduct("old"), InsertedAt: clock.now.Add(-2 * time.Minute)},
				"fresh": {Value: fullProduct("fresh"), InsertedAt: clock.now.Add(-10 * time.Second)},
			},
		},
		product.VendorJumbo: {
			Search: map[string]Entry[product.SearchProduct]{
				"x": {Value: product.SearchProduct{ID: "x"}, InsertedAt: clock.now},
			},
		},
	}
	if n := c.Restore(snap); n != 1 {
		t.Fatalf("expected only the fresh picnic entry, got %d", n)
	}
	if c.Contains(product.VendorPicnic, product.KindFull, "old") {
		t.Fatalf("expired entry must be dropped on restore")
	}
}
