package sales

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/coachpo/wgg/errs"
	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/domain/promotion"
)

type stubVendor struct {
	mu          sync.Mutex
	listing     []promotion.Category
	details     map[string]promotion.SaleGroupFull
	detailCalls int
}

func (s *stubVendor) setListing(listing []promotion.Category) {
	s.mu.Lock()
	s.listing = listing
	s.mu.Unlock()
}

func (s *stubVendor) Autocomplete(context.Context, string) ([]product.Suggestion, error) {
	return nil, nil
}

func (s *stubVendor) Search(context.Context, string, int) (product.SearchPage, error) {
	return product.SearchPage{}, nil
}

func (s *stubVendor) Product(context.Context, string) (product.FullProduct, error) {
	return product.FullProduct{}, errs.New("picnic", errs.CodeNotFound)
}

func (s *stubVendor) Promotions(context.Context) ([]promotion.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listing, nil
}

func (s *stubVendor) PromotionDetail(_ context.Context, id string) (promotion.SaleGroupFull, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detailCalls++
	detail, ok := s.details[id]
	if !ok {
		return promotion.SaleGroupFull{}, errs.New("picnic", errs.CodeNotFound, errs.WithMessage(id))
	}
	return detail, nil
}

type recordingSink struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (r *recordingSink) InsertSearchMany(_ product.Vendor, recs []product.SearchProduct) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	for _, rec := range recs {
		r.seen[rec.ID] = true
	}
}

func group(id string, items ...string) promotion.Item {
	return promotion.GroupItem(promotion.SaleGroupLimited{ID: id, Name: "Sale " + id, ItemIDs: items})
}

func detail(id string, items ...string) promotion.SaleGroupFull {
	full := promotion.SaleGroupFull{ID: id, Name: "Sale " + id}
	for _, item := range items {
		full.Items = append(full.Items, product.SearchProduct{ID: item, Name: "Product " + item})
	}
	return full
}

func listing(items ...promotion.Item) []promotion.Category {
	id := "weekly"
	return []promotion.Category{{ID: &id, Name: "Weekly offers", Items: items}}
}

// Wednesday.
var testNow = time.Date(2024, 3, 6, 15, 30, 0, 0, time.UTC)

func newTestResolver(opts ...Option) *Resolver {
	clock := func() time.Time { return testNow }
	return New(Config{TTL: time.Hour, Vendors: product.AllVendors()}, append([]Option{WithClock(clock)}, opts...)...)
}

func assertClosure(t *testing.T, r *Resolver, v product.Vendor) {
	t.Helper()
	sales := make(map[string]promotion.SaleInfo)
	for _, id := range r.SaleIDs(v) {
		info, _ := r.SaleInfo(v, id)
		sales[id] = info
	}
	index := r.InvertedIndex(v)
	for pid, saleID := range index {
		if _, ok := sales[saleID]; !ok {
			t.Fatalf("index key %s points at missing sale %s", pid, saleID)
		}
	}
	for id, info := range sales {
		for _, pid := range info.ItemIDs {
			if _, ok := index[pid]; !ok {
				t.Fatalf("product %s of sale %s missing from index", pid, id)
			}
		}
	}
}

func TestRefreshReconcilesAddedAndRemovedGroups(t *testing.T) {
	client := &stubVendor{details: map[string]promotion.SaleGroupFull{
		"SaleA": detail("SaleA", "p1", "p2"),
		"SaleB": detail("SaleB", "p3"),
		"SaleC": detail("SaleC", "p4"),
	}}
	r := newTestResolver()
	ctx := context.Background()

	client.setListing(listing(group("SaleA", "p1", "p2"), group("SaleB", "p3")))
	if _, err := r.RefreshPromotions(ctx, product.VendorPicnic, client); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	client.setListing(listing(group("SaleA", "p1", "p2"), group("SaleC", "p4")))
	diff, err := r.RefreshPromotions(ctx, product.VendorPicnic, client)
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if got := diff.RemovedIDs(); !reflect.DeepEqual(got, []string{"SaleB"}) {
		t.Fatalf("expected SaleB removed, got %v", got)
	}
	if added := diff.AddedGroups(); len(added) != 1 || added[0].ID != "SaleC" {
		t.Fatalf("expected SaleC added, got %+v", added)
	}
	if got := r.SaleIDs(product.VendorPicnic); !reflect.DeepEqual(got, []string{"SaleA", "SaleC"}) {
		t.Fatalf("unexpected normal cache keys %v", got)
	}
	want := map[string]string{"p1": "SaleA", "p2": "SaleA", "p4": "SaleC"}
	if got := r.InvertedIndex(product.VendorPicnic); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected inverted index %v", got)
	}
	assertClosure(t, r, product.VendorPicnic)

	if _, ok := r.SaleForProduct(product.VendorPicnic, "p3"); ok {
		t.Fatalf("p3 must no longer resolve to a sale")
	}
	if info, ok := r.SaleForProduct(product.VendorPicnic, "p4"); !ok || info.ID != "SaleC" {
		t.Fatalf("expected p4 to resolve to SaleC, got %+v", info)
	}
}

func TestUnchangedListingIsNoop(t *testing.T) {
	client := &stubVendor{details: map[string]promotion.SaleGroupFull{
		"SaleA": detail("SaleA", "p1"),
	}}
	client.setListing(listing(group("SaleA", "p1"), promotion.ProductItem(product.SearchProduct{ID: "p9"})))
	now := testNow
	r := New(Config{TTL: time.Hour, Vendors: product.AllVendors()}, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if _, err := r.RefreshPromotions(ctx, product.VendorJumbo, client); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	before := r.Snapshot()[product.VendorJumbo]
	calls := client.detailCalls

	now = now.Add(30 * time.Minute)
	diff, err := r.RefreshPromotions(ctx, product.VendorJumbo, client)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !diff.Empty() {
		t.Fatalf("expected empty diff, got %+v", diff)
	}
	if client.detailCalls != calls {
		t.Fatalf("no-op refresh must not fetch details")
	}
	after := r.Snapshot()[product.VendorJumbo]
	if !reflect.DeepEqual(before.Sales, after.Sales) {
		t.Fatalf("no-op refresh mutated the sale cache")
	}
	if !after.Meta.Expiry.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected expiry to be extended, got %s", after.Meta.Expiry)
	}
}

func TestPromotionsExpire(t *testing.T) {
	client := &stubVendor{details: map[string]promotion.SaleGroupFull{"SaleA": detail("SaleA", "p1")}}
	client.setListing(listing(group("SaleA", "p1")))
	now := testNow
	r := New(Config{TTL: time.Hour, Vendors: product.AllVendors()}, WithClock(func() time.Time { return now }))

	if _, ok := r.Promotions(product.VendorPicnic); ok {
		t.Fatalf("empty resolver must ask for reconciliation")
	}
	if _, err := r.RefreshPromotions(context.Background(), product.VendorPicnic, client); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got, ok := r.Promotions(product.VendorPicnic); !ok || len(got) != 1 {
		t.Fatalf("expected fresh listing, got %v ok=%v", got, ok)
	}
	now = now.Add(time.Hour)
	if _, ok := r.Promotions(product.VendorPicnic); ok {
		t.Fatalf("listing must expire at now == expiry")
	}
	if last, meta, ok := r.Listing(product.VendorPicnic); !ok || len(last) != 1 || !meta.IsComplete {
		t.Fatalf("expected the last listing to remain available")
	}
}

func TestSelfHealRebuildsMissingSales(t *testing.T) {
	client := &stubVendor{details: map[string]promotion.SaleGroupFull{
		"SaleA": detail("SaleA", "p1"),
		"SaleB": detail("SaleB", "p2"),
	}}
	client.setListing(listing(group("SaleA", "p1"), group("SaleB", "p2")))
	r := newTestResolver()
	ctx := context.Background()

	if _, err := r.RefreshPromotions(ctx, product.VendorPicnic, client); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	snap := r.Snapshot()
	vs := snap[product.VendorPicnic]
	vs.Sales = nil
	snap[product.VendorPicnic] = vs
	r.Restore(snap)
	if len(r.SaleIDs(product.VendorPicnic)) != 0 {
		t.Fatalf("expected derived caches to be empty after corrupt restore")
	}

	diff, err := r.RefreshPromotions(ctx, product.VendorPicnic, client)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(diff.Added) != 0 || len(diff.Removed) != 0 {
		t.Fatalf("listing did not change, got %+v", diff)
	}
	if !reflect.DeepEqual(diff.Healed, []string{"SaleA", "SaleB"}) {
		t.Fatalf("expected both groups to be healed, got %v", diff.Healed)
	}
	if got := r.SaleIDs(product.VendorPicnic); !reflect.DeepEqual(got, []string{"SaleA", "SaleB"}) {
		t.Fatalf("expected rebuilt sales, got %v", got)
	}
	assertClosure(t, r, product.VendorPicnic)
}

func TestRemovedDuplicateKeepsListedGroup(t *testing.T) {
	client := &stubVendor{details: map[string]promotion.SaleGroupFull{
		"SaleX": detail("SaleX", "p1"),
	}}
	older := promotion.GroupItem(promotion.SaleGroupLimited{ID: "SaleX", Name: "old", ItemIDs: []string{"p1"}})
	newer := promotion.GroupItem(promotion.SaleGroupLimited{ID: "SaleX", Name: "new", ItemIDs: []string{"p1"}})
	r := newTestResolver()
	ctx := context.Background()

	client.setListing(listing(older, newer))
	if _, err := r.RefreshPromotions(ctx, product.VendorPicnic, client); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	client.setListing(listing(newer))
	diff, err := r.RefreshPromotions(ctx, product.VendorPicnic, client)
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if got := diff.RemovedIDs(); !reflect.DeepEqual(got, []string{"SaleX"}) {
		t.Fatalf("expected the old SaleX entry removed, got %v", got)
	}
	if !reflect.DeepEqual(diff.Healed, []string{"SaleX"}) {
		t.Fatalf("expected SaleX rebuilt, got %v", diff.Healed)
	}
	if got := r.SaleIDs(product.VendorPicnic); !reflect.DeepEqual(got, []string{"SaleX"}) {
		t.Fatalf("listed group must stay in the normal cache, got %v", got)
	}
	if info, ok := r.SaleForProduct(product.VendorPicnic, "p1"); !ok || info.ID != "SaleX" {
		t.Fatalf("expected p1 to resolve to SaleX, got %+v ok=%v", info, ok)
	}
	assertClosure(t, r, product.VendorPicnic)
}

func TestSaleValidityFallbacks(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC)
	explicit := promotion.SaleGroupLimited{
		ID:         "SaleX",
		ItemIDs:    []string{"p1"},
		Decorators: product.Decorators{product.Validity(from, until), product.SaleLabel("1+1 gratis")},
	}
	client := &stubVendor{details: map[string]promotion.SaleGroupFull{
		"SaleX": detail("SaleX", "p1"),
		"SaleY": detail("SaleY", "p2"),
	}}
	memberWindow := detail("SaleZ", "p3")
	memberWindow.Items[0].Decorators = product.Decorators{product.Validity(from, until)}
	client.details["SaleZ"] = memberWindow
	client.setListing(listing(promotion.GroupItem(explicit), group("SaleY", "p2"), group("SaleZ", "p3")))

	r := newTestResolver()
	if _, err := r.RefreshPromotions(context.Background(), product.VendorPicnic, client); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	x, _ := r.SaleInfo(product.VendorPicnic, "SaleX")
	if !x.ValidFrom.Equal(from) || !x.ValidUntil.Equal(until) || x.Guessed {
		t.Fatalf("expected explicit window, got %+v", x)
	}
	if x.Type.Kind != product.SaleOnePlusOne {
		t.Fatalf("expected parsed sale type, got %+v", x.Type)
	}

	z, _ := r.SaleInfo(product.VendorPicnic, "SaleZ")
	if !z.ValidFrom.Equal(from) || z.Guessed {
		t.Fatalf("expected member window, got %+v", z)
	}

	y, _ := r.SaleInfo(product.VendorPicnic, "SaleY")
	wantFrom := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	wantUntil := time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC)
	if !y.Guessed || !y.ValidFrom.Equal(wantFrom) || !y.ValidUntil.Equal(wantUntil) {
		t.Fatalf("expected guessed ISO week window, got %+v", y)
	}
}

func TestDetailFailureKeepsPreviousListing(t *testing.T) {
	client := &stubVendor{details: map[string]promotion.SaleGroupFull{"SaleA": detail("SaleA", "p1")}}
	client.setListing(listing(group("SaleA", "p1")))
	r := newTestResolver()
	ctx := context.Background()
	if _, err := r.RefreshPromotions(ctx, product.VendorPicnic, client); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	client.setListing(listing(group("SaleA", "p1"), group("SaleB", "p2")))
	if _, err := r.RefreshPromotions(ctx, product.VendorPicnic, client); !errs.Is(err, errs.CodeNotFound) {
		t.Fatalf("expected detail failure to surface, got %v", err)
	}
	last, _, _ := r.Listing(product.VendorPicnic)
	if items := promotion.Flatten(last); len(items) != 1 {
		t.Fatalf("failed refresh must keep the previous listing, got %d items", len(items))
	}
	assertClosure(t, r, product.VendorPicnic)

	client.mu.Lock()
	client.details["SaleB"] = detail("SaleB", "p2")
	client.mu.Unlock()
	diff, err := r.RefreshPromotions(ctx, product.VendorPicnic, client)
	if err != nil {
		t.Fatalf("retry refresh: %v", err)
	}
	if added := diff.AddedGroups(); len(added) != 1 || added[0].ID != "SaleB" {
		t.Fatalf("expected SaleB to be added on retry, got %+v", added)
	}
}

func TestDiscoveredProductsReachSink(t *testing.T) {
	sink := &recordingSink{}
	client := &stubVendor{details: map[string]promotion.SaleGroupFull{"SaleA": detail("SaleA", "p1", "p2")}}
	client.setListing(listing(group("SaleA", "p1", "p2"), promotion.ProductItem(product.SearchProduct{ID: "p9"})))
	r := newTestResolver(WithProductSink(sink))

	if _, err := r.RefreshPromotions(context.Background(), product.VendorPicnic, client); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	for _, id := range []string{"p1", "p2", "p9"} {
		if !sink.seen[id] {
			t.Fatalf("expected %s to be pushed to the sink", id)
		}
	}
}

func TestUnknownVendor(t *testing.T) {
	r := New(Config{Vendors: []product.Vendor{product.VendorPicnic}})
	_, err := r.RefreshPromotions(context.Background(), product.VendorJumbo, &stubVendor{})
	if !errs.Is(err, errs.CodeUninitialized) {
		t.Fatalf("expected uninitialized, got %v", err)
	}
	if _, ok := r.SaleForProduct(product.VendorJumbo, "p1"); ok {
		t.Fatalf("unknown vendor must miss")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	client := &stubVendor{details: map[string]promotion.SaleGroupFull{
		"SaleA": detail("SaleA", "p1", "p2"),
	}}
	client.setListing(listing(group("SaleA", "p1", "p2")))
	src := newTestResolver()
	if _, err := src.RefreshPromotions(context.Background(), product.VendorPicnic, client); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	dst := New(Config{TTL: time.Hour, Vendors: []product.Vendor{product.VendorPicnic}},
		WithClock(func() time.Time { return testNow }))
	snap := src.Snapshot()
	snap[product.VendorJumbo] = VendorSnapshot{Sales: map[string]promotion.SaleInfo{"x": {ID: "x"}}}
	if n := dst.Restore(snap); n != 1 {
		t.Fatalf("expected one vendor restored, got %d", n)
	}
	if !reflect.DeepEqual(src.InvertedIndex(product.VendorPicnic), dst.InvertedIndex(product.VendorPicnic)) {
		t.Fatalf("inverted index differs after restore")
	}
	if _, ok := dst.Promotions(product.VendorPicnic); !ok {
		t.Fatalf("restored listing should still be fresh")
	}
	if dst.InvertedIndex(product.VendorJumbo) != nil {
		t.Fatalf("unconfigured vendor must be ignored")
	}
}

func TestConcurrentRefreshAndLookups(t *testing.T) {
	client := &stubVendor{details: map[string]promotion.SaleGroupFull{
		"SaleA": detail("SaleA", "p1", "p2"),
		"SaleB": detail("SaleB", "p3"),
	}}
	shapes := [][]promotion.Category{
		listing(group("SaleA", "p1", "p2")),
		listing(group("SaleA", "p1", "p2"), group("SaleB", "p3")),
	}
	client.setListing(shapes[0])
	r := newTestResolver()
	ctx := context.Background()
	v := product.VendorPicnic

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			client.setListing(shapes[i%2])
			if _, err := r.RefreshPromotions(ctx, v, client); err != nil {
				t.Errorf("refresh %d: %v", i, err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := r.RefreshPromotions(ctx, v, client); err != nil {
				t.Errorf("concurrent refresh %d: %v", i, err)
				return
			}
		}
	}()
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if info, ok := r.SaleForProduct(v, "p1"); ok && info.ID != "SaleA" {
					t.Errorf("p1 resolved to %s", info.ID)
					return
				}
				r.SaleForProduct(v, "p3")
				r.Promotions(v)
				r.InvertedIndex(v)
				r.SaleIDs(v)
				r.Snapshot()
			}
		}()
	}
	wg.Wait()

	client.setListing(shapes[1])
	if _, err := r.RefreshPromotions(ctx, v, client); err != nil {
		t.Fatalf("final refresh: %v", err)
	}
	if got := r.SaleIDs(v); !reflect.DeepEqual(got, []string{"SaleA", "SaleB"}) {
		t.Fatalf("unexpected sales after concurrent use %v", got)
	}
	assertClosure(t, r, v)
}
