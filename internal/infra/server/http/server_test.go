package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/coachpo/wgg/errs"
	"github.com/coachpo/wgg/internal/app/aggregator"
	"github.com/coachpo/wgg/internal/app/provider"
	"github.com/coachpo/wgg/internal/app/scheduler"
	"github.com/coachpo/wgg/internal/app/snapshot"
	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/infra/adapters/fake"
	"github.com/coachpo/wgg/internal/infra/config"
)

type memoryStore struct {
	mu    sync.Mutex
	saved []snapshot.Snapshot
	err   error
}

func (m *memoryStore) Load(context.Context) (snapshot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return snapshot.Snapshot{}, snapshot.ErrNotFound
	}
	return m.saved[len(m.saved)-1], nil
}

func (m *memoryStore) Save(_ context.Context, snap snapshot.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, snap)
	return nil
}

type apiFixture struct {
	handler http.Handler
	agg     *aggregator.Provider
	sched   *scheduler.Scheduler
	store   *memoryStore
	jobID   uuid.UUID
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()

	reg := provider.NewRegistry()
	fake.RegisterFactory(reg)
	manager := provider.NewManager(reg, nil)
	clients, err := manager.Start(ctx, map[product.Vendor]config.VendorConfig{
		product.VendorPicnic: {Enabled: true, Adapter: config.AdapterFake, Burst: 10},
		product.VendorJumbo:  {Enabled: true, Adapter: config.AdapterFake, Burst: 10},
	})
	if err != nil {
		t.Fatalf("start vendors: %v", err)
	}

	agg, err := aggregator.New(aggregator.Config{
		Clients:      clients,
		CacheTTL:     time.Hour,
		PromotionTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	t.Cleanup(agg.Close)

	sched := scheduler.New(scheduler.WithTick(10 * time.Millisecond))
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start scheduler: %v", err)
	}
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })
	jobID, err := sched.Add(ctx, scheduler.Job{
		Name:     "noop",
		Schedule: scheduler.Every(time.Hour),
		Handler:  func(context.Context) error { return nil },
	})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	store := &memoryStore{}
	handler := NewHandler(Deps{
		Environment: config.EnvDev,
		Aggregator:  agg,
		Vendors:     manager,
		Scheduler:   sched,
		Snapshots:   store,
	}, "")
	return &apiFixture{handler: handler, agg: agg, sched: sched, store: store, jobID: jobID}
}

func (f *apiFixture) jobPaused(t *testing.T, ctx context.Context) bool {
	t.Helper()
	statuses, err := f.sched.Jobs(ctx)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	for _, st := range statuses {
		if st.ID == f.jobID {
			return st.Paused
		}
	}
	t.Fatalf("job %s missing", f.jobID)
	return false
}

func (f *apiFixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %q", ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Status  string           `json:"status"`
		Vendors []product.Vendor `json:"vendors"`
	}
	decodeBody(t, rec, &body)
	if body.Status != "ok" || len(body.Vendors) != 2 {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestListVendorsAndAdapters(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/vendors")
	var vendors struct {
		Vendors []vendorStatusPayload `json:"vendors"`
	}
	decodeBody(t, rec, &vendors)
	if len(vendors.Vendors) != 2 || vendors.Vendors[0].Vendor != product.VendorJumbo {
		t.Fatalf("unexpected vendors: %+v", vendors.Vendors)
	}
	if rt := vendors.Vendors[0].Runtime; rt == nil || rt.Adapter != config.AdapterFake {
		t.Fatalf("expected runtime metadata for jumbo, got %+v", rt)
	}

	rec = f.do(t, http.MethodGet, "/adapters")
	var adapters struct {
		Adapters []provider.AdapterMetadata `json:"adapters"`
	}
	decodeBody(t, rec, &adapters)
	if len(adapters.Adapters) != 1 || adapters.Adapters[0].Identifier != "fake" {
		t.Fatalf("unexpected adapters: %+v", adapters.Adapters)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodDelete, "/vendors")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodGet {
		t.Fatalf("expected Allow GET, got %q", allow)
	}

	rec = f.do(t, http.MethodGet, "/vendors/picnic/promotions/refresh")
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected refresh to require POST, got %d %q", rec.Code, rec.Header().Get("Allow"))
	}

	rec = f.do(t, http.MethodGet, "/snapshot")
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected snapshot to require POST, got %d %q", rec.Code, rec.Header().Get("Allow"))
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodOptions, "/jobs")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard origin")
	}
}

func TestVendorRouting(t *testing.T) {
	f := newAPIFixture(t)
	cases := []struct {
		method string
		target string
		want   int
	}{
		{http.MethodGet, "/vendors/albert", http.StatusBadRequest},
		{http.MethodGet, "/vendors/", http.StatusNotFound},
		{http.MethodGet, "/vendors/picnic/unknown", http.StatusNotFound},
		{http.MethodGet, "/vendors/picnic/search", http.StatusNotFound},
		{http.MethodPost, "/vendors/picnic", http.StatusMethodNotAllowed},
		{http.MethodGet, "/vendors/picnic", http.StatusOK},
	}
	for _, tc := range cases {
		if rec := f.do(t, tc.method, tc.target); rec.Code != tc.want {
			t.Errorf("%s %s: expected %d, got %d (%s)", tc.method, tc.target, tc.want, rec.Code, rec.Body.String())
		}
	}
}

func TestRefreshPromotionsUpdatesVendorStatus(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/vendors/picnic")
	var before vendorStatusPayload
	decodeBody(t, rec, &before)
	if before.Sales != 0 || before.Promotions.IsComplete {
		t.Fatalf("expected empty promotion state before refresh, got %+v", before)
	}

	rec = f.do(t, http.MethodPost, "/vendors/picnic/promotions/refresh")
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "picnic-sale-breakfast") {
		t.Fatalf("expected breakfast sale in diff, got %s", rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/vendors/picnic")
	var after vendorStatusPayload
	decodeBody(t, rec, &after)
	if after.Sales == 0 || !after.Promotions.IsComplete {
		t.Fatalf("expected populated promotion state after refresh, got %+v", after)
	}
}

func TestJobs(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/jobs")
	var body struct {
		Jobs []jobPayload `json:"jobs"`
	}
	decodeBody(t, rec, &body)
	if len(body.Jobs) != 1 || body.Jobs[0].Name != "noop" || body.Jobs[0].LastRunAt != nil {
		t.Fatalf("unexpected jobs: %+v", body.Jobs)
	}
	if body.Jobs[0].ID != f.jobID.String() {
		t.Fatalf("expected job id %s, got %s", f.jobID, body.Jobs[0].ID)
	}
}

func TestPauseAndResumeJob(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	rec := f.do(t, http.MethodPost, "/jobs/"+f.jobID.String()+"/pause")
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: %d %s", rec.Code, rec.Body.String())
	}
	if !f.jobPaused(t, ctx) {
		t.Fatalf("expected job paused")
	}

	rec = f.do(t, http.MethodPost, "/jobs/"+f.jobID.String()+"/resume")
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: %d %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "resumed" {
		t.Fatalf("unexpected resume body: %+v", body)
	}
	if f.jobPaused(t, ctx) {
		t.Fatalf("expected job resumed")
	}
}

func TestJobControlErrors(t *testing.T) {
	f := newAPIFixture(t)
	cases := []struct {
		method string
		target string
		want   int
	}{
		{http.MethodPost, "/jobs/not-a-uuid/pause", http.StatusBadRequest},
		{http.MethodPost, "/jobs/" + uuid.NewString() + "/pause", http.StatusNotFound},
		{http.MethodPost, "/jobs/" + f.jobID.String() + "/restart", http.StatusNotFound},
		{http.MethodGet, "/jobs/" + f.jobID.String() + "/pause", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		if rec := f.do(t, tc.method, tc.target); rec.Code != tc.want {
			t.Errorf("%s %s: expected %d, got %d (%s)", tc.method, tc.target, tc.want, rec.Code, rec.Body.String())
		}
	}
}

func TestSaveSnapshot(t *testing.T) {
	f := newAPIFixture(t)
	if _, err := f.agg.Product(context.Background(), product.VendorPicnic, "picnic-p001"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/snapshot")
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot: %d %s", rec.Code, rec.Body.String())
	}
	snap, err := f.store.Load(context.Background())
	if err != nil {
		t.Fatalf("load saved snapshot: %v", err)
	}
	if snap.Version != snapshot.Version {
		t.Fatalf("unexpected snapshot version %d", snap.Version)
	}

	f.store.err = errors.New("disk full")
	if rec := f.do(t, http.MethodPost, "/snapshot"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on save failure, got %d", rec.Code)
	}
}

func TestUnavailableDependencies(t *testing.T) {
	f := newAPIFixture(t)
	handler := NewHandler(Deps{Aggregator: f.agg}, "https://wgg.example")
	for _, target := range []string{"/adapters", "/jobs"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", target, rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "https://wgg.example" {
			t.Errorf("%s: expected configured origin", target)
		}
	}
	for _, target := range []string{"/snapshot", "/jobs/" + uuid.NewString() + "/pause"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", target, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/vendors/picnic", nil))
	var status vendorStatusPayload
	decodeBody(t, rec, &status)
	if rec.Code != http.StatusOK || status.Runtime != nil {
		t.Fatalf("expected vendor status without runtime metadata, got %d %+v", rec.Code, status)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := map[errs.Code]int{
		errs.CodeInvalid:       http.StatusBadRequest,
		errs.CodeNotFound:      http.StatusNotFound,
		errs.CodeNothingFound:  http.StatusNotFound,
		errs.CodeUninitialized: http.StatusServiceUnavailable,
		errs.CodeRateLimited:   http.StatusTooManyRequests,
		errs.CodeUnreachable:   http.StatusBadGateway,
		errs.CodeAuthExpired:   http.StatusBadGateway,
		errs.CodeFatal:         http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := statusFor(errs.New("picnic", code)); got != want {
			t.Errorf("%s: expected %d, got %d", code, want, got)
		}
	}
	if got := statusFor(errors.New("plain")); got != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unclassified errors, got %d", got)
	}
}
