// Package httpserver exposes the operator control API: vendor status, forced promotion
// refreshes, scheduler job control and on-demand snapshots.
package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/coachpo/wgg/errs"
	"github.com/coachpo/wgg/internal/app/aggregator"
	"github.com/coachpo/wgg/internal/app/provider"
	"github.com/coachpo/wgg/internal/app/scheduler"
	"github.com/coachpo/wgg/internal/app/snapshot"
	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/domain/promotion"
	"github.com/coachpo/wgg/internal/infra/config"
	"github.com/coachpo/wgg/internal/infra/observability"
)

const (
	healthPath   = "/healthz"
	adaptersPath = "/adapters"
	snapshotPath = "/snapshot"

	vendorsPath        = "/vendors"
	vendorDetailPrefix = vendorsPath + "/"

	jobsPath        = "/jobs"
	jobDetailPrefix = jobsPath + "/"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

// Deps carries the components the API reads from. Vendors, Scheduler and Snapshots may be
// nil; the matching routes then answer 503.
type Deps struct {
	Environment config.Environment
	Aggregator  *aggregator.Provider
	Vendors     *provider.Manager
	Scheduler   *scheduler.Scheduler
	Snapshots   snapshot.Store
	Logger      observability.Logger
}

type httpServer struct {
	environment config.Environment
	agg         *aggregator.Provider
	vendors     *provider.Manager
	scheduler   *scheduler.Scheduler
	snapshots   snapshot.Store
	logger      observability.Logger
}

type vendorStatusPayload struct {
	Vendor      product.Vendor            `json:"vendor"`
	Runtime     *provider.RuntimeMetadata `json:"runtime,omitempty"`
	Promotions  promotion.MetaInfo        `json:"promotions"`
	Sales       int                       `json:"sales"`
	CachedFull  int                       `json:"cachedFull"`
	CachedShort int                       `json:"cachedSearch"`
}

type jobPayload struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	NextRunAt time.Time  `json:"nextRunAt"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
	Runs      int        `json:"runs"`
	Failures  int        `json:"failures"`
	Paused    bool       `json:"paused"`
}

// NewHandler builds the control API mux. allowedOrigin feeds the CORS header; empty means "*".
func NewHandler(deps Deps, allowedOrigin string) http.Handler {
	server := &httpServer{
		environment: deps.Environment,
		agg:         deps.Aggregator,
		vendors:     deps.Vendors,
		scheduler:   deps.Scheduler,
		snapshots:   deps.Snapshots,
		logger:      observability.OrNop(deps.Logger),
	}
	mux := http.NewServeMux()

	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.health,
	}))
	mux.Handle(adaptersPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listAdapters,
	}))
	mux.Handle(vendorsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listVendors,
	}))
	mux.Handle(vendorDetailPrefix, http.HandlerFunc(server.handleVendor))
	mux.Handle(jobsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listJobs,
	}))
	mux.Handle(jobDetailPrefix, http.HandlerFunc(server.handleJob))
	mux.Handle(snapshotPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.saveSnapshot,
	}))

	return withCORS(mux, allowedOrigin)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"environment": s.environment,
		"vendors":     s.agg.Vendors(),
	})
}

func (s *httpServer) listAdapters(w http.ResponseWriter, _ *http.Request) {
	if s.vendors == nil {
		writeError(w, http.StatusServiceUnavailable, "vendor manager unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"adapters": s.vendors.Registry().Adapters()})
}

func (s *httpServer) listVendors(w http.ResponseWriter, _ *http.Request) {
	vendors := s.agg.Vendors()
	out := make([]vendorStatusPayload, 0, len(vendors))
	for _, v := range vendors {
		out = append(out, s.vendorStatus(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"vendors": out})
}

// handleVendor routes /vendors/{vendor} and /vendors/{vendor}/promotions/refresh.
func (s *httpServer) handleVendor(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, vendorDetailPrefix), "/")
	name, action, hasAction := strings.Cut(rest, "/")
	if strings.TrimSpace(name) == "" {
		writeError(w, http.StatusNotFound, "vendor name required")
		return
	}
	v, err := product.ParseVendor(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch {
	case !hasAction:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		if !s.enabled(v) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("vendor %s not enabled", v))
			return
		}
		writeJSON(w, http.StatusOK, s.vendorStatus(v))
	case action == "promotions/refresh":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.refreshPromotions(w, r, v)
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown vendor action %q", action))
	}
}

func (s *httpServer) enabled(v product.Vendor) bool {
	for _, candidate := range s.agg.Vendors() {
		if candidate == v {
			return true
		}
	}
	return false
}

func (s *httpServer) vendorStatus(v product.Vendor) vendorStatusPayload {
	resolver := s.agg.Resolver()
	cache := s.agg.Cache()
	status := vendorStatusPayload{
		Vendor:      v,
		Promotions:  resolver.Meta(v),
		Sales:       len(resolver.SaleIDs(v)),
		CachedFull:  cache.Len(v, product.KindFull),
		CachedShort: cache.Len(v, product.KindSearch),
	}
	if s.vendors != nil {
		for _, meta := range s.vendors.Metadata() {
			if meta.Vendor == v {
				status.Runtime = &meta
				break
			}
		}
	}
	return status
}

func (s *httpServer) refreshPromotions(w http.ResponseWriter, r *http.Request, v product.Vendor) {
	diff, err := s.agg.RefreshPromotions(r.Context(), v)
	if err != nil {
		s.writeAggregatorError(w, err)
		return
	}
	s.logger.Info("promotions refreshed on request",
		observability.String("vendor", v.String()),
		observability.Int("added", len(diff.Added)),
		observability.Int("removed", len(diff.Removed)))
	writeJSON(w, http.StatusOK, diff)
}

func (s *httpServer) listJobs(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}
	statuses, err := s.scheduler.Jobs(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	out := make([]jobPayload, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, jobFromStatus(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

// handleJob routes POST /jobs/{id}/pause and POST /jobs/{id}/resume.
func (s *httpServer) handleJob(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, jobDetailPrefix), "/")
	rawID, action, _ := strings.Cut(rest, "/")
	id, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "job id must be a uuid")
		return
	}

	var control func() error
	switch action {
	case "pause":
		control = func() error { return s.scheduler.PauseJob(r.Context(), id) }
	case "resume":
		control = func() error { return s.scheduler.ResumeJob(r.Context(), id) }
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown job action %q", action))
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := control(); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.logger.Info("job control applied",
		observability.String("job", id.String()),
		observability.String("action", action))
	writeJSON(w, http.StatusOK, map[string]string{"status": action + "d", "id": id.String()})
}

func jobFromStatus(st scheduler.Status) jobPayload {
	entry := jobPayload{
		ID:        st.ID.String(),
		Name:      st.Name,
		Schedule:  st.Schedule,
		NextRunAt: st.NextRunAt,
		LastError: st.LastError,
		Runs:      st.Runs,
		Failures:  st.Failures,
		Paused:    st.Paused,
	}
	if !st.LastRunAt.IsZero() {
		last := st.LastRunAt
		entry.LastRunAt = &last
	}
	return entry
}

func (s *httpServer) saveSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot backend disabled")
		return
	}
	snap := s.agg.Snapshot()
	if err := s.snapshots.Save(r.Context(), snap); err != nil {
		s.logger.Warn("snapshot save failed", observability.Err(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("save snapshot: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "saved", "takenAt": snap.TakenAt})
}

func (s *httpServer) writeAggregatorError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("control request failed", observability.Err(err))
	}
	code := errs.CodeFatal
	if c, ok := errs.CodeOf(err); ok {
		code = c
	}
	writeJSON(w, status, map[string]any{
		"status": "error",
		"error":  err.Error(),
		"code":   code,
	})
}

func statusFor(err error) int {
	switch {
	case errs.Is(err, errs.CodeInvalid):
		return http.StatusBadRequest
	case errs.Is(err, errs.CodeNotFound), errs.Is(err, errs.CodeNothingFound):
		return http.StatusNotFound
	case errs.Is(err, errs.CodeUninitialized):
		return http.StatusServiceUnavailable
	case errs.Is(err, errs.CodeRateLimited):
		return http.StatusTooManyRequests
	case errs.Is(err, errs.CodeUnreachable), errs.Is(err, errs.CodeAuthExpired):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler, origin string) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
