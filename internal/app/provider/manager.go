// Package provider builds rate-limited, session-aware vendor clients from configuration.
package provider

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/wgg/internal/app/coordinator"
	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/domain/vendor"
	"github.com/coachpo/wgg/internal/infra/config"
	"github.com/coachpo/wgg/internal/infra/observability"
)

const defaultStartupLoginTimeout = 30 * time.Second

// Manager turns vendor configuration into coordinator-wrapped clients.
type Manager struct {
	registry     *Registry
	logger       observability.Logger
	loginTimeout time.Duration

	mu           sync.RWMutex
	coordinators map[product.Vendor]*coordinator.Coordinator
	metadata     map[product.Vendor]RuntimeMetadata
}

// NewManager constructs a manager backed by reg.
func NewManager(reg *Registry, logger observability.Logger) *Manager {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Manager{
		registry:     reg,
		logger:       observability.OrNop(logger),
		loginTimeout: defaultStartupLoginTimeout,
		coordinators: make(map[product.Vendor]*coordinator.Coordinator),
		metadata:     make(map[product.Vendor]RuntimeMetadata),
	}
}

// Registry returns the adapter registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Start creates a coordinator for every enabled vendor and logs each one in concurrently.
// A failed startup login is logged but not fatal: the coordinator logs in again on the
// first expired-session failure.
func (m *Manager) Start(ctx context.Context, vendors map[product.Vendor]config.VendorConfig) (map[product.Vendor]vendor.Client, error) {
	names := make([]product.Vendor, 0, len(vendors))
	for v, vc := range vendors {
		if vc.Enabled {
			names = append(names, v)
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	created := make(map[product.Vendor]*coordinator.Coordinator, len(names))
	for _, v := range names {
		vc := vendors[v]
		client, err := m.registry.Create(ctx, v, vc)
		if err != nil {
			return nil, err
		}
		limiter := coordinator.NewLimiter(coordinator.LimiterConfig{
			RequestsPerSecond: vc.RequestsPerSecond,
			Burst:             vc.Burst,
		})
		created[v] = coordinator.New(v, client,
			coordinator.WithLimiter(limiter),
			coordinator.WithLogger(m.logger),
			coordinator.WithLoginTimeout(vc.Timeout),
		)
	}

	var (
		wg       conc.WaitGroup
		resultMu sync.Mutex
		loggedIn = make(map[product.Vendor]bool, len(created))
	)
	for v, c := range created {
		wg.Go(func() {
			loginCtx, cancel := context.WithTimeout(ctx, m.loginTimeout)
			defer cancel()
			err := c.Login(loginCtx)
			if err != nil {
				m.logger.Warn("vendor startup login failed",
					observability.String("vendor", string(v)),
					observability.Err(err))
			}
			resultMu.Lock()
			loggedIn[v] = err == nil
			resultMu.Unlock()
		})
	}
	wg.Wait()

	out := make(map[product.Vendor]vendor.Client, len(created))
	metas := make(map[product.Vendor]RuntimeMetadata, len(created))
	m.mu.Lock()
	for v, c := range created {
		metas[v] = RuntimeMetadata{
			Vendor:   v,
			Adapter:  vendors[v].Adapter,
			LoggedIn: loggedIn[v],
			Settings: VendorSettings(vendors[v]),
		}
		m.coordinators[v] = c
		m.metadata[v] = metas[v]
		out[v] = c
	}
	m.mu.Unlock()

	for _, v := range names {
		meta := metas[v]
		m.logger.Info("vendor ready",
			observability.String("vendor", string(v)),
			observability.String("adapter", string(meta.Adapter)),
			observability.Field{Key: "settings", Value: meta.Settings})
	}
	return out, nil
}

// Coordinator returns the coordinator started for v.
func (m *Manager) Coordinator(v product.Vendor) (*coordinator.Coordinator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.coordinators[v]
	return c, ok
}

// Metadata lists started vendors ordered by name.
func (m *Manager) Metadata() []RuntimeMetadata {
	m.mu.RLock()
	out := make([]RuntimeMetadata, 0, len(m.metadata))
	for _, meta := range m.metadata {
		out = append(out, meta)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Vendor < out[j].Vendor })
	return out
}

