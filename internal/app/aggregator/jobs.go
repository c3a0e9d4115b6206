package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coachpo/wgg/internal/app/scheduler"
	"github.com/coachpo/wgg/internal/app/snapshot"
	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/infra/observability"
)

// JobsConfig describes the recurring work registered with the scheduler.
type JobsConfig struct {
	// RefreshSchedule drives promotion refreshes for every enabled vendor.
	RefreshSchedule scheduler.Schedule
	// SweepInterval drives product cache eviction. Zero disables the sweep job.
	SweepInterval time.Duration
	// SnapshotInterval periodically persists the caches to SnapshotStore. Zero or a nil store
	// disables the job.
	SnapshotInterval time.Duration
	SnapshotStore    snapshot.Store
}

// RegisterJobs adds the refresh, sweep and snapshot jobs and returns their ids. Promotion
// refreshes run immediately so the first listing is ready before a caller asks for it.
func (p *Provider) RegisterJobs(ctx context.Context, s *scheduler.Scheduler, cfg JobsConfig) ([]uuid.UUID, error) {
	if cfg.RefreshSchedule == nil {
		return nil, fmt.Errorf("aggregator: refresh schedule required")
	}
	var ids []uuid.UUID
	add := func(job scheduler.Job) error {
		id, err := s.Add(ctx, job)
		if err != nil {
			return fmt.Errorf("register job %s: %w", job.Name, err)
		}
		ids = append(ids, id)
		return nil
	}

	for _, v := range p.Vendors() {
		if err := add(scheduler.Job{
			Name:           "refresh_promotions:" + v.String(),
			Schedule:       cfg.RefreshSchedule,
			RunImmediately: true,
			Handler:        p.refreshJob(v),
		}); err != nil {
			return ids, err
		}
	}
	if cfg.SweepInterval > 0 {
		if err := add(scheduler.Job{
			Name:     "evict_expired_products",
			Schedule: scheduler.Every(cfg.SweepInterval),
			Handler: func(context.Context) error {
				if n := p.cache.EvictExpired(); n > 0 {
					p.logger.Debug("evicted expired products", observability.Int("count", n))
				}
				return nil
			},
		}); err != nil {
			return ids, err
		}
	}
	if cfg.SnapshotInterval > 0 && cfg.SnapshotStore != nil {
		store := cfg.SnapshotStore
		if err := add(scheduler.Job{
			Name:     "save_snapshot",
			Schedule: scheduler.Every(cfg.SnapshotInterval),
			Handler: func(ctx context.Context) error {
				return store.Save(ctx, p.Snapshot())
			},
		}); err != nil {
			return ids, err
		}
	}
	return ids, nil
}

func (p *Provider) refreshJob(v product.Vendor) scheduler.Handler {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.refreshTimeout)
		defer cancel()
		diff, err := p.refreshShared(ctx, v)
		if err != nil {
			return err
		}
		if !diff.Empty() {
			p.logger.Info("promotions changed",
				observability.String("vendor", v.String()),
				observability.Int("added", len(diff.Added)),
				observability.Int("removed", len(diff.Removed)),
			)
		}
		return nil
	}
}
