// Package snapshot defines the best-effort persisted form of the aggregator caches and the
// contract storage backends implement.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coachpo/wgg/internal/app/productcache"
	"github.com/coachpo/wgg/internal/app/sales"
	"github.com/coachpo/wgg/internal/infra/observability"
)

// Version is bumped whenever the document layout changes incompatibly.
const Version = 1

// ErrNotFound is returned by Store.Load when nothing has been saved yet.
var ErrNotFound = errors.New("snapshot: not found")

// Snapshot is the document persisted at shutdown and restored at startup.
type Snapshot struct {
	Version  int                   `json:"version"`
	TakenAt  time.Time             `json:"takenAt"`
	Products productcache.Snapshot `json:"products"`
	Sales    sales.Snapshot        `json:"sales"`
}

// Store persists a single snapshot document.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// Validate rejects documents this build cannot restore.
func (s Snapshot) Validate() error {
	if s.Version != Version {
		return fmt.Errorf("snapshot: unsupported version %d (want %d)", s.Version, Version)
	}
	return nil
}

// LoadOrCold loads the stored snapshot. A missing, unreadable or incompatible document is
// logged and reported as a cold start rather than an error.
func LoadOrCold(ctx context.Context, store Store, logger observability.Logger) (Snapshot, bool) {
	logger = observability.OrNop(logger)
	if store == nil {
		return Snapshot{}, false
	}
	snap, err := store.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		logger.Info("no snapshot found, starting cold")
		return Snapshot{}, false
	case err != nil:
		logger.Warn("snapshot unreadable, starting cold", observability.Err(err))
		return Snapshot{}, false
	}
	if err := snap.Validate(); err != nil {
		logger.Warn("snapshot incompatible, starting cold", observability.Err(err))
		return Snapshot{}, false
	}
	return snap, true
}
