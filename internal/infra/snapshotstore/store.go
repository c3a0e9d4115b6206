// Package snapshotstore provides the file, redis and postgres backends for warm-start
// snapshots and selects one from configuration.
package snapshotstore

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	dbmigrations "github.com/coachpo/wgg/db/migrations"
	"github.com/coachpo/wgg/internal/app/snapshot"
	"github.com/coachpo/wgg/internal/infra/config"
	"github.com/coachpo/wgg/internal/infra/observability"
	"github.com/coachpo/wgg/internal/infra/persistence/migrations"
	"github.com/coachpo/wgg/internal/infra/persistence/postgres"
)

// Backend is an opened snapshot store together with the resources it owns.
type Backend struct {
	Store snapshot.Store
	Kind  config.SnapshotBackend

	closers []func() error
}

// Close releases connections held by the backend.
func (b *Backend) Close() error {
	if b == nil {
		return nil
	}
	var firstErr error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.closers = nil
	return firstErr
}

// Open builds the configured backend. BackendNone yields a Backend with a nil Store, which
// snapshot.LoadOrCold treats as a cold start.
func Open(ctx context.Context, cfg config.SnapshotConfig, logger observability.Logger) (*Backend, error) {
	logger = observability.OrNop(logger)
	backend := &Backend{Kind: cfg.Backend}

	switch cfg.Backend {
	case config.BackendNone, "":
		backend.Kind = config.BackendNone
		return backend, nil
	case config.BackendFile:
		codec, err := NewCodec(cfg.Codec)
		if err != nil {
			return nil, err
		}
		store, err := NewFileStore(cfg.Path, codec)
		if err != nil {
			return nil, err
		}
		backend.Store = store
		logger.Info("snapshot backend ready",
			observability.String("backend", string(cfg.Backend)),
			observability.String("path", store.Path()),
			observability.String("codec", string(codec.Name())))
		return backend, nil
	case config.BackendRedis:
		codec, err := NewCodec(cfg.Codec)
		if err != nil {
			return nil, err
		}
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		store, err := NewRedisStore(rdb, cfg.RedisKey, codec)
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		backend.Store = store
		backend.closers = append(backend.closers, rdb.Close)
		logger.Info("snapshot backend ready",
			observability.String("backend", string(cfg.Backend)),
			observability.String("addr", cfg.RedisAddr),
			observability.String("key", store.key))
		return backend, nil
	case config.BackendPostgres:
		if cfg.Database.RunMigrations {
			if err := migrations.ApplyFS(ctx, cfg.Database.DSN, dbmigrations.Files, logger); err != nil {
				return nil, fmt.Errorf("apply snapshot migrations: %w", err)
			}
		}
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		backend.Store = db.Snapshots(postgres.DefaultSnapshotName)
		backend.closers = append(backend.closers, db.Close)
		logger.Info("snapshot backend ready", observability.String("backend", string(cfg.Backend)))
		return backend, nil
	default:
		return nil, fmt.Errorf("snapshot backend %q unsupported", cfg.Backend)
	}
}
