// Package postgres keeps the aggregator snapshot in PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/wgg/internal/infra/config"
)

// Store hands out repositories sharing one pool. A nil pool is accepted; the
// repositories then fail every call.
type Store struct {
	pool    *pgxpool.Pool
	metrics metric.Registration
}

// New wraps pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the shared pool.
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Close stops the pool gauges and closes the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	var err error
	if s.metrics != nil {
		err = s.metrics.Unregister()
	}
	s.pool.Close()
	return err
}

// Snapshots returns the snapshot repository stored under name.
func (s *Store) Snapshots(name string) *SnapshotStore {
	return NewSnapshotStore(s.Pool(), name)
}

// PoolConfig translates the database settings into a pgx pool configuration.
func PoolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	return poolCfg, nil
}

// Open connects a pgx pool, verifies connectivity and registers pool gauges.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolCfg, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	store := New(pool)
	if store.metrics, err = ObservePoolMetrics(pool, "snapshots"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}
	return store, nil
}
