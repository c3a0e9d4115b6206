package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/wgg/internal/infra/telemetry"
)

type poolGauge struct {
	name        string
	description string
	read        func(*pgxpool.Stat) int64
}

var poolGauges = []poolGauge{
	{"wgg_db_pool_connections_total", "Connections held by the snapshot pool", func(s *pgxpool.Stat) int64 { return int64(s.TotalConns()) }},
	{"wgg_db_pool_connections_idle", "Idle snapshot pool connections", func(s *pgxpool.Stat) int64 { return int64(s.IdleConns()) }},
	{"wgg_db_pool_connections_acquired", "Snapshot pool connections in use", func(s *pgxpool.Stat) int64 { return int64(s.AcquiredConns()) }},
	{"wgg_db_pool_connections_constructing", "Snapshot pool connections being dialled", func(s *pgxpool.Stat) int64 { return int64(s.ConstructingConns()) }},
}

// ObservePoolMetrics reports pool connection counts through one meter callback.
// The registration is returned so callers can stop reporting before closing the pool.
func ObservePoolMetrics(pool *pgxpool.Pool, poolName string) (metric.Registration, error) {
	if pool == nil {
		return nil, nil
	}
	label := strings.TrimSpace(poolName)
	if label == "" {
		label = "primary"
	}
	attrs := metric.WithAttributes(
		telemetry.AttrEnvironment.String(telemetry.Environment()),
		attribute.String("db.pool", label),
	)

	meter := otel.Meter("postgres.pool")
	gauges := make([]metric.Int64ObservableGauge, len(poolGauges))
	observables := make([]metric.Observable, len(poolGauges))
	for i, g := range poolGauges {
		gauge, err := meter.Int64ObservableGauge(g.name,
			metric.WithDescription(g.description),
			metric.WithUnit("{connection}"))
		if err != nil {
			return nil, err
		}
		gauges[i] = gauge
		observables[i] = gauge
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stat := pool.Stat()
		for i, g := range poolGauges {
			o.ObserveInt64(gauges[i], g.read(stat), attrs)
		}
		return nil
	}, observables...)
}
