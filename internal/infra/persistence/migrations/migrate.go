// Package migrations wires golang-migrate execution for the wgg snapshot schema.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migrations loader
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/wgg/internal/infra/observability"
	"github.com/coachpo/wgg/internal/infra/telemetry"
)

var (
	errNotDirectory = errors.New("migrations path must be a directory")

	migrationsCounter   metric.Int64Counter
	migrationsCounterMu sync.Once
)

// source opens the migrate instance for an already connected driver.
type source struct {
	label string
	open  func(driver database.Driver) (*migrate.Migrate, error)
}

// Apply ensures the migrations located at migrationsDir are applied to the Postgres
// instance reachable via dsn.
func Apply(ctx context.Context, dsn, migrationsDir string, logger observability.Logger) error {
	src, err := dirSource(migrationsDir)
	if err != nil {
		return err
	}
	return run(ctx, dsn, src, logger, "applied", func(m *migrate.Migrate) error { return m.Up() })
}

// ApplyFS applies migrations bundled in fsys (for example the embedded db/migrations files).
func ApplyFS(ctx context.Context, dsn string, fsys fs.FS, logger observability.Logger) error {
	return run(ctx, dsn, fsSource(fsys), logger, "applied", func(m *migrate.Migrate) error { return m.Up() })
}

// Rollback reverts the latest steps migrations found in migrationsDir.
func Rollback(ctx context.Context, dsn, migrationsDir string, steps int, logger observability.Logger) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be > 0")
	}
	src, err := dirSource(migrationsDir)
	if err != nil {
		return err
	}
	return run(ctx, dsn, src, logger, "rolled_back", func(m *migrate.Migrate) error { return m.Steps(-steps) })
}

// Version reports the schema version recorded in the database and whether the last
// migration left it dirty. A database without migrations reports version 0.
func Version(ctx context.Context, dsn string, fsys fs.FS, logger observability.Logger) (uint, bool, error) {
	var (
		version uint
		dirty   bool
	)
	err := withMigrate(ctx, dsn, fsSource(fsys), observability.OrNop(logger), func(m *migrate.Migrate) error {
		v, d, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		version, dirty = v, d
		return err
	})
	if err != nil {
		return 0, false, fmt.Errorf("read migrations version: %w", err)
	}
	return version, dirty, nil
}

func run(ctx context.Context, dsn string, src source, logger observability.Logger, result string, step func(*migrate.Migrate) error) error {
	logger = observability.OrNop(logger)
	return withMigrate(ctx, dsn, src, logger, func(m *migrate.Migrate) error {
		logger.Info("running database migrations", observability.String("source", src.label))
		if err := step(m); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				recordMigrationMetric(ctx, "noop", src.label)
				logger.Info("database migrations up-to-date")
				return nil
			}
			recordMigrationMetric(ctx, "failed", src.label)
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations finished", observability.String("result", result))
		recordMigrationMetric(ctx, result, src.label)
		return nil
	})
}

// withMigrate connects to dsn, hands a migrate instance for src to fn and releases both.
func withMigrate(ctx context.Context, dsn string, src source, logger observability.Logger, fn func(*migrate.Migrate) error) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.Warn("database migrations close", observability.Err(cerr))
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migrations database: %w", err)
	}

	driver, err := pgxv5.WithInstance(db, new(pgxv5.Config))
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	m, err := src.open(driver)
	if err != nil {
		return fmt.Errorf("initialise migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			logger.Warn("database migrations source close", observability.Err(sourceErr))
		}
		if dbErr != nil {
			logger.Warn("database migrations db close", observability.Err(dbErr))
		}
	}()
	return fn(m)
}

func dirSource(dir string) (source, error) {
	resolvedDir, err := resolveDir(dir)
	if err != nil {
		return source{}, err
	}
	sourceURL := fileURL(resolvedDir)
	return source{
		label: resolvedDir,
		open: func(driver database.Driver) (*migrate.Migrate, error) {
			return migrate.NewWithDatabaseInstance(sourceURL, "pgx5", driver)
		},
	}, nil
}

func fsSource(fsys fs.FS) source {
	return source{
		label: "embedded",
		open: func(driver database.Driver) (*migrate.Migrate, error) {
			files, err := iofs.New(fsys, ".")
			if err != nil {
				return nil, fmt.Errorf("open embedded migrations: %w", err)
			}
			return migrate.NewWithInstance("iofs", files, "pgx5", driver)
		},
	}
}

func resolveDir(dir string) (string, error) {
	clean := strings.TrimSpace(dir)
	if clean == "" {
		return "", fmt.Errorf("migrations path required")
	}

	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("migrations directory: %w", err)
		}
		return "", fmt.Errorf("stat migrations directory: %w", err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("migrations directory: %w", errNotDirectory)
	}

	return abs, nil
}

func fileURL(path string) string {
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := new(url.URL)
	u.Scheme = "file"
	u.Path = slashed
	return u.String()
}

func recordMigrationMetric(ctx context.Context, result, label string) {
	migrationsCounterMu.Do(func() {
		meter := otel.Meter("persistence.migrations")
		counter, err := meter.Int64Counter("wgg_db_migrations",
			metric.WithDescription("Migration runs executed via golang-migrate"),
			metric.WithUnit("{run}"))
		if err == nil {
			migrationsCounter = counter
		}
	})
	if migrationsCounter == nil {
		return
	}
	attrs := []attribute.KeyValue{
		telemetry.AttrEnvironment.String(telemetry.Environment()),
		telemetry.AttrResult.String(result),
	}
	if label != "" {
		attrs = append(attrs, attribute.String("migrations.source", label))
	}
	migrationsCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
