package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/wgg/internal/app/snapshot"
)

// DefaultSnapshotName keys the snapshot row when no name is supplied.
const DefaultSnapshotName = "wgg"

const (
	snapshotUpsertSQL = `
INSERT INTO snapshots (
    name,
    version,
    taken_at,
    document,
    updated_at
)
VALUES ($1, $2, $3, $4::jsonb, NOW())
ON CONFLICT (name) DO UPDATE SET
    version = EXCLUDED.version,
    taken_at = EXCLUDED.taken_at,
    document = EXCLUDED.document,
    updated_at = NOW();
`
	snapshotSelectSQL = `SELECT document FROM snapshots WHERE name = $1;`
)

var _ snapshot.Store = (*SnapshotStore)(nil)

// SnapshotStore persists the warm-start snapshot as a single JSONB row.
type SnapshotStore struct {
	pool *pgxpool.Pool
	name string
}

// NewSnapshotStore constructs a SnapshotStore backed by the provided pgx pool.
func NewSnapshotStore(pool *pgxpool.Pool, name string) *SnapshotStore {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultSnapshotName
	}
	return &SnapshotStore{pool: pool, name: name}
}

// Save upserts the snapshot document.
func (s *SnapshotStore) Save(ctx context.Context, snap snapshot.Snapshot) error {
	if s.pool == nil {
		return fmt.Errorf("snapshot store: nil pool")
	}
	document, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if _, err := s.pool.Exec(ctx, snapshotUpsertSQL, s.name, snap.Version, snap.TakenAt, document); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot document, returning snapshot.ErrNotFound when no row exists.
func (s *SnapshotStore) Load(ctx context.Context) (snapshot.Snapshot, error) {
	if s.pool == nil {
		return snapshot.Snapshot{}, fmt.Errorf("snapshot store: nil pool")
	}
	var document []byte
	if err := s.pool.QueryRow(ctx, snapshotSelectSQL, s.name).Scan(&document); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return snapshot.Snapshot{}, snapshot.ErrNotFound
		}
		return snapshot.Snapshot{}, fmt.Errorf("select snapshot: %w", err)
	}
	var snap snapshot.Snapshot
	if err := json.Unmarshal(document, &snap); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}
