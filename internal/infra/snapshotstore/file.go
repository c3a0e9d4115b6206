package snapshotstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/coachpo/wgg/internal/app/snapshot"
)

var _ snapshot.Store = (*FileStore)(nil)

// FileStore keeps the snapshot in a single file that is replaced atomically on save.
type FileStore struct {
	path  string
	codec Codec
}

// NewFileStore constructs a file-backed store.
func NewFileStore(path string, codec Codec) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("snapshot file path required")
	}
	if codec == nil {
		codec = jsonCodec{}
	}
	return &FileStore{path: filepath.Clean(path), codec: codec}, nil
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and decodes the snapshot file.
func (s *FileStore) Load(ctx context.Context) (snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.Snapshot{}, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snapshot.Snapshot{}, snapshot.ErrNotFound
		}
		return snapshot.Snapshot{}, fmt.Errorf("read snapshot %s: %w", s.path, err)
	}
	var snap snapshot.Snapshot
	if err := s.codec.Unmarshal(data, &snap); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("decode %s snapshot %s: %w", s.codec.Name(), s.path, err)
	}
	return snap, nil
}

// Save writes the snapshot to a temporary sibling file and renames it over the target, so
// readers never observe a partial document.
func (s *FileStore) Save(ctx context.Context, snap snapshot.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.codec.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode %s snapshot: %w", s.codec.Name(), err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
