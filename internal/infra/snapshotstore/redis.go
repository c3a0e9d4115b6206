package snapshotstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/coachpo/wgg/internal/app/snapshot"
)

// DefaultRedisKey is used when no key is configured.
const DefaultRedisKey = "wgg:snapshot"

// ErrNilClient is returned when a redis store is built without a client.
var ErrNilClient = errors.New("snapshot redis store: nil client")

var _ snapshot.Store = (*RedisStore)(nil)

// RedisStore keeps the encoded snapshot under a single key without expiry.
type RedisStore struct {
	rdb   goredis.UniversalClient
	key   string
	codec Codec
}

// NewRedisStore wraps an existing client. The caller owns the client.
func NewRedisStore(rdb goredis.UniversalClient, key string, codec Codec) (*RedisStore, error) {
	if rdb == nil {
		return nil, ErrNilClient
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultRedisKey
	}
	if codec == nil {
		codec = jsonCodec{}
	}
	return &RedisStore{rdb: rdb, key: key, codec: codec}, nil
}

// Load fetches and decodes the snapshot.
func (s *RedisStore) Load(ctx context.Context) (snapshot.Snapshot, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return snapshot.Snapshot{}, snapshot.ErrNotFound
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	var snap snapshot.Snapshot
	if err := s.codec.Unmarshal(data, &snap); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("decode %s snapshot: %w", s.codec.Name(), err)
	}
	return snap, nil
}

// Save encodes and stores the snapshot.
func (s *RedisStore) Save(ctx context.Context, snap snapshot.Snapshot) error {
	data, err := s.codec.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode %s snapshot: %w", s.codec.Name(), err)
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}
