package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fanunits/market-engine/internal/model"
)

// CachedSnapshotStore wraps a primary SnapshotStore (PostgreSQL) with a Redis
// read-through cache. Saves go to the primary store and invalidate the cache;
// loads check Redis first then fall back to the primary.
//
// A stale cached snapshot is harmless: a Save based on it fails the revision
// check, the cache is dropped, and the retry loads from the primary.
type CachedSnapshotStore struct {
	primary SnapshotStore
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedSnapshotStore creates a cached wrapper around a primary store.
func NewCachedSnapshotStore(primary SnapshotStore, rdb *redis.Client, ttl time.Duration) *CachedSnapshotStore {
	return &CachedSnapshotStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// Load reads the snapshot from Redis, falling back to the primary on a miss
// or when Redis is unreachable.
func (s *CachedSnapshotStore) Load(ctx context.Context) (Snapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotKey()).Bytes()
	if err == nil {
		var snap Snapshot
		if json.Unmarshal(data, &snap) == nil {
			if snap.Instruments == nil {
				snap.Instruments = []model.Instrument{}
			}
			return snap, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		slog.Warn("snapshot cache read failed", "err", err)
	}

	// Cache miss: read from primary.
	snap, err := s.primary.Load(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	s.cacheSnapshot(ctx, snap)
	return snap, nil
}

// Save writes to the primary and invalidates the cache. The cache is also
// dropped on a revision conflict so the caller's retry sees the winner.
func (s *CachedSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	err := s.primary.Save(ctx, snap)
	if err == nil || errors.Is(err, model.ErrSnapshotConflict) {
		s.invalidate(ctx)
	}
	return err
}

// --- Cache helpers ---

func (s *CachedSnapshotStore) cacheSnapshot(ctx context.Context, snap Snapshot) {
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, snapshotKey(), data, s.ttl)
	}
}

func (s *CachedSnapshotStore) invalidate(ctx context.Context) {
	if err := s.rdb.Del(ctx, snapshotKey()).Err(); err != nil {
		slog.Warn("snapshot cache invalidate failed", "err", err)
	}
}

func snapshotKey() string { return "catalog:snapshot" }
