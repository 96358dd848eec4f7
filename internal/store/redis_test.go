package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fanunits/market-engine/internal/model"
)

// An unreachable Redis must degrade to the primary store, not fail loads.
func TestCachedSnapshotStore_FallsBackWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	primary := NewMemorySnapshotStore()
	s := NewCachedSnapshotStore(primary, rdb, time.Minute)

	if err := s.Save(ctx, Snapshot{Instruments: []model.Instrument{{Symbol: "KANE9"}}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	snap, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Revision != 1 || len(snap.Instruments) != 1 {
		t.Errorf("expected primary snapshot, got %+v", snap)
	}
}
