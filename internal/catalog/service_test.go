package catalog_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fanunits/market-engine/internal/catalog"
	"github.com/fanunits/market-engine/internal/clock"
	"github.com/fanunits/market-engine/internal/model"
	"github.com/fanunits/market-engine/internal/pricing"
	"github.com/fanunits/market-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestService(t *testing.T, st store.SnapshotStore) (*catalog.Service, *clock.Manual) {
	t.Helper()
	sim, err := pricing.NewSimulator(pricing.DefaultOrigin, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clk := clock.NewManual(pricing.DefaultOrigin.Add(48 * time.Hour))
	svc := catalog.NewService(st, sim, clk, catalog.WithNoise(nil), catalog.WithRetry(20, time.Millisecond))
	return svc, clk
}

func seed(t *testing.T, svc *catalog.Service, symbols ...string) {
	t.Helper()
	for _, sym := range symbols {
		if _, err := svc.Add(context.Background(), catalog.NewInstrument{Symbol: sym, Category: model.CategoryElite}); err != nil {
			t.Fatalf("failed to seed %s: %v", sym, err)
		}
	}
}

// interleavingStore runs a competing write the first time Save is called,
// after the caller has already loaded its snapshot.
type interleavingStore struct {
	store.SnapshotStore
	fired  atomic.Bool
	during func()
}

func (s *interleavingStore) Save(ctx context.Context, snap store.Snapshot) error {
	if s.during != nil && s.fired.CompareAndSwap(false, true) {
		s.during()
	}
	return s.SnapshotStore.Save(ctx, snap)
}

type failingStore struct {
	store.SnapshotStore
	saveErr error
}

func (s *failingStore) Save(context.Context, store.Snapshot) error { return s.saveErr }

// --- Admin tests ---

func TestAdd_NormalizesAndRejectsDuplicates(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemorySnapshotStore())
	ctx := context.Background()

	in, err := svc.Add(ctx, catalog.NewInstrument{Symbol: " messi10 ", Category: model.CategoryLegend})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Symbol != "MESSI10" || in.DisplayName != "MESSI10" || !in.Price.Equal(d(1)) {
		t.Errorf("unexpected instrument: %+v", in)
	}

	_, err = svc.Add(ctx, catalog.NewInstrument{Symbol: "MESSI10", Category: model.CategoryLegend})
	if !errors.Is(err, catalog.ErrInstrumentExists) {
		t.Errorf("expected ErrInstrumentExists, got %v", err)
	}
	_, err = svc.Add(ctx, catalog.NewInstrument{Symbol: "KANE9", Category: "amateur"})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown category, got %v", err)
	}
	_, err = svc.Add(ctx, catalog.NewInstrument{Symbol: "9", Category: model.CategoryPro})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation for bad symbol, got %v", err)
	}
}

func TestSeed_SkipsExistingAndInvalid(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemorySnapshotStore())
	ctx := context.Background()
	seed(t, svc, "MESSI10")

	added, err := svc.Seed(ctx, []catalog.NewInstrument{
		{Symbol: "MESSI10", Category: model.CategoryLegend},
		{Symbol: "KANE9", Category: model.CategoryElite},
		{Symbol: "X", Category: model.CategoryElite},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(added) != 1 || added[0] != "KANE9" {
		t.Errorf("expected only KANE9 added, got %v", added)
	}
	list, _ := svc.List(ctx)
	if len(list) != 2 || list[0].Symbol != "KANE9" {
		t.Errorf("expected sorted list of two, got %v", list)
	}
}

func TestRemoveAndGet(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemorySnapshotStore())
	ctx := context.Background()
	seed(t, svc, "MESSI10")

	if err := svc.Remove(ctx, "MESSI10"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Get(ctx, "MESSI10"); !errors.Is(err, model.ErrUnknownInstrument) {
		t.Errorf("expected ErrUnknownInstrument, got %v", err)
	}
	if err := svc.Remove(ctx, "MESSI10"); !errors.Is(err, model.ErrUnknownInstrument) {
		t.Errorf("expected ErrUnknownInstrument on second remove, got %v", err)
	}
}

func TestPinBase(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemorySnapshotStore())
	ctx := context.Background()
	seed(t, svc, "KANE9")

	override := d(0.0001)
	in, err := svc.PinBase(ctx, "KANE9", &override)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !in.Pinned || !in.BaseOverride.Equal(catalog.MinBaseOverride) {
		t.Errorf("expected override clamped to %s, got %s", catalog.MinBaseOverride, in.BaseOverride)
	}
	if _, err := svc.PinBase(ctx, "NOPE", nil); !errors.Is(err, model.ErrUnknownInstrument) {
		t.Errorf("expected ErrUnknownInstrument, got %v", err)
	}
}

// --- Tick tests ---

func TestSimulatorTick_NotifiesListeners(t *testing.T) {
	svc, clk := newTestService(t, store.NewMemorySnapshotStore())
	ctx := context.Background()
	seed(t, svc, "MESSI10", "KANE9")

	var got []string
	svc.Subscribe(func(kind string, changed []model.Instrument) {
		if kind != catalog.KindSimulator {
			return
		}
		for _, in := range changed {
			got = append(got, in.Symbol)
		}
	})

	changed, err := svc.SimulatorTick(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changed) != 2 || len(got) != 2 {
		t.Errorf("expected 2 changed and notified, got %d and %d", len(changed), len(got))
	}

	// Replaying within the bucket writes nothing.
	changed, err = svc.SimulatorTick(ctx)
	if err != nil || len(changed) != 0 {
		t.Errorf("expected no-op replay, got %v (err=%v)", changed, err)
	}

	clk.Advance(time.Hour)
	changed, _ = svc.SimulatorTick(ctx)
	if len(changed) != 2 {
		t.Errorf("expected both to tick in the next bucket, got %d", len(changed))
	}
}

func TestApplyEvent_UnknownInstrument(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemorySnapshotStore())
	_, err := svc.ApplyEvent(context.Background(), "NOPE", nil, &model.MatchReport{Result: model.ResultWin})
	if !errors.Is(err, model.ErrUnknownInstrument) {
		t.Errorf("expected ErrUnknownInstrument, got %v", err)
	}
}

func TestApplyEvent_MovesPrice(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemorySnapshotStore())
	ctx := context.Background()
	seed(t, svc, "KANE9")

	in, err := svc.ApplyEvent(ctx, "KANE9",
		&model.MatchForecast{Role: model.RoleStarter, Venue: model.VenueHome},
		&model.MatchReport{Result: model.ResultWin, Minutes: model.Minutes61To90})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 3 + 1 + 3 + 3 = 10 → ×1.10
	if !in.Price.Equal(d(0.55)) {
		t.Errorf("expected 0.55, got %s", in.Price)
	}
	if in.NextMatch == nil || in.LastMatch == nil {
		t.Error("expected next and last match recorded")
	}
}

func TestApplyPerformance(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemorySnapshotStore())
	ctx := context.Background()
	seed(t, svc, "KANE9")

	in, err := svc.ApplyPerformance(ctx, "KANE9", model.PerformanceReport{Minutes: 90, Goals: 1, Result: model.ResultWin})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !in.Price.GreaterThan(d(0.5)) {
		t.Errorf("expected a rise from 0.5, got %s", in.Price)
	}
}

func TestRecordTrade(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemorySnapshotStore())
	ctx := context.Background()
	seed(t, svc, "KANE9")

	if err := svc.RecordTrade(ctx, "KANE9", model.Acquire, d(5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in, _ := svc.Get(ctx, "KANE9")
	if !in.Volume.Equal(d(5)) || in.Holders != 1 {
		t.Errorf("expected volume 5 and 1 holder, got %s / %d", in.Volume, in.Holders)
	}
	if err := svc.RecordTrade(ctx, "NOPE", model.Acquire, d(5)); !errors.Is(err, model.ErrUnknownInstrument) {
		t.Errorf("expected ErrUnknownInstrument, got %v", err)
	}
	if err := svc.RevertTrade(ctx, "KANE9", model.Acquire, d(5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in, _ = svc.Get(ctx, "KANE9")
	if !in.Volume.IsZero() || in.Holders != 0 {
		t.Errorf("expected revert to restore, got %s / %d", in.Volume, in.Holders)
	}
}

func TestStorageFailureAbortsTick(t *testing.T) {
	mem := store.NewMemorySnapshotStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()
	seed(t, svc, "KANE9")

	broken, _ := newTestService(t, &failingStore{SnapshotStore: mem, saveErr: errors.New("disk on fire")})
	_, err := broken.ApplyEvent(ctx, "KANE9", nil, &model.MatchReport{Result: model.ResultWin})
	if !errors.Is(err, model.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	in, _ := svc.Get(ctx, "KANE9")
	if len(in.History) != 1 || !in.Price.Equal(d(0.5)) {
		t.Errorf("failed tick must leave state unchanged, got %s with %d samples", in.Price, len(in.History))
	}
}

// --- Concurrency tests ---

// Two writers on disjoint instruments both load the same revision. The
// second save conflicts, reloads and reapplies, so neither update is lost.
func TestDisjointConcurrentTicksBothSurvive(t *testing.T) {
	mem := store.NewMemorySnapshotStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()
	seed(t, svc, "MESSI10", "KANE9")

	racing := &interleavingStore{SnapshotStore: mem}
	racer, _ := newTestService(t, racing)
	racing.during = func() {
		if _, err := svc.ApplyEvent(ctx, "KANE9", nil, &model.MatchReport{Result: model.ResultWin}); err != nil {
			t.Errorf("competing write failed: %v", err)
		}
	}

	if _, err := racer.ApplyEvent(ctx, "MESSI10", nil, &model.MatchReport{Result: model.ResultWin}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	kane, _ := svc.Get(ctx, "KANE9")
	messi, _ := svc.Get(ctx, "MESSI10")
	if !kane.Price.Equal(d(0.515)) || len(kane.History) != 2 {
		t.Errorf("KANE9 update lost: %s with %d samples", kane.Price, len(kane.History))
	}
	if !messi.Price.Equal(d(0.515)) || len(messi.History) != 2 {
		t.Errorf("MESSI10 update lost: %s with %d samples", messi.Price, len(messi.History))
	}

	snap, _ := mem.Load(ctx)
	// Two seeds, the competing write, and the retried write.
	if snap.Revision != 4 {
		t.Errorf("expected revision 4, got %d", snap.Revision)
	}
}

func TestConcurrentTradesKeepEveryVolumeUpdate(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemorySnapshotStore())
	ctx := context.Background()
	seed(t, svc, "MESSI10", "KANE9")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		for _, sym := range []string{"MESSI10", "KANE9"} {
			wg.Add(1)
			go func(sym string) {
				defer wg.Done()
				if err := svc.RecordTrade(ctx, sym, model.Acquire, d(1)); err != nil {
					t.Errorf("%s: %v", sym, err)
				}
			}(sym)
		}
	}
	wg.Wait()

	for _, sym := range []string{"MESSI10", "KANE9"} {
		in, _ := svc.Get(ctx, sym)
		if !in.Volume.Equal(d(10)) || in.Holders != 10 {
			t.Errorf("%s: expected volume 10 and 10 holders, got %s / %d", sym, in.Volume, in.Holders)
		}
	}
}
