package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fanunits/market-engine/internal/model"
)

func TestMemorySnapshotStore_RevisionCheck(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySnapshotStore()

	snap, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Revision != 0 || len(snap.Instruments) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}

	snap.Instruments = append(snap.Instruments, model.Instrument{Symbol: "KANE9"})
	if err := s.Save(ctx, snap); err != nil {
		t.Fatalf("first save: %v", err)
	}

	// Saving again from the same base revision is a conflict.
	err = s.Save(ctx, snap)
	if !errors.Is(err, model.ErrSnapshotConflict) {
		t.Fatalf("expected ErrSnapshotConflict, got %v", err)
	}

	got, _ := s.Load(ctx)
	if got.Revision != 1 || len(got.Instruments) != 1 {
		t.Errorf("expected revision 1 with one instrument, got %+v", got)
	}
}

func TestMemorySnapshotStore_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySnapshotStore()
	_ = s.Save(ctx, Snapshot{Instruments: []model.Instrument{{Symbol: "KANE9", Price: decimal.NewFromInt(1)}}})

	snap, _ := s.Load(ctx)
	snap.Instruments[0].Symbol = "CHANGED"

	again, _ := s.Load(ctx)
	if again.Instruments[0].Symbol != "KANE9" {
		t.Errorf("mutating a loaded snapshot leaked into the store")
	}
}

func TestMemoryLedgerStore_AutoOpenAndAdjust(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLedgerStore(decimal.NewFromInt(1000))

	bal, err := s.Balance(ctx, "user1")
	if err != nil || !bal.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected starting balance 1000, got %s (%v)", bal, err)
	}

	bal, err = s.AdjustBalance(ctx, "user1", decimal.RequireFromString("-10.5"))
	if err != nil || !bal.Equal(decimal.RequireFromString("989.5")) {
		t.Fatalf("expected 989.5, got %s (%v)", bal, err)
	}

	// A fresh user adjusted before any read starts from the starting balance.
	bal, _ = s.AdjustBalance(ctx, "user2", decimal.NewFromInt(5))
	if !bal.Equal(decimal.NewFromInt(1005)) {
		t.Errorf("expected 1005, got %s", bal)
	}
}

func TestMemoryLedgerStore_TradesInOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLedgerStore(decimal.Zero)

	for _, id := range []string{"t1", "t2", "t3"} {
		user := "user1"
		if id == "t2" {
			user = "user2"
		}
		if err := s.AppendTrade(ctx, model.Trade{ID: id, UserID: user}); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	trades, _ := s.LoadTradesFor(ctx, "user1")
	if len(trades) != 2 || trades[0].ID != "t1" || trades[1].ID != "t3" {
		t.Errorf("expected [t1 t3], got %+v", trades)
	}

	none, _ := s.LoadTradesFor(ctx, "nobody")
	if none == nil || len(none) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", none)
	}
}

func TestMemoryLedgerStore_WithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLedgerStore(decimal.NewFromInt(100))
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx LedgerTx) error {
		if _, err := tx.AdjustBalance(ctx, "user1", decimal.NewFromInt(-40)); err != nil {
			return err
		}
		if err := tx.AppendTrade(ctx, model.Trade{ID: "t1", UserID: "user1"}); err != nil {
			return err
		}
		// Reads inside the tx see its own writes.
		bal, _ := tx.Balance(ctx, "user1")
		if !bal.Equal(decimal.NewFromInt(60)) {
			t.Errorf("expected staged balance 60, got %s", bal)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	bal, _ := s.Balance(ctx, "user1")
	if !bal.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected untouched balance 100, got %s", bal)
	}
	trades, _ := s.LoadTradesFor(ctx, "user1")
	if len(trades) != 0 {
		t.Errorf("expected no trades after rollback, got %d", len(trades))
	}
}

func TestMemoryLedgerStore_WithinTxCommits(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLedgerStore(decimal.NewFromInt(100))

	err := s.WithinTx(ctx, func(tx LedgerTx) error {
		if _, err := tx.AdjustBalance(ctx, "user1", decimal.NewFromInt(-40)); err != nil {
			return err
		}
		return tx.AppendTrade(ctx, model.Trade{ID: "t1", UserID: "user1"})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bal, _ := s.Balance(ctx, "user1")
	if !bal.Equal(decimal.NewFromInt(60)) {
		t.Errorf("expected 60, got %s", bal)
	}
	trades, _ := s.LoadTradesFor(ctx, "user1")
	if len(trades) != 1 {
		t.Errorf("expected one trade, got %d", len(trades))
	}
}
