// Package store defines the persistence interfaces for the market engine.
// Implementations include PostgreSQL (source of truth), SQLite (embedded
// ledger), Redis (read-through snapshot cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fanunits/market-engine/internal/model"
)

// Snapshot is the full catalog as stored. Revision increases by one on every
// successful Save.
type Snapshot struct {
	Revision    int64              `json:"revision"`
	Instruments []model.Instrument `json:"instruments"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Revision: s.Revision, Instruments: make([]model.Instrument, len(s.Instruments))}
	for i, in := range s.Instruments {
		out.Instruments[i] = in.Clone()
	}
	return out
}

// SnapshotStore persists the catalog with full-replace semantics.
type SnapshotStore interface {
	// Load returns the current snapshot. The caller owns the returned
	// instruments. An empty store yields revision 0 and no instruments.
	Load(ctx context.Context) (Snapshot, error)

	// Save replaces the stored instruments. It fails with
	// model.ErrSnapshotConflict when the stored revision differs from
	// snap.Revision, and otherwise stores snap.Revision+1.
	Save(ctx context.Context, snap Snapshot) error
}

// LedgerTx is the set of ledger operations that run inside one transaction.
type LedgerTx interface {
	// Balance returns the user's demo balance, opening the account with the
	// store's starting balance if it does not exist yet.
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)

	// AdjustBalance adds delta to the user's balance and returns the result.
	AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error)

	// AppendTrade appends an immutable trade record.
	AppendTrade(ctx context.Context, t model.Trade) error
}

// LedgerStore persists demo balances and the append-only trade log.
type LedgerStore interface {
	LedgerTx

	// LoadTradesFor returns the user's trades in execution order.
	LoadTradesFor(ctx context.Context, userID string) ([]model.Trade, error)

	// WithinTx runs fn in one transaction. If fn returns an error nothing
	// fn wrote is kept.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error
}
