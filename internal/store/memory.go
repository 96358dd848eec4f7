package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/fanunits/market-engine/internal/model"
)

// MemorySnapshotStore implements SnapshotStore in memory. Used for testing
// and development. Not suitable for production (no persistence).
type MemorySnapshotStore struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewMemorySnapshotStore creates an empty in-memory snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

func (s *MemorySnapshotStore) Load(_ context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Return a copy to avoid external mutation.
	return s.snap.Clone(), nil
}

func (s *MemorySnapshotStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Revision != s.snap.Revision {
		return fmt.Errorf("save at revision %d, stored %d: %w", snap.Revision, s.snap.Revision, model.ErrSnapshotConflict)
	}
	next := snap.Clone()
	next.Revision = s.snap.Revision + 1
	s.snap = next
	return nil
}

// MemoryLedgerStore implements LedgerStore with in-memory maps.
type MemoryLedgerStore struct {
	mu       sync.Mutex
	starting decimal.Decimal
	balances map[string]decimal.Decimal
	trades   []model.Trade
}

// NewMemoryLedgerStore creates an in-memory ledger that opens new accounts
// with the given starting balance.
func NewMemoryLedgerStore(starting decimal.Decimal) *MemoryLedgerStore {
	return &MemoryLedgerStore{
		starting: starting,
		balances: make(map[string]decimal.Decimal),
	}
}

func (s *MemoryLedgerStore) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().Balance(ctx, userID)
}

func (s *MemoryLedgerStore) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().AdjustBalance(ctx, userID, delta)
}

func (s *MemoryLedgerStore) AppendTrade(ctx context.Context, t model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().AppendTrade(ctx, t)
}

func (s *MemoryLedgerStore) LoadTradesFor(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := []model.Trade{}
	for _, t := range s.trades {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

// WithinTx holds the store lock for the duration of fn and applies fn's
// writes only if it succeeds.
func (s *MemoryLedgerStore) WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.tx()
	if err := fn(tx); err != nil {
		return err
	}
	for userID, bal := range tx.balances {
		s.balances[userID] = bal
	}
	s.trades = append(s.trades, tx.trades...)
	return nil
}

// tx returns a staging view. Callers must hold s.mu.
func (s *MemoryLedgerStore) tx() *memoryTx {
	return &memoryTx{parent: s, balances: make(map[string]decimal.Decimal)}
}

// direct returns a view that writes through. Callers must hold s.mu.
func (s *MemoryLedgerStore) direct() *memoryTx {
	tx := s.tx()
	tx.direct = true
	return tx
}

// memoryTx stages balance changes and appended trades until commit.
// Outside WithinTx the store commits each staged write immediately.
type memoryTx struct {
	parent   *MemoryLedgerStore
	balances map[string]decimal.Decimal
	trades   []model.Trade
	direct   bool
}

func (t *memoryTx) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	if bal, ok := t.balances[userID]; ok {
		return bal, nil
	}
	if bal, ok := t.parent.balances[userID]; ok {
		return bal, nil
	}
	// Auto-open the account.
	t.balances[userID] = t.parent.starting
	if t.direct {
		t.parent.balances[userID] = t.parent.starting
	}
	return t.parent.starting, nil
}

func (t *memoryTx) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	bal, err := t.Balance(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	bal = bal.Add(delta)
	t.balances[userID] = bal
	if t.direct {
		t.parent.balances[userID] = bal
	}
	return bal, nil
}

func (t *memoryTx) AppendTrade(_ context.Context, tr model.Trade) error {
	if t.direct {
		t.parent.trades = append(t.parent.trades, tr)
		return nil
	}
	t.trades = append(t.trades, tr)
	return nil
}
