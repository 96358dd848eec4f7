package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fanunits/market-engine/internal/model"
)

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore implements SnapshotStore and LedgerStore using PostgreSQL as
// the source of truth. The catalog lives in a single JSONB row guarded by a
// revision column; balances and trade amounts are stored as NUMERIC for
// exact decimal precision.
type PostgresStore struct {
	pool     *pgxpool.Pool
	starting decimal.Decimal
}

// NewPostgresStore creates a new PostgreSQL-backed store. New accounts open
// with the given starting balance.
func NewPostgresStore(pool *pgxpool.Pool, starting decimal.Decimal) *PostgresStore {
	return &PostgresStore{pool: pool, starting: starting}
}

// --- Catalog snapshot ---

func (s *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT revision, instruments FROM catalog_snapshot WHERE id = 1`).
		Scan(&snap.Revision, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{Instruments: []model.Instrument{}}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load catalog snapshot: %w: %v", model.ErrStorageUnavailable, err)
	}
	if err := json.Unmarshal(raw, &snap.Instruments); err != nil {
		return Snapshot{}, fmt.Errorf("decode catalog snapshot: %w: %v", model.ErrStorageUnavailable, err)
	}
	return snap, nil
}

func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	raw, err := json.Marshal(snap.Instruments)
	if err != nil {
		return fmt.Errorf("encode catalog snapshot: %w", err)
	}

	var tag pgconn.CommandTag
	if snap.Revision == 0 {
		tag, err = s.pool.Exec(ctx,
			`INSERT INTO catalog_snapshot (id, revision, instruments, updated_at)
			 VALUES (1, 1, $1::JSONB, now())
			 ON CONFLICT (id) DO NOTHING`, string(raw))
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE catalog_snapshot
			 SET revision = revision + 1, instruments = $2::JSONB, updated_at = now()
			 WHERE id = 1 AND revision = $1`, snap.Revision, string(raw))
	}
	if err != nil {
		return fmt.Errorf("save catalog snapshot: %w: %v", model.ErrStorageUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save at revision %d: %w", snap.Revision, model.ErrSnapshotConflict)
	}
	return nil
}

// --- Ledger ---

func (s *PostgresStore) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.balance(ctx, s.pool, userID, false)
}

func (s *PostgresStore) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	return s.adjust(ctx, s.pool, userID, delta)
}

func (s *PostgresStore) AppendTrade(ctx context.Context, t model.Trade) error {
	return appendTrade(ctx, s.pool, t)
}

func (s *PostgresStore) LoadTradesFor(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, direction, quantity,
		        unit_price::TEXT, fee::TEXT, total::TEXT, executed_at
		 FROM trades WHERE user_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("load trades for %s: %w: %v", userID, model.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// WithinTx runs fn in a READ COMMITTED transaction. Balance reads inside it
// lock the account row until commit.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w: %v", model.ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&postgresTx{store: s, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w: %v", model.ErrStorageUnavailable, err)
	}
	return nil
}

type postgresTx struct {
	store *PostgresStore
	tx    pgx.Tx
}

func (t *postgresTx) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return t.store.balance(ctx, t.tx, userID, true)
}

func (t *postgresTx) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	return t.store.adjust(ctx, t.tx, userID, delta)
}

func (t *postgresTx) AppendTrade(ctx context.Context, tr model.Trade) error {
	return appendTrade(ctx, t.tx, tr)
}

// balance opens the account if needed and reads it, optionally locking the row.
func (s *PostgresStore) balance(ctx context.Context, q pgxQuerier, userID string, lock bool) (decimal.Decimal, error) {
	if _, err := q.Exec(ctx,
		`INSERT INTO accounts (user_id, balance, created_at)
		 VALUES ($1, $2::NUMERIC, now())
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, s.starting.String()); err != nil {
		return decimal.Zero, fmt.Errorf("open account %s: %w: %v", userID, model.ErrStorageUnavailable, err)
	}

	query := `SELECT balance::TEXT FROM accounts WHERE user_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var balS string
	if err := q.QueryRow(ctx, query, userID).Scan(&balS); err != nil {
		return decimal.Zero, fmt.Errorf("read balance %s: %w: %v", userID, model.ErrStorageUnavailable, err)
	}
	bal, _ := decimal.NewFromString(balS)
	return bal, nil
}

func (s *PostgresStore) adjust(ctx context.Context, q pgxQuerier, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if _, err := s.balance(ctx, q, userID, false); err != nil {
		return decimal.Zero, err
	}
	var balS string
	err := q.QueryRow(ctx,
		`UPDATE accounts SET balance = balance + $2::NUMERIC, updated_at = now()
		 WHERE user_id = $1
		 RETURNING balance::TEXT`, userID, delta.String()).Scan(&balS)
	if err != nil {
		return decimal.Zero, fmt.Errorf("adjust balance %s: %w: %v", userID, model.ErrStorageUnavailable, err)
	}
	bal, _ := decimal.NewFromString(balS)
	return bal, nil
}

func appendTrade(ctx context.Context, q pgxQuerier, t model.Trade) error {
	_, err := q.Exec(ctx,
		`INSERT INTO trades (id, user_id, symbol, direction, quantity, unit_price, fee, total, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		t.ID, t.UserID, t.Symbol, string(t.Direction), t.Quantity,
		t.UnitPrice.String(), t.Fee.String(), t.Total.String(),
		t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append trade %s: %w: %v", t.ID, model.ErrStorageUnavailable, err)
	}
	return nil
}

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	trades := []model.Trade{}
	for rows.Next() {
		var t model.Trade
		var dir, priceS, feeS, totalS string

		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &dir, &t.Quantity,
			&priceS, &feeS, &totalS, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan trade: %w: %v", model.ErrStorageUnavailable, err)
		}

		t.Direction = model.Direction(dir)
		t.UnitPrice, _ = decimal.NewFromString(priceS)
		t.Fee, _ = decimal.NewFromString(feeS)
		t.Total, _ = decimal.NewFromString(totalS)
		t.Timestamp = t.Timestamp.UTC()

		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read trades: %w: %v", model.ErrStorageUnavailable, err)
	}
	return trades, nil
}
