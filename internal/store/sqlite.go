package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/fanunits/market-engine/internal/model"
)

// SQLiteLedgerStore implements LedgerStore on an embedded SQLite database.
// Amounts are stored as decimal strings so no precision is lost.
type SQLiteLedgerStore struct {
	db       *sql.DB
	starting decimal.Decimal
}

// NewSQLiteLedgerStore opens (or creates) the SQLite database and runs
// migrations. Use ":memory:" for a throwaway database.
func NewSQLiteLedgerStore(dbPath string, starting decimal.Decimal) (*SQLiteLedgerStore, error) {
	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	s := &SQLiteLedgerStore{db: db, starting: starting}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("sqlite ledger opened", "path", dbPath)
	return s, nil
}

func openSQLite(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; an in-memory database also lives on one connection.
	db.SetMaxOpenConns(1)

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}
	return db, nil
}

// Close closes the database.
func (s *SQLiteLedgerStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteLedgerStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id    TEXT PRIMARY KEY,
			balance    TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			user_id     TEXT NOT NULL,
			symbol      TEXT NOT NULL,
			direction   TEXT NOT NULL,
			quantity    INTEGER NOT NULL,
			unit_price  TEXT NOT NULL,
			fee         TEXT NOT NULL,
			total       TEXT NOT NULL,
			executed_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// sqlExecer is satisfied by both *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteLedgerStore) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.balance(ctx, s.db, userID)
}

func (s *SQLiteLedgerStore) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("begin: %w: %v", model.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	bal, err := s.adjust(ctx, tx, userID, delta)
	if err != nil {
		return decimal.Zero, err
	}
	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("commit: %w: %v", model.ErrStorageUnavailable, err)
	}
	return bal, nil
}

func (s *SQLiteLedgerStore) AppendTrade(ctx context.Context, t model.Trade) error {
	return sqliteAppendTrade(ctx, s.db, t)
}

func (s *SQLiteLedgerStore) LoadTradesFor(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, symbol, direction, quantity, unit_price, fee, total, executed_at
		 FROM trades WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("load trades for %s: %w: %v", userID, model.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	trades := []model.Trade{}
	for rows.Next() {
		var t model.Trade
		var dir, priceS, feeS, totalS string
		var executed int64
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &dir, &t.Quantity,
			&priceS, &feeS, &totalS, &executed); err != nil {
			return nil, fmt.Errorf("scan trade: %w: %v", model.ErrStorageUnavailable, err)
		}
		t.Direction = model.Direction(dir)
		t.UnitPrice, _ = decimal.NewFromString(priceS)
		t.Fee, _ = decimal.NewFromString(feeS)
		t.Total, _ = decimal.NewFromString(totalS)
		t.Timestamp = time.Unix(0, executed).UTC()
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read trades: %w: %v", model.ErrStorageUnavailable, err)
	}
	return trades, nil
}

// WithinTx runs fn in one SQLite transaction.
func (s *SQLiteLedgerStore) WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w: %v", model.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{store: s, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w: %v", model.ErrStorageUnavailable, err)
	}
	return nil
}

type sqliteTx struct {
	store *SQLiteLedgerStore
	tx    *sql.Tx
}

func (t *sqliteTx) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return t.store.balance(ctx, t.tx, userID)
}

func (t *sqliteTx) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	return t.store.adjust(ctx, t.tx, userID, delta)
}

func (t *sqliteTx) AppendTrade(ctx context.Context, tr model.Trade) error {
	return sqliteAppendTrade(ctx, t.tx, tr)
}

func (s *SQLiteLedgerStore) balance(ctx context.Context, q sqlExecer, userID string) (decimal.Decimal, error) {
	if _, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO accounts (user_id, balance, created_at) VALUES (?, ?, ?)`,
		userID, s.starting.String(), time.Now().UnixNano()); err != nil {
		return decimal.Zero, fmt.Errorf("open account %s: %w: %v", userID, model.ErrStorageUnavailable, err)
	}
	var balS string
	if err := q.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_id = ?`, userID).Scan(&balS); err != nil {
		return decimal.Zero, fmt.Errorf("read balance %s: %w: %v", userID, model.ErrStorageUnavailable, err)
	}
	bal, err := decimal.NewFromString(balS)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance %s: %w: %v", userID, model.ErrStorageUnavailable, err)
	}
	return bal, nil
}

// adjust reads, adds and writes back in decimal; SQLite arithmetic on the
// stored strings would go through floating point.
func (s *SQLiteLedgerStore) adjust(ctx context.Context, q sqlExecer, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	bal, err := s.balance(ctx, q, userID)
	if err != nil {
		return decimal.Zero, err
	}
	bal = bal.Add(delta)
	if _, err := q.ExecContext(ctx,
		`UPDATE accounts SET balance = ? WHERE user_id = ?`, bal.String(), userID); err != nil {
		return decimal.Zero, fmt.Errorf("adjust balance %s: %w: %v", userID, model.ErrStorageUnavailable, err)
	}
	return bal, nil
}

func sqliteAppendTrade(ctx context.Context, q sqlExecer, t model.Trade) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO trades (id, user_id, symbol, direction, quantity, unit_price, fee, total, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Symbol, string(t.Direction), t.Quantity,
		t.UnitPrice.String(), t.Fee.String(), t.Total.String(),
		t.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append trade %s: %w: %v", t.ID, model.ErrStorageUnavailable, err)
	}
	return nil
}
