package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fanunits/market-engine/internal/model"
)

// SQLiteSnapshotStore implements SnapshotStore on an embedded SQLite
// database. It must not share a database handle with SQLiteLedgerStore: a
// trade saves the catalog while its ledger transaction holds the connection.
type SQLiteSnapshotStore struct {
	db *sql.DB
}

// NewSQLiteSnapshotStore opens (or creates) the SQLite catalog database.
func NewSQLiteSnapshotStore(dbPath string) (*SQLiteSnapshotStore, error) {
	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS catalog_snapshot (
		id          INTEGER PRIMARY KEY CHECK (id = 1),
		revision    INTEGER NOT NULL,
		instruments TEXT NOT NULL,
		updated_at  INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("sqlite catalog opened", "path", dbPath)
	return &SQLiteSnapshotStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteSnapshotStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteSnapshotStore) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT revision, instruments FROM catalog_snapshot WHERE id = 1`).
		Scan(&snap.Revision, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{Instruments: []model.Instrument{}}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load catalog snapshot: %w: %v", model.ErrStorageUnavailable, err)
	}
	if err := json.Unmarshal([]byte(raw), &snap.Instruments); err != nil {
		return Snapshot{}, fmt.Errorf("decode catalog snapshot: %w: %v", model.ErrStorageUnavailable, err)
	}
	if snap.Instruments == nil {
		snap.Instruments = []model.Instrument{}
	}
	return snap, nil
}

func (s *SQLiteSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	raw, err := json.Marshal(snap.Instruments)
	if err != nil {
		return fmt.Errorf("encode catalog snapshot: %w", err)
	}

	now := time.Now().UnixNano()
	var res sql.Result
	if snap.Revision == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO catalog_snapshot (id, revision, instruments, updated_at)
			 VALUES (1, 1, ?, ?)`, string(raw), now)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE catalog_snapshot
			 SET revision = revision + 1, instruments = ?, updated_at = ?
			 WHERE id = 1 AND revision = ?`, string(raw), now, snap.Revision)
	}
	if err != nil {
		return fmt.Errorf("save catalog snapshot: %w: %v", model.ErrStorageUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save catalog snapshot: %w: %v", model.ErrStorageUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("save at revision %d: %w", snap.Revision, model.ErrSnapshotConflict)
	}
	return nil
}
