package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

const schemaThermalState = `
CREATE TABLE IF NOT EXISTS thermal_state (
    instance_id TEXT NOT NULL,
    key TEXT NOT NULL,
    value TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (instance_id, key)
);
`

const schemaLearningCycles = `
CREATE TABLE IF NOT EXISTS learning_cycles (
    id TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    occurred_at TIMESTAMP NOT NULL,
    calculated REAL NOT NULL,
    error REAL NOT NULL,
    wind_kmh REAL NOT NULL,
    relaxation REAL NOT NULL,
    applied BOOLEAN NOT NULL
);
`

const (
	upsertStateSQL = `
		INSERT INTO thermal_state (instance_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(instance_id, key) DO UPDATE SET
			value=excluded.value,
			updated_at=excluded.updated_at
	`

	selectStateSQL = `
		SELECT key, value FROM thermal_state WHERE instance_id=?
	`

	insertCycleSQL = `
		INSERT INTO learning_cycles (id, instance_id, kind, occurred_at, calculated, error, wind_kmh, relaxation, applied)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectCyclesSQL = `
		SELECT id, instance_id, kind, occurred_at, calculated, error, wind_kmh, relaxation, applied
		FROM learning_cycles WHERE instance_id=?
		ORDER BY occurred_at DESC
		LIMIT ?
	`
)

// SQLite stores records as key/value rows, one row per field.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// OpenSQLite opens or creates the database file at path and ensures tables exist.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return NewSQLite(db), nil
}

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range []string{schemaThermalState, schemaLearningCycles} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, instanceID string) (Record, error) {
	rows, err := s.db.QueryContext(ctx, selectStateSQL, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rec Record
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		if rec == nil {
			rec = make(Record)
		}
		rec[k] = v
	}
	return rec, rows.Err()
}

// Save writes every field of rec in one transaction. Keys absent from rec
// keep their stored value.
func (s *SQLite) Save(ctx context.Context, instanceID string, rec Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, k := range sortedKeys(rec) {
		if _, err := tx.ExecContext(ctx, upsertStateSQL, instanceID, k, rec[k], now); err != nil {
			return fmt.Errorf("save %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) AppendCycle(ctx context.Context, c Cycle) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, insertCycleSQL,
		c.ID,
		c.InstanceID,
		string(c.Kind),
		c.OccurredAt.UTC(),
		c.Calculated,
		c.Error,
		c.WindKmh,
		c.Relaxation,
		c.Applied,
	)
	return err
}

// Cycles returns up to limit cycles, most recent first. A non-positive limit
// returns all of them.
func (s *SQLite) Cycles(ctx context.Context, instanceID string, limit int) ([]Cycle, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectCyclesSQL, instanceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Cycle
	for rows.Next() {
		var c Cycle
		var kind string
		if err := rows.Scan(&c.ID, &c.InstanceID, &kind, &c.OccurredAt, &c.Calculated,
			&c.Error, &c.WindKmh, &c.Relaxation, &c.Applied); err != nil {
			return nil, err
		}
		c.Kind = CycleKind(kind)
		c.OccurredAt = c.OccurredAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
