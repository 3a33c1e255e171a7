package catalog

import (
	"context"
	"database/sql"
	"fmt"

	// Registers the "sqlite3" database/sql driver and embeds the SQLite
	// engine itself, so the reference backend needs no cgo and no system
	// SQLite library — grounded in untoldecay-BeadsLog's sqlite storage
	// layer, which opens the same driver name the same way.
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Sqlite is the reference Catalog backend used by IndexLake's own tests
// and examples. It is a thin wrapper over database/sql, which is already
// the transactional-SQL contract this package models — Catalog.Transaction
// maps directly to sql.DB.BeginTx.
type Sqlite struct {
	db *sql.DB
}

// OpenSqlite opens (creating if necessary) an embedded SQLite database at
// path. Use ":memory:" for a private, non-durable catalog — handy for
// tests that want a real SQL dialect without a temp file.
func OpenSqlite(path string) (*Sqlite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open sqlite %q: %w", path, err)
	}
	// A single writer connection avoids SQLITE_BUSY under the engine's
	// per-table dump serialization; readers still run fine
	// through Query's autocommit path.
	db.SetMaxOpenConns(1)
	return &Sqlite{db: db}, nil
}

func (s *Sqlite) Dialect() Dialect { return DialectSQLite }

func (s *Sqlite) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: query: %w", err)
	}
	return &sqlRows{rows: rows}, nil
}

func (s *Sqlite) Transaction(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: begin transaction: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

func (s *Sqlite) Close() error { return s.db.Close() }

type sqliteTx struct {
	tx     *sql.Tx
	closed bool
}

func (t *sqliteTx) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: tx query: %w", err)
	}
	return &sqlRows{rows: rows}, nil
}

func (t *sqliteTx) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("catalog: tx execute: %w", err)
	}
	return res.RowsAffected()
}

func (t *sqliteTx) ExecuteBatch(ctx context.Context, sqls []string) error {
	for i, stmt := range sqls {
		if _, err := t.Execute(ctx, stmt); err != nil {
			return fmt.Errorf("catalog: tx execute batch[%d]: %w", i, err)
		}
	}
	return nil
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

type sqlRows struct {
	rows *sql.Rows
}

func (r *sqlRows) Next() bool             { return r.rows.Next() }
func (r *sqlRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *sqlRows) Err() error             { return r.rows.Err() }
func (r *sqlRows) Close() error           { return r.rows.Close() }
