// Package catalog defines the transactional SQL-like metadata store that
// IndexLake treats as an external collaborator.
// The engine never assumes a specific backend — only that it can open a
// transaction, run parameterized statements inside it, and commit or roll
// back atomically. A reference embedded-SQLite implementation (Sqlite,
// grounded in ncruces/go-sqlite3) lives in this package; OpenSqlite(":memory:")
// gives tests a real SQL dialect without a separate server process.
package catalog

import "context"

// Dialect identifies the SQL backend so DDL-emitting code (rowstore
// package) can pick identifier quoting and type spellings.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Row is a single result row from a catalog query, addressed by column
// index. Implementations decide how to represent driver-native values;
// callers use the typed accessors.
type Row interface {
	// Scan copies the column values of the current row into dest, following
	// database/sql.Rows.Scan conventions (dest entries are pointers).
	Scan(dest ...any) error
}

// Rows is a lazily-consumed result sequence from Catalog.Query or
// Tx.Query. Callers MUST call Close when done, including after an error
// from Next.
type Rows interface {
	// Next advances to the next row. Returns false when the sequence is
	// exhausted or an error occurred; callers must check Err after a false
	// return.
	Next() bool
	// Scan decodes the current row, per Row.Scan.
	Scan(dest ...any) error
	// Err returns the first error encountered by Next, if any.
	Err() error
	// Close releases resources held by the result sequence. Idempotent.
	Close() error
}

// Catalog is the top-level handle to the relational metadata store.
// Implementations MUST be safe for concurrent use.
type Catalog interface {
	// Dialect reports the backend's SQL dialect.
	Dialect() Dialect

	// Query runs sql as a single-shot, autocommitted read and returns a
	// lazy row sequence. Use for reads that don't need snapshot
	// consistency with other statements.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// Transaction opens a new transaction. The caller MUST Commit or
	// Rollback it; internal/txn.Run centralizes that bookkeeping.
	Transaction(ctx context.Context) (Tx, error)

	// Close releases resources held by the catalog (connection pool,
	// embedded engine handle). Idempotent.
	Close() error
}

// Tx is an open catalog transaction. All statements executed
// through one Tx are atomic with respect to external observers once
// Commit returns successfully. A Tx that is never explicitly committed or
// rolled back must be rolled back by whatever owns its lifetime — Go has
// no destructor to do this automatically, which is why every Tx obtained
// outside of internal/txn.Run needs an explicit deferred Rollback.
type Tx interface {
	// Query runs sql inside this transaction and returns a lazy row
	// sequence observing the transaction's snapshot.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// Execute runs a single non-query statement and returns the number of
	// rows it affected.
	Execute(ctx context.Context, sql string, args ...any) (rowsAffected int64, err error)

	// ExecuteBatch runs multiple statements as one network/driver round
	// trip where the backend supports it; implementations MAY simply loop
	// over Execute. All statements share this transaction's atomicity.
	ExecuteBatch(ctx context.Context, sqls []string) error

	// Commit finalizes the transaction. After Commit returns (successfully
	// or not) the Tx must not be used again.
	Commit(ctx context.Context) error

	// Rollback aborts the transaction. Safe to call after a failed Commit
	// and safe to call more than once; implementations MUST make it a
	// no-op on an already-finished transaction rather than erroring.
	Rollback(ctx context.Context) error
}
