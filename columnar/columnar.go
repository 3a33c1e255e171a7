// Package columnar defines the contract IndexLake consumes from the
// columnar file format. The format's internals — encoding, compression,
// page layout — are out of scope; the engine only needs to write rows and
// learn their row-group/row-offset address, then later read rows back
// either by that address or by a pushed-down predicate. That WriteBatch
// returns addresses is part of why the Writer interface differs from a
// plain io.Writer: the dump task needs the address of every row it wrote to
// build rowmeta locations.
package columnar

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/indexlake/indexlake/filter"
)

// Address identifies a row's physical position inside a columnar file.
type Address struct {
	RowGroup       int
	RowOffsetInGroup int
}

// Writer streams Arrow record batches into a new columnar file and reports
// the address assigned to every row it wrote, in the same order as the
// input batch's rows.
type Writer interface {
	// WriteBatch appends rec's rows and returns their per-row addresses.
	WriteBatch(ctx context.Context, rec arrow.RecordBatch) ([]Address, error)
	// Close finalizes the file and returns the total row count written.
	// The underlying blob writer's Finalize has already been
	// called successfully by the time Close returns.
	Close(ctx context.Context) (rowCount int64, err error)
}

// Reader provides row-group-addressable random reads with predicate
// pushdown over an already-written columnar file.
type Reader interface {
	// Schema returns the file's Arrow schema.
	Schema() *arrow.Schema

	// ReadAddresses fetches exactly the rows at addrs, in the order given,
	// projected to columns (nil/empty means all columns).
	ReadAddresses(ctx context.Context, addrs []Address, columns []string) (array.RecordReader, error)

	// Scan reads the whole file (subject to row-group pruning the
	// implementation can perform from pred) and returns whether pred was
	// fully satisfied by the pushdown (complete=true) or still needs
	// in-memory re-evaluation by the caller (complete=false). A nil pred
	// always yields complete=true.
	Scan(ctx context.Context, columns []string, pred filter.Expression) (rows array.RecordReader, complete bool, err error)

	// NumRowGroups reports the row-group count, used by callers that want
	// to address specific groups directly.
	NumRowGroups() int

	// Close releases the reader's resources.
	Close() error
}

// WriterFactory opens a new Writer for a blob path and schema, so C7/C6
// code doesn't need to know which concrete file format backs a table.
type WriterFactory func(ctx context.Context, path string, schema *arrow.Schema) (Writer, error)

// ReaderFactory opens a Reader over an already-written file at path.
type ReaderFactory func(ctx context.Context, path string) (Reader, error)
