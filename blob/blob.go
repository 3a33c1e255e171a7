// Package blob defines the path-addressed byte-container contract IndexLake
// consumes from an external object/file store. The engine only ever needs
// create/open/delete/exists plus random-read file handles; everything about
// durability, replication, and multipart upload belongs to the backend.
package blob

import (
	"context"
	"io"
)

// Writer is a sequential write handle returned by Store.Create. Overwrites
// of an existing path are permitted. Finalize is distinct from
// Close: it is the point at which the written bytes become durable and
// visible to subsequent Open/Exists calls, and its error must be checked —
// a successful sequence of Write calls followed by a failed Finalize means
// the blob does not exist.
type Writer interface {
	io.Writer
	// Finalize flushes and closes the writer, making the blob durable.
	// Callers MUST call Finalize exactly once; errors from Finalize must
	// be treated as "the write did not happen".
	Finalize(ctx context.Context) error
}

// Reader is a random-access read handle returned by Store.Open, built to be
// consumable by a columnar-file reader requiring async random-access I/O.
type Reader interface {
	// ReadAt reads length bytes starting at offset. Implementations MUST
	// support concurrent calls from multiple goroutines on the same
	// Reader, since row-group reads may be issued in parallel.
	ReadAt(ctx context.Context, offset, length int64) ([]byte, error)
	// Size returns the total byte size of the underlying blob.
	Size(ctx context.Context) (int64, error)
	// Close releases the handle. Idempotent.
	Close() error
}

// Store is the file-level contract the engine depends on.
// Implementations MUST be safe for concurrent use.
type Store interface {
	// Create opens path for sequential write, truncating any existing
	// blob at that path only once Finalize succeeds.
	Create(ctx context.Context, path string) (Writer, error)
	// Open opens path for random read.
	Open(ctx context.Context, path string) (Reader, error)
	// Delete removes the blob at path. MUST NOT error if path does not
	// exist — callers use Delete for best-effort cleanup of partial
	// writes.
	Delete(ctx context.Context, path string) error
	// Exists reports whether a blob exists at path.
	Exists(ctx context.Context, path string) (bool, error)
	// RemoveDirAll removes every blob whose path has prefix as a
	// directory-style prefix (e.g. removing an entire table's namespace
	// on table drop).
	RemoveDirAll(ctx context.Context, prefix string) error
}
