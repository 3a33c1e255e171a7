package indexlake

import (
	"errors"
	"fmt"
)

// Error taxonomy. Sentinels classify outcomes callers branch on;
// the typed errors below carry per-operation context and wrap an
// underlying cause where one exists.
var (
	// ErrNotFound reports a missing table, namespace, index, or file.
	ErrNotFound = errors.New("indexlake: not found")

	// ErrConflict reports a lost race, most commonly two concurrent
	// transactions allocating the same row-id block. The operation did not
	// commit; the caller may retry it wholesale (see RetryConflict).
	ErrConflict = errors.New("indexlake: conflict")

	// ErrIntegrityViolation reports that a read found the engine's stored
	// invariants broken (e.g. an inline rowmeta record with no inline
	// row). Unrecoverable for the operation that hit it.
	ErrIntegrityViolation = errors.New("indexlake: integrity violation")
)

// InvalidArgumentError reports caller input rejected before any catalog
// or blob work started: a schema mismatch, an unknown column, malformed
// index params.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("indexlake: invalid argument %q: %s", e.Field, e.Reason)
}

// CatalogError wraps a backend SQL failure. The engine does not classify
// transient vs permanent; callers that know their backend can inspect the
// wrapped error.
type CatalogError struct {
	Op  string
	Err error
}

func (e *CatalogError) Error() string { return fmt.Sprintf("indexlake: catalog %s: %v", e.Op, e.Err) }
func (e *CatalogError) Unwrap() error { return e.Err }

// StorageError wraps a blob I/O failure.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("indexlake: storage %s %s: %v", e.Op, e.Path, e.Err)
}
func (e *StorageError) Unwrap() error { return e.Err }

// IndexError wraps a failure inside a pluggable index implementation: a
// builder or filter rejected its input, or the implementation panicked and
// was contained.
type IndexError struct {
	Kind string
	Op   string
	Err  error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("indexlake: index kind %q %s: %v", e.Kind, e.Op, e.Err)
}
func (e *IndexError) Unwrap() error { return e.Err }
