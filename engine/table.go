// Package engine implements the DML executor: insert, scan, update, and
// delete, orchestrating the catalog (rowstore), blob store (columnar), and
// registered indices to keep the inline and external tiers coherent. It is
// the one package that is allowed to know about rowstore, columnar, and
// index all at once — filter stays self-contained specifically so it
// doesn't have to.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/indexlake/indexlake/blob"
	"github.com/indexlake/indexlake/catalog"
	"github.com/indexlake/indexlake/columnar"
	"github.com/indexlake/indexlake/filter"
	"github.com/indexlake/indexlake/index"
	"github.com/indexlake/indexlake/internal/recovery"
	"github.com/indexlake/indexlake/rowstore"
)

// IndexBinding pairs a persisted index definition with its registered
// Index implementation and decoded params, the unit engine code iterates
// over when consulting every registered index for the table.
type IndexBinding struct {
	Def    index.Definition
	Impl   index.Index
	Params any
	Files  []index.File
}

// Table is one user table's handle, owning everything needed to run DML
// against it without reaching back into a client registry for each call.
type Table struct {
	Cat    catalog.Catalog
	Store  blob.Store
	Logger *slog.Logger

	TableID   int64
	Namespace string
	Name      string
	Fields    []rowstore.Field

	// InlineRowCountLimit triggers a dump enqueue once inline row count
	// exceeds it after a commit.
	InlineRowCountLimit int64

	// DumpBatchRowCount bounds how many inline rows one dump pass selects.
	DumpBatchRowCount int64

	// Indices lists the table's registered index bindings, refreshed by
	// the caller whenever an index is created or a data file is added.
	Indices []IndexBinding

	// OpenColumnar opens a Reader over an external data file by its
	// relative path, used by Scan/Update/Delete to fetch rows that have
	// been dumped out of the inline tier.
	OpenColumnar columnar.ReaderFactory

	// NewColumnar opens a Writer for a brand-new external data file, used
	// by the dump task to start writing inline rows out to blob storage.
	// Nil means the table cannot be dumped.
	NewColumnar columnar.WriterFactory

	// Dumper is invoked by Insert's post-commit check to enqueue a dump.
	// Nil means dumps are never triggered automatically — tests and
	// callers that drive dump explicitly can leave it unset.
	Dumper func(ctx context.Context, tableID int64)
}

func (t *Table) dialect() catalog.Dialect { return t.Cat.Dialect() }

// Schema returns the table's user-visible Arrow schema (row_id excluded).
func (t *Table) Schema() *arrow.Schema { return rowstore.Schema(t.Fields) }

// fieldNames returns the table's user column names, in field order.
func (t *Table) fieldNames() []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

func (t *Table) logf(format string, args ...any) {
	if t.Logger != nil {
		t.Logger.Debug(fmt.Sprintf(format, args...), "table_id", t.TableID)
	}
}

// recoverable wraps fn with internal/recovery so a panic inside a
// caller-supplied Index implementation (invoked via t.Indices) can't take
// down a DML operation's goroutine.
func (t *Table) recoverable(operation string, fn func() error) error {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return recovery.ToError(logger, operation, fn)
}

// extEvaluator builds the in-memory dispatch for Extension predicates
// that reach residual evaluation: each registered index implementing
// index.ExtensionEvaluator gets a chance to recognize the predicate name
// and evaluate it against the fetched row. Returns nil when no index offers the
// capability, which makes filter.Evaluator reject Extension predicates
// outright — the correct outcome for a predicate nothing registered
// understands.
func (t *Table) extEvaluator() filter.ExtensionEvaluator {
	var evals []index.ExtensionEvaluator
	for _, b := range t.Indices {
		if ev, ok := b.Impl.(index.ExtensionEvaluator); ok {
			evals = append(evals, ev)
		}
	}
	if len(evals) == 0 {
		return nil
	}
	return func(name string, args []any, rec arrow.RecordBatch, row int) (bool, error) {
		for _, ev := range evals {
			ok, err := ev.EvalExtension(name, args, rec, row)
			if errors.Is(err, index.ErrUnknownExtension) {
				continue
			}
			return ok, err
		}
		return false, fmt.Errorf("engine: no registered index evaluates extension predicate %q", name)
	}
}

// openArtifact adapts the table's blob store into an index.OpenArtifact,
// so Index implementations never need a direct Store reference.
func (t *Table) openArtifact(ctx context.Context, f index.File) (blob.Reader, error) {
	return t.Store.Open(ctx, f.RelativePath)
}
