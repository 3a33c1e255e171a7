package indexlake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/indexlake/indexlake/catalog"
	"github.com/indexlake/indexlake/dump"
	"github.com/indexlake/indexlake/engine"
	"github.com/indexlake/indexlake/filter"
	"github.com/indexlake/indexlake/index"
	"github.com/indexlake/indexlake/internal/idcodec"
	"github.com/indexlake/indexlake/internal/txn"
)

type engineTable = engine.Table

// Table is one user table's handle. It wraps the DML executor with
// index-binding refresh (so a scan always sees index files written by the
// most recent dump) and with the client-level error taxonomy.
type Table struct {
	client *Client
	eng    engineTable
	config TableConfig
}

// Schema returns the table's user-visible Arrow schema.
func (t *Table) Schema() *arrow.Schema { return t.eng.Schema() }

// TableID returns the table's catalog id, stable for the table's lifetime.
func (t *Table) TableID() int64 { return t.eng.TableID }

// Config returns the table's effective configuration.
func (t *Table) Config() TableConfig { return t.config }

// Insert appends batch's rows to the inline tier. On success
// the rows are durably committed; a dump is enqueued in the background if
// the inline tier crossed its configured limit.
func (t *Table) Insert(ctx context.Context, batch arrow.RecordBatch) error {
	return classify(t.eng.Insert(ctx, batch))
}

// Scan returns a lazy batch stream over the table. projection
// names the output columns (nil for all user columns; include
// rowstore.RowIDAlias explicitly to see row ids); pred may be nil; a
// limit of 0 means unlimited.
func (t *Table) Scan(ctx context.Context, projection []string, pred filter.Expression, limit int64) (array.RecordReader, error) {
	if err := t.refreshIndexes(ctx); err != nil {
		return nil, err
	}
	rr, err := t.eng.Scan(ctx, projection, pred, limit)
	return rr, classify(err)
}

// Delete soft-deletes every row matching condition, returning
// the number of rows marked deleted.
func (t *Table) Delete(ctx context.Context, condition filter.Expression) (int64, error) {
	n, err := t.eng.Delete(ctx, condition)
	return n, classify(err)
}

// Update rewrites the columns in setMap for every row matching
// condition, preserving row identity. Rows currently in external files
// move back to the inline tier.
func (t *Table) Update(ctx context.Context, condition filter.Expression, setMap map[string]any) (int64, error) {
	if err := t.refreshIndexes(ctx); err != nil {
		return 0, err
	}
	n, err := t.eng.Update(ctx, condition, setMap)
	return n, classify(err)
}

// Dump runs one synchronous dump pass, migrating the
// currently-selected batch of inline rows to a new columnar file. Returns
// (nil, nil) when there was nothing to migrate. Most callers rely on the
// automatic post-insert enqueue instead; Dump exists for tests and for
// operators who want to drain the inline tier on demand.
func (t *Table) Dump(ctx context.Context) (*dump.Result, error) {
	if err := t.refreshIndexes(ctx); err != nil {
		return nil, err
	}
	res, err := dump.Run(ctx, &t.eng)
	return res, classify(err)
}

// runDump is the scheduler-invoked form of Dump, discarding the result.
func (t *Table) runDump(ctx context.Context) error {
	_, err := t.Dump(ctx)
	return err
}

// CreateIndex registers a secondary index on the table: resolve the
// kind, validate params and schema, persist the definition, then
// backfill one artifact per pre-existing data file.
func (t *Table) CreateIndex(ctx context.Context, name, kind string, keyFields []string, params json.RawMessage) error {
	impl, ok := t.client.registry.Lookup(kind)
	if !ok {
		return fmt.Errorf("index kind %q: %w", kind, ErrNotFound)
	}
	decoded, err := impl.DecodeParams(params)
	if err != nil {
		return &IndexError{Kind: kind, Op: "decode params", Err: err}
	}
	def := index.Definition{
		TableID:       t.eng.TableID,
		Name:          name,
		Kind:          kind,
		KeyFieldNames: keyFields,
		Params:        params,
	}
	if err := impl.Supports(def, t.Schema(), decoded); err != nil {
		return &IndexError{Kind: kind, Op: "supports", Err: err}
	}

	dialect := t.client.cat.Dialect()
	err = txn.Run(ctx, t.client.cat, func(tx catalog.Tx) error {
		id, err := catalog.InsertIndexDef(ctx, tx, dialect, catalog.IndexDef{
			TableID:       def.TableID,
			Name:          name,
			Kind:          kind,
			KeyFieldNames: keyFields,
			ParamsJSON:    []byte(params),
		})
		if err != nil {
			return err
		}
		def.IndexID = id
		return nil
	})
	if err != nil {
		return &CatalogError{Op: "create index", Err: err}
	}

	if err := t.backfill(ctx, impl, def, decoded); err != nil {
		return err
	}
	return t.refreshIndexes(ctx)
}

// backfill builds an artifact for every data file that predates the
// index. The data file's rows are re-read in their stored order, which
// is row_id-ascending
// by construction (dump selects ORDER BY row_id ASC), so zipping them with
// the decoded packed_row_ids restores each row's id.
func (t *Table) backfill(ctx context.Context, impl index.Index, def index.Definition, params any) error {
	dialect := t.client.cat.Dialect()
	files, err := catalog.ListDataFiles(ctx, t.client.cat, dialect, t.eng.TableID)
	if err != nil {
		return &CatalogError{Op: "list data files", Err: err}
	}
	for _, f := range files {
		if err := t.backfillFile(ctx, impl, def, params, f); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) backfillFile(ctx context.Context, impl index.Index, def index.Definition, params any, f catalog.DataFile) error {
	ids, err := idcodec.Decode(f.PackedRowIDs)
	if err != nil {
		return fmt.Errorf("data file %s: %w: %v", f.RelativePath, ErrIntegrityViolation, err)
	}

	builder, err := impl.Builder(def, params)
	if err != nil {
		return &IndexError{Kind: def.Kind, Op: "builder", Err: err}
	}

	reader, err := t.eng.OpenColumnar(ctx, f.RelativePath)
	if err != nil {
		return &StorageError{Op: "open", Path: f.RelativePath, Err: err}
	}
	defer reader.Close()
	rr, _, err := reader.Scan(ctx, nil, nil)
	if err != nil {
		return &StorageError{Op: "scan", Path: f.RelativePath, Err: err}
	}
	defer rr.Release()

	offset := 0
	for rr.Next() {
		rec := rr.RecordBatch()
		n := int(rec.NumRows())
		if offset+n > len(ids) {
			return fmt.Errorf("data file %s has more rows than packed_row_ids entries: %w", f.RelativePath, ErrIntegrityViolation)
		}
		withIDs := dump.WithRowIDColumn(rec, ids[offset:offset+n])
		err := builder.Update(ctx, withIDs)
		withIDs.Release()
		if err != nil {
			return &IndexError{Kind: def.Kind, Op: "update", Err: err}
		}
		offset += n
	}
	if err := rr.Err(); err != nil {
		return &StorageError{Op: "scan", Path: f.RelativePath, Err: err}
	}

	path := dump.IndexFilePath(t.eng.Namespace, t.eng.Name, def.IndexID, f.DataFileID)
	if err := dump.WriteArtifact(ctx, t.client.store, builder, path); err != nil {
		return &IndexError{Kind: def.Kind, Op: "write artifact", Err: err}
	}

	dialect := t.client.cat.Dialect()
	err = txn.Run(ctx, t.client.cat, func(tx catalog.Tx) error {
		_, err := catalog.InsertIndexFile(ctx, tx, dialect, catalog.IndexFile{
			IndexID:      def.IndexID,
			DataFileID:   f.DataFileID,
			RelativePath: path,
		})
		return err
	})
	if err != nil {
		return &CatalogError{Op: "insert index file", Err: err}
	}
	return nil
}

// refreshIndexes reloads the table's index bindings from the catalog:
// definitions, decoded params, and the current artifact list per index.
// A definition whose kind has no registered implementation is an error —
// scanning with an unknown index silently degraded would hide a
// misconfigured client.
func (t *Table) refreshIndexes(ctx context.Context) error {
	dialect := t.client.cat.Dialect()
	defs, err := catalog.ListIndexDefs(ctx, t.client.cat, dialect, t.eng.TableID)
	if err != nil {
		return &CatalogError{Op: "list indexes", Err: err}
	}
	if len(defs) == 0 && len(t.eng.Indices) == 0 {
		return nil
	}

	bindings := make([]engine.IndexBinding, 0, len(defs))
	for _, d := range defs {
		impl, ok := t.client.registry.Lookup(d.Kind)
		if !ok {
			return fmt.Errorf("index %q has unregistered kind %q: %w", d.Name, d.Kind, ErrNotFound)
		}
		params, err := impl.DecodeParams(d.ParamsJSON)
		if err != nil {
			return &IndexError{Kind: d.Kind, Op: "decode params", Err: err}
		}
		idxFiles, err := catalog.ListIndexFiles(ctx, t.client.cat, dialect, d.IndexID)
		if err != nil {
			return &CatalogError{Op: "list index files", Err: err}
		}
		files := make([]index.File, len(idxFiles))
		for i, f := range idxFiles {
			files[i] = index.File{IndexFileID: f.IndexFileID, DataFileID: f.DataFileID, RelativePath: f.RelativePath}
		}
		bindings = append(bindings, engine.IndexBinding{
			Def: index.Definition{
				IndexID:           d.IndexID,
				TableID:           d.TableID,
				Name:              d.Name,
				Kind:              d.Kind,
				KeyFieldNames:     d.KeyFieldNames,
				IncludeFieldNames: d.IncludeFieldNames,
				Params:            d.ParamsJSON,
			},
			Impl:   impl,
			Params: params,
			Files:  files,
		})
	}
	t.eng.Indices = bindings
	return nil
}

// classify maps backend failures onto the error taxonomy where
// the failure shape is recognizable. A unique/primary-key violation on the
// per-table dynamic tables means two transactions raced the same row-id
// block.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrIntegrityViolation) {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "PRIMARY KEY") || strings.Contains(msg, "duplicate key") {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
