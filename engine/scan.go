package engine

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"golang.org/x/sync/errgroup"

	"github.com/indexlake/indexlake/catalog"
	"github.com/indexlake/indexlake/columnar"
	"github.com/indexlake/indexlake/filter"
	"github.com/indexlake/indexlake/index"
	"github.com/indexlake/indexlake/internal/txn"
	"github.com/indexlake/indexlake/rowstore"
)

// Scan implements the scan executor: filter analysis, path selection
// between an index scan and a table scan, and a merge of every resulting
// batch stream into one projected, limited sequence.
func (t *Table) Scan(ctx context.Context, projection []string, pred filter.Expression, limit int64) (array.RecordReader, error) {
	eligible, residual := t.analyzeFilters(pred)

	var batches []rowBatch
	var err error
	if len(eligible) > 0 {
		batches, err = t.indexScan(ctx, eligible, residual)
	} else {
		batches, err = t.tableScan(ctx, pred)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: scan: %w", err)
	}

	return t.mergeAndFinalize(ctx, batches, projection, limit)
}

type tableScanSnapshot struct {
	inlineIDs []int64
	inlineRec arrow.RecordBatch
	external  []rowstore.RowMetaRow
}

// tableScan is the no-index-eligible path: an inline SELECT
// with the predicate pushed down as SQL where translatable, plus a
// rowmeta-driven read of every external row in the same transaction
// snapshot, one address-gather read per distinct data file.
func (t *Table) tableScan(ctx context.Context, pred filter.Expression) ([]rowBatch, error) {
	dialect := t.dialect()

	var whereSQL string
	var args []any
	complete := true
	if pred != nil {
		enc := filter.NewEncoder(&filter.EncoderOptions{
			QuoteIdent:  func(c string) string { return catalog.QuoteIdent(dialect, c) },
			Placeholder: func(n int) string { return catalog.Placeholder(dialect, n) },
		})
		whereSQL, args, complete = enc.Encode(pred)
	}

	snap, err := txn.RunValue(ctx, t.Cat, func(tx catalog.Tx) (tableScanSnapshot, error) {
		ids, rec, err := rowstore.SelectInlineWhere(ctx, tx, dialect, t.TableID, t.Fields, whereSQL, args)
		if err != nil {
			return tableScanSnapshot{}, fmt.Errorf("select inline: %w", err)
		}

		metaWhere := fmt.Sprintf("%s = %s AND %s <> %s",
			catalog.QuoteIdent(dialect, "deleted"), catalog.Placeholder(dialect, 1),
			catalog.QuoteIdent(dialect, "location"), catalog.Placeholder(dialect, 2))
		meta, err := rowstore.SelectRowMetaWhere(ctx, tx, dialect, t.TableID, metaWhere, []any{false, rowstore.InlineLocation})
		if err != nil {
			return tableScanSnapshot{}, fmt.Errorf("select external rowmeta: %w", err)
		}
		return tableScanSnapshot{inlineIDs: ids, inlineRec: rec, external: meta}, nil
	})
	if err != nil {
		return nil, err
	}

	inline := rowBatch{rec: snap.inlineRec, rowIDs: snap.inlineIDs}
	if pred != nil && !complete {
		if inline, err = filterBatch(ctx, inline, pred, t.extEvaluator()); err != nil {
			return nil, err
		}
	}
	batches := []rowBatch{inline}

	external, err := t.resolveExternalRowBatches(ctx, snap.external, pred)
	if err != nil {
		return nil, err
	}
	return append(batches, external...), nil
}

// indexScan is the accelerated path: every index-eligible
// conjunct is resolved to a row_id set via its claiming index, those sets
// are intersected, the matched rows are fetched by row_id from inline and
// external tiers, and the leftover residual conjuncts (those no index
// claimed) are applied in-memory. Index artifacts are only ever built at
// dump time, so rows that entered the inline tier after the newest
// artifact have no index entries; the inline tier is therefore also
// scanned directly with the full predicate, deduplicated against any
// matched row the index already surfaced there (a row can be both when an
// update moved it back inline after it was indexed).
func (t *Table) indexScan(ctx context.Context, eligible []eligibleConjunct, residual []filter.Expression) ([]rowBatch, error) {
	var matched index.RowIDs
	for i, ec := range eligible {
		ids, err := t.recoverableRowIDs(ec.binding, func() (index.RowIDs, error) {
			return ec.binding.Impl.Filter(ctx, ec.binding.Def, ec.binding.Params, ec.binding.Files, t.openArtifact, ec.expr)
		})
		if err != nil {
			return nil, fmt.Errorf("index %q: %w", ec.binding.Def.Name, err)
		}
		if i == 0 {
			matched = ids
			continue
		}
		matched = index.Intersect(matched, ids)
	}

	full := make([]filter.Expression, 0, len(eligible)+len(residual))
	for _, ec := range eligible {
		full = append(full, ec.expr)
	}
	fullPred := filter.RebuildAnd(append(full, residual...))

	dialect := t.dialect()
	var batches []rowBatch
	matchedInline := map[int64]bool{}

	if len(matched) > 0 {
		meta, err := txn.RunValue(ctx, t.Cat, func(tx catalog.Tx) ([]rowstore.RowMetaRow, error) {
			return rowstore.SelectRowMetaByRowIDs(ctx, tx, dialect, t.TableID, matched)
		})
		if err != nil {
			return nil, fmt.Errorf("resolve matched row locations: %w", err)
		}

		var inlineIDs []int64
		var externalMeta []rowstore.RowMetaRow
		for _, m := range meta {
			if m.Deleted {
				continue
			}
			if m.Location == rowstore.InlineLocation {
				inlineIDs = append(inlineIDs, m.RowID)
				matchedInline[m.RowID] = true
				continue
			}
			externalMeta = append(externalMeta, m)
		}

		if len(inlineIDs) > 0 {
			inlineBatch, err := txn.RunValue(ctx, t.Cat, func(tx catalog.Tx) (rowBatch, error) {
				gotIDs, rec, err := rowstore.SelectInlineByRowIDs(ctx, tx, dialect, t.TableID, t.Fields, inlineIDs)
				return rowBatch{rec: rec, rowIDs: gotIDs}, err
			})
			if err != nil {
				return nil, fmt.Errorf("fetch matched inline rows: %w", err)
			}
			batches = append(batches, inlineBatch)
		}

		external, err := t.resolveExternalRowBatches(ctx, externalMeta, nil)
		if err != nil {
			return nil, err
		}
		batches = append(batches, external...)

		residualPred := filter.RebuildAnd(residual)
		if residualPred != nil {
			for i, b := range batches {
				if batches[i], err = filterBatch(ctx, b, residualPred, t.extEvaluator()); err != nil {
					return nil, err
				}
			}
		}
	}

	unindexed, err := t.scanUnindexedInline(ctx, fullPred, matchedInline)
	if err != nil {
		return nil, err
	}
	return append(batches, unindexed...), nil
}

// scanUnindexedInline scans the inline tier with the full predicate, the
// way tableScan's inline leg does, then drops any row the index lookup
// already delivered.
func (t *Table) scanUnindexedInline(ctx context.Context, pred filter.Expression, exclude map[int64]bool) ([]rowBatch, error) {
	dialect := t.dialect()

	var whereSQL string
	var args []any
	complete := true
	if pred != nil {
		enc := filter.NewEncoder(&filter.EncoderOptions{
			QuoteIdent:  func(c string) string { return catalog.QuoteIdent(dialect, c) },
			Placeholder: func(n int) string { return catalog.Placeholder(dialect, n) },
		})
		whereSQL, args, complete = enc.Encode(pred)
	}

	inline, err := txn.RunValue(ctx, t.Cat, func(tx catalog.Tx) (rowBatch, error) {
		ids, rec, err := rowstore.SelectInlineWhere(ctx, tx, dialect, t.TableID, t.Fields, whereSQL, args)
		return rowBatch{rec: rec, rowIDs: ids}, err
	})
	if err != nil {
		return nil, fmt.Errorf("select unindexed inline: %w", err)
	}
	if pred != nil && !complete {
		if inline, err = filterBatch(ctx, inline, pred, t.extEvaluator()); err != nil {
			return nil, err
		}
	}

	if len(exclude) > 0 {
		var keep []int64
		for i, id := range inline.rowIDs {
			if !exclude[id] {
				keep = append(keep, int64(i))
			}
		}
		if len(keep) < len(inline.rowIDs) {
			rec, err := takeRows(ctx, inline.rec, keep)
			if err != nil {
				return nil, err
			}
			rowIDs := make([]int64, len(keep))
			for i, r := range keep {
				rowIDs[i] = inline.rowIDs[r]
			}
			inline = rowBatch{rec: rec, rowIDs: rowIDs}
		}
	}
	if inline.rec == nil || inline.rec.NumRows() == 0 {
		return nil, nil
	}
	return []rowBatch{inline}, nil
}

// recoverableRowIDs wraps a call into a caller-supplied Index
// implementation with internal/recovery, matching Table.recoverable's
// panic-containment for the other index entry points.
func (t *Table) recoverableRowIDs(b IndexBinding, fn func() (index.RowIDs, error)) (index.RowIDs, error) {
	var ids index.RowIDs
	err := t.recoverable("index_filter:"+b.Def.Name, func() error {
		var err error
		ids, err = fn()
		return err
	})
	return ids, err
}

// resolveExternalRowBatches groups metas by data file and fans out one
// address-gather read per file via errgroup, bounded by the number of
// distinct files touched. pred, if non-nil, is applied
// in-memory to every batch read back, since an address-gather read has no
// SQL-style pushdown of its own.
func (t *Table) resolveExternalRowBatches(ctx context.Context, metas []rowstore.RowMetaRow, pred filter.Expression) ([]rowBatch, error) {
	if len(metas) == 0 {
		return nil, nil
	}

	byFile := map[string][]rowstore.RowMetaRow{}
	var order []string
	for _, m := range metas {
		path, ok := rowstore.FilePath(m.Location)
		if !ok {
			return nil, fmt.Errorf("row %d has unparseable external location %q", m.RowID, m.Location)
		}
		if _, seen := byFile[path]; !seen {
			order = append(order, path)
		}
		byFile[path] = append(byFile[path], m)
	}

	results := make([][]rowBatch, len(order))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range order {
		i, path := i, path
		fileMetas := byFile[path]
		g.Go(func() error {
			b, err := t.scanExternalFile(gctx, path, fileMetas, pred)
			if err != nil {
				return err
			}
			results[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scan external files: %w", err)
	}

	var out []rowBatch
	for _, b := range results {
		out = append(out, b...)
	}
	return out, nil
}

// scanExternalFile reads exactly the rows named by metas from one data
// file, by address, and applies pred in-memory if given.
func (t *Table) scanExternalFile(ctx context.Context, path string, metas []rowstore.RowMetaRow, pred filter.Expression) ([]rowBatch, error) {
	reader, err := t.OpenColumnar(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer reader.Close()

	addrs := make([]columnar.Address, len(metas))
	rowIDs := make([]int64, len(metas))
	for i, m := range metas {
		loc, err := rowstore.ParseLocation(m.Location)
		if err != nil {
			return nil, err
		}
		addrs[i] = loc.Addr
		rowIDs[i] = m.RowID
	}

	rr, err := reader.ReadAddresses(ctx, addrs, t.fieldNames())
	if err != nil {
		return nil, fmt.Errorf("read addresses from %s: %w", path, err)
	}
	defer rr.Release()

	batches, err := drainRecordReader(rr, rowIDs)
	if err != nil {
		return nil, fmt.Errorf("drain %s: %w", path, err)
	}
	if pred != nil {
		for i, b := range batches {
			if batches[i], err = filterBatch(ctx, b, pred, t.extEvaluator()); err != nil {
				return nil, err
			}
		}
	}
	return batches, nil
}

// mergeAndFinalize projects every batch to the requested columns and
// truncates the merged stream to limit. It chooses
// precise row-count truncation across batch boundaries rather than the
// looser option of over-delivering within one batch then truncating,
// since an exact cut is no harder to implement here and gives callers a
// deterministic result.
func (t *Table) mergeAndFinalize(ctx context.Context, batches []rowBatch, projection []string, limit int64) (array.RecordReader, error) {
	names := t.fieldNames()
	var out []arrow.RecordBatch
	var schema *arrow.Schema
	var delivered int64

	for _, b := range batches {
		if limit > 0 && delivered >= limit {
			break
		}
		if b.rec == nil || b.rec.NumRows() == 0 {
			continue
		}
		projected, err := project(b, names, projection)
		if err != nil {
			return nil, err
		}
		if limit > 0 && delivered+projected.NumRows() > limit {
			keep := limit - delivered
			idx := make([]int64, keep)
			for i := range idx {
				idx[i] = int64(i)
			}
			projected, err = takeRows(ctx, projected, idx)
			if err != nil {
				return nil, err
			}
		}
		if schema == nil {
			schema = projected.Schema()
		}
		delivered += projected.NumRows()
		out = append(out, projected)
	}

	if schema == nil {
		schema = t.projectedSchema(projection)
	}
	return array.NewRecordReader(schema, out)
}

// projectedSchema builds an empty result's schema when no batch produced
// rows to derive one from.
func (t *Table) projectedSchema(projection []string) *arrow.Schema {
	cols := projection
	if len(cols) == 0 {
		cols = t.fieldNames()
	}
	fields := make([]arrow.Field, len(cols))
	for i, name := range cols {
		if name == rowstore.RowIDAlias {
			fields[i] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int64}
			continue
		}
		for _, f := range t.Fields {
			if f.Name == name {
				fields[i] = arrow.Field{Name: f.Name, Type: f.Type, Nullable: f.Nullable}
				break
			}
		}
	}
	return arrow.NewSchema(fields, nil)
}
