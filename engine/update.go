package engine

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/indexlake/indexlake/catalog"
	"github.com/indexlake/indexlake/filter"
	"github.com/indexlake/indexlake/internal/txn"
	"github.com/indexlake/indexlake/rowstore"
)

// Update implements the update executor, "delete-then-reinsert into inline"
// without ever touching row_id: rows still in the inline tier are rewritten
// in place; rows currently external are recomputed in full and moved back
// to inline, leaving their stale external copy unreachable (rowmeta's
// location is the sole source of truth for visibility — no deleted flag is
// ever set by an update).
func (t *Table) Update(ctx context.Context, condition filter.Expression, setMap map[string]any) (int64, error) {
	if len(setMap) == 0 {
		return 0, fmt.Errorf("engine: update: set_map must name at least one column")
	}
	setCols := make([]string, 0, len(setMap))
	for col := range setMap {
		if !t.hasField(col) {
			return 0, fmt.Errorf("engine: update: unknown column %q", col)
		}
		setCols = append(setCols, col)
	}

	rowIDs, err := t.resolveRowIDs(ctx, condition)
	if err != nil {
		return 0, fmt.Errorf("engine: update: %w", err)
	}
	if len(rowIDs) == 0 {
		return 0, nil
	}

	dialect := t.dialect()
	meta, err := txn.RunValue(ctx, t.Cat, func(tx catalog.Tx) ([]rowstore.RowMetaRow, error) {
		return rowstore.SelectRowMetaByRowIDs(ctx, tx, dialect, t.TableID, rowIDs)
	})
	if err != nil {
		return 0, fmt.Errorf("engine: update: resolve current row locations: %w", err)
	}

	var inlineIDs []int64
	var externalMeta []rowstore.RowMetaRow
	for _, m := range meta {
		if m.Deleted {
			continue
		}
		if m.Location == rowstore.InlineLocation {
			inlineIDs = append(inlineIDs, m.RowID)
		} else {
			externalMeta = append(externalMeta, m)
		}
	}
	if len(inlineIDs) == 0 && len(externalMeta) == 0 {
		return 0, nil
	}

	// Fetch the current full row for every external-sourced match before
	// opening the write transaction, since computing the new row requires
	// the columns the update does not touch as well as the ones it does.
	externalBatches, err := t.resolveExternalRowBatches(ctx, externalMeta, nil)
	if err != nil {
		return 0, fmt.Errorf("engine: update: read current external rows: %w", err)
	}

	err = txn.Run(ctx, t.Cat, func(tx catalog.Tx) error {
		if len(inlineIDs) > 0 {
			vals := make([][]any, len(inlineIDs))
			for i := range inlineIDs {
				row := make([]any, len(setCols))
				for j, col := range setCols {
					row[j] = setMap[col]
				}
				vals[i] = row
			}
			if err := rowstore.UpdateInlineColumns(ctx, tx, dialect, t.TableID, setCols, inlineIDs, vals); err != nil {
				return err
			}
		}

		var movedIDs []int64
		for _, b := range externalBatches {
			rec, err := t.applySetMap(b, setMap)
			if err != nil {
				return err
			}
			if err := rowstore.InsertInline(ctx, tx, dialect, t.TableID, t.Fields, b.rowIDs, rec); err != nil {
				return err
			}
			movedIDs = append(movedIDs, b.rowIDs...)
		}
		if len(movedIDs) > 0 {
			if err := rowstore.UpdateRowMetaLocationsToInline(ctx, tx, dialect, t.TableID, movedIDs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("engine: update: %w", err)
	}

	affected := int64(len(inlineIDs))
	for _, b := range externalBatches {
		affected += int64(len(b.rowIDs))
	}
	return affected, nil
}

func (t *Table) hasField(name string) bool {
	for _, f := range t.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// applySetMap builds the full new row for every row of b: columns named in
// setMap take their new literal value, every other column keeps its
// current value read back out of b.rec. The result is a record batch
// ready for rowstore.InsertInline.
func (t *Table) applySetMap(b rowBatch, setMap map[string]any) (arrow.RecordBatch, error) {
	bldr := rowstore.NewRecordBuilder(t.Fields, false)
	for row := 0; row < int(b.rec.NumRows()); row++ {
		vals := make([]any, len(t.Fields))
		for i, f := range t.Fields {
			if nv, ok := setMap[f.Name]; ok {
				vals[i] = nv
				continue
			}
			vals[i] = columnCellValue(b.rec.Column(i), row)
		}
		if err := bldr.Append(vals, b.rowIDs[row]); err != nil {
			return nil, fmt.Errorf("engine: update: rebuild row %d: %w", b.rowIDs[row], err)
		}
	}
	return bldr.NewRecord(), nil
}
