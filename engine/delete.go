package engine

import (
	"context"
	"fmt"

	"github.com/indexlake/indexlake/catalog"
	"github.com/indexlake/indexlake/filter"
	"github.com/indexlake/indexlake/internal/txn"
	"github.com/indexlake/indexlake/rowstore"
)

// Delete implements the delete executor: resolve matching row_ids, mark
// their rowmeta deleted, and drop their inline copies. External copies are
// left untouched — reclaiming them is an out-of-scope compaction step.
func (t *Table) Delete(ctx context.Context, condition filter.Expression) (int64, error) {
	rowIDs, err := t.resolveRowIDs(ctx, condition)
	if err != nil {
		return 0, fmt.Errorf("engine: delete: %w", err)
	}
	if len(rowIDs) == 0 {
		return 0, nil
	}

	var affected int64
	err = txn.Run(ctx, t.Cat, func(tx catalog.Tx) error {
		n, err := rowstore.MarkRowMetaDeleted(ctx, tx, t.dialect(), t.TableID, rowIDs)
		if err != nil {
			return err
		}
		affected = n
		if _, err := rowstore.DeleteInlineByRowIDs(ctx, tx, t.dialect(), t.TableID, rowIDs); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("engine: delete: %w", err)
	}
	return affected, nil
}

// resolveRowIDs enumerates directly when condition references only row_id,
// falling back to an internal scan projecting only row_id otherwise. It is
// shared by Delete and Update.
func (t *Table) resolveRowIDs(ctx context.Context, condition filter.Expression) ([]int64, error) {
	if condition == nil {
		return nil, fmt.Errorf("engine: a condition is required (use an explicit always-true predicate to affect every row)")
	}
	if ids, ok := rowIDOnlyCondition(condition); ok {
		return ids, nil
	}

	rr, err := t.Scan(ctx, []string{rowstore.RowIDAlias}, condition, 0)
	if err != nil {
		return nil, fmt.Errorf("resolve matching rows: %w", err)
	}
	defer rr.Release()

	var ids []int64
	for rr.Next() {
		rec := rr.RecordBatch()
		col, ok := rec.Column(0).(interface{ Value(int) int64 })
		if !ok {
			return nil, fmt.Errorf("internal scan's row id column has unexpected type %T", rec.Column(0))
		}
		for row := 0; row < int(rec.NumRows()); row++ {
			ids = append(ids, col.Value(row))
		}
	}
	if err := rr.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// rowIDOnlyCondition recognizes the two predicate shapes the fast
// path covers: row_id = literal, and row_id IN (literals).
func rowIDOnlyCondition(condition filter.Expression) ([]int64, bool) {
	switch c := condition.(type) {
	case *filter.Comparison:
		if c.Op != filter.OpEqual {
			return nil, false
		}
		col, ok := c.Left.(*filter.Column)
		if !ok || col.Name != rowstore.RowIDAlias {
			return nil, false
		}
		lit, ok := c.Right.(*filter.Literal)
		if !ok {
			return nil, false
		}
		id, ok := toRowID(lit.Value)
		if !ok {
			return nil, false
		}
		return []int64{id}, true
	case *filter.In:
		if c.Column.Name != rowstore.RowIDAlias {
			return nil, false
		}
		ids := make([]int64, 0, len(c.Values))
		for _, v := range c.Values {
			id, ok := toRowID(v)
			if !ok {
				return nil, false
			}
			ids = append(ids, id)
		}
		return ids, true
	default:
		return nil, false
	}
}

func toRowID(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
