package engine

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/indexlake/indexlake/catalog"
	"github.com/indexlake/indexlake/internal/txn"
	"github.com/indexlake/indexlake/rowstore"
)

// Insert implements the insert executor: it allocates a contiguous row_id
// block, writes the batch into the inline tier, records inline rowmeta for
// every new row, and on successful commit checks whether the inline tier
// has crossed InlineRowCountLimit to enqueue a dump.
func (t *Table) Insert(ctx context.Context, batch arrow.RecordBatch) error {
	if err := t.validateBatchSchema(batch); err != nil {
		return fmt.Errorf("engine: insert: %w", err)
	}
	if batch.NumRows() == 0 {
		return nil
	}

	var triggerDump bool
	err := txn.Run(ctx, t.Cat, func(tx catalog.Tx) error {
		start, err := rowstore.AllocateRowIDs(ctx, tx, t.dialect(), t.TableID, batch.NumRows())
		if err != nil {
			return fmt.Errorf("allocate row ids: %w", err)
		}
		rowIDs := make([]int64, batch.NumRows())
		for i := range rowIDs {
			rowIDs[i] = start + int64(i)
		}

		if err := rowstore.InsertInline(ctx, tx, t.dialect(), t.TableID, t.Fields, rowIDs, batch); err != nil {
			return err
		}
		if err := rowstore.InsertRowMetaInline(ctx, tx, t.dialect(), t.TableID, rowIDs); err != nil {
			return err
		}

		count, err := rowstore.CountInline(ctx, tx, t.dialect(), t.TableID)
		if err != nil {
			return fmt.Errorf("count inline rows: %w", err)
		}
		triggerDump = count > t.InlineRowCountLimit
		return nil
	})
	if err != nil {
		return fmt.Errorf("engine: insert: %w", err)
	}

	if triggerDump && t.Dumper != nil {
		t.Dumper(ctx, t.TableID)
	}
	return nil
}

// validateBatchSchema checks batch's schema matches the table's user
// schema by name and position.
func (t *Table) validateBatchSchema(batch arrow.RecordBatch) error {
	if int(batch.NumCols()) != len(t.Fields) {
		return fmt.Errorf("batch has %d columns, table has %d", batch.NumCols(), len(t.Fields))
	}
	for i, f := range t.Fields {
		got := batch.Schema().Field(i)
		if got.Name != f.Name {
			return fmt.Errorf("column %d: expected %q, got %q", i, f.Name, got.Name)
		}
		if !arrow.TypeEqual(got.Type, f.Type) {
			return fmt.Errorf("column %q: expected type %s, got %s", f.Name, f.Type, got.Type)
		}
	}
	return nil
}
