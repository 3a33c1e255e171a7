package rowstore

import (
	"context"
	"fmt"

	"github.com/indexlake/indexlake/catalog"
)

// AllocateRowIDs implements the row-id allocator:
// inside the caller's transaction, it reads max(row_id) from
// rowmeta_{tableID} (0 if empty) and returns the start of a contiguous
// block of n fresh ids, [start, start+n). The surrounding transaction's
// atomicity is what prevents two committed inserts from ever overlapping;
// this function does no locking of its own.
func AllocateRowIDs(ctx context.Context, tx catalog.Tx, dialect catalog.Dialect, tableID int64, n int64) (start int64, err error) {
	if n <= 0 {
		return 0, fmt.Errorf("rowstore: AllocateRowIDs: n must be positive, got %d", n)
	}
	table := catalog.QuoteIdent(dialect, catalog.RowMetaTableName(tableID))
	rowID := catalog.QuoteIdent(dialect, RowIDColumn)
	rows, err := tx.Query(ctx, fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) FROM %s", rowID, table))
	if err != nil {
		return 0, fmt.Errorf("rowstore: allocate row ids: %w", err)
	}
	defer rows.Close()

	var max int64
	if rows.Next() {
		if err := rows.Scan(&max); err != nil {
			return 0, fmt.Errorf("rowstore: allocate row ids: scan max: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("rowstore: allocate row ids: %w", err)
	}
	return max + 1, nil
}
