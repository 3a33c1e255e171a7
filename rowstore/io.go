package rowstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/indexlake/indexlake/catalog"
)

// Querier is satisfied by both catalog.Catalog and catalog.Tx; rowstore's
// read helpers accept it so callers can choose a single-shot read or a
// snapshot-consistent read inside an open transaction.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (catalog.Rows, error)
}

// RowMetaRow is one decoded row of rowmeta_{table_id}.
type RowMetaRow struct {
	RowID    int64
	Location string
	Deleted  bool
}

// InsertInline emits the multi-row INSERT into inline_{tableID} for a
// freshly allocated block of rowIDs. len(rowIDs) must
// equal rec.NumRows().
func InsertInline(ctx context.Context, tx catalog.Tx, dialect catalog.Dialect, tableID int64, fields []Field, rowIDs []int64, rec arrow.RecordBatch) error {
	if int64(len(rowIDs)) != rec.NumRows() {
		return fmt.Errorf("rowstore: InsertInline: %d row ids for %d rows", len(rowIDs), rec.NumRows())
	}
	if rec.NumRows() == 0 {
		return nil
	}
	table := catalog.QuoteIdent(dialect, catalog.InlineTableName(tableID))
	colNames := make([]string, 0, len(fields)+1)
	colNames = append(colNames, catalog.QuoteIdent(dialect, RowIDColumn))
	for _, f := range fields {
		colNames = append(colNames, catalog.QuoteIdent(dialect, f.Name))
	}

	valueGroups := make([]string, rec.NumRows())
	args := make([]any, 0, int(rec.NumRows())*(len(fields)+1))
	pos := 0
	for row := 0; row < int(rec.NumRows()); row++ {
		n := len(fields) + 1
		valueGroups[row] = "(" + catalog.Placeholders(dialect, pos, n) + ")"
		pos += n
		args = append(args, rowIDs[row])
		args = append(args, rowValues(rec, row)...)
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, strings.Join(colNames, ", "), strings.Join(valueGroups, ", "))
	_, err := tx.Execute(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("rowstore: insert inline rows: %w", err)
	}
	return nil
}

// InsertRowMetaInline emits rowmeta_{tableID} rows with location="inline",
// deleted=false for a freshly allocated block of rowIDs.
func InsertRowMetaInline(ctx context.Context, tx catalog.Tx, dialect catalog.Dialect, tableID int64, rowIDs []int64) error {
	if len(rowIDs) == 0 {
		return nil
	}
	table := catalog.QuoteIdent(dialect, catalog.RowMetaTableName(tableID))
	rowIDCol := catalog.QuoteIdent(dialect, RowIDColumn)
	locationCol := catalog.QuoteIdent(dialect, "location")
	deletedCol := catalog.QuoteIdent(dialect, "deleted")

	valueGroups := make([]string, len(rowIDs))
	args := make([]any, 0, len(rowIDs)*3)
	pos := 0
	for i, id := range rowIDs {
		valueGroups[i] = "(" + catalog.Placeholders(dialect, pos, 3) + ")"
		pos += 3
		args = append(args, id, InlineLocation, false)
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s, %s, %s) VALUES %s", table, rowIDCol, locationCol, deletedCol, strings.Join(valueGroups, ", "))
	_, err := tx.Execute(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("rowstore: insert rowmeta rows: %w", err)
	}
	return nil
}

// SelectInlineBatch reads up to limit rows from inline_{tableID} ordered by
// row_id ascending.
func SelectInlineBatch(ctx context.Context, q Querier, dialect catalog.Dialect, tableID int64, fields []Field, limit int64) ([]int64, arrow.RecordBatch, error) {
	table := catalog.QuoteIdent(dialect, catalog.InlineTableName(tableID))
	sql := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s ASC LIMIT %d",
		selectColumns(dialect, fields), table, catalog.QuoteIdent(dialect, RowIDColumn), limit)
	return queryInline(ctx, q, sql, nil, fields)
}

// SelectInlineWhere reads inline_{tableID} rows matching a pre-translated
// WHERE fragment: whereSQL is the fragment returned by
// filter.Encoder.Encode (without the leading "WHERE"), or "" for no filter.
func SelectInlineWhere(ctx context.Context, q Querier, dialect catalog.Dialect, tableID int64, fields []Field, whereSQL string, args []any) ([]int64, arrow.RecordBatch, error) {
	table := catalog.QuoteIdent(dialect, catalog.InlineTableName(tableID))
	sql := fmt.Sprintf("SELECT %s FROM %s", selectColumns(dialect, fields), table)
	if whereSQL != "" {
		sql += " WHERE " + whereSQL
	}
	return queryInline(ctx, q, sql, args, fields)
}

// SelectInlineByRowIDs reads exactly the inline rows named by rowIDs,
// used by the index-scan path to fetch rows that are still in the inline
// tier.
func SelectInlineByRowIDs(ctx context.Context, q Querier, dialect catalog.Dialect, tableID int64, fields []Field, rowIDs []int64) ([]int64, arrow.RecordBatch, error) {
	if len(rowIDs) == 0 {
		return nil, NewRecordBuilder(fields, false).NewRecord(), nil
	}
	table := catalog.QuoteIdent(dialect, catalog.InlineTableName(tableID))
	rowIDCol := catalog.QuoteIdent(dialect, RowIDColumn)
	args := make([]any, len(rowIDs))
	for i, id := range rowIDs {
		args[i] = id
	}
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
		selectColumns(dialect, fields), table, rowIDCol, catalog.Placeholders(dialect, 0, len(rowIDs)))
	return queryInline(ctx, q, sql, args, fields)
}

func selectColumns(dialect catalog.Dialect, fields []Field) string {
	cols := make([]string, 0, len(fields)+1)
	cols = append(cols, catalog.QuoteIdent(dialect, RowIDColumn))
	for _, f := range fields {
		cols = append(cols, catalog.QuoteIdent(dialect, f.Name))
	}
	return strings.Join(cols, ", ")
}

func queryInline(ctx context.Context, q Querier, sql string, args []any, fields []Field) ([]int64, arrow.RecordBatch, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("rowstore: select inline: %w", err)
	}
	defer rows.Close()

	var rowIDs []int64
	bldr := NewRecordBuilder(fields, false)
	dest := make([]any, len(fields)+1)
	ptrs := make([]any, len(fields)+1)
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("rowstore: select inline: scan: %w", err)
		}
		rowID, ok := dest[0].(int64)
		if !ok {
			return nil, nil, fmt.Errorf("rowstore: select inline: row_id scanned as %T", dest[0])
		}
		if err := bldr.Append(dest[1:], rowID); err != nil {
			return nil, nil, err
		}
		rowIDs = append(rowIDs, rowID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("rowstore: select inline: %w", err)
	}
	return rowIDs, bldr.NewRecord(), nil
}

// CountInline returns the current row count of inline_{tableID}, used by
// the post-insert dump trigger check.
func CountInline(ctx context.Context, q Querier, dialect catalog.Dialect, tableID int64) (int64, error) {
	table := catalog.QuoteIdent(dialect, catalog.InlineTableName(tableID))
	rows, err := q.Query(ctx, "SELECT COUNT(*) FROM "+table)
	if err != nil {
		return 0, fmt.Errorf("rowstore: count inline: %w", err)
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("rowstore: count inline: scan: %w", err)
		}
	}
	return n, rows.Err()
}

// SelectRowMetaWhere reads rowmeta_{tableID} rows matching whereSQL.
func SelectRowMetaWhere(ctx context.Context, q Querier, dialect catalog.Dialect, tableID int64, whereSQL string, args []any) ([]RowMetaRow, error) {
	table := catalog.QuoteIdent(dialect, catalog.RowMetaTableName(tableID))
	sql := fmt.Sprintf("SELECT %s, %s, %s FROM %s",
		catalog.QuoteIdent(dialect, RowIDColumn), catalog.QuoteIdent(dialect, "location"), catalog.QuoteIdent(dialect, "deleted"), table)
	if whereSQL != "" {
		sql += " WHERE " + whereSQL
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("rowstore: select rowmeta: %w", err)
	}
	defer rows.Close()

	var out []RowMetaRow
	for rows.Next() {
		var r RowMetaRow
		if err := rows.Scan(&r.RowID, &r.Location, &r.Deleted); err != nil {
			return nil, fmt.Errorf("rowstore: select rowmeta: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SelectRowMetaByRowIDs is SelectRowMetaWhere specialized to a row_id IN
// (...) predicate, used throughout delete/update to re-check current
// location/deleted state for a known set of ids.
func SelectRowMetaByRowIDs(ctx context.Context, q Querier, dialect catalog.Dialect, tableID int64, rowIDs []int64) ([]RowMetaRow, error) {
	if len(rowIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(rowIDs))
	for i, id := range rowIDs {
		args[i] = id
	}
	where := fmt.Sprintf("%s IN (%s)", catalog.QuoteIdent(dialect, RowIDColumn), catalog.Placeholders(dialect, 0, len(rowIDs)))
	return SelectRowMetaWhere(ctx, q, dialect, tableID, where, args)
}

// DeleteInlineByRowIDs removes the inline copies of rowIDs.
func DeleteInlineByRowIDs(ctx context.Context, tx catalog.Tx, dialect catalog.Dialect, tableID int64, rowIDs []int64) (int64, error) {
	if len(rowIDs) == 0 {
		return 0, nil
	}
	table := catalog.QuoteIdent(dialect, catalog.InlineTableName(tableID))
	args := make([]any, len(rowIDs))
	for i, id := range rowIDs {
		args[i] = id
	}
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", table, catalog.QuoteIdent(dialect, RowIDColumn), catalog.Placeholders(dialect, 0, len(rowIDs)))
	n, err := tx.Execute(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("rowstore: delete inline rows: %w", err)
	}
	return n, nil
}

// MarkRowMetaDeleted sets deleted=true for rowIDs.
func MarkRowMetaDeleted(ctx context.Context, tx catalog.Tx, dialect catalog.Dialect, tableID int64, rowIDs []int64) (int64, error) {
	if len(rowIDs) == 0 {
		return 0, nil
	}
	table := catalog.QuoteIdent(dialect, catalog.RowMetaTableName(tableID))
	args := make([]any, 0, len(rowIDs)+1)
	args = append(args, true)
	for _, id := range rowIDs {
		args = append(args, id)
	}
	sql := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IN (%s)",
		table, catalog.QuoteIdent(dialect, "deleted"), catalog.Placeholder(dialect, 1),
		catalog.QuoteIdent(dialect, RowIDColumn), catalog.Placeholders(dialect, 1, len(rowIDs)))
	n, err := tx.Execute(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("rowstore: mark rowmeta deleted: %w", err)
	}
	return n, nil
}

// UpdateRowMetaLocation sets one row's location, used by dump to record
// each dumped row's external address. Update's "move back to inline" step
// uses UpdateRowMetaLocationsToInline instead.
func UpdateRowMetaLocation(ctx context.Context, tx catalog.Tx, dialect catalog.Dialect, tableID int64, rowID int64, location string) error {
	table := catalog.QuoteIdent(dialect, catalog.RowMetaTableName(tableID))
	sql := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s",
		table, catalog.QuoteIdent(dialect, "location"), catalog.Placeholder(dialect, 1),
		catalog.QuoteIdent(dialect, RowIDColumn), catalog.Placeholder(dialect, 2))
	_, err := tx.Execute(ctx, sql, location, rowID)
	if err != nil {
		return fmt.Errorf("rowstore: update rowmeta location: %w", err)
	}
	return nil
}

// UpdateRowMetaLocationsToInline sets location="inline" for every id in
// rowIDs in one statement.
func UpdateRowMetaLocationsToInline(ctx context.Context, tx catalog.Tx, dialect catalog.Dialect, tableID int64, rowIDs []int64) error {
	if len(rowIDs) == 0 {
		return nil
	}
	table := catalog.QuoteIdent(dialect, catalog.RowMetaTableName(tableID))
	args := make([]any, 0, len(rowIDs)+1)
	args = append(args, InlineLocation)
	for _, id := range rowIDs {
		args = append(args, id)
	}
	sql := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IN (%s)",
		table, catalog.QuoteIdent(dialect, "location"), catalog.Placeholder(dialect, 1),
		catalog.QuoteIdent(dialect, RowIDColumn), catalog.Placeholders(dialect, 1, len(rowIDs)))
	_, err := tx.Execute(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("rowstore: update rowmeta locations to inline: %w", err)
	}
	return nil
}

// UpdateInlineColumns rewrites setCols for the inline rows in rowIDs.
// vals holds one row of new values per rowID, in the same column order as
// setCols.
func UpdateInlineColumns(ctx context.Context, tx catalog.Tx, dialect catalog.Dialect, tableID int64, setCols []string, rowIDs []int64, vals [][]any) error {
	if len(rowIDs) == 0 {
		return nil
	}
	table := catalog.QuoteIdent(dialect, catalog.InlineTableName(tableID))
	assignments := make([]string, len(setCols))
	for i, c := range setCols {
		assignments[i] = catalog.QuoteIdent(dialect, c) + " = " + catalog.Placeholder(dialect, i+1)
	}
	whereClause := catalog.QuoteIdent(dialect, RowIDColumn) + " = " + catalog.Placeholder(dialect, len(setCols)+1)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(assignments, ", "), whereClause)
	for i, id := range rowIDs {
		args := append(append([]any{}, vals[i]...), id)
		if _, err := tx.Execute(ctx, sql, args...); err != nil {
			return fmt.Errorf("rowstore: update inline columns for row %d: %w", id, err)
		}
	}
	return nil
}
