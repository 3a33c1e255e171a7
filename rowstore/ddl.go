package rowstore

import (
	"fmt"
	"strings"

	"github.com/indexlake/indexlake/catalog"
)

// RowIDColumn is the internal primary-key column every per-table dynamic
// table carries. It is never exposed to scan callers unless
// explicitly projected under RowIDAlias.
const RowIDColumn = "row_id"

// RowIDAlias is the name a scan caller must project by to see row_id in
// its own output.
const RowIDAlias = "_indexlake_row_id"

// locationColumnLength bounds the VARCHAR width of rowmeta's location
// column. Namespace/table names and UUID-derived file names comfortably
// fit.
const locationColumnLength = 1024

// CreateRowMetaTableSQL returns the DDL to create rowmeta_{tableID}
func CreateRowMetaTableSQL(dialect catalog.Dialect, tableID int64) string {
	table := catalog.QuoteIdent(dialect, catalog.RowMetaTableName(tableID))
	rowID := catalog.QuoteIdent(dialect, RowIDColumn)
	location := catalog.QuoteIdent(dialect, "location")
	deleted := catalog.QuoteIdent(dialect, "deleted")
	return fmt.Sprintf(
		"CREATE TABLE %s (%s %s PRIMARY KEY, %s %s NOT NULL, %s %s NOT NULL)",
		table,
		rowID, catalog.BigIntType(dialect),
		location, catalog.VarcharType(dialect, locationColumnLength),
		deleted, catalog.BooleanType(dialect),
	)
}

// CreateInlineTableSQL returns the DDL to create inline_{tableID} with the
// user's columns plus row_id.
func CreateInlineTableSQL(dialect catalog.Dialect, tableID int64, fields []Field) (string, error) {
	table := catalog.QuoteIdent(dialect, catalog.InlineTableName(tableID))
	rowID := catalog.QuoteIdent(dialect, RowIDColumn)

	cols := make([]string, 0, len(fields)+1)
	cols = append(cols, fmt.Sprintf("%s %s PRIMARY KEY", rowID, catalog.BigIntType(dialect)))
	for _, f := range fields {
		sqlType, err := SQLType(dialect, f.Type)
		if err != nil {
			return "", err
		}
		col := catalog.QuoteIdent(dialect, f.Name) + " " + sqlType
		if !f.Nullable {
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(cols, ", ")), nil
}

// DropTablesSQL returns the DDL to drop both of a table's dynamic entities,
// used when a table definition is deleted from the catalog.
func DropTablesSQL(dialect catalog.Dialect, tableID int64) []string {
	return []string{
		"DROP TABLE " + catalog.QuoteIdent(dialect, catalog.InlineTableName(tableID)),
		"DROP TABLE " + catalog.QuoteIdent(dialect, catalog.RowMetaTableName(tableID)),
	}
}
