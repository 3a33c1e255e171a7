package rowstore

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/require"

	"github.com/indexlake/indexlake/catalog"
)

func TestCreateRowMetaTableSQL(t *testing.T) {
	sql := CreateRowMetaTableSQL(catalog.DialectSQLite, 7)
	require.Contains(t, sql, `"rowmeta_7"`)
	require.Contains(t, sql, `"row_id" BIGINT PRIMARY KEY`)
	require.Contains(t, sql, `"location" TEXT NOT NULL`)
	require.Contains(t, sql, `"deleted" BOOLEAN NOT NULL`)

	pg := CreateRowMetaTableSQL(catalog.DialectPostgres, 7)
	require.Contains(t, pg, "VARCHAR(1024)")
}

func TestCreateInlineTableSQL(t *testing.T) {
	fields := []Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	}
	sql, err := CreateInlineTableSQL(catalog.DialectSQLite, 7, fields)
	require.NoError(t, err)
	require.Contains(t, sql, `"inline_7"`)
	require.Contains(t, sql, `"row_id" BIGINT PRIMARY KEY`)
	require.Contains(t, sql, `"id" BIGINT NOT NULL`)
	require.Contains(t, sql, `"name" TEXT`)
	require.NotContains(t, sql, `"name" TEXT NOT NULL`)
}

func TestCreateInlineTableSQLUnsupportedType(t *testing.T) {
	fields := []Field{{Name: "vals", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)}}
	_, err := CreateInlineTableSQL(catalog.DialectSQLite, 7, fields)
	require.Error(t, err)
}

func TestDropTablesSQL(t *testing.T) {
	stmts := DropTablesSQL(catalog.DialectSQLite, 7)
	require.Len(t, stmts, 2)
	require.Contains(t, stmts[0], "inline_7")
	require.Contains(t, stmts[1], "rowmeta_7")
}
