package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *Sqlite {
	t.Helper()
	cat, err := OpenSqlite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	ctx := context.Background()
	tx, err := cat.Transaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.ExecuteBatch(ctx, MetastoreDDL(cat.Dialect())))
	require.NoError(t, tx.Commit(ctx))
	return cat
}

func inTx(t *testing.T, cat *Sqlite, fn func(tx Tx)) {
	t.Helper()
	ctx := context.Background()
	tx, err := cat.Transaction(ctx)
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit(ctx))
}

func TestNamespaceRoundTrip(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	var id int64
	inTx(t, cat, func(tx Tx) {
		var err error
		id, err = InsertNamespace(ctx, tx, cat.Dialect(), "analytics")
		require.NoError(t, err)
	})
	require.Equal(t, int64(1), id)

	ns, ok, err := GetNamespaceByName(ctx, cat, cat.Dialect(), "analytics")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Namespace{NamespaceID: 1, Name: "analytics"}, ns)

	_, ok, err = GetNamespaceByName(ctx, cat, cat.Dialect(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTableAndFieldRoundTrip(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	dialect := cat.Dialect()

	var tableID int64
	inTx(t, cat, func(tx Tx) {
		nsID, err := InsertNamespace(ctx, tx, dialect, "ns")
		require.NoError(t, err)
		tableID, err = InsertTableDef(ctx, tx, dialect, nsID, "events", `{"inline_row_count_limit":3}`)
		require.NoError(t, err)
		_, err = InsertFields(ctx, tx, dialect, tableID, []FieldDef{
			{Name: "id", DataType: "int64", Nullable: false, MetadataJSON: "{}"},
			{Name: "name", DataType: "utf8", Nullable: true, MetadataJSON: "{}"},
		})
		require.NoError(t, err)
	})

	def, ok, err := GetTableDefByName(ctx, cat, dialect, 1, "events")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tableID, def.TableID)
	require.Contains(t, def.ConfigJSON, "inline_row_count_limit")

	fields, err := ListFields(ctx, cat, dialect, tableID)
	require.NoError(t, err)
	require.Len(t, fields, 2)
	require.Equal(t, "id", fields[0].Name)
	require.Equal(t, int64(0), fields[0].Ordinal)
	require.Equal(t, "name", fields[1].Name)
	require.True(t, fields[1].Nullable)
}

func TestIndexDefRoundTrip(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	dialect := cat.Dialect()

	var indexID int64
	inTx(t, cat, func(tx Tx) {
		var err error
		indexID, err = InsertIndexDef(ctx, tx, dialect, IndexDef{
			TableID:       5,
			Name:          "by_name",
			Kind:          "hash",
			KeyFieldNames: []string{"name"},
			ParamsJSON:    []byte(`{"column":"name"}`),
		})
		require.NoError(t, err)
	})

	defs, err := ListIndexDefs(ctx, cat, dialect, 5)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	require.Equal(t, indexID, defs[0].IndexID)
	require.Equal(t, "hash", defs[0].Kind)
	require.Equal(t, []string{"name"}, defs[0].KeyFieldNames)
	require.Empty(t, defs[0].IncludeFieldNames)
	require.JSONEq(t, `{"column":"name"}`, string(defs[0].ParamsJSON))
}

func TestDataFileAndIndexFileRoundTrip(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	dialect := cat.Dialect()

	var dataFileID, indexFileID int64
	inTx(t, cat, func(tx Tx) {
		var err error
		dataFileID, err = InsertDataFile(ctx, tx, dialect, DataFile{
			TableID:       9,
			RelativePath:  "namespace/ns/table/t/data/abc.parquet",
			FileSizeBytes: 1234,
			RecordCount:   4,
			PackedRowIDs:  []byte{1, 0, 0, 0, 0, 0, 0, 0},
		})
		require.NoError(t, err)
		indexFileID, err = InsertIndexFile(ctx, tx, dialect, IndexFile{
			IndexID:      2,
			DataFileID:   dataFileID,
			RelativePath: "namespace/ns/table/t/index/2/1.idx",
		})
		require.NoError(t, err)
	})

	files, err := ListDataFiles(ctx, cat, dialect, 9)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, dataFileID, files[0].DataFileID)
	require.Equal(t, int64(4), files[0].RecordCount)
	require.Equal(t, []byte{1, 0, 0, 0, 0, 0, 0, 0}, files[0].PackedRowIDs)

	idxFiles, err := ListIndexFiles(ctx, cat, dialect, 2)
	require.NoError(t, err)
	require.Len(t, idxFiles, 1)
	require.Equal(t, indexFileID, idxFiles[0].IndexFileID)
	require.Equal(t, dataFileID, idxFiles[0].DataFileID)
}

func TestDeleteTableMetadata(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	dialect := cat.Dialect()

	inTx(t, cat, func(tx Tx) {
		nsID, err := InsertNamespace(ctx, tx, dialect, "ns")
		require.NoError(t, err)
		tableID, err := InsertTableDef(ctx, tx, dialect, nsID, "t", "{}")
		require.NoError(t, err)
		_, err = InsertFields(ctx, tx, dialect, tableID, []FieldDef{{Name: "id", DataType: "int64", MetadataJSON: "{}"}})
		require.NoError(t, err)
		indexID, err := InsertIndexDef(ctx, tx, dialect, IndexDef{TableID: tableID, Name: "i", Kind: "hash", ParamsJSON: []byte("{}")})
		require.NoError(t, err)
		dfID, err := InsertDataFile(ctx, tx, dialect, DataFile{TableID: tableID, RelativePath: "p", PackedRowIDs: []byte{}})
		require.NoError(t, err)
		_, err = InsertIndexFile(ctx, tx, dialect, IndexFile{IndexID: indexID, DataFileID: dfID, RelativePath: "q"})
		require.NoError(t, err)
	})

	inTx(t, cat, func(tx Tx) {
		require.NoError(t, DeleteTableMetadata(ctx, tx, dialect, 1))
	})

	_, ok, err := GetTableDefByName(ctx, cat, dialect, 1, "t")
	require.NoError(t, err)
	require.False(t, ok)
	fields, err := ListFields(ctx, cat, dialect, 1)
	require.NoError(t, err)
	require.Empty(t, fields)
	defs, err := ListIndexDefs(ctx, cat, dialect, 1)
	require.NoError(t, err)
	require.Empty(t, defs)
	dataFiles, err := ListDataFiles(ctx, cat, dialect, 1)
	require.NoError(t, err)
	require.Empty(t, dataFiles)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	tx, err := cat.Transaction(ctx)
	require.NoError(t, err)
	_, err = InsertNamespace(ctx, tx, cat.Dialect(), "ghost")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
	// Rollback is idempotent.
	require.NoError(t, tx.Rollback(ctx))

	_, ok, err := GetNamespaceByName(ctx, cat, cat.Dialect(), "ghost")
	require.NoError(t, err)
	require.False(t, ok)
}
