package engine_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/indexlake/indexlake/blob"
	"github.com/indexlake/indexlake/catalog"
	"github.com/indexlake/indexlake/columnar"
	"github.com/indexlake/indexlake/dump"
	"github.com/indexlake/indexlake/engine"
	"github.com/indexlake/indexlake/filter"
	"github.com/indexlake/indexlake/index"
	"github.com/indexlake/indexlake/internal/txn"
	"github.com/indexlake/indexlake/rowstore"
)

var testFields = []rowstore.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
}

// newTestTable materializes the per-table dynamic tables on an embedded
// catalog and returns a DML-ready handle over an in-memory blob store.
func newTestTable(t *testing.T) *engine.Table {
	t.Helper()
	ctx := context.Background()

	cat, err := catalog.OpenSqlite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	inlineDDL, err := rowstore.CreateInlineTableSQL(cat.Dialect(), 1, testFields)
	require.NoError(t, err)
	require.NoError(t, txn.Run(ctx, cat, func(tx catalog.Tx) error {
		return tx.ExecuteBatch(ctx, []string{
			rowstore.CreateRowMetaTableSQL(cat.Dialect(), 1),
			inlineDDL,
		})
	}))

	store := blob.NewMemoryStore()
	backend := &columnar.ParquetBackend{Store: store}
	return &engine.Table{
		Cat:                 cat,
		Store:               store,
		TableID:             1,
		Namespace:           "ns",
		Name:                "events",
		Fields:              testFields,
		InlineRowCountLimit: 3,
		DumpBatchRowCount:   1024,
		OpenColumnar:        backend.OpenReader,
		NewColumnar:         backend.NewWriter,
	}
}

func buildBatch(t *testing.T, ids []int64, names []string) arrow.RecordBatch {
	t.Helper()
	bldr := array.NewRecordBuilder(memory.DefaultAllocator, rowstore.Schema(testFields))
	defer bldr.Release()
	bldr.Field(0).(*array.Int64Builder).AppendValues(ids, nil)
	bldr.Field(1).(*array.StringBuilder).AppendValues(names, nil)
	rec := bldr.NewRecordBatch()
	t.Cleanup(rec.Release)
	return rec
}

// collectRows drains a scan into (id -> name) plus a total row count, so
// assertions don't depend on batch interleaving.
func collectRows(t *testing.T, rr array.RecordReader) (map[int64]string, int64) {
	t.Helper()
	defer rr.Release()
	out := map[int64]string{}
	var total int64
	for rr.Next() {
		rec := rr.RecordBatch()
		ids := rec.Column(0).(*array.Int64)
		names := rec.Column(1).(*array.String)
		for row := 0; row < int(rec.NumRows()); row++ {
			out[ids.Value(row)] = names.Value(row)
		}
		total += rec.NumRows()
	}
	require.NoError(t, rr.Err())
	return out, total
}

func scanAll(t *testing.T, tbl *engine.Table) (map[int64]string, int64) {
	t.Helper()
	rr, err := tbl.Scan(context.Background(), nil, nil, 0)
	require.NoError(t, err)
	return collectRows(t, rr)
}

func eq(col string, v any) filter.Expression {
	return &filter.Comparison{Op: filter.OpEqual, Left: &filter.Column{Name: col}, Right: &filter.Literal{Value: v}}
}

func TestInsertScanBasic(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()

	require.NoError(t, tbl.Insert(ctx, buildBatch(t, []int64{10, 20}, []string{"a", "b"})))

	rows, total := scanAll(t, tbl)
	require.Equal(t, int64(2), total)
	require.Equal(t, map[int64]string{10: "a", 20: "b"}, rows)

	meta, err := rowstore.SelectRowMetaWhere(ctx, tbl.Cat, tbl.Cat.Dialect(), tbl.TableID, "", nil)
	require.NoError(t, err)
	require.Len(t, meta, 2)
	for _, m := range meta {
		require.Equal(t, rowstore.InlineLocation, m.Location)
		require.False(t, m.Deleted)
	}
}

func TestInsertRejectsSchemaMismatch(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()

	wrong := arrow.NewSchema([]arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int64}}, nil)
	bldr := array.NewRecordBuilder(memory.DefaultAllocator, wrong)
	defer bldr.Release()
	bldr.Field(0).(*array.Int64Builder).Append(1)
	rec := bldr.NewRecordBatch()
	defer rec.Release()

	require.Error(t, tbl.Insert(ctx, rec))

	_, total := scanAll(t, tbl)
	require.Zero(t, total)
}

func TestInsertAllocatesContiguousRowIDs(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()

	require.NoError(t, tbl.Insert(ctx, buildBatch(t, []int64{10, 20}, []string{"a", "b"})))
	require.NoError(t, tbl.Insert(ctx, buildBatch(t, []int64{30}, []string{"c"})))

	rr, err := tbl.Scan(ctx, []string{rowstore.RowIDAlias, "id"}, nil, 0)
	require.NoError(t, err)
	defer rr.Release()

	got := map[int64]int64{}
	for rr.Next() {
		rec := rr.RecordBatch()
		rowIDs := rec.Column(0).(*array.Int64)
		ids := rec.Column(1).(*array.Int64)
		for row := 0; row < int(rec.NumRows()); row++ {
			got[ids.Value(row)] = rowIDs.Value(row)
		}
	}
	require.NoError(t, rr.Err())
	require.Equal(t, map[int64]int64{10: 1, 20: 2, 30: 3}, got)
}

func TestInsertTriggersDumpAboveLimit(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()

	var enqueued []int64
	tbl.Dumper = func(_ context.Context, tableID int64) { enqueued = append(enqueued, tableID) }

	// Exactly at the limit: no trigger.
	require.NoError(t, tbl.Insert(ctx, buildBatch(t, []int64{1, 2, 3}, []string{"a", "b", "c"})))
	require.Empty(t, enqueued)

	// One more crosses it.
	require.NoError(t, tbl.Insert(ctx, buildBatch(t, []int64{4}, []string{"d"})))
	require.Equal(t, []int64{1}, enqueued)
}

func TestScanEmptyTable(t *testing.T) {
	tbl := newTestTable(t)
	rows, total := scanAll(t, tbl)
	require.Zero(t, total)
	require.Empty(t, rows)
}

func TestScanFilterPushdownAndLimit(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()
	require.NoError(t, tbl.Insert(ctx, buildBatch(t, []int64{1, 2, 3, 4, 5}, []string{"a", "b", "c", "d", "e"})))

	rr, err := tbl.Scan(ctx, nil, &filter.Comparison{
		Op: filter.OpGreaterThan, Left: &filter.Column{Name: "id"}, Right: &filter.Literal{Value: int64(2)},
	}, 0)
	require.NoError(t, err)
	rows, total := collectRows(t, rr)
	require.Equal(t, int64(3), total)
	require.Equal(t, map[int64]string{3: "c", 4: "d", 5: "e"}, rows)

	rr, err = tbl.Scan(ctx, nil, nil, 2)
	require.NoError(t, err)
	_, total = collectRows(t, rr)
	require.Equal(t, int64(2), total)
}

func TestScanProjection(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()
	require.NoError(t, tbl.Insert(ctx, buildBatch(t, []int64{1}, []string{"a"})))

	rr, err := tbl.Scan(ctx, []string{"name"}, nil, 0)
	require.NoError(t, err)
	defer rr.Release()
	require.True(t, rr.Next())
	rec := rr.RecordBatch()
	require.Equal(t, int64(1), rec.NumCols())
	require.Equal(t, "name", rec.Schema().Field(0).Name)

	// row_id stays internal unless explicitly projected by its alias.
	_, err = tbl.Scan(ctx, []string{"row_id"}, nil, 0)
	require.Error(t, err)
}

func TestDeleteFastPathByRowID(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()
	require.NoError(t, tbl.Insert(ctx, buildBatch(t, []int64{10, 20, 30}, []string{"a", "b", "c"})))

	n, err := tbl.Delete(ctx, &filter.In{Column: &filter.Column{Name: rowstore.RowIDAlias}, Values: []any{int64(1), int64(3)}})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	rows, total := scanAll(t, tbl)
	require.Equal(t, int64(1), total)
	require.Equal(t, map[int64]string{20: "b"}, rows)
}

func TestDeleteByUserColumn(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()
	require.NoError(t, tbl.Insert(ctx, buildBatch(t, []int64{10, 20}, []string{"a", "b"})))

	n, err := tbl.Delete(ctx, eq("id", int64(10)))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	rows, _ := scanAll(t, tbl)
	require.Equal(t, map[int64]string{20: "b"}, rows)

	// Deleting again matches nothing.
	n, err = tbl.Delete(ctx, eq("id", int64(10)))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestUpdateInlineRows(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()
	require.NoError(t, tbl.Insert(ctx, buildBatch(t, []int64{10, 20}, []string{"a", "b"})))

	n, err := tbl.Update(ctx, eq("id", int64(20)), map[string]any{"name": "B"})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	rows, _ := scanAll(t, tbl)
	require.Equal(t, map[int64]string{10: "a", 20: "B"}, rows)
}

func TestUpdateUnknownColumn(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()
	require.NoError(t, tbl.Insert(ctx, buildBatch(t, []int64{10}, []string{"a"})))

	_, err := tbl.Update(ctx, eq("id", int64(10)), map[string]any{"nope": "x"})
	require.Error(t, err)
}

func TestScanExternalTierAfterDump(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()
	require.NoError(t, tbl.Insert(ctx, buildBatch(t, []int64{1, 2, 3, 4}, []string{"a", "b", "c", "d"})))

	res, err := dump.Run(ctx, tbl)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, []int64{1, 2, 3, 4}, res.RowIDs)

	// Inline tier is drained; everything now reads from the data file.
	count, err := rowstore.CountInline(ctx, tbl.Cat, tbl.Cat.Dialect(), tbl.TableID)
	require.NoError(t, err)
	require.Zero(t, count)

	rows, total := scanAll(t, tbl)
	require.Equal(t, int64(4), total)
	require.Equal(t, map[int64]string{1: "a", 2: "b", 3: "c", 4: "d"}, rows)

	// Filters over external rows are applied in memory after the
	// address-gather read.
	rr, err := tbl.Scan(ctx, nil, eq("name", "c"), 0)
	require.NoError(t, err)
	rows, _ = collectRows(t, rr)
	require.Equal(t, map[int64]string{3: "c"}, rows)
}

func TestDeleteExternalRowIsSoft(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()
	require.NoError(t, tbl.Insert(ctx, buildBatch(t, []int64{1, 2, 3, 4}, []string{"a", "b", "c", "d"})))
	res, err := dump.Run(ctx, tbl)
	require.NoError(t, err)

	n, err := tbl.Delete(ctx, eq("id", int64(2)))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	rows, total := scanAll(t, tbl)
	require.Equal(t, int64(3), total)
	require.NotContains(t, rows, int64(2))

	// The parquet file still holds the deleted row's bytes; only rowmeta
	// changed.
	ok, err := tbl.Store.Exists(ctx, res.RelativePath)
	require.NoError(t, err)
	require.True(t, ok)

	meta, err := rowstore.SelectRowMetaByRowIDs(ctx, tbl.Cat, tbl.Cat.Dialect(), tbl.TableID, []int64{2})
	require.NoError(t, err)
	require.Len(t, meta, 1)
	require.True(t, meta[0].Deleted)
	require.NotEqual(t, rowstore.InlineLocation, meta[0].Location)
}

func TestUpdateMovesExternalRowBackInline(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()
	require.NoError(t, tbl.Insert(ctx, buildBatch(t, []int64{1, 2, 3, 4}, []string{"a", "b", "c", "d"})))
	_, err := dump.Run(ctx, tbl)
	require.NoError(t, err)

	n, err := tbl.Update(ctx, eq("id", int64(2)), map[string]any{"name": "B"})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	meta, err := rowstore.SelectRowMetaByRowIDs(ctx, tbl.Cat, tbl.Cat.Dialect(), tbl.TableID, []int64{2})
	require.NoError(t, err)
	require.Len(t, meta, 1)
	require.Equal(t, rowstore.InlineLocation, meta[0].Location)
	require.False(t, meta[0].Deleted)

	count, err := rowstore.CountInline(ctx, tbl.Cat, tbl.Cat.Dialect(), tbl.TableID)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	rows, total := scanAll(t, tbl)
	require.Equal(t, int64(4), total)
	require.Equal(t, map[int64]string{1: "a", 2: "B", 3: "c", 4: "d"}, rows)
}

func TestUpdatePreservesRowIDs(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()
	require.NoError(t, tbl.Insert(ctx, buildBatch(t, []int64{1, 2, 3, 4}, []string{"a", "b", "c", "d"})))
	_, err := dump.Run(ctx, tbl)
	require.NoError(t, err)

	_, err = tbl.Update(ctx, eq("id", int64(2)), map[string]any{"name": "B"})
	require.NoError(t, err)

	rr, err := tbl.Scan(ctx, []string{rowstore.RowIDAlias, "id"}, eq("id", int64(2)), 0)
	require.NoError(t, err)
	defer rr.Release()
	require.True(t, rr.Next())
	rec := rr.RecordBatch()
	require.Equal(t, int64(1), rec.NumRows())
	// Row 2 was the second row inserted, so its original row_id is 2.
	require.Equal(t, int64(2), rec.Column(0).(*array.Int64).Value(0))
}

func TestScanMixedTiers(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()
	require.NoError(t, tbl.Insert(ctx, buildBatch(t, []int64{1, 2}, []string{"a", "b"})))
	_, err := dump.Run(ctx, tbl)
	require.NoError(t, err)
	require.NoError(t, tbl.Insert(ctx, buildBatch(t, []int64{3, 4}, []string{"c", "d"})))

	rows, total := scanAll(t, tbl)
	require.Equal(t, int64(4), total)
	require.Equal(t, map[int64]string{1: "a", 2: "b", 3: "c", 4: "d"}, rows)
}

// oddIDIndex is a minimal pluggable index that never claims a filter for
// acceleration but can evaluate its "odd_id" extension predicate in
// memory, exercising the residual fallback path for grammar the SQL
// encoder cannot translate.
type oddIDIndex struct{}

func (oddIDIndex) Kind() string                                             { return "odd_id_test" }
func (oddIDIndex) DecodeParams(raw json.RawMessage) (any, error)            { return nil, nil }
func (oddIDIndex) Supports(index.Definition, *arrow.Schema, any) error      { return nil }
func (oddIDIndex) Builder(index.Definition, any) (index.Builder, error)     { return nil, nil }
func (oddIDIndex) SupportsFilter(index.Definition, any, filter.Expression) bool { return false }

func (oddIDIndex) Filter(context.Context, index.Definition, any, []index.File, index.OpenArtifact, filter.Expression) (index.RowIDs, error) {
	return nil, nil
}

func (oddIDIndex) Search(context.Context, index.Definition, any, []index.File, index.OpenArtifact, any, int) (index.RowIDs, error) {
	return nil, index.ErrSearchNotSupported
}

func (oddIDIndex) EvalExtension(name string, args []any, rec arrow.RecordBatch, row int) (bool, error) {
	if name != "odd_id" {
		return false, index.ErrUnknownExtension
	}
	col := args[0].(*filter.Column)
	for i := 0; i < int(rec.NumCols()); i++ {
		if rec.Schema().Field(i).Name == col.Name {
			return rec.Column(i).(*array.Int64).Value(row)%2 == 1, nil
		}
	}
	return false, nil
}

func TestScanUnsupportedGrammarFallsBackInMemory(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()
	require.NoError(t, tbl.Insert(ctx, buildBatch(t, []int64{1, 2, 3}, []string{"a", "b", "c"})))

	tbl.Indices = []engine.IndexBinding{{
		Def:  index.Definition{IndexID: 1, TableID: tbl.TableID, Name: "odd", Kind: "odd_id_test"},
		Impl: oddIDIndex{},
	}}

	// The extension conjunct is untranslatable to SQL and unclaimed by
	// any index's SupportsFilter, so it must be re-checked in memory.
	pred := &filter.And{Children: []filter.Expression{
		&filter.Comparison{Op: filter.OpGreaterThan, Left: &filter.Column{Name: "id"}, Right: &filter.Literal{Value: int64(1)}},
		&filter.Extension{Name: "odd_id", Args: []any{&filter.Column{Name: "id"}}},
	}}
	rr, err := tbl.Scan(ctx, nil, pred, 0)
	require.NoError(t, err)
	rows, _ := collectRows(t, rr)
	require.Equal(t, map[int64]string{3: "c"}, rows)
}
