package hashindex

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/indexlake/indexlake/blob"
	"github.com/indexlake/indexlake/filter"
	"github.com/indexlake/indexlake/index"
	"github.com/indexlake/indexlake/rowstore"
)

func testDef() index.Definition {
	return index.Definition{IndexID: 1, TableID: 1, Name: "by_name", Kind: Kind, KeyFieldNames: []string{"name"}}
}

func testSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
}

func builderBatch(t *testing.T, ids []int64, names []string, rowIDs []int64) arrow.RecordBatch {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: rowstore.RowIDColumn, Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	bldr := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer bldr.Release()
	bldr.Field(0).(*array.Int64Builder).AppendValues(ids, nil)
	bldr.Field(1).(*array.StringBuilder).AppendValues(names, nil)
	bldr.Field(2).(*array.Int64Builder).AppendValues(rowIDs, nil)
	rec := bldr.NewRecordBatch()
	t.Cleanup(rec.Release)
	return rec
}

func buildArtifact(t *testing.T, store blob.Store, path string, batches ...arrow.RecordBatch) {
	t.Helper()
	ctx := context.Background()
	impl := New()
	params, err := impl.DecodeParams(json.RawMessage(`{"column":"name"}`))
	require.NoError(t, err)
	b, err := impl.Builder(testDef(), params)
	require.NoError(t, err)
	for _, batch := range batches {
		require.NoError(t, b.Update(ctx, batch))
	}
	w, err := store.Create(ctx, path)
	require.NoError(t, err)
	require.NoError(t, b.Write(ctx, w))
	require.NoError(t, w.Finalize(ctx))
}

func TestDecodeParams(t *testing.T) {
	impl := New()
	params, err := impl.DecodeParams(json.RawMessage(`{"column":"name"}`))
	require.NoError(t, err)
	require.Equal(t, Params{Column: "name"}, params)

	_, err = impl.DecodeParams(json.RawMessage(`{}`))
	require.Error(t, err)
	_, err = impl.DecodeParams(json.RawMessage(`{bad`))
	require.Error(t, err)
}

func TestSupports(t *testing.T) {
	impl := New()
	require.NoError(t, impl.Supports(testDef(), testSchema(), Params{Column: "name"}))
	require.Error(t, impl.Supports(testDef(), testSchema(), Params{Column: "missing"}))
}

func TestSupportsFilter(t *testing.T) {
	impl := New()
	params := Params{Column: "name"}

	require.True(t, impl.SupportsFilter(testDef(), params,
		&filter.Comparison{Op: filter.OpEqual, Left: &filter.Column{Name: "name"}, Right: &filter.Literal{Value: "a"}}))
	require.True(t, impl.SupportsFilter(testDef(), params,
		&filter.In{Column: &filter.Column{Name: "name"}, Values: []any{"a"}}))

	// Wrong column, wrong operator, wrong shape.
	require.False(t, impl.SupportsFilter(testDef(), params,
		&filter.Comparison{Op: filter.OpEqual, Left: &filter.Column{Name: "id"}, Right: &filter.Literal{Value: int64(1)}}))
	require.False(t, impl.SupportsFilter(testDef(), params,
		&filter.Comparison{Op: filter.OpGreaterThan, Left: &filter.Column{Name: "name"}, Right: &filter.Literal{Value: "a"}}))
	require.False(t, impl.SupportsFilter(testDef(), params,
		&filter.IsNull{Column: &filter.Column{Name: "name"}}))
}

func TestFilterAcrossFiles(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()

	buildArtifact(t, store, "idx/1.idx", builderBatch(t, []int64{10, 20, 30}, []string{"a", "b", "a"}, []int64{1, 2, 3}))
	buildArtifact(t, store, "idx/2.idx", builderBatch(t, []int64{40, 50}, []string{"a", "c"}, []int64{4, 5}))

	impl := New()
	params, err := impl.DecodeParams(json.RawMessage(`{"column":"name"}`))
	require.NoError(t, err)
	files := []index.File{
		{IndexFileID: 1, DataFileID: 1, RelativePath: "idx/1.idx"},
		{IndexFileID: 2, DataFileID: 2, RelativePath: "idx/2.idx"},
	}
	open := func(ctx context.Context, f index.File) (blob.Reader, error) { return store.Open(ctx, f.RelativePath) }

	ids, err := impl.Filter(ctx, testDef(), params, files, open,
		&filter.Comparison{Op: filter.OpEqual, Left: &filter.Column{Name: "name"}, Right: &filter.Literal{Value: "a"}})
	require.NoError(t, err)
	require.Equal(t, index.RowIDs{1, 3, 4}, ids)

	ids, err = impl.Filter(ctx, testDef(), params, files, open,
		&filter.In{Column: &filter.Column{Name: "name"}, Values: []any{"b", "c"}})
	require.NoError(t, err)
	require.Equal(t, index.RowIDs{2, 5}, ids)

	ids, err = impl.Filter(ctx, testDef(), params, files, open,
		&filter.Comparison{Op: filter.OpEqual, Left: &filter.Column{Name: "name"}, Right: &filter.Literal{Value: "zzz"}})
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestBuilderSkipsNulls(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: rowstore.RowIDColumn, Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	bldr := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer bldr.Release()
	nb := bldr.Field(0).(*array.StringBuilder)
	nb.Append("a")
	nb.AppendNull()
	bldr.Field(1).(*array.Int64Builder).AppendValues([]int64{1, 2}, nil)
	rec := bldr.NewRecordBatch()
	defer rec.Release()

	buildArtifact(t, store, "idx/n.idx", rec)

	impl := New()
	params, _ := impl.DecodeParams(json.RawMessage(`{"column":"name"}`))
	files := []index.File{{RelativePath: "idx/n.idx"}}
	open := func(ctx context.Context, f index.File) (blob.Reader, error) { return store.Open(ctx, f.RelativePath) }

	ids, err := impl.Filter(ctx, testDef(), params, files, open,
		&filter.Comparison{Op: filter.OpEqual, Left: &filter.Column{Name: "name"}, Right: &filter.Literal{Value: "a"}})
	require.NoError(t, err)
	require.Equal(t, index.RowIDs{1}, ids)
}

func TestSearchNotSupported(t *testing.T) {
	impl := New()
	_, err := impl.Search(context.Background(), testDef(), Params{Column: "name"}, nil, nil, "q", 5)
	require.ErrorIs(t, err, index.ErrSearchNotSupported)
}
