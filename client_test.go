package indexlake

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/stretchr/testify/require"

	"github.com/indexlake/indexlake/blob"
	"github.com/indexlake/indexlake/catalog"
	"github.com/indexlake/indexlake/filter"
	"github.com/indexlake/indexlake/index"
	"github.com/indexlake/indexlake/index/hashindex"
	"github.com/indexlake/indexlake/index/spatial"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	cat, err := catalog.OpenSqlite(":memory:")
	require.NoError(t, err)

	reg, err := index.NewRegistryBuilder().
		Register(hashindex.New()).
		Register(spatial.New()).
		Build()
	require.NoError(t, err)

	client, err := NewClient(context.Background(), Config{
		Catalog:  cat,
		Store:    blob.NewMemoryStore(),
		Registry: reg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func eventsSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
}

func eventsBatch(t *testing.T, ids []int64, names []string) arrow.RecordBatch {
	t.Helper()
	bldr := array.NewRecordBuilder(memory.DefaultAllocator, eventsSchema())
	defer bldr.Release()
	bldr.Field(0).(*array.Int64Builder).AppendValues(ids, nil)
	bldr.Field(1).(*array.StringBuilder).AppendValues(names, nil)
	rec := bldr.NewRecordBatch()
	t.Cleanup(rec.Release)
	return rec
}

func newEventsTable(t *testing.T, client *Client) *Table {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, client.CreateNamespace(ctx, "ns"))
	tbl, err := client.CreateTable(ctx, "ns", "events", eventsSchema(), TableConfig{InlineRowCountLimit: 3})
	require.NoError(t, err)
	return tbl
}

func collect(t *testing.T, rr array.RecordReader) map[int64]string {
	t.Helper()
	defer rr.Release()
	out := map[int64]string{}
	for rr.Next() {
		rec := rr.RecordBatch()
		ids := rec.Column(0).(*array.Int64)
		names := rec.Column(1).(*array.String)
		for row := 0; row < int(rec.NumRows()); row++ {
			out[ids.Value(row)] = names.Value(row)
		}
	}
	require.NoError(t, rr.Err())
	return out
}

func eq(col string, v any) filter.Expression {
	return &filter.Comparison{Op: filter.OpEqual, Left: &filter.Column{Name: col}, Right: &filter.Literal{Value: v}}
}

func TestClientCreateInsertScan(t *testing.T) {
	client := newTestClient(t)
	tbl := newEventsTable(t, client)
	ctx := context.Background()

	require.NoError(t, tbl.Insert(ctx, eventsBatch(t, []int64{10, 20}, []string{"a", "b"})))

	rr, err := tbl.Scan(ctx, nil, nil, 0)
	require.NoError(t, err)
	require.Equal(t, map[int64]string{10: "a", 20: "b"}, collect(t, rr))
}

func TestClientOpenTableRoundTrip(t *testing.T) {
	client := newTestClient(t)
	tbl := newEventsTable(t, client)
	ctx := context.Background()
	require.NoError(t, tbl.Insert(ctx, eventsBatch(t, []int64{1}, []string{"a"})))

	reopened, err := client.OpenTable(ctx, "ns", "events")
	require.NoError(t, err)
	require.Equal(t, tbl.TableID(), reopened.TableID())
	require.True(t, eventsSchema().Equal(reopened.Schema()))
	require.Equal(t, int64(3), reopened.Config().InlineRowCountLimit)
	require.Equal(t, int64(DefaultDumpBatchRowCount), reopened.Config().DumpBatchRowCount)

	rr, err := reopened.Scan(ctx, nil, nil, 0)
	require.NoError(t, err)
	require.Equal(t, map[int64]string{1: "a"}, collect(t, rr))

	_, err = client.OpenTable(ctx, "ns", "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = client.OpenTable(ctx, "nope", "events")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClientRejectsReservedColumnNames(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.CreateNamespace(ctx, "ns"))

	schema := arrow.NewSchema([]arrow.Field{{Name: "row_id", Type: arrow.PrimitiveTypes.Int64}}, nil)
	_, err := client.CreateTable(ctx, "ns", "bad", schema, DefaultTableConfig())
	var invalid *InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
}

func TestBackgroundDumpAfterThreshold(t *testing.T) {
	client := newTestClient(t)
	tbl := newEventsTable(t, client)
	ctx := context.Background()

	// 4 rows > limit of 3: the insert enqueues a background dump.
	require.NoError(t, tbl.Insert(ctx, eventsBatch(t, []int64{1, 2, 3, 4}, []string{"a", "b", "c", "d"})))
	client.scheduler.Wait()

	// Everything migrated: an explicit dump now finds nothing inline.
	res, err := tbl.Dump(ctx)
	require.NoError(t, err)
	require.Nil(t, res)

	rr, err := tbl.Scan(ctx, nil, nil, 0)
	require.NoError(t, err)
	require.Equal(t, map[int64]string{1: "a", 2: "b", 3: "c", 4: "d"}, collect(t, rr))
}

func TestDeleteAndUpdateAcrossTiers(t *testing.T) {
	client := newTestClient(t)
	tbl := newEventsTable(t, client)
	ctx := context.Background()

	require.NoError(t, tbl.Insert(ctx, eventsBatch(t, []int64{1, 2, 3}, []string{"a", "b", "c"})))
	res, err := tbl.Dump(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)

	n, err := tbl.Delete(ctx, eq("id", int64(1)))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = tbl.Update(ctx, eq("id", int64(2)), map[string]any{"name": "B"})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	rr, err := tbl.Scan(ctx, nil, nil, 0)
	require.NoError(t, err)
	require.Equal(t, map[int64]string{2: "B", 3: "c"}, collect(t, rr))
}

func TestHashIndexAcceleratedScan(t *testing.T) {
	client := newTestClient(t)
	tbl := newEventsTable(t, client)
	ctx := context.Background()

	// Data file exists before the index: creation must backfill it.
	require.NoError(t, tbl.Insert(ctx, eventsBatch(t, []int64{1, 2, 3}, []string{"a", "b", "a"})))
	_, err := tbl.Dump(ctx)
	require.NoError(t, err)

	require.NoError(t, tbl.CreateIndex(ctx, "by_name", hashindex.Kind, []string{"name"}, json.RawMessage(`{"column":"name"}`)))

	rr, err := tbl.Scan(ctx, nil, eq("name", "a"), 0)
	require.NoError(t, err)
	require.Equal(t, map[int64]string{1: "a", 3: "a"}, collect(t, rr))

	// A second dump builds the next artifact automatically.
	require.NoError(t, tbl.Insert(ctx, eventsBatch(t, []int64{4, 5}, []string{"a", "b"})))
	_, err = tbl.Dump(ctx)
	require.NoError(t, err)

	rr, err = tbl.Scan(ctx, nil, eq("name", "a"), 0)
	require.NoError(t, err)
	require.Equal(t, map[int64]string{1: "a", 3: "a", 4: "a"}, collect(t, rr))
}

func TestIndexScanIncludesFreshInlineRows(t *testing.T) {
	client := newTestClient(t)
	tbl := newEventsTable(t, client)
	ctx := context.Background()

	require.NoError(t, tbl.Insert(ctx, eventsBatch(t, []int64{1, 2}, []string{"a", "b"})))
	_, err := tbl.Dump(ctx)
	require.NoError(t, err)
	require.NoError(t, tbl.CreateIndex(ctx, "by_name", hashindex.Kind, []string{"name"}, json.RawMessage(`{"column":"name"}`)))

	// Inline rows inserted after the artifact was built still show up.
	require.NoError(t, tbl.Insert(ctx, eventsBatch(t, []int64{3}, []string{"a"})))

	rr, err := tbl.Scan(ctx, nil, eq("name", "a"), 0)
	require.NoError(t, err)
	require.Equal(t, map[int64]string{1: "a", 3: "a"}, collect(t, rr))
}

func TestCreateIndexValidation(t *testing.T) {
	client := newTestClient(t)
	tbl := newEventsTable(t, client)
	ctx := context.Background()

	err := tbl.CreateIndex(ctx, "x", "nope", nil, json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrNotFound)

	err = tbl.CreateIndex(ctx, "x", hashindex.Kind, []string{"missing"}, json.RawMessage(`{"column":"missing"}`))
	var idxErr *IndexError
	require.ErrorAs(t, err, &idxErr)
}

func TestSpatialIndexScenario(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.CreateNamespace(ctx, "geo"))

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "geom", Type: arrow.BinaryTypes.Binary, Nullable: true},
	}, nil)
	tbl, err := client.CreateTable(ctx, "geo", "places", schema, TableConfig{InlineRowCountLimit: 100})
	require.NoError(t, err)

	points := []orb.Point{{0.5, 0.5}, {5, 5}, {0.9, 0.1}}
	bldr := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer bldr.Release()
	bldr.Field(0).(*array.Int64Builder).AppendValues([]int64{1, 2, 3}, nil)
	gb := bldr.Field(1).(*array.BinaryBuilder)
	for _, p := range points {
		buf, err := wkb.Marshal(p)
		require.NoError(t, err)
		gb.Append(buf)
	}
	rec := bldr.NewRecordBatch()
	defer rec.Release()
	require.NoError(t, tbl.Insert(ctx, rec))

	_, err = tbl.Dump(ctx)
	require.NoError(t, err)
	require.NoError(t, tbl.CreateIndex(ctx, "by_geom", spatial.Kind, []string{"geom"}, json.RawMessage(`{"column":"geom"}`)))

	bbox := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}
	pred := &filter.Extension{Name: spatial.ExtensionName, Args: []any{&filter.Column{Name: "geom"}, bbox}}
	rr, err := tbl.Scan(ctx, []string{"id"}, pred, 0)
	require.NoError(t, err)
	defer rr.Release()

	var got []int64
	for rr.Next() {
		b := rr.RecordBatch()
		ids := b.Column(0).(*array.Int64)
		for row := 0; row < int(b.NumRows()); row++ {
			got = append(got, ids.Value(row))
		}
	}
	require.NoError(t, rr.Err())
	require.ElementsMatch(t, []int64{1, 3}, got)
}

func TestDropTable(t *testing.T) {
	client := newTestClient(t)
	tbl := newEventsTable(t, client)
	ctx := context.Background()

	require.NoError(t, tbl.Insert(ctx, eventsBatch(t, []int64{1, 2, 3}, []string{"a", "b", "c"})))
	res, err := tbl.Dump(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)

	require.NoError(t, client.DropTable(ctx, "ns", "events"))

	_, err = client.OpenTable(ctx, "ns", "events")
	require.ErrorIs(t, err, ErrNotFound)
	ok, err := client.store.Exists(ctx, res.RelativePath)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTableConfigDefaultsAndTOML(t *testing.T) {
	cfg := TableConfig{}.withDefaults()
	require.Equal(t, int64(DefaultInlineRowCountLimit), cfg.InlineRowCountLimit)
	require.Equal(t, int64(DefaultDumpBatchRowCount), cfg.DumpBatchRowCount)

	encoded, err := TableConfig{InlineRowCountLimit: 7, DumpBatchRowCount: 9}.encode()
	require.NoError(t, err)
	decoded, err := decodeTableConfig(encoded)
	require.NoError(t, err)
	require.Equal(t, int64(7), decoded.InlineRowCountLimit)
	require.Equal(t, int64(9), decoded.DumpBatchRowCount)

	path := filepath.Join(t.TempDir(), "table.toml")
	require.NoError(t, os.WriteFile(path, []byte("inline_row_count_limit = 5\n"), 0o644))
	fromFile, err := LoadTableConfig(path)
	require.NoError(t, err)
	require.Equal(t, int64(5), fromFile.InlineRowCountLimit)
	require.Equal(t, int64(DefaultDumpBatchRowCount), fromFile.DumpBatchRowCount)
}

func TestClassify(t *testing.T) {
	require.NoError(t, classify(nil))
	require.ErrorIs(t, classify(ErrNotFound), ErrNotFound)

	raced := errors.New(`catalog: tx execute: UNIQUE constraint failed: rowmeta_1.row_id`)
	require.ErrorIs(t, classify(raced), ErrConflict)

	other := errors.New("boom")
	require.Equal(t, other, classify(other))
}

func TestRetryConflict(t *testing.T) {
	ctx := context.Background()

	attempts := 0
	err := RetryConflict(ctx, func() error {
		attempts++
		if attempts < 3 {
			return ErrConflict
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)

	attempts = 0
	permanent := errors.New("boom")
	err = RetryConflict(ctx, func() error {
		attempts++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, attempts)
}
