package engine

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/indexlake/indexlake/filter"
	"github.com/indexlake/indexlake/rowstore"
)

// columnCellValue extracts one cell as a database/sql-compatible Go value,
// the same shape rowstore's own row marshaling produces, used by update to
// read back a row's untouched columns before reinserting it inline.
func columnCellValue(arr arrow.Array, row int) any {
	if arr.IsNull(row) {
		return nil
	}
	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(row)
	case *array.Int8:
		return int64(a.Value(row))
	case *array.Int16:
		return int64(a.Value(row))
	case *array.Int32:
		return int64(a.Value(row))
	case *array.Int64:
		return a.Value(row)
	case *array.Uint8:
		return int64(a.Value(row))
	case *array.Uint16:
		return int64(a.Value(row))
	case *array.Uint32:
		return int64(a.Value(row))
	case *array.Uint64:
		return int64(a.Value(row))
	case *array.Float32:
		return float64(a.Value(row))
	case *array.Float64:
		return a.Value(row)
	case *array.String:
		return a.Value(row)
	case *array.LargeString:
		return a.Value(row)
	case *array.Binary:
		return append([]byte(nil), a.Value(row)...)
	case *array.LargeBinary:
		return append([]byte(nil), a.Value(row)...)
	case *array.Timestamp:
		return int64(a.Value(row))
	case *array.Date32:
		return int64(a.Value(row))
	default:
		return nil
	}
}

// rowBatch pairs one Arrow batch in the table's user schema with the
// row_id of every one of its rows, in the same order — the unit scan's
// two read paths (table scan, index scan) and its merge step pass around
// instead of a bare arrow.RecordBatch, since row_id is needed for
// residual filtering context and for an optional _indexlake_row_id
// projection without being a column of the batch itself.
type rowBatch struct {
	rec    arrow.RecordBatch
	rowIDs []int64
}

// drainRecordReader pulls every batch out of rr, pairing each with the
// corresponding slice of allRowIDs (rr's batches are assumed to cover
// allRowIDs in order, as ReadAddresses guarantees by reading rows in the
// order addresses were requested).
func drainRecordReader(rr array.RecordReader, allRowIDs []int64) ([]rowBatch, error) {
	var out []rowBatch
	offset := 0
	for rr.Next() {
		rec := rr.RecordBatch()
		rec.Retain()
		n := int(rec.NumRows())
		if offset+n > len(allRowIDs) {
			return nil, fmt.Errorf("engine: scan: record reader yielded more rows than addresses requested")
		}
		ids := append([]int64{}, allRowIDs[offset:offset+n]...)
		offset += n
		out = append(out, rowBatch{rec: rec, rowIDs: ids})
	}
	if err := rr.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// filterBatch re-evaluates pred row-by-row against b and returns a new
// rowBatch containing only the rows that satisfy it. It is
// always safe to call this with the full original predicate, even on rows
// a SQL WHERE clause or an index lookup already matched, since checking an
// already-true condition again is a no-op.
func filterBatch(ctx context.Context, b rowBatch, pred filter.Expression, ext filter.ExtensionEvaluator) (rowBatch, error) {
	if pred == nil || b.rec.NumRows() == 0 {
		return b, nil
	}
	eval := filter.NewEvaluator(b.rec, ext)
	var keep []int64
	for row := 0; row < int(b.rec.NumRows()); row++ {
		ok, err := eval.Eval(pred, b.rec, row)
		if err != nil {
			return rowBatch{}, fmt.Errorf("engine: scan: evaluate residual filter: %w", err)
		}
		if ok {
			keep = append(keep, int64(row))
		}
	}
	if len(keep) == int(b.rec.NumRows()) {
		return b, nil
	}
	rec, err := takeRows(ctx, b.rec, keep)
	if err != nil {
		return rowBatch{}, err
	}
	rowIDs := make([]int64, len(keep))
	for i, r := range keep {
		rowIDs[i] = b.rowIDs[r]
	}
	return rowBatch{rec: rec, rowIDs: rowIDs}, nil
}

// takeRows gathers rec's rows at idx using the compute package's Take
// kernel, the same approach columnar's parquet backend uses for its
// address-gather reads rather than a hand-rolled per-type builder switch.
func takeRows(ctx context.Context, rec arrow.RecordBatch, idx []int64) (arrow.RecordBatch, error) {
	bldr := array.NewInt64Builder(memory.DefaultAllocator)
	bldr.AppendValues(idx, nil)
	indices := bldr.NewInt64Array()
	bldr.Release()
	defer indices.Release()

	cols := make([]arrow.Array, rec.NumCols())
	for i := range cols {
		taken, err := compute.TakeArray(ctx, rec.Column(i), indices)
		if err != nil {
			return nil, fmt.Errorf("engine: take rows: %w", err)
		}
		cols[i] = taken
	}
	return array.NewRecord(rec.Schema(), cols, int64(len(idx))), nil
}

// project builds the final output batch for one rowBatch: columns named by
// projection, in that order, with the pseudo-column rowstore.RowIDAlias
// resolved from rowIDs rather than from rec. A nil or
// empty projection means every user column, in schema order.
func project(b rowBatch, fieldNames []string, projection []string) (arrow.RecordBatch, error) {
	cols := projection
	if len(cols) == 0 {
		cols = fieldNames
	}
	mem := memory.NewGoAllocator()
	fields := make([]arrow.Field, len(cols))
	arrs := make([]arrow.Array, len(cols))
	for i, name := range cols {
		if name == rowstore.RowIDAlias {
			idBldr := array.NewInt64Builder(mem)
			idBldr.AppendValues(b.rowIDs, nil)
			arrs[i] = idBldr.NewArray()
			fields[i] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int64}
			continue
		}
		idx := -1
		for j := 0; j < int(b.rec.NumCols()); j++ {
			if b.rec.Schema().Field(j).Name == name {
				idx = j
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("engine: scan: unknown projection column %q", name)
		}
		arr := b.rec.Column(idx)
		arr.Retain()
		arrs[i] = arr
		fields[i] = b.rec.Schema().Field(idx)
	}
	schema := arrow.NewSchema(fields, nil)
	return array.NewRecord(schema, arrs, b.rec.NumRows()), nil
}
