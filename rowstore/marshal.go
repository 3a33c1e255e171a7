package rowstore

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// rowValues extracts row's values across rec's columns as database/sql-
// compatible args (nil for SQL NULL), in column order.
func rowValues(rec arrow.RecordBatch, row int) []any {
	vals := make([]any, rec.NumCols())
	for c := 0; c < int(rec.NumCols()); c++ {
		vals[c] = columnValue(rec.Column(c), row)
	}
	return vals
}

// columnValue extracts a single cell as a driver-compatible Go value.
func columnValue(arr arrow.Array, row int) any {
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

// RecordBuilder accumulates scanned catalog rows into an Arrow record
// batch, the inverse of rowValues/columnValue. fields determines column
// order and type; rowID, when keepRowID is true, is appended as the final
// column under RowIDAlias.
type RecordBuilder struct {
	fields    []Field
	keepRowID bool
	bldr      *array.RecordBuilder
	mem       memory.Allocator
}

// NewRecordBuilder creates a RecordBuilder for fields. If keepRowID is
// true, the schema gains a trailing row_id column.
func NewRecordBuilder(fields []Field, keepRowID bool) *RecordBuilder {
	mem := memory.NewGoAllocator()
	schemaFields := fields
	if keepRowID {
		schemaFields = append(append([]Field{}, fields...), Field{Name: RowIDAlias, Type: arrow.PrimitiveTypes.Int64})
	}
	return &RecordBuilder{
		fields:    fields,
		keepRowID: keepRowID,
		bldr:      array.NewRecordBuilder(mem, Schema(schemaFields)),
		mem:       mem,
	}
}

// Append adds one row. vals must have len(fields) entries (the row's user
// columns, in field order) with SQL-scanned Go values (int64, float64,
// string, []byte, bool, or nil); rowID is appended separately when
// keepRowID is true.
func (b *RecordBuilder) Append(vals []any, rowID int64) error {
	for i, f := range b.fields {
		if err := appendValue(b.bldr.Field(i), f.Type, vals[i]); err != nil {
			return fmt.Errorf("rowstore: append column %q: %w", f.Name, err)
		}
	}
	if b.keepRowID {
		b.bldr.Field(len(b.fields)).(*array.Int64Builder).Append(rowID)
	}
	return nil
}

// NewRecord finalizes the accumulated rows into a record batch. The
// builder must not be reused afterward.
func (b *RecordBuilder) NewRecord() arrow.RecordBatch {
	return b.bldr.NewRecord()
}

func appendValue(fb array.Builder, dtype arrow.DataType, v any) error {
	if v == nil {
		fb.AppendNull()
		return nil
	}
	switch bld := fb.(type) {
	case *array.BooleanBuilder:
		// SQLite has no native boolean; its driver hands back 0/1 ints.
		switch b := v.(type) {
		case bool:
			bld.Append(b)
		case int64:
			bld.Append(b != 0)
		default:
			return fmt.Errorf("expected bool, got %T", v)
		}
	case *array.Int64Builder:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		bld.Append(n)
	case *array.Int32Builder:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		bld.Append(int32(n))
	case *array.Float64Builder:
		f, err := toFloat64(v)
		if err != nil {
			return err
		}
		bld.Append(f)
	case *array.StringBuilder:
		// Some drivers return TEXT as raw bytes.
		switch s := v.(type) {
		case string:
			bld.Append(s)
		case []byte:
			bld.Append(string(s))
		default:
			return fmt.Errorf("expected string, got %T", v)
		}
	case *array.BinaryBuilder:
		switch buf := v.(type) {
		case []byte:
			bld.Append(buf)
		case string:
			bld.Append([]byte(buf))
		default:
			return fmt.Errorf("expected []byte, got %T", v)
		}
	case *array.TimestampBuilder:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		bld.Append(arrow.Timestamp(n))
	default:
		return fmt.Errorf("rowstore: unsupported builder type %T for %s", fb, dtype)
	}
	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected float, got %T", v)
	}
}
