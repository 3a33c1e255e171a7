// Package rowstore implements the per-table dynamic entities: the
// row-metadata "address book" (rowmeta_{table_id}), the inline row table
// (inline_{table_id}), and the row-id allocator. It
// owns all DDL emission and typed row marshaling between catalog.Tx result
// sets and Arrow record batches, so the engine package only ever deals in
// arrow.RecordBatch and row_id slices.
package rowstore

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/indexlake/indexlake/catalog"
)

// Field describes one user column, derived from the catalog's field
// rows.
type Field struct {
	Name     string
	Type     arrow.DataType
	Nullable bool
}

// FieldsFromSchema projects an Arrow schema into the ordered Field list
// rowstore's DDL and marshaling code operates on.
func FieldsFromSchema(schema *arrow.Schema) []Field {
	fields := make([]Field, schema.NumFields())
	for i := range fields {
		f := schema.Field(i)
		fields[i] = Field{Name: f.Name, Type: f.Type, Nullable: f.Nullable}
	}
	return fields
}

// Schema rebuilds an Arrow schema from fields, the inverse of
// FieldsFromSchema, used when reconstructing record batches read back out
// of the catalog.
func Schema(fields []Field) *arrow.Schema {
	afields := make([]arrow.Field, len(fields))
	for i, f := range fields {
		afields[i] = arrow.Field{Name: f.Name, Type: f.Type, Nullable: f.Nullable}
	}
	return arrow.NewSchema(afields, nil)
}

// SQLType returns the dialect-specific column type for an Arrow data type.
// Only the scalar types IndexLake's DML pipeline and reference indices
// need are supported; anything else is an invalid-argument error raised at
// table-creation time rather than at every insert.
func SQLType(dialect catalog.Dialect, t arrow.DataType) (string, error) {
	switch t.ID() {
	case arrow.BOOL:
		return catalog.BooleanType(dialect), nil
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return catalog.BigIntType(dialect), nil
	case arrow.FLOAT32, arrow.FLOAT64:
		return "DOUBLE", nil
	case arrow.STRING, arrow.LARGE_STRING:
		return catalog.VarcharType(dialect, 0), nil
	case arrow.BINARY, arrow.LARGE_BINARY, arrow.FIXED_SIZE_BINARY:
		return catalog.BlobType(dialect), nil
	case arrow.TIMESTAMP:
		return "TIMESTAMP", nil
	case arrow.DATE32, arrow.DATE64:
		return "DATE", nil
	default:
		return "", fmt.Errorf("rowstore: unsupported column type %s for field", t)
	}
}
