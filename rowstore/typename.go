package rowstore

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// TypeName returns the stable string persisted in the catalog's field
// data_type column for an Arrow data type. The vocabulary intentionally
// covers only the scalar types SQLType can materialize, so a table that
// can be created can always be reopened.
func TypeName(t arrow.DataType) (string, error) {
	switch t.ID() {
	case arrow.BOOL:
		return "bool", nil
	case arrow.INT8:
		return "int8", nil
	case arrow.INT16:
		return "int16", nil
	case arrow.INT32:
		return "int32", nil
	case arrow.INT64:
		return "int64", nil
	case arrow.UINT8:
		return "uint8", nil
	case arrow.UINT16:
		return "uint16", nil
	case arrow.UINT32:
		return "uint32", nil
	case arrow.UINT64:
		return "uint64", nil
	case arrow.FLOAT32:
		return "float32", nil
	case arrow.FLOAT64:
		return "float64", nil
	case arrow.STRING:
		return "utf8", nil
	case arrow.LARGE_STRING:
		return "large_utf8", nil
	case arrow.BINARY:
		return "binary", nil
	case arrow.LARGE_BINARY:
		return "large_binary", nil
	case arrow.TIMESTAMP:
		return "timestamp", nil
	case arrow.DATE32:
		return "date32", nil
	default:
		return "", fmt.Errorf("rowstore: no persisted name for data type %s", t)
	}
}

// TypeFromName is the inverse of TypeName, used when reopening a table
// from its catalog field rows.
func TypeFromName(name string) (arrow.DataType, error) {
	switch name {
	case "bool":
		return arrow.FixedWidthTypes.Boolean, nil
	case "int8":
		return arrow.PrimitiveTypes.Int8, nil
	case "int16":
		return arrow.PrimitiveTypes.Int16, nil
	case "int32":
		return arrow.PrimitiveTypes.Int32, nil
	case "int64":
		return arrow.PrimitiveTypes.Int64, nil
	case "uint8":
		return arrow.PrimitiveTypes.Uint8, nil
	case "uint16":
		return arrow.PrimitiveTypes.Uint16, nil
	case "uint32":
		return arrow.PrimitiveTypes.Uint32, nil
	case "uint64":
		return arrow.PrimitiveTypes.Uint64, nil
	case "float32":
		return arrow.PrimitiveTypes.Float32, nil
	case "float64":
		return arrow.PrimitiveTypes.Float64, nil
	case "utf8":
		return arrow.BinaryTypes.String, nil
	case "large_utf8":
		return arrow.BinaryTypes.LargeString, nil
	case "binary":
		return arrow.BinaryTypes.Binary, nil
	case "large_binary":
		return arrow.BinaryTypes.LargeBinary, nil
	case "timestamp":
		return arrow.FixedWidthTypes.Timestamp_us, nil
	case "date32":
		return arrow.FixedWidthTypes.Date32, nil
	default:
		return nil, fmt.Errorf("rowstore: unknown persisted data type name %q", name)
	}
}
