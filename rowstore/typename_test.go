package rowstore

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/require"
)

func TestTypeNameRoundTrip(t *testing.T) {
	types := []arrow.DataType{
		arrow.FixedWidthTypes.Boolean,
		arrow.PrimitiveTypes.Int32,
		arrow.PrimitiveTypes.Int64,
		arrow.PrimitiveTypes.Float64,
		arrow.BinaryTypes.String,
		arrow.BinaryTypes.Binary,
		arrow.FixedWidthTypes.Date32,
	}
	for _, typ := range types {
		name, err := TypeName(typ)
		require.NoError(t, err, "%s", typ)
		back, err := TypeFromName(name)
		require.NoError(t, err, "%s", name)
		require.True(t, arrow.TypeEqual(typ, back), "%s round-tripped to %s", typ, back)
	}
}

func TestTypeNameUnsupported(t *testing.T) {
	_, err := TypeName(arrow.ListOf(arrow.PrimitiveTypes.Int64))
	require.Error(t, err)

	_, err = TypeFromName("decimal128")
	require.Error(t, err)
}
