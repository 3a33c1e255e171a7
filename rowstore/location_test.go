package rowstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/indexlake/indexlake/columnar"
)

func TestParseLocationInline(t *testing.T) {
	loc, err := ParseLocation("inline")
	require.NoError(t, err)
	require.True(t, loc.Inline)
	require.Equal(t, "inline", FormatLocation(loc))
}

func TestParseLocationExternal(t *testing.T) {
	s := "parquet:namespace/ns/table/events/data/abc.parquet:3:17"
	loc, err := ParseLocation(s)
	require.NoError(t, err)
	require.False(t, loc.Inline)
	require.Equal(t, "namespace/ns/table/events/data/abc.parquet", loc.Path)
	require.Equal(t, columnar.Address{RowGroup: 3, RowOffsetInGroup: 17}, loc.Addr)
	require.Equal(t, s, FormatLocation(loc))
}

func TestFormatExternalLocation(t *testing.T) {
	s := FormatExternalLocation("a/b.parquet", columnar.Address{RowGroup: 0, RowOffsetInGroup: 5})
	require.Equal(t, "parquet:a/b.parquet:0:5", s)
}

func TestParseLocationMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		"Inline",
		"parquet:a/b.parquet",
		"parquet:a/b.parquet:1",
		"parquet:a/b.parquet:x:0",
		"parquet:a/b.parquet:0:-1",
		"orc:a/b.orc:0:0",
	} {
		_, err := ParseLocation(s)
		require.Error(t, err, "input %q", s)
	}
}

func TestFilePath(t *testing.T) {
	path, ok := FilePath("parquet:a/b.parquet:2:9")
	require.True(t, ok)
	require.Equal(t, "a/b.parquet", path)

	_, ok = FilePath("inline")
	require.False(t, ok)
}
