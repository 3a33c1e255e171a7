package idcodec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ids := []int64{1, 2, 3, 500, 1 << 40}
	blob := Encode(ids)
	require.Len(t, blob, 8*len(ids))

	got, err := Decode(blob)
	require.NoError(t, err)
	require.Equal(t, ids, got)
}

func TestEncodeEmpty(t *testing.T) {
	blob := Encode(nil)
	require.Empty(t, blob)

	got, err := Decode(blob)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDecodeRejectsRaggedLength(t *testing.T) {
	_, err := Decode(make([]byte, 7))
	require.Error(t, err)

	_, err = Decode(make([]byte, 9))
	require.Error(t, err)
}

func TestContains(t *testing.T) {
	blob := Encode([]int64{2, 4, 8, 16, 32})

	for _, id := range []int64{2, 8, 32} {
		ok, err := Contains(blob, id)
		require.NoError(t, err)
		require.True(t, ok, "id %d", id)
	}
	for _, id := range []int64{1, 3, 33} {
		ok, err := Contains(blob, id)
		require.NoError(t, err)
		require.False(t, ok, "id %d", id)
	}
}
