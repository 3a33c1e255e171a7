// Package idcodec encodes and decodes the packed_row_ids blob stored
// alongside each data_file record.
package idcodec

import (
	"encoding/binary"
	"fmt"
)

// Encode packs a sorted-ascending slice of row ids into its little-endian
// fixed-width blob form. Callers are responsible for sorting ids first;
// Encode does not sort, to avoid hiding an unsorted-input bug from a caller
// that assumed it already had ascending ids.
func Encode(ids []int64) []byte {
	buf := make([]byte, 8*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], uint64(id))
	}
	return buf
}

// Decode unpacks a packed_row_ids blob into a slice of row ids, preserving
// the ascending order in which they were encoded.
func Decode(blob []byte) ([]int64, error) {
	if len(blob)%8 != 0 {
		return nil, fmt.Errorf("idcodec: packed row-id blob length %d is not a multiple of 8", len(blob))
	}
	ids := make([]int64, len(blob)/8)
	for i := range ids {
		ids[i] = int64(binary.LittleEndian.Uint64(blob[i*8 : i*8+8]))
	}
	return ids, nil
}

// Contains reports whether id is present in a packed_row_ids blob, using
// binary search under the assumption that the blob holds ids in
// sorted ascending order.
func Contains(blob []byte, id int64) (bool, error) {
	ids, err := Decode(blob)
	if err != nil {
		return false, err
	}
	lo, hi := 0, len(ids)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case ids[mid] == id:
			return true, nil
		case ids[mid] < id:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return false, nil
}
