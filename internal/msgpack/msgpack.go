// Package msgpack wraps MessagePack encoding for the engine's opaque
// binary payloads: index artifacts and any other blob where a compact,
// schema-less form beats JSON. Index params stay JSON in the catalog;
// only artifact bytes go through here.
package msgpack

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encode serializes v to MessagePack.
func Encode(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("msgpack: encode %T: %w", v, err)
	}
	return data, nil
}

// Decode deserializes data into v, which must be a pointer. An empty
// payload is an error rather than a zero value, since every artifact this
// engine writes is non-empty and a zero-length blob means a write was cut
// short.
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("msgpack: empty payload")
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("msgpack: decode into %T: %w", v, err)
	}
	return nil
}
