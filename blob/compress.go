package blob

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// CompressingStore wraps another Store, transparently zstd-compressing
// blobs on write and decompressing on read. Useful for index artifacts
// and other payloads whose backing store does not compress on its own.
type CompressingStore struct {
	inner Store
}

// NewCompressingStore wraps inner with zstd compression.
func NewCompressingStore(inner Store) *CompressingStore {
	return &CompressingStore{inner: inner}
}

func (s *CompressingStore) Create(ctx context.Context, path string) (Writer, error) {
	inner, err := s.inner.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("blob: create zstd encoder: %w", err)
	}
	return &compressingWriter{inner: inner, enc: enc}, nil
}

func (s *CompressingStore) Open(ctx context.Context, path string) (Reader, error) {
	inner, err := s.inner.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	size, err := inner.Size(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := inner.ReadAt(ctx, 0, size)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("blob: create zstd decoder: %w", err)
	}
	defer dec.Close()
	plain, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("blob: decompress %q: %w", path, err)
	}
	_ = inner.Close()
	return &memoryReader{data: plain}, nil
}

func (s *CompressingStore) Delete(ctx context.Context, path string) error {
	return s.inner.Delete(ctx, path)
}

func (s *CompressingStore) Exists(ctx context.Context, path string) (bool, error) {
	return s.inner.Exists(ctx, path)
}

func (s *CompressingStore) RemoveDirAll(ctx context.Context, prefix string) error {
	return s.inner.RemoveDirAll(ctx, prefix)
}

type compressingWriter struct {
	inner Writer
	enc   *zstd.Encoder
	buf   []byte
}

func (w *compressingWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *compressingWriter) Finalize(ctx context.Context) error {
	defer w.enc.Close()
	compressed := w.enc.EncodeAll(w.buf, make([]byte, 0, len(w.buf)/2))
	if _, err := w.inner.Write(compressed); err != nil {
		return fmt.Errorf("blob: write compressed payload: %w", err)
	}
	return w.inner.Finalize(ctx)
}

// memoryReader serves ReadAt/Size out of an in-memory decompressed buffer,
// used once a CompressingStore blob has been fully read and inflated.
type memoryReader struct {
	data []byte
}

func (r *memoryReader) ReadAt(ctx context.Context, offset, length int64) ([]byte, error) {
	if offset < 0 || offset > int64(len(r.data)) {
		return nil, fmt.Errorf("blob: read at %d out of range (len %d)", offset, len(r.data))
	}
	end := offset + length
	if end > int64(len(r.data)) {
		end = int64(len(r.data))
	}
	return r.data[offset:end], nil
}

func (r *memoryReader) Size(ctx context.Context) (int64, error) { return int64(len(r.data)), nil }
func (r *memoryReader) Close() error                            { return nil }
