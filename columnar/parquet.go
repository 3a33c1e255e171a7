package columnar

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/metadata"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/indexlake/indexlake/blob"
	"github.com/indexlake/indexlake/filter"
)

// defaultRowGroupLength bounds how many rows accumulate in memory before a
// parquetWriter flushes a row group. It is deliberately modest: dump
// batches are already bounded by the catalog read that selects
// them, and a smaller row group keeps per-row-group statistics tight enough
// to be useful for Reader.Scan pruning.
const defaultRowGroupLength = 64 * 1024

// ParquetBackend implements WriterFactory/ReaderFactory against
// github.com/apache/arrow-go/v18/parquet, the concrete columnar file format
// dump (C7) writes and scan (C6) reads back.
type ParquetBackend struct {
	Store blob.Store
	Alloc memory.Allocator
}

// NewWriter opens path for writing through the backend's blob store and
// wraps it in a row-group-batching pqarrow writer.
func (b *ParquetBackend) NewWriter(ctx context.Context, path string, schema *arrow.Schema) (Writer, error) {
	w, err := b.Store.Create(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("columnar: create %s: %w", path, err)
	}
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Zstd))
	arrProps := pqarrow.DefaultWriterProps()
	fw, err := pqarrow.NewFileWriter(schema, w, props, arrProps)
	if err != nil {
		_ = w.Finalize(ctx)
		return nil, fmt.Errorf("columnar: open parquet writer for %s: %w", path, err)
	}
	return &parquetWriter{blobWriter: w, fw: fw, schema: schema}, nil
}

// OpenReader opens an existing parquet file at path for random and
// predicate-pushdown reads.
func (b *ParquetBackend) OpenReader(ctx context.Context, path string) (Reader, error) {
	br, err := b.Store.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("columnar: open %s: %w", path, err)
	}
	size, err := br.Size(ctx)
	if err != nil {
		_ = br.Close()
		return nil, fmt.Errorf("columnar: stat %s: %w", path, err)
	}
	rdr, err := file.NewParquetReader(&blobReaderAt{r: br, ctx: ctx, size: size})
	if err != nil {
		_ = br.Close()
		return nil, fmt.Errorf("columnar: open parquet reader for %s: %w", path, err)
	}
	alloc := b.Alloc
	if alloc == nil {
		alloc = memory.DefaultAllocator
	}
	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, alloc)
	if err != nil {
		_ = rdr.Close()
		_ = br.Close()
		return nil, fmt.Errorf("columnar: open arrow reader for %s: %w", path, err)
	}
	schema, err := fr.Schema()
	if err != nil {
		_ = rdr.Close()
		_ = br.Close()
		return nil, fmt.Errorf("columnar: read schema for %s: %w", path, err)
	}
	return &parquetReader{blobReader: br, pf: rdr, fr: fr, schema: schema}, nil
}

// blobReaderAt adapts a blob.Reader (context-taking ReadAt/Size) to the
// plain io.ReaderAt + io.Seeker the parquet file reader expects.
type blobReaderAt struct {
	r    blob.Reader
	ctx  context.Context
	size int64
	pos  int64
}

func (b *blobReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n := int64(len(p))
	if off+n > b.size {
		n = b.size - off
	}
	if n <= 0 {
		return 0, io.EOF
	}
	data, err := b.r.ReadAt(b.ctx, off, n)
	if err != nil {
		return 0, err
	}
	copy(p, data)
	if int64(len(data)) < int64(len(p)) {
		return len(data), io.EOF
	}
	return len(data), nil
}

func (b *blobReaderAt) Read(p []byte) (int, error) {
	n, err := b.ReadAt(p, b.pos)
	b.pos += int64(n)
	return n, err
}

func (b *blobReaderAt) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		b.pos = offset
	case io.SeekCurrent:
		b.pos += offset
	case io.SeekEnd:
		b.pos = b.size + offset
	}
	return b.pos, nil
}

type parquetWriter struct {
	blobWriter blob.Writer
	fw         *pqarrow.FileWriter
	schema     *arrow.Schema
	rowGroup   int
	groupRows  int64
}

// WriteBatch appends rec's rows, slicing the batch at every row-group
// boundary so a physical group is actually opened wherever the returned
// addresses claim one. A batch larger than defaultRowGroupLength would
// otherwise land entirely in one group while its addresses rolled over
// into groups that don't exist — addresses a reader could never resolve.
func (w *parquetWriter) WriteBatch(ctx context.Context, rec arrow.RecordBatch) ([]Address, error) {
	addrs := make([]Address, 0, rec.NumRows())
	var offset int64
	for offset < rec.NumRows() {
		if w.groupRows == 0 {
			w.fw.NewBufferedRowGroup()
		}
		n := int64(defaultRowGroupLength) - w.groupRows
		if remaining := rec.NumRows() - offset; remaining < n {
			n = remaining
		}
		chunk := rec.NewSlice(offset, offset+n)
		err := w.fw.WriteBuffered(chunk)
		chunk.Release()
		if err != nil {
			return nil, fmt.Errorf("columnar: write batch: %w", err)
		}
		for i := int64(0); i < n; i++ {
			addrs = append(addrs, Address{RowGroup: w.rowGroup, RowOffsetInGroup: int(w.groupRows + i)})
		}
		w.groupRows += n
		offset += n
		if w.groupRows >= defaultRowGroupLength {
			w.rowGroup++
			w.groupRows = 0
		}
	}
	return addrs, nil
}

func (w *parquetWriter) Close(ctx context.Context) (int64, error) {
	if err := w.fw.Close(); err != nil {
		return 0, fmt.Errorf("columnar: close parquet writer: %w", err)
	}
	if err := w.blobWriter.Finalize(ctx); err != nil {
		return 0, fmt.Errorf("columnar: finalize blob: %w", err)
	}
	total := int64(w.rowGroup) * defaultRowGroupLength + w.groupRows
	return total, nil
}

type parquetReader struct {
	blobReader blob.Reader
	pf         *file.Reader
	fr         *pqarrow.FileReader
	schema     *arrow.Schema
}

func (r *parquetReader) Schema() *arrow.Schema { return r.schema }

func (r *parquetReader) NumRowGroups() int { return r.pf.NumRowGroups() }

// ReadAddresses groups addrs by row group, reads each group once, and
// slices out the requested offsets — avoiding re-reading a group once per
// row when callers batch addresses from the same file.
func (r *parquetReader) ReadAddresses(ctx context.Context, addrs []Address, columns []string) (array.RecordReader, error) {
	groupSet := map[int]bool{}
	for _, a := range addrs {
		groupSet[a.RowGroup] = true
	}
	groups := make([]int, 0, len(groupSet))
	for g := range groupSet {
		groups = append(groups, g)
	}
	sort.Ints(groups)

	indices := r.columnIndices(columns)
	table, err := r.fr.ReadRowGroups(ctx, indices, groups)
	if err != nil {
		return nil, fmt.Errorf("columnar: read row groups: %w", err)
	}
	defer table.Release()
	rec := tableToRecord(table)
	defer rec.Release()

	groupStart := make(map[int]int64, len(groups))
	var cursor int64
	for _, g := range groups {
		groupStart[g] = cursor
		cursor += r.pf.RowGroup(g).NumRows()
	}
	takeIdx := make([]int64, len(addrs))
	for i, a := range addrs {
		takeIdx[i] = groupStart[a.RowGroup] + int64(a.RowOffsetInGroup)
	}
	selected, err := takeRows(ctx, rec, takeIdx)
	if err != nil {
		return nil, err
	}
	defer selected.Release()
	return array.NewRecordReader(selected.Schema(), []arrow.RecordBatch{selected})
}

// Scan reads the full file, applying best-effort row-group pruning from
// pred's min/max-comparable conjuncts, and reports complete=false for any
// non-nil pred: parquet column statistics prune whole row groups but cannot resolve a
// predicate row-by-row without decoding, so the caller's in-memory
// Evaluator still re-checks every row this returns.
func (r *parquetReader) Scan(ctx context.Context, columns []string, pred filter.Expression) (array.RecordReader, bool, error) {
	indices := r.columnIndices(columns)
	groups := r.prunedRowGroups(pred)
	if len(groups) == 0 {
		bldr := array.NewRecordBuilder(memory.DefaultAllocator, r.schema)
		defer bldr.Release()
		rec := bldr.NewRecordBatch()
		defer rec.Release()
		rr, err := array.NewRecordReader(rec.Schema(), []arrow.RecordBatch{rec})
		if err != nil {
			return nil, false, err
		}
		return rr, pred == nil, nil
	}
	table, err := r.fr.ReadRowGroups(ctx, indices, groups)
	if err != nil {
		return nil, false, fmt.Errorf("columnar: scan row groups: %w", err)
	}
	defer table.Release()
	rec := tableToRecord(table)
	rr, err := array.NewRecordReader(rec.Schema(), []arrow.RecordBatch{rec})
	if err != nil {
		return nil, false, err
	}
	return rr, pred == nil, nil
}

// tableToRecord flattens a (possibly chunked) arrow.Table into a single
// contiguous record, which the row-index arithmetic in ReadAddresses and
// the single-record RecordReader returned by Scan both assume.
func tableToRecord(table arrow.Table) arrow.RecordBatch {
	if table.NumRows() == 0 {
		bldr := array.NewRecordBuilder(memory.DefaultAllocator, table.Schema())
		defer bldr.Release()
		return bldr.NewRecordBatch()
	}
	tr := array.NewTableReader(table, table.NumRows())
	defer tr.Release()
	tr.Next()
	rec := tr.RecordBatch()
	rec.Retain()
	return rec
}

// takeRows gathers rec's rows at idx, in order, using the compute package's
// Take kernel rather than a hand-rolled per-type builder switch.
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
			return nil, fmt.Errorf("columnar: take rows: %w", err)
		}
		cols[i] = taken
	}
	return array.NewRecord(rec.Schema(), cols, int64(len(idx))), nil
}

func (r *parquetReader) Close() error {
	err := r.pf.Close()
	if cerr := r.blobReader.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (r *parquetReader) columnIndices(columns []string) []int {
	if len(columns) == 0 {
		idx := make([]int, r.schema.NumFields())
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	want := make(map[string]bool, len(columns))
	for _, c := range columns {
		want[c] = true
	}
	var idx []int
	for i := 0; i < r.schema.NumFields(); i++ {
		if want[r.schema.Field(i).Name] {
			idx = append(idx, i)
		}
	}
	return idx
}

// prunedRowGroups skips row groups whose column statistics rule out every
// Comparison conjunct in pred. It only handles integer (int32/int64) min/max
// statistics and falls back to "read everything" for any predicate shape
// it doesn't recognize; pushdown here is opportunistic, never required
// for correctness.
func (r *parquetReader) prunedRowGroups(pred filter.Expression) []int {
	total := r.pf.NumRowGroups()
	all := make([]int, total)
	for i := range all {
		all[i] = i
	}
	if pred == nil {
		return all
	}
	conjuncts := filter.Conjuncts(pred)
	var kept []int
	for g := 0; g < total; g++ {
		meta := r.pf.RowGroup(g).MetaData()
		satisfiable := true
		for _, c := range conjuncts {
			cmp, ok := c.(*filter.Comparison)
			if !ok {
				continue
			}
			col, ok := cmp.Left.(*filter.Column)
			if !ok {
				continue
			}
			lit, ok := cmp.Right.(*filter.Literal)
			if !ok {
				continue
			}
			colIdx := -1
			for i := 0; i < r.schema.NumFields(); i++ {
				if r.schema.Field(i).Name == col.Name {
					colIdx = i
					break
				}
			}
			if colIdx < 0 {
				continue
			}
			chunk, err := meta.ColumnChunk(colIdx)
			if err != nil {
				continue
			}
			stats, err := chunk.Statistics()
			if err != nil || stats == nil || !stats.HasMinMax() {
				continue
			}
			minV, maxV, ok := int64MinMax(stats)
			if !ok {
				continue
			}
			if !rangeCanSatisfy(cmp.Op, lit.Value, minV, maxV) {
				satisfiable = false
				break
			}
		}
		if satisfiable {
			kept = append(kept, g)
		}
	}
	return kept
}

// int64MinMax decodes a column chunk's min/max bounds when its physical
// type is one this engine's row_id and integer columns use. Other physical
// types (byte array, float, boolean) are left unpruned rather than guessed
// at.
func int64MinMax(stats metadata.TypedStatistics) (min, max int64, ok bool) {
	switch s := stats.(type) {
	case *metadata.Int64Statistics:
		return s.Min(), s.Max(), true
	case *metadata.Int32Statistics:
		return int64(s.Min()), int64(s.Max()), true
	default:
		return 0, 0, false
	}
}

// rangeCanSatisfy is a conservative check: a row group is ruled out only
// when the comparison's literal falls entirely outside [min, max].
func rangeCanSatisfy(op filter.Op, literal any, min, max int64) bool {
	lit, ok := literal.(int64)
	if !ok {
		if f, ok := literal.(float64); ok && f == float64(int64(f)) {
			lit = int64(f)
		} else {
			return true
		}
	}
	switch op {
	case filter.OpEqual:
		return lit >= min && lit <= max
	case filter.OpLessThan:
		return lit > min
	case filter.OpLessThanOrEqual:
		return lit >= min
	case filter.OpGreaterThan:
		return lit < max
	case filter.OpGreaterThanOrEqual:
		return lit <= max
	default:
		return true
	}
}
