// Package hashindex implements an exact-match secondary index: a
// single-column hash from value to the sorted row ids holding it,
// serialized as one msgpack artifact per data file. It is the simplest
// concrete Index/Builder pair in the tree and doubles as the reference
// for writing new index kinds: a single key column named by params, an
// opaque binary artifact, equality and IN acceleration only.
package hashindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/indexlake/indexlake/blob"
	"github.com/indexlake/indexlake/filter"
	"github.com/indexlake/indexlake/index"
	"github.com/indexlake/indexlake/internal/msgpack"
	"github.com/indexlake/indexlake/rowstore"
)

// Kind is this index's registration string.
const Kind = "hash"

// Params is the decoded, validated form of params_json for a hash index.
type Params struct {
	// Column is the single key column the index accelerates equality and
	// IN lookups on.
	Column string `json:"column"`
}

type hashIndex struct{}

// New returns the hash index singleton for registration with
// index.RegistryBuilder.
func New() index.Index { return hashIndex{} }

func (hashIndex) Kind() string { return Kind }

func (hashIndex) DecodeParams(raw json.RawMessage) (any, error) {
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("hashindex: decode params: %w", err)
	}
	if p.Column == "" {
		return nil, fmt.Errorf("hashindex: params.column is required")
	}
	return p, nil
}

func (hashIndex) Supports(def index.Definition, schema *arrow.Schema, params any) error {
	p := params.(Params)
	for i := 0; i < schema.NumFields(); i++ {
		if schema.Field(i).Name == p.Column {
			return nil
		}
	}
	return fmt.Errorf("hashindex: column %q not found in table schema", p.Column)
}

func (hashIndex) Builder(def index.Definition, params any) (index.Builder, error) {
	p := params.(Params)
	return &builder{column: p.Column, entries: map[string]*entry{}}, nil
}

// SupportsFilter accepts a bare Comparison(column = literal) or
// In(column, literals) over the index's key column — the two predicate
// shapes a hash lookup can answer without decoding every artifact.
func (hashIndex) SupportsFilter(def index.Definition, params any, expr filter.Expression) bool {
	p := params.(Params)
	switch ex := expr.(type) {
	case *filter.Comparison:
		col, ok := ex.Left.(*filter.Column)
		return ok && col.Name == p.Column && ex.Op == filter.OpEqual
	case *filter.In:
		return ex.Column.Name == p.Column
	default:
		return false
	}
}

func (hashIndex) Filter(ctx context.Context, def index.Definition, params any, files []index.File, open index.OpenArtifact, expr filter.Expression) (index.RowIDs, error) {
	var wantKeys []string
	switch ex := expr.(type) {
	case *filter.Comparison:
		lit, ok := ex.Right.(*filter.Literal)
		if !ok {
			return nil, fmt.Errorf("hashindex: comparison right side must be a literal")
		}
		wantKeys = []string{keyOf(lit.Value)}
	case *filter.In:
		for _, v := range ex.Values {
			wantKeys = append(wantKeys, keyOf(v))
		}
	default:
		return nil, fmt.Errorf("hashindex: unsupported expression %T", expr)
	}

	want := make(map[string]bool, len(wantKeys))
	for _, k := range wantKeys {
		want[k] = true
	}

	var matched []int64
	for _, f := range files {
		art, err := readArtifact(ctx, open, f)
		if err != nil {
			return nil, err
		}
		for _, e := range art.Entries {
			if want[e.Key] {
				matched = append(matched, e.RowIDs...)
			}
		}
	}
	return index.NewRowIDs(matched), nil
}

func (hashIndex) Search(ctx context.Context, def index.Definition, params any, files []index.File, open index.OpenArtifact, query any, k int) (index.RowIDs, error) {
	return nil, index.ErrSearchNotSupported
}

// artifact is the serialized form of one data file's hash index.
type artifact struct {
	Column  string
	Entries []entry
}

type entry struct {
	Key     string
	RowIDs  []int64
}

func readArtifact(ctx context.Context, open index.OpenArtifact, f index.File) (*artifact, error) {
	r, err := open(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("hashindex: open artifact %s: %w", f.RelativePath, err)
	}
	defer r.Close()
	size, err := r.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("hashindex: stat artifact %s: %w", f.RelativePath, err)
	}
	buf, err := r.ReadAt(ctx, 0, size)
	if err != nil {
		return nil, fmt.Errorf("hashindex: read artifact %s: %w", f.RelativePath, err)
	}
	var art artifact
	if err := msgpack.Decode(buf, &art); err != nil {
		return nil, fmt.Errorf("hashindex: decode artifact %s: %w", f.RelativePath, err)
	}
	return &art, nil
}

// keyOf canonicalizes a filter literal / column value into the artifact's
// lookup key, so values arriving from SQL scans (int64) and from Arrow
// columns (int64, float64, string, []byte) compare consistently.
func keyOf(v any) string {
	switch val := v.(type) {
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// builder accumulates column -> row_id associations in memory for one
// data file.
type builder struct {
	column  string
	entries map[string]*entry
}

func (b *builder) Update(ctx context.Context, batch arrow.RecordBatch) error {
	colIdx := -1
	rowIDIdx := -1
	for i := 0; i < int(batch.NumCols()); i++ {
		name := batch.Schema().Field(i).Name
		if name == b.column {
			colIdx = i
		}
		if name == rowstore.RowIDAlias || name == rowstore.RowIDColumn {
			rowIDIdx = i
		}
	}
	if colIdx < 0 {
		return fmt.Errorf("hashindex: batch missing key column %q", b.column)
	}
	if rowIDIdx < 0 {
		return fmt.Errorf("hashindex: batch missing row id column")
	}
	rowIDs, ok := batch.Column(rowIDIdx).(*array.Int64)
	if !ok {
		return fmt.Errorf("hashindex: row id column is not int64")
	}
	col := batch.Column(colIdx)
	for row := 0; row < int(batch.NumRows()); row++ {
		if col.IsNull(row) {
			continue
		}
		key := keyOf(columnValue(col, row))
		e := b.entries[key]
		if e == nil {
			e = &entry{Key: key}
			b.entries[key] = e
		}
		e.RowIDs = append(e.RowIDs, rowIDs.Value(row))
	}
	return nil
}

func (b *builder) Write(ctx context.Context, w blob.Writer) error {
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	art := artifact{Column: b.column}
	for _, k := range keys {
		e := b.entries[k]
		sort.Slice(e.RowIDs, func(i, j int) bool { return e.RowIDs[i] < e.RowIDs[j] })
		art.Entries = append(art.Entries, *e)
	}
	buf, err := msgpack.Encode(art)
	if err != nil {
		return fmt.Errorf("hashindex: encode artifact: %w", err)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("hashindex: write artifact: %w", err)
	}
	return nil
}

// columnValue extracts the scalar shapes filter.Evaluator does, except
// that large string and large binary columns are not handled (they yield
// nil). It is kept local to avoid exporting filter's internal array-value
// switch.
func columnValue(arr arrow.Array, row int) any {
	switch a := arr.(type) {
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
	case *array.Binary:
		return a.Value(row)
	case *array.Boolean:
		return a.Value(row)
	default:
		return nil
	}
}
