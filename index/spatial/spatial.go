// Package spatial implements a bounding-box secondary index over a WKB
// geometry column, built on paulmach/orb's geometry decoding and planar
// bound-intersection test. Geometries are stored as WKB in binary
// columns rather than in a new purpose-built encoding.
package spatial

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/indexlake/indexlake/blob"
	"github.com/indexlake/indexlake/filter"
	"github.com/indexlake/indexlake/index"
	"github.com/indexlake/indexlake/internal/msgpack"
	"github.com/indexlake/indexlake/rowstore"
)

// Kind is this index's registration string.
const Kind = "spatial"

// ExtensionName is the filter.Extension predicate name this index
// advertises. Args are [*filter.Column, orb.Bound].
const ExtensionName = "intersects"

// Params is the decoded, validated form of params_json for a spatial
// index.
type Params struct {
	// Column is the WKB geometry column the index is built over.
	Column string `json:"column"`
}

type spatialIndex struct{}

// New returns the spatial index singleton for registration with
// index.RegistryBuilder.
func New() index.Index { return spatialIndex{} }

func (spatialIndex) Kind() string { return Kind }

func (spatialIndex) DecodeParams(raw json.RawMessage) (any, error) {
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("spatial: decode params: %w", err)
	}
	if p.Column == "" {
		return nil, fmt.Errorf("spatial: params.column is required")
	}
	return p, nil
}

// Supports requires the key column to exist and be binary-storable,
// since geometries arrive WKB-encoded in binary columns.
func (spatialIndex) Supports(def index.Definition, schema *arrow.Schema, params any) error {
	p := params.(Params)
	for i := 0; i < schema.NumFields(); i++ {
		field := schema.Field(i)
		if field.Name != p.Column {
			continue
		}
		switch field.Type.ID() {
		case arrow.BINARY, arrow.LARGE_BINARY, arrow.EXTENSION:
			return nil
		default:
			return fmt.Errorf("spatial: column %q must be a binary (WKB) or geometry extension column, got %s", p.Column, field.Type)
		}
	}
	return fmt.Errorf("spatial: column %q not found in table schema", p.Column)
}

func (spatialIndex) Builder(def index.Definition, params any) (index.Builder, error) {
	p := params.(Params)
	return &builder{column: p.Column}, nil
}

// SupportsFilter accepts exactly the filter.Extension(ExtensionName)
// predicate over this index's own column.
func (spatialIndex) SupportsFilter(def index.Definition, params any, expr filter.Expression) bool {
	p := params.(Params)
	ext, ok := expr.(*filter.Extension)
	if !ok || ext.Name != ExtensionName || len(ext.Args) != 2 {
		return false
	}
	col, ok := ext.Args[0].(*filter.Column)
	return ok && col.Name == p.Column
}

func (spatialIndex) Filter(ctx context.Context, def index.Definition, params any, files []index.File, open index.OpenArtifact, expr filter.Expression) (index.RowIDs, error) {
	ext, ok := expr.(*filter.Extension)
	if !ok || ext.Name != ExtensionName || len(ext.Args) != 2 {
		return nil, fmt.Errorf("spatial: unsupported expression %T", expr)
	}
	bbox, ok := ext.Args[1].(orb.Bound)
	if !ok {
		return nil, fmt.Errorf("spatial: second argument of intersects must be an orb.Bound")
	}

	var matched []int64
	for _, f := range files {
		art, err := readArtifact(ctx, open, f)
		if err != nil {
			return nil, err
		}
		for _, e := range art.Entries {
			entryBound := orb.Bound{Min: orb.Point{e.MinX, e.MinY}, Max: orb.Point{e.MaxX, e.MaxY}}
			if bbox.Intersects(entryBound) {
				matched = append(matched, e.RowID)
			}
		}
	}
	return index.NewRowIDs(matched), nil
}

func (spatialIndex) Search(ctx context.Context, def index.Definition, params any, files []index.File, open index.OpenArtifact, query any, k int) (index.RowIDs, error) {
	return nil, index.ErrSearchNotSupported
}

// EvalExtension implements index.ExtensionEvaluator, letting intersects()
// predicates run as residual in-memory checks when they can't be (or
// weren't) resolved by an index read.
func (spatialIndex) EvalExtension(name string, args []any, rec arrow.RecordBatch, row int) (bool, error) {
	if name != ExtensionName {
		return false, index.ErrUnknownExtension
	}
	return Eval(name, args, rec, row)
}

// Eval implements filter.ExtensionEvaluator for in-memory residual
// checking of intersects() predicates against rows already fetched by a
// table or index scan.
func Eval(name string, args []any, rec arrow.RecordBatch, row int) (bool, error) {
	if name != ExtensionName || len(args) != 2 {
		return false, fmt.Errorf("spatial: unsupported extension predicate %q", name)
	}
	col, ok := args[0].(*filter.Column)
	if !ok {
		return false, fmt.Errorf("spatial: first argument must be a column reference")
	}
	bbox, ok := args[1].(orb.Bound)
	if !ok {
		return false, fmt.Errorf("spatial: second argument must be an orb.Bound")
	}
	colIdx := -1
	for i := 0; i < int(rec.Schema().NumFields()); i++ {
		if rec.Schema().Field(i).Name == col.Name {
			colIdx = i
			break
		}
	}
	if colIdx < 0 {
		return false, fmt.Errorf("spatial: unknown column %q", col.Name)
	}
	arr := rec.Column(colIdx)
	if arr.IsNull(row) {
		return false, nil
	}
	wkbBytes, err := geometryBytes(arr, row)
	if err != nil {
		return false, err
	}
	geom, err := wkb.Unmarshal(wkbBytes)
	if err != nil {
		return false, fmt.Errorf("spatial: decode geometry: %w", err)
	}
	return bbox.Intersects(geom.Bound()), nil
}

func geometryBytes(arr arrow.Array, row int) ([]byte, error) {
	switch a := arr.(type) {
	case *array.Binary:
		return a.Value(row), nil
	case *array.LargeBinary:
		return a.Value(row), nil
	case array.ExtensionArray:
		storage := a.Storage()
		if b, ok := storage.(*array.Binary); ok {
			return b.Value(row), nil
		}
		return nil, fmt.Errorf("spatial: unsupported extension storage type %T", storage)
	default:
		return nil, fmt.Errorf("spatial: unsupported geometry column type %T", arr)
	}
}

// artifact is the serialized form of one data file's spatial index: one
// bounding box per row, in row_id order. A production index would use an
// R-tree; this reference implementation keeps every row's own bound and
// relies on a linear scan, matching the complexity budget of a reference
// index whose job is to demonstrate the Index/IndexBuilder contract.
type artifact struct {
	Column  string
	Entries []entry
}

type entry struct {
	RowID            int64
	MinX, MinY       float64
	MaxX, MaxY       float64
}

func readArtifact(ctx context.Context, open index.OpenArtifact, f index.File) (*artifact, error) {
	r, err := open(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("spatial: open artifact %s: %w", f.RelativePath, err)
	}
	defer r.Close()
	size, err := r.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("spatial: stat artifact %s: %w", f.RelativePath, err)
	}
	buf, err := r.ReadAt(ctx, 0, size)
	if err != nil {
		return nil, fmt.Errorf("spatial: read artifact %s: %w", f.RelativePath, err)
	}
	var art artifact
	if err := msgpack.Decode(buf, &art); err != nil {
		return nil, fmt.Errorf("spatial: decode artifact %s: %w", f.RelativePath, err)
	}
	return &art, nil
}

type builder struct {
	column  string
	entries []entry
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
		return fmt.Errorf("spatial: batch missing geometry column %q", b.column)
	}
	if rowIDIdx < 0 {
		return fmt.Errorf("spatial: batch missing row id column")
	}
	rowIDs, ok := batch.Column(rowIDIdx).(*array.Int64)
	if !ok {
		return fmt.Errorf("spatial: row id column is not int64")
	}
	col := batch.Column(colIdx)
	for row := 0; row < int(batch.NumRows()); row++ {
		if col.IsNull(row) {
			continue
		}
		wkbBytes, err := geometryBytes(col, row)
		if err != nil {
			return err
		}
		geom, err := wkb.Unmarshal(wkbBytes)
		if err != nil {
			return fmt.Errorf("spatial: decode geometry for row_id %d: %w", rowIDs.Value(row), err)
		}
		bound := geom.Bound()
		b.entries = append(b.entries, entry{
			RowID: rowIDs.Value(row),
			MinX:  bound.Min.X(), MinY: bound.Min.Y(),
			MaxX: bound.Max.X(), MaxY: bound.Max.Y(),
		})
	}
	return nil
}

func (b *builder) Write(ctx context.Context, w blob.Writer) error {
	sort.Slice(b.entries, func(i, j int) bool { return b.entries[i].RowID < b.entries[j].RowID })
	art := artifact{Column: b.column, Entries: b.entries}
	buf, err := msgpack.Encode(art)
	if err != nil {
		return fmt.Errorf("spatial: encode artifact: %w", err)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("spatial: write artifact: %w", err)
	}
	return nil
}
