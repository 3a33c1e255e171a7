// Package index defines the pluggable index framework: the capability
// contracts every secondary-index kind implements, and a
// read-only-after-init Registry that dispatches by the index's persisted
// "kind" string — a keyed map of values standing in for the inheritance
// hierarchies other languages would reach for here.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/indexlake/indexlake/blob"
	"github.com/indexlake/indexlake/filter"
)

// Definition is the persisted description of one secondary index.
type Definition struct {
	IndexID          int64
	TableID          int64
	Name             string
	Kind             string
	KeyFieldNames    []string
	IncludeFieldNames []string
	Params           json.RawMessage
}

// File identifies one index artifact for one data file.
type File struct {
	IndexFileID  int64
	DataFileID   int64
	RelativePath string
}

// RowIDs is a sorted, deduplicated set of row ids, the return shape of
// Index.Filter.
type RowIDs []int64

// NewRowIDs sorts and deduplicates ids into a RowIDs set.
func NewRowIDs(ids []int64) RowIDs {
	out := append(RowIDs{}, ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	deduped := out[:0]
	var prev int64
	havePrev := false
	for _, id := range out {
		if havePrev && id == prev {
			continue
		}
		deduped = append(deduped, id)
		prev, havePrev = id, true
	}
	return deduped
}

// Intersect returns the sorted ids present in both a and b.
func Intersect(a, b RowIDs) RowIDs {
	var out RowIDs
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// Index is the contract a registered index kind implements. A single Index
// value is a stateless singleton shared across every Definition of that
// kind; per-definition state lives in the opaque params value DecodeParams
// returns.
type Index interface {
	// Kind returns the stable registration key persisted in
	// index.kind.
	Kind() string

	// DecodeParams validates and parses index-specific configuration
	// from the stored params_json.
	DecodeParams(raw json.RawMessage) (any, error)

	// Supports validates def against the target table schema at
	// index-creation time (e.g. a spatial index requires the column named
	// in its params to be a binary geometry column).
	Supports(def Definition, schema *arrow.Schema, params any) error

	// Builder returns a fresh IndexBuilder for a dump or backfill pass
	// over def's table.
	Builder(def Definition, params any) (Builder, error)

	// SupportsFilter is a cheap syntactic check with no I/O, used by
	// scan's filter analysis to decide whether expr
	// is index-eligible for def.
	SupportsFilter(def Definition, params any, expr filter.Expression) bool

	// Filter performs the actual index read and returns the matching
	// row ids.
	Filter(ctx context.Context, def Definition, params any, files []File, open OpenArtifact, expr filter.Expression) (RowIDs, error)

	// Search performs a similarity/ranked search, for index kinds that
	// support one (e.g. vector indices). Kinds that don't support it
	// return ErrSearchNotSupported.
	Search(ctx context.Context, def Definition, params any, files []File, open OpenArtifact, query any, k int) (RowIDs, error)
}

// ErrSearchNotSupported is returned by Index.Search implementations that
// don't offer similarity search.
var ErrSearchNotSupported = fmt.Errorf("index: search not supported by this index kind")

// ErrUnknownExtension is returned by ExtensionEvaluator implementations
// for predicate names they don't advertise, so the engine can try the
// next registered index.
var ErrUnknownExtension = fmt.Errorf("index: unknown extension predicate")

// ExtensionEvaluator is an optional capability of an Index: in-memory
// evaluation of its advertised Extension predicates against rows already
// fetched by a scan. Index kinds whose extension predicates can appear as
// residual conjuncts should implement it.
type ExtensionEvaluator interface {
	EvalExtension(name string, args []any, rec arrow.RecordBatch, row int) (bool, error)
}

// OpenArtifact opens an index artifact's blob for reading, handed to
// Index.Filter/Search so they don't need a direct blob.Store reference —
// the engine is what knows the store and the table's namespace/path
// layout.
type OpenArtifact func(ctx context.Context, f File) (blob.Reader, error)

// Builder accumulates index state for one data file during dump or
// backfill.
type Builder interface {
	// Update accumulates state for batch's rows. Called exactly once per
	// batch of the dumped data in row_id-ascending order.
	Update(ctx context.Context, batch arrow.RecordBatch) error

	// Write consumes all accumulated state and serializes the artifact to
	// w. May be called exactly once. Write does not call w.Finalize; the
	// caller (dump.WriteArtifact) does so as soon as Write returns, and
	// the index_file catalog row for the artifact is inserted only after
	// that.
	Write(ctx context.Context, w blob.Writer) error
}
