// Package dump implements the background migration of inline rows to
// external columnar files. One Run moves the currently-selected batch of
// inline rows into a single new data file, rewrites their rowmeta
// addresses, records the data_file row, and builds one index artifact per
// registered index — all metadata under a single catalog transaction whose
// commit is the linearization point; blob writes happen outside the
// transaction but before commit, so a failure anywhere rolls metadata back
// and best-effort-deletes the orphaned files.
package dump

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/indexlake/indexlake/blob"
	"github.com/indexlake/indexlake/catalog"
	"github.com/indexlake/indexlake/columnar"
	"github.com/indexlake/indexlake/engine"
	"github.com/indexlake/indexlake/index"
	"github.com/indexlake/indexlake/internal/idcodec"
	"github.com/indexlake/indexlake/internal/recovery"
	"github.com/indexlake/indexlake/rowstore"
)

// DataFilePath builds the collision-free relative path of a new data
// file: namespace/{ns}/table/{tbl}/data/{uuid}.parquet.
func DataFilePath(namespace, table string) string {
	return fmt.Sprintf("namespace/%s/table/%s/data/%s.parquet", namespace, table, uuid.NewString())
}

// IndexFilePath builds the relative path of one index artifact:
// namespace/{ns}/table/{tbl}/index/{index_id}/{data_file_id}.idx.
func IndexFilePath(namespace, table string, indexID, dataFileID int64) string {
	return fmt.Sprintf("namespace/%s/table/%s/index/%d/%d.idx", namespace, table, indexID, dataFileID)
}

// Result describes one completed dump pass.
type Result struct {
	DataFileID   int64
	RelativePath string
	RowIDs       []int64
	RowCount     int64
}

// Run performs one dump pass over t. It returns (nil, nil) when the inline
// tier had no rows to migrate. A successful Run drains every row its batch
// query selected; rows inserted after the selection stay inline until the
// next pass.
func Run(ctx context.Context, t *engine.Table) (res *Result, err error) {
	if t.NewColumnar == nil {
		return nil, fmt.Errorf("dump: table %d has no columnar writer factory", t.TableID)
	}
	dialect := t.Cat.Dialect()

	tx, err := t.Cat.Transaction(ctx)
	if err != nil {
		return nil, fmt.Errorf("dump: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	rowIDs, rec, err := rowstore.SelectInlineBatch(ctx, tx, dialect, t.TableID, t.Fields, t.DumpBatchRowCount)
	if err != nil {
		return nil, fmt.Errorf("dump: select inline batch: %w", err)
	}
	defer rec.Release()
	if len(rowIDs) == 0 {
		return nil, nil
	}

	// Every blob created before commit; deleted on any failure after.
	var createdPaths []string
	defer func() {
		if err == nil {
			return
		}
		logger := t.Logger
		if logger == nil {
			logger = slog.Default()
		}
		for _, p := range createdPaths {
			path := p
			recovery.Run(logger, "dump_cleanup", func() {
				_ = t.Store.Delete(context.WithoutCancel(ctx), path)
			})
		}
	}()

	path := DataFilePath(t.Namespace, t.Name)
	createdPaths = append(createdPaths, path)
	addrs, rowCount, err := writeDataFile(ctx, t, path, rec)
	if err != nil {
		return nil, err
	}

	for i, id := range rowIDs {
		loc := rowstore.FormatExternalLocation(path, addrs[i])
		if err = rowstore.UpdateRowMetaLocation(ctx, tx, dialect, t.TableID, id, loc); err != nil {
			return nil, fmt.Errorf("dump: %w", err)
		}
	}
	if _, err = rowstore.DeleteInlineByRowIDs(ctx, tx, dialect, t.TableID, rowIDs); err != nil {
		return nil, fmt.Errorf("dump: %w", err)
	}

	fileSize, err := blobSize(ctx, t.Store, path)
	if err != nil {
		return nil, fmt.Errorf("dump: stat %s: %w", path, err)
	}
	dataFileID, err := catalog.InsertDataFile(ctx, tx, dialect, catalog.DataFile{
		TableID:       t.TableID,
		RelativePath:  path,
		FileSizeBytes: fileSize,
		RecordCount:   rowCount,
		PackedRowIDs:  idcodec.Encode(rowIDs),
	})
	if err != nil {
		return nil, fmt.Errorf("dump: %w", err)
	}

	artifactPaths, err := buildIndexArtifacts(ctx, t, dataFileID, rec, rowIDs, &createdPaths)
	if err != nil {
		return nil, err
	}
	for _, a := range artifactPaths {
		if _, err = catalog.InsertIndexFile(ctx, tx, dialect, catalog.IndexFile{
			IndexID:      a.indexID,
			DataFileID:   dataFileID,
			RelativePath: a.path,
		}); err != nil {
			return nil, fmt.Errorf("dump: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("dump: commit: %w", err)
	}
	committed = true
	return &Result{DataFileID: dataFileID, RelativePath: path, RowIDs: rowIDs, RowCount: rowCount}, nil
}

// writeDataFile streams rec into a new columnar file at path and returns
// the per-row addresses the writer assigned.
func writeDataFile(ctx context.Context, t *engine.Table, path string, rec arrow.RecordBatch) ([]columnar.Address, int64, error) {
	w, err := t.NewColumnar(ctx, path, rowstore.Schema(t.Fields))
	if err != nil {
		return nil, 0, fmt.Errorf("dump: open data file %s: %w", path, err)
	}
	addrs, err := w.WriteBatch(ctx, rec)
	if err != nil {
		return nil, 0, fmt.Errorf("dump: write data file %s: %w", path, err)
	}
	rowCount, err := w.Close(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("dump: finalize data file %s: %w", path, err)
	}
	return addrs, rowCount, nil
}

type artifactRef struct {
	indexID int64
	path    string
}

// buildIndexArtifacts builds one artifact per registered index for the
// freshly written data file, fanning the per-index builder feeds out over
// an errgroup. The index_file catalog rows (step 9e) are inserted by the
// caller, serially, on the single dump transaction.
func buildIndexArtifacts(ctx context.Context, t *engine.Table, dataFileID int64, rec arrow.RecordBatch, rowIDs []int64, createdPaths *[]string) ([]artifactRef, error) {
	if len(t.Indices) == 0 {
		return nil, nil
	}
	builderRec := withRowIDColumn(rec, rowIDs)
	defer builderRec.Release()

	refs := make([]artifactRef, len(t.Indices))
	for i, b := range t.Indices {
		refs[i] = artifactRef{
			indexID: b.Def.IndexID,
			path:    IndexFilePath(t.Namespace, t.Name, b.Def.IndexID, dataFileID),
		}
		*createdPaths = append(*createdPaths, refs[i].path)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, b := range t.Indices {
		i, b := i, b
		g.Go(func() error {
			return buildOneArtifact(gctx, t, b, builderRec, refs[i].path)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("dump: build index artifacts: %w", err)
	}
	return refs, nil
}

// buildOneArtifact feeds the dumped batch into one index's builder and
// writes the finalized artifact, with panic containment around every call
// into the pluggable implementation.
func buildOneArtifact(ctx context.Context, t *engine.Table, b engine.IndexBinding, rec arrow.RecordBatch, path string) error {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return recovery.ToError(logger, "index_build:"+b.Def.Name, func() error {
		builder, err := b.Impl.Builder(b.Def, b.Params)
		if err != nil {
			return fmt.Errorf("index %q: builder: %w", b.Def.Name, err)
		}
		if err := builder.Update(ctx, rec); err != nil {
			return fmt.Errorf("index %q: update: %w", b.Def.Name, err)
		}
		return WriteArtifact(ctx, t.Store, builder, path)
	})
}

// WriteArtifact creates path on store, has builder serialize into it, and
// finalizes the blob. Shared by dump and by index backfill, which replays
// steps 9a–e over pre-existing data files.
func WriteArtifact(ctx context.Context, store blob.Store, builder index.Builder, path string) error {
	w, err := store.Create(ctx, path)
	if err != nil {
		return fmt.Errorf("create artifact %s: %w", path, err)
	}
	if err := builder.Write(ctx, w); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	if err := w.Finalize(ctx); err != nil {
		return fmt.Errorf("finalize artifact %s: %w", path, err)
	}
	return nil
}

// WithRowIDColumn appends a row_id column to rec so index builders, which
// key their state by row id, can see it alongside the user
// columns the data file itself stores.
func WithRowIDColumn(rec arrow.RecordBatch, rowIDs []int64) arrow.RecordBatch {
	return withRowIDColumn(rec, rowIDs)
}

func withRowIDColumn(rec arrow.RecordBatch, rowIDs []int64) arrow.RecordBatch {
	bldr := array.NewInt64Builder(memory.DefaultAllocator)
	bldr.AppendValues(rowIDs, nil)
	idArr := bldr.NewInt64Array()
	bldr.Release()
	defer idArr.Release()

	fields := make([]arrow.Field, 0, rec.NumCols()+1)
	cols := make([]arrow.Array, 0, rec.NumCols()+1)
	for i := 0; i < int(rec.NumCols()); i++ {
		fields = append(fields, rec.Schema().Field(i))
		col := rec.Column(i)
		col.Retain()
		cols = append(cols, col)
	}
	idArr.Retain()
	fields = append(fields, arrow.Field{Name: rowstore.RowIDColumn, Type: arrow.PrimitiveTypes.Int64})
	cols = append(cols, idArr)
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, rec.NumRows())
}

func blobSize(ctx context.Context, store blob.Store, path string) (int64, error) {
	r, err := store.Open(ctx, path)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return r.Size(ctx)
}
