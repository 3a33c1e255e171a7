package indexlake

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/indexlake/indexlake/blob"
	"github.com/indexlake/indexlake/catalog"
	"github.com/indexlake/indexlake/columnar"
	"github.com/indexlake/indexlake/dump"
	"github.com/indexlake/indexlake/index"
	"github.com/indexlake/indexlake/internal/txn"
	"github.com/indexlake/indexlake/rowstore"
)

// Config configures a Client. Catalog and Store are required; a nil
// Registry means no index kinds are available, and a nil Logger defaults
// to slog.Default.
type Config struct {
	Catalog  catalog.Catalog
	Store    blob.Store
	Registry *index.Registry
	Logger   *slog.Logger

	// DumpFailures receives errors from background dump passes. May be nil.
	DumpFailures dump.FailureSink
}

// Client is the top-level handle: it owns the catalog and blob-store
// references plus the registered index kinds, and coordinates table
// creation, opening, and background dump scheduling. The registered-indices
// map is read-only after construction.
type Client struct {
	cat       catalog.Catalog
	store     blob.Store
	registry  *index.Registry
	logger    *slog.Logger
	scheduler *dump.Scheduler
	backend   *columnar.ParquetBackend
}

// NewClient constructs a Client and bootstraps the global metadata tables
// if they don't exist yet.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Catalog == nil {
		return nil, &InvalidArgumentError{Field: "Catalog", Reason: "required"}
	}
	if cfg.Store == nil {
		return nil, &InvalidArgumentError{Field: "Store", Reason: "required"}
	}
	registry := cfg.Registry
	if registry == nil {
		var err error
		registry, err = index.NewRegistryBuilder().Build()
		if err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	err := txn.Run(ctx, cfg.Catalog, func(tx catalog.Tx) error {
		return tx.ExecuteBatch(ctx, catalog.MetastoreDDL(cfg.Catalog.Dialect()))
	})
	if err != nil {
		return nil, &CatalogError{Op: "bootstrap metastore", Err: err}
	}

	return &Client{
		cat:       cfg.Catalog,
		store:     cfg.Store,
		registry:  registry,
		logger:    logger,
		scheduler: dump.NewScheduler(logger, cfg.DumpFailures),
		backend:   &columnar.ParquetBackend{Store: cfg.Store},
	}, nil
}

// Close waits for in-flight dump passes and releases the catalog handle.
// The blob store is caller-owned and is not closed here.
func (c *Client) Close() error {
	c.scheduler.Wait()
	return c.cat.Close()
}

// CreateNamespace creates a namespace. Creating a namespace
// that already exists is an error.
func (c *Client) CreateNamespace(ctx context.Context, name string) error {
	if name == "" {
		return &InvalidArgumentError{Field: "name", Reason: "must not be empty"}
	}
	dialect := c.cat.Dialect()
	return txn.Run(ctx, c.cat, func(tx catalog.Tx) error {
		if _, ok, err := catalog.GetNamespaceByName(ctx, tx, dialect, name); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("indexlake: namespace %q already exists", name)
		}
		_, err := catalog.InsertNamespace(ctx, tx, dialect, name)
		return err
	})
}

// CreateTable creates a user table in namespace: its definition and field
// rows in the global metadata, and the two per-table dynamic tables
// rowmeta_{id} and inline_{id}, all in one transaction.
func (c *Client) CreateTable(ctx context.Context, namespace, name string, schema *arrow.Schema, cfg TableConfig) (*Table, error) {
	fields := rowstore.FieldsFromSchema(schema)
	for _, f := range fields {
		if f.Name == rowstore.RowIDColumn || f.Name == rowstore.RowIDAlias {
			return nil, &InvalidArgumentError{Field: f.Name, Reason: "column name is reserved"}
		}
	}
	cfg = cfg.withDefaults()
	configJSON, err := cfg.encode()
	if err != nil {
		return nil, err
	}

	dialect := c.cat.Dialect()
	var tableID int64
	err = txn.Run(ctx, c.cat, func(tx catalog.Tx) error {
		ns, ok, err := catalog.GetNamespaceByName(ctx, tx, dialect, namespace)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("namespace %q: %w", namespace, ErrNotFound)
		}
		if _, ok, err := catalog.GetTableDefByName(ctx, tx, dialect, ns.NamespaceID, name); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("indexlake: table %q already exists in namespace %q", name, namespace)
		}

		tableID, err = catalog.InsertTableDef(ctx, tx, dialect, ns.NamespaceID, name, configJSON)
		if err != nil {
			return err
		}

		fieldDefs := make([]catalog.FieldDef, len(fields))
		for i, f := range fields {
			typeName, err := rowstore.TypeName(f.Type)
			if err != nil {
				return err
			}
			fieldDefs[i] = catalog.FieldDef{Name: f.Name, DataType: typeName, Nullable: f.Nullable, MetadataJSON: "{}"}
		}
		if _, err := catalog.InsertFields(ctx, tx, dialect, tableID, fieldDefs); err != nil {
			return err
		}

		inlineDDL, err := rowstore.CreateInlineTableSQL(dialect, tableID, fields)
		if err != nil {
			return err
		}
		return tx.ExecuteBatch(ctx, []string{
			rowstore.CreateRowMetaTableSQL(dialect, tableID),
			inlineDDL,
		})
	})
	if err != nil {
		return nil, &CatalogError{Op: "create table", Err: err}
	}
	return c.newTable(tableID, namespace, name, fields, cfg), nil
}

// OpenTable opens an existing table by namespace and name.
func (c *Client) OpenTable(ctx context.Context, namespace, name string) (*Table, error) {
	dialect := c.cat.Dialect()
	ns, ok, err := catalog.GetNamespaceByName(ctx, c.cat, dialect, namespace)
	if err != nil {
		return nil, &CatalogError{Op: "open table", Err: err}
	}
	if !ok {
		return nil, fmt.Errorf("namespace %q: %w", namespace, ErrNotFound)
	}
	def, ok, err := catalog.GetTableDefByName(ctx, c.cat, dialect, ns.NamespaceID, name)
	if err != nil {
		return nil, &CatalogError{Op: "open table", Err: err}
	}
	if !ok {
		return nil, fmt.Errorf("table %q: %w", name, ErrNotFound)
	}

	fieldDefs, err := catalog.ListFields(ctx, c.cat, dialect, def.TableID)
	if err != nil {
		return nil, &CatalogError{Op: "open table", Err: err}
	}
	fields := make([]rowstore.Field, len(fieldDefs))
	for i, fd := range fieldDefs {
		t, err := rowstore.TypeFromName(fd.DataType)
		if err != nil {
			return nil, err
		}
		fields[i] = rowstore.Field{Name: fd.Name, Type: t, Nullable: fd.Nullable}
	}
	cfg, err := decodeTableConfig(def.ConfigJSON)
	if err != nil {
		return nil, err
	}

	t := c.newTable(def.TableID, namespace, name, fields, cfg)
	if err := t.refreshIndexes(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// DropTable removes a table's definition, field and index metadata, its
// dynamic tables, and every blob under its namespace/table prefix. Data
// file and index file records go with the table row; there is no soft
// delete at the table level.
func (c *Client) DropTable(ctx context.Context, namespace, name string) error {
	t, err := c.OpenTable(ctx, namespace, name)
	if err != nil {
		return err
	}
	dialect := c.cat.Dialect()
	err = txn.Run(ctx, c.cat, func(tx catalog.Tx) error {
		if err := catalog.DeleteTableMetadata(ctx, tx, dialect, t.eng.TableID); err != nil {
			return err
		}
		return tx.ExecuteBatch(ctx, rowstore.DropTablesSQL(dialect, t.eng.TableID))
	})
	if err != nil {
		return &CatalogError{Op: "drop table", Err: err}
	}
	prefix := fmt.Sprintf("namespace/%s/table/%s", namespace, name)
	if err := c.store.RemoveDirAll(ctx, prefix); err != nil {
		return &StorageError{Op: "remove", Path: prefix, Err: err}
	}
	return nil
}

func (c *Client) newTable(tableID int64, namespace, name string, fields []rowstore.Field, cfg TableConfig) *Table {
	t := &Table{client: c, config: cfg}
	t.eng = engineTable{
		Cat:                 c.cat,
		Store:               c.store,
		Logger:              c.logger,
		TableID:             tableID,
		Namespace:           namespace,
		Name:                name,
		Fields:              fields,
		InlineRowCountLimit: cfg.InlineRowCountLimit,
		DumpBatchRowCount:   cfg.DumpBatchRowCount,
		OpenColumnar:        c.backend.OpenReader,
		NewColumnar:         c.backend.NewWriter,
	}
	t.eng.Dumper = func(_ context.Context, tableID int64) {
		c.scheduler.Enqueue(tableID, t.runDump)
	}
	return t
}
