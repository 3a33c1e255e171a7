package catalog

import (
	"context"
	"encoding/json"
	"fmt"
)

// This file implements the fixed global metadata schema:
// Namespace, Table, Field, Index definition, Data file, Index file. Unlike
// rowmeta_{table_id}/inline_{table_id} (one pair per user table, owned by
// package rowstore), these six tables are created once per catalog and
// named literally — they are the catalog's own bookkeeping, so they live
// here rather than in a separate package, keeping every SQL-emitting
// concern behind the Catalog/Tx contract.

const (
	namespaceTable = "indexlake_namespace"
	tableTable     = "indexlake_table"
	fieldTable     = "indexlake_field"
	indexTable     = "indexlake_index"
	dataFileTable  = "indexlake_data_file"
	indexFileTable = "indexlake_index_file"

	// metastoreTextLength bounds VARCHAR columns holding names, config
	// JSON, and relative paths — comfortably over any realistic value,
	// matching rowstore.locationColumnLength's sizing rationale.
	metastoreTextLength = 4096
)

// MetastoreDDL returns the DDL statements that create every global
// metadata table, in dependency order. Safe to run once per catalog,
// typically from a migration/bootstrap step the caller drives explicitly.
func MetastoreDDL(dialect Dialect) []string {
	q := func(s string) string { return QuoteIdent(dialect, s) }
	bigint := BigIntType(dialect)
	text := VarcharType(dialect, metastoreTextLength)
	blob := BlobType(dialect)
	boolean := BooleanType(dialect)

	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s %s PRIMARY KEY, %s %s NOT NULL UNIQUE)",
			q(namespaceTable), q("namespace_id"), bigint, q("name"), text),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s %s PRIMARY KEY, %s %s NOT NULL, %s %s NOT NULL, %s %s NOT NULL)",
			q(tableTable), q("table_id"), bigint, q("name"), text, q("namespace_id"), bigint, q("config_json"), text),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s %s PRIMARY KEY, %s %s NOT NULL, %s %s NOT NULL, %s %s NOT NULL, %s %s NOT NULL, %s %s NOT NULL, %s %s NOT NULL)",
			q(fieldTable), q("field_id"), bigint, q("table_id"), bigint, q("ordinal"), bigint,
			q("name"), text, q("data_type"), text, q("nullable"), boolean, q("metadata_json"), text),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s %s PRIMARY KEY, %s %s NOT NULL, %s %s NOT NULL, %s %s NOT NULL, %s %s NOT NULL, %s %s NOT NULL, %s %s NOT NULL)",
			q(indexTable), q("index_id"), bigint, q("table_id"), bigint, q("name"), text,
			q("index_kind"), text, q("key_field_names"), text, q("include_field_names"), text, q("params_json"), blob),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s %s PRIMARY KEY, %s %s NOT NULL, %s %s NOT NULL, %s %s NOT NULL, %s %s NOT NULL, %s %s NOT NULL)",
			q(dataFileTable), q("data_file_id"), bigint, q("table_id"), bigint, q("relative_path"), text,
			q("file_size_bytes"), bigint, q("record_count"), bigint, q("packed_row_ids"), blob),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s %s PRIMARY KEY, %s %s NOT NULL, %s %s NOT NULL, %s %s NOT NULL)",
			q(indexFileTable), q("index_file_id"), bigint, q("index_id"), bigint, q("data_file_id"), bigint, q("relative_path"), text),
	}
}

// nextID allocates the next primary key for table's idColumn the same way
// rowstore.AllocateRowIDs allocates row_id: max(idColumn)+1 inside the
// caller's transaction, relying on the transaction's atomicity rather than
// a dialect-specific AUTOINCREMENT/SERIAL spelling.
func nextID(ctx context.Context, tx Tx, dialect Dialect, table, idColumn string) (int64, error) {
	rows, err := tx.Query(ctx, fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) FROM %s", QuoteIdent(dialect, idColumn), QuoteIdent(dialect, table)))
	if err != nil {
		return 0, fmt.Errorf("catalog: allocate id for %s: %w", table, err)
	}
	defer rows.Close()
	var max int64
	if rows.Next() {
		if err := rows.Scan(&max); err != nil {
			return 0, fmt.Errorf("catalog: allocate id for %s: scan: %w", table, err)
		}
	}
	return max + 1, rows.Err()
}

// Namespace is one row of indexlake_namespace.
type Namespace struct {
	NamespaceID int64
	Name        string
}

// InsertNamespace creates a namespace, returning its allocated id.
func InsertNamespace(ctx context.Context, tx Tx, dialect Dialect, name string) (int64, error) {
	id, err := nextID(ctx, tx, dialect, namespaceTable, "namespace_id")
	if err != nil {
		return 0, err
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
		QuoteIdent(dialect, namespaceTable), QuoteIdent(dialect, "namespace_id"), QuoteIdent(dialect, "name"),
		Placeholder(dialect, 1), Placeholder(dialect, 2))
	if _, err := tx.Execute(ctx, sql, id, name); err != nil {
		return 0, fmt.Errorf("catalog: insert namespace %q: %w", name, err)
	}
	return id, nil
}

// GetNamespaceByName looks up a namespace by name, returning ok=false if
// none exists.
func GetNamespaceByName(ctx context.Context, q Querier, dialect Dialect, name string) (Namespace, bool, error) {
	sql := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = %s",
		QuoteIdent(dialect, "namespace_id"), QuoteIdent(dialect, "name"), QuoteIdent(dialect, namespaceTable),
		QuoteIdent(dialect, "name"), Placeholder(dialect, 1))
	rows, err := q.Query(ctx, sql, name)
	if err != nil {
		return Namespace{}, false, fmt.Errorf("catalog: lookup namespace %q: %w", name, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return Namespace{}, false, rows.Err()
	}
	var ns Namespace
	if err := rows.Scan(&ns.NamespaceID, &ns.Name); err != nil {
		return Namespace{}, false, fmt.Errorf("catalog: lookup namespace %q: scan: %w", name, err)
	}
	return ns, true, nil
}

// TableDef is one row of indexlake_table.
type TableDef struct {
	TableID     int64
	Name        string
	NamespaceID int64
	ConfigJSON  string
}

// InsertTableDef creates a table definition, returning its allocated id.
func InsertTableDef(ctx context.Context, tx Tx, dialect Dialect, namespaceID int64, name, configJSON string) (int64, error) {
	id, err := nextID(ctx, tx, dialect, tableTable, "table_id")
	if err != nil {
		return 0, err
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s) VALUES (%s)",
		QuoteIdent(dialect, tableTable), QuoteIdent(dialect, "table_id"), QuoteIdent(dialect, "name"),
		QuoteIdent(dialect, "namespace_id"), QuoteIdent(dialect, "config_json"), Placeholders(dialect, 0, 4))
	if _, err := tx.Execute(ctx, sql, id, name, namespaceID, configJSON); err != nil {
		return 0, fmt.Errorf("catalog: insert table %q: %w", name, err)
	}
	return id, nil
}

// GetTableDefByName looks up a table definition by namespace and name.
func GetTableDefByName(ctx context.Context, q Querier, dialect Dialect, namespaceID int64, name string) (TableDef, bool, error) {
	sql := fmt.Sprintf("SELECT %s, %s, %s, %s FROM %s WHERE %s = %s AND %s = %s",
		QuoteIdent(dialect, "table_id"), QuoteIdent(dialect, "name"), QuoteIdent(dialect, "namespace_id"), QuoteIdent(dialect, "config_json"),
		QuoteIdent(dialect, tableTable),
		QuoteIdent(dialect, "namespace_id"), Placeholder(dialect, 1),
		QuoteIdent(dialect, "name"), Placeholder(dialect, 2))
	rows, err := q.Query(ctx, sql, namespaceID, name)
	if err != nil {
		return TableDef{}, false, fmt.Errorf("catalog: lookup table %q: %w", name, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return TableDef{}, false, rows.Err()
	}
	var t TableDef
	if err := rows.Scan(&t.TableID, &t.Name, &t.NamespaceID, &t.ConfigJSON); err != nil {
		return TableDef{}, false, fmt.Errorf("catalog: lookup table %q: scan: %w", name, err)
	}
	return t, true, nil
}

// FieldDef is one row of indexlake_field.
type FieldDef struct {
	FieldID      int64
	TableID      int64
	Ordinal      int64
	Name         string
	DataType     string
	Nullable     bool
	MetadataJSON string
}

// InsertFields inserts fields in order (ordinal = position in the slice),
// returning their allocated ids in the same order.
func InsertFields(ctx context.Context, tx Tx, dialect Dialect, tableID int64, fields []FieldDef) ([]int64, error) {
	ids := make([]int64, len(fields))
	for i, f := range fields {
		id, err := nextID(ctx, tx, dialect, fieldTable, "field_id")
		if err != nil {
			return nil, err
		}
		sql := fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s) VALUES (%s)",
			QuoteIdent(dialect, fieldTable),
			QuoteIdent(dialect, "field_id"), QuoteIdent(dialect, "table_id"), QuoteIdent(dialect, "ordinal"),
			QuoteIdent(dialect, "name"), QuoteIdent(dialect, "data_type"), QuoteIdent(dialect, "nullable"), QuoteIdent(dialect, "metadata_json"),
			Placeholders(dialect, 0, 7))
		if _, err := tx.Execute(ctx, sql, id, tableID, int64(i), f.Name, f.DataType, f.Nullable, f.MetadataJSON); err != nil {
			return nil, fmt.Errorf("catalog: insert field %q: %w", f.Name, err)
		}
		ids[i] = id
	}
	return ids, nil
}

// ListFields returns tableID's fields ordered by ordinal ascending.
func ListFields(ctx context.Context, q Querier, dialect Dialect, tableID int64) ([]FieldDef, error) {
	sql := fmt.Sprintf("SELECT %s, %s, %s, %s, %s, %s, %s FROM %s WHERE %s = %s ORDER BY %s ASC",
		QuoteIdent(dialect, "field_id"), QuoteIdent(dialect, "table_id"), QuoteIdent(dialect, "ordinal"),
		QuoteIdent(dialect, "name"), QuoteIdent(dialect, "data_type"), QuoteIdent(dialect, "nullable"), QuoteIdent(dialect, "metadata_json"),
		QuoteIdent(dialect, fieldTable), QuoteIdent(dialect, "table_id"), Placeholder(dialect, 1), QuoteIdent(dialect, "ordinal"))
	rows, err := q.Query(ctx, sql, tableID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list fields for table %d: %w", tableID, err)
	}
	defer rows.Close()
	var out []FieldDef
	for rows.Next() {
		var f FieldDef
		if err := rows.Scan(&f.FieldID, &f.TableID, &f.Ordinal, &f.Name, &f.DataType, &f.Nullable, &f.MetadataJSON); err != nil {
			return nil, fmt.Errorf("catalog: list fields for table %d: scan: %w", tableID, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// IndexDef is one row of indexlake_index.
type IndexDef struct {
	IndexID           int64
	TableID           int64
	Name              string
	Kind              string
	KeyFieldNames     []string
	IncludeFieldNames []string
	ParamsJSON        []byte
}

// InsertIndexDef creates an index definition, returning its allocated id.
func InsertIndexDef(ctx context.Context, tx Tx, dialect Dialect, def IndexDef) (int64, error) {
	id, err := nextID(ctx, tx, dialect, indexTable, "index_id")
	if err != nil {
		return 0, err
	}
	keyJSON, err := json.Marshal(def.KeyFieldNames)
	if err != nil {
		return 0, fmt.Errorf("catalog: encode key field names: %w", err)
	}
	includeJSON, err := json.Marshal(def.IncludeFieldNames)
	if err != nil {
		return 0, fmt.Errorf("catalog: encode include field names: %w", err)
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s) VALUES (%s)",
		QuoteIdent(dialect, indexTable),
		QuoteIdent(dialect, "index_id"), QuoteIdent(dialect, "table_id"), QuoteIdent(dialect, "name"),
		QuoteIdent(dialect, "index_kind"), QuoteIdent(dialect, "key_field_names"), QuoteIdent(dialect, "include_field_names"), QuoteIdent(dialect, "params_json"),
		Placeholders(dialect, 0, 7))
	if _, err := tx.Execute(ctx, sql, id, def.TableID, def.Name, def.Kind, string(keyJSON), string(includeJSON), []byte(def.ParamsJSON)); err != nil {
		return 0, fmt.Errorf("catalog: insert index %q: %w", def.Name, err)
	}
	return id, nil
}

// ListIndexDefs returns every index definition registered on tableID.
func ListIndexDefs(ctx context.Context, q Querier, dialect Dialect, tableID int64) ([]IndexDef, error) {
	sql := fmt.Sprintf("SELECT %s, %s, %s, %s, %s, %s, %s FROM %s WHERE %s = %s",
		QuoteIdent(dialect, "index_id"), QuoteIdent(dialect, "table_id"), QuoteIdent(dialect, "name"), QuoteIdent(dialect, "index_kind"),
		QuoteIdent(dialect, "key_field_names"), QuoteIdent(dialect, "include_field_names"), QuoteIdent(dialect, "params_json"),
		QuoteIdent(dialect, indexTable), QuoteIdent(dialect, "table_id"), Placeholder(dialect, 1))
	rows, err := q.Query(ctx, sql, tableID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list indices for table %d: %w", tableID, err)
	}
	defer rows.Close()
	var out []IndexDef
	for rows.Next() {
		var d IndexDef
		var keyJSON, includeJSON string
		var params []byte
		if err := rows.Scan(&d.IndexID, &d.TableID, &d.Name, &d.Kind, &keyJSON, &includeJSON, &params); err != nil {
			return nil, fmt.Errorf("catalog: list indices for table %d: scan: %w", tableID, err)
		}
		if err := json.Unmarshal([]byte(keyJSON), &d.KeyFieldNames); err != nil {
			return nil, fmt.Errorf("catalog: decode key field names for index %q: %w", d.Name, err)
		}
		if err := json.Unmarshal([]byte(includeJSON), &d.IncludeFieldNames); err != nil {
			return nil, fmt.Errorf("catalog: decode include field names for index %q: %w", d.Name, err)
		}
		d.ParamsJSON = params
		out = append(out, d)
	}
	return out, rows.Err()
}

// DataFile is one row of indexlake_data_file.
type DataFile struct {
	DataFileID    int64
	TableID       int64
	RelativePath  string
	FileSizeBytes int64
	RecordCount   int64
	PackedRowIDs  []byte
}

// InsertDataFile creates a data_file record, returning its allocated id.
func InsertDataFile(ctx context.Context, tx Tx, dialect Dialect, f DataFile) (int64, error) {
	id, err := nextID(ctx, tx, dialect, dataFileTable, "data_file_id")
	if err != nil {
		return 0, err
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s, %s, %s) VALUES (%s)",
		QuoteIdent(dialect, dataFileTable),
		QuoteIdent(dialect, "data_file_id"), QuoteIdent(dialect, "table_id"), QuoteIdent(dialect, "relative_path"),
		QuoteIdent(dialect, "file_size_bytes"), QuoteIdent(dialect, "record_count"), QuoteIdent(dialect, "packed_row_ids"),
		Placeholders(dialect, 0, 6))
	if _, err := tx.Execute(ctx, sql, id, f.TableID, f.RelativePath, f.FileSizeBytes, f.RecordCount, f.PackedRowIDs); err != nil {
		return 0, fmt.Errorf("catalog: insert data file %q: %w", f.RelativePath, err)
	}
	return id, nil
}

// ListDataFiles returns every data_file row for tableID.
func ListDataFiles(ctx context.Context, q Querier, dialect Dialect, tableID int64) ([]DataFile, error) {
	sql := fmt.Sprintf("SELECT %s, %s, %s, %s, %s, %s FROM %s WHERE %s = %s",
		QuoteIdent(dialect, "data_file_id"), QuoteIdent(dialect, "table_id"), QuoteIdent(dialect, "relative_path"),
		QuoteIdent(dialect, "file_size_bytes"), QuoteIdent(dialect, "record_count"), QuoteIdent(dialect, "packed_row_ids"),
		QuoteIdent(dialect, dataFileTable), QuoteIdent(dialect, "table_id"), Placeholder(dialect, 1))
	rows, err := q.Query(ctx, sql, tableID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list data files for table %d: %w", tableID, err)
	}
	defer rows.Close()
	var out []DataFile
	for rows.Next() {
		var f DataFile
		if err := rows.Scan(&f.DataFileID, &f.TableID, &f.RelativePath, &f.FileSizeBytes, &f.RecordCount, &f.PackedRowIDs); err != nil {
			return nil, fmt.Errorf("catalog: list data files for table %d: scan: %w", tableID, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// IndexFile is one row of indexlake_index_file.
type IndexFile struct {
	IndexFileID  int64
	IndexID      int64
	DataFileID   int64
	RelativePath string
}

// InsertIndexFile creates an index_file record, returning its allocated id.
func InsertIndexFile(ctx context.Context, tx Tx, dialect Dialect, f IndexFile) (int64, error) {
	id, err := nextID(ctx, tx, dialect, indexFileTable, "index_file_id")
	if err != nil {
		return 0, err
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s) VALUES (%s)",
		QuoteIdent(dialect, indexFileTable),
		QuoteIdent(dialect, "index_file_id"), QuoteIdent(dialect, "index_id"), QuoteIdent(dialect, "data_file_id"), QuoteIdent(dialect, "relative_path"),
		Placeholders(dialect, 0, 4))
	if _, err := tx.Execute(ctx, sql, id, f.IndexID, f.DataFileID, f.RelativePath); err != nil {
		return 0, fmt.Errorf("catalog: insert index file for index %d: %w", f.IndexID, err)
	}
	return id, nil
}

// ListIndexFiles returns every index_file row for indexID.
func ListIndexFiles(ctx context.Context, q Querier, dialect Dialect, indexID int64) ([]IndexFile, error) {
	sql := fmt.Sprintf("SELECT %s, %s, %s, %s FROM %s WHERE %s = %s",
		QuoteIdent(dialect, "index_file_id"), QuoteIdent(dialect, "index_id"), QuoteIdent(dialect, "data_file_id"), QuoteIdent(dialect, "relative_path"),
		QuoteIdent(dialect, indexFileTable), QuoteIdent(dialect, "index_id"), Placeholder(dialect, 1))
	rows, err := q.Query(ctx, sql, indexID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list index files for index %d: %w", indexID, err)
	}
	defer rows.Close()
	var out []IndexFile
	for rows.Next() {
		var f IndexFile
		if err := rows.Scan(&f.IndexFileID, &f.IndexID, &f.DataFileID, &f.RelativePath); err != nil {
			return nil, fmt.Errorf("catalog: list index files for index %d: scan: %w", indexID, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteTableMetadata removes a table's definition, field, index, data
// file, and index file rows in one pass, used by table drop. The caller
// drops the dynamic rowmeta/inline tables in the same transaction.
func DeleteTableMetadata(ctx context.Context, tx Tx, dialect Dialect, tableID int64) error {
	q := func(s string) string { return QuoteIdent(dialect, s) }
	ph := Placeholder(dialect, 1)
	stmts := []string{
		fmt.Sprintf("DELETE FROM %s WHERE %s IN (SELECT %s FROM %s WHERE %s = %s)",
			q(indexFileTable), q("index_id"), q("index_id"), q(indexTable), q("table_id"), ph),
		fmt.Sprintf("DELETE FROM %s WHERE %s = %s", q(indexTable), q("table_id"), ph),
		fmt.Sprintf("DELETE FROM %s WHERE %s = %s", q(dataFileTable), q("table_id"), ph),
		fmt.Sprintf("DELETE FROM %s WHERE %s = %s", q(fieldTable), q("table_id"), ph),
		fmt.Sprintf("DELETE FROM %s WHERE %s = %s", q(tableTable), q("table_id"), ph),
	}
	for _, stmt := range stmts {
		if _, err := tx.Execute(ctx, stmt, tableID); err != nil {
			return fmt.Errorf("catalog: delete metadata for table %d: %w", tableID, err)
		}
	}
	return nil
}

// Querier is satisfied by both Catalog and Tx, mirroring rowstore.Querier
// for the same single-shot-or-snapshot read flexibility.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
}
