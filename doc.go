// Package indexlake is a storage engine for tabular datasets with
// first-class secondary indices. Freshly written rows live in a relational
// metadata store (the catalog) for low-latency access; aged rows are
// migrated by a background dump task into immutable columnar files in a
// blob store. A per-table row-metadata "address book" ties the two tiers
// together, and a pluggable index framework lets acceleration structures
// (hash, spatial, ...) be built against the same row population and
// consulted at scan time.
//
// The Client is the entry point: it owns the catalog and blob store
// handles plus the registered index kinds, and hands out per-table Table
// handles for DML.
//
//	cat, _ := catalog.OpenSqlite("indexlake.db")
//	store, _ := blob.NewLocalStore("./lakedata")
//	reg, _ := index.NewRegistryBuilder().
//	    Register(hashindex.New()).
//	    Register(spatial.New()).
//	    Build()
//	client, _ := indexlake.NewClient(ctx, indexlake.Config{
//	    Catalog: cat, Store: store, Registry: reg,
//	})
//	tbl, _ := client.CreateTable(ctx, "ns", "events", schema, indexlake.DefaultTableConfig())
//	_ = tbl.Insert(ctx, batch)
package indexlake
