// Package all wires all built-in warehouse backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each concrete backend, which register
// their factories with the storage package. The kinds made available are:
//
//   - "mssql"    (tradeload/internal/storage/mssql)
//   - "postgres" (tradeload/internal/storage/postgres)
//   - "mysql"    (tradeload/internal/storage/mysql)
//   - "sqlite"   (tradeload/internal/storage/sqlite)
//
// Typical usage (in cmd/tradeload):
//
//	import _ "tradeload/internal/storage/all"
//
//	wh, err := storage.New(ctx, storage.Config{Kind: cfg.Warehouse.Kind, DSN: cfg.Warehouse.DSN})
//	if err != nil {
//	    // handle error
//	}
//	defer wh.Close()
//
// A binary that supports only a subset of backends can blank-import the
// backend packages it needs instead of this package.
package all

import (
	_ "tradeload/internal/storage/mssql"
	_ "tradeload/internal/storage/mysql"
	_ "tradeload/internal/storage/postgres"
	_ "tradeload/internal/storage/sqlite"
)
