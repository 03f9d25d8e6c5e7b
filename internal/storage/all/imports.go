// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) causes the init functions of each concrete storage backend to run,
// which in turn register their factories with the storage package.
//
// Importing this package makes the following storage kinds available at
// runtime:
//
//   - "postgres" (skyetl/internal/storage/postgres)
//   - "mssql"    (skyetl/internal/storage/mssql)
//   - "mysql"    (skyetl/internal/storage/mysql)
//   - "sqlite"   (skyetl/internal/storage/sqlite)
//
// Typical usage (in cmd/skyetl/main.go or a similar wiring layer):
//
//	import _ "skyetl/internal/storage/all" // enable all built-in backends
//
//	repo, err := storage.New(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
//	if err != nil {
//	    // handle error
//	}
//	defer repo.Close()
//
// If you want a binary that supports only a subset of backends, define an
// alternative wiring package that imports only the required backends.
package all

import (
	_ "skyetl/internal/storage/mssql"
	_ "skyetl/internal/storage/mysql"
	_ "skyetl/internal/storage/postgres"
	_ "skyetl/internal/storage/sqlite"
)
