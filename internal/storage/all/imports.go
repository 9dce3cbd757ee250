// Package all wires every built-in sink into the storage registry.
//
// It exists purely for side effects: importing it runs the init functions of
// each sink package, which register their factories. After
//
//	import _ "i94etl/internal/storage/all"
//
// the following kinds are available to storage.New:
//
//   - "parquet"  (local parquet tree, internal/storage/parquetfs)
//   - "s3"       (parquet objects in a bucket, internal/storage/s3)
//   - "postgres" (internal/storage/postgres)
//   - "mysql"    (internal/storage/mysql)
//   - "mssql"    (internal/storage/mssql)
//   - "sqlite"   (internal/storage/sqlite)
//
// A binary that needs only some sinks can blank-import those packages instead.
package all

import (
	_ "i94etl/internal/storage/mssql"
	_ "i94etl/internal/storage/mysql"
	_ "i94etl/internal/storage/parquetfs"
	_ "i94etl/internal/storage/postgres"
	_ "i94etl/internal/storage/s3"
	_ "i94etl/internal/storage/sqlite"
)
