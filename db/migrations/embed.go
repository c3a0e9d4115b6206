// Package dbmigrations exposes embedded SQL migrations for wgg binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into wgg binaries.
//
//go:embed *.sql
var Files embed.FS
