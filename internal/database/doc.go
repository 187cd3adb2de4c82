// Package database stores credentials, upload history and the conversion
// cache.
//
// SQLite (WAL mode) is the default backend; a Postgres connection string
// switches to the pgx driver. Queries are written with ? placeholders and
// rebound for Postgres. Credential values can be sealed with a passphrase
// (see package secrets).
package database
