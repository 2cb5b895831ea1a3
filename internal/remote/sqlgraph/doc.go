// Package sqlgraph stores a remote resource graph in SQLite.
//
// It backs the CLI and integration tests: fixtures are written through
// PutResource and the synchronizer reads through read-only transactions.
// The schema lives in schema.sql and is applied on Open.
package sqlgraph
