// Package database provides the SQLite-backed EntityRecord store.
//
// The RecordDB holds:
//   - one row per successfully retrieved repository (append-only, keyed by id)
//   - one row per repository whose retrieval failed, with an attempt count
//
// A record's presence is evidence on its own that a repository must never
// be retrieved again, independent of the identity ledger. The store uses
// modernc.org/sqlite, a CGO-free driver, in WAL mode.
package database
