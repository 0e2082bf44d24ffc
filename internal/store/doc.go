// Package store provides persistence for the session configuration and the
// Conn pushes the server sends.
//
// It contains concrete implementations of the domain storage interfaces:
//   - Session configuration, sealed under a passphrase (SessionFileStore)
//   - Latest Conn push as plain JSON (ConnFileStore)
//   - Full Conn history in SQLite (ConnSQLiteStore)
//
// All methods are concurrency-safe. Files typically live under the user's
// configured home directory.
package store
