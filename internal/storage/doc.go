// Package storage is the bot's key/value persistence layer.
//
// Values are opaque bytes with an optional TTL; GetJSON and PutJSON cover
// the common case of cached JSON documents. Drivers:
//   - "memory": process-local map
//   - "file":   JSON snapshot + append-only journal
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "redis":  Redis, TTL handled by the server
package storage
