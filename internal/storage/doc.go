// Package storage persists finished batch runs.
//
// Only outcomes are written: a run is recorded once its queue has settled.
// Pending work is never persisted and nothing is resumed from storage.
//
// Drivers:
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "file":   append-only JSON Lines file
//   - "" / "none": disabled, Open returns (nil, nil)
package storage
