// Package storage persists what the reminder poller reads and writes.
//
// It provides:
//   - the schedule source and user source (read-only to the poller)
//   - the dispatch ledger, with its uniqueness enforced by the database
//   - the in-app notification sink used by the push channel
//
// Drivers: "sqlite" (modernc, embedded), "postgres" (gorm) and "memory".
package storage
