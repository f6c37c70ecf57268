// Package storage provides the optional notification journal.
//
// The journal is an append-only export of delivered notifications for
// operators and external tooling. It is never replayed into lending state:
// loans and reservations live in memory only.
//
// Drivers:
//   - "file":     JSON Lines file (<path>.notifications.jsonl)
//   - "sqlite":   SQLite database file (pure Go driver)
//   - "postgres": PostgreSQL via a pgx connection pool
package storage
