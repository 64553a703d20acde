// Package writer persists realtime trades to PostgreSQL.
//
// Writes are batched with pgx.Batch and are append-only: a trade replayed
// after a reconnect hits the primary key and is counted as a conflict.
// Prices are stored as integer won.
package writer
