// Package database provides the PostgreSQL connection pool used for trade
// persistence.
package database
