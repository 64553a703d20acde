// Package cache provides the Redis-backed response cache used for slow-moving
// upstream data such as financial statements.
package cache
