// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Token refresh outcomes and upstream REST call rates/latencies
//   - Stream frame counts by kind and data error counts
//   - Stream session attempts and connection state
//   - Trade writer insert and error counts
//
// All recording methods are safe to call on a nil *Metrics.
package metrics
