// Package server exposes the quotation endpoints over HTTP.
//
// Each route is a thin mapping onto one api.Client call and passes the
// upstream JSON through unchanged:
//
//	GET /stock/:code                  current price
//	GET /history/:code/:start/:end    daily chart, dates as YYYYMMDD
//	GET /etf/:code                    ETF/ETN price
//	GET /news/:code                   news headlines
//	GET /finance/:code/:data_type     financial statements
//	GET /health                       token and stream status
//	GET /metrics                      Prometheus metrics
//
// Upstream failures are reported as JSON error bodies; see writeError.
package server
