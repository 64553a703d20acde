// Package model defines shared data types used across the KIS market-data gateway.
//
// Conventions:
//   - Prices: integer won
//   - Rates: decimal percentages as sent by the exchange
//   - Timestamps: int64 microseconds since Unix epoch
//   - Trade times: exchange-local HHMMSS strings
package model
