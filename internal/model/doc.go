// Package model defines shared data types used across the market sync client.
//
// Conventions:
//   - Topics: comparable (venue, instrument) values, written as "VENUE:BASE/QUOTE"
//   - Prices and sizes: shopspring decimal.Decimal, never float64
//   - Timestamps: time.Time for local receipt, int64 milliseconds for exchange time
//   - IDs: uuid.UUID for subscribers
package model
