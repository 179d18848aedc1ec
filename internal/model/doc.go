// Package model defines shared data types used across the liquidity gateway.
//
// Conventions:
//   - Amounts and reserves: decimal.Decimal, encoded as JSON strings
//   - Indexer timestamps: uint64 milliseconds since Unix epoch, encoded as JSON strings
//   - Block heights: uint64, encoded as JSON strings
//   - IDs: on-chain addresses as strings
package model
