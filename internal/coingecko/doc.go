// Package coingecko provides a minimal CoinGecko REST client for USD quotes.
//
// Endpoints:
//   - Public: https://api.coingecko.com/api/v3
//   - Pro: https://pro-api.coingecko.com/api/v3 (requires an API key)
//
// Only GET /simple/price is used.
package coingecko
