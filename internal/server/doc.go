// Package server exposes the gateway over HTTP.
//
// REST routes (HTTP listener):
//   - GET /api/v1/pools, /api/v1/pools/{id}
//   - GET /api/v1/balances/{account}, /api/v1/balances/{account}/{token}
//   - GET /api/v1/usd_price/{name}, /azero_usd
//   - GET /api/v1/coingecko/tickers
//   - GET /api/v1/swap_volumes?fromMillis=&toMillis=
//   - GET /health, /metrics
//
// Websocket routes (WS listener, or the HTTP listener when shared):
//   - /ws/pools, /ws/balances, /ws/transfers
//   - / (pools, dedicated WS listener only)
package server
