// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Feed frame outcomes (applied, transitional, fatal) and bootstrap sizes
//   - Feed record counts and fan-out attachments
//   - WebSocket sessions, close reasons and record delivery
//   - USD price fetches by outcome
//   - HTTP request counts and latencies
//
// Every method is safe on a nil *Metrics, so components can run without
// instrumentation in tests.
package metrics
