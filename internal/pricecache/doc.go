// Package pricecache keeps USD quotes for a fixed set of named coins.
//
// A Cache refetches its quote when the provider's last update is older than
// the invalidity window. Fetch failures and rate limiting never reach callers;
// they receive the last known quote (zero before the first success).
//
// A Refresher warms every cache of a Registry on an interval so request paths
// rarely wait on the provider.
package pricecache
