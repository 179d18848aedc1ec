// Package analytics runs one-shot swap queries against the indexer.
//
// Window bounds are truncated to the minute so repeated requests within a
// minute produce identical queries.
package analytics
