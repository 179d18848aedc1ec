// Package graphql is a client for the indexer's GraphQL API over the
// graphql-transport-ws websocket protocol.
//
// A single connection multiplexes one-shot queries (Execute) and long-lived
// subscriptions (Subscribe), correlated by operation id. When the connection
// drops, in-flight queries fail with a transport error while subscriptions
// are re-established on the next connection.
//
// ReadConnection drains a relay-style connection query page by page and is
// used to bootstrap state before live updates begin.
package graphql
