// Package store holds the in-memory, last-write-wins state of indexed entities.
//
// Every store keeps at most one record per identity key and only replaces it
// with a record whose ordering value is strictly greater. Merges are
// idempotent and commutative, so the final state does not depend on whether
// a record arrived through the bulk bootstrap or the live subscription, or in
// which order. Stores never evict.
package store
