package feed

import (
	"github.com/rickgao/liquidity-gateway/internal/model"
	"github.com/rickgao/liquidity-gateway/internal/store"
)

// Sink holds the merged state of a feed.
type Sink[T any] interface {
	Seed(records []T) int
	Merge(record T) bool
	Len() int
}

// Snapshotter is implemented by sinks that can hand a new client its
// initial state. Frame is the value sent to the client; versions maps each
// record key in it to its ordering value.
type Snapshotter interface {
	Snapshot() (frame any, versions map[string]uint64)
}

// PoolSink stores pools by id.
type PoolSink struct {
	*store.Store[string, model.Pool]
}

// NewPoolSink wraps s, creating an empty store when s is nil.
func NewPoolSink(s *store.Store[string, model.Pool]) *PoolSink {
	if s == nil {
		s = store.New[string, model.Pool]()
	}
	return &PoolSink{Store: s}
}

// Snapshot implements Snapshotter.
func (p *PoolSink) Snapshot() (any, map[string]uint64) {
	pools := p.Store.Snapshot()
	versions := make(map[string]uint64, len(pools))
	for id, pool := range pools {
		versions[id] = pool.Ordering()
	}
	return pools, versions
}

// BalanceSink stores token balances by account and token.
type BalanceSink struct {
	*store.BalanceStore
}

// NewBalanceSink wraps s, creating an empty store when s is nil.
func NewBalanceSink(s *store.BalanceStore) *BalanceSink {
	if s == nil {
		s = store.NewBalanceStore()
	}
	return &BalanceSink{BalanceStore: s}
}

// Snapshot implements Snapshotter.
func (b *BalanceSink) Snapshot() (any, map[string]uint64) {
	accounts := b.BalanceStore.Snapshot()
	versions := make(map[string]uint64)
	for _, tokens := range accounts {
		for _, bal := range tokens {
			versions[bal.Key()] = bal.Ordering()
		}
	}
	return accounts, versions
}
