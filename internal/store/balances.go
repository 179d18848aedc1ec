package store

import (
	"sync"

	"github.com/rickgao/liquidity-gateway/internal/model"
)

// BalanceStore keeps the newest token balance per (account, token), grouped
// by account. Records are ordered by block height.
type BalanceStore struct {
	mu       sync.RWMutex
	accounts map[string]map[string]model.TokenBalance
	count    int
}

// NewBalanceStore creates an empty balance store.
func NewBalanceStore() *BalanceStore {
	return &BalanceStore{
		accounts: make(map[string]map[string]model.TokenBalance),
	}
}

// Seed merges a batch of balances and returns how many changed the store.
func (s *BalanceStore) Seed(balances []model.TokenBalance) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, b := range balances {
		if s.mergeLocked(b) {
			applied++
		}
	}
	return applied
}

// Merge applies a single balance. An unseen account is created together with
// its first balance.
func (s *BalanceStore) Merge(b model.TokenBalance) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeLocked(b)
}

func (s *BalanceStore) mergeLocked(b model.TokenBalance) bool {
	tokens, ok := s.accounts[b.Account]
	if !ok {
		tokens = make(map[string]model.TokenBalance)
		s.accounts[b.Account] = tokens
	}

	old, ok := tokens[b.Token]
	if ok && old.Ordering() >= b.Ordering() {
		return false
	}
	if !ok {
		s.count++
	}
	tokens[b.Token] = b
	return true
}

// Snapshot returns a deep copy keyed by account then token.
func (s *BalanceStore) Snapshot() map[string]map[string]model.TokenBalance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[string]model.TokenBalance, len(s.accounts))
	for account, tokens := range s.accounts {
		out[account] = copyTokens(tokens)
	}
	return out
}

// Account returns a copy of all balances held by account.
func (s *BalanceStore) Account(account string) (map[string]model.TokenBalance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens, ok := s.accounts[account]
	if !ok {
		return nil, false
	}
	return copyTokens(tokens), true
}

// Lookup returns the balance of token held by account.
func (s *BalanceStore) Lookup(account, token string) (model.TokenBalance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.accounts[account][token]
	return b, ok
}

// Len returns the number of (account, token) balances.
func (s *BalanceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func copyTokens(tokens map[string]model.TokenBalance) map[string]model.TokenBalance {
	out := make(map[string]model.TokenBalance, len(tokens))
	for k, v := range tokens {
		out[k] = v
	}
	return out
}
