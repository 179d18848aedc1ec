package pricecache

import (
	"context"
	"sort"

	"github.com/rickgao/liquidity-gateway/internal/model"
)

// Registry holds caches by name.
type Registry struct {
	caches map[string]*Cache
}

// NewRegistry creates a registry of the given caches. Later caches replace
// earlier ones with the same name.
func NewRegistry(caches ...*Cache) *Registry {
	r := &Registry{caches: make(map[string]*Cache, len(caches))}
	for _, c := range caches {
		r.caches[c.Name()] = c
	}
	return r
}

// Get returns the cache registered under name.
func (r *Registry) Get(name string) (*Cache, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.caches[name]
	return c, ok
}

// Price returns the USD price of the named cache, refreshing it when stale.
func (r *Registry) Price(ctx context.Context, name string) (float64, bool) {
	q, ok := r.Quote(ctx, name)
	return q.Price, ok
}

// Quote returns the full quote of the named cache, refreshing it when stale.
func (r *Registry) Quote(ctx context.Context, name string) (model.UsdPrice, bool) {
	c, ok := r.Get(name)
	if !ok {
		return model.UsdPrice{}, false
	}
	return c.Price(ctx), true
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.caches))
	for name := range r.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Caches returns the registered caches in name order.
func (r *Registry) Caches() []*Cache {
	names := r.Names()
	out := make([]*Cache, 0, len(names))
	for _, name := range names {
		out = append(out, r.caches[name])
	}
	return out
}
