package pricecache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/liquidity-gateway/internal/coingecko"
	"github.com/rickgao/liquidity-gateway/internal/model"
)

// Fetch outcomes reported to the Observer.
const (
	OutcomeOK          = "ok"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)

// Fetcher returns the current USD quote of a coin.
type Fetcher interface {
	GetUsdPrice(ctx context.Context, coinID string) (model.UsdPrice, error)
}

// Observer receives fetch outcomes.
type Observer interface {
	ObservePriceFetch(token, outcome string)
}

type nopObserver struct{}

func (nopObserver) ObservePriceFetch(string, string) {}

// Cache serves the USD quote of one coin.
type Cache struct {
	name       string
	coinID     string
	fetcher    Fetcher
	invalidity time.Duration
	obs        Observer
	logger     *slog.Logger
	now        func() time.Time

	group singleflight.Group

	mu    sync.RWMutex
	price model.UsdPrice
}

// NewCache creates a cache for coinID served under name.
func NewCache(name, coinID string, fetcher Fetcher, invalidity time.Duration, obs Observer, logger *slog.Logger) *Cache {
	if obs == nil {
		obs = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		name:       name,
		coinID:     coinID,
		fetcher:    fetcher,
		invalidity: invalidity,
		obs:        obs,
		logger:     logger.With("price_cache", name),
		now:        time.Now,
	}
}

// Name returns the name the cache is registered under.
func (c *Cache) Name() string { return c.name }

// CoinID returns the provider coin id.
func (c *Cache) CoinID() string { return c.coinID }

// Price returns the quote, refreshing it first when it is stale. Concurrent
// callers share one fetch.
func (c *Cache) Price(ctx context.Context) model.UsdPrice {
	if !c.stale() {
		return c.Cached()
	}

	v, _, _ := c.group.Do(c.coinID, func() (any, error) {
		if !c.stale() {
			return c.Cached(), nil
		}
		return c.refresh(ctx), nil
	})
	return v.(model.UsdPrice)
}

// Cached returns the last known quote without fetching.
func (c *Cache) Cached() model.UsdPrice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.price
}

func (c *Cache) stale() bool {
	c.mu.RLock()
	last := c.price.LastUpdateTimestampSeconds
	c.mu.RUnlock()
	return c.now().Sub(time.Unix(last, 0)) > c.invalidity
}

func (c *Cache) refresh(ctx context.Context) model.UsdPrice {
	price, err := c.fetcher.GetUsdPrice(ctx, c.coinID)
	switch {
	case coingecko.IsRateLimited(err):
		c.obs.ObservePriceFetch(c.name, OutcomeRateLimited)
		c.logger.Warn("price provider rate limited, serving cached quote")
		return c.Cached()
	case err != nil:
		c.obs.ObservePriceFetch(c.name, OutcomeError)
		c.logger.Warn("price fetch failed, serving cached quote", "error", err)
		return c.Cached()
	}

	c.obs.ObservePriceFetch(c.name, OutcomeOK)

	c.mu.Lock()
	defer c.mu.Unlock()
	if price.LastUpdateTimestampSeconds >= c.price.LastUpdateTimestampSeconds {
		c.price = price
	}
	c.logger.Debug("price refreshed", "usd", c.price.Price, "updated_at", c.price.LastUpdateTimestampSeconds)
	return c.price
}
