// Package tickers builds CoinGecko DEX tickers from the pool store, USD
// prices and swap analytics.
package tickers

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/liquidity-gateway/internal/analytics"
	"github.com/rickgao/liquidity-gateway/internal/model"
)

// Window is the rolling span of ticker volumes and price ranges.
const Window = 24 * time.Hour

// PoolSource provides the current pools.
type PoolSource interface {
	Snapshot() map[string]model.Pool
}

// Analytics answers per-pool swap queries.
type Analytics interface {
	PairSwapVolume(ctx context.Context, poolID string, from, to time.Time) (model.PairSwapVolume, error)
	SwapPriceRange(ctx context.Context, poolID string, from, to time.Time) (model.SwapPriceRange, error)
	LastSwap(ctx context.Context, poolID string) (model.SwapAmounts, bool, error)
}

// Prices returns USD quotes by cache name.
type Prices interface {
	Price(ctx context.Context, name string) (float64, bool)
}

// Service computes tickers on demand.
type Service struct {
	pools       PoolSource
	analytics   Analytics
	prices      Prices
	tokens      map[string]model.TokenInfo
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

// NewService creates a Service. analytics may be nil, in which case volumes
// and price ranges are reported as zero.
func NewService(pools PoolSource, a Analytics, prices Prices, tokens []model.TokenInfo, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	byID := make(map[string]model.TokenInfo, len(tokens))
	for _, t := range tokens {
		if t.ID != "" {
			byID[t.ID] = t
		}
	}
	return &Service{
		pools:       pools,
		analytics:   a,
		prices:      prices,
		tokens:      byID,
		concurrency: 8,
		now:         time.Now,
		logger:      logger.With("component", "tickers"),
	}
}

// Tickers returns one ticker per pool whose tokens both have a USD quote,
// ordered by pool id. Analytics failures degrade the affected fields to zero.
func (s *Service) Tickers(ctx context.Context) ([]model.Ticker, error) {
	pools := s.pools.Snapshot()
	ids := make([]string, 0, len(pools))
	for id := range pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	to := s.now()
	from := to.Add(-Window)

	results := make([]*model.Ticker, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, id := range ids {
		pool := pools[id]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.ticker(gctx, pool, from, to)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.Ticker, 0, len(results))
	for _, t := range results {
		if t != nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *Service) ticker(ctx context.Context, pool model.Pool, from, to time.Time) *model.Ticker {
	tok0, ok0 := s.tokens[pool.Token0]
	tok1, ok1 := s.tokens[pool.Token1]
	if !ok0 || !ok1 {
		return nil
	}

	liquidity, ok := s.liquidityInUsd(ctx, pool, tok0, tok1)
	if !ok {
		return nil
	}

	t := &model.Ticker{
		TickerID:       pool.ID,
		BaseCurrency:   pool.Token0,
		TargetCurrency: pool.Token1,
		PoolID:         pool.ID,
		LastPrice:      "0",
		BaseVolume:     "0",
		TargetVolume:   "0",
		LiquidityInUsd: liquidity.String(),
		High:           "0",
		Low:            "0",
	}
	if s.analytics == nil {
		return t
	}

	logger := s.logger.With("pool", pool.ID)

	if vol, err := s.analytics.PairSwapVolume(ctx, pool.ID, from, to); err != nil {
		logger.Warn("swap volume unavailable", "error", err)
	} else {
		t.BaseVolume = vol.Amount0In.String()
		t.TargetVolume = vol.Amount1In.String()
	}

	scale := analytics.Scale(tok0.Decimals, tok1.Decimals)
	if rng, err := s.analytics.SwapPriceRange(ctx, pool.ID, from, to); err != nil {
		logger.Warn("swap price range unavailable", "error", err)
	} else if rng.MinPrice0In.Valid && rng.MaxPrice0In.Valid {
		t.Low = rng.MinPrice0In.Decimal.Mul(scale).String()
		t.High = rng.MaxPrice0In.Decimal.Mul(scale).String()
	}

	if swap, found, err := s.analytics.LastSwap(ctx, pool.ID); err != nil {
		logger.Warn("last swap unavailable", "error", err)
	} else if found {
		if price, ok := analytics.SwapPrice(swap, tok0.Decimals, tok1.Decimals); ok {
			t.LastPrice = price.String()
		}
	}

	return t
}

// liquidityInUsd values both reserves in USD. It reports false when either
// token has no quote yet.
func (s *Service) liquidityInUsd(ctx context.Context, pool model.Pool, tok0, tok1 model.TokenInfo) (decimal.Decimal, bool) {
	price0, ok0 := s.prices.Price(ctx, tok0.PriceCache)
	price1, ok1 := s.prices.Price(ctx, tok1.PriceCache)
	if !ok0 || !ok1 || price0 == 0 || price1 == 0 {
		return decimal.Zero, false
	}

	liq0 := pool.Reserves0.Shift(-tok0.Decimals).Mul(decimal.NewFromFloat(price0))
	liq1 := pool.Reserves1.Shift(-tok1.Decimals).Mul(decimal.NewFromFloat(price1))
	return liq0.Add(liq1), true
}
