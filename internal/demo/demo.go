// Package demo generates synthetic pool updates for running the gateway
// without an indexer.
package demo

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/liquidity-gateway/internal/fanout"
	"github.com/rickgao/liquidity-gateway/internal/model"
)

// Config controls the generator.
type Config struct {
	Pools    int           // Number of synthetic pools (default: 4)
	Interval time.Duration // Delay between updates (default: 1s)
	Seed     uint64        // Random seed; 0 uses a time-based seed
}

// Generator produces a fixed set of pools and a stream of reserve updates.
type Generator struct {
	cfg    Config
	rng    *rand.Rand
	pools  []model.Pool
	now    func() time.Time
	logger *slog.Logger
}

// New creates a generator. tokens are paired in order to build pools; when
// fewer than two are given synthetic token ids are used.
func New(cfg Config, tokens []string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pools <= 0 {
		cfg.Pools = 4
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if len(tokens) < 2 {
		tokens = []string{"demo-token-0", "demo-token-1", "demo-token-2"}
	}

	g := &Generator{
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(seed, seed>>1)),
		now:    time.Now,
		logger: logger.With("component", "demo"),
	}

	ts := uint64(g.now().UnixMilli())
	for i := 0; i < cfg.Pools; i++ {
		t0 := tokens[i%len(tokens)]
		t1 := tokens[(i+1)%len(tokens)]
		g.pools = append(g.pools, model.Pool{
			ID:                  fmt.Sprintf("demo-pool-%d", i),
			Token0:              t0,
			Token1:              t1,
			Reserves0:           decimal.NewFromInt(1_000_000 + g.rng.Int64N(9_000_000)),
			Reserves1:           decimal.NewFromInt(1_000_000 + g.rng.Int64N(9_000_000)),
			LastUpdateTimestamp: ts,
		})
	}
	return g
}

// Pools returns the initial pools. Call it before Start.
func (g *Generator) Pools() []model.Pool {
	return append([]model.Pool(nil), g.pools...)
}

// Start emits updates until ctx ends. The returned upstream finishes with
// ctx's error.
func (g *Generator) Start(ctx context.Context) fanout.Upstream[model.Pool] {
	pipe := fanout.NewPipe[model.Pool](16)
	go g.run(ctx, pipe)
	return pipe
}

func (g *Generator) run(ctx context.Context, pipe *fanout.Pipe[model.Pool]) {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	g.logger.Info("demo pool updates started", "pools", len(g.pools), "interval", g.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			pipe.Finish(ctx.Err())
			return
		case <-ticker.C:
			if err := pipe.Emit(ctx, g.next()); err != nil {
				pipe.Finish(err)
				return
			}
		}
	}
}

// next moves one random pool's reserves along a constant-product swap.
func (g *Generator) next() model.Pool {
	i := g.rng.IntN(len(g.pools))
	p := g.pools[i]

	k := p.Reserves0.Mul(p.Reserves1)
	// Trade up to 1% of reserve0 in either direction.
	delta := p.Reserves0.Mul(decimal.NewFromFloat(g.rng.Float64()*0.02 - 0.01)).Round(0)
	r0 := p.Reserves0.Add(delta)
	if r0.LessThan(decimal.NewFromInt(1)) {
		r0 = decimal.NewFromInt(1)
	}
	p.Reserves0 = r0
	p.Reserves1 = k.DivRound(r0, 0)

	ts := uint64(g.now().UnixMilli())
	if ts <= p.LastUpdateTimestamp {
		ts = p.LastUpdateTimestamp + 1
	}
	p.LastUpdateTimestamp = ts

	g.pools[i] = p
	return p
}
