package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/liquidity-gateway/internal/graphql"
	"github.com/rickgao/liquidity-gateway/internal/model"
)

// ErrUnexpectedRows is returned when a per-pool query yields more rows than
// the pool can have.
var ErrUnexpectedRows = errors.New("analytics: unexpected row count")

// Client queries swap analytics.
type Client struct {
	exec   graphql.Executor
	logger *slog.Logger
}

// New creates a Client.
func New(exec graphql.Executor, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{exec: exec, logger: logger.With("component", "analytics")}
}

// PairSwapVolume returns the input volume of one pool in [from, to). A pool
// without swaps in the window has zero volume.
func (c *Client) PairSwapVolume(ctx context.Context, poolID string, from, to time.Time) (model.PairSwapVolume, error) {
	query := fmt.Sprintf(`query {
  pairSwapVolume(poolId: %q, fromMillis: %d, toMillis: %d) {
    pool
    amount0_in
    amount1_in
  }
}`, poolID, millis(from), millis(to))

	var rows []model.PairSwapVolume
	if err := c.query(ctx, query, "pairSwapVolume", &rows); err != nil {
		return model.PairSwapVolume{}, err
	}

	switch len(rows) {
	case 0:
		return model.PairSwapVolume{Pool: poolID}, nil
	case 1:
		return rows[0], nil
	default:
		return model.PairSwapVolume{}, fmt.Errorf("%w: pairSwapVolume returned %d rows", ErrUnexpectedRows, len(rows))
	}
}

// PairSwapVolumes returns the input volume of every pool with swaps in [from, to).
func (c *Client) PairSwapVolumes(ctx context.Context, from, to time.Time) ([]model.PairSwapVolume, error) {
	query := fmt.Sprintf(`query {
  pairSwapVolumes(fromMillis: %d, toMillis: %d) {
    pool
    amount0_in
    amount1_in
  }
}`, millis(from), millis(to))

	var rows []model.PairSwapVolume
	if err := c.query(ctx, query, "pairSwapVolumes", &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []model.PairSwapVolume{}
	}
	return rows, nil
}

// SwapPriceRange returns the raw lowest and highest token1/token0 price of
// one pool in [from, to). Both bounds are null when nothing was swapped.
func (c *Client) SwapPriceRange(ctx context.Context, poolID string, from, to time.Time) (model.SwapPriceRange, error) {
	query := fmt.Sprintf(`query {
  lowestHighestSwapPrice(poolId: %q, fromMillis: %d, toMillis: %d) {
    pool
    min_price_0in
    max_price_0in
  }
}`, poolID, millis(from), millis(to))

	var rows []model.SwapPriceRange
	if err := c.query(ctx, query, "lowestHighestSwapPrice", &rows); err != nil {
		return model.SwapPriceRange{}, err
	}

	// The indexer may return a second row for the reverse direction.
	if len(rows) == 0 || len(rows) > 2 {
		return model.SwapPriceRange{}, fmt.Errorf("%w: lowestHighestSwapPrice returned %d rows", ErrUnexpectedRows, len(rows))
	}
	r := rows[0]
	if !r.MinPrice0In.Valid || !r.MaxPrice0In.Valid {
		return model.SwapPriceRange{Pool: poolID}, nil
	}
	return r, nil
}

// LastSwap returns the amounts of the most recent swap in a pool.
func (c *Client) LastSwap(ctx context.Context, poolID string) (model.SwapAmounts, bool, error) {
	query := fmt.Sprintf(`query {
  pairSwaps(where: {poolId_eq: %q}, orderBy: timestamp_DESC, limit: 1) {
    amount0In
    amount0Out
    amount1In
    amount1Out
  }
}`, poolID)

	var rows []model.SwapAmounts
	if err := c.query(ctx, query, "pairSwaps", &rows); err != nil {
		return model.SwapAmounts{}, false, err
	}
	switch len(rows) {
	case 0:
		return model.SwapAmounts{}, false, nil
	case 1:
		return rows[0], true, nil
	default:
		return model.SwapAmounts{}, false, fmt.Errorf("%w: pairSwaps returned %d rows", ErrUnexpectedRows, len(rows))
	}
}

// SwapPrice returns the token1/token0 price of a swap, adjusted for token
// decimals. It reports false when the swap has no usable amounts.
func SwapPrice(s model.SwapAmounts, decimals0, decimals1 int32) (decimal.Decimal, bool) {
	num, den := s.Amount1Out, s.Amount0In
	if s.Amount0In.IsZero() {
		num, den = s.Amount1In, s.Amount0Out
	}
	if den.IsZero() {
		return decimal.Zero, false
	}
	return num.Div(den).Mul(Scale(decimals0, decimals1)), true
}

// Scale returns 10^(decimals0-decimals1), the factor converting a raw
// token1/token0 amount ratio into a whole-unit price.
func Scale(decimals0, decimals1 int32) decimal.Decimal {
	return decimal.New(1, decimals0-decimals1)
}

func (c *Client) query(ctx context.Context, query, field string, out any) error {
	res, err := c.exec.Execute(ctx, query)
	if err != nil {
		return fmt.Errorf("execute %s: %w", field, err)
	}
	if len(res.Errors) > 0 {
		msgs := make([]string, len(res.Errors))
		for i, e := range res.Errors {
			msgs[i] = e.Message
		}
		return &graphql.Error{Kind: graphql.KindRejected, Messages: msgs, Err: fmt.Errorf("query %s", field)}
	}

	raw, ok := res.Field(field)
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", field, err)
	}
	return nil
}

func millis(t time.Time) int64 {
	return t.Truncate(time.Minute).UnixMilli()
}

// Window returns the span [now-d, now).
func Window(now time.Time, d time.Duration) (from, to time.Time) {
	return now.Add(-d), now
}
