package coingecko

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/rickgao/liquidity-gateway/internal/model"
)

// ErrUnknownCoin is returned when the response carries no quote for the coin.
var ErrUnknownCoin = errors.New("coingecko: no usd quote for coin")

// simplePriceResponse from GET /simple/price, keyed by coin id.
type simplePriceResponse map[string]struct {
	USD           *float64 `json:"usd"`
	LastUpdatedAt int64    `json:"last_updated_at"` // seconds since epoch
}

// GetUsdPrice returns the current USD quote of a coin.
func (c *Client) GetUsdPrice(ctx context.Context, coinID string) (model.UsdPrice, error) {
	query := url.Values{}
	query.Set("ids", coinID)
	query.Set("vs_currencies", "usd")
	query.Set("include_last_updated_at", "true")

	var resp simplePriceResponse
	if err := c.get(ctx, "/simple/price", query, &resp); err != nil {
		return model.UsdPrice{}, err
	}

	quote, ok := resp[coinID]
	if !ok || quote.USD == nil {
		return model.UsdPrice{}, fmt.Errorf("%w: %s", ErrUnknownCoin, coinID)
	}

	return model.UsdPrice{
		Price:                      *quote.USD,
		LastUpdateTimestampSeconds: quote.LastUpdatedAt,
	}, nil
}
