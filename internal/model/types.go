package model

import "github.com/shopspring/decimal"

// -----------------------------------------------------------------------------
// Indexed Entities
// -----------------------------------------------------------------------------

// Pool is the reserve state of an AMM pair.
type Pool struct {
	ID                  string          `json:"id"`     // Pool contract address
	Token0              string          `json:"token0"` // Token contract address
	Token1              string          `json:"token1"`
	Reserves0           decimal.Decimal `json:"reserves0"` // Raw units (no decimals applied)
	Reserves1           decimal.Decimal `json:"reserves1"`
	LastUpdateTimestamp uint64          `json:"lastUpdateTimestamp,string"` // ms since epoch
}

// Key returns the pool identity.
func (p Pool) Key() string { return p.ID }

// Ordering returns the value pool records are merged by.
func (p Pool) Ordering() uint64 { return p.LastUpdateTimestamp }

// TokenBalance is the balance of one PSP22 token held by one account.
type TokenBalance struct {
	Account               string          `json:"account"`
	Token                 string          `json:"token"`
	Amount                decimal.Decimal `json:"amount"`
	LastUpdateTimestamp   uint64          `json:"lastUpdateTimestamp,string"`
	LastUpdateBlockHeight uint64          `json:"lastUpdateBlockHeight,string"`
}

// Key returns the flattened (account, token) identity.
func (b TokenBalance) Key() string { return b.Account + "/" + b.Token }

// Ordering returns the value balance records are merged by.
func (b TokenBalance) Ordering() uint64 { return b.LastUpdateBlockHeight }

// NativeTransfer is a transfer of the chain's native currency.
type NativeTransfer struct {
	ExtrinsicHash string          `json:"extrinsicHash"`
	Sender        string          `json:"sender"`
	Recipient     string          `json:"recipient"`
	Amount        decimal.Decimal `json:"amount"`
	BlockNumber   uint64          `json:"blockNumber,string"`
	Timestamp     uint64          `json:"timestamp,string"`
}

// -----------------------------------------------------------------------------
// Swap Analytics
// -----------------------------------------------------------------------------

// PairSwapVolume is the input volume of both pool tokens over a time window.
type PairSwapVolume struct {
	Pool      string          `json:"pool"`
	Amount0In decimal.Decimal `json:"amount0_in"`
	Amount1In decimal.Decimal `json:"amount1_in"`
}

// SwapPriceRange is the lowest and highest token1/token0 price over a time window.
// Prices are invalid when no swap happened in the window.
type SwapPriceRange struct {
	Pool        string              `json:"pool"`
	MinPrice0In decimal.NullDecimal `json:"min_price_0in"`
	MaxPrice0In decimal.NullDecimal `json:"max_price_0in"`
}

// SwapAmounts are the raw amounts of a single swap.
type SwapAmounts struct {
	Amount0In  decimal.Decimal `json:"amount0In"`
	Amount0Out decimal.Decimal `json:"amount0Out"`
	Amount1In  decimal.Decimal `json:"amount1In"`
	Amount1Out decimal.Decimal `json:"amount1Out"`
}

// -----------------------------------------------------------------------------
// Prices and Tickers
// -----------------------------------------------------------------------------

// UsdPrice is a cached USD quote.
type UsdPrice struct {
	Price                      float64 `json:"price"`
	LastUpdateTimestampSeconds int64   `json:"lastUpdateTimestampSeconds"`
}

// TokenInfo describes a token that can be priced in USD.
type TokenInfo struct {
	Name       string // Registry name (e.g. "azero")
	ID         string // Token contract address
	Decimals   int32
	PriceCache string // Name of the USD price cache quoting this token
}

// Ticker is a DEX ticker in the CoinGecko integration format.
type Ticker struct {
	TickerID       string `json:"ticker_id"`
	BaseCurrency   string `json:"base_currency"`
	TargetCurrency string `json:"target_currency"`
	PoolID         string `json:"pool_id"`
	LastPrice      string `json:"last_price"`
	BaseVolume     string `json:"base_volume"`
	TargetVolume   string `json:"target_volume"`
	LiquidityInUsd string `json:"liquidity_in_usd"`
	High           string `json:"high"`
	Low            string `json:"low"`
}
