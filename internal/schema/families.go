package schema

import (
	"github.com/rickgao/liquidity-gateway/internal/graphql"
	"github.com/rickgao/liquidity-gateway/internal/model"
)

// Pools returns the pool reserves family. Generation A orders by
// lastUpdateTimestamp, generation B by blockTimestamp.
func Pools() Family[model.Pool] {
	fieldsA := []string{"id", "token0", "token1", "reserves0", "reserves1", "lastUpdateTimestamp"}
	fieldsB := []string{"id", "token0", "token1", "reserves0", "reserves1", "blockTimestamp"}

	return Family[model.Pool]{
		Name: "pools",
		Shapes: []Shape{
			{
				Version:       SchemaA,
				OrderingField: "lastUpdateTimestamp",
				Connection:    graphql.ConnectionQuery{Node: "pools", Fields: fieldsA},
				Subscription: graphql.SubscriptionQuery{
					Node: "pools", Fields: fieldsA, Limit: 200, OrderBy: "lastUpdateTimestamp_ASC",
				},
			},
			{
				Version:       SchemaB,
				OrderingField: "blockTimestamp",
				Connection:    graphql.ConnectionQuery{Node: "pools", Fields: fieldsB},
				Subscription: graphql.SubscriptionQuery{
					Node: "pools", Fields: fieldsB, Limit: 200, OrderBy: "blockTimestamp_ASC",
				},
			},
		},
		Decode: decodePool,
	}
}

func decodePool(f Fields, s Shape) (model.Pool, error) {
	var (
		p   model.Pool
		err error
	)
	if p.ID, err = f.String("id"); err != nil {
		return p, err
	}
	if p.Token0, err = f.String("token0"); err != nil {
		return p, err
	}
	if p.Token1, err = f.String("token1"); err != nil {
		return p, err
	}
	if p.Reserves0, err = f.Decimal("reserves0"); err != nil {
		return p, err
	}
	if p.Reserves1, err = f.Decimal("reserves1"); err != nil {
		return p, err
	}
	if p.LastUpdateTimestamp, err = f.Uint(s.OrderingField); err != nil {
		return p, err
	}
	return p, nil
}

// Balances returns the PSP22 token balance family. Generation A orders by
// lastUpdateBlockHeight, generation B by blockHeight.
func Balances() Family[model.TokenBalance] {
	connA := []string{"account", "amount", "token", "lastUpdateBlockHeight", "lastUpdateTimestamp", "id"}
	subA := []string{"account", "token", "amount", "lastUpdateTimestamp", "lastUpdateBlockHeight"}
	connB := []string{"account", "amount", "token", "blockHeight", "blockTimestamp", "id"}
	subB := []string{"account", "amount", "token", "blockHeight", "blockTimestamp"}

	return Family[model.TokenBalance]{
		Name: "balances",
		Shapes: []Shape{
			{
				Version:       SchemaA,
				OrderingField: "lastUpdateBlockHeight",
				Connection:    graphql.ConnectionQuery{Node: "psp22TokenBalances", Fields: connA},
				Subscription: graphql.SubscriptionQuery{
					Node: "psp22TokenBalances", Fields: subA, Limit: 50, OrderBy: "lastUpdateTimestamp_ASC",
				},
			},
			{
				Version:       SchemaB,
				OrderingField: "blockHeight",
				Connection:    graphql.ConnectionQuery{Node: "psp22TokenBalances", Fields: connB},
				Subscription: graphql.SubscriptionQuery{
					Node: "psp22TokenBalances", Fields: subB, Limit: 50, OrderBy: "blockTimestamp_ASC",
				},
			},
		},
		Decode: decodeBalance,
	}
}

func decodeBalance(f Fields, s Shape) (model.TokenBalance, error) {
	tsField := "lastUpdateTimestamp"
	if s.Version == SchemaB {
		tsField = "blockTimestamp"
	}

	var (
		b   model.TokenBalance
		err error
	)
	if b.Account, err = f.String("account"); err != nil {
		return b, err
	}
	if b.Token, err = f.String("token"); err != nil {
		return b, err
	}
	if b.Amount, err = f.Decimal("amount"); err != nil {
		return b, err
	}
	if b.LastUpdateBlockHeight, err = f.Uint(s.OrderingField); err != nil {
		return b, err
	}
	if f.Has(tsField) {
		if b.LastUpdateTimestamp, err = f.Uint(tsField); err != nil {
			return b, err
		}
	}
	return b, nil
}

// Transfers returns the native transfer family. It has a single generation
// and no bulk bootstrap.
func Transfers() Family[model.NativeTransfer] {
	fields := []string{"extrinsicHash", "sender", "recipient", "amount", "blockNumber", "timestamp"}

	return Family[model.NativeTransfer]{
		Name: "transfers",
		Shapes: []Shape{
			{
				Version:       SchemaB,
				OrderingField: "timestamp",
				Subscription: graphql.SubscriptionQuery{
					Node: "nativeTransfers", Fields: fields, Limit: 50, OrderBy: "timestamp_ASC",
				},
			},
		},
		Decode: decodeTransfer,
	}
}

func decodeTransfer(f Fields, s Shape) (model.NativeTransfer, error) {
	var (
		t   model.NativeTransfer
		err error
	)
	if f.Has("extrinsicHash") {
		if t.ExtrinsicHash, err = f.String("extrinsicHash"); err != nil {
			return t, err
		}
	}
	if t.Sender, err = f.String("sender"); err != nil {
		return t, err
	}
	if t.Recipient, err = f.String("recipient"); err != nil {
		return t, err
	}
	if t.Amount, err = f.Decimal("amount"); err != nil {
		return t, err
	}
	if f.Has("blockNumber") {
		if t.BlockNumber, err = f.Uint("blockNumber"); err != nil {
			return t, err
		}
	}
	if t.Timestamp, err = f.Uint(s.OrderingField); err != nil {
		return t, err
	}
	return t, nil
}
