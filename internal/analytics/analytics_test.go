package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/liquidity-gateway/internal/graphql"
	"github.com/rickgao/liquidity-gateway/internal/model"
)

// fakeExecutor answers every query with one canned result.
type fakeExecutor struct {
	data    map[string]string
	errs    []graphql.ResultError
	err     error
	queries []string
}

func (f *fakeExecutor) Execute(ctx context.Context, query string) (*graphql.Result, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	res := &graphql.Result{Data: map[string]json.RawMessage{}, Errors: f.errs}
	for k, v := range f.data {
		res.Data[k] = json.RawMessage(v)
	}
	return res, nil
}

func TestPairSwapVolume(t *testing.T) {
	from := time.UnixMilli(1_700_000_012_345)
	to := from.Add(24 * time.Hour)

	t.Run("single row", func(t *testing.T) {
		exec := &fakeExecutor{data: map[string]string{
			"pairSwapVolume": `[{"pool":"p1","amount0_in":"1000","amount1_in":2500}]`,
		}}
		got, err := New(exec, nil).PairSwapVolume(context.Background(), "p1", from, to)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Pool != "p1" || got.Amount0In.String() != "1000" || got.Amount1In.String() != "2500" {
			t.Errorf("volume = %+v", got)
		}

		q := exec.queries[0]
		if !strings.Contains(q, `poolId: "p1"`) {
			t.Errorf("query missing pool id: %s", q)
		}
		// Bounds are truncated to the minute.
		if !strings.Contains(q, "fromMillis: 1699999980000") {
			t.Errorf("query fromMillis not truncated: %s", q)
		}
	})

	t.Run("no rows means zero volume", func(t *testing.T) {
		exec := &fakeExecutor{data: map[string]string{"pairSwapVolume": `[]`}}
		got, err := New(exec, nil).PairSwapVolume(context.Background(), "p1", from, to)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Pool != "p1" || !got.Amount0In.IsZero() || !got.Amount1In.IsZero() {
			t.Errorf("volume = %+v, want zero volume for p1", got)
		}
	})

	t.Run("too many rows", func(t *testing.T) {
		exec := &fakeExecutor{data: map[string]string{
			"pairSwapVolume": `[{"pool":"p1","amount0_in":"1","amount1_in":"1"},{"pool":"p1","amount0_in":"1","amount1_in":"1"}]`,
		}}
		_, err := New(exec, nil).PairSwapVolume(context.Background(), "p1", from, to)
		if !errors.Is(err, ErrUnexpectedRows) {
			t.Errorf("err = %v, want ErrUnexpectedRows", err)
		}
	})

	t.Run("graphql errors", func(t *testing.T) {
		exec := &fakeExecutor{errs: []graphql.ResultError{{Message: "unknown field"}}}
		_, err := New(exec, nil).PairSwapVolume(context.Background(), "p1", from, to)
		if !graphql.IsKind(err, graphql.KindRejected) {
			t.Errorf("err = %v, want rejected graphql error", err)
		}
	})

	t.Run("transport error", func(t *testing.T) {
		exec := &fakeExecutor{err: &graphql.Error{Kind: graphql.KindTransport, Err: graphql.ErrNotConnected}}
		_, err := New(exec, nil).PairSwapVolume(context.Background(), "p1", from, to)
		if !errors.Is(err, graphql.ErrNotConnected) {
			t.Errorf("err = %v, want ErrNotConnected", err)
		}
	})
}

func TestPairSwapVolumes(t *testing.T) {
	exec := &fakeExecutor{data: map[string]string{
		"pairSwapVolumes": `[{"pool":"p1","amount0_in":"1","amount1_in":"2"},{"pool":"p2","amount0_in":"3","amount1_in":"4"}]`,
	}}
	got, err := New(exec, nil).PairSwapVolumes(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1].Pool != "p2" {
		t.Errorf("volumes = %+v", got)
	}

	empty := &fakeExecutor{data: map[string]string{}}
	got, err = New(empty, nil).PairSwapVolumes(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("volumes = %#v, want empty non-nil slice", got)
	}
}

func TestSwapPriceRange(t *testing.T) {
	t.Run("prices present", func(t *testing.T) {
		exec := &fakeExecutor{data: map[string]string{
			"lowestHighestSwapPrice": `[{"pool":"p1","min_price_0in":0.5,"max_price_0in":2}]`,
		}}
		got, err := New(exec, nil).SwapPriceRange(context.Background(), "p1", time.Now(), time.Now())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.MinPrice0In.Valid || got.MinPrice0In.Decimal.String() != "0.5" {
			t.Errorf("MinPrice0In = %+v, want 0.5", got.MinPrice0In)
		}
		if !got.MaxPrice0In.Valid || got.MaxPrice0In.Decimal.String() != "2" {
			t.Errorf("MaxPrice0In = %+v, want 2", got.MaxPrice0In)
		}
	})

	t.Run("null prices", func(t *testing.T) {
		exec := &fakeExecutor{data: map[string]string{
			"lowestHighestSwapPrice": `[{"pool":"p1","min_price_0in":null,"max_price_0in":null}]`,
		}}
		got, err := New(exec, nil).SwapPriceRange(context.Background(), "p1", time.Now(), time.Now())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.MinPrice0In.Valid || got.MaxPrice0In.Valid {
			t.Errorf("range = %+v, want null bounds", got)
		}
	})

	t.Run("no rows", func(t *testing.T) {
		exec := &fakeExecutor{data: map[string]string{"lowestHighestSwapPrice": `[]`}}
		_, err := New(exec, nil).SwapPriceRange(context.Background(), "p1", time.Now(), time.Now())
		if !errors.Is(err, ErrUnexpectedRows) {
			t.Errorf("err = %v, want ErrUnexpectedRows", err)
		}
	})
}

func TestLastSwapAndPrice(t *testing.T) {
	exec := &fakeExecutor{data: map[string]string{
		"pairSwaps": `[{"amount0In":"2000000000000","amount0Out":"0","amount1In":"0","amount1Out":"3000000"}]`,
	}}
	swap, ok, err := New(exec, nil).LastSwap(context.Background(), "p1")
	if err != nil || !ok {
		t.Fatalf("LastSwap = %v, %v", ok, err)
	}

	// 3 units of a 6-decimal token for 2 units of a 12-decimal token.
	price, ok := SwapPrice(swap, 12, 6)
	if !ok {
		t.Fatal("SwapPrice ok = false, want true")
	}
	if !price.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("price = %s, want 1.5", price)
	}

	reverse := model.SwapAmounts{
		Amount0In:  decimal.Zero,
		Amount0Out: decimal.RequireFromString("1000000000000"),
		Amount1In:  decimal.RequireFromString("4000000"),
		Amount1Out: decimal.Zero,
	}
	if price, _ := SwapPrice(reverse, 12, 6); !price.Equal(decimal.NewFromInt(4)) {
		t.Errorf("reverse price = %s, want 4", price)
	}

	if _, ok := SwapPrice(model.SwapAmounts{}, 12, 6); ok {
		t.Error("SwapPrice of empty swap ok = true, want false")
	}

	none := &fakeExecutor{data: map[string]string{"pairSwaps": `[]`}}
	if _, ok, err := New(none, nil).LastSwap(context.Background(), "p1"); ok || err != nil {
		t.Errorf("LastSwap on no swaps = %v, %v; want false, nil", ok, err)
	}
}

func TestScale(t *testing.T) {
	if got := Scale(12, 6); !got.Equal(decimal.New(1, 6)) {
		t.Errorf("Scale(12, 6) = %s, want 1e6", got)
	}
	if got := Scale(6, 18); !got.Equal(decimal.New(1, -12)) {
		t.Errorf("Scale(6, 18) = %s, want 1e-12", got)
	}
}
