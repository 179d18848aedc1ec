package feed

import (
	"context"

	"github.com/rickgao/liquidity-gateway/internal/graphql"
)

// Stream is a live subscription as seen by a feed.
type Stream interface {
	Results() <-chan graphql.Result
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Source is the indexer as seen by a feed: one-shot queries for bootstrap
// and subscriptions for live updates.
type Source interface {
	graphql.Executor
	Subscribe(ctx context.Context, query string) (Stream, error)
}

// ClientSource adapts a graphql client.
func ClientSource(c *graphql.Client) Source {
	return clientSource{c: c}
}

type clientSource struct {
	c *graphql.Client
}

func (s clientSource) Execute(ctx context.Context, query string) (*graphql.Result, error) {
	return s.c.Execute(ctx, query)
}

func (s clientSource) Subscribe(ctx context.Context, query string) (Stream, error) {
	sub, err := s.c.Subscribe(ctx, query)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Observer receives feed activity counts. Outcomes are "applied",
// "transitional" and "fatal".
type Observer interface {
	ObserveFrame(feed, outcome string)
	ObserveSeed(feed string, records int)
}

type nopObserver struct{}

func (nopObserver) ObserveFrame(string, string) {}
func (nopObserver) ObserveSeed(string, int)     {}
