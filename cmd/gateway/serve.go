package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/liquidity-gateway/internal/analytics"
	"github.com/rickgao/liquidity-gateway/internal/coingecko"
	"github.com/rickgao/liquidity-gateway/internal/config"
	"github.com/rickgao/liquidity-gateway/internal/demo"
	"github.com/rickgao/liquidity-gateway/internal/feed"
	"github.com/rickgao/liquidity-gateway/internal/graphql"
	"github.com/rickgao/liquidity-gateway/internal/metrics"
	"github.com/rickgao/liquidity-gateway/internal/model"
	"github.com/rickgao/liquidity-gateway/internal/pricecache"
	"github.com/rickgao/liquidity-gateway/internal/publisher"
	"github.com/rickgao/liquidity-gateway/internal/schema"
	"github.com/rickgao/liquidity-gateway/internal/server"
	"github.com/rickgao/liquidity-gateway/internal/store"
	"github.com/rickgao/liquidity-gateway/internal/tickers"
	"github.com/rickgao/liquidity-gateway/internal/version"
)

// stopper is a component shut down after the listeners.
type stopper interface {
	Stop(ctx context.Context) error
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadAndValidate(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}

	logger, err := newLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting gateway",
		"version", version.Version,
		"commit", version.Commit,
		"config", cfgPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if !cfg.Metrics.Disabled {
		m = metrics.New(nil)
	}

	tokens := tokenInfos(cfg.Tokens)
	opts := server.Options{
		Streams:        make(map[string]http.Handler),
		SharedListener: cfg.WS.Port == cfg.HTTP.Port,
		CORSOrigins:    compileOrigins(cfg.CORS.Origins),
		Metrics:        m,
		MetricsPath:    cfg.Metrics.Path,
		Logger:         logger,
	}
	pubCfg := publisher.Config{
		WriteTimeout: cfg.WS.WriteTimeout,
		PingInterval: cfg.WS.PingInterval,
		PongTimeout:  cfg.WS.PongTimeout,
		MaxBacklog:   cfg.WS.MaxBacklog,
	}

	// Stopped in reverse order after the listeners close.
	var stoppers []stopper
	var closers []func(context.Context) error

	// USD prices
	var prices *pricecache.Registry
	if cfg.Features.PriceCacheEnabled() {
		cg := coingecko.NewClient(cfg.PriceCache.BaseURL, cfg.PriceCache.APIKey,
			coingecko.WithLogger(logger),
			coingecko.WithTimeout(cfg.PriceCache.Timeout),
			coingecko.WithRetries(cfg.PriceCache.MaxRetries, time.Second),
		)
		caches := make([]*pricecache.Cache, 0, len(cfg.Tokens))
		for _, tok := range cfg.Tokens {
			caches = append(caches, pricecache.NewCache(tok.Name, tok.CoingeckoID, cg, cfg.PriceCache.Invalidity(), m, logger))
		}
		prices = pricecache.NewRegistry(caches...)
		opts.Prices = prices
		logger.Info("usd price cache enabled", "caches", prices.Names(), "invalidity", cfg.PriceCache.Invalidity())

		if cfg.PriceCache.RefreshInterval > 0 {
			refresher := pricecache.NewRefresher(pricecache.RefresherConfig{
				Interval: cfg.PriceCache.RefreshInterval,
				Timeout:  cfg.PriceCache.Timeout,
			}, prices, logger)
			if err := refresher.Start(ctx); err != nil {
				return fmt.Errorf("start price refresher: %w", err)
			}
			stoppers = append(stoppers, refresher)
		}
	}

	poolStore := store.New[string, model.Pool]()
	var swaps tickers.Analytics

	switch {
	case cfg.Features.EnableDemoMode:
		logger.Info("running in demo mode")

		addrs := make([]string, 0, len(tokens))
		for _, t := range tokens {
			addrs = append(addrs, t.ID)
		}
		gen := demo.New(demo.Config{}, addrs, logger)
		poolStore.Seed(gen.Pools())

		pools := feed.New(feed.Options[model.Pool]{
			Family:   schema.Pools(),
			Sink:     feed.NewPoolSink(poolStore),
			Observer: m,
			Logger:   logger,
		})
		if err := pools.StartFrom(ctx, gen.Start(ctx)); err != nil {
			return fmt.Errorf("start demo pools: %w", err)
		}
		m.WatchFeed(pools.Name(), poolStore.Len, pools.Attached)
		opts.Feeds = append(opts.Feeds, pools)
		stoppers = append(stoppers, pools)

		pub := publisher.New(publisher.Options[model.Pool]{
			Name: pools.Name(), Source: pools, Version: publisher.ByKey[model.Pool](),
			Config: pubCfg, Observer: m, Logger: logger,
		})
		opts.Streams[server.StreamPools] = pub
		closers = append(closers, pub.Close)

	case cfg.Features.EnableGraphQL:
		url := cfg.GraphQL.URL()
		logger.Info("connecting graphql client", "url", url)

		client := graphql.NewClient(graphql.Config{
			URL:               url,
			HandshakeTimeout:  cfg.GraphQL.HandshakeTimeout,
			PingInterval:      cfg.GraphQL.PingInterval,
			QueryTimeout:      cfg.GraphQL.QueryTimeout,
			ReconnectBaseWait: cfg.GraphQL.ReconnectBaseWait,
			ReconnectMaxWait:  cfg.GraphQL.ReconnectMaxWait,
			UserAgent:         version.UserAgent(),
		}, logger)
		if err := client.Connect(ctx); err != nil {
			return fmt.Errorf("connect graphql: %w", err)
		}
		defer client.Close()

		opts.Upstream = client
		src := feed.ClientSource(client)
		swapClient := analytics.New(client, logger)
		swaps = swapClient
		opts.Volumes = swapClient

		pools := feed.New(feed.Options[model.Pool]{
			Family:   schema.Pools().WithPageSize(cfg.GraphQL.PageSize),
			Source:   src,
			Sink:     feed.NewPoolSink(poolStore),
			Observer: m,
			Logger:   logger,
		})
		if err := pools.Start(ctx); err != nil {
			return fmt.Errorf("start pools feed: %w", err)
		}
		m.WatchFeed(pools.Name(), poolStore.Len, pools.Attached)
		opts.Feeds = append(opts.Feeds, pools)
		stoppers = append(stoppers, pools)

		pub := publisher.New(publisher.Options[model.Pool]{
			Name: pools.Name(), Source: pools, Version: publisher.ByKey[model.Pool](),
			Config: pubCfg, Observer: m, Logger: logger,
		})
		opts.Streams[server.StreamPools] = pub
		closers = append(closers, pub.Close)

		if cfg.Features.EnableBalances {
			balanceStore := store.NewBalanceStore()
			balances := feed.New(feed.Options[model.TokenBalance]{
				Family:   schema.Balances().WithPageSize(cfg.GraphQL.PageSize),
				Source:   src,
				Sink:     feed.NewBalanceSink(balanceStore),
				Observer: m,
				Logger:   logger,
			})
			if err := balances.Start(ctx); err != nil {
				return fmt.Errorf("start balances feed: %w", err)
			}
			m.WatchFeed(balances.Name(), balanceStore.Len, balances.Attached)
			opts.Balances = balanceStore
			opts.Feeds = append(opts.Feeds, balances)
			stoppers = append(stoppers, balances)

			pub := publisher.New(publisher.Options[model.TokenBalance]{
				Name: balances.Name(), Source: balances, Version: publisher.ByKey[model.TokenBalance](),
				Config: pubCfg, Observer: m, Logger: logger,
			})
			opts.Streams[server.StreamBalances] = pub
			closers = append(closers, pub.Close)
		}

		if cfg.Features.EnableTransfers {
			transfers := feed.New(feed.Options[model.NativeTransfer]{
				Family:   schema.Transfers(),
				Source:   src,
				Observer: m,
				Logger:   logger,
			})
			if err := transfers.Start(ctx); err != nil {
				return fmt.Errorf("start transfers feed: %w", err)
			}
			m.WatchFeed(transfers.Name(), func() int { return 0 }, transfers.Attached)
			opts.Feeds = append(opts.Feeds, transfers)
			stoppers = append(stoppers, transfers)

			pub := publisher.New(publisher.Options[model.NativeTransfer]{
				Name: transfers.Name(), Source: transfers,
				Config: pubCfg, Observer: m, Logger: logger,
			})
			opts.Streams[server.StreamTransfers] = pub
			closers = append(closers, pub.Close)
		}

	default:
		logger.Warn("graphql and demo mode disabled; pools stay empty")
	}

	opts.Pools = poolStore
	if prices != nil {
		opts.Tickers = tickers.NewService(poolStore, swaps, prices, tokens, logger)
	}

	srv := server.New(opts)
	listeners := []*http.Server{{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}}
	if !opts.SharedListener && len(opts.Streams) > 0 {
		listeners = append(listeners, &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.WS.Host, cfg.WS.Port),
			Handler:           srv.WSHandler(),
			ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, hs := range listeners {
		g.Go(func() error {
			logger.Info("listening", "addr", hs.Addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", hs.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		// Websocket sessions are hijacked and not tracked by Shutdown.
		for _, closeFn := range closers {
			if err := closeFn(shutdownCtx); err != nil {
				logger.Warn("publisher close timed out", "error", err)
			}
		}
		for _, hs := range listeners {
			if err := hs.Shutdown(shutdownCtx); err != nil {
				logger.Warn("server shutdown failed", "addr", hs.Addr, "error", err)
			}
		}
		for i := len(stoppers) - 1; i >= 0; i-- {
			if err := stoppers[i].Stop(shutdownCtx); err != nil {
				logger.Warn("component stop failed", "error", err)
			}
		}
		return nil
	})

	err = g.Wait()
	logger.Info("gateway stopped")
	return err
}

// tokenInfos returns the tokens that can be matched to pool tokens.
func tokenInfos(tokens []config.TokenConfig) []model.TokenInfo {
	out := make([]model.TokenInfo, 0, len(tokens))
	for _, t := range tokens {
		if t.Address == "" {
			continue
		}
		out = append(out, model.TokenInfo{
			Name:       t.Name,
			ID:         t.Address,
			Decimals:   t.Decimals,
			PriceCache: t.Name,
		})
	}
	return out
}

// compileOrigins compiles validated CORS patterns.
func compileOrigins(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}
