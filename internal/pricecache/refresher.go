package pricecache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RefresherConfig holds refresher configuration.
type RefresherConfig struct {
	Interval    time.Duration // Refresh interval
	Concurrency int           // Max concurrent fetches (default: 4)
	Timeout     time.Duration // Per-fetch timeout (default: 10s)
}

// DefaultRefresherConfig returns sensible defaults.
func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		Interval:    5 * time.Minute,
		Concurrency: 4,
		Timeout:     10 * time.Second,
	}
}

// Refresher periodically warms every cache of a registry.
type Refresher struct {
	cfg      RefresherConfig
	registry *Registry
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRefresher creates a Refresher. Zero config fields take defaults.
func NewRefresher(cfg RefresherConfig, registry *Registry, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultRefresherConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Refresher{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
	}
}

// Start begins the refresh loop.
func (r *Refresher) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("price refresher started",
		"interval", r.cfg.Interval,
		"caches", len(r.registry.Names()),
	)

	return nil
}

// Stop shuts down the refresher and waits for in-flight fetches.
func (r *Refresher) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("price refresher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresher) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.refreshAll()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.refreshAll()
		}
	}
}

// refreshAll refreshes stale caches with bounded concurrency.
func (r *Refresher) refreshAll() {
	start := time.Now()
	caches := r.registry.Caches()

	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, c := range caches {
		wg.Add(1)
		go func(c *Cache) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-r.ctx.Done():
				return
			}

			ctx, cancel := context.WithTimeout(r.ctx, r.cfg.Timeout)
			defer cancel()
			c.Price(ctx)
		}(c)
	}

	wg.Wait()

	r.logger.Debug("price refresh cycle complete",
		"caches", len(caches),
		"duration", time.Since(start),
	)
}
