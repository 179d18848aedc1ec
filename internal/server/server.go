package server

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/rickgao/liquidity-gateway/internal/feed"
	"github.com/rickgao/liquidity-gateway/internal/metrics"
	"github.com/rickgao/liquidity-gateway/internal/model"
)

// Stream names used for websocket routes.
const (
	StreamPools     = "pools"
	StreamBalances  = "balances"
	StreamTransfers = "transfers"
)

// PoolReader reads the pool store.
type PoolReader interface {
	Snapshot() map[string]model.Pool
	Lookup(id string) (model.Pool, bool)
}

// BalanceReader reads the balance store.
type BalanceReader interface {
	Account(account string) (map[string]model.TokenBalance, bool)
	Lookup(account, token string) (model.TokenBalance, bool)
}

// PriceReader returns USD quotes by cache name.
type PriceReader interface {
	Quote(ctx context.Context, name string) (model.UsdPrice, bool)
}

// TickerSource builds CoinGecko tickers.
type TickerSource interface {
	Tickers(ctx context.Context) ([]model.Ticker, error)
}

// VolumeSource answers swap volume queries.
type VolumeSource interface {
	PairSwapVolumes(ctx context.Context, from, to time.Time) ([]model.PairSwapVolume, error)
}

// StatusReporter reports feed health.
type StatusReporter interface {
	Status() feed.Status
}

// ConnectionReporter reports whether the upstream indexer is reachable.
type ConnectionReporter interface {
	IsConnected() bool
}

// Options configures the server. Nil readers leave their routes unregistered.
type Options struct {
	Pools    PoolReader
	Balances BalanceReader
	Prices   PriceReader
	Tickers  TickerSource
	Volumes  VolumeSource
	Feeds    []StatusReporter
	Upstream ConnectionReporter // Optional

	// Streams maps stream names to websocket handlers.
	Streams map[string]http.Handler
	// SharedListener mounts websocket routes on the HTTP handler.
	SharedListener bool

	CORSOrigins []*regexp.Regexp
	Metrics     *metrics.Metrics
	MetricsPath string
	Logger      *slog.Logger
}

// Server builds the HTTP and websocket handlers.
type Server struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	return &Server{
		opts:   opts,
		logger: logger.With("component", "server"),
		now:    time.Now,
	}
}

// Handler returns the REST handler with CORS and request instrumentation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.opts.Pools != nil {
		mux.HandleFunc("GET /api/v1/pools", s.handlePools)
		mux.HandleFunc("GET /api/v1/pools/{id}", s.handlePool)
	}
	if s.opts.Balances != nil {
		mux.HandleFunc("GET /api/v1/balances/{account}", s.handleAccount)
		mux.HandleFunc("GET /api/v1/balances/{account}/{token}", s.handleBalance)
	}
	if s.opts.Prices != nil {
		mux.HandleFunc("GET /api/v1/usd_price/{name}", s.handleUsdPrice)
		mux.HandleFunc("GET /azero_usd", s.handleAzeroUsd)
	}
	if s.opts.Tickers != nil {
		mux.HandleFunc("GET /api/v1/coingecko/tickers", s.handleTickers)
	}
	if s.opts.Volumes != nil {
		mux.HandleFunc("GET /api/v1/swap_volumes", s.handleSwapVolumes)
	}
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.opts.Metrics != nil {
		mux.Handle("GET "+s.opts.MetricsPath, s.opts.Metrics.Handler())
	}

	if s.opts.SharedListener {
		s.mountStreams(mux, false)
	}

	return s.instrument(s.cors(mux))
}

// WSHandler returns the handler for a dedicated websocket listener.
func (s *Server) WSHandler() http.Handler {
	mux := http.NewServeMux()
	s.mountStreams(mux, true)
	return s.instrument(mux)
}

func (s *Server) mountStreams(mux *http.ServeMux, root bool) {
	for name, h := range s.opts.Streams {
		mux.Handle("GET /ws/"+name, h)
	}
	if root {
		if h, ok := s.opts.Streams[StreamPools]; ok {
			mux.Handle("GET /{$}", h)
		}
	}
}
