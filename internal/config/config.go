package config

import (
	"fmt"
	"time"
)

// Config is the root configuration of the gateway.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	WS         WSConfig         `yaml:"ws"`
	GraphQL    GraphQLConfig    `yaml:"graphql"`
	Features   FeaturesConfig   `yaml:"features"`
	PriceCache PriceCacheConfig `yaml:"price_cache"`
	Tokens     []TokenConfig    `yaml:"tokens"`
	CORS       CORSConfig       `yaml:"cors"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// HTTPConfig holds the REST listener settings.
type HTTPConfig struct {
	Port              int           `yaml:"port" env:"COMMON_API_HTTP_PORT"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// WSConfig holds the websocket listener and session settings. When Port
// equals the HTTP port, websocket routes share the HTTP listener.
type WSConfig struct {
	Host         string        `yaml:"host" env:"COMMON_API_WS_HOST"`
	Port         int           `yaml:"port" env:"COMMON_API_WS_PORT"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
	MaxBacklog   int           `yaml:"max_backlog" env:"COMMON_API_WS_MAX_BACKLOG"`
}

// GraphQLConfig holds the indexer connection settings.
type GraphQLConfig struct {
	Proto             string        `yaml:"proto" env:"COMMON_API_GRAPHQL_PROTO"`
	Host              string        `yaml:"host" env:"COMMON_API_GRAPHQL_HOST"`
	Port              int           `yaml:"port" env:"COMMON_API_GRAPHQL_PORT"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	QueryTimeout      time.Duration `yaml:"query_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	ReconnectBaseWait time.Duration `yaml:"reconnect_base_wait"`
	ReconnectMaxWait  time.Duration `yaml:"reconnect_max_wait"`
	PageSize          int           `yaml:"page_size"`
}

// URL returns the indexer endpoint.
func (g GraphQLConfig) URL() string {
	return fmt.Sprintf("%s://%s:%d/graphql", g.Proto, g.Host, g.Port)
}

// FeaturesConfig switches optional behavior.
type FeaturesConfig struct {
	EnableGraphQL    bool  `yaml:"enable_graphql" env:"COMMON_API_ENABLE_GRAPHQL"`
	EnableDemoMode   bool  `yaml:"enable_demo_mode" env:"COMMON_API_ENABLE_DEMO_MODE"`
	EnablePriceCache *bool `yaml:"enable_price_cache" env:"COMMON_API_ENABLE_PRICE_CACHE"`
	EnableBalances   bool  `yaml:"enable_balances" env:"COMMON_API_ENABLE_BALANCES"`
	EnableTransfers  bool  `yaml:"enable_transfers" env:"COMMON_API_ENABLE_TRANSFERS"`
}

// PriceCacheEnabled reports whether USD prices are served.
func (f FeaturesConfig) PriceCacheEnabled() bool {
	return f.EnablePriceCache == nil || *f.EnablePriceCache
}

// PriceCacheConfig holds CoinGecko settings.
type PriceCacheConfig struct {
	InvaliditySeconds int           `yaml:"invalidity_seconds" env:"COMMON_API_PRICE_CACHE_INVALIDITY_SECONDS"`
	BaseURL           string        `yaml:"base_url" env:"COMMON_API_COINGECKO_URL"`
	APIKey            string        `yaml:"api_key" env:"COMMON_API_COINGECKO_API_KEY"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RefreshInterval   time.Duration `yaml:"refresh_interval"` // 0 refreshes on demand only
}

// Invalidity returns how long a fetched price is served.
func (p PriceCacheConfig) Invalidity() time.Duration {
	return time.Duration(p.InvaliditySeconds) * time.Second
}

// TokenConfig maps a gateway price name to a CoinGecko coin id. Address
// and Decimals identify the token on chain; tokens without an address are
// priced but never used for pool liquidity.
type TokenConfig struct {
	Name        string `yaml:"name"`
	CoingeckoID string `yaml:"coingecko_id"`
	Address     string `yaml:"address"`
	Decimals    int32  `yaml:"decimals"`
}

// CORSConfig lists allowed origin patterns (regular expressions).
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// LogConfig selects the log level and format ("text" or "json").
type LogConfig struct {
	Level  string `yaml:"level" env:"COMMON_API_LOG_LEVEL"`
	Format string `yaml:"format" env:"COMMON_API_LOG_FORMAT"`
}

// MetricsConfig controls the Prometheus endpoint on the HTTP listener.
type MetricsConfig struct {
	Disabled bool   `yaml:"disabled" env:"COMMON_API_METRICS_DISABLED"`
	Path     string `yaml:"path"`
}
