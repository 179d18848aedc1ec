package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHTTPPort              = 3000
	DefaultReadHeaderTimeout     = 10 * time.Second
	DefaultShutdownTimeout       = 15 * time.Second
	DefaultWSHost                = "localhost"
	DefaultWSPort                = 80
	DefaultWSWriteTimeout        = 10 * time.Second
	DefaultWSPingInterval        = 30 * time.Second
	DefaultWSPongTimeout         = 60 * time.Second
	DefaultWSMaxBacklog          = 4096
	DefaultGraphQLProto          = "ws"
	DefaultGraphQLHost           = "localhost"
	DefaultGraphQLPort           = 4351
	DefaultHandshakeTimeout      = 10 * time.Second
	DefaultQueryTimeout          = 30 * time.Second
	DefaultGraphQLPingInterval   = 15 * time.Second
	DefaultReconnectBaseWait     = 1 * time.Second
	DefaultReconnectMaxWait      = 60 * time.Second
	DefaultPriceInvalidity       = 3600 // seconds
	DefaultCoingeckoURL          = "https://api.coingecko.com/api/v3"
	DefaultPriceTimeout          = 10 * time.Second
	DefaultPriceMaxRetries       = 2
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "text"
	DefaultMetricsPath           = "/metrics"
)

// DefaultTokens are the USD price caches served when none are configured.
var DefaultTokens = []TokenConfig{
	{Name: "azero", CoingeckoID: "aleph-zero"},
	{Name: "weth", CoingeckoID: "ethereum"},
	{Name: "wbtc", CoingeckoID: "bitcoin"},
	{Name: "usdt", CoingeckoID: "tether"},
	{Name: "usdc", CoingeckoID: "usd-coin"},
}

// DefaultCORSOrigins are the allowed browser origins.
var DefaultCORSOrigins = []string{
	`\.common\.fi$`,
	`\.azero\.dev$`,
	`\.d15umvvtx19run\.amplifyapp\.com$`,
	`^http://localhost:[0-9]*$`,
	`^http://127\.0\.0\.1:[0-9]*$`,
}

func (c *Config) applyDefaults() {
	// HTTP defaults
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.HTTP.ReadHeaderTimeout == 0 {
		c.HTTP.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = DefaultShutdownTimeout
	}

	// WS defaults
	if c.WS.Host == "" {
		c.WS.Host = DefaultWSHost
	}
	if c.WS.Port == 0 {
		c.WS.Port = DefaultWSPort
	}
	if c.WS.WriteTimeout == 0 {
		c.WS.WriteTimeout = DefaultWSWriteTimeout
	}
	if c.WS.PingInterval == 0 {
		c.WS.PingInterval = DefaultWSPingInterval
	}
	if c.WS.PongTimeout == 0 {
		c.WS.PongTimeout = DefaultWSPongTimeout
	}
	if c.WS.MaxBacklog == 0 {
		c.WS.MaxBacklog = DefaultWSMaxBacklog
	}

	// GraphQL defaults
	if c.GraphQL.Proto == "" {
		c.GraphQL.Proto = DefaultGraphQLProto
	}
	if c.GraphQL.Host == "" {
		c.GraphQL.Host = DefaultGraphQLHost
	}
	if c.GraphQL.Port == 0 {
		c.GraphQL.Port = DefaultGraphQLPort
	}
	if c.GraphQL.HandshakeTimeout == 0 {
		c.GraphQL.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.GraphQL.QueryTimeout == 0 {
		c.GraphQL.QueryTimeout = DefaultQueryTimeout
	}
	if c.GraphQL.PingInterval == 0 {
		c.GraphQL.PingInterval = DefaultGraphQLPingInterval
	}
	if c.GraphQL.ReconnectBaseWait == 0 {
		c.GraphQL.ReconnectBaseWait = DefaultReconnectBaseWait
	}
	if c.GraphQL.ReconnectMaxWait == 0 {
		c.GraphQL.ReconnectMaxWait = DefaultReconnectMaxWait
	}

	// Price cache defaults
	if c.PriceCache.InvaliditySeconds == 0 {
		c.PriceCache.InvaliditySeconds = DefaultPriceInvalidity
	}
	if c.PriceCache.BaseURL == "" {
		c.PriceCache.BaseURL = DefaultCoingeckoURL
	}
	if c.PriceCache.Timeout == 0 {
		c.PriceCache.Timeout = DefaultPriceTimeout
	}
	if c.PriceCache.MaxRetries == 0 {
		c.PriceCache.MaxRetries = DefaultPriceMaxRetries
	}
	if len(c.Tokens) == 0 {
		c.Tokens = append([]TokenConfig(nil), DefaultTokens...)
	}

	if len(c.CORS.Origins) == 0 {
		c.CORS.Origins = append([]string(nil), DefaultCORSOrigins...)
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
