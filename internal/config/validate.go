package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := validatePort("http.port", c.HTTP.Port); err != nil {
		return err
	}
	if err := validatePort("ws.port", c.WS.Port); err != nil {
		return err
	}
	if c.WS.MaxBacklog < 0 {
		return errors.New("ws.max_backlog must be >= 0")
	}

	if c.Features.EnableGraphQL {
		if c.GraphQL.Proto != "ws" && c.GraphQL.Proto != "wss" {
			return fmt.Errorf("graphql.proto must be ws or wss, got %q", c.GraphQL.Proto)
		}
		if c.GraphQL.Host == "" {
			return errors.New("graphql.host is required")
		}
		if err := validatePort("graphql.port", c.GraphQL.Port); err != nil {
			return err
		}
		if c.GraphQL.PageSize < 0 {
			return errors.New("graphql.page_size must be >= 0")
		}
		if c.GraphQL.ReconnectBaseWait > c.GraphQL.ReconnectMaxWait {
			return fmt.Errorf("graphql.reconnect_base_wait (%s) cannot exceed reconnect_max_wait (%s)",
				c.GraphQL.ReconnectBaseWait, c.GraphQL.ReconnectMaxWait)
		}
	}

	if c.PriceCache.InvaliditySeconds < 1 {
		return errors.New("price_cache.invalidity_seconds must be >= 1")
	}
	if c.PriceCache.MaxRetries < 0 {
		return errors.New("price_cache.max_retries must be >= 0")
	}

	seen := make(map[string]bool, len(c.Tokens))
	for i, tok := range c.Tokens {
		if tok.Name == "" {
			return fmt.Errorf("tokens[%d].name is required", i)
		}
		if tok.CoingeckoID == "" {
			return fmt.Errorf("tokens[%d].coingecko_id is required", i)
		}
		if tok.Decimals < 0 {
			return fmt.Errorf("tokens[%d].decimals must be >= 0", i)
		}
		if seen[tok.Name] {
			return fmt.Errorf("tokens[%d].name %q is duplicated", i, tok.Name)
		}
		seen[tok.Name] = true
	}

	for i, origin := range c.CORS.Origins {
		if _, err := regexp.Compile(origin); err != nil {
			return fmt.Errorf("cors.origins[%d] is not a valid pattern: %w", i, err)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	return nil
}

func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", field, port)
	}
	return nil
}
