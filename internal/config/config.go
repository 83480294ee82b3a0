// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Links is a symmetric set of linked region pairs, configured as
// comma-separated "a:b" pairs.
type Links struct {
	pairs map[string]bool
}

// UnmarshalText parses "spawn:mall,spawn:arena" into linked pairs.
func (l *Links) UnmarshalText(text []byte) error {
	l.pairs = make(map[string]bool)
	s := strings.TrimSpace(string(text))
	if s == "" {
		return nil
	}
	for _, pair := range strings.Split(s, ",") {
		a, b, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || a == "" || b == "" {
			return fmt.Errorf("region link %q: want a:b", pair)
		}
		l.pairs[linkKey(a, b)] = true
	}
	return nil
}

// IsLinked reports whether two regions are linked. A region is never
// linked to itself.
func (l *Links) IsLinked(a, b string) bool {
	if a == b {
		return false
	}
	return l.pairs[linkKey(a, b)]
}

func linkKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// Config is the server configuration, read from the environment.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`

	RedisURL string        `env:"REDIS_URL"`
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"5m"`

	MultiRegion bool  `env:"MULTI_REGION" envDefault:"false"`
	RegionLinks Links `env:"REGION_LINKS"`

	AnnounceOnCreate bool            `env:"ANNOUNCE_ON_CREATE" envDefault:"true"`
	MarketCut        decimal.Decimal `env:"MARKET_CUT" envDefault:"0.05"`

	MaxListingsPerSeller int `env:"MAX_LISTINGS_PER_SELLER" envDefault:"0"`
	MaxListingsPerRegion int `env:"MAX_LISTINGS_PER_REGION" envDefault:"0"`
	HistoryLimit         int `env:"HISTORY_LIMIT" envDefault:"50"`
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.MarketCut.IsNegative() || cfg.MarketCut.GreaterThan(decimal.NewFromInt(1)) {
		return Config{}, fmt.Errorf("MARKET_CUT %s: want a fraction in [0, 1]", cfg.MarketCut)
	}
	return cfg, nil
}
