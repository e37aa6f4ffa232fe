// Package config defines the configuration of the cryptoworth server and
// provides validation helpers.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetingbytes/cryptoworth/internal/feed"
	"github.com/fleetingbytes/cryptoworth/internal/pair"
	"github.com/fleetingbytes/cryptoworth/internal/wallet"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CRYPTOWORTH_* environment variables.
// Tables such as currencies.supported merge into the defaults; arrays replace
// them.
type Config struct {
	Feed       FeedConfig        `toml:"feed"`
	Currencies wallet.Currencies `toml:"currencies"`
	Wallets    []WalletConfig    `toml:"wallets"`
	Engine     EngineConfig      `toml:"engine"`
	Journal    JournalConfig     `toml:"journal"`
	Postgres   PostgresConfig    `toml:"postgres"`
	Redis      RedisConfig       `toml:"redis"`
	Kafka      KafkaConfig       `toml:"kafka"`
	S3         S3Config          `toml:"s3"`
	Server     ServerConfig      `toml:"server"`
	LogLevel   string            `toml:"log_level"`
}

// FeedConfig holds the venue connection and subscription settings.
type FeedConfig struct {
	URL              string   `toml:"url"`
	Origin           string   `toml:"origin"`
	Symbols          []string `toml:"symbols"`
	Channels         []string `toml:"channels"`
	PriceGranularity int      `toml:"price_granularity"`
	HandshakeTimeout duration `toml:"handshake_timeout"`
}

// WalletConfig is one wallet. Balances are decimal strings so no precision is
// lost in the TOML decoder.
type WalletConfig struct {
	Name     string            `toml:"name"`
	Balances map[string]string `toml:"balances"`
}

// EngineConfig tunes message processing.
type EngineConfig struct {
	ResetOnSnapshot bool `toml:"reset_on_snapshot"`
	// QueueSize is the number of frames read ahead of the processing loop.
	// Zero reads synchronously.
	QueueSize int `toml:"queue_size"`
}

// JournalConfig controls the on-disk raw message journal.
type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// PostgresConfig holds PostgreSQL connection parameters. An empty DSN selects
// the in-memory store.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is only used in front
// of PostgreSQL.
type RedisConfig struct {
	URL string   `toml:"url"`
	TTL duration `toml:"ttl"`
}

// KafkaConfig holds the raw frame producer settings. No brokers disables it.
type KafkaConfig struct {
	Brokers     []string `toml:"brokers"`
	TopicPrefix string   `toml:"topic_prefix"`
}

// S3Config holds S3-compatible object storage parameters. An empty bucket
// disables archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			URL:              feed.DefaultURL,
			Origin:           feed.DefaultOrigin,
			Symbols:          []string{"BTC-EUR", "ETH-EUR", "LTC-EUR"},
			PriceGranularity: 60,
			HandshakeTimeout: duration{10 * time.Second},
		},
		Currencies: wallet.Currencies{
			Quote: "EUR",
			Supported: map[string]wallet.CurrencyInfo{
				"USD": {Name: "US Dollar", Scale: 2},
				"EUR": {Name: "Euro", Scale: 2},
				"BTC": {Name: "Bitcoin", Scale: 8},
				"ETH": {Name: "Ether", Scale: 8},
				"LTC": {Name: "Litecoin", Scale: 8},
			},
		},
		Engine: EngineConfig{
			QueueSize: 1024,
		},
		Journal: JournalConfig{
			Enabled: true,
			Dir:     "journal",
		},
		Postgres: PostgresConfig{
			PoolMaxConns:  10,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			TTL: duration{5 * time.Minute},
		},
		Kafka: KafkaConfig{
			TopicPrefix: "cryptoworth.raw",
		},
		S3: S3Config{
			Region: "us-east-1",
			Prefix: "journal",
			UseSSL: true,
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// SlogLevel returns the configured log level, info if unknown.
func (c *Config) SlogLevel() slog.Level {
	if l, ok := validLogLevels[strings.ToLower(c.LogLevel)]; ok {
		return l
	}
	return slog.LevelInfo
}

// Pairs parses the configured symbols.
func (c *Config) Pairs() ([]pair.Pair, error) {
	out := make([]pair.Pair, 0, len(c.Feed.Symbols))
	for _, s := range c.Feed.Symbols {
		p, err := pair.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ParseBalances parses the balance strings of w.
func (w WalletConfig) ParseBalances() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(w.Balances))
	for code, s := range w.Balances {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("wallet %s: balance of %s: %w", w.Name, code, err)
		}
		out[code] = v
	}
	return out, nil
}

// ClientConfig returns the feed client settings.
func (c *Config) ClientConfig() feed.ClientConfig {
	return feed.ClientConfig{
		URL:              c.Feed.URL,
		Origin:           c.Feed.Origin,
		Symbols:          c.Feed.Symbols,
		Channels:         c.Feed.Channels,
		PriceGranularity: c.Feed.PriceGranularity,
		HandshakeTimeout: c.Feed.HandshakeTimeout.Duration,
	}
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. Balances in currencies that
// are not supported are not an error here: the wallet drops and logs them.
func (c *Config) Validate() error {
	var errs []string

	if _, ok := validLogLevels[strings.ToLower(c.LogLevel)]; !ok {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Feed
	if c.Feed.URL == "" {
		errs = append(errs, "feed: url must not be empty")
	}
	if len(c.Feed.Symbols) == 0 {
		errs = append(errs, "feed: at least one symbol is required")
	}
	for _, s := range c.Feed.Symbols {
		if _, err := pair.Parse(s); err != nil {
			errs = append(errs, "feed: "+err.Error())
		}
	}

	// Currencies
	if c.Currencies.Quote == "" {
		errs = append(errs, "currencies: quote must not be empty")
	} else if !c.Currencies.Supports(c.Currencies.Quote) {
		errs = append(errs, fmt.Sprintf("currencies: quote %s is not a supported currency", c.Currencies.Quote))
	}
	for code, info := range c.Currencies.Supported {
		if info.Scale < 0 {
			errs = append(errs, fmt.Sprintf("currencies: scale of %s must be >= 0", code))
		}
	}

	// Wallets
	seen := make(map[string]bool, len(c.Wallets))
	for i, w := range c.Wallets {
		if w.Name == "" {
			errs = append(errs, fmt.Sprintf("wallets[%d]: name must not be empty", i))
			continue
		}
		if seen[w.Name] {
			errs = append(errs, fmt.Sprintf("wallets: duplicate name %q", w.Name))
		}
		seen[w.Name] = true
		balances, err := w.ParseBalances()
		if err != nil {
			errs = append(errs, "wallets: "+err.Error())
			continue
		}
		for code, v := range balances {
			if v.IsNegative() {
				errs = append(errs, fmt.Sprintf("wallet %s: balance of %s must not be negative", w.Name, code))
			}
		}
	}

	if c.Engine.QueueSize < 0 {
		errs = append(errs, "engine: queue_size must be >= 0")
	}
	if c.Journal.Enabled && c.Journal.Dir == "" {
		errs = append(errs, "journal: dir must not be empty when enabled")
	}
	if c.Postgres.DSN != "" && c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Redis.URL != "" && c.Postgres.DSN == "" {
		errs = append(errs, "redis: url requires postgres.dsn")
	}
	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty when bucket is set")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
