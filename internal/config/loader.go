package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path, if any, merges it on top of the built-in
// defaults, applies CRYPTOWORTH_* environment variable overrides, and returns
// the final Config. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CRYPTOWORTH_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// Feed
	setStr(&cfg.Feed.URL, "CRYPTOWORTH_FEED_URL")
	setStr(&cfg.Feed.Origin, "CRYPTOWORTH_FEED_ORIGIN")
	setStringSlice(&cfg.Feed.Symbols, "CRYPTOWORTH_FEED_SYMBOLS")
	setStringSlice(&cfg.Feed.Channels, "CRYPTOWORTH_FEED_CHANNELS")

	// Engine
	setBool(&cfg.Engine.ResetOnSnapshot, "CRYPTOWORTH_ENGINE_RESET_ON_SNAPSHOT")
	setInt(&cfg.Engine.QueueSize, "CRYPTOWORTH_ENGINE_QUEUE_SIZE")

	// Journal
	setBool(&cfg.Journal.Enabled, "CRYPTOWORTH_JOURNAL_ENABLED")
	setStr(&cfg.Journal.Dir, "CRYPTOWORTH_JOURNAL_DIR")

	// Postgres
	setStr(&cfg.Postgres.DSN, "CRYPTOWORTH_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "CRYPTOWORTH_POSTGRES_POOL_MAX_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CRYPTOWORTH_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setStr(&cfg.Redis.URL, "CRYPTOWORTH_REDIS_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL") // compatibility alias
	setDuration(&cfg.Redis.TTL, "CRYPTOWORTH_REDIS_TTL")

	// Kafka
	setStringSlice(&cfg.Kafka.Brokers, "CRYPTOWORTH_KAFKA_BROKERS")
	setStr(&cfg.Kafka.TopicPrefix, "CRYPTOWORTH_KAFKA_TOPIC_PREFIX")

	// S3
	setStr(&cfg.S3.Endpoint, "CRYPTOWORTH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CRYPTOWORTH_S3_REGION")
	setStr(&cfg.S3.Bucket, "CRYPTOWORTH_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "CRYPTOWORTH_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "CRYPTOWORTH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CRYPTOWORTH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CRYPTOWORTH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CRYPTOWORTH_S3_FORCE_PATH_STYLE")

	// Server
	setInt(&cfg.Server.Port, "CRYPTOWORTH_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // compatibility alias
	setStringSlice(&cfg.Server.CORSOrigins, "CRYPTOWORTH_SERVER_CORS_ORIGINS")

	setStr(&cfg.Currencies.Quote, "CRYPTOWORTH_QUOTE")
	setStr(&cfg.LogLevel, "CRYPTOWORTH_LOG_LEVEL")
}

// Each helper only mutates the target when the environment variable is
// present, non-empty and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
