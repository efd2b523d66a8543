// Package config defines the streampredict configuration and its
// validation.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by STREAMPREDICT_* environment variables.
type Config struct {
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Pricing    PricingConfig    `toml:"pricing"`
	Settlement SettlementConfig `toml:"settlement"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PostgresConfig holds database connection parameters. DSN wins over the
// individual fields when set.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	MarketTTL    duration `toml:"market_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds archive bucket parameters. Archival is skipped when
// Bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PricingConfig tunes the odds engine and its scheduler.
type PricingConfig struct {
	Interval       duration `toml:"interval"`
	Volatility     float64  `toml:"volatility"`
	Momentum       float64  `toml:"momentum"`
	MinOdds        float64  `toml:"min_odds"`
	MaxOdds        float64  `toml:"max_odds"`
	MinProbability float64  `toml:"min_probability"`
	MaxProbability float64  `toml:"max_probability"`
	// SignalSource is one of none, redis or random.
	SignalSource   string `toml:"signal_source"`
	RandomSeed     uint64 `toml:"random_seed"`
	MaxConcurrency int    `toml:"max_concurrency"`
	RecomputeOnBet bool   `toml:"recompute_on_bet"`
}

// SettlementConfig tunes settlement and market creation rules.
type SettlementConfig struct {
	Precision          int32     `toml:"precision"`
	LockBackend        string    `toml:"lock_backend"`
	LockTTL            duration  `toml:"lock_ttl"`
	Archive            bool      `toml:"archive"`
	AllowedCreatorCuts []float64 `toml:"allowed_creator_cuts"`
	MinOutcomes        int       `toml:"min_outcomes"`
	MaxOutcomes        int       `toml:"max_outcomes"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML strings like "30s" decode.
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

// Defaults returns the configuration used when a key is absent. These match
// config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "streampredict",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			MarketTTL:    duration{5 * time.Minute},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Pricing: PricingConfig{
			Interval:       duration{30 * time.Second},
			Volatility:     0.1,
			Momentum:       0.05,
			MinOdds:        1.1,
			MaxOdds:        10.0,
			MinProbability: 0.05,
			MaxProbability: 0.95,
			SignalSource:   "none",
			MaxConcurrency: 8,
			RecomputeOnBet: true,
		},
		Settlement: SettlementConfig{
			Precision:          18,
			LockBackend:        "redis",
			LockTTL:            duration{30 * time.Second},
			AllowedCreatorCuts: []float64{2, 5, 10, 15},
			MinOutcomes:        2,
			MaxOutcomes:        6,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "market_cancelled", "no_winners"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"api":     true,
	"pricer":  true,
	"full":    true,
	"archive": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSignalSources = map[string]bool{
	"none":   true,
	"redis":  true,
	"random": true,
}

// Validate checks Config for invalid or missing values and returns one
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, pricer, full, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be within [0, pool_max_conns]")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.MarketTTL.Duration <= 0 {
		errs = append(errs, "redis: market_ttl must be positive")
	}

	// S3
	if c.Settlement.Archive {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must be set when settlement.archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Pricing
	p := c.Pricing
	if p.Interval.Duration <= 0 {
		errs = append(errs, "pricing: interval must be positive")
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"volatility", p.Volatility},
		{"momentum", p.Momentum},
		{"min_odds", p.MinOdds},
		{"max_odds", p.MaxOdds},
		{"min_probability", p.MinProbability},
		{"max_probability", p.MaxProbability},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			errs = append(errs, fmt.Sprintf("pricing: %s must be a finite non-negative number", f.name))
		}
	}
	if p.MinProbability <= 0 || p.MaxProbability >= 1 || p.MinProbability >= p.MaxProbability {
		errs = append(errs, "pricing: probability bounds must satisfy 0 < min < max < 1")
	}
	if p.MinOdds < 1 || p.MinOdds >= p.MaxOdds {
		errs = append(errs, "pricing: odds bounds must satisfy 1 <= min < max")
	}
	if !validSignalSources[strings.ToLower(p.SignalSource)] {
		errs = append(errs, fmt.Sprintf("pricing: unknown signal_source %q (valid: none, redis, random)", p.SignalSource))
	}
	if p.MaxConcurrency < 1 {
		errs = append(errs, "pricing: max_concurrency must be >= 1")
	}

	// Settlement
	s := c.Settlement
	if s.Precision < 0 || s.Precision > 36 {
		errs = append(errs, fmt.Sprintf("settlement: precision must be 0-36, got %d", s.Precision))
	}
	if b := strings.ToLower(s.LockBackend); b != "redis" && b != "local" {
		errs = append(errs, fmt.Sprintf("settlement: unknown lock_backend %q (valid: redis, local)", s.LockBackend))
	}
	if s.LockTTL.Duration <= 0 {
		errs = append(errs, "settlement: lock_ttl must be positive")
	}
	if len(s.AllowedCreatorCuts) == 0 {
		errs = append(errs, "settlement: allowed_creator_cuts must not be empty")
	}
	for _, cut := range s.AllowedCreatorCuts {
		if cut < 0 || cut > 100 {
			errs = append(errs, fmt.Sprintf("settlement: creator cut %v outside [0, 100]", cut))
		}
	}
	if s.MinOutcomes < 2 || s.MaxOutcomes > 6 || s.MinOutcomes > s.MaxOutcomes {
		errs = append(errs, "settlement: outcome bounds must satisfy 2 <= min_outcomes <= max_outcomes <= 6")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
		errs = append(errs, "server: rate_limit_window must be positive when rate_limit is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
