// Package config loads signal-lab settings from defaults, a YAML file,
// a .env file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"memecoin-signal-lab/internal/aggregator"
	"memecoin-signal-lab/internal/enrichment"
	"memecoin-signal-lab/internal/pipeline"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// DefaultSolanaRPC is the public mainnet RPC endpoint.
const DefaultSolanaRPC = "https://api.mainnet-beta.solana.com"

// Config is the complete application configuration.
type Config struct {
	Log      LogConfig          `yaml:"log"`
	Metrics  MetricsConfig      `yaml:"metrics"`
	Storage  StorageConfig      `yaml:"storage"`
	Cache    CacheConfig        `yaml:"cache"`
	Sources  SourcesConfig      `yaml:"sources"`
	Dispatch DispatchConfig     `yaml:"dispatch"`
	Pipeline PipelineConfig     `yaml:"pipeline"`
	Parser   ParserConfig       `yaml:"parser"`
	Scoring  aggregator.Scoring `yaml:"scoring"`
	Feed     FeedConfig         `yaml:"feed"`
	API      APIConfig          `yaml:"api"`
	Notify   NotifyConfig       `yaml:"notify"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// StorageConfig selects the persistence backends.
type StorageConfig struct {
	Driver        string `yaml:"driver"`         // memory or postgres
	PostgresDSN   string `yaml:"postgres_dsn"`   // required for postgres
	ClickhouseDSN string `yaml:"clickhouse_dsn"` // price history; memory when empty
	Migrate       bool   `yaml:"migrate"`        // apply embedded migrations on start
}

// CacheConfig configures the optional Redis response cache.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr"` // disabled when empty
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

// SourceConfig configures one enrichment source.
type SourceConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Endpoint      string        `yaml:"endpoint"`
	APIKey        string        `yaml:"api_key"`
	RatePerMinute float64       `yaml:"rate_per_minute"` // 0 means unlimited
	Burst         int           `yaml:"burst"`
	Timeout       time.Duration `yaml:"timeout"`
}

// SourcesConfig configures every enrichment source.
type SourcesConfig struct {
	DexScreener  SourceConfig `yaml:"dexscreener"`
	RugCheck     SourceConfig `yaml:"rugcheck"`
	OnChain      SourceConfig `yaml:"onchain"`
	Social       SourceConfig `yaml:"social"`
	PriceHistory SourceConfig `yaml:"price_history"`
}

// Named returns the sources keyed by source name.
func (s SourcesConfig) Named() map[string]SourceConfig {
	return map[string]SourceConfig{
		enrichment.SourceDexScreener:  s.DexScreener,
		enrichment.SourceRugCheck:     s.RugCheck,
		enrichment.SourceOnChain:      s.OnChain,
		enrichment.SourceSocial:       s.Social,
		enrichment.SourcePriceHistory: s.PriceHistory,
	}
}

// DispatchConfig configures retries and circuit breaking shared by all sources.
type DispatchConfig struct {
	MaxRetries         int           `yaml:"max_retries"`
	Backoff            time.Duration `yaml:"backoff"`
	MaxBackoff         time.Duration `yaml:"max_backoff"`
	RateLimitCooldown  time.Duration `yaml:"rate_limit_cooldown"`
	BreakerFailures    uint32        `yaml:"breaker_failures"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout"`
}

// PipelineConfig configures batch execution.
type PipelineConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	ItemTimeout    time.Duration `yaml:"item_timeout"` // 0 derives from the source budget
	HistoryLimit   int           `yaml:"history_limit"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	ProgressBuffer int           `yaml:"progress_buffer"`
	ProgressGrace  time.Duration `yaml:"progress_grace"`
	PendingLimit   int           `yaml:"pending_limit"`
}

// ParserConfig configures signal extraction.
type ParserConfig struct {
	HypeWords []string `yaml:"hype_words"` // replaces the built-in list when set
	MinLength int      `yaml:"min_length"`
}

// FeedConfig configures the websocket message feed.
type FeedConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	BatchSize         int           `yaml:"batch_size"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
}

// APIConfig configures the read API.
type APIConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// NotifyConfig configures alert delivery.
type NotifyConfig struct {
	MinConfidence     float64 `yaml:"min_confidence"`
	DiscordWebhookURL string  `yaml:"discord_webhook_url"`
	DiscordUsername   string  `yaml:"discord_username"`
	TelegramAPI       string  `yaml:"telegram_api"`
	TelegramBotToken  string  `yaml:"telegram_bot_token"`
	TelegramChatID    string  `yaml:"telegram_chat_id"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Log:     LogConfig{Level: "info"},
		Metrics: MetricsConfig{Namespace: "signal_lab"},
		Storage: StorageConfig{Driver: DriverMemory},
		Cache:   CacheConfig{TTL: 5 * time.Minute},
		Sources: SourcesConfig{
			DexScreener: SourceConfig{
				Enabled:       true,
				Endpoint:      enrichment.DefaultDexScreenerURL,
				RatePerMinute: 300,
				Burst:         5,
				Timeout:       10 * time.Second,
			},
			RugCheck: SourceConfig{
				Enabled:       true,
				Endpoint:      enrichment.DefaultRugCheckURL,
				RatePerMinute: 60,
				Burst:         2,
				Timeout:       10 * time.Second,
			},
			OnChain: SourceConfig{
				Enabled:       true,
				Endpoint:      DefaultSolanaRPC,
				RatePerMinute: 600,
				Burst:         10,
				Timeout:       10 * time.Second,
			},
			Social: SourceConfig{
				RatePerMinute: 30,
				Burst:         1,
				Timeout:       10 * time.Second,
			},
			PriceHistory: SourceConfig{
				Enabled: true,
				Timeout: 5 * time.Second,
			},
		},
		Dispatch: DispatchConfig{
			MaxRetries:         enrichment.DefaultMaxRetries,
			Backoff:            enrichment.DefaultBackoff,
			MaxBackoff:         enrichment.DefaultMaxBackoff,
			RateLimitCooldown:  enrichment.DefaultRateLimitCooldown,
			BreakerFailures:    enrichment.DefaultBreakerFailures,
			BreakerOpenTimeout: enrichment.DefaultBreakerOpenTimeout,
		},
		Pipeline: PipelineConfig{
			Concurrency:    pipeline.DefaultConcurrency,
			HistoryLimit:   pipeline.DefaultHistoryLimit,
			StaleAfter:     pipeline.DefaultStaleAfter,
			ProgressBuffer: pipeline.DefaultProgressBuffer,
			ProgressGrace:  pipeline.DefaultProgressGrace,
			PendingLimit:   100,
		},
		Scoring: aggregator.DefaultScoring(),
		Feed: FeedConfig{
			BatchSize:         50,
			FlushInterval:     10 * time.Second,
			ReconnectDelay:    time.Second,
			MaxReconnectDelay: 30 * time.Second,
		},
		API: APIConfig{
			Addr:           "127.0.0.1:8080",
			RequestTimeout: 5 * time.Second,
		},
		Notify: NotifyConfig{
			MinConfidence:   70,
			DiscordUsername: "signal-lab",
		},
	}
}

// Load builds the configuration. A missing .env file is ignored; a missing
// YAML file is an error only when path is set explicitly.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() {
	c.Storage.Driver = getEnv("SIGNAL_LAB_STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.PostgresDSN = getEnv("SIGNAL_LAB_POSTGRES_DSN", c.Storage.PostgresDSN)
	c.Storage.ClickhouseDSN = getEnv("SIGNAL_LAB_CLICKHOUSE_DSN", c.Storage.ClickhouseDSN)
	c.Storage.Migrate = getEnvBool("SIGNAL_LAB_MIGRATE", c.Storage.Migrate)

	c.Cache.RedisAddr = getEnv("SIGNAL_LAB_REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.RedisPassword = getEnv("SIGNAL_LAB_REDIS_PASSWORD", c.Cache.RedisPassword)
	c.Cache.RedisDB = getEnvInt("SIGNAL_LAB_REDIS_DB", c.Cache.RedisDB)

	c.Sources.OnChain.Endpoint = getEnv("SOLANA_RPC_ENDPOINT", c.Sources.OnChain.Endpoint)
	c.Sources.RugCheck.APIKey = getEnv("RUGCHECK_API_KEY", c.Sources.RugCheck.APIKey)
	c.Sources.Social.APIKey = getEnv("SOCIAL_API_KEY", c.Sources.Social.APIKey)
	if endpoint := os.Getenv("SOCIAL_ENDPOINT"); endpoint != "" {
		c.Sources.Social.Endpoint = endpoint
		c.Sources.Social.Enabled = true
	}

	c.Notify.DiscordWebhookURL = getEnv("DISCORD_WEBHOOK_URL", c.Notify.DiscordWebhookURL)
	c.Notify.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.Notify.TelegramBotToken)
	c.Notify.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notify.TelegramChatID)
	c.Notify.MinConfidence = getEnvFloat("SIGNAL_LAB_MIN_CONFIDENCE", c.Notify.MinConfidence)

	c.Feed.Endpoint = getEnv("SIGNAL_LAB_FEED_ENDPOINT", c.Feed.Endpoint)
	c.API.Addr = getEnv("SIGNAL_LAB_API_ADDR", c.API.Addr)
	c.Log.Level = getEnv("SIGNAL_LAB_LOG_LEVEL", c.Log.Level)
	c.Log.Pretty = getEnvBool("SIGNAL_LAB_LOG_PRETTY", c.Log.Pretty)
	c.Pipeline.Concurrency = getEnvInt("SIGNAL_LAB_CONCURRENCY", c.Pipeline.Concurrency)
	c.Pipeline.ItemTimeout = getEnvDuration("SIGNAL_LAB_ITEM_TIMEOUT", c.Pipeline.ItemTimeout)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			add("storage.postgres_dsn is required for driver %q", DriverPostgres)
		}
	default:
		add("storage.driver %q: want %q or %q", c.Storage.Driver, DriverMemory, DriverPostgres)
	}

	if err := c.Scoring.Validate(); err != nil {
		add("scoring: %w", err)
	}

	for name, src := range c.Sources.Named() {
		if !src.Enabled {
			continue
		}
		if src.Timeout <= 0 {
			add("sources.%s.timeout must be positive", name)
		}
		if src.RatePerMinute < 0 {
			add("sources.%s.rate_per_minute must not be negative", name)
		}
		if src.Burst < 0 {
			add("sources.%s.burst must not be negative", name)
		}
		if name != enrichment.SourcePriceHistory && strings.TrimSpace(src.Endpoint) == "" {
			add("sources.%s.endpoint is required when enabled", name)
		}
	}

	if c.Dispatch.MaxRetries < 0 {
		add("dispatch.max_retries must not be negative")
	}
	if c.Dispatch.Backoff <= 0 || c.Dispatch.MaxBackoff <= 0 {
		add("dispatch backoff durations must be positive")
	}
	if c.Dispatch.RateLimitCooldown <= 0 {
		add("dispatch.rate_limit_cooldown must be positive")
	}
	if c.Dispatch.BreakerOpenTimeout <= 0 {
		add("dispatch.breaker_open_timeout must be positive")
	}

	if c.Pipeline.Concurrency < 1 {
		add("pipeline.concurrency must be at least 1")
	}
	if c.Pipeline.ItemTimeout < 0 {
		add("pipeline.item_timeout must not be negative")
	}
	if c.Pipeline.StaleAfter <= 0 {
		add("pipeline.stale_after must be positive")
	}
	if c.Pipeline.HistoryLimit < 1 || c.Pipeline.PendingLimit < 1 {
		add("pipeline history_limit and pending_limit must be at least 1")
	}

	if c.Feed.BatchSize < 1 {
		add("feed.batch_size must be at least 1")
	}
	if c.Feed.FlushInterval <= 0 {
		add("feed.flush_interval must be positive")
	}
	if c.API.RequestTimeout <= 0 {
		add("api.request_timeout must be positive")
	}

	if c.Notify.MinConfidence < 0 || c.Notify.MinConfidence > 100 {
		add("notify.min_confidence %.2f outside [0,100]", c.Notify.MinConfidence)
	}
	if (c.Notify.TelegramBotToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_bot_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
