package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Quotes    QuotesConfig    `mapstructure:"quotes"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Feed      FeedConfig      `mapstructure:"feed"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // "json" or "console"
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Brokers    []string `mapstructure:"brokers"`
	Topic      string   `mapstructure:"topic"`
	GroupID    string   `mapstructure:"group_id"`
	NumWorkers int      `mapstructure:"num_workers"`
}

type CacheConfig struct {
	Backend      string        `mapstructure:"backend"` // "memory" or "redis"
	Capacity     int           `mapstructure:"capacity"`
	QuoteTTL     time.Duration `mapstructure:"quote_ttl"`
	ReferenceTTL time.Duration `mapstructure:"reference_ttl"`
}

type QuotesConfig struct {
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	Jitter          bool          `mapstructure:"jitter"`
	SynthWindow     time.Duration `mapstructure:"synth_window"`
	MoversSymbols   []string      `mapstructure:"movers_symbols"`
	MoversLimit     int           `mapstructure:"movers_limit"`
}

// ProviderConfig describes one upstream quote source. Order in the chain is
// fixed: primary first, then secondary.
type ProviderConfig struct {
	Name   string `mapstructure:"name"`
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

type ProvidersConfig struct {
	Primary   ProviderConfig `mapstructure:"primary"`
	Secondary ProviderConfig `mapstructure:"secondary"`
}

type FeedConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the process environment first (if it exists) so that
	// variables like APP_PORT are available as real env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market_ticks")
	v.SetDefault("kafka.group_id", "feedd-ingest-group")
	v.SetDefault("kafka.num_workers", 4)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.capacity", 1024)
	v.SetDefault("cache.quote_ttl", 2*time.Minute)
	v.SetDefault("cache.reference_ttl", 24*time.Hour)

	v.SetDefault("quotes.provider_timeout", 3*time.Second)
	v.SetDefault("quotes.jitter", true)
	v.SetDefault("quotes.synth_window", time.Minute)
	v.SetDefault("quotes.movers_symbols", []string{
		"AAPL", "MSFT", "GOOG", "AMZN", "TSLA", "META", "NVDA", "NFLX",
		"RELIANCE.NS", "TCS.NS", "INFY.NS", "HDFCBANK.NS",
	})
	v.SetDefault("quotes.movers_limit", 5)

	v.SetDefault("providers.primary.name", "finnhub")
	v.SetDefault("providers.primary.url", "https://finnhub.io/api/v1/quote")
	v.SetDefault("providers.primary.api_key", "")
	v.SetDefault("providers.secondary.name", "twelvedata")
	v.SetDefault("providers.secondary.url", "https://api.twelvedata.com/quote")
	v.SetDefault("providers.secondary.api_key", "")

	v.SetDefault("feed.poll_interval", 10*time.Second)
	v.SetDefault("feed.poll_timeout", 8*time.Second)

	// Map dot-notation to underscores (e.g., "app.port" -> "APP_PORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind env vars so Viper maps flat vars (APP_PORT) to nested structs
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "logger.level", "logger.encoding")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.enabled", "kafka.brokers", "kafka.topic", "kafka.group_id", "kafka.num_workers")
	bindEnv(v, "cache.backend", "cache.capacity", "cache.quote_ttl", "cache.reference_ttl")
	bindEnv(v, "quotes.provider_timeout", "quotes.jitter", "quotes.synth_window", "quotes.movers_symbols", "quotes.movers_limit")
	bindEnv(v, "providers.primary.name", "providers.primary.url", "providers.primary.api_key")
	bindEnv(v, "providers.secondary.name", "providers.secondary.url", "providers.secondary.api_key")
	bindEnv(v, "feed.poll_interval", "feed.poll_timeout")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	if cfg.Cache.Backend != "memory" && cfg.Cache.Backend != "redis" {
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
	if cfg.Cache.Capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty when ingest is enabled")
	}

	return &cfg, nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
