package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable, e.g. FRONTIER_PORT.
const Prefix = "FRONTIER"

// Config represents application configuration. The sections are embedded
// so every variable sits directly under the prefix.
type Config struct {
	ServerConfig
	LoggingConfig
	StorageConfig
	CacheConfig
	FetchConfig
	PortfolioConfig
}

// ServerConfig represents the HTTP server settings
type ServerConfig struct {
	Port      int    `envconfig:"PORT" default:"8080"`
	StaticDir string `envconfig:"STATIC_DIR" default:"./static"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// StorageConfig represents the run history database
type StorageConfig struct {
	DBPath string `envconfig:"DB_PATH" default:"frontier.db"`
}

// CacheConfig represents the price cache. An empty RedisAddr selects the
// in-process cache.
type CacheConfig struct {
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	TTL           time.Duration `envconfig:"CACHE_TTL" default:"6h"`
}

// FetchConfig represents market data retrieval limits
type FetchConfig struct {
	RequestsPerSecond float64       `envconfig:"FETCH_RPS" default:"4"`
	Timeout           time.Duration `envconfig:"FETCH_TIMEOUT" default:"15s"`
	Concurrency       int           `envconfig:"FETCH_CONCURRENCY" default:"8"`
	MaxTickers        int           `envconfig:"MAX_TICKERS" default:"20"`
	UniverseFile      string        `envconfig:"UNIVERSE_FILE"`
}

// PortfolioConfig represents estimation and optimization defaults
type PortfolioConfig struct {
	PeriodsPerYear float64 `envconfig:"PERIODS_PER_YEAR" default:"252"`
	RiskFreeRate   float64 `envconfig:"RISK_FREE_RATE" default:"0"`
	FrontierPoints int     `envconfig:"FRONTIER_POINTS" default:"50"`
	Samples        int     `envconfig:"SAMPLES" default:"2000"`
}

// Load reads configuration from FRONTIER_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate validates configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", c.Port)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("fetch rate must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if c.MaxTickers < 2 {
		return fmt.Errorf("max tickers must be at least 2")
	}
	if c.PeriodsPerYear <= 0 {
		return fmt.Errorf("periods per year must be positive")
	}
	if c.RiskFreeRate < 0 || c.RiskFreeRate > 1 {
		return fmt.Errorf("risk free rate must be in [0, 1]")
	}
	if c.FrontierPoints < 2 {
		return fmt.Errorf("frontier needs at least 2 points")
	}
	if c.Samples < 0 {
		return fmt.Errorf("sample count must be non-negative")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }
