package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/silvermint/dexquote/internal/source"
)

// Config holds all process-wide startup parameters. There is no runtime
// reconfiguration: values are read once at boot.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	Chain  ChainConfig  `mapstructure:"chain"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Quote  QuoteConfig  `mapstructure:"quote"`
	Pool   PoolConfig   `mapstructure:"pool"`
	Redis  RedisConfig  `mapstructure:"redis"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ChainConfig struct {
	RPCURL       string   `mapstructure:"rpc_url"`
	Contract     string   `mapstructure:"contract"`
	AtomDecimals int32    `mapstructure:"atom_decimals"`
	Markets      []string `mapstructure:"markets"`
}

type CacheConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type QuoteConfig struct {
	MaxHops        int     `mapstructure:"max_hops"`
	RoundingBuffer float64 `mapstructure:"rounding_buffer"`
}

type PoolConfig struct {
	MinWorkers   int `mapstructure:"min_workers"`
	MaxWorkers   int `mapstructure:"max_workers"`
	MaxQueueSize int `mapstructure:"max_queue_size"`
}

type RedisConfig struct {
	// Addr empty disables snapshot publishing.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Load reads configuration from config.yaml (if present) and DEXQUOTE_*
// environment variables, applies defaults and validates.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("chain.rpc_url", "http://localhost:8545")
	v.SetDefault("chain.contract", "")
	v.SetDefault("chain.atom_decimals", 18)
	v.SetDefault("chain.markets", []string{})
	v.SetDefault("cache.poll_interval", 30*time.Second)
	v.SetDefault("quote.max_hops", 2)
	v.SetDefault("quote.rounding_buffer", 0.001)
	v.SetDefault("pool.min_workers", 4)
	v.SetDefault("pool.max_workers", 4)
	v.SetDefault("pool.max_queue_size", 64)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("DEXQUOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the startup invariants.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain rpc url is required")
	}
	if c.Chain.Contract == "" {
		return fmt.Errorf("order-store contract address is required")
	}
	if c.Chain.AtomDecimals < 0 {
		return fmt.Errorf("atom decimals must not be negative: %d", c.Chain.AtomDecimals)
	}
	if len(c.Chain.Markets) == 0 {
		return fmt.Errorf("at least one tracked market is required")
	}
	if _, err := c.TrackedMarkets(); err != nil {
		return err
	}
	if c.Cache.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive: %s", c.Cache.PollInterval)
	}
	if c.Quote.MaxHops < 0 {
		return fmt.Errorf("max hops must not be negative: %d", c.Quote.MaxHops)
	}
	if c.Quote.RoundingBuffer < 0 || c.Quote.RoundingBuffer >= 1 {
		return fmt.Errorf("rounding buffer must be in [0, 1): %f", c.Quote.RoundingBuffer)
	}
	if c.Pool.MaxWorkers <= 0 {
		return fmt.Errorf("max workers must be positive: %d", c.Pool.MaxWorkers)
	}
	if c.Pool.MinWorkers != c.Pool.MaxWorkers {
		return fmt.Errorf("pool is static: min workers (%d) must equal max workers (%d)",
			c.Pool.MinWorkers, c.Pool.MaxWorkers)
	}
	if c.Pool.MaxQueueSize < 0 {
		return fmt.Errorf("max queue size must not be negative: %d", c.Pool.MaxQueueSize)
	}
	return nil
}

// TrackedMarkets parses the configured BASE-QUOTE pair strings.
func (c *Config) TrackedMarkets() ([]source.Market, error) {
	markets := make([]source.Market, 0, len(c.Chain.Markets))
	for _, s := range c.Chain.Markets {
		m, err := source.ParseMarket(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid tracked market %q: %w", s, err)
		}
		markets = append(markets, m)
	}
	return markets, nil
}
