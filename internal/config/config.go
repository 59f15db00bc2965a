// Package config loads the tick engine's settings from defaults, an
// optional config file and the environment, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marketsim/tick-engine/internal/store"
	"github.com/marketsim/tick-engine/internal/tick"
)

// Config holds all process configuration. Keys are the lower-cased names
// of the environment variables that override them.
type Config struct {
	Port        string        `mapstructure:"port"`
	DatabaseURL string        `mapstructure:"database_url"`
	RedisURL    string        `mapstructure:"redis_url"`
	CacheTTL    time.Duration `mapstructure:"tick_cache_ttl"`

	Every            time.Duration `mapstructure:"tick_every"`
	InterestInterval time.Duration `mapstructure:"tick_interest_interval"`
	BotBudget        int64         `mapstructure:"tick_bot_budget"`
	ProductLimit     int           `mapstructure:"tick_product_limit"`
	MaxProductPrice  int64         `mapstructure:"tick_max_product_price"`
	PlayerPageSize   int           `mapstructure:"tick_player_page_size"`
	NetWorthWorkers  int           `mapstructure:"tick_networth_workers"`
	LockTTL          time.Duration `mapstructure:"tick_lock_ttl"`
	RandomSeed       int64         `mapstructure:"tick_random_seed"`

	AdminToken       string `mapstructure:"tick_admin_token"`
	SchedulerEnabled bool   `mapstructure:"tick_scheduler_enabled"`
	SeedDemo         bool   `mapstructure:"tick_seed_demo"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

func setDefaults(v *viper.Viper) {
	d := tick.DefaultConfig()
	v.SetDefault("port", "8080")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("tick_cache_ttl", 30*time.Second)
	v.SetDefault("tick_every", d.Every)
	v.SetDefault("tick_interest_interval", d.InterestInterval)
	v.SetDefault("tick_bot_budget", d.BotBudget)
	v.SetDefault("tick_product_limit", d.ProductLimit)
	v.SetDefault("tick_max_product_price", d.MaxProductPrice)
	v.SetDefault("tick_player_page_size", d.PlayerPageSize)
	v.SetDefault("tick_networth_workers", d.NetWorthWorkers)
	v.SetDefault("tick_lock_ttl", d.LockTTL)
	v.SetDefault("tick_random_seed", 0)
	v.SetDefault("tick_admin_token", "")
	v.SetDefault("tick_scheduler_enabled", true)
	v.SetDefault("tick_seed_demo", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
}

// Load reads configuration. path names a TOML, YAML or JSON file; when
// empty, TICK_CONFIG is consulted, and with neither only defaults and
// the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("TICK_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Every <= 0 {
		return fmt.Errorf("tick_every must be positive, got %s", c.Every)
	}
	if c.InterestInterval <= 0 {
		return fmt.Errorf("tick_interest_interval must be positive, got %s", c.InterestInterval)
	}
	if c.BotBudget < 0 {
		return fmt.Errorf("tick_bot_budget must be non-negative")
	}
	if c.ProductLimit <= 0 {
		return fmt.Errorf("tick_product_limit must be positive")
	}
	if c.MaxProductPrice <= 0 {
		return fmt.Errorf("tick_max_product_price must be positive")
	}
	if c.PlayerPageSize <= 0 {
		return fmt.Errorf("tick_player_page_size must be positive")
	}
	if c.NetWorthWorkers <= 0 {
		return fmt.Errorf("tick_networth_workers must be positive")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// Tick returns the engine settings.
func (c *Config) Tick() tick.Config {
	return tick.Config{
		Every:            c.Every,
		BotBudget:        c.BotBudget,
		ProductLimit:     c.ProductLimit,
		MaxProductPrice:  c.MaxProductPrice,
		InterestInterval: c.InterestInterval,
		PlayerPageSize:   c.PlayerPageSize,
		NetWorthWorkers:  c.NetWorthWorkers,
		LockTTL:          c.LockTTL,
		Retry:            store.DefaultRetryConfig(),
	}
}
