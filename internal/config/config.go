// Package config handles configuration loading and validation for the
// Gold Rush client.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for a run.
type Config struct {
	Judge      JudgeConfig      `mapstructure:"judge"`
	Run        RunConfig        `mapstructure:"run"`
	Accounting AccountingConfig `mapstructure:"accounting"`
	API        APIConfig        `mapstructure:"api"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	NewRelic   NewRelicConfig   `mapstructure:"newrelic"`
	Profiling  ProfilingConfig  `mapstructure:"profiling"`
	Log        LogConfig        `mapstructure:"log"`
}

// JudgeConfig defines how to reach the Gold Rush judge.
type JudgeConfig struct {
	Address string        `mapstructure:"address"`
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// URL returns the judge's base URL.
func (j JudgeConfig) URL() string {
	return fmt.Sprintf("http://%s:%d", j.Address, j.Port)
}

// RunConfig defines the scheduling budget shared by every Worker.
type RunConfig struct {
	Workers     int           `mapstructure:"workers"`
	MaxDepth    uint8         `mapstructure:"max_depth"`
	AvgDigMs    uint64        `mapstructure:"avg_dig_ms"`
	TimeLimit   time.Duration `mapstructure:"time_limit"`
	GridWidth   uint64        `mapstructure:"grid_width"`
	GridHeight  uint64        `mapstructure:"grid_height"`
}

// AccountingConfig defines the license pool the Accounting actor manages.
type AccountingConfig struct {
	MaxConcurrentLicenses uint8 `mapstructure:"max_concurrent_licenses"`
}

// APIConfig defines the debug/stream server settings.
type APIConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Bind        string        `mapstructure:"bind"`
	StatsCache  time.Duration `mapstructure:"stats_cache"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
}

// NotifyConfig defines outbound webhook notification settings.
type NotifyConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DiscordURL   string `mapstructure:"discord_url"`
	TelegramBot  string `mapstructure:"telegram_bot"`
	TelegramChat string `mapstructure:"telegram_chat"`
	RunName      string `mapstructure:"run_name"`
}

// NewRelicConfig defines APM reporting settings.
type NewRelicConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	LicenseKey string `mapstructure:"license_key"`
	AppName    string `mapstructure:"app_name"`
}

// ProfilingConfig defines the optional pprof debug server.
type ProfilingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bind    string `mapstructure:"bind"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load reads configuration from file and environment. ADDRESS and
// WORKERS are honored as bare (unprefixed) environment overrides per
// the judge protocol's environment contract; everything else uses the
// GOLDRUSH_ prefix.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/goldrush")
	}

	v.SetEnvPrefix("GOLDRUSH")
	v.AutomaticEnv()
	v.BindEnv("judge.address", "ADDRESS")
	v.BindEnv("run.workers", "WORKERS")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("judge.port", 8000)
	v.SetDefault("judge.timeout", "5s")

	v.SetDefault("run.workers", 8)
	v.SetDefault("run.max_depth", 10)
	v.SetDefault("run.avg_dig_ms", 2)
	v.SetDefault("run.time_limit", "10m")
	v.SetDefault("run.grid_width", 3500)
	v.SetDefault("run.grid_height", 3500)

	v.SetDefault("accounting.max_concurrent_licenses", 10)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.bind", "0.0.0.0:8090")
	v.SetDefault("api.stats_cache", "1s")
	v.SetDefault("api.cors_origins", []string{"*"})

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.run_name", "goldrush")

	v.SetDefault("newrelic.enabled", false)
	v.SetDefault("newrelic.app_name", "goldrush")

	v.SetDefault("profiling.enabled", false)
	v.SetDefault("profiling.bind", "127.0.0.1:6060")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Judge.Address == "" {
		return fmt.Errorf("judge.address (or ADDRESS) is required")
	}

	if c.Run.Workers <= 0 {
		return fmt.Errorf("run.workers must be > 0")
	}

	if c.Run.GridWidth == 0 || c.Run.GridHeight == 0 {
		return fmt.Errorf("run.grid_width and run.grid_height must be > 0")
	}

	if c.Run.GridWidth%uint64(c.Run.Workers) != 0 {
		return fmt.Errorf("run.grid_width (%d) must divide evenly by run.workers (%d)", c.Run.GridWidth, c.Run.Workers)
	}

	if c.Run.MaxDepth == 0 {
		return fmt.Errorf("run.max_depth must be > 0")
	}

	if c.Accounting.MaxConcurrentLicenses == 0 {
		return fmt.Errorf("accounting.max_concurrent_licenses must be > 0")
	}

	if c.NewRelic.Enabled && c.NewRelic.LicenseKey == "" {
		return fmt.Errorf("newrelic.license_key is required when newrelic is enabled")
	}

	return nil
}

// StripeWidth returns the width of each Worker's vertical shard.
func (c *Config) StripeWidth() uint64 {
	return c.Run.GridWidth / uint64(c.Run.Workers)
}
