// Package config provides configuration management for the engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Engine        EngineConfig       `mapstructure:"engine"`
	Execution     ExecutionConfig    `mapstructure:"execution"`
	Monitor       MonitorConfig      `mapstructure:"monitor"`
	Store         StoreConfig        `mapstructure:"store"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
	Notifications NotificationConfig `mapstructure:"notifications"`
}

// EngineConfig holds engine-wide configuration.
type EngineConfig struct {
	Mode string `mapstructure:"mode"` // "live", "paper"
	// Symbols sharing a correlation group count against
	// max_correlated_positions together.
	CorrelationGroups map[string]string `mapstructure:"correlation_groups"`
}

// ExecutionConfig holds trade executor configuration.
type ExecutionConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseRetryDelay    time.Duration `mapstructure:"base_retry_delay"`
	MaxRetryDelay     time.Duration `mapstructure:"max_retry_delay"`
	SlippageTolerance float64       `mapstructure:"slippage_tolerance"` // %
	// Market order is used when urgency or confidence reaches this
	// threshold, or when the spread is at most MaxSpreadPercent.
	MarketOrderThreshold float64 `mapstructure:"market_order_threshold"`
	MaxSpreadPercent     float64 `mapstructure:"max_spread_percent"`
	LimitOffsetPercent   float64 `mapstructure:"limit_offset_percent"`
}

// MonitorConfig holds position monitor configuration.
type MonitorConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	TrailingActivation float64       `mapstructure:"trailing_activation"` // % unrealized gain
	ScaleOutRMultiples []float64     `mapstructure:"scale_out_r_multiples"`
	ScaleOutFractions  []float64     `mapstructure:"scale_out_fractions"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig holds Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/autotrade-engine"
	}
	return filepath.Join(home, ".config", "autotrade-engine")
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Mode:              "paper",
			CorrelationGroups: map[string]string{},
		},
		Execution: ExecutionConfig{
			MaxRetries:           3,
			BaseRetryDelay:       500 * time.Millisecond,
			MaxRetryDelay:        10 * time.Second,
			SlippageTolerance:    0.5,
			MarketOrderThreshold: 0.85,
			MaxSpreadPercent:     0.1,
			LimitOffsetPercent:   0.05,
		},
		Monitor: MonitorConfig{
			PollInterval:       5 * time.Second,
			TrailingActivation: 2.0,
			ScaleOutRMultiples: []float64{1, 2, 3},
			ScaleOutFractions:  []float64{0.25, 0.25, 0.25},
		},
		Store: StoreConfig{
			Path: filepath.Join(DefaultConfigDir(), "engine.db"),
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

// Load loads configuration from the specified directory, applying
// defaults and ATE_* environment overrides. An empty configDir uses the
// default config directory; a missing config file is not an error.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.SetEnvPrefix("ATE")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// viper lowercases map keys on unmarshal; positions and signals
	// carry uppercase symbols.
	if len(cfg.Engine.CorrelationGroups) > 0 {
		groups := make(map[string]string, len(cfg.Engine.CorrelationGroups))
		for symbol, group := range cfg.Engine.CorrelationGroups {
			groups[strings.ToUpper(symbol)] = group
		}
		cfg.Engine.CorrelationGroups = groups
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("engine.mode", d.Engine.Mode)
	v.SetDefault("execution.max_retries", d.Execution.MaxRetries)
	v.SetDefault("execution.base_retry_delay", d.Execution.BaseRetryDelay)
	v.SetDefault("execution.max_retry_delay", d.Execution.MaxRetryDelay)
	v.SetDefault("execution.slippage_tolerance", d.Execution.SlippageTolerance)
	v.SetDefault("execution.market_order_threshold", d.Execution.MarketOrderThreshold)
	v.SetDefault("execution.max_spread_percent", d.Execution.MaxSpreadPercent)
	v.SetDefault("execution.limit_offset_percent", d.Execution.LimitOffsetPercent)
	v.SetDefault("monitor.poll_interval", d.Monitor.PollInterval)
	v.SetDefault("monitor.trailing_activation", d.Monitor.TrailingActivation)
	v.SetDefault("monitor.scale_out_r_multiples", d.Monitor.ScaleOutRMultiples)
	v.SetDefault("monitor.scale_out_fractions", d.Monitor.ScaleOutFractions)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Execution.MaxRetries < 1 {
		return fmt.Errorf("execution.max_retries must be at least 1")
	}
	if c.Execution.SlippageTolerance < 0 {
		return fmt.Errorf("execution.slippage_tolerance must be non-negative")
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive")
	}
	if len(c.Monitor.ScaleOutRMultiples) != len(c.Monitor.ScaleOutFractions) {
		return fmt.Errorf("monitor.scale_out_r_multiples and scale_out_fractions must have equal length")
	}
	var total float64
	for _, f := range c.Monitor.ScaleOutFractions {
		if f <= 0 || f > 1 {
			return fmt.Errorf("scale-out fractions must be in (0, 1]")
		}
		total += f
	}
	if total > 1.0+1e-9 {
		return fmt.Errorf("scale-out fractions must not sum above 1.0")
	}
	switch c.Engine.Mode {
	case "live", "paper":
	default:
		return fmt.Errorf("engine.mode must be \"live\" or \"paper\"")
	}
	return nil
}
