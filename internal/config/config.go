// Package config loads stagequeue CLI settings from a file, the environment
// and flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/davidroman0O/stagequeue"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "STAGEQUEUE"

// Keys understood by Load.
const (
	KeyLogLevel         = "log_level"
	KeyColor            = "color"
	KeyConcurrency      = "concurrency"
	KeyDeferringPlugins = "deferring_plugins"
	KeyDebounce         = "watch_debounce_ms"
)

var validLevels = []string{"debug", "info", "warn", "error"}

// ErrInvalidConfig is returned when a loaded value is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds resolved CLI settings.
type Config struct {
	LogLevel         string   `mapstructure:"log_level"`
	Color            bool     `mapstructure:"color"`
	Concurrency      int      `mapstructure:"concurrency"`
	DeferringPlugins []string `mapstructure:"deferring_plugins"`
	DebounceMillis   int      `mapstructure:"watch_debounce_ms"`
}

// SetDefaults installs the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyColor, true)
	v.SetDefault(KeyConcurrency, 4)
	v.SetDefault(KeyDeferringPlugins, stagequeue.DefaultDeferringPlugins)
	v.SetDefault(KeyDebounce, 200)
}

// Load resolves the configuration. When file is empty, a "stagequeue.yaml"
// in the working directory is used if present. Environment variables such as
// STAGEQUEUE_LOG_LEVEL override the file; flags bound to v override both.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("stagequeue")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and normalizes the log level.
func (c *Config) Validate() error {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	valid := false
	for _, l := range validLevels {
		if c.LogLevel == l {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: log level %q, expected one of %s", ErrInvalidConfig, c.LogLevel, strings.Join(validLevels, ", "))
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalidConfig, c.Concurrency)
	}
	if c.DebounceMillis < 0 {
		return fmt.Errorf("%w: negative watch debounce %d", ErrInvalidConfig, c.DebounceMillis)
	}
	return nil
}
