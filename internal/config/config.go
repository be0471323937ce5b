// Package config loads runtime configuration: defaults, an optional
// lunasql.yaml, LUNASQL_* environment variables and bound CLI flags, in
// ascending precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	// Path is the data root directory holding one subdirectory per database.
	Path string `mapstructure:"path"`
	// LogLevel selects the slog level: debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
	// Database is selected at startup when non-empty.
	Database string `mapstructure:"database"`
	// Batch reads statements from stdin instead of running the shell.
	Batch bool `mapstructure:"batch"`
}

// Load builds the configuration. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetDefault("path", "data")
	v.SetDefault("log_level", "info")
	v.SetDefault("database", "")
	v.SetDefault("batch", false)

	v.SetConfigName("lunasql")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("LUNASQL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// InitLogging installs the default slog handler at the configured level.
func InitLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	slog.SetDefault(slog.New(handler))
}
