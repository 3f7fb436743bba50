// Package config loads carbo's configuration: defaults, then an optional
// YAML file, then CARBO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the typed runtime configuration.
type Config struct {
	// ServiceURL points at a remote calculation server. Empty selects the
	// in-process local backend.
	ServiceURL     string        `mapstructure:"service_url"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	HistoryDepth   int           `mapstructure:"history_depth"`
	CoalesceWindow time.Duration `mapstructure:"coalesce_window"`
	DBPath         string        `mapstructure:"db_path"`
	Workers        int           `mapstructure:"workers"`
	EntryDelay     time.Duration `mapstructure:"entry_delay"`
	ReportDir      string        `mapstructure:"report_dir"`
	OpenAIKey      string        `mapstructure:"openai_key"`
	OpenAIModel    string        `mapstructure:"openai_model"`
	TellmURL       string        `mapstructure:"tellm_url"`
}

// LoadConfig reads the configuration. With an empty path the default file
// ~/.carbo/config.yaml is used when present; a missing default file is not an
// error, a missing explicit one is.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("service_url", "")
	v.SetDefault("poll_interval", 2*time.Second)
	v.SetDefault("history_depth", 50)
	v.SetDefault("coalesce_window", 500*time.Millisecond)
	v.SetDefault("db_path", defaultPath("carbo.db"))
	v.SetDefault("workers", 2)
	v.SetDefault("entry_delay", 750*time.Millisecond)
	v.SetDefault("report_dir", "reports")
	v.SetDefault("openai_key", "")
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("tellm_url", "http://localhost:8000")

	v.SetEnvPrefix("CARBO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		v.SetConfigFile(defaultPath("config.yaml"))
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func defaultPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".carbo", name)
}
