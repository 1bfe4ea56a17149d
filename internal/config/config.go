// Package config loads sessionindex settings from defaults, an optional
// config file and SESSIONINDEX_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dshills/sessionindex/pkg/types"
)

// EnvPrefix is prepended to every environment override, e.g. SESSIONINDEX_TOOL_IO_MAX_BYTES
const EnvPrefix = "SESSIONINDEX"

// Config holds all configuration for the indexer and its surfaces
type Config struct {
	DBPath  string        `mapstructure:"db_path"`
	Sources SourcesConfig `mapstructure:"sources"`
	ToolIO  ToolIOConfig  `mapstructure:"tool_io"`
	Format  FormatConfig  `mapstructure:"format"`
	Indexer IndexerConfig `mapstructure:"indexer"`
	Watch   WatchConfig   `mapstructure:"watch"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// SourcesConfig selects which agent logs are indexed and where they live
type SourcesConfig struct {
	Enabled    []string `mapstructure:"enabled"`
	ClaudeRoot string   `mapstructure:"claude_root"`
	CodexRoot  string   `mapstructure:"codex_root"`
}

// ToolIOConfig bounds the tool input/output index
type ToolIOConfig struct {
	Enabled     bool  `mapstructure:"enabled"`
	RecencyDays int   `mapstructure:"recency_days"`
	MaxBytes    int64 `mapstructure:"max_bytes"`
}

// FormatConfig holds document format versions. Raising one rebuilds every
// document of that kind on the next refresh.
type FormatConfig struct {
	SearchVersion int `mapstructure:"search_version"`
	ToolIOVersion int `mapstructure:"tool_io_version"`
}

type IndexerConfig struct {
	BatchSize   int `mapstructure:"batch_size"`
	Concurrency int `mapstructure:"concurrency"`
}

type WatchConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MinInterval time.Duration `mapstructure:"min_interval"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // Empty disables the /metrics endpoint
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("sources.enabled", []string{"claude", "codex"})
	v.SetDefault("sources.claude_root", "")
	v.SetDefault("sources.codex_root", "")
	v.SetDefault("tool_io.enabled", true)
	v.SetDefault("tool_io.recency_days", 30)
	v.SetDefault("tool_io.max_bytes", int64(256*1024*1024))
	v.SetDefault("format.search_version", 1)
	v.SetDefault("format.tool_io_version", 1)
	v.SetDefault("indexer.batch_size", 8)
	v.SetDefault("indexer.concurrency", 8)
	v.SetDefault("watch.enabled", true)
	v.SetDefault("watch.min_interval", 5*time.Second)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "sessionindex.db"
	}
	return filepath.Join(home, ".sessionindex", "index.db")
}

// Load reads configuration. With an empty path, a config.{yaml,json,toml}
// is looked up in ./ and ~/.sessionindex and is optional; an explicit path
// must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".sessionindex"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and that every enabled source name is known
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("db_path is required")
	}
	if _, err := c.EnabledSources(); err != nil {
		return fmt.Errorf("sources.enabled: %w", err)
	}
	if c.ToolIO.RecencyDays <= 0 {
		return fmt.Errorf("tool_io.recency_days must be greater than zero")
	}
	if c.ToolIO.MaxBytes < 0 {
		return fmt.Errorf("tool_io.max_bytes must not be negative")
	}
	if c.Format.SearchVersion <= 0 || c.Format.ToolIOVersion <= 0 {
		return fmt.Errorf("format versions must be greater than zero")
	}
	if c.Indexer.BatchSize <= 0 {
		return fmt.Errorf("indexer.batch_size must be greater than zero")
	}
	if c.Indexer.Concurrency <= 0 {
		return fmt.Errorf("indexer.concurrency must be greater than zero")
	}
	if c.Watch.Enabled && c.Watch.MinInterval <= 0 {
		return fmt.Errorf("watch.min_interval must be greater than zero when watch is enabled")
	}
	return nil
}

// EnabledSources parses sources.enabled into the closed Source set
func (c *Config) EnabledSources() ([]types.Source, error) {
	var names []string
	for _, n := range c.Sources.Enabled {
		// Env values arrive as one comma separated string
		for _, part := range strings.Split(n, ",") {
			if part = strings.TrimSpace(part); part != "" {
				names = append(names, part)
			}
		}
	}
	return types.ParseSources(names)
}

// ToolIORecency is the window inside which sessions get tool-IO documents
func (c *Config) ToolIORecency() time.Duration {
	return time.Duration(c.ToolIO.RecencyDays) * 24 * time.Hour
}
