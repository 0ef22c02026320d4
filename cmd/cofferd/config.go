package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the cofferd configuration. Every key can be overridden through
// a COFFER_ environment variable, e.g. COFFER_STORE_DSN.
type Config struct {
	Listen          string        `mapstructure:"listen"`
	MetricsPath     string        `mapstructure:"metrics_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CatalogFile     string        `mapstructure:"catalog_file"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`

	Log    LogConfig    `mapstructure:"log"`
	Store  StoreConfig  `mapstructure:"store"`
	Engine EngineConfig `mapstructure:"engine"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig selects and connects the storage backend.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Database string `mapstructure:"database"`
}

// EngineConfig tunes the engine.
type EngineConfig struct {
	TxTimeout        time.Duration `mapstructure:"tx_timeout"`
	TxAttempts       int           `mapstructure:"tx_attempts"`
	DefaultUnitPrice int64         `mapstructure:"default_unit_price"`
	GrantCacheSize   int           `mapstructure:"grant_cache_size"`
	GrantCacheTTL    time.Duration `mapstructure:"grant_cache_ttl"`
	EngagementQueue  int           `mapstructure:"engagement_queue"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("metrics_path", "/metrics")
	v.SetDefault("shutdown_timeout", 15*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.database", "coffer")
	v.SetDefault("catalog_file", "")
	v.SetDefault("webhook_secret", "")
	v.SetDefault("engine.tx_timeout", 5*time.Second)
	v.SetDefault("engine.tx_attempts", 3)
	v.SetDefault("engine.default_unit_price", 50)
	v.SetDefault("engine.grant_cache_size", 10000)
	v.SetDefault("engine.grant_cache_ttl", 30*time.Second)
	v.SetDefault("engine.engagement_queue", 1024)
}

// loadConfig reads defaults, an optional YAML file and the environment.
// An explicitly named file must exist; the default one may be absent.
func loadConfig(v *viper.Viper, file string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("COFFER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("cofferd")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/coffer")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres", "sqlite", "mongo":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the %s driver", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Engine.DefaultUnitPrice <= 0 {
		return errors.New("engine.default_unit_price must be positive")
	}
	return nil
}

func (c *Config) logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
