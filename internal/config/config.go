// Package config loads the pupstore binary configuration from an optional file,
// PUPSTORE_ environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverPebble   = "pebble"
)

// Indexer modes.
const (
	IndexerSync  = "sync"
	IndexerSweep = "sweep"
	IndexerOff   = "off"
)

type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Indexer   IndexerConfig   `mapstructure:"indexer"`
	Commit    CommitConfig    `mapstructure:"commit"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Read      ReadConfig      `mapstructure:"read"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	DataDir     string `mapstructure:"data_dir"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type IndexerConfig struct {
	Mode        string        `mapstructure:"mode"`
	Interval    time.Duration `mapstructure:"interval"`
	BatchSize   int           `mapstructure:"batch_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type CommitConfig struct {
	MaxRaceRetries int `mapstructure:"max_race_retries"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type ReadConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

// Load reads the configuration. path may be empty, in which case only the
// environment and defaults apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("pupstore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	// Every key gets a default so AutomaticEnv can override it on Unmarshal.
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.dsn", "file:pupstore.db")
	v.SetDefault("storage.data_dir", "pupstore-data")
	v.SetDefault("storage.auto_migrate", true)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("indexer.mode", IndexerSweep)
	v.SetDefault("indexer.interval", time.Second)
	v.SetDefault("indexer.batch_size", 100)
	v.SetDefault("indexer.max_attempts", 16)
	v.SetDefault("commit.max_race_retries", 8)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_interval", 20*time.Millisecond)
	v.SetDefault("retry.max_interval", time.Second)
	v.SetDefault("read.default_limit", 100)
	v.SetDefault("read.max_limit", 1000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "pupstore")
}

func (c Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres, DriverMySQL:
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver))
		}
	case DriverPebble:
		if c.Storage.DataDir == "" {
			errs = append(errs, errors.New("storage.data_dir is required for driver \"pebble\""))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	switch c.Indexer.Mode {
	case IndexerSync, IndexerOff:
	case IndexerSweep:
		if c.Indexer.Interval <= 0 {
			errs = append(errs, errors.New("indexer.interval must be positive in sweep mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown indexer.mode %q", c.Indexer.Mode))
	}
	if c.Indexer.BatchSize < 1 {
		errs = append(errs, errors.New("indexer.batch_size must be at least 1"))
	}
	if c.Indexer.MaxAttempts < 1 {
		errs = append(errs, errors.New("indexer.max_attempts must be at least 1"))
	}
	if c.Commit.MaxRaceRetries < 1 {
		errs = append(errs, errors.New("commit.max_race_retries must be at least 1"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Read.DefaultLimit < 1 || c.Read.MaxLimit < c.Read.DefaultLimit {
		errs = append(errs, errors.New("read limits must satisfy 1 <= default_limit <= max_limit"))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
