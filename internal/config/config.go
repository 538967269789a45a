package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fortressi/saga"
)

// EnvPrefix prefixes every environment override, e.g. TRIPSAGA_STORE_BACKEND.
const EnvPrefix = "TRIPSAGA"

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Store          Store        `mapstructure:"store"`
	Retry          Retry        `mapstructure:"retry"`
	Compensation   Compensation `mapstructure:"compensation"`
	RetainFinished bool         `mapstructure:"retain_finished"`
	Recovery       Recovery     `mapstructure:"recovery"`
	Log            Log          `mapstructure:"log"`
	Metrics        Metrics      `mapstructure:"metrics"`
	Tracing        Tracing      `mapstructure:"tracing"`
	Providers      Providers    `mapstructure:"providers"`
}

type Store struct {
	Backend  string   `mapstructure:"backend"`
	Dir      string   `mapstructure:"dir"`
	Redis    Redis    `mapstructure:"redis"`
	Postgres Postgres `mapstructure:"postgres"`
}

type Redis struct {
	Addr        string        `mapstructure:"addr"`
	DB          int           `mapstructure:"db"`
	Prefix      string        `mapstructure:"prefix"`
	FinishedTTL time.Duration `mapstructure:"finished_ttl"`
}

type Postgres struct {
	DSN string `mapstructure:"dsn"`
}

type Retry struct {
	MaxAttempts     uint          `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout"`
}

// Policy converts the section into a saga.RetryPolicy.
func (r Retry) Policy() saga.RetryPolicy {
	return saga.RetryPolicy{
		MaxAttempts:     r.MaxAttempts,
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
		Multiplier:      r.Multiplier,
		MaxElapsedTime:  r.MaxElapsedTime,
		AttemptTimeout:  r.AttemptTimeout,
	}
}

// Compensation configures how often a transient undo failure is retried.
// One attempt means failures go straight to manual remediation.
type Compensation struct {
	MaxAttempts     uint          `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout"`
}

func (c Compensation) Policy() saga.RetryPolicy {
	return saga.RetryPolicy{
		MaxAttempts:     c.MaxAttempts,
		InitialInterval: c.InitialInterval,
		AttemptTimeout:  c.AttemptTimeout,
	}
}

type Recovery struct {
	Parallelism int `mapstructure:"parallelism"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SlogLevel parses Level.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

type Metrics struct {
	Addr string `mapstructure:"addr"`
}

// Tracing selects the span exporter: "none" or "stdout".
type Tracing struct {
	Exporter string `mapstructure:"exporter"`
}

// Providers holds the base URLs of remote providers. An empty URL uses an
// in-process inventory of Capacity units instead.
type Providers struct {
	Car      string        `mapstructure:"car"`
	Flight   string        `mapstructure:"flight"`
	Hotel    string        `mapstructure:"hotel"`
	Capacity int           `mapstructure:"capacity"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.dir", ".tripsaga")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "saga:")
	v.SetDefault("store.redis.finished_ttl", 0)
	v.SetDefault("store.postgres.dsn", "")

	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_interval", 100*time.Millisecond)
	v.SetDefault("retry.max_interval", 5*time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_elapsed_time", time.Minute)
	v.SetDefault("retry.attempt_timeout", 10*time.Second)

	v.SetDefault("compensation.max_attempts", 1)
	v.SetDefault("compensation.initial_interval", 0)
	v.SetDefault("compensation.attempt_timeout", 10*time.Second)

	v.SetDefault("retain_finished", false)
	v.SetDefault("recovery.parallelism", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.addr", "")
	v.SetDefault("tracing.exporter", "none")

	v.SetDefault("providers.car", "")
	v.SetDefault("providers.flight", "")
	v.SetDefault("providers.hotel", "")
	v.SetDefault("providers.capacity", 10)
	v.SetDefault("providers.timeout", 5*time.Second)
}

// Load reads the optional config file at path, applies TRIPSAGA_ environment
// overrides on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Store.Dir == "" {
			errs = append(errs, errors.New("store.dir is required for the file backend"))
		}
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required for the redis backend"))
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			errs = append(errs, errors.New("store.postgres.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}

	if c.Recovery.Parallelism < 1 {
		errs = append(errs, errors.New("recovery.parallelism must be at least 1"))
	}
	if c.Compensation.MaxAttempts < 1 {
		errs = append(errs, errors.New("compensation.max_attempts must be at least 1"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	if c.Tracing.Exporter != "none" && c.Tracing.Exporter != "stdout" {
		errs = append(errs, fmt.Errorf("unknown tracing.exporter %q", c.Tracing.Exporter))
	}
	return errors.Join(errs...)
}
