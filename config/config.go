// Package config loads the service configuration from an optional JSON file
// and ACASINHA_* environment variables, environment taking precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	DefaultPort        = "5000"
	DefaultMaxRetries  = 5
	DefaultEventBuffer = 100
	DefaultCacheTTL    = time.Minute

	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type ServerConfig struct {
	Port string `json:"port" envconfig:"ACASINHA_SERVER_PORT"`
}

type DataSourceConfig struct {
	Driver string `json:"driver" envconfig:"ACASINHA_DATA_SOURCE_DRIVER"`
	DSN    string `json:"dsn" envconfig:"ACASINHA_DATA_SOURCE_DSN"`
}

type RedisConfig struct {
	Addr     string        `json:"addr" envconfig:"ACASINHA_REDIS_ADDR"`
	CacheTTL time.Duration `json:"cache_ttl" envconfig:"ACASINHA_REDIS_CACHE_TTL"`
}

// UnmarshalJSON takes cache_ttl as a duration string such as "45s" or, for
// older files, as a number of nanoseconds.
func (r *RedisConfig) UnmarshalJSON(b []byte) error {
	type plain RedisConfig
	aux := struct {
		*plain
		CacheTTL any `json:"cache_ttl"`
	}{plain: (*plain)(r)}

	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	switch ttl := aux.CacheTTL.(type) {
	case nil:
	case string:
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return fmt.Errorf("redis cache_ttl: %w", err)
		}
		r.CacheTTL = d
	case float64:
		r.CacheTTL = time.Duration(ttl)
	default:
		return fmt.Errorf("redis cache_ttl must be a duration string, got %v", ttl)
	}
	return nil
}

type LedgerConfig struct {
	MaxRetries  int `json:"max_retries" envconfig:"ACASINHA_LEDGER_MAX_RETRIES"`
	EventBuffer int `json:"event_buffer" envconfig:"ACASINHA_LEDGER_EVENT_BUFFER"`
}

type Configuration struct {
	LogLevel   string           `json:"log_level" envconfig:"ACASINHA_LOG_LEVEL"`
	Server     ServerConfig     `json:"server"`
	DataSource DataSourceConfig `json:"data_source"`
	Redis      RedisConfig      `json:"redis"`
	Ledger     LedgerConfig     `json:"ledger"`
}

// Load reads file when it exists, then applies the environment and defaults.
func Load(file string) (*Configuration, error) {
	var cnf Configuration

	if file != "" {
		f, err := os.Open(file)
		switch {
		case err == nil:
			defer f.Close()
			if err := json.NewDecoder(f).Decode(&cnf); err != nil {
				return nil, fmt.Errorf("decoding %s: %w", file, err)
			}
		case errors.Is(err, os.ErrNotExist):
			slog.Info("config file not found, using environment", "file", file)
		default:
			return nil, fmt.Errorf("opening %s: %w", file, err)
		}
	}

	if err := envconfig.Process("acasinha", &cnf); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cnf.validateAndAddDefaults(); err != nil {
		return nil, err
	}
	return &cnf, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Driver = strings.ToLower(strings.TrimSpace(cnf.DataSource.Driver))
	cnf.DataSource.DSN = strings.TrimSpace(cnf.DataSource.DSN)
	cnf.Redis.Addr = strings.TrimSpace(cnf.Redis.Addr)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DefaultPort
	}
	if cnf.DataSource.Driver == "" {
		cnf.DataSource.Driver = DriverPostgres
	}
	if cnf.Ledger.MaxRetries <= 0 {
		cnf.Ledger.MaxRetries = DefaultMaxRetries
	}
	if cnf.Ledger.EventBuffer <= 0 {
		cnf.Ledger.EventBuffer = DefaultEventBuffer
	}
	if cnf.Redis.CacheTTL <= 0 {
		cnf.Redis.CacheTTL = DefaultCacheTTL
	}

	switch cnf.DataSource.Driver {
	case DriverPostgres:
		if cnf.DataSource.DSN == "" {
			return errors.New("data source DSN is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown data source driver %q", cnf.DataSource.Driver)
	}
	return nil
}

// SlogLevel maps LogLevel onto slog, defaulting to info.
func (cnf *Configuration) SlogLevel() slog.Level {
	switch strings.ToLower(cnf.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
