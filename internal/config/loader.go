package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix     = "LIVESCORE_"
	envConfigPath = "LIVESCORE_CONFIG"
)

// Load builds a Config by layering, low to high precedence:
//  1. defaults (New)
//  2. YAML file at path, or at $LIVESCORE_CONFIG when path is empty
//  3. $PORT
//  4. LIVESCORE_* env vars, "__" separating nested keys
//     (LIVESCORE_STORE__DRIVER -> store.driver)
//
// A configured credentials file is read last and replaces store.dsn.
func Load(_ context.Context, path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		if err := k.Set("http.port", port); err != nil {
			return nil, fmt.Errorf("%w: PORT: %v", ErrLoadConfig, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if cfg.Store.CredentialsFile != "" {
		b, err := os.ReadFile(cfg.Store.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: credentials file: %v", ErrLoadConfig, err)
		}
		cfg.Store.DSN = strings.TrimSpace(string(b))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return invalid("http.port %d out of range", c.HTTP.Port)
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return invalid("store.dsn or store.credentials_file required for postgres")
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return invalid("store.sqlite_path required for sqlite")
		}
	default:
		return invalid("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Realtime.Mode {
	case ModeWrite, ModeFeed:
	default:
		return invalid("unknown realtime.mode %q", c.Realtime.Mode)
	}

	if c.Store.Driver == DriverPostgres && c.Realtime.Mode == ModeFeed {
		switch c.Realtime.Feed {
		case FeedNotify:
		case FeedReplication:
			if c.Realtime.ReplicationSlot == "" || c.Realtime.Publication == "" {
				return invalid("realtime.replication_slot and realtime.publication required for replication feed")
			}
		default:
			return invalid("unknown realtime.feed %q", c.Realtime.Feed)
		}
	}

	if c.Realtime.SendBuffer <= 0 {
		return invalid("realtime.send_buffer must be positive")
	}
	if c.Realtime.RegistryShards <= 0 {
		return invalid("realtime.registry_shards must be positive")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}
