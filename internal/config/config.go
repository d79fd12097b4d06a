// Package config defines the service configuration and its defaults.
package config

import "time"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Realtime push modes. Exactly one drives Publish in a running process.
const (
	// ModeWrite publishes from the HTTP write path after each upsert.
	ModeWrite = "write"
	// ModeFeed publishes from the store's change feed only.
	ModeFeed = "feed"
)

// PostgreSQL change feed sources used in feed mode.
const (
	FeedNotify      = "notify"
	FeedReplication = "replication"
)

type Config struct {
	Log      LogConfig      `koanf:"log"`
	HTTP     HTTPConfig     `koanf:"http"`
	Store    StoreConfig    `koanf:"store"`
	Realtime RealtimeConfig `koanf:"realtime"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is json or console.
	Format string `koanf:"format"`
}

type HTTPConfig struct {
	Port            int           `koanf:"port"`
	StaticDir       string        `koanf:"static_dir"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type StoreConfig struct {
	Driver string `koanf:"driver"`
	// DSN is the PostgreSQL connection string.
	DSN string `koanf:"dsn"`
	// CredentialsFile holds the DSN; when set it wins over DSN.
	CredentialsFile string        `koanf:"credentials_file"`
	SQLitePath      string        `koanf:"sqlite_path"`
	Timeout         time.Duration `koanf:"timeout"`
}

type RealtimeConfig struct {
	Mode            string        `koanf:"mode"`
	Feed            string        `koanf:"feed"`
	ReplicationSlot string        `koanf:"replication_slot"`
	Publication     string        `koanf:"publication"`
	SendBuffer      int           `koanf:"send_buffer"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	PingInterval    time.Duration `koanf:"ping_interval"`
	RegistryShards  int           `koanf:"registry_shards"`
}

// New returns the defaults.
func New() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPConfig{
			Port:            3000,
			StaticDir:       "public",
			ShutdownTimeout: 5 * time.Second,
		},
		Store: StoreConfig{
			Driver:     DriverMemory,
			SQLitePath: "livescore.db",
			Timeout:    5 * time.Second,
		},
		Realtime: RealtimeConfig{
			Mode:            ModeWrite,
			Feed:            FeedNotify,
			ReplicationSlot: "livescore_matches",
			Publication:     "livescore_matches",
			SendBuffer:      64,
			WriteTimeout:    5 * time.Second,
			PingInterval:    30 * time.Second,
			RegistryShards:  32,
		},
	}
}
