package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type ServerConfig struct {
	Listen string `toml:"listen"`
	Port   int    `toml:"port"`
}

type DatabaseConfig struct {
	URL string `toml:"url"`
}

type ReplicationConfig struct {
	Slot         string `toml:"slot"`
	Publication  string `toml:"publication"`
	OutputPlugin string `toml:"output_plugin"`
}

type TablesConfig struct {
	Tracked []string `toml:"tracked"`
}

type PollingConfig struct {
	WalBatchSize          int     `toml:"wal_batch_size"`
	WalConsumeSize        int     `toml:"wal_consume_size"`
	WalBatchThreshold     float64 `toml:"wal_batch_threshold"`
	PollingIntervalMs     int     `toml:"polling_interval_ms"`
	FastPollingIntervalMs int     `toml:"fast_polling_interval_ms"`
	MaxConsecutivePolls   int     `toml:"max_consecutive_polls"`
	StoreBatchSize        int     `toml:"store_batch_size"`
	SkipWALConsumption    bool    `toml:"skip_wal_consumption"`
}

type RegistryConfig struct {
	ClientTimeoutSec       int `toml:"client_timeout_sec"`
	FullCleanupIntervalSec int `toml:"full_cleanup_interval_sec"`
}

type LifecycleConfig struct {
	ClientCheckIntervalSec      int `toml:"client_check_interval_sec"`
	HibernationCheckIntervalSec int `toml:"hibernation_check_interval_sec"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the file-backed configuration layer for vibestack-cdc,
// loaded from TOML and overridable by environment variables — the
// settings a deployment sets once and rarely touches again, as
// opposed to the per-invocation flags in internal/config.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Database    DatabaseConfig    `toml:"database"`
	Replication ReplicationConfig `toml:"replication"`
	Tables      TablesConfig      `toml:"tables"`
	Polling     PollingConfig     `toml:"polling"`
	Registry    RegistryConfig    `toml:"registry"`
	Lifecycle   LifecycleConfig   `toml:"lifecycle"`
	Logging     LoggingConfig     `toml:"logging"`
}

// Defaults returns the configuration with every value from the default
// configuration table applied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Listen: "127.0.0.1",
			Port:   7654,
		},
		Database: DatabaseConfig{
			URL: "postgres://localhost:5432/vibestack?sslmode=disable",
		},
		Replication: ReplicationConfig{
			Slot:         "vibestack",
			Publication:  "vibestack_pub",
			OutputPlugin: "wal2json",
		},
		Polling: PollingConfig{
			WalBatchSize:          2000,
			WalConsumeSize:        2000,
			WalBatchThreshold:     0.5,
			PollingIntervalMs:     1000,
			FastPollingIntervalMs: 100,
			MaxConsecutivePolls:   10,
			StoreBatchSize:        100,
			SkipWALConsumption:    true,
		},
		Registry: RegistryConfig{
			ClientTimeoutSec:       600,
			FullCleanupIntervalSec: 86400,
		},
		Lifecycle: LifecycleConfig{
			ClientCheckIntervalSec:      60,
			HibernationCheckIntervalSec: 300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func findConfigFile() string {
	candidates := []string{}

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".vibestack-cdc", "config.toml"))
	}
	candidates = append(candidates, "/etc/vibestack-cdc/config.toml")

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("VIBESTACK_CDC_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("VIBESTACK_CDC_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VIBESTACK_CDC_DB_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("VIBESTACK_CDC_SLOT"); v != "" {
		cfg.Replication.Slot = v
	}
	if v := os.Getenv("VIBESTACK_CDC_PUBLICATION"); v != "" {
		cfg.Replication.Publication = v
	}
	if v := os.Getenv("VIBESTACK_CDC_TRACKED_TABLES"); v != "" {
		cfg.Tables.Tracked = splitAndTrim(v)
	}
	if v := os.Getenv("VIBESTACK_CDC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VIBESTACK_CDC_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
