package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the full application configuration, layered from defaults, an
// optional TOML file and CARELINE_-prefixed environment variables.
type Config struct {
	Server struct {
		Addr string `koanf:"addr"`
	} `koanf:"server"`

	Database struct {
		URL string `koanf:"url"`
	} `koanf:"database"`

	Redis struct {
		URL string `koanf:"url"`
	} `koanf:"redis"`

	Storage struct {
		Dir     string `koanf:"dir"`
		BaseURL string `koanf:"base_url"`
	} `koanf:"storage"`

	Messaging struct {
		SettleTimeoutSeconds   int `koanf:"settle_timeout_seconds"`
		PresenceSyncSeconds    int `koanf:"presence_sync_seconds"`
		ListCacheTTLSeconds    int `koanf:"list_cache_ttl_seconds"`
		SocketWriteWaitSeconds int `koanf:"socket_write_wait_seconds"`
		SocketPingSeconds      int `koanf:"socket_ping_seconds"`
	} `koanf:"messaging"`

	Worker struct {
		Concurrency int    `koanf:"concurrency"`
		Queues      string `koanf:"queues"`
	} `koanf:"worker"`

	Log struct {
		Level  string `koanf:"level"`
		Pretty bool   `koanf:"pretty"`
	} `koanf:"log"`
}

// Load reads configuration from the given path, falling back to default
// locations when path is empty. Environment variables always win.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	k.Load(confmap.Provider(map[string]interface{}{
		"server.addr":                         ":8080",
		"storage.dir":                         "./data/attachments",
		"storage.base_url":                    "http://localhost:8080/files",
		"messaging.settle_timeout_seconds":    10,
		"messaging.presence_sync_seconds":     5,
		"messaging.list_cache_ttl_seconds":    30,
		"messaging.socket_write_wait_seconds": 10,
		"messaging.socket_ping_seconds":       30,
		"worker.concurrency":                  10,
		"worker.queues":                       "default=3,notifications=1",
		"log.level":                           "info",
	}, "."), nil)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", configPath, err)
		}
	} else {
		for _, path := range []string{"./careline.toml", "$HOME/.careline.toml"} {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	k.Load(env.Provider("CARELINE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CARELINE_")), "_", ".", -1)
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configurations the daemons cannot start with.
func Validate(cfg *Config) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	if cfg.Redis.URL == "" {
		return fmt.Errorf("config: redis.url is required")
	}
	return nil
}
