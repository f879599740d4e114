package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// Config is the process configuration: defaults, then an optional YAML
// file, then REMINDLY_* environment overrides.
type Config struct {
	Listen   string         `koanf:"listen"`
	APIKey   string         `koanf:"api_key"`
	Store    StoreConfig    `koanf:"store"`
	Telegram TelegramConfig `koanf:"telegram"`
	Scan     ScanConfig     `koanf:"scan"`
	Sync     SyncConfig     `koanf:"sync"`
}

type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `koanf:"driver"`
	// DSN looks like postgresql://localhost:5432/remindly?user=admn&password=passwd
	DSN string `koanf:"dsn"`
}

type TelegramConfig struct {
	Token  string `koanf:"token"`
	ChatID int64  `koanf:"chat_id"`
}

type ScanConfig struct {
	// Schedule is a cron spec for the periodic due-scan wake-up.
	Schedule string `koanf:"schedule"`
}

type SyncConfig struct {
	// BaseURL of the remote collaborator; empty disables the bridge.
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
	Schedule string `koanf:"schedule"`
	// TimeoutSec bounds each remote call.
	TimeoutSec int `koanf:"timeout_sec"`
}

func defaults() map[string]any {
	return map[string]any{
		"listen":           ":8080",
		"store.driver":     "postgres",
		"scan.schedule":    "@every 1m",
		"sync.schedule":    "@every 5m",
		"sync.timeout_sec": 30,
	}
}

// Load reads configuration. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, errors.Wrap(err, "failed loading defaults")
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, errors.Wrap(err, "failed loading config file")
			}
		}
	}

	// REMINDLY_TELEGRAM_TOKEN=... becomes telegram.token, etc.
	if err := k.Load(env.Provider("REMINDLY_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "REMINDLY_")), "_", ".")
	}), nil); err != nil {
		return nil, errors.Wrap(err, "failed loading environment")
	}

	// Keys whose segments themselves contain underscores need explicit
	// mapping; the generic transform above would split them.
	for envKey, confKey := range map[string]string{
		"REMINDLY_API_KEY":          "api_key",
		"REMINDLY_TELEGRAM_CHAT_ID": "telegram.chat_id",
		"REMINDLY_SYNC_BASE_URL":    "sync.base_url",
		"REMINDLY_SYNC_API_KEY":     "sync.api_key",
		"REMINDLY_SYNC_TIMEOUT_SEC": "sync.timeout_sec",
	} {
		if v := os.Getenv(envKey); v != "" {
			k.Set(confKey, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed unmarshalling config")
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return errors.Errorf("unknown store driver: %s", c.Store.Driver)
	}

	if c.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}
	if c.Telegram.ChatID == 0 {
		return errors.New("telegram.chat_id is required")
	}

	if c.Sync.BaseURL != "" && c.Sync.Schedule == "" {
		return errors.New("sync.schedule is required when sync.base_url is set")
	}

	return nil
}
