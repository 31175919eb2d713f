// Package config provides bootstrap configuration for the amon master.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/joshwilsdon-forks/sdc-amon/pkg/logger"
)

// CacheConfig sizes one named response cache. Size 0 means unbounded.
type CacheConfig struct {
	Size      int `json:"size"`
	TTLSecond int `json:"ttl"`
}

// TTL returns the cache TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecond) * time.Second
}

// PluginConfig declares one notification plugin instance.
type PluginConfig struct {
	Name   string            `json:"name"`
	Kind   string            `json:"kind"`
	Config map[string]string `json:"config"`
}

// Config holds all master configuration.
type Config struct {
	Port int `json:"port"`

	// External directory
	DirectoryURL      string `json:"directoryUrl"`
	DirectoryBindDN   string `json:"directoryBindDn"`
	DirectoryPassword string `json:"directoryPassword"`

	// Key-value store
	RedisHost string `json:"redisHost"`
	RedisPort int    `json:"redisPort"`
	RedisDB   int    `json:"redisDb"`

	// External collaborators
	VMAPIURL string `json:"vmapiUrl"`
	CNAPIURL string `json:"cnapiUrl"`

	// Bootstrap escape hatch: skip-authz is honored only for this user.
	AdminUUID string `json:"adminUuid"`

	// Sentinel: disables every response cache when true.
	CachesDisabled bool                   `json:"cachesDisabled"`
	Caches         map[string]CacheConfig `json:"caches"`

	Plugins []PluginConfig `json:"notificationPlugins"`

	Logging logger.LoggingConfig `json:"logging"`
}

const defaultPort = 8080

// Load reads the JSON bootstrap file at path, then applies environment
// overrides for flat fields. A .env file is honored for local runs.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:      defaultPort,
		RedisHost: "127.0.0.1",
		RedisPort: 6379,
		RedisDB:   1,
		Caches:    map[string]CacheConfig{},
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Port = envInt("AMON_PORT", cfg.Port)
	cfg.DirectoryURL = envStr("AMON_DIRECTORY_URL", cfg.DirectoryURL)
	cfg.DirectoryBindDN = envStr("AMON_DIRECTORY_BIND_DN", cfg.DirectoryBindDN)
	cfg.DirectoryPassword = envStr("AMON_DIRECTORY_PASSWORD", cfg.DirectoryPassword)
	cfg.RedisHost = envStr("AMON_REDIS_HOST", cfg.RedisHost)
	cfg.RedisPort = envInt("AMON_REDIS_PORT", cfg.RedisPort)
	cfg.RedisDB = envInt("AMON_REDIS_DB", cfg.RedisDB)
	cfg.VMAPIURL = envStr("AMON_VMAPI_URL", cfg.VMAPIURL)
	cfg.CNAPIURL = envStr("AMON_CNAPI_URL", cfg.CNAPIURL)
	cfg.AdminUUID = envStr("AMON_ADMIN_UUID", cfg.AdminUUID)
	cfg.CachesDisabled = envBool("AMON_CACHES_DISABLED", cfg.CachesDisabled)
	cfg.Logging.Level = envStr("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envStr("LOG_FORMAT", cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the master cannot start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DirectoryURL == "" {
		return fmt.Errorf("directoryUrl is required")
	}
	if c.RedisHost == "" {
		return fmt.Errorf("redisHost is required")
	}
	if c.AdminUUID != "" {
		if _, err := uuid.Parse(c.AdminUUID); err != nil {
			return fmt.Errorf("adminUuid is not a UUID: %v", err)
		}
	}
	for _, p := range c.Plugins {
		if p.Name == "" {
			return fmt.Errorf("notification plugin without a name")
		}
		switch p.Kind {
		case "email", "sms", "webhook":
		default:
			return fmt.Errorf("unknown notification plugin kind %q", p.Kind)
		}
	}
	return nil
}

// Cache returns the sizing for a named cache, with defaults when the
// bootstrap file does not mention it.
func (c *Config) Cache(name string) CacheConfig {
	if cc, ok := c.Caches[name]; ok {
		return cc
	}
	return CacheConfig{Size: 1000, TTLSecond: 300}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
