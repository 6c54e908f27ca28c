package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "INCIDENTDESK_"

// Config represents runtime configuration for the service.
type Config struct {
	Server    ServerConfig              `koanf:"server"`
	Database  DatabaseSelection         `koanf:"database"`
	Databases map[string]DatabaseConfig `koanf:"databases"`
	Redis     RedisConfig               `koanf:"redis"`
	Auth      AuthConfig                `koanf:"auth"`
	Log       LogConfig                 `koanf:"log"`
	Poll      PollConfig                `koanf:"poll"`
	RateLimit RateLimitConfig           `koanf:"rate_limit"`
	// Timezone names the location used to bucket messages by calendar day; empty means server local.
	Timezone string `koanf:"timezone"`
}

type ServerConfig struct {
	Address string `koanf:"address"`
}

type DatabaseSelection struct {
	Driver string `koanf:"driver"`
}

// DatabaseConfig holds either a DSN (sqlite) or discrete connection fields (mysql).
type DatabaseConfig struct {
	DSN      string `koanf:"dsn"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	DBName   string `koanf:"dbname"`
	Params   string `koanf:"params"`
}

type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	// DirectoryTTLSeconds bounds how long a participant stays cached.
	DirectoryTTLSeconds int `koanf:"directory_ttl_seconds"`
}

type AuthConfig struct {
	JWTSecret       string `koanf:"jwt_secret"`
	TokenTTLMinutes int    `koanf:"token_ttl_minutes"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

type PollConfig struct {
	IntervalSeconds int `koanf:"interval_seconds"`
}

type RateLimitConfig struct {
	SendPerSecond float64 `koanf:"send_per_second"`
	SendBurst     int     `koanf:"send_burst"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.address":              ":8090",
		"database.driver":             "sqlite3",
		"databases.sqlite3.dsn":       "incidentdesk.db",
		"redis.host":                  "127.0.0.1",
		"redis.port":                  6379,
		"redis.directory_ttl_seconds": 300,
		"auth.token_ttl_minutes":      24 * 60,
		"log.level":                   "info",
		"poll.interval_seconds":       5,
		"rate_limit.send_per_second":  5.0,
		"rate_limit.send_burst":       10,
	}
}

// Load reads configuration from defaults, the JSON file at path (defaults to
// config.json, skipped when absent) and INCIDENTDESK_ environment variables.
// Nested keys in the environment are separated by a double underscore, for
// example INCIDENTDESK_AUTH__JWT_SECRET.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	fileLoaded := false
	if _, err := os.Stat(absPath); err == nil {
		if err := k.Load(file.Provider(absPath), json.Parser()); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", absPath, err)
		}
		fileLoaded = true
	} else if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// sqlite paths in a config file are relative to that file.
	if fileLoaded {
		for name, db := range cfg.Databases {
			if !isSQLite(name) || db.DSN == "" || isMemoryDSN(db.DSN) || filepath.IsAbs(db.DSN) {
				continue
			}
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	driver := strings.ToLower(c.Database.Driver)
	if _, ok := c.Databases[driver]; !ok {
		return fmt.Errorf("database config for %s not found", driver)
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.Poll.IntervalSeconds <= 0 {
		return fmt.Errorf("poll.interval_seconds must be positive")
	}
	return nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.HasPrefix(dsn, "file:")
}
