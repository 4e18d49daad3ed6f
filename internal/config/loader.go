package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges an optional TOML file at path on top of the built-in
// defaults, applies HITFLOP_* environment variable overrides, and returns
// the final Config. An empty path skips the file. The returned Config has
// NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from HITFLOP_* variables that
// are set. The unprefixed PORT, DATABASE_URL and REDIS_URL are honoured
// first so platform-injected values work without renaming.
func applyEnvOverrides(cfg *Config) {
	// ── Platform aliases ──
	setInt(&cfg.Server.Port, "PORT")
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.Driver = DriverPostgres
		cfg.Database.DSN = v
	}
	setStr(&cfg.Redis.URL, "REDIS_URL")

	// ── Server ──
	setInt(&cfg.Server.Port, "HITFLOP_SERVER_PORT")
	setDuration(&cfg.Server.RequestTimeout, "HITFLOP_SERVER_REQUEST_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "HITFLOP_SERVER_SHUTDOWN_TIMEOUT")
	setStringSlice(&cfg.Server.CORSOrigins, "HITFLOP_SERVER_CORS_ORIGINS")

	// ── Database ──
	setStr(&cfg.Database.Driver, "HITFLOP_DATABASE_DRIVER")
	setStr(&cfg.Database.DSN, "HITFLOP_DATABASE_DSN")
	setInt(&cfg.Database.PoolMaxConns, "HITFLOP_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "HITFLOP_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "HITFLOP_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "HITFLOP_REDIS_URL")
	setDuration(&cfg.Redis.CacheTTL, "HITFLOP_REDIS_CACHE_TTL")

	// ── Auth ──
	setStr(&cfg.Auth.Secret, "HITFLOP_AUTH_SECRET")
	setStr(&cfg.Auth.Issuer, "HITFLOP_AUTH_ISSUER")

	// ── Log ──
	setStr(&cfg.Log.Env, "HITFLOP_LOG_ENV")
	setStr(&cfg.Log.Service, "HITFLOP_LOG_SERVICE")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
