package config

import (
    "log/slog"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/alecthomas/assert/v2"

    "github.com/iliyamo/meal-quota/internal/database"
)

func TestLoadDefaults(t *testing.T) {
    t.Setenv("DB_DRIVER", "")
    t.Setenv("LOG_LEVEL", "")
    t.Setenv("LEDGER_EVENTS_ENABLED", "")
    t.Setenv("LEDGER_EVENTS_QUEUE", "")
    t.Setenv("SQLITE_PATH", "")
    t.Setenv("DB_AUTO_MIGRATE", "")

    cfg, err := Load()
    assert.NoError(t, err)
    assert.Equal(t, database.SQLite, cfg.Driver)
    assert.Equal(t, "meal_quota.db", cfg.SQLitePath)
    assert.True(t, cfg.AutoMigrate)
    assert.False(t, cfg.EventsEnabled)
    assert.Equal(t, "ledger.events", cfg.EventsQueue)
    assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadMySQLRequiresConnectionVars(t *testing.T) {
    t.Setenv("DB_DRIVER", "mysql")
    t.Setenv("DB_USER", "")
    t.Setenv("DB_HOST", "")
    t.Setenv("DB_NAME", "")

    _, err := Load()
    assert.Error(t, err)
    assert.Contains(t, err.Error(), "DB_USER, DB_HOST, DB_NAME")

    t.Setenv("DB_USER", "quota")
    t.Setenv("DB_HOST", "db")
    t.Setenv("DB_NAME", "meals")
    t.Setenv("DB_PORT", "")
    cfg, err := Load()
    assert.NoError(t, err)
    assert.Equal(t, database.MySQL, cfg.Driver)
    assert.Equal(t, "3306", cfg.DBPort)
}

func TestLoadRejectsBadValues(t *testing.T) {
    t.Setenv("DB_DRIVER", "postgres")
    _, err := Load()
    assert.Error(t, err)

    t.Setenv("DB_DRIVER", "sqlite3")
    t.Setenv("LOG_LEVEL", "debug")
    cfg, err := Load()
    assert.NoError(t, err)
    assert.Equal(t, database.SQLite, cfg.Driver)
    assert.Equal(t, slog.LevelDebug, cfg.LogLevel)

    t.Setenv("LOG_LEVEL", "chatty")
    _, err = Load()
    assert.Error(t, err)
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
    dir := t.TempDir()
    path := filepath.Join(dir, ".env")
    assert.NoError(t, os.WriteFile(path, []byte("SQLITE_PATH=from-file.db\nPRICING_FILE=prices.toml\n"), 0o600))

    t.Setenv("SQLITE_PATH", "from-env.db")
    t.Setenv("PRICING_FILE", "")
    os.Unsetenv("PRICING_FILE")

    assert.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
    assert.Equal(t, "from-env.db", os.Getenv("SQLITE_PATH"))
    assert.Equal(t, "prices.toml", os.Getenv("PRICING_FILE"))
}

func TestRateLimitConfigClamps(t *testing.T) {
    t.Setenv("RATE_LIMIT_CAPACITY", "0")
    t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
    t.Setenv("RATE_LIMIT_TTL", "1s")
    t.Setenv("RATE_LIMIT_METHODS", "post, delete")

    cfg := LoadRateLimitConfig()
    assert.Equal(t, 1, cfg.Capacity)
    assert.Equal(t, 10*time.Second, cfg.TTL)
    assert.Equal(t, map[string]bool{"POST": true, "DELETE": true}, cfg.Methods)
}

func TestRedisConfigHostPortWins(t *testing.T) {
    t.Setenv("REDIS_ADDR", "cache:6380")
    t.Setenv("REDIS_HOST", "redis")
    t.Setenv("REDIS_PORT", "6379")
    assert.Equal(t, "redis:6379", LoadRedisConfig().Addr)
}
