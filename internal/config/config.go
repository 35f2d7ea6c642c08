package config // package config loads application configuration from environment variables

import (
    "database/sql"
    "errors"
    "fmt"
    "io/fs"
    "log/slog"
    "os"
    "strings"

    "github.com/joho/godotenv"

    "github.com/iliyamo/meal-quota/internal/database"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
    Env  string // application environment (e.g. "dev", "prod")
    Port string // HTTP port to listen on

    Driver      database.Dialect // DB_DRIVER: mysql or sqlite
    DBUser      string           // MySQL user
    DBPass      string           // MySQL password (optional)
    DBHost      string           // MySQL host address
    DBPort      string           // MySQL port number
    DBName      string           // MySQL database name
    SQLitePath  string           // SQLite database file
    AutoMigrate bool             // apply the schema at startup

    PricingFile string // optional TOML package catalogue

    RabbitURL     string // broker URL for ledger events
    EventsEnabled bool   // publish ledger events and run the log consumer
    EventsQueue   string // queue ledger events are routed to
    LedgerLogDir  string // directory the consumer writes ledger.log into

    LogLevel slog.Level
}

// LoadDotEnv loads variables from the given files (".env" when none are
// given) without overriding variables already set.  Missing files are
// skipped.
func LoadDotEnv(files ...string) error {
    if len(files) == 0 {
        files = []string{".env"}
    }
    for _, f := range files {
        if err := godotenv.Load(f); err != nil {
            if errors.Is(err, fs.ErrNotExist) {
                continue
            }
            return fmt.Errorf("config: load %s: %w", f, err)
        }
    }
    return nil
}

// Load reads configuration values from environment variables.  The MySQL
// connection variables are only required when DB_DRIVER is mysql.  All
// missing required variables are reported together.
func Load() (Config, error) {
    var missing []string
    must := func(key string) string {
        v, ok := os.LookupEnv(key)
        if !ok || v == "" {
            missing = append(missing, key)
        }
        return v
    }

    driver, err := database.ParseDialect(envStr("DB_DRIVER", string(database.SQLite)))
    if err != nil {
        return Config{}, fmt.Errorf("config: %w", err)
    }
    level, err := parseLevel(envStr("LOG_LEVEL", "info"))
    if err != nil {
        return Config{}, err
    }

    cfg := Config{
        Env:           envStr("APP_ENV", "dev"),
        Port:          envStr("APP_PORT", "8080"),
        Driver:        driver,
        DBPass:        os.Getenv("DB_PASS"),
        SQLitePath:    envStr("SQLITE_PATH", "meal_quota.db"),
        AutoMigrate:   envBool("DB_AUTO_MIGRATE", true),
        PricingFile:   os.Getenv("PRICING_FILE"),
        RabbitURL:     envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
        EventsEnabled: envBool("LEDGER_EVENTS_ENABLED", false),
        EventsQueue:   envStr("LEDGER_EVENTS_QUEUE", "ledger.events"),
        LedgerLogDir:  envStr("LEDGER_LOG_DIR", "logs"),
        LogLevel:      level,
    }
    if driver == database.MySQL {
        cfg.DBUser = must("DB_USER")
        cfg.DBHost = must("DB_HOST")
        cfg.DBPort = envStr("DB_PORT", "3306")
        cfg.DBName = must("DB_NAME")
    }
    if len(missing) > 0 {
        return Config{}, fmt.Errorf("config: missing required env vars: %s", strings.Join(missing, ", "))
    }
    return cfg, nil
}

// OpenStore opens the database selected by cfg.Driver.
func OpenStore(cfg Config) (*sql.DB, error) {
    if cfg.Driver == database.SQLite {
        return database.OpenSQLite(cfg.SQLitePath)
    }
    return database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
}

func parseLevel(s string) (slog.Level, error) {
    var l slog.Level
    if err := l.UnmarshalText([]byte(s)); err != nil {
        return 0, fmt.Errorf("config: invalid LOG_LEVEL %q", s)
    }
    return l, nil
}
