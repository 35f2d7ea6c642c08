package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// MySQL error numbers returned when a schema object already exists.
const (
	errTableExists     = 1050
	errDuplicateColumn = 1060
	errDuplicateKey    = 1061
)

// Migrations returns the schema statements for the given dialect.  Each
// string is a single statement.  Running them against an existing schema is
// safe: statements either use IF NOT EXISTS or fail with an "already exists"
// error which Migrate ignores.
func Migrations(d Dialect) []string {
	if d == SQLite {
		return []string{
			`CREATE TABLE IF NOT EXISTS customers (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				name          TEXT NOT NULL,
				phone         TEXT,
				quota_balance INTEGER NOT NULL DEFAULT 0 CHECK (quota_balance >= 0),
				created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS transactions (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				customer_id    INTEGER NOT NULL REFERENCES customers(id),
				change_amount  INTEGER NOT NULL,
				payment_amount INTEGER NOT NULL DEFAULT 0,
				note           TEXT NOT NULL DEFAULT '',
				timestamp      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			// meal_type was added after the first release.
			`ALTER TABLE transactions ADD COLUMN meal_type TEXT`,
			`CREATE INDEX IF NOT EXISTS idx_transactions_customer_ts ON transactions(customer_id, timestamp)`,
			`CREATE INDEX IF NOT EXISTS idx_transactions_ts ON transactions(timestamp)`,
		}
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS customers (
			id            BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
			name          VARCHAR(255) NOT NULL,
			phone         VARCHAR(64) NULL,
			quota_balance INT NOT NULL DEFAULT 0,
			created_at    DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
			CONSTRAINT chk_customers_balance CHECK (quota_balance >= 0)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id             BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
			customer_id    BIGINT UNSIGNED NOT NULL,
			change_amount  INT NOT NULL,
			payment_amount BIGINT NOT NULL DEFAULT 0,
			note           VARCHAR(500) NOT NULL DEFAULT '',
			timestamp      DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
			CONSTRAINT fk_transactions_customer FOREIGN KEY (customer_id) REFERENCES customers(id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		// meal_type was added after the first release.
		`ALTER TABLE transactions ADD COLUMN meal_type VARCHAR(16) NULL`,
		`CREATE INDEX idx_transactions_customer_ts ON transactions(customer_id, timestamp)`,
		`CREATE INDEX idx_transactions_ts ON transactions(timestamp)`,
	}
}

// Migrate applies the schema for the dialect.  Errors reporting that a
// table, column or index already exists are expected on every start after
// the first and are skipped; any other error aborts the migration.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, stmt := range Migrations(d) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if alreadyExists(err) {
				continue
			}
			return fmt.Errorf("migrate: %w", err)
		}
	}
	log.Printf("database: schema ready (dialect=%s)", d)
	return nil
}

// alreadyExists reports whether err signals a schema object that is already
// present.
func alreadyExists(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errTableExists, errDuplicateColumn, errDuplicateKey:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column name") || strings.Contains(msg, "already exists")
}
