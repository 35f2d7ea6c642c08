package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/meal-quota/internal/database"
)

// querier is the subset of *sql.DB and *sql.Tx used by read helpers that
// run both inside and outside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// lockClause returns the suffix that takes a row lock on a SELECT.  SQLite
// has no row locks; its writers are serialized when the transaction begins.
func lockClause(d database.Dialect) string {
	if d == database.MySQL {
		return " FOR UPDATE"
	}
	return ""
}

// nullString stores empty strings as NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
