package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/meal-quota/internal/database"
	"github.com/iliyamo/meal-quota/internal/model"
)

// TransactionRepo provides access to the transactions table.  All writes
// take an explicit transaction: an entry is never written without the
// matching balance adjustment on the owning customer.  Timestamps are
// stored in UTC.
type TransactionRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewTransactionRepo returns a TransactionRepo bound to the given database.
func NewTransactionRepo(db *sql.DB, d database.Dialect) *TransactionRepo {
	return &TransactionRepo{db: db, dialect: d}
}

// ListFilter narrows ListRecent.  A zero CustomerID lists entries of all
// customers.
type ListFilter struct {
	CustomerID uint64
	Limit      int
	Offset     int
}

const transactionColumns = `id, customer_id, change_amount, payment_amount, note, timestamp, meal_type`

func scanTransaction(row interface{ Scan(...any) error }) (*model.Transaction, error) {
	var t model.Transaction
	var meal sql.NullString
	if err := row.Scan(&t.ID, &t.CustomerID, &t.ChangeAmount, &t.PaymentAmount, &t.Note, &t.Timestamp, &meal); err != nil {
		return nil, err
	}
	t.Timestamp = t.Timestamp.UTC()
	t.MealType = model.MealType(meal.String)
	return &t, nil
}

// CreateTx inserts a new entry within tx and populates its generated ID.
func (r *TransactionRepo) CreateTx(ctx context.Context, tx *sql.Tx, t *model.Transaction) error {
	const q = `INSERT INTO transactions (customer_id, change_amount, payment_amount, note, timestamp, meal_type)
	           VALUES (?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		t.CustomerID, t.ChangeAmount, t.PaymentAmount, t.Note, t.Timestamp.UTC(), nullString(string(t.MealType)))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	return nil
}

// GetByID fetches an entry.  It returns ErrTransactionNotFound when no row
// matches.
func (r *TransactionRepo) GetByID(ctx context.Context, id uint64) (*model.Transaction, error) {
	return r.get(ctx, r.db, id, "")
}

// GetForUpdateTx fetches an entry inside tx and locks it until the
// transaction ends.
func (r *TransactionRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Transaction, error) {
	return r.get(ctx, tx, id, lockClause(r.dialect))
}

func (r *TransactionRepo) get(ctx context.Context, q querier, id uint64, lock string) (*model.Transaction, error) {
	t, err := scanTransaction(q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`+lock, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return t, nil
}

// UpdateTx overwrites the mutable fields of an entry.  The owning customer
// is never changed.
func (r *TransactionRepo) UpdateTx(ctx context.Context, tx *sql.Tx, t *model.Transaction) error {
	const q = `UPDATE transactions
	           SET change_amount = ?, payment_amount = ?, note = ?, timestamp = ?, meal_type = ?
	           WHERE id = ?`
	_, err := tx.ExecContext(ctx, q,
		t.ChangeAmount, t.PaymentAmount, t.Note, t.Timestamp.UTC(), nullString(string(t.MealType)), t.ID)
	return err
}

// DeleteTx removes a single entry.  It returns ErrTransactionNotFound when
// nothing was deleted.
func (r *TransactionRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// DeleteByCustomerTx removes every entry of a customer and returns how many
// rows were deleted.
func (r *TransactionRepo) DeleteByCustomerTx(ctx context.Context, tx *sql.Tx, customerID uint64) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE customer_id = ?`, customerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SumUntil returns the sum of change_amount over the customer's entries
// whose effective timestamp is at or before at.
func (r *TransactionRepo) SumUntil(ctx context.Context, customerID uint64, at time.Time) (int64, error) {
	return sumUntil(ctx, r.db, customerID, at)
}

// SumUntilTx is SumUntil evaluated inside tx.
func (r *TransactionRepo) SumUntilTx(ctx context.Context, tx *sql.Tx, customerID uint64, at time.Time) (int64, error) {
	return sumUntil(ctx, tx, customerID, at)
}

func sumUntil(ctx context.Context, q querier, customerID uint64, at time.Time) (int64, error) {
	var sum int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(change_amount), 0) FROM transactions WHERE customer_id = ? AND timestamp <= ?`,
		customerID, at.UTC()).Scan(&sum)
	return sum, err
}

// ListRecent returns entries joined with the customer name, newest first by
// effective timestamp.
func (r *TransactionRepo) ListRecent(ctx context.Context, f ListFilter) ([]model.TransactionLogEntry, error) {
	q := `SELECT t.id, t.customer_id, t.change_amount, t.payment_amount, t.note, t.timestamp, t.meal_type, c.name
	      FROM transactions t
	      JOIN customers c ON c.id = t.customer_id`
	args := make([]any, 0, 3)
	if f.CustomerID != 0 {
		q += ` WHERE t.customer_id = ?`
		args = append(args, f.CustomerID)
	}
	q += ` ORDER BY t.timestamp DESC, t.id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.TransactionLogEntry, 0)
	for rows.Next() {
		var e model.TransactionLogEntry
		var meal sql.NullString
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.ChangeAmount, &e.PaymentAmount, &e.Note, &e.Timestamp, &meal, &e.CustomerName); err != nil {
			return nil, err
		}
		e.Timestamp = e.Timestamp.UTC()
		e.MealType = model.MealType(meal.String)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListBetween returns every entry with from <= timestamp < to, oldest first.
func (r *TransactionRepo) ListBetween(ctx context.Context, from, to time.Time) ([]model.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp ASC, id ASC`,
		from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
