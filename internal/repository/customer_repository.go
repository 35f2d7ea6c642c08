package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/meal-quota/internal/database"
	"github.com/iliyamo/meal-quota/internal/model"
)

// CustomerRepo provides access to the customers table.  The quota_balance
// column is only written through AdjustBalanceTx so that every change to it
// happens inside the same transaction as the ledger entry that explains it.
type CustomerRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewCustomerRepo returns a CustomerRepo bound to the given database.
func NewCustomerRepo(db *sql.DB, d database.Dialect) *CustomerRepo {
	return &CustomerRepo{db: db, dialect: d}
}

// DB exposes the underlying handle so callers can begin transactions.
func (r *CustomerRepo) DB() *sql.DB { return r.db }

const customerColumns = `id, name, phone, quota_balance, created_at`

func scanCustomer(row interface{ Scan(...any) error }) (*model.Customer, error) {
	var c model.Customer
	var phone sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &phone, &c.QuotaBalance, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Phone = phone.String
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// Create inserts a customer with a zero balance and returns its ID.
func (r *CustomerRepo) Create(ctx context.Context, name, phone string, createdAt time.Time) (uint64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO customers (name, phone, quota_balance, created_at) VALUES (?, ?, 0, ?)`,
		name, nullString(phone), createdAt.UTC())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByID fetches a customer.  It returns ErrCustomerNotFound when no row
// matches.
func (r *CustomerRepo) GetByID(ctx context.Context, id uint64) (*model.Customer, error) {
	c, err := scanCustomer(r.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return c, nil
}

// GetForUpdateTx fetches a customer inside tx and locks the row until the
// transaction ends, so that the balance read here cannot change before the
// caller writes.  It returns ErrCustomerNotFound when no row matches.
func (r *CustomerRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Customer, error) {
	c, err := scanCustomer(tx.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = ?`+lockClause(r.dialect), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return c, nil
}

// List returns all customers ordered by name.
func (r *CustomerRepo) List(ctx context.Context) ([]model.Customer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+customerColumns+` FROM customers ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Customer, 0)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateTx overwrites the name and phone of a customer.  The balance is
// left untouched.
func (r *CustomerRepo) UpdateTx(ctx context.Context, tx *sql.Tx, id uint64, name, phone string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE customers SET name = ?, phone = ? WHERE id = ?`,
		name, nullString(phone), id)
	return err
}

// AdjustBalanceTx adds delta to the cached balance of a customer.  A zero
// delta is a no-op.  The caller must hold the row lock obtained through
// GetForUpdateTx and must have checked that the result is not negative.
func (r *CustomerRepo) AdjustBalanceTx(ctx context.Context, tx *sql.Tx, id uint64, delta int64) error {
	if delta == 0 {
		return nil
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE customers SET quota_balance = quota_balance + ? WHERE id = ?`, delta, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// DeleteTx removes a customer row.  Entries referencing the customer must
// have been removed first.
func (r *CustomerRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM customers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// BalanceReport returns, for each customer (or only for customerID when it
// is non-zero), the cached balance next to the sum of its ledger entries.
func (r *CustomerRepo) BalanceReport(ctx context.Context, customerID uint64) ([]model.BalanceMismatch, error) {
	q := `SELECT c.id, c.name, c.quota_balance, COALESCE(SUM(t.change_amount), 0)
	      FROM customers c
	      LEFT JOIN transactions t ON t.customer_id = c.id`
	args := []any{}
	if customerID != 0 {
		q += ` WHERE c.id = ?`
		args = append(args, customerID)
	}
	q += ` GROUP BY c.id, c.name, c.quota_balance ORDER BY c.id`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.BalanceMismatch, 0)
	for rows.Next() {
		var m model.BalanceMismatch
		if err := rows.Scan(&m.CustomerID, &m.CustomerName, &m.Cached, &m.LedgerSum); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
