package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/meal-quota/internal/repository"
)

// Sentinel errors returned by the ledger.  Typed errors below match them
// through errors.Is.
var (
	ErrValidation            = errors.New("ledger: invalid input")
	ErrInsufficientBalance   = errors.New("ledger: insufficient quota balance")
	ErrCustomerNotFound      = errors.New("ledger: customer not found")
	ErrEntryNotFound         = errors.New("ledger: transaction not found")
	ErrEntryCustomerMismatch = errors.New("ledger: transaction belongs to another customer")
	ErrNotRedemption         = errors.New("ledger: transaction is not a redemption")
)

// ValidationError reports input that was rejected before the store was
// touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger: validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, msg string) error { return &ValidationError{Field: field, Message: msg} }

// BalanceError reports an operation that would leave a customer with a
// balance below what the operation requires.  Current is the balance the
// check was made against and Resulting is what the balance would have
// become.  AsOf is set when the check used the historical balance at a
// backdated effective time instead of the live balance.
type BalanceError struct {
	Op         string
	CustomerID uint64
	Current    int64
	Resulting  int64
	AsOf       time.Time
}

func (e *BalanceError) Error() string {
	if !e.AsOf.IsZero() {
		return fmt.Sprintf("ledger: %s rejected: customer %d had %d portions at %s",
			e.Op, e.CustomerID, e.Current, e.AsOf.Format(time.RFC3339))
	}
	return fmt.Sprintf("ledger: %s rejected: balance of customer %d would become %d (current %d)",
		e.Op, e.CustomerID, e.Resulting, e.Current)
}

func (e *BalanceError) Is(target error) bool { return target == ErrInsufficientBalance }

// storeErr translates repository sentinels into ledger errors and wraps
// everything else with the operation name.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrCustomerNotFound):
		return ErrCustomerNotFound
	case errors.Is(err, repository.ErrTransactionNotFound):
		return ErrEntryNotFound
	}
	return fmt.Errorf("ledger: %s: %w", op, err)
}

// IsRejection reports whether err is a rejection the caller can explain to
// the user (as opposed to a store failure).
func IsRejection(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrEntryCustomerMismatch) ||
		errors.Is(err, ErrNotRedemption)
}
