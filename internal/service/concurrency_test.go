package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"github.com/iliyamo/meal-quota/internal/database"
	"github.com/iliyamo/meal-quota/internal/model"
	"github.com/iliyamo/meal-quota/internal/repository"
)

// newSharedLedgers opens n ledgers, each over its own connection pool, on
// one database file, so concurrent operations only serialize in the store.
func newSharedLedgers(t *testing.T, n int) []*Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shared.db")
	ledgers := make([]*Ledger, 0, n)
	for i := 0; i < n; i++ {
		db, err := database.OpenSQLite(path)
		assert.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		if i == 0 {
			assert.NoError(t, database.Migrate(context.Background(), db, database.SQLite))
		}
		ledgers = append(ledgers, New(
			repository.NewCustomerRepo(db, database.SQLite),
			repository.NewTransactionRepo(db, database.SQLite),
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		))
	}
	return ledgers
}

func assertLedgerConsistent(t *testing.T, l *Ledger) {
	t.Helper()
	mismatches, err := l.Reconcile(context.Background(), 0)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(mismatches))
}

func TestConcurrentRedemptionsNeverOverdraw(t *testing.T) {
	const balance, workers = 3, 12
	ctx := context.Background()
	ledgers := newSharedLedgers(t, 4)

	ana, err := ledgers[0].AddCustomer(ctx, "Ana", "")
	assert.NoError(t, err)
	_, err = ledgers[0].TopUp(ctx, ana.ID, balance, 78000, "", time.Now().Add(-time.Hour))
	assert.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
		other    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(l *Ledger) {
			defer wg.Done()
			_, err := l.Redeem(ctx, ana.ID, model.MealLunch, "", time.Time{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrInsufficientBalance):
				rejected++
			default:
				other = append(other, err)
			}
		}(ledgers[i%len(ledgers)])
	}
	wg.Wait()

	assert.Equal(t, 0, len(other), "unexpected errors: %v", other)
	assert.Equal(t, balance, ok)
	assert.Equal(t, workers-balance, rejected)

	c, err := ledgers[0].GetCustomer(ctx, ana.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), c.QuotaBalance)
	assertLedgerConsistent(t, ledgers[0])
}

func TestConcurrentReversalsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	ledgers := newSharedLedgers(t, 4)

	ana, err := ledgers[0].AddCustomer(ctx, "Ana", "")
	assert.NoError(t, err)
	var topUps []uint64
	for i := 0; i < 4; i++ {
		e, err := ledgers[0].TopUp(ctx, ana.ID, 1, 29000, "", time.Now().Add(-time.Hour))
		assert.NoError(t, err)
		topUps = append(topUps, e.ID)
	}
	for i := 0; i < 3; i++ {
		_, err := ledgers[0].Redeem(ctx, ana.ID, model.MealDinner, "", time.Time{})
		assert.NoError(t, err)
	}

	// One portion is left, so only one of the four top-ups can be backed out.
	var wg sync.WaitGroup
	errs := make([]error, len(topUps))
	for i, id := range topUps {
		wg.Add(1)
		go func(i int, id uint64) {
			defer wg.Done()
			_, errs[i] = ledgers[i%len(ledgers)].Reverse(ctx, id)
		}(i, id)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, ErrInsufficientBalance), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, ok)

	c, err := ledgers[0].GetCustomer(ctx, ana.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), c.QuotaBalance)
	assertLedgerConsistent(t, ledgers[0])
}
