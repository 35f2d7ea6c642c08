package service

import (
	"context"
	"time"

	"github.com/iliyamo/meal-quota/internal/model"
	"github.com/iliyamo/meal-quota/internal/repository"
)

// Paging limits for ListTransactions.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// maxSummaryDays bounds the range a single DailySummary call may cover.
const maxSummaryDays = 366

// GetCustomer returns a customer with its cached balance.
func (l *Ledger) GetCustomer(ctx context.Context, id uint64) (*model.Customer, error) {
	if id == 0 {
		return nil, invalid("customer_id", "is required")
	}
	c, err := l.customers.GetByID(ctx, id)
	return c, storeErr("get customer", err)
}

// ListCustomers returns every customer ordered by name.
func (l *Ledger) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	cs, err := l.customers.List(ctx)
	return cs, storeErr("list customers", err)
}

// GetEntry returns one ledger entry.
func (l *Ledger) GetEntry(ctx context.Context, id uint64) (*model.Transaction, error) {
	if id == 0 {
		return nil, invalid("entry_id", "is required")
	}
	e, err := l.entries.GetByID(ctx, id)
	return e, storeErr("get entry", err)
}

// ListTransactions returns the transaction log, newest first, optionally
// narrowed to one customer.  A non-positive limit selects the default page
// size and larger limits are capped.
func (l *Ledger) ListTransactions(ctx context.Context, customerID uint64, limit, offset int) ([]model.TransactionLogEntry, error) {
	if offset < 0 {
		return nil, invalid("offset", "must not be negative")
	}
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	if customerID != 0 {
		if _, err := l.customers.GetByID(ctx, customerID); err != nil {
			return nil, storeErr("list transactions", err)
		}
	}
	out, err := l.entries.ListRecent(ctx, repository.ListFilter{CustomerID: customerID, Limit: limit, Offset: offset})
	return out, storeErr("list transactions", err)
}

// GetBalanceAsOf returns the customer's balance at a point in time: the sum
// of the change amounts of every entry effective at or before at.  A zero
// time means now.
func (l *Ledger) GetBalanceAsOf(ctx context.Context, customerID uint64, at time.Time) (int64, error) {
	if customerID == 0 {
		return 0, invalid("customer_id", "is required")
	}
	if _, err := l.customers.GetByID(ctx, customerID); err != nil {
		return 0, storeErr("balance as of", err)
	}
	sum, err := l.entries.SumUntil(ctx, customerID, l.effective(at))
	if err != nil {
		return 0, storeErr("balance as of", err)
	}
	return sum, nil
}

// DailySummary aggregates entries per UTC calendar day for every day from
// from to to, both inclusive.  Days without entries are included with zero
// totals.
func (l *Ledger) DailySummary(ctx context.Context, from, to time.Time) ([]model.DailySummary, error) {
	start := truncateDay(from)
	end := truncateDay(to)
	if end.Before(start) {
		return nil, invalid("to", "must not be before from")
	}
	days := int(end.Sub(start).Hours()/24) + 1
	if days > maxSummaryDays {
		return nil, invalid("to", "range is limited to 366 days")
	}

	entries, err := l.entries.ListBetween(ctx, start, end.AddDate(0, 0, 1))
	if err != nil {
		return nil, storeErr("daily summary", err)
	}

	out := make([]model.DailySummary, days)
	index := make(map[string]int, days)
	for i := range out {
		d := start.AddDate(0, 0, i).Format(time.DateOnly)
		out[i] = model.DailySummary{Date: d, RedeemedByMeal: map[model.MealType]int64{}}
		index[d] = i
	}
	for _, e := range entries {
		i, ok := index[e.Timestamp.UTC().Format(time.DateOnly)]
		if !ok {
			continue
		}
		s := &out[i]
		s.Entries++
		s.NetChange += e.ChangeAmount
		switch {
		case e.ChangeAmount > 0:
			s.PortionsAdded += e.ChangeAmount
		case e.IsRedemption():
			s.PortionsRedeemed += -e.ChangeAmount
			s.RedeemedByMeal[e.MealType] += -e.ChangeAmount
		case e.ChangeAmount < 0:
			s.PortionsRefunded += -e.ChangeAmount
		}
		if e.PaymentAmount > 0 {
			s.Revenue += e.PaymentAmount
		} else {
			s.Refunded += -e.PaymentAmount
		}
	}
	return out, nil
}

// Reconcile compares every cached balance (or only customerID's when it is
// non-zero) against the sum of its ledger entries and returns the
// customers where the two differ.  An empty result means the ledger is
// consistent.
func (l *Ledger) Reconcile(ctx context.Context, customerID uint64) ([]model.BalanceMismatch, error) {
	rows, err := l.customers.BalanceReport(ctx, customerID)
	if err != nil {
		return nil, storeErr("reconcile", err)
	}
	if customerID != 0 && len(rows) == 0 {
		return nil, ErrCustomerNotFound
	}
	out := make([]model.BalanceMismatch, 0)
	for _, r := range rows {
		if r.Cached != r.LedgerSum {
			l.logger.Warn("ledger: balance mismatch",
				"customer_id", r.CustomerID, "cached", r.Cached, "ledger_sum", r.LedgerSum)
			out = append(out, r)
		}
	}
	return out, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
