// Package service implements the quota ledger engine: the rules that keep a
// customer's cached quota balance equal to the sum of its ledger entries
// across inserts, amendments, reversals and undos, and never negative.
//
// Every mutating operation runs its reads and writes in one database
// transaction with the customer row locked, so the balance a check is made
// against cannot change before the write lands.  After commit the read
// cache is invalidated and a ledger event is published; neither can undo a
// committed change.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/meal-quota/internal/metrics"
	"github.com/iliyamo/meal-quota/internal/model"
	"github.com/iliyamo/meal-quota/internal/queue"
	"github.com/iliyamo/meal-quota/internal/repository"
)

// Bounds on entry amounts and balances.  Balances and change amounts are
// 32-bit columns on MySQL; keeping every amount well inside them also keeps
// delta arithmetic free of int64 overflow.
const (
	MaxChangeAmount  = 1_000_000
	MaxPaymentAmount = 1_000_000_000_000
	MaxBalance       = math.MaxInt32
)

// Invalidator drops cached read views after a committed write.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Publisher delivers ledger events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, ev queue.LedgerEvent) error
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate(context.Context) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, queue.LedgerEvent) error { return nil }

// Ledger is the quota ledger engine.
type Ledger struct {
	customers *repository.CustomerRepo
	entries   *repository.TransactionRepo
	logger    *slog.Logger
	cache     Invalidator
	events    Publisher
	now       func() time.Time

	publishTimeout time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithInvalidator sets the read cache invalidated after every commit.
func WithInvalidator(inv Invalidator) Option {
	return func(l *Ledger) {
		if inv != nil {
			l.cache = inv
		}
	}
}

// WithPublisher sets the ledger event publisher.
func WithPublisher(p Publisher) Option {
	return func(l *Ledger) {
		if p != nil {
			l.events = p
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger over the given repositories.  Both repositories must
// share the same database handle.
func New(customers *repository.CustomerRepo, entries *repository.TransactionRepo, opts ...Option) *Ledger {
	if customers == nil || entries == nil {
		panic("nil repository passed to service.New")
	}
	l := &Ledger{
		customers:      customers,
		entries:        entries,
		logger:         slog.Default(),
		cache:          nopInvalidator{},
		events:         nopPublisher{},
		now:            time.Now,
		publishTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Change describes one ledger entry to append.  A zero Timestamp means now.
type Change struct {
	CustomerID    uint64
	ChangeAmount  int64
	PaymentAmount int64
	Note          string
	Timestamp     time.Time
	MealType      model.MealType
}

// Amendment holds the new values of an entry being corrected in place.  A
// zero Timestamp keeps the entry's current effective time.
type Amendment struct {
	ChangeAmount  int64
	PaymentAmount int64
	Note          string
	Timestamp     time.Time
	MealType      model.MealType
}

// ──────────────────────────────────────────────────
// Customers
// ──────────────────────────────────────────────────

// AddCustomer creates a customer with a zero balance.
func (l *Ledger) AddCustomer(ctx context.Context, name, phone string) (c *model.Customer, err error) {
	defer l.observe("add_customer", time.Now(), &err)

	name, phone = strings.TrimSpace(name), strings.TrimSpace(phone)
	if name == "" {
		return nil, invalid("name", "is required")
	}
	id, err := l.customers.Create(ctx, name, phone, l.clock())
	if err != nil {
		return nil, storeErr("add customer", err)
	}
	c, err = l.customers.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr("add customer", err)
	}
	l.committed(ctx, queue.LedgerEvent{
		Type:         queue.EventCustomerCreated,
		CustomerID:   c.ID,
		CustomerName: c.Name,
	})
	return c, nil
}

// UpdateCustomer changes the name and phone of a customer.  The balance is
// never touched here.
func (l *Ledger) UpdateCustomer(ctx context.Context, id uint64, name, phone string) (c *model.Customer, err error) {
	defer l.observe("update_customer", time.Now(), &err)

	name, phone = strings.TrimSpace(name), strings.TrimSpace(phone)
	if id == 0 {
		return nil, invalid("customer_id", "is required")
	}
	if name == "" {
		return nil, invalid("name", "is required")
	}
	err = l.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := l.customers.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return storeErr("update customer", err)
		}
		if err := l.customers.UpdateTx(ctx, tx, id, name, phone); err != nil {
			return storeErr("update customer", err)
		}
		cur.Name, cur.Phone = name, phone
		c = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.committed(ctx, queue.LedgerEvent{
		Type:         queue.EventCustomerUpdated,
		CustomerID:   c.ID,
		CustomerName: c.Name,
		Balance:      c.QuotaBalance,
	})
	return c, nil
}

// DeleteCustomer removes a customer together with all of its ledger
// entries.  This cannot be undone.  It returns the number of entries
// removed.
func (l *Ledger) DeleteCustomer(ctx context.Context, id uint64) (removed int64, err error) {
	defer l.observe("delete_customer", time.Now(), &err)

	if id == 0 {
		return 0, invalid("customer_id", "is required")
	}
	var name string
	err = l.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := l.customers.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return storeErr("delete customer", err)
		}
		name = cur.Name
		if removed, err = l.entries.DeleteByCustomerTx(ctx, tx, id); err != nil {
			return storeErr("delete customer entries", err)
		}
		return storeErr("delete customer", l.customers.DeleteTx(ctx, tx, id))
	})
	if err != nil {
		return 0, err
	}
	l.committed(ctx, queue.LedgerEvent{
		Type:         queue.EventCustomerDeleted,
		CustomerID:   id,
		CustomerName: name,
		Note:         fmt.Sprintf("%d entries removed", removed),
	})
	return removed, nil
}

// ──────────────────────────────────────────────────
// Applying changes
// ──────────────────────────────────────────────────

// ApplyChange appends one entry and moves the customer's balance by its
// change amount in the same transaction.  It is the primitive behind
// top-ups, redemptions, refunds and undos.
func (l *Ledger) ApplyChange(ctx context.Context, c Change) (e *model.Transaction, err error) {
	defer l.observe("apply_change", time.Now(), &err)

	if err := validateChange(c); err != nil {
		return nil, err
	}
	return l.apply(ctx, "change", c, nil)
}

// TopUp records a purchase of quantity portions for payment.
func (l *Ledger) TopUp(ctx context.Context, customerID uint64, quantity, payment int64, note string, at time.Time) (e *model.Transaction, err error) {
	defer l.observe("top_up", time.Now(), &err)

	if quantity <= 0 {
		return nil, invalid("quantity", "must be positive")
	}
	if payment < 0 {
		return nil, invalid("payment_amount", "must not be negative")
	}
	if strings.TrimSpace(note) == "" {
		note = fmt.Sprintf("Top Up: %d Portions", quantity)
	}
	c := Change{CustomerID: customerID, ChangeAmount: quantity, PaymentAmount: payment, Note: note, Timestamp: at}
	if err := validateChange(c); err != nil {
		return nil, err
	}
	return l.apply(ctx, "top-up", c, nil)
}

// Redeem consumes one portion for the given meal.  The redemption is
// checked against the customer's balance as of its effective time, so a
// backdated redemption needs portions to have been available then, and
// against the live balance, which must stay non-negative.
func (l *Ledger) Redeem(ctx context.Context, customerID uint64, meal model.MealType, note string, at time.Time) (e *model.Transaction, err error) {
	defer l.observe("redeem", time.Now(), &err)

	if !meal.Valid() {
		return nil, invalid("meal_type", "is required for a redemption")
	}
	if strings.TrimSpace(note) == "" {
		note = "Redemption"
	}
	c := Change{CustomerID: customerID, ChangeAmount: -1, PaymentAmount: 0, Note: note, Timestamp: at, MealType: meal}
	if err := validateChange(c); err != nil {
		return nil, err
	}
	return l.apply(ctx, "redemption", c, func(tx *sql.Tx, cust *model.Customer, ts time.Time) error {
		hist, err := l.entries.SumUntilTx(ctx, tx, cust.ID, ts)
		if err != nil {
			return storeErr("historical balance", err)
		}
		if hist <= 0 {
			return &BalanceError{Op: "redemption", CustomerID: cust.ID, Current: hist, Resulting: hist - 1, AsOf: ts}
		}
		return nil
	})
}

// Refund returns portions and/or money to a customer.  Both amounts are
// given as non-negative magnitudes and recorded as negative values; at
// least one must be non-zero.
func (l *Ledger) Refund(ctx context.Context, customerID uint64, portions, amount int64, note string, at time.Time) (e *model.Transaction, err error) {
	defer l.observe("refund", time.Now(), &err)

	if portions < 0 {
		return nil, invalid("portions", "must not be negative")
	}
	if amount < 0 {
		return nil, invalid("amount", "must not be negative")
	}
	if portions == 0 && amount == 0 {
		return nil, invalid("portions", "a refund needs portions or money")
	}
	if strings.TrimSpace(note) == "" {
		note = "Refund"
	}
	c := Change{CustomerID: customerID, ChangeAmount: -portions, PaymentAmount: -amount, Note: note, Timestamp: at}
	if err := validateChange(c); err != nil {
		return nil, err
	}
	return l.apply(ctx, "refund", c, nil)
}

// UndoRedemption cancels a redemption by appending a compensating +1 entry.
// The redemption itself stays in the ledger.  Callers track which
// redemption they made last and pass its ID; undoing the same redemption
// twice is the caller's responsibility to prevent.
func (l *Ledger) UndoRedemption(ctx context.Context, customerID, redemptionID uint64) (e *model.Transaction, err error) {
	defer l.observe("undo_redemption", time.Now(), &err)

	if customerID == 0 {
		return nil, invalid("customer_id", "is required")
	}
	if redemptionID == 0 {
		return nil, invalid("redemption_id", "is required")
	}
	c := Change{
		CustomerID:   customerID,
		ChangeAmount: 1,
		Note:         fmt.Sprintf("Undo Redemption #%d", redemptionID),
	}
	return l.apply(ctx, "undo", c, func(tx *sql.Tx, cust *model.Customer, _ time.Time) error {
		orig, err := l.entries.GetForUpdateTx(ctx, tx, redemptionID)
		if err != nil {
			return storeErr("load redemption", err)
		}
		if orig.CustomerID != cust.ID {
			return ErrEntryCustomerMismatch
		}
		if !orig.IsRedemption() {
			return ErrNotRedemption
		}
		return nil
	})
}

// precheck runs inside the transaction of apply after the customer row has
// been locked; a non-nil error aborts the change.
type precheck func(tx *sql.Tx, cust *model.Customer, ts time.Time) error

func (l *Ledger) apply(ctx context.Context, op string, c Change, check precheck) (*model.Transaction, error) {
	entry := &model.Transaction{
		CustomerID:    c.CustomerID,
		ChangeAmount:  c.ChangeAmount,
		PaymentAmount: c.PaymentAmount,
		Note:          strings.TrimSpace(c.Note),
		Timestamp:     l.effective(c.Timestamp),
		MealType:      c.MealType,
	}
	var cust *model.Customer
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		cust, err = l.customers.GetForUpdateTx(ctx, tx, c.CustomerID)
		if err != nil {
			return storeErr("load customer", err)
		}
		if check != nil {
			if err := check(tx, cust, entry.Timestamp); err != nil {
				return err
			}
		}
		resulting := cust.QuotaBalance + entry.ChangeAmount
		if err := checkBalance(op, cust, resulting); err != nil {
			return err
		}
		if err := l.entries.CreateTx(ctx, tx, entry); err != nil {
			return storeErr("insert entry", err)
		}
		if err := l.customers.AdjustBalanceTx(ctx, tx, cust.ID, entry.ChangeAmount); err != nil {
			return storeErr("adjust balance", err)
		}
		cust.QuotaBalance = resulting
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ObserveDelta(entry.ChangeAmount)
	l.committed(ctx, entryEvent(queue.EventEntryCreated, entry, cust, entry.ChangeAmount))
	return entry, nil
}

// ──────────────────────────────────────────────────
// Amend and reverse
// ──────────────────────────────────────────────────

// Amend rewrites an entry in place.  The customer's balance moves by the
// difference between the new and the old change amount, never by the new
// amount itself, and the amendment is rejected when that difference would
// leave the balance negative.  The meal type is cleared whenever the new
// change amount is not negative.
func (l *Ledger) Amend(ctx context.Context, entryID uint64, a Amendment) (e *model.Transaction, err error) {
	defer l.observe("amend", time.Now(), &err)

	if entryID == 0 {
		return nil, invalid("entry_id", "is required")
	}
	if a.ChangeAmount >= 0 {
		a.MealType = model.MealNone
	} else if a.MealType != model.MealNone && !a.MealType.Valid() {
		return nil, invalid("meal_type", fmt.Sprintf("unknown meal type %q", a.MealType))
	}
	if a.ChangeAmount == 0 && a.PaymentAmount == 0 {
		return nil, invalid("change_amount", "change or payment must be non-zero")
	}
	if err := checkAmounts(a.ChangeAmount, a.PaymentAmount); err != nil {
		return nil, err
	}

	// The owning customer never changes, so it can be looked up before the
	// transaction; rows are then locked customer first, entry second, the
	// same order every other operation uses.
	peek, err := l.entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, storeErr("load entry", err)
	}
	var cust *model.Customer
	var delta int64
	err = l.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if cust, err = l.customers.GetForUpdateTx(ctx, tx, peek.CustomerID); err != nil {
			return storeErr("load customer", err)
		}
		cur, err := l.entries.GetForUpdateTx(ctx, tx, entryID)
		if err != nil {
			return storeErr("load entry", err)
		}
		delta = a.ChangeAmount - cur.ChangeAmount
		resulting := cust.QuotaBalance + delta
		if err := checkBalance("amend", cust, resulting); err != nil {
			return err
		}
		cur.ChangeAmount = a.ChangeAmount
		cur.PaymentAmount = a.PaymentAmount
		cur.Note = strings.TrimSpace(a.Note)
		cur.MealType = a.MealType
		if !a.Timestamp.IsZero() {
			cur.Timestamp = l.effective(a.Timestamp)
		}
		if err := l.entries.UpdateTx(ctx, tx, cur); err != nil {
			return storeErr("update entry", err)
		}
		if err := l.customers.AdjustBalanceTx(ctx, tx, cust.ID, delta); err != nil {
			return storeErr("adjust balance", err)
		}
		cust.QuotaBalance = resulting
		e = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ObserveDelta(delta)
	l.committed(ctx, entryEvent(queue.EventEntryAmended, e, cust, delta))
	return e, nil
}

// Reverse deletes an entry and backs its change out of the customer's
// balance.  Deleting a top-up whose portions have already been used is
// rejected because the balance would go negative.
func (l *Ledger) Reverse(ctx context.Context, entryID uint64) (e *model.Transaction, err error) {
	defer l.observe("reverse", time.Now(), &err)

	if entryID == 0 {
		return nil, invalid("entry_id", "is required")
	}
	peek, err := l.entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, storeErr("load entry", err)
	}
	var cust *model.Customer
	err = l.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if cust, err = l.customers.GetForUpdateTx(ctx, tx, peek.CustomerID); err != nil {
			return storeErr("load customer", err)
		}
		cur, err := l.entries.GetForUpdateTx(ctx, tx, entryID)
		if err != nil {
			return storeErr("load entry", err)
		}
		resulting := cust.QuotaBalance - cur.ChangeAmount
		if err := checkBalance("reverse", cust, resulting); err != nil {
			return err
		}
		if err := l.entries.DeleteTx(ctx, tx, entryID); err != nil {
			return storeErr("delete entry", err)
		}
		if err := l.customers.AdjustBalanceTx(ctx, tx, cust.ID, -cur.ChangeAmount); err != nil {
			return storeErr("adjust balance", err)
		}
		cust.QuotaBalance = resulting
		e = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ObserveDelta(-e.ChangeAmount)
	l.committed(ctx, entryEvent(queue.EventEntryReversed, e, cust, -e.ChangeAmount))
	return e, nil
}

// ──────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────

func validateChange(c Change) error {
	if c.CustomerID == 0 {
		return invalid("customer_id", "is required")
	}
	if c.ChangeAmount == 0 && c.PaymentAmount == 0 {
		return invalid("change_amount", "change or payment must be non-zero")
	}
	if err := checkAmounts(c.ChangeAmount, c.PaymentAmount); err != nil {
		return err
	}
	if c.MealType != model.MealNone {
		if !c.MealType.Valid() {
			return invalid("meal_type", fmt.Sprintf("unknown meal type %q", c.MealType))
		}
		if c.ChangeAmount >= 0 {
			return invalid("meal_type", "only allowed on entries that consume portions")
		}
	}
	return nil
}

func checkAmounts(change, payment int64) error {
	if change < -MaxChangeAmount || change > MaxChangeAmount {
		return invalid("change_amount", fmt.Sprintf("must be between %d and %d", -MaxChangeAmount, MaxChangeAmount))
	}
	if payment < -MaxPaymentAmount || payment > MaxPaymentAmount {
		return invalid("payment_amount", fmt.Sprintf("must be between %d and %d", -MaxPaymentAmount, MaxPaymentAmount))
	}
	return nil
}

// checkBalance rejects a resulting balance outside [0, MaxBalance].
func checkBalance(op string, cust *model.Customer, resulting int64) error {
	if resulting < 0 {
		return &BalanceError{Op: op, CustomerID: cust.ID, Current: cust.QuotaBalance, Resulting: resulting}
	}
	if resulting > MaxBalance {
		return invalid("change_amount", fmt.Sprintf("balance would exceed %d portions", MaxBalance))
	}
	return nil
}

// withTx runs fn inside a transaction and commits when fn succeeds.  Any
// error from fn rolls the transaction back and is returned unchanged.
func (l *Ledger) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.customers.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit transaction: %w", err)
	}
	committed = true
	return nil
}

// committed runs the post-commit side effects: the read cache is dropped
// before returning so the caller's next read sees the change, and the event
// is published with its own deadline.  Failures are logged and counted.
func (l *Ledger) committed(ctx context.Context, ev queue.LedgerEvent) {
	if err := l.cache.Invalidate(ctx); err != nil {
		metrics.CacheInvalidationFailures.Inc()
		l.logger.Warn("ledger: cache invalidation failed", "event", ev.Type, "error", err)
	}
	ev.ID = uuid.NewString()
	ev.OccurredAt = l.clock().Format(time.RFC3339Nano)
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.publishTimeout)
	defer cancel()
	if err := l.events.Publish(pctx, ev); err != nil {
		metrics.EventPublishFailures.Inc()
		l.logger.Warn("ledger: event publish failed", "event", ev.Type, "id", ev.ID, "error", err)
	}
}

func entryEvent(typ string, e *model.Transaction, cust *model.Customer, delta int64) queue.LedgerEvent {
	return queue.LedgerEvent{
		Type:          typ,
		CustomerID:    cust.ID,
		CustomerName:  cust.Name,
		EntryID:       e.ID,
		ChangeAmount:  e.ChangeAmount,
		PaymentAmount: e.PaymentAmount,
		Delta:         delta,
		Balance:       cust.QuotaBalance,
		MealType:      string(e.MealType),
		Note:          e.Note,
		EffectiveAt:   e.Timestamp.Format(time.RFC3339Nano),
	}
}

// observe records metrics and logs for a finished operation.  It is meant
// to be deferred with a pointer to the named error result.
func (l *Ledger) observe(op string, start time.Time, errp *error) {
	err := *errp
	outcome := metrics.OutcomeOK
	switch {
	case err == nil:
	case IsRejection(err):
		outcome = metrics.OutcomeRejected
		l.logger.Info("ledger: operation rejected", "op", op, "reason", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = metrics.OutcomeError
		l.logger.Warn("ledger: operation aborted", "op", op, "error", err)
	default:
		outcome = metrics.OutcomeError
		l.logger.Error("ledger: operation failed", "op", op, "error", err)
	}
	metrics.ObserveOperation(op, outcome, time.Since(start))
}

// clock returns the current time in UTC at the precision the store keeps.
func (l *Ledger) clock() time.Time {
	return l.now().UTC().Truncate(time.Microsecond)
}

// effective normalizes an effective timestamp, defaulting to now.
func (l *Ledger) effective(t time.Time) time.Time {
	if t.IsZero() {
		return l.clock()
	}
	return t.UTC().Truncate(time.Microsecond)
}
