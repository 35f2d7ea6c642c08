// Package queue defines message payloads exchanged over the message broker
// and the publisher/consumer pair that moves them.
package queue

// Ledger event types.
const (
	EventEntryCreated    = "entry.created"
	EventEntryAmended    = "entry.amended"
	EventEntryReversed   = "entry.reversed"
	EventCustomerCreated = "customer.created"
	EventCustomerUpdated = "customer.updated"
	EventCustomerDeleted = "customer.deleted"
)

// LedgerEvent is published after a ledger change has been committed.  It
// carries enough information for downstream consumers to log, notify or
// build reports without querying the primary database.  Delta is the exact
// change applied to the customer's cached balance and Balance the value
// after the change.
type LedgerEvent struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	CustomerID    uint64 `json:"customer_id"`
	CustomerName  string `json:"customer_name,omitempty"`
	EntryID       uint64 `json:"entry_id,omitempty"`
	ChangeAmount  int64  `json:"change_amount"`
	PaymentAmount int64  `json:"payment_amount"`
	Delta         int64  `json:"delta"`
	Balance       int64  `json:"balance"`
	MealType      string `json:"meal_type,omitempty"`
	Note          string `json:"note,omitempty"`
	EffectiveAt   string `json:"effective_at,omitempty"`
	OccurredAt    string `json:"occurred_at"`
}
