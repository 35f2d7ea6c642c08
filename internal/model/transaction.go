package model

import (
    "strings"
    "time"
)

// MealType tags a redemption with the meal it was consumed for.  The empty
// value means "no meal type" and is the only valid value for entries that
// add portions.
type MealType string

const (
    MealNone   MealType = ""
    MealLunch  MealType = "Lunch"
    MealDinner MealType = "Dinner"
)

// MealTypes lists every accepted meal type in display order.
var MealTypes = []MealType{MealLunch, MealDinner}

// Valid reports whether m is one of the known meal types.  MealNone is not
// considered valid here; callers decide whether absence is allowed.
func (m MealType) Valid() bool {
    return m == MealLunch || m == MealDinner
}

// ParseMealType converts user input into a MealType.  Matching is case
// insensitive and surrounding whitespace is ignored.  An empty string yields
// MealNone with ok=true.
func ParseMealType(s string) (MealType, bool) {
    s = strings.TrimSpace(s)
    if s == "" {
        return MealNone, true
    }
    for _, m := range MealTypes {
        if strings.EqualFold(s, string(m)) {
            return m, true
        }
    }
    return MealNone, false
}

// Transaction models an entry in the `transactions` table.  Each entry
// belongs to exactly one customer and records a signed change in portions
// together with any money that moved.
//
// Fields:
//  ID            – primary key identifier.
//  CustomerID    – owning customer; never reassigned.
//  ChangeAmount  – portions added (positive) or consumed/refunded (negative).
//  PaymentAmount – money received (positive) or returned (negative), in IDR.
//  Note          – free-text description.
//  Timestamp     – effective time of the entry; may be backdated.
//  MealType      – meal tag, only set on negative entries.
type Transaction struct {
    ID            uint64    `json:"id"`                  // transactions.id
    CustomerID    uint64    `json:"customer_id"`         // transactions.customer_id
    ChangeAmount  int64     `json:"change_amount"`       // transactions.change_amount
    PaymentAmount int64     `json:"payment_amount"`      // transactions.payment_amount
    Note          string    `json:"note"`                // transactions.note
    Timestamp     time.Time `json:"timestamp"`           // transactions.timestamp
    MealType      MealType  `json:"meal_type,omitempty"` // transactions.meal_type (nullable)
}

// IsRedemption reports whether the entry consumed a meal portion.
func (t Transaction) IsRedemption() bool {
    return t.ChangeAmount < 0 && t.MealType.Valid()
}

// TransactionLogEntry is a Transaction joined with the owning customer's
// name, as shown in the transaction log.
type TransactionLogEntry struct {
    Transaction
    CustomerName string `json:"customer_name"`
}
