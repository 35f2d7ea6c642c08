package model

import "time"

// Customer represents a row in the `customers` table.  QuotaBalance is a
// cached running total of the customer's ledger entries; it is only ever
// changed by the ledger engine together with the entry that explains the
// change.
//
// Fields:
//  ID           – primary key identifier.
//  Name         – display name (required).
//  Phone        – optional phone number; empty when not provided.
//  QuotaBalance – remaining prepaid portions.
//  CreatedAt    – timestamp of creation.
type Customer struct {
    ID           uint64    `json:"id"`            // customers.id
    Name         string    `json:"name"`          // customers.name
    Phone        string    `json:"phone"`         // customers.phone (nullable)
    QuotaBalance int64     `json:"quota_balance"` // customers.quota_balance
    CreatedAt    time.Time `json:"created_at"`    // customers.created_at
}
