// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// ledger service to distinguish a missing row from a store failure without
// inspecting driver specific errors.
package repository

import "errors"

// ErrCustomerNotFound is returned when no customer row matches the
// requested ID.
var ErrCustomerNotFound = errors.New("customer not found")

// ErrTransactionNotFound is returned when no transaction row matches the
// requested ID.
var ErrTransactionNotFound = errors.New("transaction not found")
