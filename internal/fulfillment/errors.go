package fulfillment

import "errors"

// Typed failures surfaced to the HTTP boundary.
var (
	// ErrUnknownCardType indicates the card type is missing or inactive.
	ErrUnknownCardType = errors.New("unknown or inactive card type")
	// ErrOrderNotFound indicates no order matches the given identifier.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotPayable indicates the order is not in a payable state.
	ErrOrderNotPayable = errors.New("order is not payable")
	// ErrSoldOut indicates no unused code exists for the order's card type.
	// The order stays paid; issuance succeeds on retry after a restock.
	ErrSoldOut = errors.New("card type sold out")
	// ErrNotYetIssued indicates fulfillment has not completed for the order.
	ErrNotYetIssued = errors.New("code not yet issued")
	// ErrAmountMismatch indicates a callback reported a different amount
	// than the order ledger holds.
	ErrAmountMismatch = errors.New("callback amount does not match order")
)
