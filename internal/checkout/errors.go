package checkout

import (
	"errors"
	"fmt"
)

var (
	// ErrCheckoutInFlight means the same cart is already being checked out.
	ErrCheckoutInFlight = errors.New("checkout already in progress")
	// ErrGatewayOrderMismatch means a callback named a gateway order that does not belong to the order.
	ErrGatewayOrderMismatch = errors.New("gateway order does not match order")
	// ErrAttemptClosed means the idempotency key belongs to an attempt whose
	// payment failed or was cancelled; the buyer must start over with a new key.
	ErrAttemptClosed = errors.New("checkout attempt closed")
	// ErrGatewayAmountMismatch means the gateway created an order for a
	// different amount or currency than the priced snapshot.
	ErrGatewayAmountMismatch = errors.New("gateway order amount mismatch")
)

// GatewayCreateError wraps a failed gateway order creation. Nothing was
// persisted, so the buyer may simply retry.
type GatewayCreateError struct {
	Err error
}

func (e *GatewayCreateError) Error() string {
	return fmt.Sprintf("create gateway order: %v", e.Err)
}

func (e *GatewayCreateError) Unwrap() error { return e.Err }

func (e *GatewayCreateError) Retryable() bool { return true }
