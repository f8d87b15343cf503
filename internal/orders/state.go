package orders

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

var (
	ErrIllegalTransition = errors.New("illegal order transition")
	ErrPaymentRequired   = errors.New("order is not paid")
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped},
	StatusShipped:    {StatusDelivered},
}

// CanTransitionTo reports whether next directly follows s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RequiresPayment reports whether an order must be paid to be in status s.
func (s Status) RequiresPayment() bool {
	switch s {
	case StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func (p PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return p == PaymentPending && (next == PaymentPaid || next == PaymentFailed)
}

// CheckTransition validates a fulfillment move for o. Confirmation is not a
// fulfillment move; it only happens when a payment is verified.
func CheckTransition(o *Order, next Status) error {
	if next == StatusConfirmed || !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, next)
	}
	if next.RequiresPayment() && o.PaymentStatus != PaymentPaid {
		return fmt.Errorf("%w: %s requires payment, payment is %s", ErrPaymentRequired, next, o.PaymentStatus)
	}
	return nil
}
