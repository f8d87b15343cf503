package gateway

import (
	"context"
	"errors"
	"sync"
)

// ErrSessionClosed is returned for any event after the first terminal one.
var ErrSessionClosed = errors.New("checkout session already closed")

// Settlement is the success callback payload. It proves nothing until verified.
type Settlement struct {
	GatewayOrderID   string `json:"razorpay_order_id"`
	GatewayPaymentID string `json:"razorpay_payment_id"`
	Signature        string `json:"razorpay_signature"`
}

type OutcomeKind int

const (
	OutcomeSettled OutcomeKind = iota + 1
	OutcomeAbandoned
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSettled:
		return "settled"
	case OutcomeAbandoned:
		return "abandoned"
	}
	return "unknown"
}

type Outcome struct {
	Kind       OutcomeKind
	Settlement Settlement
}

// Session is one opening of the hosted checkout. It ends exactly once, either
// settled or abandoned.
type Session struct {
	mu     sync.Mutex
	closed bool
	done   chan Outcome
}

func NewSession() *Session {
	return &Session{done: make(chan Outcome, 1)}
}

func (s *Session) Settle(st Settlement) error {
	return s.finish(Outcome{Kind: OutcomeSettled, Settlement: st})
}

func (s *Session) Abandon() error {
	return s.finish(Outcome{Kind: OutcomeAbandoned})
}

func (s *Session) finish(o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.closed = true
	s.done <- o
	return nil
}

// Await blocks until the session ends or ctx is done.
func (s *Session) Await(ctx context.Context) (Outcome, error) {
	select {
	case o := <-s.done:
		// keep the outcome available to later Await calls
		s.done <- o
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
