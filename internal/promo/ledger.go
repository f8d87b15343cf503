package promo

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// DiscountType is how a promo code reduces the subtotal.
type DiscountType string

const (
	Percentage DiscountType = "percentage"
	Fixed      DiscountType = "fixed"
)

// ErrInvalidPromoCode is returned for unknown or malformed codes. Callers
// price without a discount and tell the buyer the code did not apply.
var ErrInvalidPromoCode = errors.New("promo code is not valid")

// Code is immutable reference data.
type Code struct {
	Code  string       `json:"code" dynamodbav:"code"`
	Type  DiscountType `json:"discountType" dynamodbav:"discount_type"`
	Value int64        `json:"discountValue" dynamodbav:"discount_value"`
}

// Ledger resolves buyer-entered codes.
type Ledger interface {
	Lookup(ctx context.Context, code string) (Code, error)
}

// Normalize is the lookup key for a buyer-entered code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (c Code) valid() bool {
	switch c.Type {
	case Percentage:
		return c.Value > 0 && c.Value <= 100
	case Fixed:
		return c.Value > 0
	}
	return false
}

// MemoryLedger is a fixed in-process table.
type MemoryLedger struct {
	mu    sync.RWMutex
	codes map[string]Code
}

func NewMemoryLedger(codes ...Code) *MemoryLedger {
	l := &MemoryLedger{codes: make(map[string]Code, len(codes))}
	for _, c := range codes {
		c.Code = Normalize(c.Code)
		l.codes[c.Code] = c
	}
	return l
}

// DefaultCodes are the codes the storefront has always honoured.
func DefaultCodes() []Code {
	return []Code{
		{Code: "SAVE10", Type: Percentage, Value: 10},
		{Code: "FLAT500", Type: Fixed, Value: 500},
	}
}

func (l *MemoryLedger) Lookup(_ context.Context, code string) (Code, error) {
	key := Normalize(code)
	if key == "" {
		return Code{}, ErrInvalidPromoCode
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	c, ok := l.codes[key]
	if !ok || !c.valid() {
		return Code{}, ErrInvalidPromoCode
	}
	return c, nil
}
