// Package pricing turns a set of line items and an optional promo code into an
// order summary. Everything here is a pure function of its inputs.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-checkout-settlement/internal/promo"
)

// Amount is a whole number of currency units (rupees).
type Amount = int64

// Policy holds the shipping and tax constants one page prices with.
type Policy struct {
	FreeShippingThreshold Amount
	FlatShippingFee       Amount
	TaxRate               decimal.Decimal
}

var defaultTaxRate = decimal.RequireFromString("0.18")

// CartPolicy is what the cart page shows.
func CartPolicy() Policy {
	return Policy{FreeShippingThreshold: 10000, FlatShippingFee: 150, TaxRate: defaultTaxRate}
}

// CheckoutPolicy is what the checkout page charges.
func CheckoutPolicy() Policy {
	return Policy{FreeShippingThreshold: 10000, FlatShippingFee: 50, TaxRate: defaultTaxRate}
}

// Summary is derived, never stored as its own source of truth.
// Total == Subtotal - Discount + ShippingCost + Tax.
type Summary struct {
	Subtotal     Amount `json:"subtotal" dynamodbav:"subtotal"`
	Savings      Amount `json:"savings" dynamodbav:"savings"`
	Discount     Amount `json:"discount" dynamodbav:"discount"`
	ShippingCost Amount `json:"shippingCost" dynamodbav:"shipping_cost"`
	Tax          Amount `json:"tax" dynamodbav:"tax"`
	Total        Amount `json:"total" dynamodbav:"total"`
}

// Balanced reports whether the total equals its components.
func (s Summary) Balanced() bool {
	return s.Total == s.Subtotal-s.Discount+s.ShippingCost+s.Tax
}

// Engine prices carts under a single Policy.
type Engine struct {
	policy Policy
}

func NewEngine(p Policy) *Engine {
	return &Engine{policy: p}
}

func (e *Engine) Policy() Policy { return e.policy }

// Compute prices items. A nil code means no discount.
func (e *Engine) Compute(items []LineItem, code *promo.Code) Summary {
	var s Summary
	for _, it := range items {
		qty := Amount(it.Quantity)
		s.Subtotal += it.UnitPrice * qty
		if d := it.OriginalPrice - it.UnitPrice; d > 0 {
			s.Savings += d * qty
		}
	}

	s.Discount = discountFor(s.Subtotal, code)

	if len(items) > 0 && s.Subtotal < e.policy.FreeShippingThreshold {
		s.ShippingCost = e.policy.FlatShippingFee
	}

	// tax is charged on the discounted subtotal
	taxable := decimal.NewFromInt(s.Subtotal - s.Discount)
	s.Tax = taxable.Mul(e.policy.TaxRate).Round(0).IntPart()

	s.Total = s.Subtotal - s.Discount + s.ShippingCost + s.Tax
	return s
}

// discountFor never exceeds the subtotal.
func discountFor(subtotal Amount, code *promo.Code) Amount {
	if code == nil || subtotal <= 0 {
		return 0
	}

	var d Amount
	switch code.Type {
	case promo.Percentage:
		d = decimal.NewFromInt(subtotal).
			Mul(decimal.NewFromInt(code.Value)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
	case promo.Fixed:
		d = code.Value
	}

	if d < 0 {
		return 0
	}
	if d > subtotal {
		return subtotal
	}
	return d
}
