package pricing

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrQuantityOutOfRange = errors.New("quantity out of range")
	ErrAmountOutOfRange   = errors.New("amount out of range")
)

// Caps keep every summary and its paise amount well inside int64.
const (
	MaxUnitPrice    Amount = 10_000_000
	MaxLineQuantity        = 1000
	MaxSubtotal     Amount = 1_000_000_000_000
)

// LineItem is one product row of a cart.
type LineItem struct {
	ProductID     string `json:"productId" dynamodbav:"product_id" validate:"required"`
	ProductName   string `json:"productName" dynamodbav:"product_name" validate:"required"`
	Category      string `json:"category,omitempty" dynamodbav:"category,omitempty"`
	UnitPrice     Amount `json:"unitPrice" dynamodbav:"unit_price" validate:"gt=0,lte=10000000"`
	OriginalPrice Amount `json:"originalPrice" dynamodbav:"original_price" validate:"gte=0,lte=10000000"`
	Quantity      int    `json:"quantity" dynamodbav:"quantity" validate:"gte=1,lte=1000"`
	MaxQuantity   int    `json:"maxQuantity" dynamodbav:"max_quantity" validate:"gte=1,lte=1000"`
}

// Increment adds one unit unless the item is at its stock ceiling.
// It reports whether the quantity changed.
func (it *LineItem) Increment() bool {
	if it.Quantity >= it.MaxQuantity {
		return false
	}
	it.Quantity++
	return true
}

// Decrement removes one unit unless the quantity is already 1.
func (it *LineItem) Decrement() bool {
	if it.Quantity <= 1 {
		return false
	}
	it.Quantity--
	return true
}

// ValidateQuantity rejects a quantity outside [1, MaxQuantity].
func (it LineItem) ValidateQuantity() error {
	if it.Quantity < 1 || it.Quantity > it.MaxQuantity {
		return fmt.Errorf("%w: %s quantity %d not in [1, %d]", ErrQuantityOutOfRange, it.ProductID, it.Quantity, it.MaxQuantity)
	}
	return nil
}

func ValidateQuantities(items []LineItem) error {
	for _, it := range items {
		if err := it.ValidateQuantity(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateItems checks quantities and keeps prices and the subtotal under
// their caps. Items that pass can be priced without overflow.
func ValidateItems(items []LineItem) error {
	if err := ValidateQuantities(items); err != nil {
		return err
	}

	var subtotal Amount
	for _, it := range items {
		if it.UnitPrice <= 0 || it.UnitPrice > MaxUnitPrice || it.OriginalPrice < 0 || it.OriginalPrice > MaxUnitPrice {
			return fmt.Errorf("%w: %s unit price %d", ErrAmountOutOfRange, it.ProductID, it.UnitPrice)
		}
		if it.Quantity > MaxLineQuantity {
			return fmt.Errorf("%w: %s quantity %d above %d", ErrQuantityOutOfRange, it.ProductID, it.Quantity, MaxLineQuantity)
		}
		// each line is at most MaxUnitPrice*MaxLineQuantity, so this sum cannot wrap
		subtotal += it.UnitPrice * Amount(it.Quantity)
		if subtotal > MaxSubtotal {
			return fmt.Errorf("%w: subtotal above %d", ErrAmountOutOfRange, MaxSubtotal)
		}
	}
	return nil
}

// Paise converts a whole-rupee amount to minor units, refusing values that
// would not fit.
func Paise(a Amount) (int64, error) {
	if a < 0 || a > math.MaxInt64/100 {
		return 0, fmt.Errorf("%w: %d", ErrAmountOutOfRange, a)
	}
	return a * 100, nil
}
