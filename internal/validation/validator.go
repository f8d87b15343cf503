package validation

import (
	"fmt"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-checkout-settlement/internal/pricing"
)

// New returns a validator for request payloads with struct-level rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// a line item must never exceed its stock ceiling
	v.RegisterStructValidation(lineItemStructValidation, pricing.LineItem{})

	return v
}

func lineItemStructValidation(sl validatorv10.StructLevel) {
	it := sl.Current().Interface().(pricing.LineItem)

	if it.Quantity > it.MaxQuantity {
		sl.ReportError(it.Quantity, "quantity", "Quantity", "lte_max_quantity", fmt.Sprintf("%d", it.MaxQuantity))
	}
}
