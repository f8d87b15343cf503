package validation

import "github.com/imrishuroy/go-checkout-settlement/internal/pricing"

// SummaryRequest is the payload for POST /cart/summary.
type SummaryRequest struct {
	Items     []pricing.LineItem `json:"items" validate:"dive"`
	PromoCode string             `json:"promoCode,omitempty" validate:"max=32"`
}

// CheckoutRequest is the payload for POST /order-create.
// The address is checked separately by ValidateAddress so the form gets one error at a time.
type CheckoutRequest struct {
	Items           []pricing.LineItem `json:"items" validate:"required,min=1,dive"`
	ShippingAddress Address            `json:"shippingAddress"`
	PromoCode       string             `json:"promoCode,omitempty" validate:"max=32"`
}

// DismissRequest is sent when the buyer closes the hosted checkout.
type DismissRequest struct {
	OrderID        string `json:"orderId" validate:"required"`
	GatewayOrderID string `json:"gatewayOrderId" validate:"required"`
}

// VerifyRequest carries the gateway's success callback payload.
type VerifyRequest struct {
	GatewayOrderID   string `json:"razorpay_order_id" validate:"required"`
	GatewayPaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature        string `json:"razorpay_signature" validate:"required,hexadecimal"`
	OrderID          string `json:"orderId" validate:"required"`
}

// StatusRequest is the admin payload for POST /orders/:id/status.
type StatusRequest struct {
	Status         string `json:"status" validate:"required,oneof=processing shipped delivered cancelled"`
	TrackingNumber string `json:"trackingNumber,omitempty" validate:"required_if=Status shipped"`
}
