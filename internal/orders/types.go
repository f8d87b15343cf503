package orders

import (
	"time"

	"github.com/imrishuroy/go-checkout-settlement/internal/pricing"
	"github.com/imrishuroy/go-checkout-settlement/internal/validation"
)

// PaymentMethodGateway is the only payment method the storefront offers.
const PaymentMethodGateway = "razorpay"

// Order represents the item stored in the orders DynamoDB table.
type Order struct {
	OrderID         string             `json:"orderId" dynamodbav:"order_id"` // PK
	OrderNumber     string             `json:"orderNumber" dynamodbav:"order_number"`
	UserID          string             `json:"userId" dynamodbav:"user_id"`
	Items           []pricing.LineItem `json:"items" dynamodbav:"items"`
	ShippingAddress validation.Address `json:"shippingAddress" dynamodbav:"shipping_address"`

	Subtotal     pricing.Amount `json:"subtotal" dynamodbav:"subtotal"`
	Savings      pricing.Amount `json:"savings" dynamodbav:"savings"`
	Discount     pricing.Amount `json:"discount" dynamodbav:"discount"`
	ShippingCost pricing.Amount `json:"shippingCost" dynamodbav:"shipping_cost"`
	Tax          pricing.Amount `json:"tax" dynamodbav:"tax"`
	Total        pricing.Amount `json:"total" dynamodbav:"total"`
	PromoCode    string         `json:"promoCode,omitempty" dynamodbav:"promo_code,omitempty"`
	Currency     string         `json:"currency" dynamodbav:"currency"`

	Status           Status        `json:"status" dynamodbav:"status"`
	PaymentStatus    PaymentStatus `json:"paymentStatus" dynamodbav:"payment_status"`
	PaymentMethod    string        `json:"paymentMethod" dynamodbav:"payment_method"`
	GatewayOrderID   string        `json:"gatewayOrderId" dynamodbav:"gateway_order_id"`
	GatewayPaymentID string        `json:"gatewayPaymentId,omitempty" dynamodbav:"gateway_payment_id,omitempty"`
	TrackingNumber   string        `json:"trackingNumber,omitempty" dynamodbav:"tracking_number,omitempty"`
	FailureReason    string        `json:"failureReason,omitempty" dynamodbav:"failure_reason,omitempty"`

	CheckoutFingerprint string     `json:"-" dynamodbav:"checkout_fingerprint,omitempty"`
	AbandonCount        int        `json:"abandonCount,omitempty" dynamodbav:"abandon_count,omitempty"`
	FulfillmentQueuedAt *time.Time `json:"-" dynamodbav:"fulfillment_queued_at,omitempty"`

	CreatedAt time.Time  `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt time.Time  `json:"updatedAt" dynamodbav:"updated_at"`
	PaidAt    *time.Time `json:"paidAt,omitempty" dynamodbav:"paid_at,omitempty"`
}

// ApplySummary copies a priced snapshot onto the order.
func (o *Order) ApplySummary(s pricing.Summary) {
	o.Subtotal = s.Subtotal
	o.Savings = s.Savings
	o.Discount = s.Discount
	o.ShippingCost = s.ShippingCost
	o.Tax = s.Tax
	o.Total = s.Total
}

// Summary returns the priced snapshot stored on the order.
func (o *Order) Summary() pricing.Summary {
	return pricing.Summary{
		Subtotal:     o.Subtotal,
		Savings:      o.Savings,
		Discount:     o.Discount,
		ShippingCost: o.ShippingCost,
		Tax:          o.Tax,
		Total:        o.Total,
	}
}
