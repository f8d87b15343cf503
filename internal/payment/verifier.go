// Package payment settles orders from the gateway's success callback. The
// callback alone proves nothing; only a matching signature moves an order.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/imrishuroy/go-checkout-settlement/internal/audit"
	"github.com/imrishuroy/go-checkout-settlement/internal/fulfillment"
	"github.com/imrishuroy/go-checkout-settlement/internal/gateway"
	"github.com/imrishuroy/go-checkout-settlement/internal/inflight"
	"github.com/imrishuroy/go-checkout-settlement/internal/metrics"
	"github.com/imrishuroy/go-checkout-settlement/internal/orders"
	"github.com/imrishuroy/go-checkout-settlement/internal/session"
)

const (
	SuccessPath = "/payment-success"
	FailurePath = "/payment-failed"
)

var (
	// ErrSignatureMismatch fails the attempt; the buyer must check out again.
	ErrSignatureMismatch = errors.New("payment signature mismatch")
	// ErrVerificationFailed covers callbacks for payments that already failed
	// or settled with a different payment.
	ErrVerificationFailed = errors.New("payment verification failed")
)

// Request is the success callback as relayed by the buyer.
type Request struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	LocalOrderRef    string
}

type Result struct {
	Success     bool   `json:"success"`
	OrderID     string `json:"orderId"`
	RedirectURL string `json:"redirectUrl"`
	Reason      string `json:"reason,omitempty"`
}

// Publisher sends the settlement event to the fulfillment queue.
type Publisher interface {
	PublishJSON(ctx context.Context, eventType string, payload any, attributes map[string]string) error
}

type Config struct {
	Secret    string
	Orders    *orders.Store
	Guard     *inflight.Guard
	Publisher Publisher
	Audit     *audit.Log
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
}

type Verifier struct {
	secret    string
	orders    *orders.Store
	guard     *inflight.Guard
	publisher Publisher
	audit     *audit.Log
	metrics   *metrics.Recorder
	logger    *slog.Logger
}

func NewVerifier(cfg Config) *Verifier {
	return &Verifier{
		secret:    cfg.Secret,
		orders:    cfg.Orders,
		guard:     cfg.Guard,
		publisher: cfg.Publisher,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// Verify checks the callback signature and settles or fails the order. A
// repeated call for an order already settled by the same payment returns the
// same success without a second transition.
func (v *Verifier) Verify(ctx context.Context, sess session.Session, req Request) (*Result, error) {
	order, err := v.orders.Get(ctx, req.LocalOrderRef)
	if err != nil {
		return nil, err
	}
	if order == nil || order.UserID != sess.UserID {
		return nil, orders.ErrNotFound
	}

	signed := gateway.VerifySignature(v.secret, req.GatewayOrderID, req.GatewayPaymentID, req.Signature)

	switch order.PaymentStatus {
	case orders.PaymentPaid:
		if signed && order.GatewayOrderID == req.GatewayOrderID && order.GatewayPaymentID == req.GatewayPaymentID {
			v.ensureQueued(ctx, order)
			return success(order.OrderID), nil
		}
		return failure(order.OrderID, "order already settled by another payment"), ErrVerificationFailed
	case orders.PaymentFailed:
		return failure(order.OrderID, "payment attempt already failed"), ErrVerificationFailed
	}

	if order.GatewayOrderID != req.GatewayOrderID {
		return v.fail(ctx, order, "gateway order mismatch")
	}
	if !signed {
		return v.fail(ctx, order, "signature mismatch")
	}

	paid, err := v.orders.MarkPaid(ctx, order.OrderID, req.GatewayOrderID, req.GatewayPaymentID)
	if errors.Is(err, orders.ErrStatusMismatch) {
		// settled or failed concurrently; answer from the stored state
		current, getErr := v.orders.Get(ctx, order.OrderID)
		if getErr != nil {
			return nil, getErr
		}
		if current != nil && current.PaymentStatus == orders.PaymentPaid && current.GatewayPaymentID == req.GatewayPaymentID {
			v.ensureQueued(ctx, current)
			return success(current.OrderID), nil
		}
		return failure(order.OrderID, "order changed during verification"), ErrVerificationFailed
	}
	if err != nil {
		return nil, fmt.Errorf("mark paid: %w", err)
	}

	v.releaseLock(ctx, paid)
	v.record(ctx, audit.Entry{
		OrderID:       paid.OrderID,
		Event:         audit.EventPaid,
		FromStatus:    string(order.Status),
		ToStatus:      string(paid.Status),
		PaymentStatus: string(paid.PaymentStatus),
		Actor:         sess.UserID,
		Detail:        req.GatewayPaymentID,
	})
	v.metrics.Count(ctx, metrics.PaymentSettled, map[string]string{"method": paid.PaymentMethod})
	v.logger.InfoContext(ctx, "payment settled",
		"order_id", paid.OrderID,
		"gateway_order_id", paid.GatewayOrderID,
		"gateway_payment_id", paid.GatewayPaymentID,
	)

	v.ensureQueued(ctx, paid)
	return success(paid.OrderID), nil
}

func (v *Verifier) fail(ctx context.Context, order *orders.Order, reason string) (*Result, error) {
	failed, err := v.orders.MarkPaymentFailed(ctx, order.OrderID, reason)
	if err != nil && !errors.Is(err, orders.ErrStatusMismatch) {
		return nil, fmt.Errorf("mark payment failed: %w", err)
	}
	if failed != nil {
		v.releaseLock(ctx, failed)
		v.record(ctx, audit.Entry{
			OrderID:       order.OrderID,
			Event:         audit.EventPaymentFailed,
			FromStatus:    string(order.Status),
			ToStatus:      string(failed.Status),
			PaymentStatus: string(failed.PaymentStatus),
			Detail:        reason,
		})
		v.metrics.Count(ctx, metrics.PaymentFailed, map[string]string{"reason": reason})
	}
	v.logger.WarnContext(ctx, "payment verification failed", "order_id", order.OrderID, "reason", reason)
	return failure(order.OrderID, reason), ErrSignatureMismatch
}

// ensureQueued publishes the settlement event unless a previous publish was
// recorded. Publish errors are logged; the next verification retries.
func (v *Verifier) ensureQueued(ctx context.Context, order *orders.Order) {
	if order.FulfillmentQueuedAt != nil {
		return
	}

	ev := fulfillment.PaidEvent{
		OrderID:          order.OrderID,
		OrderNumber:      order.OrderNumber,
		UserID:           order.UserID,
		Total:            order.Total,
		Currency:         order.Currency,
		GatewayPaymentID: order.GatewayPaymentID,
	}
	if order.PaidAt != nil {
		ev.PaidAt = *order.PaidAt
	}
	attrs := map[string]string{
		"order_id":       order.OrderID,
		"correlation_id": order.GatewayPaymentID,
	}
	if err := v.publisher.PublishJSON(ctx, fulfillment.EventOrderPaid, ev, attrs); err != nil {
		v.logger.ErrorContext(ctx, "publish settlement failed", "order_id", order.OrderID, "error", err)
		return
	}

	err := v.orders.MarkFulfillmentQueued(ctx, order.OrderID)
	switch {
	case errors.Is(err, orders.ErrStatusMismatch):
		v.logger.InfoContext(ctx, "settlement already queued", "order_id", order.OrderID)
	case err != nil:
		v.logger.ErrorContext(ctx, "mark fulfillment queued failed", "order_id", order.OrderID, "error", err)
	default:
		v.record(ctx, audit.Entry{
			OrderID:       order.OrderID,
			Event:         audit.EventSettlementQueue,
			FromStatus:    string(order.Status),
			ToStatus:      string(order.Status),
			PaymentStatus: string(order.PaymentStatus),
		})
	}
}

func (v *Verifier) releaseLock(ctx context.Context, order *orders.Order) {
	if err := v.guard.Release(ctx, order.CheckoutFingerprint, order.OrderID); err != nil {
		v.logger.WarnContext(ctx, "release inflight lock failed", "order_id", order.OrderID, "error", err)
	}
}

func (v *Verifier) record(ctx context.Context, e audit.Entry) {
	if err := v.audit.Record(ctx, e); err != nil {
		v.logger.WarnContext(ctx, "audit record failed", "order_id", e.OrderID, "error", err)
	}
}

func success(orderID string) *Result {
	return &Result{
		Success:     true,
		OrderID:     orderID,
		RedirectURL: SuccessPath + "?orderId=" + url.QueryEscape(orderID),
	}
}

func failure(orderID, reason string) *Result {
	return &Result{
		OrderID:     orderID,
		RedirectURL: FailurePath,
		Reason:      reason,
	}
}
