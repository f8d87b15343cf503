// Package checkout turns a validated cart into a pending order bound to a
// gateway order, and records buyers walking away from the hosted checkout.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/imrishuroy/go-checkout-settlement/internal/audit"
	"github.com/imrishuroy/go-checkout-settlement/internal/gateway"
	"github.com/imrishuroy/go-checkout-settlement/internal/idempotency"
	"github.com/imrishuroy/go-checkout-settlement/internal/inflight"
	"github.com/imrishuroy/go-checkout-settlement/internal/metrics"
	"github.com/imrishuroy/go-checkout-settlement/internal/orders"
	"github.com/imrishuroy/go-checkout-settlement/internal/pricing"
	"github.com/imrishuroy/go-checkout-settlement/internal/promo"
	"github.com/imrishuroy/go-checkout-settlement/internal/session"
	"github.com/imrishuroy/go-checkout-settlement/internal/validation"
)

// OrderCreator is the part of the gateway client checkout needs.
type OrderCreator interface {
	CreateOrder(ctx context.Context, in gateway.CreateOrderInput) (*gateway.Order, error)
}

// Request is what the buyer submits from the checkout page.
type Request struct {
	Items     []pricing.LineItem
	Address   validation.Address
	PromoCode string
}

// Result is returned to the buyer and replayed verbatim for a repeated
// idempotency key. Amount is in paise, ready for the widget.
type Result struct {
	OrderID        string          `json:"orderId"`
	OrderNumber    string          `json:"orderNumber"`
	GatewayOrderID string          `json:"gatewayOrderId"`
	Amount         int64           `json:"amount"`
	Currency       string          `json:"currency"`
	Summary        pricing.Summary `json:"summary"`
	PromoCode      string          `json:"promoCode,omitempty"`
	PromoApplied   bool            `json:"promoApplied"`
	PromoMessage   string          `json:"promoMessage,omitempty"`

	Replayed bool `json:"-"`
}

type Config struct {
	Ledger      promo.Ledger
	Engine      *pricing.Engine
	Gateway     OrderCreator
	Orders      *orders.Store
	Idempotency *idempotency.Store
	Guard       *inflight.Guard
	Audit       *audit.Log
	Metrics     *metrics.Recorder
	Currency    string
	Logger      *slog.Logger
}

type Service struct {
	ledger   promo.Ledger
	engine   *pricing.Engine
	gateway  OrderCreator
	orders   *orders.Store
	idem     *idempotency.Store
	guard    *inflight.Guard
	audit    *audit.Log
	metrics  *metrics.Recorder
	currency string
	logger   *slog.Logger

	newOrderID     func() string
	newOrderNumber func() string
}

func NewService(cfg Config) *Service {
	return &Service{
		ledger:         cfg.Ledger,
		engine:         cfg.Engine,
		gateway:        cfg.Gateway,
		orders:         cfg.Orders,
		idem:           cfg.Idempotency,
		guard:          cfg.Guard,
		audit:          cfg.Audit,
		metrics:        cfg.Metrics,
		currency:       cfg.Currency,
		logger:         cfg.Logger,
		newOrderID:     uuid.NewString,
		newOrderNumber: func() string { return "ORD-" + ulid.Make().String() },
	}
}

// BeginCheckout validates the form, snapshots the price, opens a gateway
// order and persists a pending order. Nothing touches the network until the
// request is valid, and nothing is persisted unless the gateway accepted it.
func (s *Service) BeginCheckout(ctx context.Context, sess session.Session, idempotencyKey string, req Request) (*Result, error) {
	if len(req.Items) == 0 {
		return nil, &validation.ValidationError{Field: "items", Message: "Cart is empty"}
	}
	if err := validation.ValidateAddress(req.Address); err != nil {
		return nil, err
	}
	if err := pricing.ValidateItems(req.Items); err != nil {
		if errors.Is(err, pricing.ErrAmountOutOfRange) {
			return nil, &validation.ValidationError{Field: "items", Message: "Cart total is too large"}
		}
		return nil, err
	}

	quote, err := Price(ctx, s.ledger, s.engine, req.Items, req.PromoCode)
	if err != nil {
		return nil, err
	}
	summary := quote.Summary
	amount, err := pricing.Paise(summary.Total)
	if err != nil {
		return nil, &validation.ValidationError{Field: "items", Message: "Cart total is too large"}
	}
	promoCode := quote.PromoCode()
	fingerprint := Fingerprint(sess.UserID, req.Items, promoCode, summary.Total)

	replay, err := s.idem.Claim(ctx, idempotencyKey, fingerprint)
	if errors.Is(err, idempotency.ErrInProgress) {
		return nil, ErrCheckoutInFlight
	}
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return s.replay(ctx, replay)
	}

	orderID := s.newOrderID()
	ok, err := s.guard.Acquire(ctx, fingerprint, orderID)
	if err != nil {
		s.releaseKey(ctx, idempotencyKey, "inflight lock unavailable")
		return nil, err
	}
	if !ok {
		s.releaseKey(ctx, idempotencyKey, "checkout in flight")
		return nil, ErrCheckoutInFlight
	}

	orderNumber := s.newOrderNumber()
	gwOrder, err := s.gateway.CreateOrder(ctx, gateway.CreateOrderInput{
		Amount:   amount,
		Currency: s.currency,
		Receipt:  orderNumber,
		Notes: map[string]string{
			"order_id": orderID,
			"user_id":  sess.UserID,
		},
	})
	if err != nil {
		s.logger.WarnContext(ctx, "gateway order creation failed", "order_number", orderNumber, "error", err)
		s.releaseLock(ctx, fingerprint, orderID)
		s.releaseKey(ctx, idempotencyKey, err.Error())
		return nil, &GatewayCreateError{Err: err}
	}
	if gwOrder.Amount != amount || !strings.EqualFold(gwOrder.Currency, s.currency) {
		err := fmt.Errorf("%w: asked %d %s, got %d %s", ErrGatewayAmountMismatch, amount, s.currency, gwOrder.Amount, gwOrder.Currency)
		s.logger.ErrorContext(ctx, "gateway order does not match snapshot", "order_number", orderNumber, "gateway_order_id", gwOrder.ID, "error", err)
		s.releaseLock(ctx, fingerprint, orderID)
		s.releaseKey(ctx, idempotencyKey, err.Error())
		return nil, &GatewayCreateError{Err: err}
	}

	result := &Result{
		OrderID:        orderID,
		OrderNumber:    orderNumber,
		GatewayOrderID: gwOrder.ID,
		Amount:         amount,
		Currency:       s.currency,
		Summary:        summary,
		PromoCode:      promoCode,
		PromoApplied:   quote.Promo != nil,
		PromoMessage:   quote.Message,
	}
	body, err := json.Marshal(result)
	if err != nil {
		s.releaseLock(ctx, fingerprint, orderID)
		s.releaseKey(ctx, idempotencyKey, err.Error())
		return nil, fmt.Errorf("marshal result: %w", err)
	}

	order := &orders.Order{
		OrderID:             orderID,
		OrderNumber:         orderNumber,
		UserID:              sess.UserID,
		Items:               req.Items,
		ShippingAddress:     req.Address.Normalized(),
		PromoCode:           promoCode,
		Currency:            s.currency,
		Status:              orders.StatusPending,
		PaymentStatus:       orders.PaymentPending,
		PaymentMethod:       orders.PaymentMethodGateway,
		GatewayOrderID:      gwOrder.ID,
		CheckoutFingerprint: fingerprint,
	}
	order.ApplySummary(summary)

	complete := s.idem.CompleteItem(idempotencyKey, orderID, string(body), http.StatusCreated)
	if err := s.orders.CreateWithIdempotencyTransaction(ctx, order, complete); err != nil {
		s.releaseLock(ctx, fingerprint, orderID)
		if !errors.Is(err, orders.ErrIdempotencyConflict) {
			s.releaseKey(ctx, idempotencyKey, err.Error())
		}
		return nil, fmt.Errorf("persist order: %w", err)
	}

	if err := s.audit.Record(ctx, audit.Entry{
		OrderID:       orderID,
		Event:         audit.EventCreated,
		ToStatus:      string(orders.StatusPending),
		PaymentStatus: string(orders.PaymentPending),
		Actor:         sess.UserID,
		Detail:        gwOrder.ID,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", "order_id", orderID, "error", err)
	}
	s.metrics.Count(ctx, metrics.OrderCreated, map[string]string{"currency": s.currency})

	s.logger.InfoContext(ctx, "checkout started",
		"order_id", orderID,
		"order_number", orderNumber,
		"gateway_order_id", gwOrder.ID,
		"total", summary.Total,
	)
	return result, nil
}

// Abandon records that the buyer closed the hosted checkout. It frees the
// cart for another attempt and never marks the payment failed. A dismissal
// that arrives after the payment resolved is ignored.
func (s *Service) Abandon(ctx context.Context, sess session.Session, orderID, gatewayOrderID string) error {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil || order.UserID != sess.UserID {
		return orders.ErrNotFound
	}
	if order.GatewayOrderID != gatewayOrderID {
		return ErrGatewayOrderMismatch
	}

	count, err := s.orders.RecordAbandoned(ctx, orderID)
	if errors.Is(err, orders.ErrStatusMismatch) {
		s.logger.InfoContext(ctx, "dismissal after payment resolved", "order_id", orderID, "payment_status", order.PaymentStatus)
		return nil
	}
	if err != nil {
		return err
	}

	s.releaseLock(ctx, order.CheckoutFingerprint, orderID)

	if err := s.audit.Record(ctx, audit.Entry{
		OrderID:       orderID,
		Event:         audit.EventAbandoned,
		FromStatus:    string(order.Status),
		ToStatus:      string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Actor:         sess.UserID,
		Detail:        fmt.Sprintf("abandon_count=%d", count),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", "order_id", orderID, "error", err)
	}
	s.metrics.Count(ctx, metrics.PaymentAbandoned, nil)
	s.logger.InfoContext(ctx, "checkout dismissed", "order_id", orderID, "abandon_count", count)
	return nil
}

func (s *Service) releaseLock(ctx context.Context, fingerprint, owner string) {
	if err := s.guard.Release(ctx, fingerprint, owner); err != nil {
		s.logger.WarnContext(ctx, "release inflight lock failed", "error", err)
	}
}

func (s *Service) releaseKey(ctx context.Context, key, note string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.idem.MarkFailed(ctx, key, note); err != nil {
		s.logger.WarnContext(ctx, "release idempotency key failed", "error", err)
	}
}

// replay returns the stored response for a completed key, unless the attempt
// it created has since failed or been cancelled. A dead attempt's gateway
// order must never be handed out again.
func (s *Service) replay(ctx context.Context, rec *idempotency.Record) (*Result, error) {
	order, err := s.orders.Get(ctx, rec.OrderID)
	if err != nil {
		return nil, err
	}
	if order != nil && (order.PaymentStatus == orders.PaymentFailed || order.Status == orders.StatusCancelled) {
		return nil, fmt.Errorf("%w: order %s is %s/%s", ErrAttemptClosed, order.OrderID, order.Status, order.PaymentStatus)
	}
	return decodeReplay(rec)
}

func decodeReplay(rec *idempotency.Record) (*Result, error) {
	var res Result
	if err := json.Unmarshal([]byte(rec.ResponseBody), &res); err != nil {
		return nil, fmt.Errorf("decode stored response: %w", err)
	}
	res.Replayed = true
	return &res, nil
}
