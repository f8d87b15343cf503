// Package fulfillment moves paid orders forward: confirmed, processing,
// shipped, delivered, or cancelled before anything ships.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/imrishuroy/go-checkout-settlement/internal/audit"
	"github.com/imrishuroy/go-checkout-settlement/internal/metrics"
	"github.com/imrishuroy/go-checkout-settlement/internal/orders"
)

// EventOrderPaid is the SQS event_type of a settled payment.
const EventOrderPaid = "order.paid"

var ErrTrackingRequired = errors.New("tracking number required to ship")

// PaidEvent is the settlement message the verifier publishes.
type PaidEvent struct {
	OrderID          string    `json:"order_id"`
	OrderNumber      string    `json:"order_number"`
	UserID           string    `json:"user_id"`
	Total            int64     `json:"total"`
	Currency         string    `json:"currency"`
	GatewayPaymentID string    `json:"gateway_payment_id"`
	PaidAt           time.Time `json:"paid_at"`
}

type Service struct {
	orders  *orders.Store
	audit   *audit.Log
	metrics *metrics.Recorder
	logger  *slog.Logger
}

func NewService(store *orders.Store, auditLog *audit.Log, recorder *metrics.Recorder, logger *slog.Logger) *Service {
	return &Service{
		orders:  store,
		audit:   auditLog,
		metrics: recorder,
		logger:  logger,
	}
}

// Advance moves an order to next. Repeating a move the order already made is
// a no-op that returns the current order.
func (s *Service) Advance(ctx context.Context, actor, orderID string, next orders.Status, trackingNumber string) (*orders.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, orders.ErrNotFound
	}
	if o.Status == next {
		return o, nil
	}
	if err := orders.CheckTransition(o, next); err != nil {
		return nil, err
	}
	if next == orders.StatusShipped && trackingNumber == "" {
		return nil, ErrTrackingRequired
	}

	updated, err := s.orders.UpdateStatus(ctx, orderID, o.Status, next, trackingNumber)
	if err != nil {
		return nil, fmt.Errorf("advance %s to %s: %w", orderID, next, err)
	}

	if err := s.audit.Record(ctx, audit.Entry{
		OrderID:       orderID,
		Event:         audit.EventFulfillment,
		FromStatus:    string(o.Status),
		ToStatus:      string(next),
		PaymentStatus: string(updated.PaymentStatus),
		Actor:         actor,
		Detail:        trackingNumber,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", "order_id", orderID, "error", err)
	}
	s.metrics.Count(ctx, metrics.FulfillmentAdvanced, map[string]string{"status": string(next)})
	s.logger.InfoContext(ctx, "order advanced", "order_id", orderID, "from", o.Status, "to", next, "actor", actor)
	return updated, nil
}

// HandlePaid starts fulfillment for a settled order. Redelivered events and
// orders that already moved on are accepted without change.
func (s *Service) HandlePaid(ctx context.Context, ev PaidEvent) error {
	o, err := s.orders.Get(ctx, ev.OrderID)
	if err != nil {
		return err
	}
	if o == nil {
		return fmt.Errorf("%w: %s", orders.ErrNotFound, ev.OrderID)
	}

	switch o.Status {
	case orders.StatusConfirmed:
	case orders.StatusProcessing, orders.StatusShipped, orders.StatusDelivered:
		s.logger.InfoContext(ctx, "duplicate paid event", "order_id", ev.OrderID, "status", o.Status)
		return nil
	case orders.StatusCancelled:
		s.logger.WarnContext(ctx, "paid event for cancelled order", "order_id", ev.OrderID)
		return nil
	default:
		return fmt.Errorf("order %s not settled: status %s payment %s", ev.OrderID, o.Status, o.PaymentStatus)
	}

	_, err = s.Advance(ctx, "fulfillment-worker", ev.OrderID, orders.StatusProcessing, "")
	if errors.Is(err, orders.ErrStatusMismatch) {
		// a competing delivery won
		return nil
	}
	return err
}
