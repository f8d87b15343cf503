package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-checkout-settlement/internal/fulfillment"
)

// Processor consumes settlement events and starts fulfillment.
type Processor struct {
	fulfillment *fulfillment.Service
	logger      *slog.Logger
}

// NewProcessor creates a new worker processor.
func NewProcessor(svc *fulfillment.Service, logger *slog.Logger) *Processor {
	return &Processor{fulfillment: svc, logger: logger}
}

// Handle processes an SQS batch. Failed messages are reported individually so
// only they are redelivered; after too many attempts they go to the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.ErrorContext(ctx, "settlement event failed", "message_id", rec.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	if eventType := attribute(rec, "event_type"); eventType != "" && eventType != fulfillment.EventOrderPaid {
		p.logger.WarnContext(ctx, "skipping unknown event", "message_id", rec.MessageId, "event_type", eventType)
		return nil
	}

	var msg fulfillment.PaidEvent
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if msg.OrderID == "" {
		return fmt.Errorf("message %s has no order_id", rec.MessageId)
	}

	p.logger.InfoContext(ctx, "received settlement",
		"order_id", msg.OrderID,
		"order_number", msg.OrderNumber,
		"correlation_id", attribute(rec, "correlation_id"),
	)
	return p.fulfillment.HandlePaid(ctx, msg)
}

func attribute(rec events.SQSMessage, name string) string {
	a, ok := rec.MessageAttributes[name]
	if !ok || a.StringValue == nil {
		return ""
	}
	return *a.StringValue
}
