package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-checkout-settlement/internal/audit"
	"github.com/imrishuroy/go-checkout-settlement/internal/aws"
	"github.com/imrishuroy/go-checkout-settlement/internal/config"
	"github.com/imrishuroy/go-checkout-settlement/internal/fulfillment"
	"github.com/imrishuroy/go-checkout-settlement/internal/metrics"
	"github.com/imrishuroy/go-checkout-settlement/internal/orders"
	"github.com/imrishuroy/go-checkout-settlement/internal/telemetry"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel)

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx, aws.Settings{Region: cfg.AWS.Region, EndpointOverride: cfg.AWS.EndpointOverride})
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	var auditLog *audit.Log
	if cfg.AuditPath != "" {
		auditLog, err = audit.Open(cfg.AuditPath)
		if err != nil {
			log.Fatalf("failed to open audit log: %v", err)
		}
		defer auditLog.Close()
	}

	svc := fulfillment.NewService(
		orders.NewStore(clients.DynamoDB, cfg.AWS.OrdersTable),
		auditLog,
		metrics.NewRecorder(clients.CloudWatch, cfg.AWS.MetricsNamespace, logger),
		logger,
	)
	p := NewProcessor(svc, logger)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"order_id":"local-order-1"}`
		}
		event := events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}}
		resp, err := p.Handle(ctx, event)
		if err != nil || len(resp.BatchItemFailures) > 0 {
			log.Fatalf("local handler failed: %v %+v", err, resp.BatchItemFailures)
		}
		return
	}

	lambda.Start(p.Handle)
}
