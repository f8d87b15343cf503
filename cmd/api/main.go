package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/imrishuroy/go-checkout-settlement/internal/audit"
	"github.com/imrishuroy/go-checkout-settlement/internal/aws"
	"github.com/imrishuroy/go-checkout-settlement/internal/checkout"
	"github.com/imrishuroy/go-checkout-settlement/internal/config"
	"github.com/imrishuroy/go-checkout-settlement/internal/fulfillment"
	"github.com/imrishuroy/go-checkout-settlement/internal/gateway"
	"github.com/imrishuroy/go-checkout-settlement/internal/handlers"
	"github.com/imrishuroy/go-checkout-settlement/internal/idempotency"
	"github.com/imrishuroy/go-checkout-settlement/internal/inflight"
	"github.com/imrishuroy/go-checkout-settlement/internal/metrics"
	"github.com/imrishuroy/go-checkout-settlement/internal/orders"
	"github.com/imrishuroy/go-checkout-settlement/internal/payment"
	"github.com/imrishuroy/go-checkout-settlement/internal/pricing"
	"github.com/imrishuroy/go-checkout-settlement/internal/promo"
	"github.com/imrishuroy/go-checkout-settlement/internal/telemetry"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.RequestLogger(cfg.Logger))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterRoutes(r, cfg)

	return r
}

func buildHandlerConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (handlers.HandlerConfig, func(), error) {
	clients, err := aws.NewAWSClients(ctx, aws.Settings{Region: cfg.AWS.Region, EndpointOverride: cfg.AWS.EndpointOverride})
	if err != nil {
		return handlers.HandlerConfig{}, nil, err
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	cleanup := func() { _ = rdb.Close() }

	var auditLog *audit.Log
	if cfg.AuditPath != "" {
		auditLog, err = audit.Open(cfg.AuditPath)
		if err != nil {
			cleanup()
			return handlers.HandlerConfig{}, nil, err
		}
		closeRedis := cleanup
		cleanup = func() {
			closeRedis()
			_ = auditLog.Close()
		}
	}

	// promo codes live in DynamoDB when a table is configured
	var ledger promo.Ledger = promo.NewMemoryLedger(promo.DefaultCodes()...)
	if cfg.AWS.PromoTable != "" {
		ledger = promo.NewDynamoLedger(clients.DynamoDB, cfg.AWS.PromoTable)
	}

	ordersStore := orders.NewStore(clients.DynamoDB, cfg.AWS.OrdersTable)
	guard := inflight.NewGuard(rdb, cfg.Redis.InFlightTTL)
	recorder := metrics.NewRecorder(clients.CloudWatch, cfg.AWS.MetricsNamespace, logger)

	cartEngine := pricing.NewEngine(pricing.Policy{
		FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
		FlatShippingFee:       cfg.Pricing.CartShippingFee,
		TaxRate:               cfg.Pricing.TaxRate,
	})
	checkoutEngine := pricing.NewEngine(pricing.Policy{
		FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
		FlatShippingFee:       cfg.Pricing.CheckoutShippingFee,
		TaxRate:               cfg.Pricing.TaxRate,
	})

	hc := handlers.HandlerConfig{
		Ledger:     ledger,
		CartEngine: cartEngine,
		Checkout: checkout.NewService(checkout.Config{
			Ledger: ledger,
			Engine: checkoutEngine,
			Gateway: gateway.NewClient(gateway.Config{
				BaseURL:   cfg.Gateway.BaseURL,
				KeyID:     cfg.Gateway.KeyID,
				KeySecret: cfg.Gateway.KeySecret,
				Timeout:   cfg.Gateway.Timeout,
			}, logger),
			Orders:      ordersStore,
			Idempotency: idempotency.NewStore(clients.DynamoDB, cfg.AWS.IdempotencyTable, cfg.AWS.IdempotencyWindow),
			Guard:       guard,
			Audit:       auditLog,
			Metrics:     recorder,
			Currency:    cfg.Pricing.Currency,
			Logger:      logger,
		}),
		Verifier: payment.NewVerifier(payment.Config{
			Secret:    cfg.Gateway.KeySecret,
			Orders:    ordersStore,
			Guard:     guard,
			Publisher: aws.NewPublisher(clients.SQS, cfg.AWS.SettlementQueue),
			Audit:     auditLog,
			Metrics:   recorder,
			Logger:    logger,
		}),
		Orders:      ordersStore,
		Fulfillment: fulfillment.NewService(ordersStore, auditLog, recorder, logger),
		Widget: gateway.WidgetConfig{
			Key:        cfg.Gateway.KeyID,
			ScriptURL:  cfg.Gateway.ScriptURL,
			ThemeColor: cfg.Gateway.ThemeColor,
		},
		Currency: cfg.Pricing.Currency,
		Logger:   logger,
	}
	return hc, cleanup, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel)

	hc, cleanup, err := buildHandlerConfig(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("failed to init dependencies: %v", err)
	}
	defer cleanup()

	r := setupRouter(hc)

	// if RUN_LOCAL is true, run a local HTTP server for development.
	if cfg.RunLocal {
		addr := ":" + cfg.Port
		logger.Info("running local server", "addr", addr)
		if err := r.Run(addr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
