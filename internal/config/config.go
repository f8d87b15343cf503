package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the checkout service.
// Everything is read from environment variables.
type Config struct {
	RunLocal bool
	Port     string
	LogLevel string

	AWS       AWSConfig
	Redis     RedisConfig
	Gateway   GatewayConfig
	Pricing   PricingConfig
	AuditPath string
}

type AWSConfig struct {
	Region            string
	EndpointOverride  string
	OrdersTable       string
	IdempotencyTable  string
	PromoTable        string
	SettlementQueue   string
	MetricsNamespace  string
	IdempotencyWindow time.Duration
}

type RedisConfig struct {
	Addr        string
	InFlightTTL time.Duration
}

type GatewayConfig struct {
	BaseURL    string
	KeyID      string
	KeySecret  string
	ScriptURL  string
	ThemeColor string
	Timeout    time.Duration
}

// PricingConfig carries the two shipping policies; the cart page and the
// checkout page charge different flat fees below the same threshold.
type PricingConfig struct {
	Currency              string
	TaxRate               decimal.Decimal
	FreeShippingThreshold int64
	CartShippingFee       int64
	CheckoutShippingFee   int64
}

// Load reads configuration for the API from environment variables
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadWorker reads configuration for the fulfillment worker, which never
// talks to the gateway.
func LoadWorker() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if cfg.AWS.OrdersTable == "" {
		return nil, fmt.Errorf("invalid configuration: ORDERS_TABLE is required")
	}
	if err := validateLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func read() (*Config, error) {
	taxRate, err := decimal.NewFromString(getEnv("TAX_RATE", "0.18"))
	if err != nil {
		return nil, fmt.Errorf("invalid TAX_RATE: %w", err)
	}

	cfg := &Config{
		RunLocal: getEnv("RUN_LOCAL", "false") == "true",
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		AWS: AWSConfig{
			Region:            getEnv("AWS_REGION", "ap-south-1"),
			EndpointOverride:  os.Getenv("AWS_ENDPOINT_OVERRIDE"),
			OrdersTable:       getEnv("ORDERS_TABLE", "orders"),
			IdempotencyTable:  getEnv("IDEMPOTENCY_TABLE", "idempotency"),
			PromoTable:        os.Getenv("PROMO_TABLE"),
			SettlementQueue:   os.Getenv("SETTLEMENT_QUEUE_URL"),
			MetricsNamespace:  getEnv("METRICS_NAMESPACE", "Checkout"),
			IdempotencyWindow: getEnvAsDuration("IDEMPOTENCY_TTL", 48*time.Hour),
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", "localhost:6379"),
			InFlightTTL: getEnvAsDuration("INFLIGHT_TTL", 30*time.Second),
		},
		Gateway: GatewayConfig{
			BaseURL:    getEnv("GATEWAY_BASE_URL", "https://api.razorpay.com"),
			KeyID:      os.Getenv("GATEWAY_KEY_ID"),
			KeySecret:  os.Getenv("GATEWAY_KEY_SECRET"),
			ScriptURL:  getEnv("GATEWAY_SCRIPT_URL", "https://checkout.razorpay.com/v1/checkout.js"),
			ThemeColor: getEnv("GATEWAY_THEME_COLOR", "#0f766e"),
			Timeout:    getEnvAsDuration("GATEWAY_TIMEOUT", 10*time.Second),
		},
		Pricing: PricingConfig{
			Currency:              getEnv("CURRENCY", "INR"),
			TaxRate:               taxRate,
			FreeShippingThreshold: getEnvAsInt64("FREE_SHIPPING_THRESHOLD", 10000),
			CartShippingFee:       getEnvAsInt64("CART_SHIPPING_FEE", 150),
			CheckoutShippingFee:   getEnvAsInt64("CHECKOUT_SHIPPING_FEE", 50),
		},
		AuditPath: os.Getenv("AUDIT_DB_PATH"),
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.AWS.OrdersTable == "" || c.AWS.IdempotencyTable == "" {
		return fmt.Errorf("ORDERS_TABLE and IDEMPOTENCY_TABLE are required")
	}
	if c.Gateway.KeyID == "" || c.Gateway.KeySecret == "" {
		return fmt.Errorf("GATEWAY_KEY_ID and GATEWAY_KEY_SECRET are required")
	}
	if c.Pricing.TaxRate.IsNegative() || c.Pricing.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("TAX_RATE must be in [0, 1), got %s", c.Pricing.TaxRate)
	}
	if c.Pricing.FreeShippingThreshold < 0 || c.Pricing.CartShippingFee < 0 || c.Pricing.CheckoutShippingFee < 0 {
		return fmt.Errorf("shipping threshold and fees must not be negative")
	}

	return validateLogLevel(c.LogLevel)
}

func validateLogLevel(level string) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
