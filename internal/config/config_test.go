package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("GATEWAY_KEY_ID", "rzp_test_key")
	t.Setenv("GATEWAY_KEY_SECRET", "shhh")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.False(t, cfg.RunLocal)
	assert.Equal(t, "INR", cfg.Pricing.Currency)
	assert.Equal(t, "0.18", cfg.Pricing.TaxRate.String())
	assert.Equal(t, int64(10000), cfg.Pricing.FreeShippingThreshold)
	assert.Equal(t, int64(150), cfg.Pricing.CartShippingFee)
	assert.Equal(t, int64(50), cfg.Pricing.CheckoutShippingFee)
	assert.Equal(t, 30*time.Second, cfg.Redis.InFlightTTL)
	assert.Equal(t, 48*time.Hour, cfg.AWS.IdempotencyWindow)
	assert.Empty(t, cfg.AWS.PromoTable)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("RUN_LOCAL", "true")
	t.Setenv("CHECKOUT_SHIPPING_FEE", "150")
	t.Setenv("INFLIGHT_TTL", "5s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.RunLocal)
	assert.Equal(t, int64(150), cfg.Pricing.CheckoutShippingFee)
	assert.Equal(t, 5*time.Second, cfg.Redis.InFlightTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_MissingGatewayCredentials(t *testing.T) {
	t.Setenv("GATEWAY_KEY_ID", "")
	t.Setenv("GATEWAY_KEY_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GATEWAY_KEY_ID")
}

func TestLoad_RejectsBadTaxRate(t *testing.T) {
	setRequired(t)

	t.Setenv("TAX_RATE", "abc")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("TAX_RATE", "1.5")
	_, err = Load()
	require.Error(t, err)
}

func TestLoad_RejectsUnknownLogLevel(t *testing.T) {
	setRequired(t)
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadWorker_NoGatewayCredentialsNeeded(t *testing.T) {
	t.Setenv("GATEWAY_KEY_ID", "")
	t.Setenv("GATEWAY_KEY_SECRET", "")
	t.Setenv("ORDERS_TABLE", "orders-prod")

	cfg, err := LoadWorker()
	require.NoError(t, err)
	assert.Equal(t, "orders-prod", cfg.AWS.OrdersTable)

	t.Setenv("LOG_LEVEL", "verbose")
	_, err = LoadWorker()
	require.Error(t, err)
}
