package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-checkout-settlement/internal/checkout"
	"github.com/imrishuroy/go-checkout-settlement/internal/fulfillment"
	"github.com/imrishuroy/go-checkout-settlement/internal/gateway"
	"github.com/imrishuroy/go-checkout-settlement/internal/idempotency"
	"github.com/imrishuroy/go-checkout-settlement/internal/orders"
	"github.com/imrishuroy/go-checkout-settlement/internal/payment"
	"github.com/imrishuroy/go-checkout-settlement/internal/pricing"
	"github.com/imrishuroy/go-checkout-settlement/internal/promo"
	"github.com/imrishuroy/go-checkout-settlement/internal/session"
	"github.com/imrishuroy/go-checkout-settlement/internal/validation"
)

// HandlerConfig groups dependencies for the storefront API.
type HandlerConfig struct {
	Validator   *validatorv10.Validate
	Ledger      promo.Ledger
	CartEngine  *pricing.Engine
	Checkout    *checkout.Service
	Verifier    *payment.Verifier
	Orders      *orders.Store
	Fulfillment *fulfillment.Service
	Widget      gateway.WidgetConfig
	Currency    string
	Logger      *slog.Logger
}

// RegisterRoutes registers the cart, checkout, payment and order routes.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	if cfg.Validator == nil {
		cfg.Validator = validation.New()
	}

	r.POST("/cart/summary", cartSummary(cfg))
	r.GET("/promo/:code", promoLookup(cfg))
	r.POST("/checkout/address/validate", validateAddress(cfg))
	r.GET("/checkout/config", checkoutConfig(cfg))

	authed := r.Group("/", session.Required())
	authed.POST("/order-create", createOrder(cfg))
	authed.POST("/checkout/dismiss", dismissCheckout(cfg))
	authed.POST("/payment-verify", verifyPayment(cfg))
	authed.GET("/orders/:id", getOrder(cfg))

	admin := authed.Group("/", session.Admin())
	admin.POST("/orders/:id/status", updateStatus(cfg))
}

// writeError maps domain errors onto HTTP responses.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	var verr *validation.ValidationError
	var gwErr *checkout.GatewayCreateError

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "field": verr.Field, "message": verr.Message})
	case errors.Is(err, pricing.ErrQuantityOutOfRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity_out_of_range", "detail": err.Error()})
	case errors.Is(err, pricing.ErrAmountOutOfRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount_out_of_range", "detail": err.Error()})
	case errors.As(err, &gwErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "gateway_unavailable", "detail": gwErr.Error(), "retryable": gwErr.Retryable()})
	case errors.Is(err, checkout.ErrCheckoutInFlight), errors.Is(err, idempotency.ErrInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "checkout_in_flight"})
	case errors.Is(err, checkout.ErrAttemptClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "checkout_attempt_closed", "detail": "start a new checkout"})
	case errors.Is(err, idempotency.ErrKeyReused):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "idempotency_key_reused", "detail": err.Error()})
	case errors.Is(err, orders.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
	case errors.Is(err, checkout.ErrGatewayOrderMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "gateway_order_mismatch"})
	case errors.Is(err, fulfillment.ErrTrackingRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "tracking_number_required"})
	case errors.Is(err, orders.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "illegal_transition", "detail": err.Error()})
	case errors.Is(err, orders.ErrPaymentRequired):
		c.JSON(http.StatusConflict, gin.H{"error": "payment_required", "detail": err.Error()})
	case errors.Is(err, orders.ErrStatusMismatch):
		c.JSON(http.StatusConflict, gin.H{"error": "status_conflict"})
	default:
		logger.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func currentSession(c *gin.Context) session.Session {
	s, _ := session.FromContext(c)
	return s
}
