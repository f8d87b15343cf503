package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-settlement/internal/checkout"
	"github.com/imrishuroy/go-checkout-settlement/internal/validation"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

// validateAddress lets the form check a step before submitting the order.
func validateAddress(cfg HandlerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var addr validation.Address
		if err := c.ShouldBindJSON(&addr); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "detail": err.Error()})
			return
		}
		if err := validation.ValidateAddress(addr); err != nil {
			writeError(c, cfg.Logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"valid": true, "address": addr.Normalized()})
	}
}

func checkoutConfig(cfg HandlerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"key":        cfg.Widget.Key,
			"scriptUrl":  cfg.Widget.ScriptURL,
			"themeColor": cfg.Widget.ThemeColor,
			"currency":   cfg.Currency,
		})
	}
}

func createOrder(cfg HandlerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Require idempotency key header
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
			return
		}

		var req validation.CheckoutRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			return
		}

		res, err := cfg.Checkout.BeginCheckout(c.Request.Context(), currentSession(c), key, checkout.Request{
			Items:     req.Items,
			Address:   req.ShippingAddress,
			PromoCode: req.PromoCode,
		})
		if err != nil {
			writeError(c, cfg.Logger, err)
			return
		}

		if res.Replayed {
			c.Header(HeaderReplayed, "true")
		}
		c.Header("Location", fmt.Sprintf("/orders/%s", res.OrderID))
		c.JSON(http.StatusCreated, res)
	}
}

// dismissCheckout records that the buyer closed the widget. It is not an error.
func dismissCheckout(cfg HandlerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.DismissRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			return
		}

		if err := cfg.Checkout.Abandon(c.Request.Context(), currentSession(c), req.OrderID, req.GatewayOrderID); err != nil {
			writeError(c, cfg.Logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orderId": req.OrderID, "status": "dismissed"})
	}
}
