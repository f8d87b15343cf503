package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-settlement/internal/checkout"
	"github.com/imrishuroy/go-checkout-settlement/internal/pricing"
	"github.com/imrishuroy/go-checkout-settlement/internal/promo"
	"github.com/imrishuroy/go-checkout-settlement/internal/validation"
)

// cartSummary reprices the cart on every mutation with the cart shipping policy.
func cartSummary(cfg HandlerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.SummaryRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			return
		}

		if err := pricing.ValidateItems(req.Items); err != nil {
			writeError(c, cfg.Logger, err)
			return
		}

		quote, err := checkout.Price(c.Request.Context(), cfg.Ledger, cfg.CartEngine, req.Items, req.PromoCode)
		if err != nil {
			writeError(c, cfg.Logger, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"summary":      quote.Summary,
			"promoCode":    quote.PromoCode(),
			"promoApplied": quote.Promo != nil,
			"promoMessage": quote.Message,
		})
	}
}

func promoLookup(cfg HandlerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		code, err := cfg.Ledger.Lookup(c.Request.Context(), promo.Normalize(c.Param("code")))
		if errors.Is(err, promo.ErrInvalidPromoCode) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invalid_promo_code", "message": "Invalid promo code"})
			return
		}
		if err != nil {
			writeError(c, cfg.Logger, err)
			return
		}
		c.JSON(http.StatusOK, code)
	}
}
