package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-settlement/internal/payment"
	"github.com/imrishuroy/go-checkout-settlement/internal/validation"
)

func verifyPayment(cfg HandlerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.VerifyRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			return
		}

		res, err := cfg.Verifier.Verify(c.Request.Context(), currentSession(c), payment.Request{
			GatewayOrderID:   req.GatewayOrderID,
			GatewayPaymentID: req.GatewayPaymentID,
			Signature:        req.Signature,
			LocalOrderRef:    req.OrderID,
		})
		if errors.Is(err, payment.ErrSignatureMismatch) || errors.Is(err, payment.ErrVerificationFailed) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":       "payment_verification_failed",
				"success":     false,
				"orderId":     res.OrderID,
				"redirectUrl": res.RedirectURL,
				"reason":      res.Reason,
			})
			return
		}
		if err != nil {
			writeError(c, cfg.Logger, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
