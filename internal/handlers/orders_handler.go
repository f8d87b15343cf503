package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-settlement/internal/orders"
	"github.com/imrishuroy/go-checkout-settlement/internal/validation"
)

// getOrder returns an order to its owner. Admins may read any order.
func getOrder(cfg HandlerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := currentSession(c)

		o, err := cfg.Orders.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, cfg.Logger, err)
			return
		}
		if o == nil || (o.UserID != sess.UserID && !sess.IsAdmin()) {
			writeError(c, cfg.Logger, orders.ErrNotFound)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

func updateStatus(cfg HandlerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.StatusRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			return
		}

		o, err := cfg.Fulfillment.Advance(c.Request.Context(), currentSession(c).UserID, c.Param("id"), orders.Status(req.Status), req.TrackingNumber)
		if err != nil {
			writeError(c, cfg.Logger, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}
