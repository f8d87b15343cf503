package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/imrishuroy/go-checkout-settlement/internal/pricing"
	"github.com/imrishuroy/go-checkout-settlement/internal/promo"
)

// Quote is a priced cart plus what happened to the promo code.
type Quote struct {
	Summary pricing.Summary
	Promo   *promo.Code
	Message string
}

func (q Quote) PromoCode() string {
	if q.Promo == nil {
		return ""
	}
	return q.Promo.Code
}

// Price resolves promoCode and prices items with engine. An unknown code is
// not an error: the quote carries no discount and a message saying why.
func Price(ctx context.Context, ledger promo.Ledger, engine *pricing.Engine, items []pricing.LineItem, promoCode string) (Quote, error) {
	var q Quote
	if code := promo.Normalize(promoCode); code != "" {
		found, err := ledger.Lookup(ctx, code)
		switch {
		case errors.Is(err, promo.ErrInvalidPromoCode):
			q.Message = "Invalid promo code"
		case err != nil:
			return Quote{}, fmt.Errorf("lookup promo: %w", err)
		default:
			q.Promo = &found
			q.Message = "Promo code applied"
		}
	}
	q.Summary = engine.Compute(items, q.Promo)
	return q, nil
}
