package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/imrishuroy/go-checkout-settlement/internal/pricing"
)

// Fingerprint identifies a checkout attempt by buyer, cart contents, promo
// and total. Item order does not matter.
func Fingerprint(userID string, items []pricing.LineItem, promoCode string, total pricing.Amount) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("%s:%d:%d", it.ProductID, it.Quantity, it.UnitPrice))
	}
	sort.Strings(lines)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s", userID, promoCode, total, strings.Join(lines, ","))
	return hex.EncodeToString(h.Sum(nil))
}
