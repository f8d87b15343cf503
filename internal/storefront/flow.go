// Package storefront drives one buyer through checkout: price, create the
// order, open the hosted widget and hand its callback back to the API.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-checkout-settlement/internal/checkout"
	"github.com/imrishuroy/go-checkout-settlement/internal/gateway"
	"github.com/imrishuroy/go-checkout-settlement/internal/payment"
	"github.com/imrishuroy/go-checkout-settlement/internal/session"
	"github.com/imrishuroy/go-checkout-settlement/internal/validation"
)

// ErrBusy is returned while a previous pay action is still in flight.
var ErrBusy = errors.New("checkout already processing")

type Status string

const (
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusDismissed Status = "dismissed"
)

// Outcome is where the buyer ends up. A dismissed checkout has no redirect;
// the buyer stays on the checkout page and may try again.
type Outcome struct {
	Status      Status
	OrderID     string
	RedirectURL string
}

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Session    session.Session
	Loader     *gateway.ScriptLoader
	Widget     gateway.Widget
	StoreName  string
	Logger     *slog.Logger
}

type Flow struct {
	api       *client
	loader    *gateway.ScriptLoader
	widget    gateway.Widget
	storeName string
	logger    *slog.Logger

	processing atomic.Bool
	newKey     func() string

	mu        sync.Mutex
	widgetCfg *gateway.WidgetConfig
}

func NewFlow(cfg Config) *Flow {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Flow{
		api:       &client{baseURL: cfg.BaseURL, http: hc, session: cfg.Session},
		loader:    cfg.Loader,
		widget:    cfg.Widget,
		storeName: cfg.StoreName,
		logger:    cfg.Logger,
		newKey:    uuid.NewString,
	}
}

// Processing reports whether the pay action should be disabled.
func (f *Flow) Processing() bool {
	return f.processing.Load()
}

func (f *Flow) FetchCart(ctx context.Context) (*Cart, error) {
	var cart Cart
	if err := f.api.do(ctx, http.MethodGet, "/cart", nil, nil, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (f *Flow) FetchProfile(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := f.api.do(ctx, http.MethodGet, "/user/profile", nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Checkout runs one pay attempt. Only one attempt runs at a time; the
// processing flag is cleared however the attempt ends.
func (f *Flow) Checkout(ctx context.Context, addr validation.Address, promoCode string) (*Outcome, error) {
	if !f.processing.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer f.processing.Store(false)

	if err := validation.ValidateAddress(addr); err != nil {
		return nil, err
	}

	cart, err := f.FetchCart(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch cart: %w", err)
	}
	if len(cart.Items) == 0 {
		return nil, &validation.ValidationError{Field: "items", Message: "Cart is empty"}
	}
	if promoCode == "" {
		promoCode = cart.PromoCode
	}

	if err := f.loader.Load(ctx); err != nil {
		return nil, err
	}
	wc, err := f.widgetConfig(ctx)
	if err != nil {
		return nil, err
	}

	var order checkout.Result
	err = f.api.do(ctx, http.MethodPost, "/order-create",
		map[string]string{"Idempotency-Key": f.newKey()},
		validation.CheckoutRequest{Items: cart.Items, ShippingAddress: addr, PromoCode: promoCode},
		&order,
	)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	sess := gateway.NewSession()
	if err := f.widget.Open(ctx, f.options(ctx, wc, &order, addr), sess); err != nil {
		return nil, fmt.Errorf("open checkout: %w", err)
	}
	out, err := sess.Await(ctx)
	if err != nil {
		return nil, err
	}

	switch out.Kind {
	case gateway.OutcomeSettled:
		return f.verify(ctx, order.OrderID, out.Settlement)
	case gateway.OutcomeAbandoned:
		return f.dismiss(ctx, order)
	}
	return nil, fmt.Errorf("unexpected checkout outcome %s", out.Kind)
}

func (f *Flow) verify(ctx context.Context, orderID string, st gateway.Settlement) (*Outcome, error) {
	var res payment.Result
	err := f.api.do(ctx, http.MethodPost, "/payment-verify", nil, validation.VerifyRequest{
		GatewayOrderID:   st.GatewayOrderID,
		GatewayPaymentID: st.GatewayPaymentID,
		Signature:        st.Signature,
		OrderID:          orderID,
	}, &res)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == "payment_verification_failed" {
		f.logger.WarnContext(ctx, "payment verification failed", "order_id", orderID, "error", apiErr)
		return &Outcome{Status: StatusFailed, OrderID: orderID, RedirectURL: payment.FailurePath}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	return &Outcome{Status: StatusPaid, OrderID: orderID, RedirectURL: res.RedirectURL}, nil
}

func (f *Flow) dismiss(ctx context.Context, order checkout.Result) (*Outcome, error) {
	err := f.api.do(ctx, http.MethodPost, "/checkout/dismiss", nil, validation.DismissRequest{
		OrderID:        order.OrderID,
		GatewayOrderID: order.GatewayOrderID,
	}, nil)
	if err != nil {
		// the dismissal is informational; the buyer can still retry
		f.logger.WarnContext(ctx, "record dismissal failed", "order_id", order.OrderID, "error", err)
	}
	return &Outcome{Status: StatusDismissed, OrderID: order.OrderID}, nil
}

func (f *Flow) widgetConfig(ctx context.Context) (gateway.WidgetConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.widgetCfg != nil {
		return *f.widgetCfg, nil
	}
	var wc gateway.WidgetConfig
	if err := f.api.do(ctx, http.MethodGet, "/checkout/config", nil, nil, &wc); err != nil {
		return wc, fmt.Errorf("fetch checkout config: %w", err)
	}
	f.widgetCfg = &wc
	return wc, nil
}

// options builds the widget options, prefilled from the profile when the
// profile service answers and from the address otherwise.
func (f *Flow) options(ctx context.Context, wc gateway.WidgetConfig, order *checkout.Result, addr validation.Address) gateway.Options {
	prefill := gateway.Prefill{
		Name:    addr.FirstName + " " + addr.LastName,
		Email:   addr.Email,
		Contact: validation.PhoneDigits(addr.Phone),
	}
	if p, err := f.FetchProfile(ctx); err == nil {
		if p.Name != "" {
			prefill.Name = p.Name
		}
		if p.Email != "" {
			prefill.Email = p.Email
		}
		if p.Phone != "" {
			prefill.Contact = p.Phone
		}
	} else {
		f.logger.DebugContext(ctx, "profile unavailable for prefill", "error", err)
	}

	return gateway.Options{
		Key:         wc.Key,
		Amount:      order.Amount,
		Currency:    order.Currency,
		Name:        f.storeName,
		Description: "Order " + order.OrderNumber,
		OrderID:     order.GatewayOrderID,
		Prefill:     prefill,
		Theme:       gateway.Theme{Color: wc.ThemeColor},
	}
}
