package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-settlement/internal/audit"
	"github.com/imrishuroy/go-checkout-settlement/internal/aws/awstest"
	"github.com/imrishuroy/go-checkout-settlement/internal/gateway"
	"github.com/imrishuroy/go-checkout-settlement/internal/idempotency"
	"github.com/imrishuroy/go-checkout-settlement/internal/inflight"
	"github.com/imrishuroy/go-checkout-settlement/internal/metrics"
	"github.com/imrishuroy/go-checkout-settlement/internal/orders"
	"github.com/imrishuroy/go-checkout-settlement/internal/pricing"
	"github.com/imrishuroy/go-checkout-settlement/internal/promo"
	"github.com/imrishuroy/go-checkout-settlement/internal/session"
	"github.com/imrishuroy/go-checkout-settlement/internal/validation"
)

type fakeGateway struct {
	mu     sync.Mutex
	calls  []gateway.CreateOrderInput
	err    error
	amount int64
}

func (f *fakeGateway) CreateOrder(ctx context.Context, in gateway.CreateOrderInput) (*gateway.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	if f.err != nil {
		return nil, f.err
	}
	amount := in.Amount
	if f.amount != 0 {
		amount = f.amount
	}
	return &gateway.Order{ID: "order_gw_" + in.Receipt, Amount: amount, Currency: in.Currency, Receipt: in.Receipt, Status: "created"}, nil
}

func (f *fakeGateway) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type harness struct {
	svc     *Service
	gw      *fakeGateway
	dynamo  *awstest.FakeDynamo
	orders  *orders.Store
	idem    *idempotency.Store
	redis   *miniredis.Miniredis
	audit   *audit.Log
	metrics *awstest.FakeCloudWatch
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dynamo := awstest.NewFakeDynamo()
	dynamo.CreateTable("orders", "order_id")
	dynamo.CreateTable("idempotency", "idempotency_key")

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	auditLog, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditLog.Close() })

	cw := &awstest.FakeCloudWatch{}
	gw := &fakeGateway{}
	ordersStore := orders.NewStore(dynamo, "orders")
	idem := idempotency.NewStore(dynamo, "idempotency", time.Hour)

	svc := NewService(Config{
		Ledger:      promo.NewMemoryLedger(promo.DefaultCodes()...),
		Engine:      pricing.NewEngine(pricing.CheckoutPolicy()),
		Gateway:     gw,
		Orders:      ordersStore,
		Idempotency: idem,
		Guard:       inflight.NewGuard(client, time.Minute),
		Audit:       auditLog,
		Metrics:     metrics.NewRecorder(cw, "Checkout", logger),
		Currency:    "INR",
		Logger:      logger,
	})

	return &harness{svc: svc, gw: gw, dynamo: dynamo, orders: ordersStore, idem: idem, redis: mr, audit: auditLog, metrics: cw}
}

var buyer = session.Session{UserID: "user-1", Email: "asha@example.com", Name: "Asha Rao"}

func validRequest() Request {
	return Request{
		Items: []pricing.LineItem{
			{ProductID: "gps-1", ProductName: "Tracker", UnitPrice: 4500, OriginalPrice: 5000, Quantity: 2, MaxQuantity: 5},
		},
		Address: validation.Address{
			FirstName: "Asha", LastName: "Rao", Email: "asha@example.com", Phone: "9876543210",
			Street: "12 MG Road", City: "Bengaluru", State: "Karnataka", Pincode: "560001",
		},
		PromoCode: "flat500",
	}
}

func TestBeginCheckout_Success(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.BeginCheckout(ctx, buyer, "key-1", validRequest())
	require.NoError(t, err)

	want := pricing.Summary{Subtotal: 9000, Savings: 1000, Discount: 500, ShippingCost: 50, Tax: 1530, Total: 10080}
	assert.Equal(t, want, res.Summary)
	assert.Equal(t, int64(1008000), res.Amount)
	assert.Equal(t, "INR", res.Currency)
	assert.True(t, res.PromoApplied)
	assert.Equal(t, "FLAT500", res.PromoCode)
	assert.Regexp(t, `^ORD-[0-9A-Z]{26}$`, res.OrderNumber)
	assert.False(t, res.Replayed)

	require.Equal(t, 1, h.gw.count())
	assert.Equal(t, res.OrderNumber, h.gw.calls[0].Receipt)
	assert.Equal(t, int64(1008000), h.gw.calls[0].Amount)

	order, err := h.orders.Get(ctx, res.OrderID)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, orders.StatusPending, order.Status)
	assert.Equal(t, orders.PaymentPending, order.PaymentStatus)
	assert.Equal(t, orders.PaymentMethodGateway, order.PaymentMethod)
	assert.Equal(t, res.GatewayOrderID, order.GatewayOrderID)
	assert.Equal(t, want, order.Summary())
	assert.Equal(t, "India", order.ShippingAddress.Country)
	assert.Equal(t, "user-1", order.UserID)

	rec, err := h.idem.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusDone, rec.Status)

	assert.True(t, h.redis.Exists("checkout:inflight:"+order.CheckoutFingerprint))
	assert.Equal(t, 1, h.metrics.MetricCount(metrics.OrderCreated))

	history, err := h.audit.History(ctx, res.OrderID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, audit.EventCreated, history[0].Event)
}

func TestBeginCheckout_InvalidAddressNeverCallsGateway(t *testing.T) {
	h := newHarness(t)
	req := validRequest()
	req.Address.Pincode = "5600"

	_, err := h.svc.BeginCheckout(context.Background(), buyer, "key-1", req)

	var ve *validation.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "pincode", ve.Field)
	assert.Equal(t, 0, h.gw.count())
	assert.Equal(t, 0, h.dynamo.Len("orders"))
	assert.Equal(t, 0, h.dynamo.Len("idempotency"))
}

func TestBeginCheckout_RejectsBadQuantity(t *testing.T) {
	h := newHarness(t)
	req := validRequest()
	req.Items[0].Quantity = 6

	_, err := h.svc.BeginCheckout(context.Background(), buyer, "key-1", req)

	assert.ErrorIs(t, err, pricing.ErrQuantityOutOfRange)
	assert.Equal(t, 0, h.gw.count())
}

func TestBeginCheckout_EmptyCart(t *testing.T) {
	h := newHarness(t)
	req := validRequest()
	req.Items = nil

	_, err := h.svc.BeginCheckout(context.Background(), buyer, "key-1", req)

	var ve *validation.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "items", ve.Field)
}

func TestBeginCheckout_GatewayFailurePersistsNothing(t *testing.T) {
	h := newHarness(t)
	h.gw.err = errors.New("connection reset")
	ctx := context.Background()

	_, err := h.svc.BeginCheckout(ctx, buyer, "key-1", validRequest())

	var gce *GatewayCreateError
	require.True(t, errors.As(err, &gce))
	assert.True(t, gce.Retryable())
	assert.Equal(t, 0, h.dynamo.Len("orders"))

	rec, err := h.idem.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusFailed, rec.Status)

	// retrying the same key once the gateway recovers goes through
	h.gw.err = nil
	res, err := h.svc.BeginCheckout(ctx, buyer, "key-1", validRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, 1, h.dynamo.Len("orders"))
}

func TestBeginCheckout_ReplaysSameKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.BeginCheckout(ctx, buyer, "key-1", validRequest())
	require.NoError(t, err)

	second, err := h.svc.BeginCheckout(ctx, buyer, "key-1", validRequest())
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.GatewayOrderID, second.GatewayOrderID)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, 1, h.gw.count())
	assert.Equal(t, 1, h.dynamo.Len("orders"))
}

func TestBeginCheckout_FailedAttemptIsNotReplayed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.BeginCheckout(ctx, buyer, "key-1", validRequest())
	require.NoError(t, err)
	_, err = h.orders.MarkPaymentFailed(ctx, first.OrderID, "signature mismatch")
	require.NoError(t, err)

	res, err := h.svc.BeginCheckout(ctx, buyer, "key-1", validRequest())
	assert.ErrorIs(t, err, ErrAttemptClosed)
	assert.Nil(t, res)
	assert.Equal(t, 1, h.gw.count())

	// the verifier frees the cart lock when it fails a payment
	h.redis.FlushAll()

	// a fresh key gets a fresh gateway order
	next, err := h.svc.BeginCheckout(ctx, buyer, "key-2", validRequest())
	require.NoError(t, err)
	assert.NotEqual(t, first.GatewayOrderID, next.GatewayOrderID)
	assert.Equal(t, 2, h.gw.count())
}

func TestBeginCheckout_GatewayAmountMismatch(t *testing.T) {
	h := newHarness(t)
	h.gw.amount = 999
	ctx := context.Background()

	_, err := h.svc.BeginCheckout(ctx, buyer, "key-1", validRequest())

	var gce *GatewayCreateError
	require.ErrorAs(t, err, &gce)
	assert.ErrorIs(t, err, ErrGatewayAmountMismatch)
	assert.Equal(t, 0, h.dynamo.Len("orders"))

	rec, err := h.idem.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusFailed, rec.Status)

	// the cart lock was released, so a corrected gateway lets the buyer retry
	h.gw.amount = 0
	_, err = h.svc.BeginCheckout(ctx, buyer, "key-2", validRequest())
	require.NoError(t, err)
}

func TestBeginCheckout_RejectsOversizedCart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, items := range [][]pricing.LineItem{
		{{ProductID: "huge", ProductName: "Tracker", UnitPrice: 5_000_000_000_000_000_000, Quantity: 2, MaxQuantity: 5}},
		{{ProductID: "dear", ProductName: "Tracker", UnitPrice: 100_000_000_000_000_000, Quantity: 1, MaxQuantity: 5}},
	} {
		req := validRequest()
		req.Items = items

		_, err := h.svc.BeginCheckout(ctx, buyer, "key-1", req)

		var ve *validation.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "items", ve.Field)
	}
	assert.Equal(t, 0, h.gw.count())
}

func TestBeginCheckout_DoubleSubmitBlocked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.BeginCheckout(ctx, buyer, "key-1", validRequest())
	require.NoError(t, err)

	_, err = h.svc.BeginCheckout(ctx, buyer, "key-2", validRequest())
	assert.ErrorIs(t, err, ErrCheckoutInFlight)
	assert.Equal(t, 1, h.gw.count())
	assert.Equal(t, 1, h.dynamo.Len("orders"))

	rec, err := h.idem.Get(ctx, "key-2")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusFailed, rec.Status)
}

func TestBeginCheckout_InvalidPromoIsNotFatal(t *testing.T) {
	h := newHarness(t)
	req := validRequest()
	req.PromoCode = "BOGUS"

	res, err := h.svc.BeginCheckout(context.Background(), buyer, "key-1", req)
	require.NoError(t, err)

	assert.False(t, res.PromoApplied)
	assert.Equal(t, "Invalid promo code", res.PromoMessage)
	assert.Equal(t, int64(0), res.Summary.Discount)
	assert.True(t, res.Summary.Balanced())
}

func TestAbandon_ReleasesCartAndKeepsPaymentPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.BeginCheckout(ctx, buyer, "key-1", validRequest())
	require.NoError(t, err)

	require.NoError(t, h.svc.Abandon(ctx, buyer, res.OrderID, res.GatewayOrderID))

	order, err := h.orders.Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, order.Status)
	assert.Equal(t, orders.PaymentPending, order.PaymentStatus)
	assert.Equal(t, 1, order.AbandonCount)
	assert.False(t, h.redis.Exists("checkout:inflight:"+order.CheckoutFingerprint))
	assert.Equal(t, 1, h.metrics.MetricCount(metrics.PaymentAbandoned))

	// buyer retries: a fresh key opens a fresh gateway order
	again, err := h.svc.BeginCheckout(ctx, buyer, "key-2", validRequest())
	require.NoError(t, err)
	assert.NotEqual(t, res.GatewayOrderID, again.GatewayOrderID)
}

func TestAbandon_ForeignOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.BeginCheckout(ctx, buyer, "key-1", validRequest())
	require.NoError(t, err)

	other := session.Session{UserID: "user-2"}
	assert.ErrorIs(t, h.svc.Abandon(ctx, other, res.OrderID, res.GatewayOrderID), orders.ErrNotFound)
	assert.ErrorIs(t, h.svc.Abandon(ctx, buyer, "missing", res.GatewayOrderID), orders.ErrNotFound)
	assert.ErrorIs(t, h.svc.Abandon(ctx, buyer, res.OrderID, "order_other"), ErrGatewayOrderMismatch)
}

func TestAbandon_AfterPaymentIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.BeginCheckout(ctx, buyer, "key-1", validRequest())
	require.NoError(t, err)
	_, err = h.orders.MarkPaid(ctx, res.OrderID, res.GatewayOrderID, "pay_1")
	require.NoError(t, err)

	require.NoError(t, h.svc.Abandon(ctx, buyer, res.OrderID, res.GatewayOrderID))

	order, err := h.orders.Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, order.PaymentStatus)
	assert.Equal(t, 0, order.AbandonCount)
	assert.Equal(t, 0, h.metrics.MetricCount(metrics.PaymentAbandoned))
}

func TestFingerprint(t *testing.T) {
	a := pricing.LineItem{ProductID: "a", UnitPrice: 100, Quantity: 1}
	b := pricing.LineItem{ProductID: "b", UnitPrice: 200, Quantity: 2}

	assert.Equal(t, Fingerprint("u", []pricing.LineItem{a, b}, "", 500), Fingerprint("u", []pricing.LineItem{b, a}, "", 500))
	assert.NotEqual(t, Fingerprint("u", []pricing.LineItem{a, b}, "", 500), Fingerprint("v", []pricing.LineItem{a, b}, "", 500))
	assert.NotEqual(t, Fingerprint("u", []pricing.LineItem{a, b}, "", 500), Fingerprint("u", []pricing.LineItem{a, b}, "SAVE10", 500))
}

func TestPrice(t *testing.T) {
	ledger := promo.NewMemoryLedger(promo.DefaultCodes()...)
	engine := pricing.NewEngine(pricing.CartPolicy())
	items := []pricing.LineItem{{ProductID: "a", UnitPrice: 2500, OriginalPrice: 2500, Quantity: 2, MaxQuantity: 5}}

	q, err := Price(context.Background(), ledger, engine, items, " save10 ")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", q.PromoCode())
	assert.Equal(t, int64(5460), q.Summary.Total)

	q, err = Price(context.Background(), ledger, engine, items, "")
	require.NoError(t, err)
	assert.Nil(t, q.Promo)
	assert.Empty(t, q.Message)
}
