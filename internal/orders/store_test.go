package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-settlement/internal/aws/awstest"
	"github.com/imrishuroy/go-checkout-settlement/internal/idempotency"
	"github.com/imrishuroy/go-checkout-settlement/internal/pricing"
)

const (
	ordersTable = "orders"
	idempTable  = "idempotency"
)

func newTestStore(t *testing.T) (*Store, *awstest.FakeDynamo) {
	t.Helper()
	fake := awstest.NewFakeDynamo()
	fake.CreateTable(ordersTable, "order_id")
	fake.CreateTable(idempTable, "idempotency_key")
	return NewStore(fake, ordersTable), fake
}

func pendingOrder(id string) *Order {
	o := &Order{
		OrderID:        id,
		OrderNumber:    "ORD-" + id,
		UserID:         "user-1",
		Items:          []pricing.LineItem{{ProductID: "gps-1", ProductName: "Tracker", UnitPrice: 4500, OriginalPrice: 5000, Quantity: 2, MaxQuantity: 5}},
		Currency:       "INR",
		Status:         StatusPending,
		PaymentStatus:  PaymentPending,
		PaymentMethod:  PaymentMethodGateway,
		GatewayOrderID: "gw_" + id,
	}
	o.ApplySummary(pricing.Summary{Subtotal: 9000, Savings: 1000, Discount: 500, ShippingCost: 50, Tax: 1530, Total: 10080})
	return o
}

func seed(t *testing.T, fake *awstest.FakeDynamo, o *Order) {
	t.Helper()
	item, err := attributevalue.MarshalMap(o)
	require.NoError(t, err)
	fake.Seed(ordersTable, item)
}

func TestCreateWithIdempotencyTransaction(t *testing.T) {
	store, fake := newTestStore(t)
	idem := idempotency.NewStore(fake, idempTable, time.Hour)
	ctx := context.Background()

	_, err := idem.Claim(ctx, "key-1", "hash")
	require.NoError(t, err)

	order := pendingOrder("order-1")
	require.NoError(t, store.CreateWithIdempotencyTransaction(ctx, order, idem.CompleteItem("key-1", order.OrderID, "{}", 201)))

	got, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, order.Summary(), got.Summary())
	assert.True(t, got.Summary().Balanced())
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, PaymentPending, got.PaymentStatus)
	assert.Equal(t, order.Items, got.Items)
	assert.False(t, got.CreatedAt.IsZero())

	rec, err := idem.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusDone, rec.Status)
	assert.Equal(t, "order-1", rec.OrderID)
}

func TestCreateWithIdempotencyTransaction_UnclaimedKeyWritesNothing(t *testing.T) {
	store, fake := newTestStore(t)
	idem := idempotency.NewStore(fake, idempTable, time.Hour)

	order := pendingOrder("order-2")
	err := store.CreateWithIdempotencyTransaction(context.Background(), order, idem.CompleteItem("key-2", order.OrderID, "{}", 201))

	assert.ErrorIs(t, err, ErrIdempotencyConflict)
	assert.Equal(t, 0, fake.Len(ordersTable))
}

func TestGet_Missing(t *testing.T) {
	store, _ := newTestStore(t)

	o, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, o)
}

func TestMarkPaid(t *testing.T) {
	store, fake := newTestStore(t)
	seed(t, fake, pendingOrder("o1"))
	ctx := context.Background()

	got, err := store.MarkPaid(ctx, "o1", "gw_o1", "pay_1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, PaymentPaid, got.PaymentStatus)
	assert.Equal(t, "pay_1", got.GatewayPaymentID)
	require.NotNil(t, got.PaidAt)

	// a second settlement never applies
	_, err = store.MarkPaid(ctx, "o1", "gw_o1", "pay_2")
	assert.ErrorIs(t, err, ErrStatusMismatch)

	stored, err := store.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "pay_1", stored.GatewayPaymentID)
}

func TestMarkPaid_WrongGatewayOrder(t *testing.T) {
	store, fake := newTestStore(t)
	seed(t, fake, pendingOrder("o1"))

	_, err := store.MarkPaid(context.Background(), "o1", "gw_other", "pay_1")
	assert.ErrorIs(t, err, ErrStatusMismatch)
}

func TestMarkPaid_MissingOrderIsNotCreated(t *testing.T) {
	store, fake := newTestStore(t)

	_, err := store.MarkPaid(context.Background(), "ghost", "gw", "pay")
	assert.ErrorIs(t, err, ErrStatusMismatch)
	assert.Equal(t, 0, fake.Len(ordersTable))
}

func TestMarkPaymentFailed_LeavesStatus(t *testing.T) {
	store, fake := newTestStore(t)
	seed(t, fake, pendingOrder("o1"))
	ctx := context.Background()

	got, err := store.MarkPaymentFailed(ctx, "o1", "signature mismatch")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, PaymentFailed, got.PaymentStatus)
	assert.Equal(t, "signature mismatch", got.FailureReason)

	// failed is terminal for the attempt
	_, err = store.MarkPaid(ctx, "o1", "gw_o1", "pay_1")
	assert.ErrorIs(t, err, ErrStatusMismatch)
}

func TestUpdateStatus_RequiresPaid(t *testing.T) {
	store, fake := newTestStore(t)
	o := pendingOrder("o1")
	o.Status = StatusConfirmed // confirmed without payment never happens through MarkPaid
	seed(t, fake, o)

	_, err := store.UpdateStatus(context.Background(), "o1", StatusConfirmed, StatusProcessing, "")
	assert.ErrorIs(t, err, ErrStatusMismatch)
}

func TestUpdateStatus_Fulfillment(t *testing.T) {
	store, fake := newTestStore(t)
	seed(t, fake, pendingOrder("o1"))
	ctx := context.Background()

	_, err := store.MarkPaid(ctx, "o1", "gw_o1", "pay_1")
	require.NoError(t, err)

	_, err = store.UpdateStatus(ctx, "o1", StatusConfirmed, StatusProcessing, "")
	require.NoError(t, err)

	got, err := store.UpdateStatus(ctx, "o1", StatusProcessing, StatusShipped, "TRK123")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, got.Status)
	assert.Equal(t, "TRK123", got.TrackingNumber)

	// stale expectation
	_, err = store.UpdateStatus(ctx, "o1", StatusProcessing, StatusShipped, "")
	assert.ErrorIs(t, err, ErrStatusMismatch)
}

func TestUpdateStatus_IllegalMoves(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpdateStatus(ctx, "o1", StatusPending, StatusConfirmed, "")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = store.UpdateStatus(ctx, "o1", StatusPending, StatusProcessing, "")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestRecordAbandoned(t *testing.T) {
	store, fake := newTestStore(t)
	seed(t, fake, pendingOrder("o1"))
	ctx := context.Background()

	n, err := store.RecordAbandoned(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.RecordAbandoned(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := store.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, got.PaymentStatus)
	assert.Equal(t, StatusPending, got.Status)
}

func TestRecordAbandoned_AfterPayment(t *testing.T) {
	store, fake := newTestStore(t)
	seed(t, fake, pendingOrder("o1"))
	ctx := context.Background()

	_, err := store.MarkPaid(ctx, "o1", "gw_o1", "pay_1")
	require.NoError(t, err)

	_, err = store.RecordAbandoned(ctx, "o1")
	assert.ErrorIs(t, err, ErrStatusMismatch)
}

func TestMarkFulfillmentQueued_Once(t *testing.T) {
	store, fake := newTestStore(t)
	seed(t, fake, pendingOrder("o1"))
	ctx := context.Background()

	// unpaid orders are never queued
	assert.ErrorIs(t, store.MarkFulfillmentQueued(ctx, "o1"), ErrStatusMismatch)

	_, err := store.MarkPaid(ctx, "o1", "gw_o1", "pay_1")
	require.NoError(t, err)

	require.NoError(t, store.MarkFulfillmentQueued(ctx, "o1"))
	assert.ErrorIs(t, store.MarkFulfillmentQueued(ctx, "o1"), ErrStatusMismatch)

	got, err := store.Get(ctx, "o1")
	require.NoError(t, err)
	assert.NotNil(t, got.FulfillmentQueuedAt)
}

func TestStore_PropagatesClientErrors(t *testing.T) {
	store, fake := newTestStore(t)
	fake.Err = errors.New("boom")

	_, err := store.Get(context.Background(), "o1")
	assert.ErrorContains(t, err, "boom")
	assert.False(t, errors.Is(err, ErrStatusMismatch))

	_, err = store.MarkPaid(context.Background(), "o1", "gw", "pay")
	var cf *types.ConditionalCheckFailedException
	assert.False(t, errors.As(err, &cf))
}
