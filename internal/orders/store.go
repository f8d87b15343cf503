package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-checkout-settlement/internal/aws"
)

var (
	// ErrNotFound is for callers; Get itself reports a missing order as (nil, nil).
	ErrNotFound = errors.New("order not found")
	// ErrStatusMismatch means a conditional update found the order in another state.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrIdempotencyConflict means the order transaction lost to another request with the same key.
	ErrIdempotencyConflict = errors.New("idempotency key no longer claimed")
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// CreateWithIdempotencyTransaction writes the order and completes the claimed
// idempotency key in one TransactWriteItems call. Either both land or neither.
func (s *Store) CreateWithIdempotencyTransaction(ctx context.Context, order *Order, idempotencyItem types.TransactWriteItem) error {
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	input := &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			idempotencyItem,
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                orderMap,
					ConditionExpression: awsString("attribute_not_exists(order_id)"),
				},
			},
		},
	}

	if _, err := s.client.TransactWriteItems(ctx, input); err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("%w: %v", ErrIdempotencyConflict, err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyOf(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// MarkPaid settles a pending payment: status confirmed, paymentStatus paid.
// The write only applies while the order is still pending and bound to
// gatewayOrderID, so a redelivered callback cannot settle twice.
func (s *Store) MarkPaid(ctx context.Context, orderID, gatewayOrderID, gatewayPaymentID string) (*Order, error) {
	now := s.timestamp()
	input := &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyOf(orderID),
		UpdateExpression:    awsString("SET #s = :confirmed, payment_status = :paid, gateway_payment_id = :pid, paid_at = :now, updated_at = :now"),
		ConditionExpression: awsString("attribute_exists(order_id) AND #s = :pending AND payment_status = :ppending AND gateway_order_id = :goid"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":confirmed": &types.AttributeValueMemberS{Value: string(StatusConfirmed)},
			":pending":   &types.AttributeValueMemberS{Value: string(StatusPending)},
			":paid":      &types.AttributeValueMemberS{Value: string(PaymentPaid)},
			":ppending":  &types.AttributeValueMemberS{Value: string(PaymentPending)},
			":pid":       &types.AttributeValueMemberS{Value: gatewayPaymentID},
			":goid":      &types.AttributeValueMemberS{Value: gatewayOrderID},
			":now":       &types.AttributeValueMemberS{Value: now},
		},
		ReturnValues: types.ReturnValueAllNew,
	}
	return s.update(ctx, input)
}

// MarkPaymentFailed records a failed verification. The order status is left
// alone; only a pending payment can fail.
func (s *Store) MarkPaymentFailed(ctx context.Context, orderID, reason string) (*Order, error) {
	input := &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyOf(orderID),
		UpdateExpression:    awsString("SET payment_status = :failed, failure_reason = :r, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(order_id) AND payment_status = :ppending"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed":   &types.AttributeValueMemberS{Value: string(PaymentFailed)},
			":ppending": &types.AttributeValueMemberS{Value: string(PaymentPending)},
			":r":        &types.AttributeValueMemberS{Value: reason},
			":ua":       &types.AttributeValueMemberS{Value: s.timestamp()},
		},
		ReturnValues: types.ReturnValueAllNew,
	}
	return s.update(ctx, input)
}

// UpdateStatus conditionally moves the order from expected to next. Moves into
// a status that requires payment also check payment_status in the condition.
// A non-empty trackingNumber is stored alongside.
func (s *Store) UpdateStatus(ctx context.Context, orderID string, expected, next Status, trackingNumber string) (*Order, error) {
	if next == StatusConfirmed || !expected.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, expected, next)
	}

	updateExpr := "SET #s = :new, updated_at = :ua"
	cond := "attribute_exists(order_id) AND #s = :expected"
	values := map[string]types.AttributeValue{
		":new":      &types.AttributeValueMemberS{Value: string(next)},
		":expected": &types.AttributeValueMemberS{Value: string(expected)},
		":ua":       &types.AttributeValueMemberS{Value: s.timestamp()},
	}
	if next.RequiresPayment() {
		cond += " AND payment_status = :paid"
		values[":paid"] = &types.AttributeValueMemberS{Value: string(PaymentPaid)}
	}
	if trackingNumber != "" {
		updateExpr += ", tracking_number = :tn"
		values[":tn"] = &types.AttributeValueMemberS{Value: trackingNumber}
	}

	input := &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       keyOf(orderID),
		UpdateExpression:          &updateExpr,
		ConditionExpression:       &cond,
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	}
	return s.update(ctx, input)
}

// RecordAbandoned counts a dismissed checkout while the payment is still pending.
func (s *Store) RecordAbandoned(ctx context.Context, orderID string) (int, error) {
	input := &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyOf(orderID),
		UpdateExpression:    awsString("SET abandon_count = if_not_exists(abandon_count, :zero) + :inc, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(order_id) AND payment_status = :ppending"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero":     &types.AttributeValueMemberN{Value: "0"},
			":inc":      &types.AttributeValueMemberN{Value: "1"},
			":ppending": &types.AttributeValueMemberS{Value: string(PaymentPending)},
			":ua":       &types.AttributeValueMemberS{Value: s.timestamp()},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	}
	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var cf *types.ConditionalCheckFailedException
		if errors.As(err, &cf) {
			return 0, ErrStatusMismatch
		}
		return 0, fmt.Errorf("record abandoned: %w", err)
	}
	n, ok := out.Attributes["abandon_count"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, nil
	}
	count, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("parse abandon_count: %w", err)
	}
	return count, nil
}

// MarkFulfillmentQueued stamps the first successful settlement publish.
// It returns ErrStatusMismatch when the order was already queued.
func (s *Store) MarkFulfillmentQueued(ctx context.Context, orderID string) error {
	input := &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyOf(orderID),
		UpdateExpression:    awsString("SET fulfillment_queued_at = :now, updated_at = :now"),
		ConditionExpression: awsString("attribute_exists(order_id) AND payment_status = :paid AND attribute_not_exists(fulfillment_queued_at)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":paid": &types.AttributeValueMemberS{Value: string(PaymentPaid)},
			":now":  &types.AttributeValueMemberS{Value: s.timestamp()},
		},
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		var cf *types.ConditionalCheckFailedException
		if errors.As(err, &cf) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("mark fulfillment queued: %w", err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, input *dyn.UpdateItemInput) (*Order, error) {
	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var cf *types.ConditionalCheckFailedException
		if errors.As(err, &cf) {
			return nil, ErrStatusMismatch
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Attributes, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

func (s *Store) timestamp() string {
	return s.nowFunc().UTC().Format(time.RFC3339Nano)
}

func keyOf(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
