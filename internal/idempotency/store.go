// Package idempotency guards POST /order-create against client retries. A key is
// claimed before any side effect, and completed in the same transaction that
// writes the order.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-checkout-settlement/internal/aws"
)

var (
	// ErrInProgress means another request holding the same key has not finished.
	ErrInProgress = errors.New("idempotent request already in progress")
	// ErrKeyReused means the key was first used with a different request body.
	ErrKeyReused = errors.New("idempotency key reused with a different request")
)

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// ttlWindow sets expires_at on new records (e.g. 48*time.Hour).
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// Claim reserves key for a request identified by requestHash.
//
// It returns (nil, nil) when the caller now owns the key, and the stored record
// when a previous request with the same key already completed. A FAILED record
// is reclaimed so the client can retry with the same key.
func (s *Store) Claim(ctx context.Context, key, requestHash string) (*Record, error) {
	now := s.nowFunc().UTC()
	rec := Record{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		RequestHash:    requestHash,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
	})
	if err == nil {
		return nil, nil
	}
	if !isConditionFailure(err) {
		return nil, fmt.Errorf("put item: %w", err)
	}

	existing, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// expired between the put and the read
		return nil, ErrInProgress
	}
	if existing.RequestHash != "" && existing.RequestHash != requestHash {
		return nil, ErrKeyReused
	}

	switch existing.Status {
	case StatusDone:
		return existing, nil
	case StatusFailed:
		if err := s.reclaim(ctx, key); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, ErrInProgress
	}
}

func (s *Store) reclaim(ctx context.Context, key string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyOf(key),
		UpdateExpression:    awsString("SET #s = :inprogress, updated_at = :ua"),
		ConditionExpression: awsString("#s = :failed"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":failed":     &types.AttributeValueMemberS{Value: StatusFailed},
			":ua":         &types.AttributeValueMemberS{Value: s.timestamp()},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return ErrInProgress
		}
		return fmt.Errorf("update item (reclaim): %w", err)
	}
	return nil
}

// CompleteItem builds the transaction member that moves a claimed key to DONE
// with the response to replay. It only applies while the key is IN_PROGRESS.
func (s *Store) CompleteItem(key, orderID, responseBody string, responseStatus int) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           &s.tableName,
			Key:                 keyOf(key),
			UpdateExpression:    awsString("SET #s = :done, order_id = :oid, response_body = :rb, response_status = :rs, updated_at = :ua"),
			ConditionExpression: awsString("#s = :inprogress"),
			ExpressionAttributeNames: map[string]string{
				"#s": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":done":       &types.AttributeValueMemberS{Value: StatusDone},
				":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
				":oid":        &types.AttributeValueMemberS{Value: orderID},
				":rb":         &types.AttributeValueMemberS{Value: responseBody},
				":rs":         &types.AttributeValueMemberN{Value: strconv.Itoa(responseStatus)},
				":ua":         &types.AttributeValueMemberS{Value: s.timestamp()},
			},
		},
	}
}

// Get retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       keyOf(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkFailed releases a claimed key so the same key may be retried.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyOf(key),
		UpdateExpression:    awsString("SET #s = :failed, note = :n, updated_at = :ua"),
		ConditionExpression: awsString("#s = :inprogress"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed":     &types.AttributeValueMemberS{Value: StatusFailed},
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":n":          &types.AttributeValueMemberS{Value: note},
			":ua":         &types.AttributeValueMemberS{Value: s.timestamp()},
		},
	})
	if err != nil {
		return fmt.Errorf("update item (mark failed): %w", err)
	}
	return nil
}

func (s *Store) timestamp() string {
	return s.nowFunc().UTC().Format(time.RFC3339Nano)
}

func keyOf(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}

func isConditionFailure(err error) bool {
	var sc smithy.APIError
	return errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }
