package promo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-checkout-settlement/internal/aws"
)

// DynamoLedger reads promo codes from a DynamoDB table keyed by "code".
// Codes are stored upper-cased.
type DynamoLedger struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewDynamoLedger(client aws.DynamoDBAPI, tableName string) *DynamoLedger {
	return &DynamoLedger{client: client, tableName: tableName}
}

func (l *DynamoLedger) Lookup(ctx context.Context, code string) (Code, error) {
	key := Normalize(code)
	if key == "" {
		return Code{}, ErrInvalidPromoCode
	}

	out, err := l.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &l.tableName,
		Key: map[string]types.AttributeValue{
			"code": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return Code{}, fmt.Errorf("get promo code: %w", err)
	}
	if len(out.Item) == 0 {
		return Code{}, ErrInvalidPromoCode
	}

	var c Code
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return Code{}, fmt.Errorf("unmarshal promo code: %w", err)
	}
	if !c.valid() {
		return Code{}, ErrInvalidPromoCode
	}
	return c, nil
}
