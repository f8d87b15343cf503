package promo

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-settlement/internal/aws/awstest"
)

func TestMemoryLedger_CaseInsensitive(t *testing.T) {
	l := NewMemoryLedger(DefaultCodes()...)
	ctx := context.Background()

	lower, err := l.Lookup(ctx, "save10")
	require.NoError(t, err)
	upper, err := l.Lookup(ctx, "SAVE10")
	require.NoError(t, err)
	padded, err := l.Lookup(ctx, "  Save10 ")
	require.NoError(t, err)

	assert.Equal(t, upper, lower)
	assert.Equal(t, upper, padded)
	assert.Equal(t, Percentage, upper.Type)
	assert.Equal(t, int64(10), upper.Value)
}

func TestMemoryLedger_Unknown(t *testing.T) {
	l := NewMemoryLedger(DefaultCodes()...)

	for _, code := range []string{"", "   ", "SAVE20", "flat5000"} {
		_, err := l.Lookup(context.Background(), code)
		assert.ErrorIs(t, err, ErrInvalidPromoCode, "code %q", code)
	}
}

func TestMemoryLedger_RejectsMalformedEntries(t *testing.T) {
	l := NewMemoryLedger(
		Code{Code: "TOOMUCH", Type: Percentage, Value: 150},
		Code{Code: "ZERO", Type: Fixed, Value: 0},
		Code{Code: "ODD", Type: "bogo", Value: 1},
	)
	for _, code := range []string{"toomuch", "zero", "odd"} {
		_, err := l.Lookup(context.Background(), code)
		assert.ErrorIs(t, err, ErrInvalidPromoCode, "code %q", code)
	}
}

func TestDynamoLedger_Lookup(t *testing.T) {
	fake := awstest.NewFakeDynamo()
	fake.CreateTable("promo_codes", "code")
	item, err := attributevalue.MarshalMap(Code{Code: "FLAT500", Type: Fixed, Value: 500})
	require.NoError(t, err)
	fake.Seed("promo_codes", item)

	l := NewDynamoLedger(fake, "promo_codes")

	got, err := l.Lookup(context.Background(), "flat500")
	require.NoError(t, err)
	assert.Equal(t, Code{Code: "FLAT500", Type: Fixed, Value: 500}, got)

	_, err = l.Lookup(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInvalidPromoCode)
}

func TestDynamoLedger_StoreError(t *testing.T) {
	fake := awstest.NewFakeDynamo()
	fake.CreateTable("promo_codes", "code")
	fake.Err = errors.New("throttled")

	_, err := NewDynamoLedger(fake, "promo_codes").Lookup(context.Background(), "SAVE10")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidPromoCode)
}
