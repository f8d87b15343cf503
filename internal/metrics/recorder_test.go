package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-settlement/internal/aws/awstest"
)

func TestCount(t *testing.T) {
	cw := &awstest.FakeCloudWatch{}
	r := NewRecorder(cw, "Checkout", slog.New(slog.NewTextHandler(io.Discard, nil)))

	r.Count(context.Background(), PaymentSettled, map[string]string{"method": "razorpay"})

	require.Len(t, cw.Calls, 1)
	call := cw.Calls[0]
	assert.Equal(t, "Checkout", *call.Namespace)
	require.Len(t, call.MetricData, 1)
	assert.Equal(t, PaymentSettled, *call.MetricData[0].MetricName)
	assert.Equal(t, 1.0, *call.MetricData[0].Value)
	require.Len(t, call.MetricData[0].Dimensions, 1)
	assert.Equal(t, "razorpay", *call.MetricData[0].Dimensions[0].Value)
	assert.Equal(t, 1, cw.MetricCount(PaymentSettled))
}

func TestCount_ErrorsSwallowed(t *testing.T) {
	cw := &awstest.FakeCloudWatch{Err: errors.New("throttled")}
	r := NewRecorder(cw, "Checkout", slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.NotPanics(t, func() { r.Count(context.Background(), OrderCreated, nil) })
}

func TestCount_NilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() { r.Count(context.Background(), OrderCreated, nil) })
}
