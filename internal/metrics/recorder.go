// Package metrics publishes settlement counters to CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/go-checkout-settlement/internal/aws"
)

const (
	OrderCreated        = "OrderCreated"
	PaymentSettled      = "PaymentSettled"
	PaymentFailed       = "PaymentFailed"
	PaymentAbandoned    = "PaymentAbandoned"
	FulfillmentAdvanced = "FulfillmentAdvanced"
)

// Recorder never fails its caller; publish errors are logged. A nil
// *Recorder is a no-op.
type Recorder struct {
	client    aws.CloudWatchAPI
	namespace string
	logger    *slog.Logger
	nowFunc   func() time.Time
}

func NewRecorder(client aws.CloudWatchAPI, namespace string, logger *slog.Logger) *Recorder {
	return &Recorder{
		client:    client,
		namespace: namespace,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// Count adds one to metric name with the given dimensions.
func (r *Recorder) Count(ctx context.Context, name string, dims map[string]string) {
	if r == nil || r.client == nil {
		return
	}

	datum := types.MetricDatum{
		MetricName: &name,
		Unit:       types.StandardUnitCount,
		Value:      awsFloat(1),
		Timestamp:  awsTime(r.nowFunc()),
	}
	for k, v := range dims {
		datum.Dimensions = append(datum.Dimensions, types.Dimension{Name: awsString(k), Value: awsString(v)})
	}

	_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &r.namespace,
		MetricData: []types.MetricDatum{datum},
	})
	if err != nil {
		r.logger.WarnContext(ctx, "put metric failed", "metric", name, "error", err)
	}
}

func awsString(s string) *string { return &s }

func awsFloat(f float64) *float64 { return &f }

func awsTime(t time.Time) *time.Time { return &t }
