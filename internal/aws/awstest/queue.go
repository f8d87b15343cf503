package awstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// FakeSQS records every message sent.
type FakeSQS struct {
	mu       sync.Mutex
	Messages []*sqs.SendMessageInput
	Err      error
}

func (f *FakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Messages = append(f.Messages, in)
	return &sqs.SendMessageOutput{MessageId: awsString(fmt.Sprintf("msg-%d", len(f.Messages)))}, nil
}

// Count returns the number of recorded messages.
func (f *FakeSQS) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Messages)
}

// FakeCloudWatch records PutMetricData calls.
type FakeCloudWatch struct {
	mu    sync.Mutex
	Calls []*cloudwatch.PutMetricDataInput
	Err   error
}

func (f *FakeCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Calls = append(f.Calls, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// MetricCount sums the datapoints recorded under a metric name.
func (f *FakeCloudWatch) MetricCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		for _, d := range c.MetricData {
			if d.MetricName != nil && *d.MetricName == name {
				n++
			}
		}
	}
	return n
}
