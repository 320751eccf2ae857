package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"roadmap/internal/types"
)

// MetricResult is the Result dimension of the delivery metric.
type MetricResult string

const (
	ResultSuccess  MetricResult = "success"
	ResultFailed   MetricResult = "failed"
	ResultRejected MetricResult = "rejected"
	ResultThrottle MetricResult = "throttled"
)

// ResultOf classifies a delivery error for the Result dimension.
func ResultOf(err error) MetricResult {
	switch {
	case err == nil:
		return ResultSuccess
	case types.IsCode(err, types.ErrCodeUpstreamEmailRejected):
		return ResultRejected
	case types.IsCode(err, types.ErrCodeUpstreamRateLimited):
		return ResultThrottle
	default:
		return ResultFailed
	}
}

// Metrics records email delivery telemetry.
type Metrics interface {
	RecordDelivery(ctx context.Context, kind types.NotificationKind, result MetricResult)
	RecordLatency(ctx context.Context, kind types.NotificationKind, d time.Duration)
	RecordQueueLag(ctx context.Context, lag time.Duration)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordDelivery(context.Context, types.NotificationKind, MetricResult) {}
func (NoopMetrics) RecordLatency(context.Context, types.NotificationKind, time.Duration) {}
func (NoopMetrics) RecordQueueLag(context.Context, time.Duration)                        {}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics emits delivery metrics to CloudWatch:
//
//	EmailDelivery         {Kind, Result}  count per outcome
//	EmailDeliveryLatency  {Kind}          provider call duration (ms)
//	NotificationQueueLag  none            enqueue to processing start (ms)
//
// Emission errors are logged and swallowed.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics publishes into namespace, or types.MetricNamespace
// when empty.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

func (m *CloudWatchMetrics) RecordDelivery(ctx context.Context, kind types.NotificationKind, result MetricResult) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricEmailDelivery),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimKind), Value: aws.String(string(kind))},
			{Name: aws.String(types.DimResult), Value: aws.String(string(result))},
		},
	})
}

func (m *CloudWatchMetrics) RecordLatency(ctx context.Context, kind types.NotificationKind, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricEmailLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimKind), Value: aws.String(string(kind))},
		},
	})
}

func (m *CloudWatchMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricQueueLag),
		Value:      aws.Float64(float64(lag.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

func (m *CloudWatchMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to record metric",
			"metric", aws.ToString(datum.MetricName),
			"error", err,
		)
	}
}
