package types

// Telemetry metric names for CloudWatch.
const (
	MetricEmailDelivery = "EmailDelivery"
	MetricEmailLatency  = "EmailDeliveryLatency"
	MetricQueueLag      = "NotificationQueueLag"

	DimKind   = "Kind"
	DimResult = "Result"

	MetricNamespace = "Roadmap"
)
