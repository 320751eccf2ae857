package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"roadmap/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// maxDelay is the SQS DelaySeconds ceiling.
const maxDelay = 900 * time.Second

// QueuePublisher publishes NotificationMessages to the notification queue
// for the email worker.
type QueuePublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewQueuePublisher creates a QueuePublisher targeting queueURL.
func NewQueuePublisher(client SQSSender, queueURL string, logger *slog.Logger) *QueuePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueuePublisher{client: client, queueURL: queueURL, logger: logger}
}

// Notify enqueues msg for immediate delivery.
func (p *QueuePublisher) Notify(ctx context.Context, msg types.NotificationMessage) error {
	return p.send(ctx, msg, 0)
}

// Republish enqueues msg again after delay. RetryCount is incremented before
// serialization so the next consumer sees the attempt number. Delays are
// clamped to [0, 900s].
func (p *QueuePublisher) Republish(ctx context.Context, msg types.NotificationMessage, delay time.Duration) error {
	msg.RetryCount++
	return p.send(ctx, msg, delay)
}

func (p *QueuePublisher) send(ctx context.Context, msg types.NotificationMessage, delay time.Duration) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notification publisher: failed to marshal message: %w", err)
	}

	delay = min(max(delay, 0), maxDelay)
	delaySec := int32(delay / time.Second)

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(p.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySec,
	})
	if err != nil {
		return fmt.Errorf("notification publisher: failed to send message to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "notification message published",
		"notification_id", msg.NotificationID,
		"kind", msg.Kind,
		"retry_count", msg.RetryCount,
		"delay_seconds", delaySec,
	)
	return nil
}
