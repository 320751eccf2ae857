package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"roadmap/internal/notify"
	"roadmap/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger.With returns *slog.Logger, not types.Logger, so an adapter is
// necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// Republisher re-queues a message with a delay. Satisfied by
// *notify.QueuePublisher.
type Republisher interface {
	Republish(ctx context.Context, msg types.NotificationMessage, delay time.Duration) error
}

// Handler holds the dependencies for the email worker Lambda handler.
type Handler struct {
	notifier notify.Notifier
	requeue  Republisher
	metrics  notify.Metrics
	retry    notify.RetryPolicy
	now      func() time.Time
	logger   types.Logger
}

// Handle processes an SQS batch. Each message is handled independently;
// messages that fail are returned in BatchItemFailures so SQS redelivers
// only those.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processMessage delivers one notification. A returned error means the
// original message must be redelivered by SQS.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var msg types.NotificationMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		// Unparseable bodies will never succeed; ACK them.
		h.logger.Error("failed to unmarshal notification message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return nil
	}

	logger := h.logger.With(
		"notification_id", msg.NotificationID,
		"kind", string(msg.Kind),
		"user_id", msg.UserID,
		"retry_count", msg.RetryCount,
	)

	if sent, ok := record.Attributes["SentTimestamp"]; ok {
		if sentAt, err := parseMillisTimestamp(sent); err == nil {
			h.metrics.RecordQueueLag(ctx, h.now().Sub(sentAt))
		}
	}

	err := h.notifier.Notify(ctx, msg)
	if err == nil {
		return nil
	}

	if notify.IsPermanent(err) {
		logger.Error("email delivery permanently failed", "error", err.Error())
		return nil
	}
	if h.retry.Exhausted(msg.RetryCount) {
		logger.Error("email delivery abandoned after max retries", "error", err.Error())
		return nil
	}

	delay := h.retry.NextDelay(msg.RetryCount)
	if pubErr := h.requeue.Republish(ctx, msg, delay); pubErr != nil {
		return fmt.Errorf("republish after delivery error %v: %w", err, pubErr)
	}
	logger.Info("email delivery retry scheduled",
		"next_retry_count", msg.RetryCount+1,
		"delay_seconds", int(delay.Seconds()),
	)
	return nil
}

// parseMillisTimestamp parses the SQS SentTimestamp attribute.
func parseMillisTimestamp(ms string) (time.Time, error) {
	millis, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis), nil
}

var _ types.Logger = (*slogAdapter)(nil)
