// Package notify renders and delivers the transactional emails triggered by
// billing and identity events. Delivery is either inline (DirectNotifier) or
// through an SQS queue drained by the email worker (QueuePublisher).
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"roadmap/internal/external"
	"roadmap/internal/types"
)

// Notifier hands one notification to the delivery pipeline.
type Notifier interface {
	Notify(ctx context.Context, msg types.NotificationMessage) error
}

// NewMessage builds a NotificationMessage with a fresh id and UTC timestamp.
func NewMessage(kind types.NotificationKind, to, userID string, data map[string]any) types.NotificationMessage {
	if data == nil {
		data = map[string]any{}
	}
	return types.NotificationMessage{
		NotificationID: "notif_" + uuid.NewString(),
		Kind:           kind,
		To:             to,
		UserID:         userID,
		CreatedAt:      time.Now().UTC(),
		Data:           data,
	}
}

// Sender identifies the From header of outgoing mail.
type Sender struct {
	Address string
	Name    string
}

// DirectNotifier renders and sends in the caller's goroutine. The email
// worker uses it too, so delivery metrics are recorded here.
type DirectNotifier struct {
	renderer *Renderer
	email    external.EmailSender
	sender   Sender
	metrics  Metrics
	logger   *slog.Logger
}

// NewDirectNotifier wires a renderer to an email provider. A nil metrics
// sink disables metric emission.
func NewDirectNotifier(renderer *Renderer, email external.EmailSender, sender Sender, metrics Metrics, logger *slog.Logger) *DirectNotifier {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectNotifier{
		renderer: renderer,
		email:    email,
		sender:   sender,
		metrics:  metrics,
		logger:   logger,
	}
}

// Notify renders msg and sends it. Render failures are permanent and are
// returned as internal errors; provider errors keep their upstream code.
func (n *DirectNotifier) Notify(ctx context.Context, msg types.NotificationMessage) error {
	if msg.To == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "notification has no recipient", nil)
	}

	rendered, err := n.renderer.Render(msg)
	if err != nil {
		n.metrics.RecordDelivery(ctx, msg.Kind, ResultFailed)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render notification", err)
	}

	start := time.Now()
	messageID, err := n.email.Send(ctx, types.SendInput{
		To:          msg.To,
		From:        n.sender.Address,
		FromName:    n.sender.Name,
		Subject:     rendered.Subject,
		BodyHTML:    rendered.BodyHTML,
		BodyText:    rendered.BodyText,
		ReferenceID: msg.NotificationID,
		Tag:         string(msg.Kind),
	})
	n.metrics.RecordLatency(ctx, msg.Kind, time.Since(start))
	if err != nil {
		n.metrics.RecordDelivery(ctx, msg.Kind, ResultOf(err))
		n.logger.WarnContext(ctx, "notification delivery failed",
			"notification_id", msg.NotificationID,
			"kind", msg.Kind,
			"retry_count", msg.RetryCount,
			"error", err,
		)
		return err
	}

	n.metrics.RecordDelivery(ctx, msg.Kind, ResultSuccess)
	n.logger.InfoContext(ctx, "notification delivered",
		"notification_id", msg.NotificationID,
		"kind", msg.Kind,
		"message_id", messageID,
	)
	return nil
}

// IsPermanent reports whether a delivery error will fail again on retry.
func IsPermanent(err error) bool {
	return types.IsCode(err, types.ErrCodeUpstreamEmailRejected) ||
		types.IsCode(err, types.ErrCodeInternalUnexpected) ||
		types.IsCode(err, types.ErrCodeValidationMissingField)
}

var (
	_ Notifier = (*DirectNotifier)(nil)
	_ Notifier = (*QueuePublisher)(nil)
)
