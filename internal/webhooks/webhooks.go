// Package webhooks reconciles payment-provider and identity-provider events
// into the local user records.
//
// Reconcilers run after the HTTP layer has verified the provider signature.
// They never return errors to the caller: every failure is logged and
// reported as "not processed", and the HTTP layer acknowledges the delivery
// regardless so the provider does not retry.
//
// Mirrored fields are set, never incremented, so replays of the same event
// are harmless. Emails are not: before a send the event id is claimed in
// Redis and a replayed event skips the email.
package webhooks

import (
	"context"
	"errors"
	"log/slog"

	"roadmap/internal/notify"
	"roadmap/internal/types"
)

// Event sources used as dedup namespaces.
const (
	SourceStripe = "stripe"
	SourceClerk  = "clerk"
)

// Deduper claims an event id before its email is sent.
// Satisfied by *cache.EventDedup.
type Deduper interface {
	Claim(ctx context.Context, source, eventID string) (bool, error)
	Release(ctx context.Context, source, eventID string) error
}

// PlanLookup resolves catalog plans. Satisfied by *billing.PlanCatalog.
type PlanLookup interface {
	ByID(ctx context.Context, id string) (*types.Plan, error)
	ByName(ctx context.Context, name string) (*types.Plan, error)
}

// errSkip marks an event that is valid but cannot be applied, such as a
// customer without a linked user. It is logged at info level.
var errSkip = errors.New("event skipped")

// mailer sends at most one email per event id.
type mailer struct {
	source   string
	dedup    Deduper
	notifier notify.Notifier
	logger   *slog.Logger
}

// send claims eventID and delivers the notification. Dedup store errors fail
// open. A failed send releases the claim so a redelivery can try again.
// Delivery errors are logged and do not fail the event.
func (m *mailer) send(ctx context.Context, eventID string, u *types.User, kind types.NotificationKind, data map[string]any) {
	if m.notifier == nil {
		return
	}
	if u.Email == "" {
		m.logger.WarnContext(ctx, "user has no email, notification skipped",
			"user_id", u.ID,
			"kind", kind,
		)
		return
	}

	claimed := false
	if m.dedup != nil && eventID != "" {
		ok, err := m.dedup.Claim(ctx, m.source, eventID)
		switch {
		case err != nil:
			m.logger.WarnContext(ctx, "event dedup unavailable, sending anyway",
				"event_id", eventID,
				"error", err,
			)
		case !ok:
			m.logger.InfoContext(ctx, "duplicate event, notification skipped",
				"event_id", eventID,
				"kind", kind,
			)
			return
		default:
			claimed = true
		}
	}

	msg := notify.NewMessage(kind, u.Email, u.ID, data)
	msg.DedupKey = eventID
	if err := m.notifier.Notify(ctx, msg); err != nil {
		m.logger.ErrorContext(ctx, "failed to send notification",
			"event_id", eventID,
			"kind", kind,
			"user_id", u.ID,
			"error", err,
		)
		if claimed {
			if err := m.dedup.Release(ctx, m.source, eventID); err != nil {
				m.logger.WarnContext(ctx, "failed to release event claim",
					"event_id", eventID,
					"error", err,
				)
			}
		}
	}
}
