package types

import "time"

// NotificationMessage is the queue envelope for one transactional email.
// The API publishes it; the email worker renders and delivers it.
type NotificationMessage struct {
	NotificationID string           `json:"notification_id"`
	Kind           NotificationKind `json:"kind"`
	To             string           `json:"to"`
	UserID         string           `json:"user_id,omitempty"`

	// DedupKey is the provider event id that triggered the email, if any.
	DedupKey string `json:"dedup_key,omitempty"`

	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`

	// Data holds the template variables (name, plan, amounts, dates).
	Data map[string]any `json:"data"`
}

// SendInput is the provider-neutral email send request.
type SendInput struct {
	To          string
	From        string
	FromName    string
	Subject     string
	BodyHTML    string
	BodyText    string
	ReferenceID string
	Tag         string
}
