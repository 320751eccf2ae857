package types

import "strings"

// SubscriptionStatus mirrors the payment provider's subscription status on
// the local User record.
type SubscriptionStatus string

const (
	SubStatusActive     SubscriptionStatus = "active"
	SubStatusPaused     SubscriptionStatus = "paused"
	SubStatusCancelling SubscriptionStatus = "cancelling"
	SubStatusCanceled   SubscriptionStatus = "canceled"
	SubStatusTrialing   SubscriptionStatus = "trialing"
	SubStatusPastDue    SubscriptionStatus = "past_due"
	SubStatusNone       SubscriptionStatus = "none"
)

// ParseSubscriptionStatus maps a provider status string onto the local enum.
// Provider states without a local equivalent (incomplete, unpaid, ...) map
// to the closest local state.
func ParseSubscriptionStatus(s string) SubscriptionStatus {
	switch s {
	case "active":
		return SubStatusActive
	case "paused":
		return SubStatusPaused
	case "trialing":
		return SubStatusTrialing
	case "past_due", "unpaid":
		return SubStatusPastDue
	case "canceled", "incomplete_expired":
		return SubStatusCanceled
	case "cancelling":
		return SubStatusCancelling
	default:
		return SubStatusNone
	}
}

// HasLiveSubscription reports whether the status blocks starting another
// trial or checkout.
func (s SubscriptionStatus) HasLiveSubscription() bool {
	return s == SubStatusActive || s == SubStatusTrialing
}

// CounterKind selects one of the monthly usage counters on a User.
type CounterKind string

const (
	CounterTopics CounterKind = "topics"
	CounterSkills CounterKind = "skills"
)

// Valid reports whether k names a known counter.
func (k CounterKind) Valid() bool {
	return k == CounterTopics || k == CounterSkills
}

// Difficulty is the task difficulty enum.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty normalizes a case-insensitive difficulty string.
// The second return value is false for anything outside easy|medium|hard.
func ParseDifficulty(s string) (Difficulty, bool) {
	switch Difficulty(strings.ToLower(strings.TrimSpace(s))) {
	case DifficultyEasy:
		return DifficultyEasy, true
	case DifficultyMedium:
		return DifficultyMedium, true
	case DifficultyHard:
		return DifficultyHard, true
	default:
		return "", false
	}
}

// NotificationKind identifies a transactional email template.
type NotificationKind string

const (
	NotifyWelcome             NotificationKind = "welcome"
	NotifySubscriptionCreated NotificationKind = "subscription_created"
	NotifySubscriptionUpdated NotificationKind = "subscription_updated"
	NotifySubscriptionPaused  NotificationKind = "subscription_paused"
	NotifySubscriptionResumed NotificationKind = "subscription_resumed"
	NotifySubscriptionCancel  NotificationKind = "subscription_canceled"
	NotifyTrialEnding         NotificationKind = "trial_ending"
	NotifyPaymentFailed       NotificationKind = "payment_failed"
	NotifyPlanChanged         NotificationKind = "plan_changed"
)

// AllNotificationKinds lists every template the notifier must be able to render.
var AllNotificationKinds = []NotificationKind{
	NotifyWelcome,
	NotifySubscriptionCreated,
	NotifySubscriptionUpdated,
	NotifySubscriptionPaused,
	NotifySubscriptionResumed,
	NotifySubscriptionCancel,
	NotifyTrialEnding,
	NotifyPaymentFailed,
	NotifyPlanChanged,
}

// Well-known plan names.
const (
	PlanNameFree = "Free"
	PlanNamePro  = "Pro"
)

// Unlimited is the sentinel plan limit meaning "no cap".
const Unlimited = -1
