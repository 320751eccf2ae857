package types

import (
	"encoding/json"
	"time"
)

// Plan is immutable reference data describing a subscription tier.
// Limits use -1 (Unlimited) to mean "no cap".
type Plan struct {
	ID               string    `json:"id" db:"id" bson:"_id"`
	Name             string    `json:"name" db:"name" bson:"name"`
	MonthlyPrice     int64     `json:"monthly_price" db:"monthly_price" bson:"monthlyPrice"`
	Currency         string    `json:"currency" db:"currency" bson:"currency"`
	MaxSkills        int       `json:"max_skills" db:"max_skills" bson:"maxSkills"`
	TopicsPerMonth   int       `json:"topics_per_month" db:"topics_per_month" bson:"topicsPerMonth"`
	ExternalPriceRef string    `json:"external_price_ref,omitempty" db:"external_price_ref" bson:"externalPriceRef"`
	CreatedAt        time.Time `json:"created_at" db:"created_at" bson:"createdAt"`
}

// LimitFor returns the plan limit that governs the given counter.
func (p Plan) LimitFor(kind CounterKind) int {
	if kind == CounterSkills {
		return p.MaxSkills
	}
	return p.TopicsPerMonth
}

// User is the local mirror of an identity-provider account, carrying the
// monthly usage counters and the subscription state copied from the
// payment provider. Every field is always present; optional timestamps are
// pointers and zero values are the defaults.
type User struct {
	ID                 string `json:"id" db:"id" bson:"_id"`
	ExternalIdentityID string `json:"external_identity_id" db:"external_identity_id" bson:"externalIdentityId"`
	Email              string `json:"email" db:"email" bson:"email"`
	FirstName          string `json:"first_name" db:"first_name" bson:"firstName"`
	LastName           string `json:"last_name" db:"last_name" bson:"lastName"`
	ImageURL           string `json:"image_url" db:"image_url" bson:"imageUrl"`
	PlanID             string `json:"plan_id" db:"plan_id" bson:"planId"`

	// Usage counters
	TopicsCreatedThisMonth int       `json:"topics_created_this_month" db:"topics_created_this_month" bson:"topicsCreatedThisMonth"`
	LastTopicCounterReset  time.Time `json:"last_topic_counter_reset" db:"last_topic_counter_reset" bson:"lastTopicCounterReset"`
	SkillsAddedThisMonth   int       `json:"skills_added_this_month" db:"skills_added_this_month" bson:"skillsAddedThisMonth"`
	LastSkillCounterReset  time.Time `json:"last_skill_counter_reset" db:"last_skill_counter_reset" bson:"lastSkillCounterReset"`

	// Subscription state mirror
	ExternalBillingCustomerID string             `json:"-" db:"external_billing_customer_id" bson:"externalBillingCustomerId"`
	SubscriptionStatus        SubscriptionStatus `json:"subscription_status" db:"subscription_status" bson:"subscriptionStatus"`
	ExternalSubscriptionID    string             `json:"-" db:"external_subscription_id" bson:"externalSubscriptionId"`
	CurrentPeriodEnd          *time.Time         `json:"current_period_end,omitempty" db:"current_period_end" bson:"currentPeriodEnd"`
	TrialEndDate              *time.Time         `json:"trial_end_date,omitempty" db:"trial_end_date" bson:"trialEndDate"`
	PaymentIssue              bool               `json:"payment_issue" db:"payment_issue" bson:"paymentIssue"`
	LastFailedPaymentAt       *time.Time         `json:"last_failed_payment_at,omitempty" db:"last_failed_payment_at" bson:"lastFailedPaymentAt"`
	CancelAtPeriodEnd         bool               `json:"cancel_at_period_end" db:"cancel_at_period_end" bson:"cancelAtPeriodEnd"`

	// Engagement
	Points    int `json:"points" db:"points" bson:"points"`
	DayStreak int `json:"day_streak" db:"day_streak" bson:"dayStreak"`

	CreatedAt time.Time `json:"created_at" db:"created_at" bson:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at" bson:"updatedAt"`
}

// Counter returns the current value and last reset time for a counter.
func (u *User) Counter(kind CounterKind) (int, time.Time) {
	if kind == CounterSkills {
		return u.SkillsAddedThisMonth, u.LastSkillCounterReset
	}
	return u.TopicsCreatedThisMonth, u.LastTopicCounterReset
}

// DisplayName returns the best available human name for emails.
func (u *User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return "there"
}

// NewUser returns a User populated with defaults for a first sighting of an
// identity-provider account. The counters start at zero with "now" as the
// last reset so the current month is not reset again.
func NewUser(externalID, email, planID string, now time.Time) *User {
	return &User{
		ExternalIdentityID:    externalID,
		Email:                 email,
		PlanID:                planID,
		LastTopicCounterReset: now,
		LastSkillCounterReset: now,
		SubscriptionStatus:    SubStatusNone,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// UserProfilePatch carries the identity-provider owned profile fields.
type UserProfilePatch struct {
	Email     string
	FirstName string
	LastName  string
	ImageURL  string
}

// Skill is a learning goal owned by a user.
type Skill struct {
	ID                     string     `json:"id" db:"id" bson:"_id"`
	UserID                 string     `json:"user_id" db:"user_id" bson:"userId"`
	Name                   string     `json:"name" db:"name" bson:"name"`
	ActiveTopicID          string     `json:"active_topic_id,omitempty" db:"active_topic_id" bson:"activeTopicId"`
	CoveredTopicIDs        StringList `json:"covered_topic_ids" db:"covered_topic_ids" bson:"coveredTopicIds"`
	PreferredLearningStyle string     `json:"preferred_learning_style,omitempty" db:"preferred_learning_style" bson:"preferredLearningStyle"`
	CurrentSkillLevel      string     `json:"current_skill_level,omitempty" db:"current_skill_level" bson:"currentSkillLevel"`
	Goal                   string     `json:"goal,omitempty" db:"goal" bson:"goal"`
	AvailableTimePerWeek   string     `json:"available_time_per_week,omitempty" db:"available_time_per_week" bson:"availableTimePerWeek"`
	IsCompleted            bool       `json:"is_completed" db:"is_completed" bson:"isCompleted"`
	CreatedAt              time.Time  `json:"created_at" db:"created_at" bson:"createdAt"`
	UpdatedAt              time.Time  `json:"updated_at" db:"updated_at" bson:"updatedAt"`
}

// Topic belongs to exactly one Skill and owns many Tasks.
type Topic struct {
	ID                   string     `json:"id" db:"id" bson:"_id"`
	SkillID              string     `json:"skill_id" db:"skill_id" bson:"skillId"`
	Name                 string     `json:"name" db:"name" bson:"name"`
	RecommendedResources StringList `json:"recommended_resources" db:"recommended_resources" bson:"recommendedResources"`
	LearningObjectives   StringList `json:"learning_objectives" db:"learning_objectives" bson:"learningObjectives"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at" bson:"createdAt"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at" bson:"updatedAt"`
}

// Task belongs to exactly one Topic.
type Task struct {
	ID                 string     `json:"id" db:"id" bson:"_id"`
	TopicID            string     `json:"topic_id" db:"topic_id" bson:"topicId"`
	Name               string     `json:"name" db:"name" bson:"name"`
	Difficulty         Difficulty `json:"difficulty" db:"difficulty" bson:"difficulty"`
	Instructions       string     `json:"instructions" db:"instructions" bson:"instructions"`
	Objective          string     `json:"objective" db:"objective" bson:"objective"`
	CompletionCriteria string     `json:"completion_criteria" db:"completion_criteria" bson:"completionCriteria"`
	EstimatedTime      string     `json:"estimated_time" db:"estimated_time" bson:"estimatedTime"`
	Resources          StringList `json:"resources" db:"resources" bson:"resources"`
	IsCompleted        bool       `json:"is_completed" db:"is_completed" bson:"isCompleted"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at" bson:"createdAt"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at" bson:"updatedAt"`
}

// QuotaDecision is the answer of the quota gate for one counter.
// When Unlimited is true, Limit and Remaining are meaningless and render as
// the string "unlimited".
type QuotaDecision struct {
	Allowed   bool
	Used      int
	Limit     int
	Remaining int
	Unlimited bool
}

// MarshalJSON renders the decision for the check endpoints.
func (d QuotaDecision) MarshalJSON() ([]byte, error) {
	var limit, remaining any = d.Limit, d.Remaining
	if d.Unlimited {
		limit, remaining = "unlimited", "unlimited"
	}
	return json.Marshal(struct {
		Allowed   bool `json:"allowed"`
		Used      int  `json:"used"`
		Limit     any  `json:"limit"`
		Remaining any  `json:"remaining"`
	}{d.Allowed, d.Used, limit, remaining})
}

// Details returns the decision as AppError details.
func (d QuotaDecision) Details() map[string]any {
	if d.Unlimited {
		return map[string]any{"used": d.Used, "limit": "unlimited", "remaining": "unlimited"}
	}
	return map[string]any{"used": d.Used, "limit": d.Limit, "remaining": d.Remaining}
}

// SubscriptionSnapshot is the cached view of a customer's latest provider
// subscription. Status is "none" when the customer has no subscription.
type SubscriptionSnapshot struct {
	SubscriptionID     string         `json:"subscriptionId,omitempty"`
	Status             string         `json:"status"`
	PriceID            string         `json:"priceId,omitempty"`
	CurrentPeriodStart int64          `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd   int64          `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd  bool           `json:"cancelAtPeriodEnd,omitempty"`
	PaymentMethod      *PaymentMethod `json:"paymentMethod,omitempty"`
}

// PaymentMethod is the card summary stored with a SubscriptionSnapshot.
type PaymentMethod struct {
	Brand string `json:"brand"`
	Last4 string `json:"last4"`
}

// NullTime is a settable optional timestamp. Valid=false clears the field.
type NullTime struct {
	Time  time.Time
	Valid bool
}

// SetTime returns a NullTime that stores t.
func SetTime(t time.Time) *NullTime { return &NullTime{Time: t, Valid: true} }

// ClearTime returns a NullTime that clears the stored value.
func ClearTime() *NullTime { return &NullTime{} }

// Ptr returns the timestamp as a pointer, nil when cleared.
func (n NullTime) Ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

// SubscriptionMirror is the set of billing fields a reconciler writes in
// one update. Nil fields leave the stored value untouched.
type SubscriptionMirror struct {
	PlanID                    *string
	SubscriptionStatus        *SubscriptionStatus
	ExternalSubscriptionID    *string
	ExternalBillingCustomerID *string
	CurrentPeriodEnd          *NullTime
	TrialEndDate              *NullTime
	PaymentIssue              *bool
	LastFailedPaymentAt       *NullTime
	CancelAtPeriodEnd         *bool
}

// IsEmpty reports whether the mirror would change nothing.
func (m SubscriptionMirror) IsEmpty() bool {
	return m.PlanID == nil && m.SubscriptionStatus == nil && m.ExternalSubscriptionID == nil &&
		m.ExternalBillingCustomerID == nil && m.CurrentPeriodEnd == nil && m.TrialEndDate == nil &&
		m.PaymentIssue == nil && m.LastFailedPaymentAt == nil && m.CancelAtPeriodEnd == nil
}

// Apply copies the non-nil mirror fields onto u.
func (m SubscriptionMirror) Apply(u *User) {
	if m.PlanID != nil {
		u.PlanID = *m.PlanID
	}
	if m.SubscriptionStatus != nil {
		u.SubscriptionStatus = *m.SubscriptionStatus
	}
	if m.ExternalSubscriptionID != nil {
		u.ExternalSubscriptionID = *m.ExternalSubscriptionID
	}
	if m.ExternalBillingCustomerID != nil {
		u.ExternalBillingCustomerID = *m.ExternalBillingCustomerID
	}
	if m.CurrentPeriodEnd != nil {
		u.CurrentPeriodEnd = m.CurrentPeriodEnd.Ptr()
	}
	if m.TrialEndDate != nil {
		u.TrialEndDate = m.TrialEndDate.Ptr()
	}
	if m.PaymentIssue != nil {
		u.PaymentIssue = *m.PaymentIssue
	}
	if m.LastFailedPaymentAt != nil {
		u.LastFailedPaymentAt = m.LastFailedPaymentAt.Ptr()
	}
	if m.CancelAtPeriodEnd != nil {
		u.CancelAtPeriodEnd = *m.CancelAtPeriodEnd
	}
}

// Ref returns a pointer to v. Used to build SubscriptionMirror literals.
func Ref[T any](v T) *T { return &v }
