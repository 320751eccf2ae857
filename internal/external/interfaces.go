package external

import (
	"context"

	"roadmap/internal/types"
)

// ---------------------------------------------------------------------------
// Billing (Stripe)
// ---------------------------------------------------------------------------

// BillingProvider abstracts the payment provider calls made outside of
// webhook signature checking.
type BillingProvider interface {
	// GetCustomer fetches a customer. A deleted customer is returned with
	// Deleted set rather than as an error.
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)

	// CreateCustomer creates a customer tagged with metadata userId.
	CreateCustomer(ctx context.Context, email, identityID string) (string, error)

	// LatestSubscription returns the customer's most recent subscription in
	// any status, or a snapshot with Status "none".
	LatestSubscription(ctx context.Context, customerID string) (types.SubscriptionSnapshot, error)

	// CreateCheckoutSession starts a hosted checkout for one subscription.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)

	// CancelAtPeriodEnd schedules the subscription to end with the current
	// billing period and returns the updated snapshot.
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (types.SubscriptionSnapshot, error)
}

// Customer is the slice of a Stripe customer the backend reads.
type Customer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Deleted  bool              `json:"deleted"`
	Metadata map[string]string `json:"metadata"`
}

// IdentityID returns the Clerk user id stored in the customer metadata.
func (c *Customer) IdentityID() string {
	if c == nil || c.Deleted {
		return ""
	}
	return c.Metadata[MetadataUserID]
}

// MetadataUserID is the customer and subscription metadata key holding the
// Clerk user id.
const MetadataUserID = "userId"

// CheckoutParams describes one subscription checkout.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	IdentityID string
	SuccessURL string
	CancelURL  string
	// TrialDays is 0 for a paid checkout.
	TrialDays int
}

// CheckoutSession is the hosted checkout the client is redirected to.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ---------------------------------------------------------------------------
// Identity (Clerk)
// ---------------------------------------------------------------------------

// IdentityDirectory looks users up in the identity provider's backend API.
type IdentityDirectory interface {
	// GetUser returns ErrCodeNotFoundUser when the id is unknown.
	GetUser(ctx context.Context, id string) (*IdentityUser, error)
}

// IdentityUser is a Clerk user object. Webhook payloads carry the same shape.
type IdentityUser struct {
	ID                    string         `json:"id"`
	FirstName             string         `json:"first_name"`
	LastName              string         `json:"last_name"`
	ImageURL              string         `json:"image_url"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	EmailAddresses        []EmailAddress `json:"email_addresses"`
	UnsafeMetadata        map[string]any `json:"unsafe_metadata"`
}

// EmailAddress is one entry of IdentityUser.EmailAddresses.
type EmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

// PrimaryEmail returns the primary address, falling back to the first one.
func (u *IdentityUser) PrimaryEmail() string {
	for _, e := range u.EmailAddresses {
		if e.ID == u.PrimaryEmailAddressID {
			return e.EmailAddress
		}
	}
	if len(u.EmailAddresses) > 0 {
		return u.EmailAddresses[0].EmailAddress
	}
	return ""
}

// PlanOverride returns unsafe_metadata.planId, or "" when unset.
func (u *IdentityUser) PlanOverride() string {
	if u == nil {
		return ""
	}
	id, _ := u.UnsafeMetadata["planId"].(string)
	return id
}

// ---------------------------------------------------------------------------
// Content generation (OpenAI, Gemini)
// ---------------------------------------------------------------------------

// ChatMessage is one message of a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompleter runs a chat completion and returns the first choice text.
type ChatCompleter interface {
	Complete(ctx context.Context, messages []ChatMessage, jsonMode bool) (string, error)
}

// ContentGenerator runs a single-prompt generation and returns the text.
type ContentGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ---------------------------------------------------------------------------
// Email
// ---------------------------------------------------------------------------

// EmailSender transmits a pre-rendered email and returns the provider's
// message id.
//
// Permanent refusals (suppressed or invalid recipient) are reported as
// ErrCodeUpstreamEmailRejected so callers can skip retries.
type EmailSender interface {
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}
