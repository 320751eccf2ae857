package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"

	"roadmap/internal/types"
)

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string
	Logger    *slog.Logger
}

// StripeClient implements BillingProvider with direct form-encoded calls to
// the Stripe REST API through BaseClient. Requests are pinned to the API
// version of the stripe-go release the webhook verifier uses.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient. base may be nil, in which case a
// client with a 20 second timeout and the default retry policy is built.
func NewStripeClient(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	if base == nil {
		base = NewBaseClient(nil, "stripe", types.ErrCodeUpstreamStripe, DefaultRetryPolicy())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// GetCustomer fetches a customer by id.
func (s *StripeClient) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	var customer Customer
	if err := s.call(ctx, http.MethodGet, "/v1/customers/"+url.PathEscape(customerID), nil, "GetCustomer", &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// CreateCustomer creates a customer carrying the Clerk id in its metadata.
func (s *StripeClient) CreateCustomer(ctx context.Context, email, identityID string) (string, error) {
	params := url.Values{}
	params.Set("email", email)
	params.Set("metadata["+MetadataUserID+"]", identityID)

	var customer Customer
	if err := s.call(ctx, http.MethodPost, "/v1/customers", params, "CreateCustomer", &customer); err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "stripe customer created",
		"customer_id", customer.ID,
		"user_id", identityID,
	)
	return customer.ID, nil
}

// LatestSubscription lists the customer's newest subscription in any status
// with its default payment method expanded.
func (s *StripeClient) LatestSubscription(ctx context.Context, customerID string) (types.SubscriptionSnapshot, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("limit", "1")
	params.Set("status", "all")
	params.Add("expand[]", "data.default_payment_method")

	var list struct {
		Data []stripeSubscription `json:"data"`
	}
	if err := s.call(ctx, http.MethodGet, "/v1/subscriptions", params, "LatestSubscription", &list); err != nil {
		return types.SubscriptionSnapshot{}, err
	}

	if len(list.Data) == 0 {
		return types.SubscriptionSnapshot{Status: string(types.SubStatusNone)}, nil
	}
	return list.Data[0].snapshot(), nil
}

// CreateCheckoutSession creates a subscription-mode Checkout Session. The
// Clerk id is copied into client_reference_id and the subscription metadata
// so webhook events can be correlated without a customer lookup.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	if p.CustomerID == "" || p.PriceID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationSubscription,
			"checkout requires a customer and a price", nil)
	}

	params := url.Values{}
	params.Set("customer", p.CustomerID)
	params.Set("mode", "subscription")
	params.Set("line_items[0][price]", p.PriceID)
	params.Set("line_items[0][quantity]", "1")
	params.Set("success_url", p.SuccessURL)
	params.Set("cancel_url", p.CancelURL)
	if p.IdentityID != "" {
		params.Set("client_reference_id", p.IdentityID)
		params.Set("subscription_data[metadata]["+MetadataUserID+"]", p.IdentityID)
	}
	if p.TrialDays > 0 {
		params.Set("subscription_data[trial_period_days]", strconv.Itoa(p.TrialDays))
	}

	var session CheckoutSession
	if err := s.call(ctx, http.MethodPost, "/v1/checkout/sessions", params, "CreateCheckoutSession", &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// CancelAtPeriodEnd sets cancel_at_period_end on the subscription.
func (s *StripeClient) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (types.SubscriptionSnapshot, error) {
	params := url.Values{}
	params.Set("cancel_at_period_end", "true")

	var sub stripeSubscription
	path := "/v1/subscriptions/" + url.PathEscape(subscriptionID)
	if err := s.call(ctx, http.MethodPost, path, params, "CancelAtPeriodEnd", &sub); err != nil {
		return types.SubscriptionSnapshot{}, err
	}
	return sub.snapshot(), nil
}

// call performs one authenticated request and decodes a 2xx body into out.
func (s *StripeClient) call(ctx context.Context, method, path string, params url.Values, op string, out any) error {
	reqURL := s.baseURL + path
	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, op+": failed to build request", err)
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	resp, err := s.base.Do(req)
	if err != nil {
		return wrapTransportError(types.ErrCodeUpstreamStripe, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return s.handleErrorResponse(resp, op)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe, op+": failed to decode response", err)
	}
	return nil
}

// stripeErrorResponse is the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Param   string `json:"param"`
	} `json:"error"`
}

// handleErrorResponse maps a non-2xx Stripe response to an AppError.
// Missing resources map to not-found codes; everything else is upstream.
func (s *StripeClient) handleErrorResponse(resp *http.Response, op string) error {
	raw := readErrorBody(resp)

	var body stripeErrorResponse
	msg := raw
	if json.Unmarshal([]byte(raw), &body) == nil && body.Error.Message != "" {
		msg = body.Error.Message
	}

	if resp.StatusCode == http.StatusNotFound || body.Error.Code == "resource_missing" {
		code := types.ErrCodeNotFoundCustomer
		if strings.Contains(op, "Subscription") || strings.HasPrefix(op, "Cancel") {
			code = types.ErrCodeNotFoundSubscription
		}
		return types.NewAppError(code, fmt.Sprintf("%s: %s", op, msg), nil)
	}

	s.logger.Warn("stripe request rejected",
		"operation", op,
		"status", resp.StatusCode,
		"stripe_code", body.Error.Code,
		"param", body.Error.Param,
	)
	return types.NewAppErrorWithDetails(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe returned %d: %s", op, resp.StatusCode, msg),
		nil,
		map[string]any{"stripe_code": body.Error.Code},
	)
}

// ---------------------------------------------------------------------------
// Stripe response types
// ---------------------------------------------------------------------------

type stripeSubscription struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	DefaultPaymentMethod stripePaymentMethodRef `json:"default_payment_method"`
}

// snapshot flattens the subscription. Newer API versions moved the billing
// period onto the items, so the first item fills in missing values.
func (s stripeSubscription) snapshot() types.SubscriptionSnapshot {
	snap := types.SubscriptionSnapshot{
		SubscriptionID:     s.ID,
		Status:             s.Status,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		PaymentMethod:      s.DefaultPaymentMethod.card,
	}
	if len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		snap.PriceID = item.Price.ID
		if snap.CurrentPeriodStart == 0 {
			snap.CurrentPeriodStart = item.CurrentPeriodStart
		}
		if snap.CurrentPeriodEnd == 0 {
			snap.CurrentPeriodEnd = item.CurrentPeriodEnd
		}
	}
	return snap
}

// stripePaymentMethodRef decodes default_payment_method, which is a bare id
// unless expanded.
type stripePaymentMethodRef struct {
	card *types.PaymentMethod
}

func (r *stripePaymentMethodRef) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	var pm struct {
		Card *struct {
			Brand string `json:"brand"`
			Last4 string `json:"last4"`
		} `json:"card"`
	}
	if err := json.Unmarshal(data, &pm); err != nil {
		return err
	}
	if pm.Card != nil {
		r.card = &types.PaymentMethod{Brand: pm.Card.Brand, Last4: pm.Card.Last4}
	}
	return nil
}

var _ BillingProvider = (*StripeClient)(nil)
