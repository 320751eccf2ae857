package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadmap/internal/external"
	"roadmap/internal/types"
)

type subscriptionFixture struct {
	h       *SubscriptionHandler
	db      *memDB
	billing *mockBilling
	cache   *mockSubCache
}

func newSubscriptionFixture() subscriptionFixture {
	db := newMemDB()
	billing := &mockBilling{}
	cache := newMockSubCache()
	h := NewSubscriptionHandler(memUsers{db}, defaultPlans(), billing, cache,
		SubscriptionConfig{FrontendURL: "https://roadmap.it.com", TrialDays: 7},
		testValidator(), slog.Default())
	return subscriptionFixture{h: h, db: db, billing: billing, cache: cache}
}

func TestSubscriptionHandler_CreateCheckout_NewCustomer(t *testing.T) {
	f := newSubscriptionFixture()
	me, _, _, _ := seedOwner(f.db)

	f.billing.createCustomerFn = func(_ context.Context, email, identityID string) (string, error) {
		assert.Equal(t, "ada@example.com", email)
		assert.Equal(t, testClerkID, identityID)
		return "cus_123", nil
	}

	w := httptest.NewRecorder()
	f.h.CreateCheckout(w, userRequest(http.MethodPost, "/api/users/create-subscription", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"url":"https://checkout.stripe.com/c/pay/cs_test_1"}`, w.Body.String())

	require.Len(t, f.billing.checkouts, 1)
	p := f.billing.checkouts[0]
	assert.Equal(t, "cus_123", p.CustomerID)
	assert.Equal(t, "price_pro", p.PriceID)
	assert.Equal(t, "https://roadmap.it.com/success", p.SuccessURL)
	assert.Equal(t, "https://roadmap.it.com/cancel", p.CancelURL)
	assert.Zero(t, p.TrialDays)

	assert.Equal(t, "cus_123", f.cache.customers[testClerkID])
	assert.Equal(t, "cus_123", f.db.users[me.ID].ExternalBillingCustomerID)
}

func TestSubscriptionHandler_CreateCheckout_ReusesCachedCustomer(t *testing.T) {
	f := newSubscriptionFixture()
	seedOwner(f.db)
	f.cache.customers[testClerkID] = "cus_cached"
	f.billing.createCustomerFn = func(context.Context, string, string) (string, error) {
		t.Fatal("customer must not be recreated")
		return "", nil
	}

	w := httptest.NewRecorder()
	f.h.CreateCheckout(w, userRequest(http.MethodPost, "/api/users/create-subscription", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cus_cached", f.billing.checkouts[0].CustomerID)
}

func TestSubscriptionHandler_CreateCheckout_ProPriceMissing(t *testing.T) {
	f := newSubscriptionFixture()
	seedOwner(f.db)
	plans := defaultPlans()
	plans.plans[types.PlanNamePro].ExternalPriceRef = ""
	f.h.plans = plans

	w := httptest.NewRecorder()
	f.h.CreateCheckout(w, userRequest(http.MethodPost, "/api/users/create-subscription", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(types.ErrCodeInternalPlanIntegrity), errorCode(w.Body.Bytes()))
	assert.Empty(t, f.billing.checkouts)
}

func TestSubscriptionHandler_CreateCheckout_ProviderFailure(t *testing.T) {
	f := newSubscriptionFixture()
	seedOwner(f.db)
	f.billing.checkoutFn = func(context.Context, external.CheckoutParams) (*external.CheckoutSession, error) {
		return nil, types.NewAppError(types.ErrCodeUpstreamStripe, "stripe unavailable", errors.New("503"))
	}

	w := httptest.NewRecorder()
	f.h.CreateCheckout(w, userRequest(http.MethodPost, "/api/users/create-subscription", nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestSubscriptionHandler_Sync(t *testing.T) {
	f := newSubscriptionFixture()
	me, _, _, _ := seedOwner(f.db)
	u := f.db.users[me.ID]
	u.ExternalBillingCustomerID = "cus_db"
	f.db.users[me.ID] = u

	f.billing.latestFn = func(_ context.Context, customerID string) (types.SubscriptionSnapshot, error) {
		assert.Equal(t, "cus_db", customerID)
		return types.SubscriptionSnapshot{SubscriptionID: "sub_1", Status: "active", PriceID: "price_pro"}, nil
	}

	w := httptest.NewRecorder()
	f.h.Sync(w, userRequest(http.MethodGet, "/api/users/subscription/sync", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		StripeData types.SubscriptionSnapshot `json:"stripeData"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "sub_1", resp.StripeData.SubscriptionID)
	assert.Equal(t, "active", f.cache.snapshots["cus_db"].Status)
}

func TestSubscriptionHandler_Sync_NoCustomer(t *testing.T) {
	f := newSubscriptionFixture()
	seedOwner(f.db)

	w := httptest.NewRecorder()
	f.h.Sync(w, userRequest(http.MethodGet, "/api/users/subscription/sync", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(types.ErrCodeNotFoundCustomer), errorCode(w.Body.Bytes()))
}

func TestSubscriptionHandler_Sync_CacheReadFailure(t *testing.T) {
	f := newSubscriptionFixture()
	seedOwner(f.db)
	f.cache.readErr = errors.New("redis down")

	w := httptest.NewRecorder()
	f.h.Sync(w, userRequest(http.MethodGet, "/api/users/subscription/sync", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(types.ErrCodeInternalCache), errorCode(w.Body.Bytes()))
}

func TestSubscriptionHandler_StartTrial(t *testing.T) {
	f := newSubscriptionFixture()
	seedOwner(f.db)

	w := httptest.NewRecorder()
	f.h.StartTrial(w, userRequest(http.MethodPost, "/api/subscription/trial", map[string]any{
		"redirectUrl": "https://roadmap.it.com/billing",
	}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp trialResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "cs_test_1", resp.SessionID)

	require.Len(t, f.billing.checkouts, 1)
	p := f.billing.checkouts[0]
	assert.Equal(t, 7, p.TrialDays)
	assert.Equal(t, "https://roadmap.it.com/billing?session_id={CHECKOUT_SESSION_ID}", p.SuccessURL)
	assert.Equal(t, "https://roadmap.it.com/billing", p.CancelURL)
}

func TestSubscriptionHandler_StartTrial_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		status   types.SubscriptionStatus
		body     map[string]any
		wantCode types.ErrorCode
	}{
		{"missing redirect", types.SubStatusNone, map[string]any{}, types.ErrCodeValidationMissingField},
		{"insecure redirect", types.SubStatusNone, map[string]any{"redirectUrl": "http://evil.example.com"}, types.ErrCodeValidationInvalidInput},
		{"already active", types.SubStatusActive, map[string]any{"redirectUrl": "https://roadmap.it.com"}, types.ErrCodeValidationSubscription},
		{"already trialing", types.SubStatusTrialing, map[string]any{"redirectUrl": "https://roadmap.it.com"}, types.ErrCodeValidationSubscription},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSubscriptionFixture()
			f.db.addUser(types.User{ExternalIdentityID: testClerkID, Email: "ada@example.com", SubscriptionStatus: tt.status})

			w := httptest.NewRecorder()
			f.h.StartTrial(w, userRequest(http.MethodPost, "/api/subscription/trial", tt.body))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, string(tt.wantCode), errorCode(w.Body.Bytes()))
			assert.Empty(t, f.billing.checkouts)
		})
	}
}

func TestSubscriptionHandler_Cancel(t *testing.T) {
	f := newSubscriptionFixture()
	me := f.db.addUser(types.User{
		ExternalIdentityID:        testClerkID,
		SubscriptionStatus:        types.SubStatusActive,
		ExternalSubscriptionID:    "sub_1",
		ExternalBillingCustomerID: "cus_1",
	})

	w := httptest.NewRecorder()
	f.h.Cancel(w, userRequest(http.MethodPost, "/api/subscription/cancel", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"sub_1"}, f.billing.cancelled)
	stored := f.db.users[me.ID]
	assert.Equal(t, types.SubStatusCancelling, stored.SubscriptionStatus)
	assert.True(t, stored.CancelAtPeriodEnd)
	assert.True(t, f.cache.snapshots["cus_1"].CancelAtPeriodEnd)
}

func TestSubscriptionHandler_Cancel_NoSubscription(t *testing.T) {
	f := newSubscriptionFixture()
	seedOwner(f.db)

	w := httptest.NewRecorder()
	f.h.Cancel(w, userRequest(http.MethodPost, "/api/subscription/cancel", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(types.ErrCodeNotFoundSubscription), errorCode(w.Body.Bytes()))
	assert.Empty(t, f.billing.cancelled)
}
