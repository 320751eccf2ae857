package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"roadmap/internal/core"
	"roadmap/internal/external"
	"roadmap/internal/store"
	"roadmap/internal/types"
)

// SubscriptionCache is the Redis view of the payment provider used by the
// checkout flows.
type SubscriptionCache interface {
	CustomerID(ctx context.Context, clerkID string) (string, bool, error)
	PutCustomerID(ctx context.Context, clerkID, customerID string) error
	PutSnapshot(ctx context.Context, customerID string, snap types.SubscriptionSnapshot) error
}

// StartTrialRequest is the request body for POST /subscription/trial.
type StartTrialRequest struct {
	RedirectURL string `json:"redirectUrl" validate:"required"`
}

// checkoutURLResponse is returned by POST /users/create-subscription.
type checkoutURLResponse struct {
	URL string `json:"url"`
}

// trialResponse is returned by POST /subscription/trial.
type trialResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
	URL       string `json:"url,omitempty"`
	Message   string `json:"message"`
}

// syncResponse is returned by GET /users/subscription/sync.
type syncResponse struct {
	Message    string                     `json:"message"`
	StripeData types.SubscriptionSnapshot `json:"stripeData"`
}

type cancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SubscriptionHandler starts, syncs and cancels Pro subscriptions. Plan and
// status changes themselves arrive through the payment webhook; these
// endpoints only talk to the provider and refresh the cache.
type SubscriptionHandler struct {
	users       store.UserStore
	plans       PlanByName
	billing     external.BillingProvider
	cache       SubscriptionCache
	frontendURL string
	trialDays   int
	validator   *core.Validator
	logger      *slog.Logger
}

// SubscriptionConfig carries the checkout settings.
type SubscriptionConfig struct {
	FrontendURL string
	TrialDays   int
}

// NewSubscriptionHandler creates a SubscriptionHandler.
func NewSubscriptionHandler(
	users store.UserStore,
	plans PlanByName,
	billing external.BillingProvider,
	cache SubscriptionCache,
	cfg SubscriptionConfig,
	v *core.Validator,
	l *slog.Logger,
) *SubscriptionHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SubscriptionHandler{
		users:       users,
		plans:       plans,
		billing:     billing,
		cache:       cache,
		frontendURL: cfg.FrontendURL,
		trialDays:   cfg.TrialDays,
		validator:   v,
		logger:      l,
	}
}

// RegisterRoutes mounts the subscription routes.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/users/create-subscription", h.CreateCheckout)
	r.Get("/users/subscription/sync", h.Sync)
	r.Post("/subscription/trial", h.StartTrial)
	r.Post("/subscription/cancel", h.Cancel)
}

// CreateCheckout handles POST /users/create-subscription and returns the
// hosted checkout URL for the Pro plan.
func (h *SubscriptionHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}

	priceID, err := h.proPriceID(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	customerID, err := h.ensureCustomer(r.Context(), u)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	session, err := h.billing.CreateCheckoutSession(r.Context(), external.CheckoutParams{
		CustomerID: customerID,
		PriceID:    priceID,
		IdentityID: u.ExternalIdentityID,
		SuccessURL: h.frontendURL + "/success",
		CancelURL:  h.frontendURL + "/cancel",
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session created",
		"user_id", u.ID,
		"session_id", session.ID,
	)
	core.JSON(w, r, http.StatusOK, checkoutURLResponse{URL: session.URL})
}

// Sync handles GET /users/subscription/sync, called by the frontend after a
// successful checkout. It refreshes the cached subscription snapshot.
func (h *SubscriptionHandler) Sync(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}

	customerID, found, err := h.knownCustomer(r.Context(), u)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !found {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundCustomer, "payment customer not found", nil))
		return
	}

	snap, err := h.billing.LatestSubscription(r.Context(), customerID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.cache.PutSnapshot(r.Context(), customerID, snap); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalCache, "failed to store subscription data", err))
		return
	}
	core.JSON(w, r, http.StatusOK, syncResponse{Message: "Stripe data synced", StripeData: snap})
}

// StartTrial handles POST /subscription/trial. Users with an active or
// trialing subscription are refused.
func (h *SubscriptionHandler) StartTrial(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}

	var req StartTrialRequest
	if err := core.DecodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := types.ValidateRedirectURL(req.RedirectURL); err != nil {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidInput, "invalid redirectUrl", err,
			map[string]any{"fields": map[string]string{"redirectUrl": err.Error()}}))
		return
	}

	if u.SubscriptionStatus.HasLiveSubscription() {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationSubscription,
			"user already has an active subscription or trial", nil))
		return
	}

	priceID, err := h.proPriceID(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	customerID, err := h.ensureCustomer(r.Context(), u)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	session, err := h.billing.CreateCheckoutSession(r.Context(), external.CheckoutParams{
		CustomerID: customerID,
		PriceID:    priceID,
		IdentityID: u.ExternalIdentityID,
		SuccessURL: req.RedirectURL + "?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  req.RedirectURL,
		TrialDays:  h.trialDays,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "trial checkout session created",
		"user_id", u.ID,
		"session_id", session.ID,
		"trial_days", h.trialDays,
	)
	core.JSON(w, r, http.StatusOK, trialResponse{
		Success:   true,
		SessionID: session.ID,
		URL:       session.URL,
		Message:   "Checkout session created successfully",
	})
}

// Cancel handles POST /subscription/cancel. The subscription keeps running
// until the end of the paid period; the user is marked cancelling now.
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	if u.ExternalSubscriptionID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil))
		return
	}

	snap, err := h.billing.CancelAtPeriodEnd(r.Context(), u.ExternalSubscriptionID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	err = h.users.ApplyMirror(r.Context(), u.ID, types.SubscriptionMirror{
		SubscriptionStatus: types.Ref(types.SubStatusCancelling),
		CancelAtPeriodEnd:  types.Ref(true),
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if u.ExternalBillingCustomerID != "" {
		if err := h.cache.PutSnapshot(r.Context(), u.ExternalBillingCustomerID, snap); err != nil {
			h.logger.WarnContext(r.Context(), "failed to cache cancelled subscription",
				"user_id", u.ID,
				"error", err,
			)
		}
	}

	core.JSON(w, r, http.StatusOK, cancelResponse{Success: true, Message: "Subscription cancelled successfully"})
}

func (h *SubscriptionHandler) proPriceID(ctx context.Context) (string, error) {
	pro, err := h.plans.ByName(ctx, types.PlanNamePro)
	if err != nil {
		return "", err
	}
	if pro.ExternalPriceRef == "" {
		return "", types.NewAppError(types.ErrCodeInternalPlanIntegrity, "pro plan price is not configured", nil)
	}
	return pro.ExternalPriceRef, nil
}

// knownCustomer returns the payment customer id from the cache, falling back
// to the id mirrored on the user record.
func (h *SubscriptionHandler) knownCustomer(ctx context.Context, u *types.User) (string, bool, error) {
	id, ok, err := h.cache.CustomerID(ctx, u.ExternalIdentityID)
	if err != nil {
		return "", false, types.NewAppError(types.ErrCodeInternalCache, "failed to read customer id", err)
	}
	if ok {
		return id, true, nil
	}
	if u.ExternalBillingCustomerID != "" {
		return u.ExternalBillingCustomerID, true, nil
	}
	return "", false, nil
}

// ensureCustomer returns the user's payment customer, creating one on first
// checkout.
func (h *SubscriptionHandler) ensureCustomer(ctx context.Context, u *types.User) (string, error) {
	id, ok, err := h.knownCustomer(ctx, u)
	if err != nil {
		return "", err
	}
	if !ok {
		id, err = h.billing.CreateCustomer(ctx, u.Email, u.ExternalIdentityID)
		if err != nil {
			return "", err
		}
		h.logger.InfoContext(ctx, "payment customer created",
			"user_id", u.ID,
			"customer_id", id,
		)
		if err := h.users.ApplyMirror(ctx, u.ID, types.SubscriptionMirror{ExternalBillingCustomerID: types.Ref(id)}); err != nil {
			return "", err
		}
	}
	if err := h.cache.PutCustomerID(ctx, u.ExternalIdentityID, id); err != nil {
		h.logger.WarnContext(ctx, "failed to cache customer id",
			"user_id", u.ID,
			"error", err,
		)
	}
	return id, nil
}
