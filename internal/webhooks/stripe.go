package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"roadmap/internal/external"
	"roadmap/internal/notify"
	"roadmap/internal/store"
	"roadmap/internal/types"
)

// Stripe event types handled by the reconciler.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventSubscriptionCreated    = "customer.subscription.created"
	EventSubscriptionUpdated    = "customer.subscription.updated"
	EventSubscriptionPaused     = "customer.subscription.paused"
	EventSubscriptionResumed    = "customer.subscription.resumed"
	EventSubscriptionDeleted    = "customer.subscription.deleted"
	EventTrialWillEnd           = "customer.subscription.trial_will_end"
	EventInvoicePaymentFailed   = "invoice.payment_failed"
	EventInvoicePaid            = "invoice.paid"
	EventInvoicePaymentSucceeds = "invoice.payment_succeeded"
)

// StripeEvent is the subset of a Stripe event envelope the reconciler reads.
type StripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseStripeEvent decodes a verified webhook body.
func ParseStripeEvent(payload []byte) (StripeEvent, error) {
	var ev StripeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, types.NewAppError(types.ErrCodeValidationInvalidInput, "invalid webhook event JSON", err)
	}
	if ev.Type == "" {
		return ev, types.NewAppError(types.ErrCodeValidationMissingField, "webhook event has no type", nil)
	}
	return ev, nil
}

// expandableID decodes a Stripe reference that is either a bare id or an
// expanded object carrying an id.
type expandableID string

func (e *expandableID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*e = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type checkoutSessionObj struct {
	ID           string       `json:"id"`
	Customer     expandableID `json:"customer"`
	Subscription expandableID `json:"subscription"`
}

type subscriptionObj struct {
	ID                string       `json:"id"`
	Customer          expandableID `json:"customer"`
	Status            string       `json:"status"`
	CancelAtPeriodEnd bool         `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64        `json:"current_period_end"`
	TrialEnd          int64        `json:"trial_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// periodEnd reads the billing period end, which newer API versions report
// per subscription item.
func (s subscriptionObj) periodEnd() int64 {
	if s.CurrentPeriodEnd != 0 {
		return s.CurrentPeriodEnd
	}
	if len(s.Items.Data) > 0 {
		return s.Items.Data[0].CurrentPeriodEnd
	}
	return 0
}

// localStatus maps the provider status, reporting a subscription that will
// not renew as cancelling.
func (s subscriptionObj) localStatus() types.SubscriptionStatus {
	status := types.ParseSubscriptionStatus(s.Status)
	if s.CancelAtPeriodEnd && status == types.SubStatusActive {
		return types.SubStatusCancelling
	}
	return status
}

type invoiceObj struct {
	ID       string       `json:"id"`
	Customer expandableID `json:"customer"`
}

// CustomerSource is the part of the billing provider the reconciler needs.
type CustomerSource interface {
	GetCustomer(ctx context.Context, customerID string) (*external.Customer, error)
	LatestSubscription(ctx context.Context, customerID string) (types.SubscriptionSnapshot, error)
}

// SnapshotStore caches subscription snapshots. Satisfied by
// *cache.SubscriptionCache.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, customerID string, snap types.SubscriptionSnapshot) error
}

// StripeConfig wires a StripeReconciler.
type StripeConfig struct {
	Users     store.UserStore
	Plans     PlanLookup
	Customers CustomerSource
	Snapshots SnapshotStore
	Dedup     Deduper
	Notifier  notify.Notifier
	Clock     types.Clock
	Logger    *slog.Logger
}

type stripeHandler func(ctx context.Context, ev StripeEvent) error

// StripeReconciler applies Stripe subscription lifecycle events to the
// subscription state mirror on the User record.
type StripeReconciler struct {
	users     store.UserStore
	plans     PlanLookup
	customers CustomerSource
	snapshots SnapshotStore
	mail      *mailer
	clock     types.Clock
	logger    *slog.Logger

	handlers map[string]stripeHandler
}

// NewStripeReconciler builds the dispatch table.
func NewStripeReconciler(cfg StripeConfig) *StripeReconciler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	logger := cfg.Logger.With("component", "stripe_reconciler")

	r := &StripeReconciler{
		users:     cfg.Users,
		plans:     cfg.Plans,
		customers: cfg.Customers,
		snapshots: cfg.Snapshots,
		mail:      &mailer{source: SourceStripe, dedup: cfg.Dedup, notifier: cfg.Notifier, logger: logger},
		clock:     cfg.Clock,
		logger:    logger,
	}
	r.handlers = map[string]stripeHandler{
		EventCheckoutCompleted:      r.handleCheckoutCompleted,
		EventSubscriptionCreated:    r.handleSubscriptionChanged,
		EventSubscriptionUpdated:    r.handleSubscriptionChanged,
		EventSubscriptionPaused:     r.handleSubscriptionPaused,
		EventSubscriptionResumed:    r.handleSubscriptionResumed,
		EventSubscriptionDeleted:    r.handleSubscriptionDeleted,
		EventTrialWillEnd:           r.handleTrialWillEnd,
		EventInvoicePaymentFailed:   r.handlePaymentFailed,
		EventInvoicePaid:            r.handleInvoicePaid,
		EventInvoicePaymentSucceeds: r.handleInvoicePaid,
	}
	return r
}

// Handles reports whether eventType has a handler.
func (r *StripeReconciler) Handles(eventType string) bool {
	_, ok := r.handlers[eventType]
	return ok
}

// Process applies ev and reports whether it changed local state.
// Unrecognized events and handler failures report false.
func (r *StripeReconciler) Process(ctx context.Context, ev StripeEvent) bool {
	logger := r.logger.With("event_id", ev.ID, "event_type", ev.Type)

	h, ok := r.handlers[ev.Type]
	if !ok {
		logger.InfoContext(ctx, "ignoring unhandled stripe event")
		return false
	}

	if err := h(ctx, ev); err != nil {
		if errors.Is(err, errSkip) {
			logger.InfoContext(ctx, "stripe event not applied", "reason", err.Error())
		} else {
			logger.ErrorContext(ctx, "stripe event processing failed", "error", err)
		}
		return false
	}
	logger.InfoContext(ctx, "stripe event processed")
	return true
}

func decodeObject(ev StripeEvent, dst any) error {
	if len(ev.Data.Object) == 0 {
		return fmt.Errorf("%s: event has no data object", ev.Type)
	}
	if err := json.Unmarshal(ev.Data.Object, dst); err != nil {
		return fmt.Errorf("%s: decoding data object: %w", ev.Type, err)
	}
	return nil
}

// resolveUser maps a Stripe customer to the local user through the
// customer's userId metadata. Deleted customers, customers without the
// metadata and unknown identities are skipped.
func (r *StripeReconciler) resolveUser(ctx context.Context, customerID string) (*types.User, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: no customer on event", errSkip)
	}

	customer, err := r.customers.GetCustomer(ctx, customerID)
	if err != nil {
		if types.IsCode(err, types.ErrCodeNotFoundCustomer) {
			return nil, fmt.Errorf("%w: customer %s not found", errSkip, customerID)
		}
		return nil, fmt.Errorf("retrieving customer %s: %w", customerID, err)
	}

	identityID := customer.IdentityID()
	if identityID == "" {
		return nil, fmt.Errorf("%w: customer %s is deleted or has no userId metadata", errSkip, customerID)
	}

	u, err := r.users.GetByExternalID(ctx, identityID)
	if err != nil {
		if types.IsCode(err, types.ErrCodeNotFoundUser) {
			return nil, fmt.Errorf("%w: no local user for %s", errSkip, identityID)
		}
		return nil, fmt.Errorf("loading user %s: %w", identityID, err)
	}
	return u, nil
}

func (r *StripeReconciler) planID(ctx context.Context, name string) (string, error) {
	p, err := r.plans.ByName(ctx, name)
	if err != nil {
		return "", fmt.Errorf("resolving %s plan: %w", name, err)
	}
	return p.ID, nil
}

// refreshSnapshot re-reads the customer's latest subscription into the
// cache. The cache is not authoritative, so failures are only logged.
func (r *StripeReconciler) refreshSnapshot(ctx context.Context, customerID string) {
	if r.snapshots == nil || customerID == "" {
		return
	}
	snap, err := r.customers.LatestSubscription(ctx, customerID)
	if err == nil {
		err = r.snapshots.PutSnapshot(ctx, customerID, snap)
	}
	if err != nil {
		r.logger.WarnContext(ctx, "failed to refresh subscription snapshot",
			"customer_id", customerID,
			"error", err,
		)
	}
}

func (r *StripeReconciler) apply(ctx context.Context, u *types.User, m types.SubscriptionMirror) error {
	if err := r.users.ApplyMirror(ctx, u.ID, m); err != nil {
		return fmt.Errorf("updating user %s: %w", u.ID, err)
	}
	m.Apply(u)
	return nil
}

func (r *StripeReconciler) handleCheckoutCompleted(ctx context.Context, ev StripeEvent) error {
	var session checkoutSessionObj
	if err := decodeObject(ev, &session); err != nil {
		return err
	}
	customerID := string(session.Customer)

	u, err := r.resolveUser(ctx, customerID)
	if err != nil {
		return err
	}
	proID, err := r.planID(ctx, types.PlanNamePro)
	if err != nil {
		return err
	}

	if err := r.apply(ctx, u, types.SubscriptionMirror{
		PlanID:                    &proID,
		ExternalBillingCustomerID: &customerID,
	}); err != nil {
		return err
	}
	r.refreshSnapshot(ctx, customerID)
	return nil
}

func (r *StripeReconciler) handleSubscriptionChanged(ctx context.Context, ev StripeEvent) error {
	var sub subscriptionObj
	if err := decodeObject(ev, &sub); err != nil {
		return err
	}
	customerID := string(sub.Customer)

	u, err := r.resolveUser(ctx, customerID)
	if err != nil {
		return err
	}
	previousPlanID := u.PlanID

	status := sub.localStatus()
	m := types.SubscriptionMirror{
		SubscriptionStatus:        &status,
		ExternalSubscriptionID:    &sub.ID,
		ExternalBillingCustomerID: &customerID,
		CancelAtPeriodEnd:         &sub.CancelAtPeriodEnd,
	}
	if end := sub.periodEnd(); end > 0 {
		m.CurrentPeriodEnd = types.SetTime(time.Unix(end, 0).UTC())
	}
	if sub.TrialEnd > 0 {
		m.TrialEndDate = types.SetTime(time.Unix(sub.TrialEnd, 0).UTC())
	}
	live := status == types.SubStatusActive || status == types.SubStatusTrialing || status == types.SubStatusCancelling
	if live {
		proID, err := r.planID(ctx, types.PlanNamePro)
		if err != nil {
			return err
		}
		m.PlanID = &proID
	}

	if err := r.apply(ctx, u, m); err != nil {
		return err
	}
	r.refreshSnapshot(ctx, customerID)

	if !live {
		return nil
	}

	plan, err := r.plans.ByID(ctx, u.PlanID)
	if err != nil {
		r.logger.WarnContext(ctx, "user plan not found, subscription email skipped",
			"user_id", u.ID,
			"plan_id", u.PlanID,
		)
		return nil
	}

	if ev.Type == EventSubscriptionCreated {
		r.mail.send(ctx, ev.ID, u, types.NotifySubscriptionCreated, map[string]any{
			notify.DataFirstName: u.FirstName,
			notify.DataPlanName:  plan.Name,
		})
		return nil
	}

	data := map[string]any{
		notify.DataFirstName:         u.FirstName,
		notify.DataPlanName:          plan.Name,
		notify.DataCancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if previousPlanID != u.PlanID {
		if prev, err := r.plans.ByID(ctx, previousPlanID); err == nil {
			data[notify.DataOldPlan] = prev.Name
		}
	}
	if u.CurrentPeriodEnd != nil {
		data[notify.DataPeriodEnd] = u.CurrentPeriodEnd.Format("January 2, 2006")
	}
	r.mail.send(ctx, ev.ID, u, types.NotifySubscriptionUpdated, data)
	return nil
}

func (r *StripeReconciler) handleSubscriptionPaused(ctx context.Context, ev StripeEvent) error {
	var sub subscriptionObj
	if err := decodeObject(ev, &sub); err != nil {
		return err
	}
	u, err := r.resolveUser(ctx, string(sub.Customer))
	if err != nil {
		return err
	}

	status := types.SubStatusPaused
	if err := r.apply(ctx, u, types.SubscriptionMirror{SubscriptionStatus: &status}); err != nil {
		return err
	}
	r.refreshSnapshot(ctx, string(sub.Customer))
	r.mail.send(ctx, ev.ID, u, types.NotifySubscriptionPaused, nil)
	return nil
}

func (r *StripeReconciler) handleSubscriptionResumed(ctx context.Context, ev StripeEvent) error {
	var sub subscriptionObj
	if err := decodeObject(ev, &sub); err != nil {
		return err
	}
	u, err := r.resolveUser(ctx, string(sub.Customer))
	if err != nil {
		return err
	}
	proID, err := r.planID(ctx, types.PlanNamePro)
	if err != nil {
		return err
	}

	status := types.SubStatusActive
	if err := r.apply(ctx, u, types.SubscriptionMirror{
		PlanID:             &proID,
		SubscriptionStatus: &status,
	}); err != nil {
		return err
	}
	r.refreshSnapshot(ctx, string(sub.Customer))
	r.mail.send(ctx, ev.ID, u, types.NotifySubscriptionResumed, nil)
	return nil
}

func (r *StripeReconciler) handleSubscriptionDeleted(ctx context.Context, ev StripeEvent) error {
	var sub subscriptionObj
	if err := decodeObject(ev, &sub); err != nil {
		return err
	}
	u, err := r.resolveUser(ctx, string(sub.Customer))
	if err != nil {
		return err
	}
	freeID, err := r.planID(ctx, types.PlanNameFree)
	if err != nil {
		return err
	}

	status := types.SubStatusCanceled
	noSubscription := ""
	noCancel := false
	if err := r.apply(ctx, u, types.SubscriptionMirror{
		PlanID:                 &freeID,
		SubscriptionStatus:     &status,
		ExternalSubscriptionID: &noSubscription,
		CancelAtPeriodEnd:      &noCancel,
	}); err != nil {
		return err
	}
	r.refreshSnapshot(ctx, string(sub.Customer))
	r.mail.send(ctx, ev.ID, u, types.NotifySubscriptionCancel, nil)
	return nil
}

// DaysLeft rounds the time until end up to whole days, never below zero.
func DaysLeft(end, now time.Time) int {
	d := end.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}

func (r *StripeReconciler) handleTrialWillEnd(ctx context.Context, ev StripeEvent) error {
	var sub subscriptionObj
	if err := decodeObject(ev, &sub); err != nil {
		return err
	}
	if sub.TrialEnd == 0 {
		return fmt.Errorf("%w: subscription %s has no trial_end", errSkip, sub.ID)
	}
	u, err := r.resolveUser(ctx, string(sub.Customer))
	if err != nil {
		return err
	}

	trialEnd := time.Unix(sub.TrialEnd, 0).UTC()
	if err := r.apply(ctx, u, types.SubscriptionMirror{TrialEndDate: types.SetTime(trialEnd)}); err != nil {
		return err
	}
	r.mail.send(ctx, ev.ID, u, types.NotifyTrialEnding, map[string]any{
		notify.DataFirstName: u.FirstName,
		notify.DataDaysLeft:  DaysLeft(trialEnd, r.clock.Now()),
	})
	return nil
}

func (r *StripeReconciler) handlePaymentFailed(ctx context.Context, ev StripeEvent) error {
	var inv invoiceObj
	if err := decodeObject(ev, &inv); err != nil {
		return err
	}
	u, err := r.resolveUser(ctx, string(inv.Customer))
	if err != nil {
		return err
	}

	issue := true
	status := types.SubStatusPastDue
	if err := r.apply(ctx, u, types.SubscriptionMirror{
		PaymentIssue:        &issue,
		LastFailedPaymentAt: types.SetTime(r.clock.Now().UTC()),
		SubscriptionStatus:  &status,
	}); err != nil {
		return err
	}
	r.mail.send(ctx, ev.ID, u, types.NotifyPaymentFailed, map[string]any{
		notify.DataFirstName: u.FirstName,
	})
	return nil
}

func (r *StripeReconciler) handleInvoicePaid(ctx context.Context, ev StripeEvent) error {
	var inv invoiceObj
	if err := decodeObject(ev, &inv); err != nil {
		return err
	}
	u, err := r.resolveUser(ctx, string(inv.Customer))
	if err != nil {
		return err
	}

	issue := false
	if err := r.apply(ctx, u, types.SubscriptionMirror{PaymentIssue: &issue}); err != nil {
		return err
	}
	r.refreshSnapshot(ctx, string(inv.Customer))
	return nil
}
