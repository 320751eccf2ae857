package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadmap/internal/external"
	"roadmap/internal/types"
)

var stripeNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type stripeFixture struct {
	users     *memUsers
	customers *fakeCustomers
	snapshots *fakeSnapshots
	dedup     *memDedup
	notifier  *fakeNotifier
	clock     *time.Time
	rec       *StripeReconciler
}

func newStripeFixture(t *testing.T) *stripeFixture {
	t.Helper()
	now := stripeNow
	f := &stripeFixture{
		users: newMemUsers(types.User{
			ID:                 "u1",
			ExternalIdentityID: "user_abc",
			Email:              "ada@example.com",
			FirstName:          "Ada",
			PlanID:             "plan_free",
			SubscriptionStatus: types.SubStatusNone,
		}),
		customers: &fakeCustomers{customers: map[string]*external.Customer{
			"cus_1":       {ID: "cus_1", Metadata: map[string]string{"userId": "user_abc"}},
			"cus_nometa":  {ID: "cus_nometa"},
			"cus_deleted": {ID: "cus_deleted", Deleted: true, Metadata: map[string]string{"userId": "user_abc"}},
			"cus_ghost":   {ID: "cus_ghost", Metadata: map[string]string{"userId": "user_ghost"}},
		}},
		snapshots: &fakeSnapshots{},
		dedup:     newMemDedup(),
		notifier:  &fakeNotifier{},
		clock:     &now,
	}
	f.customers.snapshot = types.SubscriptionSnapshot{SubscriptionID: "sub_1", Status: "active"}
	f.rec = NewStripeReconciler(StripeConfig{
		Users:     f.users,
		Plans:     testPlans(),
		Customers: f.customers,
		Snapshots: f.snapshots,
		Dedup:     f.dedup,
		Notifier:  f.notifier,
		Clock:     types.ClockFunc(func() time.Time { return *f.clock }),
		Logger:    discard(),
	})
	return f
}

func stripeEvent(t *testing.T, id, typ string, object map[string]any) StripeEvent {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":      id,
		"type":    typ,
		"created": stripeNow.Unix(),
		"data":    map[string]any{"object": object},
	})
	require.NoError(t, err)
	ev, err := ParseStripeEvent(raw)
	require.NoError(t, err)
	return ev
}

func TestParseStripeEvent_Invalid(t *testing.T) {
	_, err := ParseStripeEvent([]byte(`{`))
	assert.True(t, types.IsCode(err, types.ErrCodeValidationInvalidInput))

	_, err = ParseStripeEvent([]byte(`{"id":"evt_1"}`))
	assert.True(t, types.IsCode(err, types.ErrCodeValidationMissingField))
}

func TestStripe_UnhandledEventIsIgnored(t *testing.T) {
	f := newStripeFixture(t)
	ev := stripeEvent(t, "evt_1", "payment_intent.created", map[string]any{"customer": "cus_1"})

	assert.False(t, f.rec.Process(context.Background(), ev))
	assert.False(t, f.rec.Handles("payment_intent.created"))
	assert.Empty(t, f.users.mirrors)
}

func TestStripe_CheckoutCompletedUpgradesToPro(t *testing.T) {
	f := newStripeFixture(t)
	ev := stripeEvent(t, "evt_1", EventCheckoutCompleted, map[string]any{
		"id": "cs_1", "customer": "cus_1", "subscription": "sub_1",
	})

	require.True(t, f.rec.Process(context.Background(), ev))

	u := f.users.get("u1")
	assert.Equal(t, "plan_pro", u.PlanID)
	assert.Equal(t, "cus_1", u.ExternalBillingCustomerID)
	assert.Equal(t, "sub_1", f.snapshots.puts["cus_1"].SubscriptionID)
	assert.Empty(t, f.notifier.sent)
}

func TestStripe_CustomerResolutionSkips(t *testing.T) {
	tests := []struct {
		name     string
		customer any
	}{
		{"no metadata", "cus_nometa"},
		{"deleted customer", "cus_deleted"},
		{"unknown customer", "cus_missing"},
		{"unknown identity", "cus_ghost"},
		{"no customer", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStripeFixture(t)
			ev := stripeEvent(t, "evt_1", EventInvoicePaymentFailed, map[string]any{"customer": tt.customer})

			assert.False(t, f.rec.Process(context.Background(), ev))
			assert.Empty(t, f.users.mirrors, "no mutation expected")
			assert.Empty(t, f.notifier.sent)
		})
	}
}

func TestStripe_ExpandedCustomerObject(t *testing.T) {
	f := newStripeFixture(t)
	ev := stripeEvent(t, "evt_1", EventInvoicePaid, map[string]any{
		"customer": map[string]any{"id": "cus_1", "object": "customer"},
	})

	assert.True(t, f.rec.Process(context.Background(), ev))
}

func TestStripe_SubscriptionCreated(t *testing.T) {
	f := newStripeFixture(t)
	ev := stripeEvent(t, "evt_sub", EventSubscriptionCreated, map[string]any{
		"id":                   "sub_1",
		"customer":             "cus_1",
		"status":               "trialing",
		"cancel_at_period_end": false,
		"trial_end":            stripeNow.Add(7 * 24 * time.Hour).Unix(),
		"items": map[string]any{"data": []any{
			map[string]any{"current_period_end": stripeNow.Add(30 * 24 * time.Hour).Unix()},
		}},
	})

	require.True(t, f.rec.Process(context.Background(), ev))

	u := f.users.get("u1")
	assert.Equal(t, "plan_pro", u.PlanID)
	assert.Equal(t, types.SubStatusTrialing, u.SubscriptionStatus)
	assert.Equal(t, "sub_1", u.ExternalSubscriptionID)
	require.NotNil(t, u.CurrentPeriodEnd)
	assert.True(t, u.CurrentPeriodEnd.Equal(stripeNow.Add(30*24*time.Hour)))
	require.NotNil(t, u.TrialEndDate)

	require.Len(t, f.notifier.sent, 1)
	msg := f.notifier.sent[0]
	assert.Equal(t, types.NotifySubscriptionCreated, msg.Kind)
	assert.Equal(t, "ada@example.com", msg.To)
	assert.Equal(t, "Pro", msg.Data["plan_name"])
	assert.Equal(t, "evt_sub", msg.DedupKey)
}

func TestStripe_SubscriptionUpdatedCancelAtPeriodEnd(t *testing.T) {
	f := newStripeFixture(t)
	ev := stripeEvent(t, "evt_upd", EventSubscriptionUpdated, map[string]any{
		"id":                   "sub_1",
		"customer":             "cus_1",
		"status":               "active",
		"cancel_at_period_end": true,
		"current_period_end":   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC).Unix(),
	})

	require.True(t, f.rec.Process(context.Background(), ev))

	u := f.users.get("u1")
	assert.Equal(t, types.SubStatusCancelling, u.SubscriptionStatus)
	assert.True(t, u.CancelAtPeriodEnd)

	require.Len(t, f.notifier.sent, 1)
	data := f.notifier.sent[0].Data
	assert.Equal(t, types.NotifySubscriptionUpdated, f.notifier.sent[0].Kind)
	assert.Equal(t, "Free", data["old_plan"])
	assert.Equal(t, "Pro", data["plan_name"])
	assert.Equal(t, "April 1, 2026", data["period_end"])
	assert.Equal(t, true, data["cancel_at_period_end"])
}

func TestStripe_SubscriptionUpdatedIncompleteKeepsPlan(t *testing.T) {
	f := newStripeFixture(t)
	ev := stripeEvent(t, "evt_1", EventSubscriptionUpdated, map[string]any{
		"id": "sub_1", "customer": "cus_1", "status": "incomplete",
	})

	require.True(t, f.rec.Process(context.Background(), ev))
	assert.Equal(t, "plan_free", f.users.get("u1").PlanID)
	assert.Empty(t, f.notifier.sent)
}

func TestStripe_PausedAndResumed(t *testing.T) {
	f := newStripeFixture(t)
	ctx := context.Background()

	require.True(t, f.rec.Process(ctx, stripeEvent(t, "evt_p", EventSubscriptionPaused, map[string]any{"id": "sub_1", "customer": "cus_1"})))
	assert.Equal(t, types.SubStatusPaused, f.users.get("u1").SubscriptionStatus)

	require.True(t, f.rec.Process(ctx, stripeEvent(t, "evt_r", EventSubscriptionResumed, map[string]any{"id": "sub_1", "customer": "cus_1"})))
	u := f.users.get("u1")
	assert.Equal(t, types.SubStatusActive, u.SubscriptionStatus)
	assert.Equal(t, "plan_pro", u.PlanID)

	assert.Equal(t, []types.NotificationKind{types.NotifySubscriptionPaused, types.NotifySubscriptionResumed}, f.notifier.kinds())
	assert.Len(t, f.snapshots.puts, 1)
}

func TestStripe_SubscriptionDeletedRevertsToFree(t *testing.T) {
	f := newStripeFixture(t)
	f.users.users["u1"].PlanID = "plan_pro"
	f.users.users["u1"].SubscriptionStatus = types.SubStatusActive
	f.users.users["u1"].ExternalSubscriptionID = "sub_1"
	f.users.users["u1"].CancelAtPeriodEnd = true

	ev := stripeEvent(t, "evt_del", EventSubscriptionDeleted, map[string]any{"id": "sub_1", "customer": "cus_1", "status": "canceled"})
	require.True(t, f.rec.Process(context.Background(), ev))

	u := f.users.get("u1")
	assert.Equal(t, "plan_free", u.PlanID)
	assert.Equal(t, types.SubStatusCanceled, u.SubscriptionStatus)
	assert.Empty(t, u.ExternalSubscriptionID)
	assert.False(t, u.CancelAtPeriodEnd)
	assert.Equal(t, []types.NotificationKind{types.NotifySubscriptionCancel}, f.notifier.kinds())
}

func TestStripe_TrialWillEnd(t *testing.T) {
	f := newStripeFixture(t)
	trialEnd := stripeNow.Add(2*24*time.Hour + time.Hour)

	ev := stripeEvent(t, "evt_trial", EventTrialWillEnd, map[string]any{
		"id": "sub_1", "customer": "cus_1", "trial_end": trialEnd.Unix(),
	})
	require.True(t, f.rec.Process(context.Background(), ev))

	u := f.users.get("u1")
	require.NotNil(t, u.TrialEndDate)
	assert.True(t, u.TrialEndDate.Equal(trialEnd))
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, 3, f.notifier.sent[0].Data["days_left"])
}

func TestStripe_TrialWillEndWithoutTrialIsSkipped(t *testing.T) {
	f := newStripeFixture(t)
	ev := stripeEvent(t, "evt_trial", EventTrialWillEnd, map[string]any{"id": "sub_1", "customer": "cus_1"})
	assert.False(t, f.rec.Process(context.Background(), ev))
}

func TestDaysLeft(t *testing.T) {
	now := stripeNow
	assert.Equal(t, 0, DaysLeft(now.Add(-time.Hour), now))
	assert.Equal(t, 0, DaysLeft(now, now))
	assert.Equal(t, 1, DaysLeft(now.Add(time.Minute), now))
	assert.Equal(t, 1, DaysLeft(now.Add(24*time.Hour), now))
	assert.Equal(t, 3, DaysLeft(now.Add(72*time.Hour), now))
	assert.Equal(t, 4, DaysLeft(now.Add(72*time.Hour+time.Second), now))
}

func TestStripe_TwoPaymentFailures(t *testing.T) {
	f := newStripeFixture(t)
	ctx := context.Background()

	require.True(t, f.rec.Process(ctx, stripeEvent(t, "evt_f1", EventInvoicePaymentFailed, map[string]any{"customer": "cus_1"})))
	second := stripeNow.Add(3 * 24 * time.Hour)
	*f.clock = second
	require.True(t, f.rec.Process(ctx, stripeEvent(t, "evt_f2", EventInvoicePaymentFailed, map[string]any{"customer": "cus_1"})))

	u := f.users.get("u1")
	assert.True(t, u.PaymentIssue)
	assert.Equal(t, types.SubStatusPastDue, u.SubscriptionStatus)
	require.NotNil(t, u.LastFailedPaymentAt)
	assert.True(t, u.LastFailedPaymentAt.Equal(second))
	assert.Len(t, f.notifier.sent, 2)
}

func TestStripe_InvoicePaidClearsPaymentIssue(t *testing.T) {
	f := newStripeFixture(t)
	f.users.users["u1"].PaymentIssue = true

	for _, typ := range []string{EventInvoicePaid, EventInvoicePaymentSucceeds} {
		require.True(t, f.rec.Process(context.Background(), stripeEvent(t, "evt_"+typ, typ, map[string]any{"customer": "cus_1"})))
		assert.False(t, f.users.get("u1").PaymentIssue)
	}
	assert.Empty(t, f.notifier.sent)
}

func TestStripe_RedeliveryDoesNotDuplicateEmail(t *testing.T) {
	f := newStripeFixture(t)
	ev := stripeEvent(t, "evt_dup", EventInvoicePaymentFailed, map[string]any{"customer": "cus_1"})

	require.True(t, f.rec.Process(context.Background(), ev))
	require.True(t, f.rec.Process(context.Background(), ev))

	assert.Len(t, f.users.mirrors, 2, "mirror writes are replayed")
	assert.Len(t, f.notifier.sent, 1, "email is sent once")
}

func TestStripe_FailedSendReleasesClaim(t *testing.T) {
	f := newStripeFixture(t)
	f.notifier.err = errors.New("provider down")
	ev := stripeEvent(t, "evt_1", EventSubscriptionPaused, map[string]any{"customer": "cus_1"})

	assert.True(t, f.rec.Process(context.Background(), ev), "email failure does not fail the event")
	assert.Equal(t, []string{"stripe:evt_1"}, f.dedup.released)

	f.notifier.err = nil
	require.True(t, f.rec.Process(context.Background(), ev))
	assert.Len(t, f.notifier.sent, 1, "redelivery retries the email")
}

func TestStripe_DedupErrorsFailOpen(t *testing.T) {
	f := newStripeFixture(t)
	f.dedup.err = errors.New("redis down")

	ev := stripeEvent(t, "evt_1", EventSubscriptionPaused, map[string]any{"customer": "cus_1"})
	require.True(t, f.rec.Process(context.Background(), ev))
	assert.Len(t, f.notifier.sent, 1)
}

func TestStripe_StoreFailureIsNotProcessed(t *testing.T) {
	f := newStripeFixture(t)
	f.users.failAll = types.NewAppError(types.ErrCodeInternalDB, "db down", nil)

	ev := stripeEvent(t, "evt_1", EventInvoicePaid, map[string]any{"customer": "cus_1"})
	assert.False(t, f.rec.Process(context.Background(), ev))
}

func TestStripe_UserWithoutEmailGetsNoNotification(t *testing.T) {
	f := newStripeFixture(t)
	f.users.users["u1"].Email = ""

	ev := stripeEvent(t, "evt_1", EventSubscriptionPaused, map[string]any{"customer": "cus_1"})
	require.True(t, f.rec.Process(context.Background(), ev))
	assert.Empty(t, f.notifier.sent)
}
