package webhooks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadmap/internal/external"
	"roadmap/internal/types"
)

type clerkFixture struct {
	users     *memUsers
	directory *fakeDirectory
	notifier  *fakeNotifier
	rec       *ClerkReconciler
}

func newClerkFixture(t *testing.T, users ...types.User) *clerkFixture {
	t.Helper()
	f := &clerkFixture{
		users:     newMemUsers(users...),
		directory: &fakeDirectory{users: map[string]*external.IdentityUser{}},
		notifier:  &fakeNotifier{},
	}
	f.rec = NewClerkReconciler(ClerkConfig{
		Users:     f.users,
		Plans:     testPlans(),
		Directory: f.directory,
		Dedup:     newMemDedup(),
		Notifier:  f.notifier,
		Clock:     types.ClockFunc(func() time.Time { return stripeNow }),
		Logger:    discard(),
	})
	return f
}

func clerkEvent(t *testing.T, typ string, data map[string]any) ClerkEvent {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"type": typ, "object": "event", "data": data})
	require.NoError(t, err)
	ev, err := ParseClerkEvent(raw)
	require.NoError(t, err)
	return ev
}

func clerkUserData(id, email string, meta map[string]any) map[string]any {
	return map[string]any{
		"id":                       id,
		"first_name":               "Ada",
		"last_name":                "Lovelace",
		"image_url":                "https://img.clerk.com/ada.png",
		"primary_email_address_id": "em_1",
		"email_addresses":          []any{map[string]any{"id": "em_1", "email_address": email}},
		"unsafe_metadata":          meta,
	}
}

func existingUser() types.User {
	return types.User{
		ID:                 "u1",
		ExternalIdentityID: "user_abc",
		Email:              "ada@example.com",
		FirstName:          "Ada",
		PlanID:             "plan_free",
	}
}

func TestClerk_CreatedDefaultsToFree(t *testing.T) {
	f := newClerkFixture(t)

	ev := clerkEvent(t, EventUserCreated, clerkUserData("user_new", "new@example.com", nil))
	require.True(t, f.rec.Process(context.Background(), "msg_1", ev))

	u, err := f.users.GetByExternalID(context.Background(), "user_new")
	require.NoError(t, err)
	assert.Equal(t, "plan_free", u.PlanID)
	assert.Equal(t, "new@example.com", u.Email)
	assert.Equal(t, "Lovelace", u.LastName)
	assert.Equal(t, types.SubStatusNone, u.SubscriptionStatus)
	assert.True(t, u.LastTopicCounterReset.Equal(stripeNow))

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, types.NotifyWelcome, f.notifier.sent[0].Kind)
	assert.Equal(t, "msg_1", f.notifier.sent[0].DedupKey)
	assert.Equal(t, 1, f.directory.calls, "metadata fetched when the payload has none")
}

func TestClerk_CreatedWithPayloadOverride(t *testing.T) {
	f := newClerkFixture(t)

	ev := clerkEvent(t, EventUserCreated, clerkUserData("user_new", "new@example.com", map[string]any{"planId": "plan_pro"}))
	require.True(t, f.rec.Process(context.Background(), "msg_1", ev))

	u, err := f.users.GetByExternalID(context.Background(), "user_new")
	require.NoError(t, err)
	assert.Equal(t, "plan_pro", u.PlanID)
	assert.Zero(t, f.directory.calls)
}

func TestClerk_CreatedWithDirectoryOverride(t *testing.T) {
	f := newClerkFixture(t)
	f.directory.users["user_new"] = &external.IdentityUser{ID: "user_new", UnsafeMetadata: map[string]any{"planId": "plan_pro"}}

	ev := clerkEvent(t, EventUserCreated, clerkUserData("user_new", "new@example.com", nil))
	require.True(t, f.rec.Process(context.Background(), "msg_1", ev))

	u, _ := f.users.GetByExternalID(context.Background(), "user_new")
	assert.Equal(t, "plan_pro", u.PlanID)
}

func TestClerk_CreatedWithUnknownOverrideUsesFree(t *testing.T) {
	f := newClerkFixture(t)

	ev := clerkEvent(t, EventUserCreated, clerkUserData("user_new", "new@example.com", map[string]any{"planId": "plan_gold"}))
	require.True(t, f.rec.Process(context.Background(), "msg_1", ev))

	u, _ := f.users.GetByExternalID(context.Background(), "user_new")
	assert.Equal(t, "plan_free", u.PlanID)
}

func TestClerk_CreatedForExistingUserIsResolved(t *testing.T) {
	f := newClerkFixture(t, existingUser())

	ev := clerkEvent(t, EventUserCreated, clerkUserData("user_abc", "ada@example.com", map[string]any{"planId": "plan_pro"}))
	require.True(t, f.rec.Process(context.Background(), "msg_1", ev))

	assert.Len(t, f.users.users, 1, "no duplicate user")
	assert.Equal(t, "plan_pro", f.users.get("u1").PlanID)
	assert.Empty(t, f.notifier.sent, "no welcome email for a known user")
}

func TestClerk_CreatedMatchesByEmail(t *testing.T) {
	f := newClerkFixture(t, existingUser())

	ev := clerkEvent(t, EventUserCreated, clerkUserData("user_other", "ada@example.com", nil))
	require.True(t, f.rec.Process(context.Background(), "msg_1", ev))
	assert.Len(t, f.users.users, 1)
}

func TestClerk_UpdatedPatchesProfile(t *testing.T) {
	f := newClerkFixture(t, existingUser())

	data := clerkUserData("user_abc", "ada@newmail.com", nil)
	data["first_name"] = "Augusta"
	require.True(t, f.rec.Process(context.Background(), "msg_2", clerkEvent(t, EventUserUpdated, data)))

	u := f.users.get("u1")
	assert.Equal(t, "ada@newmail.com", u.Email)
	assert.Equal(t, "Augusta", u.FirstName)
	assert.Equal(t, "plan_free", u.PlanID)
	assert.Empty(t, f.notifier.sent, "plan unchanged")
}

func TestClerk_UpdatedPlanChangeSendsEmail(t *testing.T) {
	f := newClerkFixture(t, existingUser())

	ev := clerkEvent(t, EventUserUpdated, clerkUserData("user_abc", "ada@example.com", map[string]any{"planId": "plan_pro"}))
	require.True(t, f.rec.Process(context.Background(), "msg_3", ev))

	assert.Equal(t, "plan_pro", f.users.get("u1").PlanID)
	require.Len(t, f.notifier.sent, 1)
	msg := f.notifier.sent[0]
	assert.Equal(t, types.NotifyPlanChanged, msg.Kind)
	assert.Equal(t, "Free", msg.Data["old_plan"])
	assert.Equal(t, "Pro", msg.Data["plan_name"])

	// Same plan again: no second email.
	require.True(t, f.rec.Process(context.Background(), "msg_4", ev))
	assert.Len(t, f.notifier.sent, 1)
}

func TestClerk_UpdatedUnknownUserIsAcknowledged(t *testing.T) {
	f := newClerkFixture(t)

	ev := clerkEvent(t, EventUserUpdated, clerkUserData("user_missing", "x@example.com", nil))
	assert.False(t, f.rec.Process(context.Background(), "msg_1", ev))
	assert.Empty(t, f.users.users)
}

func TestClerk_Deleted(t *testing.T) {
	f := newClerkFixture(t, existingUser())

	ev := clerkEvent(t, EventUserDeleted, map[string]any{"id": "user_abc", "deleted": true})
	require.True(t, f.rec.Process(context.Background(), "msg_1", ev))
	assert.Equal(t, []string{"u1"}, f.users.deleted)
	assert.Empty(t, f.users.users)
}

func TestClerk_DeletedUnknownUserIsNoop(t *testing.T) {
	f := newClerkFixture(t, existingUser())

	ev := clerkEvent(t, EventUserDeleted, map[string]any{"id": "user_missing", "deleted": true})
	assert.False(t, f.rec.Process(context.Background(), "msg_1", ev))
	assert.Empty(t, f.users.deleted)
	assert.Len(t, f.users.users, 1)
}

func TestClerk_UnhandledEvent(t *testing.T) {
	f := newClerkFixture(t)
	ev := clerkEvent(t, "session.created", map[string]any{"id": "sess_1"})
	assert.False(t, f.rec.Process(context.Background(), "msg_1", ev))
}

func TestClerk_RedeliveredCreateSendsOneWelcome(t *testing.T) {
	f := newClerkFixture(t)
	ev := clerkEvent(t, EventUserCreated, clerkUserData("user_new", "new@example.com", nil))

	require.True(t, f.rec.Process(context.Background(), "msg_1", ev))
	require.True(t, f.rec.Process(context.Background(), "msg_1", ev))
	assert.Len(t, f.notifier.sent, 1)
	assert.Len(t, f.users.users, 1)
}
