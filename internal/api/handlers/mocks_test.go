package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"roadmap/internal/ai"
	"roadmap/internal/core"
	"roadmap/internal/external"
	"roadmap/internal/types"
	"roadmap/internal/webhooks"
)

// =============================================================================
// In-memory stores
// =============================================================================

// memDB backs the four content stores. Records are stored by value so
// handlers cannot mutate them without calling Update.
type memDB struct {
	users  map[string]types.User
	skills map[string]types.Skill
	topics map[string]types.Topic
	tasks  map[string]types.Task
	seq    int

	createErr     error
	taskCreateErr error
}

func newMemDB() *memDB {
	return &memDB{
		users:  map[string]types.User{},
		skills: map[string]types.Skill{},
		topics: map[string]types.Topic{},
		tasks:  map[string]types.Task{},
	}
}

func (db *memDB) id(prefix string) string {
	db.seq++
	return fmt.Sprintf("%s_%d", prefix, db.seq)
}

func (db *memDB) addUser(u types.User) *types.User {
	if u.ID == "" {
		u.ID = db.id("usr")
	}
	db.users[u.ID] = u
	return &u
}

func (db *memDB) addSkill(s types.Skill) *types.Skill {
	if s.ID == "" {
		s.ID = db.id("skl")
	}
	db.skills[s.ID] = s
	return &s
}

func (db *memDB) addTopic(t types.Topic) *types.Topic {
	if t.ID == "" {
		t.ID = db.id("top")
	}
	db.topics[t.ID] = t
	return &t
}

func (db *memDB) addTask(t types.Task) *types.Task {
	if t.ID == "" {
		t.ID = db.id("tsk")
	}
	db.tasks[t.ID] = t
	return &t
}

type memUsers struct{ db *memDB }

func (m memUsers) Create(_ context.Context, u *types.User) error {
	if m.db.createErr != nil {
		return m.db.createErr
	}
	for _, existing := range m.db.users {
		if existing.ExternalIdentityID == u.ExternalIdentityID {
			return types.NewAppError(types.ErrCodeConflictExternalID, "exists", nil)
		}
	}
	u.ID = m.db.id("usr")
	m.db.users[u.ID] = *u
	return nil
}

func (m memUsers) GetByID(_ context.Context, id string) (*types.User, error) {
	u, ok := m.db.users[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return &u, nil
}

func (m memUsers) GetByExternalID(_ context.Context, externalID string) (*types.User, error) {
	for _, u := range m.db.users {
		if u.ExternalIdentityID == externalID {
			return &u, nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
}

func (m memUsers) GetByEmail(_ context.Context, email string) (*types.User, error) {
	for _, u := range m.db.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
}

func (m memUsers) UpdateProfile(ctx context.Context, id string, p types.UserProfilePatch) (*types.User, error) {
	u, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Email, u.FirstName, u.LastName, u.ImageURL = p.Email, p.FirstName, p.LastName, p.ImageURL
	m.db.users[id] = *u
	return u, nil
}

func (m memUsers) SetPlan(ctx context.Context, id, planID string) error {
	u, err := m.GetByID(ctx, id)
	if err != nil {
		return err
	}
	u.PlanID = planID
	m.db.users[id] = *u
	return nil
}

func (m memUsers) ApplyMirror(ctx context.Context, id string, mirror types.SubscriptionMirror) error {
	u, err := m.GetByID(ctx, id)
	if err != nil {
		return err
	}
	mirror.Apply(u)
	m.db.users[id] = *u
	return nil
}

func (m memUsers) ResetCounterIfStale(context.Context, string, types.CounterKind, time.Time) (bool, error) {
	return false, nil
}

func (m memUsers) IncrementCounter(context.Context, string, types.CounterKind) (int, error) {
	return 0, nil
}

func (m memUsers) IncrementCounterIfBelow(context.Context, string, types.CounterKind, int) (int, bool, error) {
	return 0, false, nil
}

func (m memUsers) DecrementCounter(context.Context, string, types.CounterKind) error {
	return nil
}

func (m memUsers) AddPoints(ctx context.Context, id string, delta, streak int) (*types.User, error) {
	u, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Points += delta
	u.DayStreak = streak
	m.db.users[id] = *u
	return u, nil
}

func (m memUsers) SetDayStreak(ctx context.Context, id string, streak int) error {
	u, err := m.GetByID(ctx, id)
	if err != nil {
		return err
	}
	u.DayStreak = streak
	m.db.users[id] = *u
	return nil
}

func (m memUsers) Delete(_ context.Context, id string) error {
	if _, ok := m.db.users[id]; !ok {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	delete(m.db.users, id)
	for sid, s := range m.db.skills {
		if s.UserID == id {
			_ = memSkills(m).Delete(context.Background(), sid)
		}
	}
	return nil
}

type memSkills struct{ db *memDB }

func (m memSkills) Create(_ context.Context, s *types.Skill) error {
	if m.db.createErr != nil {
		return m.db.createErr
	}
	s.ID = m.db.id("skl")
	m.db.skills[s.ID] = *s
	return nil
}

func (m memSkills) GetByID(_ context.Context, id string) (*types.Skill, error) {
	s, ok := m.db.skills[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundSkill, "skill not found", nil)
	}
	return &s, nil
}

func (m memSkills) ListByUser(_ context.Context, userID string) ([]types.Skill, error) {
	var out []types.Skill
	for _, s := range m.db.skills {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m memSkills) Update(ctx context.Context, s *types.Skill) error {
	if _, err := m.GetByID(ctx, s.ID); err != nil {
		return err
	}
	m.db.skills[s.ID] = *s
	return nil
}

func (m memSkills) AddCoveredTopic(ctx context.Context, skillID, topicID string) error {
	s, err := m.GetByID(ctx, skillID)
	if err != nil {
		return err
	}
	if !slices.Contains(s.CoveredTopicIDs, topicID) {
		s.CoveredTopicIDs = append(s.CoveredTopicIDs, topicID)
	}
	s.ActiveTopicID = topicID
	m.db.skills[skillID] = *s
	return nil
}

func (m memSkills) MarkCompleted(ctx context.Context, id string) (*types.Skill, error) {
	s, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.IsCompleted = true
	m.db.skills[id] = *s
	return s, nil
}

func (m memSkills) Delete(_ context.Context, id string) error {
	if _, ok := m.db.skills[id]; !ok {
		return types.NewAppError(types.ErrCodeNotFoundSkill, "skill not found", nil)
	}
	delete(m.db.skills, id)
	for tid, t := range m.db.topics {
		if t.SkillID == id {
			_ = memTopics(m).Delete(context.Background(), tid)
		}
	}
	return nil
}

type memTopics struct{ db *memDB }

func (m memTopics) Create(_ context.Context, t *types.Topic) error {
	if m.db.createErr != nil {
		return m.db.createErr
	}
	t.ID = m.db.id("top")
	m.db.topics[t.ID] = *t
	return nil
}

func (m memTopics) GetByID(_ context.Context, id string) (*types.Topic, error) {
	t, ok := m.db.topics[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundTopic, "topic not found", nil)
	}
	return &t, nil
}

func (m memTopics) ListBySkill(_ context.Context, skillID string) ([]types.Topic, error) {
	var out []types.Topic
	for _, t := range m.db.topics {
		if t.SkillID == skillID {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b types.Topic) int { return compareIDs(a.ID, b.ID) })
	return out, nil
}

func (m memTopics) Update(ctx context.Context, t *types.Topic) error {
	if _, err := m.GetByID(ctx, t.ID); err != nil {
		return err
	}
	m.db.topics[t.ID] = *t
	return nil
}

func (m memTopics) Delete(_ context.Context, id string) error {
	if _, ok := m.db.topics[id]; !ok {
		return types.NewAppError(types.ErrCodeNotFoundTopic, "topic not found", nil)
	}
	delete(m.db.topics, id)
	for tid, t := range m.db.tasks {
		if t.TopicID == id {
			delete(m.db.tasks, tid)
		}
	}
	return nil
}

type memTasks struct{ db *memDB }

func (m memTasks) Create(_ context.Context, t *types.Task) error {
	if m.db.taskCreateErr != nil {
		return m.db.taskCreateErr
	}
	t.ID = m.db.id("tsk")
	m.db.tasks[t.ID] = *t
	return nil
}

func (m memTasks) GetByID(_ context.Context, id string) (*types.Task, error) {
	t, ok := m.db.tasks[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundTask, "task not found", nil)
	}
	return &t, nil
}

func (m memTasks) ListByTopic(_ context.Context, topicID string) ([]types.Task, error) {
	var out []types.Task
	for _, t := range m.db.tasks {
		if t.TopicID == topicID {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b types.Task) int { return compareIDs(a.ID, b.ID) })
	return out, nil
}

func (m memTasks) Update(ctx context.Context, t *types.Task) error {
	if _, err := m.GetByID(ctx, t.ID); err != nil {
		return err
	}
	m.db.tasks[t.ID] = *t
	return nil
}

func (m memTasks) Delete(_ context.Context, id string) error {
	if _, ok := m.db.tasks[id]; !ok {
		return types.NewAppError(types.ErrCodeNotFoundTask, "task not found", nil)
	}
	delete(m.db.tasks, id)
	return nil
}

// compareIDs orders "prefix_N" ids by their sequence number.
func compareIDs(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// =============================================================================
// Mocks
// =============================================================================

type mockGate struct {
	canPerformFn func(ctx context.Context, userID string, kind types.CounterKind) (types.QuotaDecision, error)
	commitFn     func(ctx context.Context, userID string, kind types.CounterKind) (int, error)
	tryConsumeFn func(ctx context.Context, userID string, kind types.CounterKind) (types.QuotaDecision, error)

	releaseErr error

	consumed []types.CounterKind
	released []types.CounterKind
}

func (m *mockGate) CanPerform(ctx context.Context, userID string, kind types.CounterKind) (types.QuotaDecision, error) {
	if m.canPerformFn != nil {
		return m.canPerformFn(ctx, userID, kind)
	}
	return types.QuotaDecision{Allowed: true, Limit: 3, Remaining: 3}, nil
}

func (m *mockGate) Commit(ctx context.Context, userID string, kind types.CounterKind) (int, error) {
	if m.commitFn != nil {
		return m.commitFn(ctx, userID, kind)
	}
	return 1, nil
}

func (m *mockGate) TryConsume(ctx context.Context, userID string, kind types.CounterKind) (types.QuotaDecision, error) {
	m.consumed = append(m.consumed, kind)
	if m.tryConsumeFn != nil {
		return m.tryConsumeFn(ctx, userID, kind)
	}
	return types.QuotaDecision{Allowed: true, Used: 1, Limit: 3, Remaining: 2}, nil
}

func (m *mockGate) Release(_ context.Context, _ string, kind types.CounterKind) error {
	m.released = append(m.released, kind)
	return m.releaseErr
}

type mockStreaks struct {
	touchFn    func(ctx context.Context, clerkID string, current int, now time.Time) (int, error)
	expired    bool
	expiredErr error
	resetErr   error

	resetCalls []string
}

func (m *mockStreaks) Touch(ctx context.Context, clerkID string, current int, now time.Time) (int, error) {
	if m.touchFn != nil {
		return m.touchFn(ctx, clerkID, current, now)
	}
	return current + 1, nil
}

func (m *mockStreaks) Expired(context.Context, string, time.Time) (bool, error) {
	return m.expired, m.expiredErr
}

func (m *mockStreaks) Reset(_ context.Context, clerkID string) error {
	m.resetCalls = append(m.resetCalls, clerkID)
	return m.resetErr
}

type mockPlans struct {
	plans map[string]*types.Plan
}

func (m *mockPlans) ByName(_ context.Context, name string) (*types.Plan, error) {
	if p, ok := m.plans[name]; ok {
		return p, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundPlan, "plan not found", nil)
}

func defaultPlans() *mockPlans {
	return &mockPlans{plans: map[string]*types.Plan{
		types.PlanNameFree: {ID: "plan_free", Name: types.PlanNameFree, MaxSkills: 1, TopicsPerMonth: 3},
		types.PlanNamePro:  {ID: "plan_pro", Name: types.PlanNamePro, MaxSkills: -1, TopicsPerMonth: -1, ExternalPriceRef: "price_pro"},
	}}
}

type mockBilling struct {
	createCustomerFn func(ctx context.Context, email, identityID string) (string, error)
	checkoutFn       func(ctx context.Context, p external.CheckoutParams) (*external.CheckoutSession, error)
	latestFn         func(ctx context.Context, customerID string) (types.SubscriptionSnapshot, error)
	cancelFn         func(ctx context.Context, subscriptionID string) (types.SubscriptionSnapshot, error)

	checkouts []external.CheckoutParams
	cancelled []string
}

func (m *mockBilling) GetCustomer(_ context.Context, id string) (*external.Customer, error) {
	return &external.Customer{ID: id}, nil
}

func (m *mockBilling) CreateCustomer(ctx context.Context, email, identityID string) (string, error) {
	if m.createCustomerFn != nil {
		return m.createCustomerFn(ctx, email, identityID)
	}
	return "cus_new", nil
}

func (m *mockBilling) LatestSubscription(ctx context.Context, customerID string) (types.SubscriptionSnapshot, error) {
	if m.latestFn != nil {
		return m.latestFn(ctx, customerID)
	}
	return types.SubscriptionSnapshot{Status: "none"}, nil
}

func (m *mockBilling) CreateCheckoutSession(ctx context.Context, p external.CheckoutParams) (*external.CheckoutSession, error) {
	m.checkouts = append(m.checkouts, p)
	if m.checkoutFn != nil {
		return m.checkoutFn(ctx, p)
	}
	return &external.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

func (m *mockBilling) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (types.SubscriptionSnapshot, error) {
	m.cancelled = append(m.cancelled, subscriptionID)
	if m.cancelFn != nil {
		return m.cancelFn(ctx, subscriptionID)
	}
	return types.SubscriptionSnapshot{SubscriptionID: subscriptionID, Status: "active", CancelAtPeriodEnd: true}, nil
}

type mockSubCache struct {
	customers map[string]string
	snapshots map[string]types.SubscriptionSnapshot
	readErr   error
}

func newMockSubCache() *mockSubCache {
	return &mockSubCache{customers: map[string]string{}, snapshots: map[string]types.SubscriptionSnapshot{}}
}

func (m *mockSubCache) CustomerID(_ context.Context, clerkID string) (string, bool, error) {
	if m.readErr != nil {
		return "", false, m.readErr
	}
	id, ok := m.customers[clerkID]
	return id, ok, nil
}

func (m *mockSubCache) PutCustomerID(_ context.Context, clerkID, customerID string) error {
	m.customers[clerkID] = customerID
	return nil
}

func (m *mockSubCache) PutSnapshot(_ context.Context, customerID string, snap types.SubscriptionSnapshot) error {
	m.snapshots[customerID] = snap
	return nil
}

type mockGenerator struct {
	pathFn    func(ctx context.Context, learner ai.LearnerProfile) (json.RawMessage, error)
	strictFn  func(ctx context.Context, learner ai.LearnerProfile) (json.RawMessage, error)
	reviseFn  func(ctx context.Context, task *types.Task, action ai.TaskAction, learner ai.LearnerProfile) (*ai.TaskRevision, error)
	summaryFn func(ctx context.Context, topic *types.Topic, tasks []types.Task) (*ai.TopicSummary, error)

	lastLearner ai.LearnerProfile
}

func (m *mockGenerator) GenerateLearningPath(ctx context.Context, learner ai.LearnerProfile) (json.RawMessage, error) {
	m.lastLearner = learner
	if m.pathFn != nil {
		return m.pathFn(ctx, learner)
	}
	return json.RawMessage(`{"topic":"Generics","tasks":[]}`), nil
}

func (m *mockGenerator) GenerateStrictLearningPath(ctx context.Context, learner ai.LearnerProfile) (json.RawMessage, error) {
	m.lastLearner = learner
	if m.strictFn != nil {
		return m.strictFn(ctx, learner)
	}
	return json.RawMessage(`{"topic":"Generics","tasks":[{"name":"t","difficulty":"easy"}]}`), nil
}

func (m *mockGenerator) ReviseTask(ctx context.Context, task *types.Task, action ai.TaskAction, learner ai.LearnerProfile) (*ai.TaskRevision, error) {
	m.lastLearner = learner
	if m.reviseFn != nil {
		return m.reviseFn(ctx, task, action, learner)
	}
	return &ai.TaskRevision{Name: task.Name + " (revised)", Difficulty: types.DifficultyMedium, Resources: []string{}}, nil
}

func (m *mockGenerator) SummarizeTopic(ctx context.Context, topic *types.Topic, tasks []types.Task) (*ai.TopicSummary, error) {
	if m.summaryFn != nil {
		return m.summaryFn(ctx, topic, tasks)
	}
	return &ai.TopicSummary{Summary: "done", KeyTakeaways: []string{}}, nil
}

type mockStripeProcessor struct {
	result bool
	events []webhooks.StripeEvent
}

func (m *mockStripeProcessor) Process(_ context.Context, ev webhooks.StripeEvent) bool {
	m.events = append(m.events, ev)
	return m.result
}

type mockClerkProcessor struct {
	result     bool
	messageIDs []string
	events     []webhooks.ClerkEvent
}

func (m *mockClerkProcessor) Process(_ context.Context, messageID string, ev webhooks.ClerkEvent) bool {
	m.messageIDs = append(m.messageIDs, messageID)
	m.events = append(m.events, ev)
	return m.result
}

// =============================================================================
// Test Helpers
// =============================================================================

const testClerkID = "user_2abcClerk"

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func testValidator() *core.Validator {
	return core.NewValidator(slog.Default())
}

// actorContext returns a context authenticated as clerkID.
func actorContext(clerkID string) context.Context {
	return types.WithActor(context.Background(), types.Actor{ID: clerkID, Type: types.ActorTypeUser})
}

// withURLParam creates a chi context with URL parameters.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx, ok := r.Context().Value(chi.RouteCtxKey).(*chi.Context)
	if !ok {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// seedOwner stores the caller and one skill, topic and task owned by them.
func seedOwner(db *memDB) (*types.User, *types.Skill, *types.Topic, *types.Task) {
	u := db.addUser(types.User{
		ExternalIdentityID: testClerkID,
		Email:              "ada@example.com",
		FirstName:          "Ada",
		PlanID:             "plan_free",
		SubscriptionStatus: types.SubStatusNone,
	})
	s := db.addSkill(types.Skill{UserID: u.ID, Name: "Go", Goal: "Build services", CoveredTopicIDs: types.StringList{}})
	t := db.addTopic(types.Topic{SkillID: s.ID, Name: "Go syntax basics"})
	k := db.addTask(types.Task{TopicID: t.ID, Name: "Write hello world", Difficulty: types.DifficultyEasy})
	return u, s, t, k
}

// seedStranger stores another user with a skill, topic and task.
func seedStranger(db *memDB) (*types.User, *types.Skill, *types.Topic, *types.Task) {
	u := db.addUser(types.User{ExternalIdentityID: "user_other", Email: "other@example.com", PlanID: "plan_free"})
	s := db.addSkill(types.Skill{UserID: u.ID, Name: "Rust"})
	t := db.addTopic(types.Topic{SkillID: s.ID, Name: "Ownership"})
	k := db.addTask(types.Task{TopicID: t.ID, Name: "Borrow checker", Difficulty: types.DifficultyHard})
	return u, s, t, k
}

// errorCode decodes the error envelope code from a response body.
func errorCode(body []byte) string {
	var resp core.APIErrorResponse
	_ = json.Unmarshal(body, &resp)
	return resp.Error.Code
}

// errorDetails decodes the error envelope details from a response body.
func errorDetails(body []byte) map[string]any {
	var resp core.APIErrorResponse
	_ = json.Unmarshal(body, &resp)
	return resp.Error.Details
}
