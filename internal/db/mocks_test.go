package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"roadmap/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- Mock Rows ---

// mockRows replays a fixed list of rows through a per-row scan function.
type mockRows struct {
	rows   []func(dest ...any) error
	idx    int
	closed bool
	errVal error
}

func newMockRows(rows ...func(dest ...any) error) *mockRows {
	return &mockRows{rows: rows, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.rows)
}

func (r *mockRows) Scan(dest ...any) error                       { return r.rows[r.idx](dest...) }
func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

// --- Row fillers ---

// fillUser writes u into dest in userColumns order.
func fillUser(u types.User) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = u.ID
		*dest[1].(*string) = u.ExternalIdentityID
		*dest[2].(*string) = u.Email
		*dest[3].(*string) = u.FirstName
		*dest[4].(*string) = u.LastName
		*dest[5].(*string) = u.ImageURL
		*dest[6].(*string) = u.PlanID
		*dest[7].(*int) = u.TopicsCreatedThisMonth
		*dest[8].(*time.Time) = u.LastTopicCounterReset
		*dest[9].(*int) = u.SkillsAddedThisMonth
		*dest[10].(*time.Time) = u.LastSkillCounterReset
		*dest[11].(*string) = u.ExternalBillingCustomerID
		*dest[12].(*types.SubscriptionStatus) = u.SubscriptionStatus
		*dest[13].(*string) = u.ExternalSubscriptionID
		*dest[14].(**time.Time) = u.CurrentPeriodEnd
		*dest[15].(**time.Time) = u.TrialEndDate
		*dest[16].(*bool) = u.PaymentIssue
		*dest[17].(**time.Time) = u.LastFailedPaymentAt
		*dest[18].(*bool) = u.CancelAtPeriodEnd
		*dest[19].(*int) = u.Points
		*dest[20].(*int) = u.DayStreak
		*dest[21].(*time.Time) = u.CreatedAt
		*dest[22].(*time.Time) = u.UpdatedAt
		return nil
	}
}

// fillSkill writes s into dest in skillColumns order.
func fillSkill(s types.Skill) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = s.ID
		*dest[1].(*string) = s.UserID
		*dest[2].(*string) = s.Name
		if s.ActiveTopicID != "" {
			id := s.ActiveTopicID
			*dest[3].(**string) = &id
		}
		*dest[4].(*types.StringList) = s.CoveredTopicIDs
		*dest[5].(*string) = s.PreferredLearningStyle
		*dest[6].(*string) = s.CurrentSkillLevel
		*dest[7].(*string) = s.Goal
		*dest[8].(*string) = s.AvailableTimePerWeek
		*dest[9].(*bool) = s.IsCompleted
		*dest[10].(*time.Time) = s.CreatedAt
		*dest[11].(*time.Time) = s.UpdatedAt
		return nil
	}
}

// fillTopic writes t into dest in topicColumns order.
func fillTopic(t types.Topic) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = t.ID
		*dest[1].(*string) = t.SkillID
		*dest[2].(*string) = t.Name
		*dest[3].(*types.StringList) = t.RecommendedResources
		*dest[4].(*types.StringList) = t.LearningObjectives
		*dest[5].(*time.Time) = t.CreatedAt
		*dest[6].(*time.Time) = t.UpdatedAt
		return nil
	}
}

// fillTask writes t into dest in taskColumns order.
func fillTask(t types.Task) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = t.ID
		*dest[1].(*string) = t.TopicID
		*dest[2].(*string) = t.Name
		*dest[3].(*types.Difficulty) = t.Difficulty
		*dest[4].(*string) = t.Instructions
		*dest[5].(*string) = t.Objective
		*dest[6].(*string) = t.CompletionCriteria
		*dest[7].(*string) = t.EstimatedTime
		*dest[8].(*types.StringList) = t.Resources
		*dest[9].(*bool) = t.IsCompleted
		*dest[10].(*time.Time) = t.CreatedAt
		*dest[11].(*time.Time) = t.UpdatedAt
		return nil
	}
}

// fillInts writes ints into consecutive *int destinations.
func fillInts(values ...int) func(dest ...any) error {
	return func(dest ...any) error {
		for i, v := range values {
			*dest[i].(*int) = v
		}
		return nil
	}
}

// fillTimes writes times into consecutive *time.Time destinations.
func fillTimes(values ...time.Time) func(dest ...any) error {
	return func(dest ...any) error {
		for i, v := range values {
			*dest[i].(*time.Time) = v
		}
		return nil
	}
}
