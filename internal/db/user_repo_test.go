package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"roadmap/internal/types"
)

func sampleUser() types.User {
	reset := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return types.User{
		ID:                     "6f1c2d3e-0000-4000-8000-000000000001",
		ExternalIdentityID:     "user_2abc",
		Email:                  "ada@example.com",
		FirstName:              "Ada",
		PlanID:                 "plan-free",
		TopicsCreatedThisMonth: 2,
		LastTopicCounterReset:  reset,
		LastSkillCounterReset:  reset,
		SubscriptionStatus:     types.SubStatusNone,
		CreatedAt:              reset,
		UpdatedAt:              reset,
	}
}

func TestUserRepository_Create_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	u := types.NewUser("user_2abc", "ada@example.com", "plan-free", now)
	db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
		return assert.Contains(t, sql, "INSERT INTO users")
	}), mock.Anything).Return(&mockRow{scanFn: fillTimes(now, now)})

	require.NoError(t, repo.Create(ctx, u))
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, now, u.CreatedAt)
	db.AssertExpectations(t)
}

func TestUserRepository_Create_Conflicts(t *testing.T) {
	tests := []struct {
		constraint string
		code       types.ErrorCode
	}{
		{"users_email_key", types.ErrCodeConflictEmail},
		{"users_external_identity_id_key", types.ErrCodeConflictExternalID},
	}

	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewUserRepository(db)
			ctx := context.Background()

			pgErr := &pgconn.PgError{Code: "23505", ConstraintName: tt.constraint}
			db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(&mockRow{scanErr: pgErr})

			err := repo.Create(ctx, types.NewUser("user_2abc", "ada@example.com", "plan-free", time.Now()))
			assert.True(t, types.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestUserRepository_GetByExternalID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	want := sampleUser()
	want.CurrentPeriodEnd = &end
	want.SubscriptionStatus = types.SubStatusActive

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"user_2abc"}).Return(&mockRow{scanFn: fillUser(want)})

	got, err := repo.GetByExternalID(ctx, "user_2abc")
	require.NoError(t, err)
	assert.Equal(t, want, *got)
	db.AssertExpectations(t)
}

func TestUserRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"missing"}).Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(ctx, "missing")
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)
}

func TestUserRepository_GetByEmail_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"ada@example.com"}).
		Return(&mockRow{scanErr: errors.New("connection reset")})

	_, err := repo.GetByEmail(ctx, "ada@example.com")
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestUserRepository_ApplyMirror_BuildsSingleUpdate(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	failedAt := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	m := types.SubscriptionMirror{
		SubscriptionStatus:     types.Ref(types.SubStatusPastDue),
		PaymentIssue:           types.Ref(true),
		LastFailedPaymentAt:    types.SetTime(failedAt),
		ExternalSubscriptionID: types.Ref(""),
		TrialEndDate:           types.ClearTime(),
	}

	var captured string
	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		captured = sql
		return true
	}), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.ApplyMirror(ctx, "u1", m))

	assert.Contains(t, captured, "subscription_status = $2")
	assert.Contains(t, captured, "external_subscription_id = $3")
	assert.Contains(t, captured, "trial_end_date = $4")
	assert.Contains(t, captured, "payment_issue = $5")
	assert.Contains(t, captured, "last_failed_payment_at = $6")
	assert.NotContains(t, captured, "plan_id")

	args := db.Calls[0].Arguments.Get(2).([]any)
	require.Len(t, args, 6)
	assert.Equal(t, "u1", args[0])
	assert.Equal(t, types.SubStatusPastDue, args[1])
	assert.Nil(t, args[3])
	assert.Equal(t, &failedAt, args[5])
}

func TestUserRepository_ApplyMirror_EmptyIsNoop(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	require.NoError(t, repo.ApplyMirror(context.Background(), "u1", types.SubscriptionMirror{}))
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestUserRepository_ApplyMirror_UserMissing(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.ApplyMirror(ctx, "gone", types.SubscriptionMirror{PlanID: types.Ref("plan-free")})
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundUser))
}

func TestUserRepository_ResetCounterIfStale(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	monthStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	nextMonth := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		kind     types.CounterKind
		column   string
		tag      string
		wantDone bool
	}{
		{"topics stale", types.CounterTopics, "last_topic_counter_reset", "UPDATE 1", true},
		{"skills current", types.CounterSkills, "last_skill_counter_reset", "UPDATE 0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewUserRepository(db)
			ctx := context.Background()

			db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
				return assert.Contains(t, sql, tt.column+" < $3 OR "+tt.column+" >= $4")
			}), []any{"u1", now, monthStart, nextMonth}).Return(pgconn.NewCommandTag(tt.tag), nil)

			done, err := repo.ResetCounterIfStale(ctx, "u1", tt.kind, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDone, done)
			db.AssertExpectations(t)
		})
	}
}

func TestUserRepository_ResetCounterIfStale_UnknownKind(t *testing.T) {
	repo := NewUserRepository(new(mockDBTX))
	_, err := repo.ResetCounterIfStale(context.Background(), "u1", "projects", time.Now())
	assert.True(t, types.IsCode(err, types.ErrCodeValidationCounterKind))
}

func TestUserRepository_IncrementCounter(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
		return assert.Contains(t, sql, "topics_created_this_month = topics_created_this_month + 1")
	}), []any{"u1"}).Return(&mockRow{scanFn: fillInts(4)})

	v, err := repo.IncrementCounter(ctx, "u1", types.CounterTopics)
	require.NoError(t, err)
	assert.Equal(t, 4, v)
}

func TestUserRepository_IncrementCounterIfBelow(t *testing.T) {
	t.Run("bumped", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewUserRepository(db)
		ctx := context.Background()

		db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
			return assert.Contains(t, sql, "skills_added_this_month < $2")
		}), []any{"u1", 1}).Return(&mockRow{scanFn: fillInts(1)})

		v, ok, err := repo.IncrementCounterIfBelow(ctx, "u1", types.CounterSkills, 1)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, v)
	})

	t.Run("at limit reads current value", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewUserRepository(db)
		ctx := context.Background()

		db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
			return len(sql) > 6 && sql[:6] == "UPDATE"
		}), []any{"u1", 3}).Return(&mockRow{scanErr: pgx.ErrNoRows}).Once()
		db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
			return len(sql) > 6 && sql[:6] == "SELECT"
		}), []any{"u1"}).Return(&mockRow{scanFn: fillInts(3)}).Once()

		v, ok, err := repo.IncrementCounterIfBelow(ctx, "u1", types.CounterTopics, 3)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 3, v)
		db.AssertExpectations(t)
	})

	t.Run("missing user", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewUserRepository(db)
		ctx := context.Background()

		db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})

		_, _, err := repo.IncrementCounterIfBelow(ctx, "gone", types.CounterTopics, 3)
		assert.True(t, types.IsCode(err, types.ErrCodeNotFoundUser))
	})
}

func TestUserRepository_AddPoints(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	want := sampleUser()
	want.Points = 150
	want.DayStreak = 3
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"u1", 50, 3}).Return(&mockRow{scanFn: fillUser(want)})

	got, err := repo.AddPoints(ctx, "u1", 50, 3)
	require.NoError(t, err)
	assert.Equal(t, 150, got.Points)
	assert.Equal(t, 3, got.DayStreak)
}

func TestUserRepository_SetPlanAndDelete_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil).Once()
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("DELETE 0"), nil).Once()

	assert.True(t, types.IsCode(repo.SetPlan(ctx, "gone", "plan-pro"), types.ErrCodeNotFoundUser))
	assert.True(t, types.IsCode(repo.Delete(ctx, "gone"), types.ErrCodeNotFoundUser))
}

func TestUserRepository_UpdateProfile_EmailConflict(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}})

	_, err := repo.UpdateProfile(ctx, "u1", types.UserProfilePatch{Email: "taken@example.com"})
	assert.True(t, types.IsCode(err, types.ErrCodeConflictEmail))
}

func TestUserRepository_GetByID_MalformedID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"abc"}).
		Return(&mockRow{scanErr: &pgconn.PgError{Code: "22P02", Message: `invalid input syntax for type uuid: "abc"`}})

	_, err := repo.GetByID(ctx, "abc")
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundUser))
}

func TestUserRepository_DecrementCounter(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return assert.Contains(t, sql, "skills_added_this_month = skills_added_this_month - 1") &&
			assert.Contains(t, sql, "skills_added_this_month > 0")
	}), []any{"u1"}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.DecrementCounter(ctx, "u1", types.CounterSkills))
	db.AssertExpectations(t)
}

func TestUserRepository_DecrementCounter_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"u1"}).
		Return(pgconn.CommandTag{}, errors.New("connection reset"))

	err := repo.DecrementCounter(ctx, "u1", types.CounterTopics)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}
