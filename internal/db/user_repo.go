package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"roadmap/internal/types"
)

// UserRepository provides data access for the users table.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// userColumns defines the standard set of columns selected for user queries.
// scanUser depends on this order.
const userColumns = `id, external_identity_id, email, first_name, last_name, image_url, plan_id,
	topics_created_this_month, last_topic_counter_reset, skills_added_this_month, last_skill_counter_reset,
	external_billing_customer_id, subscription_status, external_subscription_id,
	current_period_end, trial_end_date, payment_issue, last_failed_payment_at, cancel_at_period_end,
	points, day_streak, created_at, updated_at`

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	err := row.Scan(
		&u.ID,
		&u.ExternalIdentityID,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.ImageURL,
		&u.PlanID,
		&u.TopicsCreatedThisMonth,
		&u.LastTopicCounterReset,
		&u.SkillsAddedThisMonth,
		&u.LastSkillCounterReset,
		&u.ExternalBillingCustomerID,
		&u.SubscriptionStatus,
		&u.ExternalSubscriptionID,
		&u.CurrentPeriodEnd,
		&u.TrialEndDate,
		&u.PaymentIssue,
		&u.LastFailedPaymentAt,
		&u.CancelAtPeriodEnd,
		&u.Points,
		&u.DayStreak,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// userLookupError maps a scan error of a single-user query.
func userLookupError(err error, op string) error {
	if isNoMatch(err) {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return types.NewAppError(types.ErrCodeInternalDB, op, err)
}

// counterColumns returns the count and reset columns backing kind.
func counterColumns(kind types.CounterKind) (count, reset string, err error) {
	switch kind {
	case types.CounterTopics:
		return "topics_created_this_month", "last_topic_counter_reset", nil
	case types.CounterSkills:
		return "skills_added_this_month", "last_skill_counter_reset", nil
	}
	return "", "", types.NewAppError(types.ErrCodeValidationCounterKind, fmt.Sprintf("unknown counter %q", kind), nil)
}

// Create inserts a new user. ID is generated when empty.
func (r *UserRepository) Create(ctx context.Context, u *types.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.SubscriptionStatus == "" {
		u.SubscriptionStatus = types.SubStatusNone
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO users (id, external_identity_id, email, first_name, last_name, image_url, plan_id,
			topics_created_this_month, last_topic_counter_reset, skills_added_this_month, last_skill_counter_reset,
			subscription_status, points, day_streak, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		 RETURNING created_at, updated_at`,
		u.ID,
		u.ExternalIdentityID,
		u.Email,
		u.FirstName,
		u.LastName,
		u.ImageURL,
		u.PlanID,
		u.TopicsCreatedThisMonth,
		u.LastTopicCounterReset,
		u.SkillsAddedThisMonth,
		u.LastSkillCounterReset,
		u.SubscriptionStatus,
		u.Points,
		u.DayStreak,
		nowIfZero(u.CreatedAt),
	)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		if constraint, ok := isUniqueViolation(err); ok {
			if constraint == "users_email_key" {
				return types.NewAppError(types.ErrCodeConflictEmail, "a user with this email already exists", err)
			}
			return types.NewAppError(types.ErrCodeConflictExternalID, "a user with this identity already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create user", err)
	}
	return nil
}

// GetByID retrieves a user by primary key.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, userLookupError(err, "failed to retrieve user")
	}
	return u, nil
}

// GetByExternalID retrieves a user by Clerk user id.
func (r *UserRepository) GetByExternalID(ctx context.Context, externalID string) (*types.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE external_identity_id = $1`, externalID))
	if err != nil {
		return nil, userLookupError(err, "failed to retrieve user by external id")
	}
	return u, nil
}

// GetByEmail retrieves a user by email. Emails are stored normalized.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		return nil, userLookupError(err, "failed to retrieve user by email")
	}
	return u, nil
}

// UpdateProfile overwrites the identity-owned fields and returns the row.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, p types.UserProfilePatch) (*types.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`UPDATE users
		 SET email = $2, first_name = $3, last_name = $4, image_url = $5, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, p.Email, p.FirstName, p.LastName, p.ImageURL,
	))
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return nil, types.NewAppError(types.ErrCodeConflictEmail, "a user with this email already exists", err)
		}
		return nil, userLookupError(err, "failed to update user profile")
	}
	return u, nil
}

// SetPlan points the user at another plan.
func (r *UserRepository) SetPlan(ctx context.Context, id, planID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET plan_id = $2, updated_at = NOW() WHERE id = $1`,
		id, planID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set user plan", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// ApplyMirror writes the non-nil mirror fields in a single UPDATE, so a
// replayed webhook converges to the same row.
func (r *UserRepository) ApplyMirror(ctx context.Context, id string, m types.SubscriptionMirror) error {
	if m.IsEmpty() {
		return nil
	}

	sets := make([]string, 0, 10)
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if m.PlanID != nil {
		add("plan_id", *m.PlanID)
	}
	if m.SubscriptionStatus != nil {
		add("subscription_status", *m.SubscriptionStatus)
	}
	if m.ExternalSubscriptionID != nil {
		add("external_subscription_id", *m.ExternalSubscriptionID)
	}
	if m.ExternalBillingCustomerID != nil {
		add("external_billing_customer_id", *m.ExternalBillingCustomerID)
	}
	if m.CurrentPeriodEnd != nil {
		add("current_period_end", m.CurrentPeriodEnd.Ptr())
	}
	if m.TrialEndDate != nil {
		add("trial_end_date", m.TrialEndDate.Ptr())
	}
	if m.PaymentIssue != nil {
		add("payment_issue", *m.PaymentIssue)
	}
	if m.LastFailedPaymentAt != nil {
		add("last_failed_payment_at", m.LastFailedPaymentAt.Ptr())
	}
	if m.CancelAtPeriodEnd != nil {
		add("cancel_at_period_end", *m.CancelAtPeriodEnd)
	}
	sets = append(sets, "updated_at = NOW()")

	tag, err := r.db.Exec(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = $1`,
		args...,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription state", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// ResetCounterIfStale zeroes the counter when its reset timestamp falls
// outside now's UTC month. The month test runs inside the UPDATE so two
// concurrent first-of-month requests reset once.
func (r *UserRepository) ResetCounterIfStale(ctx context.Context, id string, kind types.CounterKind, now time.Time) (bool, error) {
	countCol, resetCol, err := counterColumns(kind)
	if err != nil {
		return false, err
	}
	start, next := types.MonthBounds(now)

	tag, err := r.db.Exec(ctx,
		`UPDATE users SET `+countCol+` = 0, `+resetCol+` = $2, updated_at = $2
		 WHERE id = $1 AND (`+resetCol+` < $3 OR `+resetCol+` >= $4)`,
		id, now.UTC(), start, next,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to reset usage counter", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementCounter adds one to the counter and returns the new value.
func (r *UserRepository) IncrementCounter(ctx context.Context, id string, kind types.CounterKind) (int, error) {
	countCol, _, err := counterColumns(kind)
	if err != nil {
		return 0, err
	}

	var value int
	err = r.db.QueryRow(ctx,
		`UPDATE users SET `+countCol+` = `+countCol+` + 1, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+countCol,
		id,
	).Scan(&value)
	if err != nil {
		return 0, userLookupError(err, "failed to increment usage counter")
	}
	return value, nil
}

// IncrementCounterIfBelow adds one only while the counter is below limit.
// When the guard fails the current value is read back so callers can report
// usage.
func (r *UserRepository) IncrementCounterIfBelow(ctx context.Context, id string, kind types.CounterKind, limit int) (int, bool, error) {
	countCol, _, err := counterColumns(kind)
	if err != nil {
		return 0, false, err
	}

	var value int
	err = r.db.QueryRow(ctx,
		`UPDATE users SET `+countCol+` = `+countCol+` + 1, updated_at = NOW()
		 WHERE id = $1 AND `+countCol+` < $2
		 RETURNING `+countCol,
		id, limit,
	).Scan(&value)
	if err == nil {
		return value, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, types.NewAppError(types.ErrCodeInternalDB, "failed to consume usage", err)
	}

	err = r.db.QueryRow(ctx, `SELECT `+countCol+` FROM users WHERE id = $1`, id).Scan(&value)
	if err != nil {
		return 0, false, userLookupError(err, "failed to read usage counter")
	}
	return value, false, nil
}

// DecrementCounter gives back one unit of the counter, floored at zero.
func (r *UserRepository) DecrementCounter(ctx context.Context, id string, kind types.CounterKind) error {
	countCol, _, err := counterColumns(kind)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx,
		`UPDATE users SET `+countCol+` = `+countCol+` - 1, updated_at = NOW()
		 WHERE id = $1 AND `+countCol+` > 0`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release usage counter", err)
	}
	return nil
}

// AddPoints adds delta points and stores the recomputed day streak.
func (r *UserRepository) AddPoints(ctx context.Context, id string, delta, streak int) (*types.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`UPDATE users SET points = points + $2, day_streak = $3, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, delta, streak,
	))
	if err != nil {
		return nil, userLookupError(err, "failed to add points")
	}
	return u, nil
}

// SetDayStreak overwrites the day streak.
func (r *UserRepository) SetDayStreak(ctx context.Context, id string, streak int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET day_streak = $2, updated_at = NOW() WHERE id = $1`,
		id, streak,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set day streak", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// Delete hard-deletes the user. Skills, topics and tasks go with it through
// ON DELETE CASCADE.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

func nowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
