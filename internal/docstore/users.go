package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"golang.org/x/sync/errgroup"

	"roadmap/internal/types"
)

// UserRepository stores users in the users collection.
type UserRepository struct {
	users  *mongo.Collection
	skills *mongo.Collection
	topics *mongo.Collection
	tasks  *mongo.Collection
}

// NewUserRepository creates a new UserRepository over db.
func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{
		users:  db.Collection(usersCollection),
		skills: db.Collection(skillsCollection),
		topics: db.Collection(topicsCollection),
		tasks:  db.Collection(tasksCollection),
	}
}

// counterFields returns the document fields backing kind.
func counterFields(kind types.CounterKind) (count, reset string, err error) {
	switch kind {
	case types.CounterTopics:
		return "topicsCreatedThisMonth", "lastTopicCounterReset", nil
	case types.CounterSkills:
		return "skillsAddedThisMonth", "lastSkillCounterReset", nil
	}
	return "", "", types.NewAppError(types.ErrCodeValidationCounterKind, fmt.Sprintf("unknown counter %q", kind), nil)
}

// staleCounterFilter matches the user when the reset stamp of count lies
// outside now's UTC month. A missing or null stamp counts as stale.
func staleCounterFilter(id, resetField string, now time.Time) bson.M {
	start, next := types.MonthBounds(now)
	return bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{resetField: bson.M{"$lt": start}},
			bson.M{resetField: bson.M{"$gte": next}},
			bson.M{resetField: nil},
		},
	}
}

// mirrorUpdate renders the non-nil mirror fields as a $set document.
func mirrorUpdate(m types.SubscriptionMirror, at time.Time) bson.M {
	set := bson.M{"updatedAt": at}
	if m.PlanID != nil {
		set["planId"] = *m.PlanID
	}
	if m.SubscriptionStatus != nil {
		set["subscriptionStatus"] = *m.SubscriptionStatus
	}
	if m.ExternalSubscriptionID != nil {
		set["externalSubscriptionId"] = *m.ExternalSubscriptionID
	}
	if m.ExternalBillingCustomerID != nil {
		set["externalBillingCustomerId"] = *m.ExternalBillingCustomerID
	}
	if m.CurrentPeriodEnd != nil {
		set["currentPeriodEnd"] = m.CurrentPeriodEnd.Ptr()
	}
	if m.TrialEndDate != nil {
		set["trialEndDate"] = m.TrialEndDate.Ptr()
	}
	if m.PaymentIssue != nil {
		set["paymentIssue"] = *m.PaymentIssue
	}
	if m.LastFailedPaymentAt != nil {
		set["lastFailedPaymentAt"] = m.LastFailedPaymentAt.Ptr()
	}
	if m.CancelAtPeriodEnd != nil {
		set["cancelAtPeriodEnd"] = *m.CancelAtPeriodEnd
	}
	return bson.M{"$set": set}
}

func returnAfter() *options.FindOneAndUpdateOptionsBuilder {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}

// Create inserts u. ID is generated when empty.
func (r *UserRepository) Create(ctx context.Context, u *types.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.SubscriptionStatus == "" {
		u.SubscriptionStatus = types.SubStatusNone
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now()
	}
	u.UpdatedAt = u.CreatedAt

	if _, err := r.users.InsertOne(ctx, u); err != nil {
		if idx, ok := duplicateKeyIndex(err); ok {
			if idx == "email" {
				return types.NewAppError(types.ErrCodeConflictEmail, "a user with this email already exists", err)
			}
			return types.NewAppError(types.ErrCodeConflictExternalID, "a user with this identity already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create user", err)
	}
	return nil
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M, op string) (*types.User, error) {
	var u types.User
	if err := r.users.FindOne(ctx, filter).Decode(&u); err != nil {
		return nil, lookupError(err, types.ErrCodeNotFoundUser, op)
	}
	return &u, nil
}

// GetByID retrieves a user by primary key.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	return r.findOne(ctx, byID(id), "failed to retrieve user")
}

// GetByExternalID retrieves a user by Clerk user id.
func (r *UserRepository) GetByExternalID(ctx context.Context, externalID string) (*types.User, error) {
	return r.findOne(ctx, bson.M{"externalIdentityId": externalID}, "failed to retrieve user by external id")
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	return r.findOne(ctx, bson.M{"email": email}, "failed to retrieve user by email")
}

// UpdateProfile overwrites the identity-owned fields and returns the document.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, p types.UserProfilePatch) (*types.User, error) {
	update := bson.M{"$set": bson.M{
		"email":     p.Email,
		"firstName": p.FirstName,
		"lastName":  p.LastName,
		"imageUrl":  p.ImageURL,
		"updatedAt": now(),
	}}

	var u types.User
	if err := r.users.FindOneAndUpdate(ctx, byID(id), update, returnAfter()).Decode(&u); err != nil {
		if _, ok := duplicateKeyIndex(err); ok {
			return nil, types.NewAppError(types.ErrCodeConflictEmail, "a user with this email already exists", err)
		}
		return nil, lookupError(err, types.ErrCodeNotFoundUser, "failed to update user profile")
	}
	return &u, nil
}

// updateExisting runs update on id and maps a zero match to not found.
func (r *UserRepository) updateExisting(ctx context.Context, id string, update bson.M, op string) error {
	res, err := r.users.UpdateOne(ctx, byID(id), update)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, op, err)
	}
	if res.MatchedCount == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// SetPlan points the user at another plan.
func (r *UserRepository) SetPlan(ctx context.Context, id, planID string) error {
	return r.updateExisting(ctx, id,
		bson.M{"$set": bson.M{"planId": planID, "updatedAt": now()}},
		"failed to set user plan")
}

// ApplyMirror writes the non-nil mirror fields in one update.
func (r *UserRepository) ApplyMirror(ctx context.Context, id string, m types.SubscriptionMirror) error {
	if m.IsEmpty() {
		return nil
	}
	return r.updateExisting(ctx, id, mirrorUpdate(m, now()), "failed to update subscription state")
}

// ResetCounterIfStale zeroes the counter when its reset stamp lies outside
// the UTC month of at. The month test is part of the update filter.
func (r *UserRepository) ResetCounterIfStale(ctx context.Context, id string, kind types.CounterKind, at time.Time) (bool, error) {
	countField, resetField, err := counterFields(kind)
	if err != nil {
		return false, err
	}
	stamp := at.UTC()

	res, err := r.users.UpdateOne(ctx,
		staleCounterFilter(id, resetField, stamp),
		bson.M{"$set": bson.M{countField: 0, resetField: stamp, "updatedAt": stamp}},
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to reset usage counter", err)
	}
	return res.MatchedCount > 0, nil
}

// IncrementCounter adds one to the counter and returns the new value.
func (r *UserRepository) IncrementCounter(ctx context.Context, id string, kind types.CounterKind) (int, error) {
	countField, _, err := counterFields(kind)
	if err != nil {
		return 0, err
	}

	var u types.User
	err = r.users.FindOneAndUpdate(ctx, byID(id),
		bson.M{"$inc": bson.M{countField: 1}, "$set": bson.M{"updatedAt": now()}},
		returnAfter(),
	).Decode(&u)
	if err != nil {
		return 0, lookupError(err, types.ErrCodeNotFoundUser, "failed to increment usage counter")
	}
	value, _ := u.Counter(kind)
	return value, nil
}

// IncrementCounterIfBelow adds one only while the counter is below limit.
func (r *UserRepository) IncrementCounterIfBelow(ctx context.Context, id string, kind types.CounterKind, limit int) (int, bool, error) {
	countField, _, err := counterFields(kind)
	if err != nil {
		return 0, false, err
	}

	var u types.User
	err = r.users.FindOneAndUpdate(ctx,
		bson.M{"_id": id, countField: bson.M{"$lt": limit}},
		bson.M{"$inc": bson.M{countField: 1}, "$set": bson.M{"updatedAt": now()}},
		returnAfter(),
	).Decode(&u)
	if err == nil {
		value, _ := u.Counter(kind)
		return value, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, types.NewAppError(types.ErrCodeInternalDB, "failed to consume usage", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return 0, false, err
	}
	value, _ := current.Counter(kind)
	return value, false, nil
}

// DecrementCounter gives back one unit of the counter, floored at zero.
func (r *UserRepository) DecrementCounter(ctx context.Context, id string, kind types.CounterKind) error {
	countField, _, err := counterFields(kind)
	if err != nil {
		return err
	}

	_, err = r.users.UpdateOne(ctx,
		bson.M{"_id": id, countField: bson.M{"$gt": 0}},
		bson.M{"$inc": bson.M{countField: -1}, "$set": bson.M{"updatedAt": now()}},
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release usage counter", err)
	}
	return nil
}

// AddPoints adds delta points and stores the recomputed day streak.
func (r *UserRepository) AddPoints(ctx context.Context, id string, delta, streak int) (*types.User, error) {
	var u types.User
	err := r.users.FindOneAndUpdate(ctx, byID(id),
		bson.M{"$inc": bson.M{"points": delta}, "$set": bson.M{"dayStreak": streak, "updatedAt": now()}},
		returnAfter(),
	).Decode(&u)
	if err != nil {
		return nil, lookupError(err, types.ErrCodeNotFoundUser, "failed to add points")
	}
	return &u, nil
}

// SetDayStreak overwrites the day streak.
func (r *UserRepository) SetDayStreak(ctx context.Context, id string, streak int) error {
	return r.updateExisting(ctx, id,
		bson.M{"$set": bson.M{"dayStreak": streak, "updatedAt": now()}},
		"failed to set day streak")
}

// Delete removes the user with every skill, topic and task it owns. The
// three content collections are cleared concurrently before the user
// document goes.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}

	skillIDs, err := idsOf(ctx, r.skills, bson.M{"userId": id})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to list user skills", err)
	}
	topicIDs, err := idsOf(ctx, r.topics, bson.M{"skillId": bson.M{"$in": skillIDs}})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to list user topics", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := r.tasks.DeleteMany(gctx, bson.M{"topicId": bson.M{"$in": topicIDs}})
		return err
	})
	g.Go(func() error {
		_, err := r.topics.DeleteMany(gctx, bson.M{"_id": bson.M{"$in": topicIDs}})
		return err
	})
	g.Go(func() error {
		_, err := r.skills.DeleteMany(gctx, bson.M{"userId": id})
		return err
	})
	if err := g.Wait(); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete user content", err)
	}

	res, err := r.users.DeleteOne(ctx, byID(id))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete user", err)
	}
	if res.DeletedCount == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}
