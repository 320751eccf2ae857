package docstore

import (
	"context"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"roadmap/internal/types"
)

// PlanRepository stores the plan catalog.
type PlanRepository struct {
	plans *mongo.Collection
}

// NewPlanRepository creates a new PlanRepository over db.
func NewPlanRepository(db *mongo.Database) *PlanRepository {
	return &PlanRepository{plans: db.Collection(plansCollection)}
}

func (r *PlanRepository) findOne(ctx context.Context, filter bson.M) (*types.Plan, error) {
	var p types.Plan
	if err := r.plans.FindOne(ctx, filter).Decode(&p); err != nil {
		return nil, lookupError(err, types.ErrCodeNotFoundPlan, "failed to retrieve plan")
	}
	return &p, nil
}

// GetByID retrieves a plan by primary key.
func (r *PlanRepository) GetByID(ctx context.Context, id string) (*types.Plan, error) {
	return r.findOne(ctx, byID(id))
}

// GetByName retrieves a plan by its unique name.
func (r *PlanRepository) GetByName(ctx context.Context, name string) (*types.Plan, error) {
	return r.findOne(ctx, bson.M{"name": name})
}

// List returns every plan ordered by price.
func (r *PlanRepository) List(ctx context.Context) ([]types.Plan, error) {
	cur, err := r.plans.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "monthlyPrice", Value: 1}, {Key: "name", Value: 1}}))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list plans", err)
	}
	plans := []types.Plan{}
	if err := cur.All(ctx, &plans); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode plans", err)
	}
	return plans, nil
}

// planUpsert keeps the id and creation time of an existing plan with the
// same name.
func planUpsert(p *types.Plan, at bson.DateTime) bson.M {
	return bson.M{
		"$set": bson.M{
			"monthlyPrice":     p.MonthlyPrice,
			"currency":         p.Currency,
			"maxSkills":        p.MaxSkills,
			"topicsPerMonth":   p.TopicsPerMonth,
			"externalPriceRef": p.ExternalPriceRef,
		},
		"$setOnInsert": bson.M{
			"_id":       p.ID,
			"createdAt": at,
		},
	}
}

// Upsert inserts the plan or updates the one with the same name.
func (r *PlanRepository) Upsert(ctx context.Context, p *types.Plan) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Currency == "" {
		p.Currency = "GBP"
	}

	var stored types.Plan
	err := r.plans.FindOneAndUpdate(ctx,
		bson.M{"name": p.Name},
		planUpsert(p, bson.NewDateTimeFromTime(now())),
		returnAfter().SetUpsert(true),
	).Decode(&stored)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert plan", err)
	}
	p.ID = stored.ID
	p.CreatedAt = stored.CreatedAt
	return nil
}
