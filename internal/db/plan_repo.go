package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"roadmap/internal/types"
)

// PlanRepository provides data access for the plans table.
type PlanRepository struct {
	db DBTX
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(db DBTX) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `id, name, monthly_price, currency, max_skills, topics_per_month, external_price_ref, created_at`

func scanPlan(row pgx.Row) (*types.Plan, error) {
	var p types.Plan
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.MonthlyPrice,
		&p.Currency,
		&p.MaxSkills,
		&p.TopicsPerMonth,
		&p.ExternalPriceRef,
		&p.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func planLookupError(err error) error {
	if isNoMatch(err) {
		return types.NewAppError(types.ErrCodeNotFoundPlan, "plan not found", nil)
	}
	return types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve plan", err)
}

// GetByID retrieves a plan by primary key.
func (r *PlanRepository) GetByID(ctx context.Context, id string) (*types.Plan, error) {
	p, err := scanPlan(r.db.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
	if err != nil {
		return nil, planLookupError(err)
	}
	return p, nil
}

// GetByName retrieves a plan by its unique name.
func (r *PlanRepository) GetByName(ctx context.Context, name string) (*types.Plan, error) {
	p, err := scanPlan(r.db.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE name = $1`, name))
	if err != nil {
		return nil, planLookupError(err)
	}
	return p, nil
}

// List returns every plan ordered by price.
func (r *PlanRepository) List(ctx context.Context) ([]types.Plan, error) {
	rows, err := r.db.Query(ctx, `SELECT `+planColumns+` FROM plans ORDER BY monthly_price, name`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list plans", err)
	}
	defer rows.Close()

	plans := []types.Plan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan plan", err)
		}
		plans = append(plans, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating plans", err)
	}
	return plans, nil
}

// Upsert inserts the plan or updates the existing row with the same name.
// The stored id is written back to p.ID.
func (r *PlanRepository) Upsert(ctx context.Context, p *types.Plan) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Currency == "" {
		p.Currency = "GBP"
	}

	err := r.db.QueryRow(ctx,
		`INSERT INTO plans (id, name, monthly_price, currency, max_skills, topics_per_month, external_price_ref)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (name) DO UPDATE SET
			monthly_price = EXCLUDED.monthly_price,
			currency = EXCLUDED.currency,
			max_skills = EXCLUDED.max_skills,
			topics_per_month = EXCLUDED.topics_per_month,
			external_price_ref = EXCLUDED.external_price_ref
		 RETURNING id, created_at`,
		p.ID, p.Name, p.MonthlyPrice, p.Currency, p.MaxSkills, p.TopicsPerMonth, p.ExternalPriceRef,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert plan", err)
	}
	return nil
}
