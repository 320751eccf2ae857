package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"roadmap/internal/types"
)

func fillPlan(p types.Plan) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = p.ID
		*dest[1].(*string) = p.Name
		*dest[2].(*int64) = p.MonthlyPrice
		*dest[3].(*string) = p.Currency
		*dest[4].(*int) = p.MaxSkills
		*dest[5].(*int) = p.TopicsPerMonth
		*dest[6].(*string) = p.ExternalPriceRef
		*dest[7].(*time.Time) = p.CreatedAt
		return nil
	}
}

func TestPlanRepository_GetByName(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPlanRepository(db)
	ctx := context.Background()

	want := types.Plan{ID: "p1", Name: "Free", Currency: "GBP", MaxSkills: 1, TopicsPerMonth: 3}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"Free"}).Return(&mockRow{scanFn: fillPlan(want)})

	got, err := repo.GetByName(ctx, "Free")
	require.NoError(t, err)
	assert.Equal(t, want, *got)
	assert.Equal(t, 3, got.LimitFor(types.CounterTopics))
	assert.Equal(t, 1, got.LimitFor(types.CounterSkills))
}

func TestPlanRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPlanRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"nope"}).Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(ctx, "nope")
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundPlan))
}

func TestPlanRepository_List(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPlanRepository(db)
	ctx := context.Background()

	free := types.Plan{ID: "p1", Name: "Free", MaxSkills: 1, TopicsPerMonth: 3}
	pro := types.Plan{ID: "p2", Name: "Pro", MonthlyPrice: 999, MaxSkills: types.Unlimited, TopicsPerMonth: types.Unlimited}
	rows := newMockRows(fillPlan(free), fillPlan(pro))
	db.On("Query", ctx, mock.AnythingOfType("string"), []any(nil)).Return(rows, nil)

	plans, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "Free", plans[0].Name)
	assert.Equal(t, types.Unlimited, plans[1].TopicsPerMonth)
	assert.True(t, rows.closed)
}

func TestPlanRepository_List_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPlanRepository(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(nil, errors.New("boom"))

	_, err := repo.List(ctx)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestPlanRepository_Upsert(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPlanRepository(db)
	ctx := context.Background()

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
		return assert.Contains(t, sql, "ON CONFLICT (name) DO UPDATE")
	}), mock.Anything).Return(&mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*string) = "existing-id"
		*dest[1].(*time.Time) = created
		return nil
	}})

	p := &types.Plan{Name: "Pro", MonthlyPrice: 999, MaxSkills: types.Unlimited, TopicsPerMonth: types.Unlimited}
	require.NoError(t, repo.Upsert(ctx, p))

	assert.Equal(t, "existing-id", p.ID)
	assert.Equal(t, "GBP", p.Currency)
	assert.Equal(t, created, p.CreatedAt)
}
