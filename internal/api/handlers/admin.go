package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"roadmap/internal/core"
	"roadmap/internal/types"
)

// PlanCatalog lists and seeds the plans. Satisfied by *billing.PlanCatalog.
type PlanCatalog interface {
	List(ctx context.Context) ([]types.Plan, error)
	Seed(ctx context.Context, proPriceID string) ([]types.Plan, error)
}

// AdminHandler exposes operator endpoints behind the admin key.
type AdminHandler struct {
	plans      PlanCatalog
	proPriceID string
	logger     *slog.Logger
}

// NewAdminHandler creates an AdminHandler. proPriceID is attached to the Pro
// plan on seed.
func NewAdminHandler(plans PlanCatalog, proPriceID string, l *slog.Logger) *AdminHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AdminHandler{plans: plans, proPriceID: proPriceID, logger: l}
}

// RegisterRoutes mounts the admin routes.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Get("/admin/plans", h.ListPlans)
	r.Post("/admin/plans/seed", h.SeedPlans)
}

// ListPlans handles GET /admin/plans.
func (h *AdminHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.plans.List(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if plans == nil {
		plans = []types.Plan{}
	}
	core.JSON(w, r, http.StatusOK, plans)
}

// SeedPlans handles POST /admin/plans/seed. Safe to repeat.
func (h *AdminHandler) SeedPlans(w http.ResponseWriter, r *http.Request) {
	if h.proPriceID == "" {
		h.logger.WarnContext(r.Context(), "seeding plans without a pro price id")
	}
	plans, err := h.plans.Seed(r.Context(), h.proPriceID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, plans)
}
