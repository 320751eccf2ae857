package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"roadmap/internal/external"
	"roadmap/internal/notify"
	"roadmap/internal/store"
	"roadmap/internal/types"
)

// Clerk event types handled by the reconciler.
const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

// ClerkEvent is a Clerk webhook envelope. Data carries the user object for
// created/updated events and {id, deleted} for deletions.
type ClerkEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseClerkEvent decodes a verified webhook body.
func ParseClerkEvent(payload []byte) (ClerkEvent, error) {
	var ev ClerkEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, types.NewAppError(types.ErrCodeValidationInvalidInput, "invalid webhook event JSON", err)
	}
	if ev.Type == "" {
		return ev, types.NewAppError(types.ErrCodeValidationMissingField, "webhook event has no type", nil)
	}
	return ev, nil
}

// ClerkConfig wires a ClerkReconciler. Directory is optional; without it the
// plan override is read from the event payload only.
type ClerkConfig struct {
	Users     store.UserStore
	Plans     PlanLookup
	Directory external.IdentityDirectory
	Dedup     Deduper
	Notifier  notify.Notifier
	Clock     types.Clock
	Logger    *slog.Logger
}

// ClerkReconciler mirrors identity-provider accounts into local users.
type ClerkReconciler struct {
	users     store.UserStore
	plans     PlanLookup
	directory external.IdentityDirectory
	mail      *mailer
	clock     types.Clock
	logger    *slog.Logger
}

// NewClerkReconciler returns a reconciler over cfg.
func NewClerkReconciler(cfg ClerkConfig) *ClerkReconciler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	logger := cfg.Logger.With("component", "clerk_reconciler")
	return &ClerkReconciler{
		users:     cfg.Users,
		plans:     cfg.Plans,
		directory: cfg.Directory,
		mail:      &mailer{source: SourceClerk, dedup: cfg.Dedup, notifier: cfg.Notifier, logger: logger},
		clock:     cfg.Clock,
		logger:    logger,
	}
}

// Process applies ev. messageID is the svix-id header, used for email
// dedup. It reports whether local state changed.
func (r *ClerkReconciler) Process(ctx context.Context, messageID string, ev ClerkEvent) bool {
	logger := r.logger.With("svix_id", messageID, "event_type", ev.Type)

	var err error
	switch ev.Type {
	case EventUserCreated:
		err = r.handleCreated(ctx, messageID, ev)
	case EventUserUpdated:
		err = r.handleUpdated(ctx, messageID, ev)
	case EventUserDeleted:
		err = r.handleDeleted(ctx, ev)
	default:
		logger.InfoContext(ctx, "ignoring unhandled clerk event")
		return false
	}

	if err != nil {
		if errors.Is(err, errSkip) {
			logger.InfoContext(ctx, "clerk event not applied", "reason", err.Error())
		} else {
			logger.ErrorContext(ctx, "clerk event processing failed", "error", err)
		}
		return false
	}
	logger.InfoContext(ctx, "clerk event processed")
	return true
}

func decodeClerkUser(ev ClerkEvent) (*external.IdentityUser, error) {
	var u external.IdentityUser
	if err := json.Unmarshal(ev.Data, &u); err != nil {
		return nil, fmt.Errorf("%s: decoding user: %w", ev.Type, err)
	}
	if u.ID == "" {
		return nil, fmt.Errorf("%w: %s without user id", errSkip, ev.Type)
	}
	return &u, nil
}

// overridePlan returns the plan named by the account's planId metadata when
// that plan exists locally. The payload is checked first, then the
// directory. Lookup failures are logged and yield nil.
func (r *ClerkReconciler) overridePlan(ctx context.Context, data *external.IdentityUser) *types.Plan {
	planID := data.PlanOverride()
	if planID == "" && r.directory != nil {
		full, err := r.directory.GetUser(ctx, data.ID)
		if err != nil {
			r.logger.WarnContext(ctx, "failed to fetch identity metadata",
				"external_id", data.ID,
				"error", err,
			)
			return nil
		}
		planID = full.PlanOverride()
	}
	if planID == "" {
		return nil
	}

	p, err := r.plans.ByID(ctx, planID)
	if err != nil {
		r.logger.WarnContext(ctx, "override plan does not exist, keeping default",
			"external_id", data.ID,
			"plan_id", planID,
		)
		return nil
	}
	return p
}

func profileOf(data *external.IdentityUser) types.UserProfilePatch {
	return types.UserProfilePatch{
		Email:     types.NormalizeEmail(data.PrimaryEmail()),
		FirstName: data.FirstName,
		LastName:  data.LastName,
		ImageURL:  data.ImageURL,
	}
}

// findUser resolves by external id, then by email.
func (r *ClerkReconciler) findUser(ctx context.Context, externalID, email string) (*types.User, error) {
	u, err := r.users.GetByExternalID(ctx, externalID)
	if err == nil || !types.IsCode(err, types.ErrCodeNotFoundUser) || email == "" {
		return u, err
	}
	return r.users.GetByEmail(ctx, email)
}

func (r *ClerkReconciler) handleCreated(ctx context.Context, messageID string, ev ClerkEvent) error {
	data, err := decodeClerkUser(ev)
	if err != nil {
		return err
	}

	plan := r.overridePlan(ctx, data)
	if plan == nil {
		if plan, err = r.plans.ByName(ctx, types.PlanNameFree); err != nil {
			return fmt.Errorf("resolving Free plan: %w", err)
		}
	}

	profile := profileOf(data)
	existing, err := r.findUser(ctx, data.ID, profile.Email)
	switch {
	case err == nil:
		if existing.ExternalIdentityID != data.ID {
			r.logger.WarnContext(ctx, "existing user matched by email",
				"user_id", existing.ID,
				"external_id", data.ID,
			)
		}
		if profile.Email == "" {
			profile.Email = existing.Email
		}
		if _, err := r.users.UpdateProfile(ctx, existing.ID, profile); err != nil {
			return fmt.Errorf("updating profile for %s: %w", existing.ID, err)
		}
		if existing.PlanID != plan.ID {
			if err := r.users.SetPlan(ctx, existing.ID, plan.ID); err != nil {
				return fmt.Errorf("setting plan for %s: %w", existing.ID, err)
			}
		}
		return nil
	case !types.IsCode(err, types.ErrCodeNotFoundUser):
		return fmt.Errorf("looking up %s: %w", data.ID, err)
	}

	u := types.NewUser(data.ID, profile.Email, plan.ID, r.clock.Now().UTC())
	u.FirstName = profile.FirstName
	u.LastName = profile.LastName
	u.ImageURL = profile.ImageURL
	if err := r.users.Create(ctx, u); err != nil {
		return fmt.Errorf("creating user for %s: %w", data.ID, err)
	}

	r.mail.send(ctx, messageID, u, types.NotifyWelcome, map[string]any{
		notify.DataFirstName: u.FirstName,
		notify.DataPlanName:  plan.Name,
	})
	return nil
}

func (r *ClerkReconciler) handleUpdated(ctx context.Context, messageID string, ev ClerkEvent) error {
	data, err := decodeClerkUser(ev)
	if err != nil {
		return err
	}

	existing, err := r.users.GetByExternalID(ctx, data.ID)
	if err != nil {
		if types.IsCode(err, types.ErrCodeNotFoundUser) {
			return fmt.Errorf("%w: no local user for %s", errSkip, data.ID)
		}
		return fmt.Errorf("looking up %s: %w", data.ID, err)
	}

	profile := profileOf(data)
	if profile.Email == "" {
		profile.Email = existing.Email
	}
	u, err := r.users.UpdateProfile(ctx, existing.ID, profile)
	if err != nil {
		return fmt.Errorf("updating profile for %s: %w", existing.ID, err)
	}

	plan := r.overridePlan(ctx, data)
	if plan == nil || plan.ID == u.PlanID {
		return nil
	}

	oldPlanName := ""
	if old, err := r.plans.ByID(ctx, u.PlanID); err == nil {
		oldPlanName = old.Name
	}
	if err := r.users.SetPlan(ctx, u.ID, plan.ID); err != nil {
		return fmt.Errorf("setting plan for %s: %w", u.ID, err)
	}
	u.PlanID = plan.ID

	r.mail.send(ctx, messageID, u, types.NotifyPlanChanged, map[string]any{
		notify.DataFirstName: u.FirstName,
		notify.DataPlanName:  plan.Name,
		notify.DataOldPlan:   oldPlanName,
	})
	return nil
}

func (r *ClerkReconciler) handleDeleted(ctx context.Context, ev ClerkEvent) error {
	var data struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return fmt.Errorf("%s: decoding data: %w", ev.Type, err)
	}
	if data.ID == "" {
		return fmt.Errorf("%w: %s without user id", errSkip, ev.Type)
	}

	u, err := r.users.GetByExternalID(ctx, data.ID)
	if err != nil {
		if types.IsCode(err, types.ErrCodeNotFoundUser) {
			return fmt.Errorf("%w: no local user for %s", errSkip, data.ID)
		}
		return fmt.Errorf("looking up %s: %w", data.ID, err)
	}
	if err := r.users.Delete(ctx, u.ID); err != nil {
		return fmt.Errorf("deleting user %s: %w", u.ID, err)
	}
	return nil
}
