// Package access implements the precondition checks that run before any
// call to the upstream solver is allowed
package access

import (
	"bitwise74/captcha-gateway/internal/model"
	"bitwise74/captcha-gateway/internal/store"
	"bitwise74/captcha-gateway/internal/telemetry"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Reason is the machine readable tag sent to clients on a denial. Clients
// match on these values so they must not change
type Reason string

const (
	ReasonMaintenance    Reason = "maintenance_mode"
	ReasonUpdateRequired Reason = "update_required"
	ReasonUserNotFound   Reason = "user_not_found"
	ReasonSuspended      Reason = "suspended"
	ReasonNoKey          Reason = "api_error"
	ReasonInactive       Reason = "inactive"
	ReasonExpired        Reason = "expire"
)

type SettingsStore interface {
	Get(ctx context.Context) (*model.Settings, error)
	EnsureDefaults(ctx context.Context) (*model.Settings, bool, error)
}

type UserFinder interface {
	FindByVisitor(ctx context.Context, visitorID string) (*model.User, error)
}

type KeyFinder interface {
	FindByVisitor(ctx context.Context, visitorID string) (*model.APIKey, error)
}

// Decision is the outcome of a gate evaluation. When Allowed is false,
// Status, Reason and Message describe the denial
type Decision struct {
	Allowed     bool
	UpstreamKey string

	Reason  Reason
	Status  int
	Message string

	// Only set for ReasonUpdateRequired
	CurrentVersion  string
	RequiredVersion string
}

// Payload returns the response body for a denied decision
func (d Decision) Payload() map[string]any {
	p := map[string]any{
		"error":  d.Message,
		"status": d.Reason,
	}

	if d.Reason == ReasonUpdateRequired {
		p["currentVersion"] = d.CurrentVersion
		p["requiredVersion"] = d.RequiredVersion
	}

	return p
}

type Gate struct {
	settings SettingsStore
	users    UserFinder
	keys     KeyFinder
	now      func() time.Time
}

func NewGate(settings SettingsStore, users UserFinder, keys KeyFinder) *Gate {
	return &Gate{
		settings: settings,
		users:    users,
		keys:     keys,
		now:      time.Now,
	}
}

// Evaluate runs the checks in a fixed order and stops at the first one that
// fails. appVersion may be empty, in which case the version check is
// skipped. Errors are only returned for store failures
func (g *Gate) Evaluate(ctx context.Context, visitorID, appVersion string) (Decision, error) {
	settings, err := g.loadSettings(ctx)
	if err != nil {
		return Decision{}, err
	}

	if settings.MaintenanceMode {
		return deny(ReasonMaintenance, http.StatusServiceUnavailable,
			"The extension is currently under maintenance. Please try again later."), nil
	}

	if appVersion != "" && settings.AppVersion != "" && appVersion != settings.AppVersion {
		d := deny(ReasonUpdateRequired, http.StatusUpgradeRequired,
			"A new version of the extension is available. Please update to continue.")
		d.CurrentVersion = appVersion
		d.RequiredVersion = settings.AppVersion

		return d, nil
	}

	user, err := g.users.FindByVisitor(ctx, visitorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return deny(ReasonUserNotFound, http.StatusNotFound, "User not found"), nil
		}

		return Decision{}, fmt.Errorf("failed to look up user, %w", err)
	}

	if user.Status == model.UserSuspended {
		return deny(ReasonSuspended, http.StatusForbidden,
			"This device is currently suspended. Please contact admin to activate it."), nil
	}

	key, err := g.keys.FindByVisitor(ctx, visitorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return deny(ReasonNoKey, http.StatusBadRequest, "No API key found"), nil
		}

		return Decision{}, fmt.Errorf("failed to look up key, %w", err)
	}

	if key.Status == model.KeyInactive {
		return deny(ReasonInactive, http.StatusForbidden,
			"This device is currently inactive. Please contact admin to activate it."), nil
	}

	if key.Expired(g.now()) {
		return deny(ReasonExpired, http.StatusForbidden,
			"API key has expired. Please contact admin to renew it."), nil
	}

	return Decision{Allowed: true, UpstreamKey: settings.UpstreamKey}, nil
}

func (g *Gate) loadSettings(ctx context.Context) (*model.Settings, error) {
	settings, err := g.settings.Get(ctx)
	if err == nil {
		return settings, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	settings, _, err = g.settings.EnsureDefaults(ctx)
	if err != nil {
		return nil, err
	}

	return settings, nil
}

func deny(reason Reason, status int, msg string) Decision {
	telemetry.GateDenialsTotal.WithLabelValues(string(reason)).Inc()

	return Decision{
		Reason:  reason,
		Status:  status,
		Message: msg,
	}
}
