package service

import (
	"bitwise74/captcha-gateway/internal/model"
	"bitwise74/captcha-gateway/internal/store"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// DefaultUserName is given to users whose key has no name
const DefaultUserName = "Unknown User"

type BindOutcome string

const (
	BindBound       BindOutcome = "valid"
	BindConflict    BindOutcome = "conflict"
	BindExpired     BindOutcome = "expire"
	BindUnavailable BindOutcome = "unavailable"
	BindNotFound    BindOutcome = "invalid"
)

// HTTPStatus maps the outcome to the status code sent to the client
func (o BindOutcome) HTTPStatus() int {
	switch o {
	case BindBound:
		return http.StatusOK
	case BindConflict:
		return http.StatusConflict
	case BindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusForbidden
	}
}

// Message is the human readable text sent along with the outcome
func (o BindOutcome) Message() string {
	switch o {
	case BindBound:
		return "API key is valid"
	case BindConflict:
		return "Visitor ID is already associated with another API key."
	case BindExpired:
		return "API key has expired"
	case BindUnavailable:
		return "API key is already used by another user"
	default:
		return "API key not found"
	}
}

type KeyClaimer interface {
	FindByVisitor(ctx context.Context, visitorID string) (*model.APIKey, error)
	FindByKey(ctx context.Context, key string) (*model.APIKey, error)
	Claim(ctx context.Context, key, visitorID, name string, now time.Time) (*model.APIKey, error)
}

type BindResult struct {
	Outcome BindOutcome
	Key     *model.APIKey // Only set when Outcome is BindBound
}

type Binder struct {
	keys KeyClaimer
	now  func() time.Time
}

func NewBinder(keys KeyClaimer) *Binder {
	return &Binder{
		keys: keys,
		now:  time.Now,
	}
}

// Bind claims key for visitorID and saves the visitor's user with it. The
// first visitor to bind a key keeps it, binding the same pair again only
// refreshes lastUsedAt. Policy outcomes are reported through BindResult, the
// error is reserved for store failures
func (b *Binder) Bind(ctx context.Context, key, visitorID string) (*BindResult, error) {
	held, err := b.keys.FindByVisitor(ctx, visitorID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if held != nil && held.Key != key {
		return &BindResult{Outcome: BindConflict}, nil
	}

	now := b.now()

	k, res, err := b.check(ctx, key, visitorID, now)
	if res != nil || err != nil {
		return res, err
	}

	name := k.Name
	if name == "" {
		name = DefaultUserName
	}

	claimed, err := b.keys.Claim(ctx, key, visitorID, name, now)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrConflict):
		// Another request bound a different key to this visitor in between
		return &BindResult{Outcome: BindConflict}, nil
	case errors.Is(err, store.ErrNotClaimed):
		// Lost a race, look at the row again
		_, res, err := b.check(ctx, key, visitorID, now)
		if res != nil || err != nil {
			return res, err
		}

		return &BindResult{Outcome: BindUnavailable}, nil
	default:
		return nil, fmt.Errorf("failed to bind key, %w", err)
	}

	return &BindResult{Outcome: BindBound, Key: claimed}, nil
}

// check loads key and returns a result when it can't be bound by visitorID
func (b *Binder) check(ctx context.Context, key, visitorID string, now time.Time) (*model.APIKey, *BindResult, error) {
	k, err := b.keys.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &BindResult{Outcome: BindNotFound}, nil
		}

		return nil, nil, err
	}

	if k.Expired(now) {
		return nil, &BindResult{Outcome: BindExpired}, nil
	}

	if k.VisitorID != nil && *k.VisitorID != visitorID {
		return nil, &BindResult{Outcome: BindUnavailable}, nil
	}

	return k, nil, nil
}
