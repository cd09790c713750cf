package store

import (
	"bitwise74/captcha-gateway/internal/model"
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) FindByVisitor(ctx context.Context, visitorID string) (*model.User, error) {
	var user model.User

	err := s.db.WithContext(ctx).
		Where("visitor_id = ?", visitorID).
		First(&user).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to find user by visitor, %w", err)
	}

	return &user, nil
}

// UpsertVisitor creates an active user for the visitor or renames the
// existing one
func (s *UserStore) UpsertVisitor(ctx context.Context, visitorID, name string) (*model.User, error) {
	user, err := s.FindByVisitor(ctx, visitorID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if user != nil {
		err = s.db.WithContext(ctx).
			Model(user).
			Update("name", name).
			Error
		if err != nil {
			return nil, fmt.Errorf("failed to update user name, %w", err)
		}

		return user, nil
	}

	user = &model.User{
		VisitorID: &visitorID,
		Name:      name,
		Role:      "user",
		Status:    model.UserActive,
	}

	err = s.db.WithContext(ctx).Create(user).Error
	if err != nil {
		// Somebody created the same visitor in the meantime
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.UpsertVisitor(ctx, visitorID, name)
		}

		return nil, fmt.Errorf("failed to create user, %w", err)
	}

	return user, nil
}

// EnsureByEmail creates a user with the given email unless one already
// exists. Used when bootstrapping a fresh database
func (s *UserStore) EnsureByEmail(ctx context.Context, name, email, role string) (user *model.User, created bool, err error) {
	user = &model.User{}

	r := s.db.WithContext(ctx).
		Where("email = ?", email).
		Attrs(model.User{
			Name:   name,
			Email:  &email,
			Role:   role,
			Status: model.UserActive,
		}).
		FirstOrCreate(user)
	if r.Error != nil {
		return nil, false, fmt.Errorf("failed to ensure user, %w", r.Error)
	}

	return user, r.RowsAffected > 0, nil
}
