package store

import (
	"bitwise74/captcha-gateway/internal/model"
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type KeyStore struct {
	db *gorm.DB
}

func NewKeyStore(db *gorm.DB) *KeyStore {
	return &KeyStore{db: db}
}

func (s *KeyStore) FindByVisitor(ctx context.Context, visitorID string) (*model.APIKey, error) {
	return s.findOne(ctx, "visitor_id = ?", visitorID)
}

func (s *KeyStore) FindByKey(ctx context.Context, key string) (*model.APIKey, error) {
	return s.findOne(ctx, "key = ?", key)
}

// First returns the oldest registered key
func (s *KeyStore) First(ctx context.Context) (*model.APIKey, error) {
	var key model.APIKey

	err := s.db.WithContext(ctx).Order("id asc").First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to fetch first key, %w", err)
	}

	return &key, nil
}

func (s *KeyStore) findOne(ctx context.Context, query string, args ...any) (*model.APIKey, error) {
	var key model.APIKey

	err := s.db.WithContext(ctx).Where(query, args...).First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to find key, %w", err)
	}

	return &key, nil
}

// Claim binds key to visitorID in a single conditional update and upserts
// the visitor's user named name in the same transaction. The row is only
// touched when it's unclaimed or already held by the same visitor and
// hasn't expired. ErrNotClaimed means the precondition didn't hold and the
// caller has to look at the row to find out why. ErrConflict means the
// visitor already holds a different key
func (s *KeyStore) Claim(ctx context.Context, key, visitorID, name string, now time.Time) (*model.APIKey, error) {
	now = now.UTC()

	var claimed *model.APIKey

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := tx.
			Model(&model.APIKey{}).
			Where("key = ?", key).
			Where("(visitor_id IS NULL OR visitor_id = ?)", visitorID).
			Where("status <> ?", model.KeyExpired).
			Where("(expires_at IS NULL OR expires_at > ?)", now).
			Updates(map[string]any{
				"visitor_id":   visitorID,
				"last_used_at": now,
			})
		if r.Error != nil {
			if errors.Is(r.Error, gorm.ErrDuplicatedKey) {
				return ErrConflict
			}

			return fmt.Errorf("failed to claim key, %w", r.Error)
		}

		if r.RowsAffected == 0 {
			return ErrNotClaimed
		}

		if _, err := NewUserStore(tx).UpsertVisitor(ctx, visitorID, name); err != nil {
			return err
		}

		k, err := NewKeyStore(tx).FindByKey(ctx, key)
		if err != nil {
			return err
		}

		claimed = k
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// ExpireOverdue marks every active key whose expiry has passed as expired
// and returns how many rows changed
func (s *KeyStore) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	r := s.db.WithContext(ctx).
		Model(&model.APIKey{}).
		Where("status = ?", model.KeyActive).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now.UTC()).
		Update("status", model.KeyExpired)
	if r.Error != nil {
		return 0, fmt.Errorf("failed to expire keys, %w", r.Error)
	}

	return r.RowsAffected, nil
}
