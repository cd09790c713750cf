package store

import (
	"bitwise74/captcha-gateway/internal/model"
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingsStore struct {
	db       *gorm.DB
	defaults model.Settings
}

// NewSettingsStore returns a store for the settings singleton. defaults is
// used when the row has to be created
func NewSettingsStore(db *gorm.DB, defaults model.Settings) *SettingsStore {
	return &SettingsStore{db: db, defaults: defaults}
}

// Get loads the settings row. ErrNotFound is returned if it doesn't exist yet
func (s *SettingsStore) Get(ctx context.Context) (*model.Settings, error) {
	var settings model.Settings

	err := s.db.WithContext(ctx).
		Where("id = ?", model.SettingsID).
		First(&settings).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to load settings, %w", err)
	}

	return &settings, nil
}

// EnsureDefaults creates the settings row with the default values if it's
// missing and returns the current row. The insert targets a fixed primary
// key and ignores conflicts, so concurrent callers end up with one row.
// created is true only for the caller whose insert went through
func (s *SettingsStore) EnsureDefaults(ctx context.Context) (settings *model.Settings, created bool, err error) {
	row := s.defaults
	row.ID = model.SettingsID

	r := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if r.Error != nil {
		return nil, false, fmt.Errorf("failed to create default settings, %w", r.Error)
	}

	settings, err = s.Get(ctx)
	if err != nil {
		return nil, false, err
	}

	return settings, r.RowsAffected > 0, nil
}
