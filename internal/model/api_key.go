package model

import (
	"time"

	"gorm.io/gorm"
)

type KeyStatus string

const (
	KeyActive   KeyStatus = "active"
	KeyExpired  KeyStatus = "expire"
	KeyInactive KeyStatus = "inactive"
)

// APIKey is a pre-provisioned key from the pool. A key is claimed by the
// first visitor that binds it and stays with that visitor afterwards
type APIKey struct {
	ID         uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Key        string     `gorm:"uniqueIndex;not null" json:"key"`
	Name       string     `json:"name"`
	VisitorID  *string    `gorm:"uniqueIndex" json:"visitorId"` // One key per visitor, null means unclaimed
	Status     KeyStatus  `gorm:"type:varchar(16);not null;default:active;index" json:"status"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	LastUsedAt *time.Time `json:"lastUsedAt"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Expired reports whether the key is past its lifetime, either because it
// was marked as such or because expiresAt is behind now
func (k *APIKey) Expired(now time.Time) bool {
	if k.Status == KeyExpired {
		return true
	}

	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// BeforeSave stores times in UTC. sqlite keeps the offset of the value it's
// given and compares the text, so mixed offsets break expiry queries
func (k *APIKey) BeforeSave(tx *gorm.DB) error {
	k.ExpiresAt = utcPtr(k.ExpiresAt)
	k.LastUsedAt = utcPtr(k.LastUsedAt)
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	u := t.UTC()
	return &u
}
