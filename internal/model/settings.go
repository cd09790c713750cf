// Package model defines database models
package model

import "time"

// SettingsID is the primary key of the settings singleton. Every read and
// write goes through this row so there can never be more than one
const SettingsID uint = 1

type Settings struct {
	ID               uint      `gorm:"primaryKey" json:"-"`
	MaintenanceMode  bool      `gorm:"not null" json:"maintenanceMode"`
	FreeTrialAllowed bool      `gorm:"not null" json:"freeTrialAllowed"`
	AppVersion       string    `gorm:"not null" json:"appVersion"` // Required client version, compared for equality
	UpstreamKey      string    `gorm:"not null" json:"-"`          // Solver credential, never leaves the backend
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
