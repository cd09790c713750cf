package model

import "time"

type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
)

type User struct {
	ID        uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	VisitorID *string    `gorm:"uniqueIndex" json:"visitorId"` // Browser/device fingerprint, null until bound
	Name      string     `gorm:"not null" json:"name"`
	Email     *string    `gorm:"uniqueIndex" json:"email,omitempty"`
	Role      string     `gorm:"type:varchar(16);not null;default:user" json:"role"`
	Status    UserStatus `gorm:"type:varchar(16);not null;default:active" json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
