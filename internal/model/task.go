package model

import (
	"time"

	"gorm.io/datatypes"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is a solver task submitted through the gateway. Task and Result are
// stored exactly as received and are never interpreted by the backend
type Task struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	VisitorID string         `gorm:"index" json:"visitorId"`
	Source    string         `json:"source,omitempty"`
	AppID     string         `json:"appId,omitempty"`
	Version   string         `json:"version,omitempty"`
	Task      datatypes.JSON `json:"task"`
	Status    TaskStatus     `gorm:"type:varchar(16);not null;index" json:"status"`
	Result    datatypes.JSON `json:"result,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
