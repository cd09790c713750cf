package store

import (
	"bitwise74/captcha-gateway/internal/model"
	"context"
	"fmt"

	"gorm.io/gorm"
)

const (
	DefaultTaskLimit = 50
	MaxTaskLimit     = 200
)

type TaskStore struct {
	db *gorm.DB
}

func NewTaskStore(db *gorm.DB) *TaskStore {
	return &TaskStore{db: db}
}

func (s *TaskStore) Create(ctx context.Context, task *model.Task) error {
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("failed to create task, %w", err)
	}

	return nil
}

type TaskFilter struct {
	Status model.TaskStatus
	Limit  int
}

// List returns tasks newest first
func (s *TaskStore) List(ctx context.Context, f TaskFilter) ([]model.Task, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultTaskLimit
	}

	if f.Limit > MaxTaskLimit {
		f.Limit = MaxTaskLimit
	}

	q := s.db.WithContext(ctx).Model(&model.Task{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	tasks := []model.Task{}

	err := q.
		Order("created_at desc").
		Order("id desc").
		Limit(f.Limit).
		Find(&tasks).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks, %w", err)
	}

	return tasks, nil
}
