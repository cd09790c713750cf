package service

import (
	"bitwise74/captcha-gateway/internal/model"
	"context"
	"fmt"
)

type Archiver interface {
	Archive(ctx context.Context, t *model.Task) error
}

type ObjectPutter interface {
	PutJSON(ctx context.Context, key string, v any) error
}

// TaskArchiver copies completed tasks into object storage under
// tasks/<id>.json
type TaskArchiver struct {
	store ObjectPutter
}

func NewTaskArchiver(p ObjectPutter) *TaskArchiver {
	return &TaskArchiver{store: p}
}

func (a *TaskArchiver) Archive(ctx context.Context, t *model.Task) error {
	if err := a.store.PutJSON(ctx, ArchiveKey(t.ID), t); err != nil {
		return fmt.Errorf("failed to archive task %d, %w", t.ID, err)
	}

	return nil
}

func ArchiveKey(id uint) string {
	return fmt.Sprintf("tasks/%d.json", id)
}
