package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type KeyExpirer interface {
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// ExpireKeys flips every overdue key to the expire status. The gate checks
// expiresAt on its own, this only keeps the stored status honest
func ExpireKeys(ctx context.Context, keys KeyExpirer, now time.Time) {
	n, err := keys.ExpireOverdue(ctx, now)
	if err != nil {
		zap.L().Error("Failed to expire overdue keys", zap.Error(err))
		return
	}

	if n > 0 {
		zap.L().Info("Expired overdue keys", zap.Int64("count", n))
	}
}

// StartKeyExpiry schedules ExpireKeys on the given cron spec. The returned
// scheduler is already running, stop it on shutdown
func StartKeyExpiry(spec string, keys KeyExpirer) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		ExpireKeys(ctx, keys, time.Now())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule key expiry, %w", err)
	}

	zap.L().Debug("Key expiry attached", zap.String("schedule", spec))

	c.Start()
	return c, nil
}
