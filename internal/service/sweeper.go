package service

import (
	"context"
	"log/slog"
	"time"

	"TutorNotifyServer/internal/schedule"
)

const DefaultTokenCleanupInterval = 24 * time.Hour

// NewTokenSweeperJob returns the recurring stale-token cleanup. The caller owns
// the job: Start it once per process and Stop the returned handle on shutdown.
func NewTokenSweeperJob(tokens *TokenService, interval time.Duration, maxAgeDays int, lock schedule.Locker, logger *slog.Logger) *schedule.Job {
	if interval <= 0 {
		interval = DefaultTokenCleanupInterval
	}
	if maxAgeDays <= 0 {
		maxAgeDays = DefaultTokenMaxAgeDays
	}
	return &schedule.Job{
		Name:       "push-token-cleanup",
		Interval:   interval,
		RunAtStart: true,
		Lock:       lock,
		Logger:     logger,
		Run: func(ctx context.Context) error {
			_, res := tokens.CleanupOldTokens(ctx, maxAgeDays)
			return res.Err
		},
	}
}

// NewRoutineDispatchJob returns the scheduled sweep that delivers due queued
// notifications.
func NewRoutineDispatchJob(d *DispatchService, interval time.Duration, lock schedule.Locker, logger *slog.Logger) *schedule.Job {
	return &schedule.Job{
		Name:     "routine-dispatch",
		Interval: interval,
		Lock:     lock,
		Logger:   logger,
		Run: func(ctx context.Context) error {
			res := d.Routine(ctx)
			return res.Err
		},
	}
}
