package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultSchedulerInterval = time.Minute

// PassRunner runs one reprocessing pass.
type PassRunner interface {
	ProcessScheduledNotifications(ctx context.Context) (*ProcessResult, error)
}

// Scheduler triggers a reprocessing pass on a fixed interval, for hosts that
// do not call the HTTP trigger from an external cron.
type Scheduler struct {
	runner   PassRunner
	logger   *zap.Logger
	interval time.Duration
}

func NewScheduler(runner PassRunner, interval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("pass runner is required")
	}
	if interval <= 0 {
		interval = defaultSchedulerInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		runner:   runner,
		logger:   logger,
		interval: interval,
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.runPass(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler initial pass failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.runPass(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("scheduler pass failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context) error {
	result, err := s.runner.ProcessScheduledNotifications(ctx)
	if err != nil {
		return err
	}

	if result != nil && (result.Processed > 0 || result.Failed > 0) {
		s.logger.Info("scheduled pass delivered notifications",
			zap.Int("processed", result.Processed),
			zap.Int("failed", result.Failed),
		)
	}
	return nil
}
