package service

import (
	"context"
	"fmt"
	"time"

	"github.com/practiceflow/notify-engine/internal/domain"
	"github.com/practiceflow/notify-engine/internal/observability"
	"github.com/practiceflow/notify-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	skipReasonLocked       = "another processing pass is running"
	skipReasonDisconnected = "gateway disconnected"
)

// ProcessResult summarizes one reprocessing pass. Processed counts records
// that ended sent, Failed counts records that ended failed or hit a store
// error. Records another pass claimed first are in neither.
type ProcessResult struct {
	Processed  int
	Failed     int
	Requeued   int64
	Skipped    bool
	SkipReason string
}

// ProcessScheduledNotifications delivers every due pending record once, in
// scheduled order, reading them in pages of ProcessLimit. Each record is claimed before delivery so overlapping
// passes never send the same record twice, and one record's error never
// stops the rest of the pass.
func (d *Dispatcher) ProcessScheduledNotifications(ctx context.Context) (*ProcessResult, error) {
	result := &ProcessResult{}
	logger := observability.WithContextLogger(d.logger, ctx)

	if d.passLock != nil {
		release, ok, err := d.passLock.TryAcquire(ctx)
		switch {
		case err != nil:
			logger.Warn("pass lock unavailable, relying on record claims", zap.Error(err))
		case !ok:
			result.Skipped = true
			result.SkipReason = skipReasonLocked
			d.metrics.IncProcessPass("skipped")
			logger.Info("processing pass skipped", zap.String("reason", result.SkipReason))
			return result, nil
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					logger.Warn("failed to release pass lock", zap.Error(err))
				}
			}()
		}
	}

	if d.cfg.RequireConnectedGateway {
		status := d.monitor.GetStatus(ctx, d.cfg.StatusMaxAge)
		if !status.Connected {
			result.Skipped = true
			result.SkipReason = skipReasonDisconnected
			d.metrics.IncProcessPass("skipped")
			logger.Warn("processing pass skipped", zap.String("reason", result.SkipReason))
			return result, nil
		}
	}

	now := d.now().UTC()

	if d.cfg.StaleClaimAfter > 0 {
		requeued, err := d.notifications.RequeueStale(ctx, now.Add(-d.cfg.StaleClaimAfter))
		if err != nil {
			logger.Error("failed to requeue stale claims", zap.Error(err))
		} else if requeued > 0 {
			result.Requeued = requeued
			logger.Warn("requeued notifications stuck in sending", zap.Int64("count", requeued))
		}
	}

	var (
		due    int
		cursor *repository.DueCursor
	)
	for {
		page, err := d.notifications.ListDue(ctx, now, cursor, d.cfg.ProcessLimit)
		if err != nil {
			d.metrics.IncProcessPass("error")
			return nil, fmt.Errorf("failed to list due notifications: %w", err)
		}

		for i := range page {
			if err := ctx.Err(); err != nil {
				d.metrics.IncProcessPass("canceled")
				return result, err
			}

			d.processOne(ctx, &page[i], now, result)
		}
		due += len(page)

		if len(page) < d.cfg.ProcessLimit {
			break
		}
		cursor = repository.CursorAfter(page[len(page)-1])
	}

	d.metrics.IncProcessPass("completed")
	logger.Info("processing pass finished",
		zap.Int("due", due),
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed),
	)

	return result, nil
}

func (d *Dispatcher) processOne(ctx context.Context, n *domain.Notification, now time.Time, result *ProcessResult) {
	claimed, err := d.notifications.Claim(ctx, n.ID, now)
	if err != nil {
		result.Failed++
		d.logger.Error("failed to claim due notification",
			append(observability.NotificationFields(n), zap.Error(err))...,
		)
		return
	}
	if claimed == nil {
		d.logger.Debug("due notification claimed elsewhere", zap.Int64("notificationId", n.ID))
		return
	}

	updated, err := d.deliver(ctx, claimed)
	if err != nil {
		result.Failed++
		d.logger.Error("failed to process due notification",
			append(observability.NotificationFields(claimed), zap.Error(err))...,
		)
		return
	}

	if updated.Status == domain.StatusSent {
		result.Processed++
		return
	}
	result.Failed++
}
