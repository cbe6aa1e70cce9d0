package service

import (
	"context"
	"fmt"
	"time"

	"github.com/practiceflow/notify-engine/internal/domain"
	"github.com/practiceflow/notify-engine/internal/repository"
	"go.uber.org/zap"
)

// Reschedule moves a pending record to a new time.
func (d *Dispatcher) Reschedule(ctx context.Context, id int64, scheduledFor time.Time) (*domain.Notification, error) {
	if scheduledFor.IsZero() {
		return nil, fmt.Errorf("%w: scheduled time is required", domain.ErrValidation)
	}

	if _, err := d.requireLocallyScheduled(ctx, id); err != nil {
		return nil, err
	}

	updated, err := d.notifications.UpdateSchedule(ctx, id, scheduledFor.UTC())
	if err != nil {
		return nil, err
	}

	d.logger.Info("notification rescheduled",
		zap.Int64("notificationId", id),
		zap.Time("scheduledFor", updated.ScheduledFor),
	)
	return updated, nil
}

// SendNow makes a pending record due immediately and attempts delivery once.
func (d *Dispatcher) SendNow(ctx context.Context, id int64) (*domain.Notification, error) {
	if _, err := d.requireLocallyScheduled(ctx, id); err != nil {
		return nil, err
	}

	if _, err := d.notifications.UpdateSchedule(ctx, id, d.now().UTC()); err != nil {
		return nil, err
	}

	return d.SendMessage(ctx, id)
}

// Cancel stops a pending record from ever being sent.
func (d *Dispatcher) Cancel(ctx context.Context, id int64) (*domain.Notification, error) {
	updated, err := d.notifications.UpdateStatus(ctx, id, []domain.Status{domain.StatusPending}, domain.StatusCancelled, nil)
	if err != nil {
		return nil, err
	}

	if updated.RemoteScheduled {
		d.logger.Warn("cancelled notification is still scheduled on the gateway",
			zap.Int64("notificationId", id),
		)
	}
	d.logger.Info("notification cancelled", zap.Int64("notificationId", id))
	return updated, nil
}

// Retry returns a failed record to pending, due now. The next processing
// pass or a send-now delivers it.
func (d *Dispatcher) Retry(ctx context.Context, id int64) (*domain.Notification, error) {
	updated, err := d.notifications.UpdateStatus(ctx, id, []domain.Status{domain.StatusFailed}, domain.StatusPending, map[string]any{
		"scheduled_for":    d.now().UTC(),
		"remote_scheduled": false,
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("failed notification returned to pending", zap.Int64("notificationId", id))
	return updated, nil
}

// MarkRead records the recipient's acknowledgement of a sent record.
func (d *Dispatcher) MarkRead(ctx context.Context, id int64) (*domain.Notification, error) {
	return d.notifications.UpdateStatus(ctx, id, []domain.Status{domain.StatusSent}, domain.StatusRead, nil)
}

func (d *Dispatcher) Get(ctx context.Context, id int64) (*domain.Notification, error) {
	return d.notifications.GetByID(ctx, id)
}

func (d *Dispatcher) Attempts(ctx context.Context, id int64) ([]domain.DeliveryAttempt, error) {
	if _, err := d.notifications.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return d.attempts.ListByNotificationID(ctx, id)
}

func (d *Dispatcher) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	return d.notifications.List(ctx, params)
}

// ListOverdue lists pending records whose scheduled time has passed.
func (d *Dispatcher) ListOverdue(ctx context.Context, page, pageSize int) ([]domain.Notification, int64, error) {
	now := d.now().UTC()
	return d.notifications.List(ctx, repository.ListParams{
		OverdueAt: &now,
		Page:      page,
		PageSize:  pageSize,
	})
}

// GatewayStatus returns the monitor's view, refreshed when older than maxAge.
func (d *Dispatcher) GatewayStatus(ctx context.Context, maxAge time.Duration) domain.GatewayStatus {
	return d.monitor.GetStatus(ctx, maxAge)
}

// ReconnectGateway asks the gateway to re-establish its session and then
// refreshes the cached status.
func (d *Dispatcher) ReconnectGateway(ctx context.Context) (domain.GatewayStatus, error) {
	start := d.now()
	err := d.gateway.Reconnect(ctx)
	d.metrics.ObserveGatewayCall("reconnect", d.now().Sub(start))
	if err != nil {
		d.logger.Warn("gateway reconnect failed", zap.Error(err))
		return d.monitor.ForceCheck(ctx), fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	status := d.monitor.ForceCheck(ctx)
	d.logger.Info("gateway reconnect requested", zap.Bool("connected", status.Connected))
	return status, nil
}

// requireLocallyScheduled rejects records whose delivery time is held by the
// gateway, since moving them locally would not move the gateway's copy.
func (d *Dispatcher) requireLocallyScheduled(ctx context.Context, id int64) (*domain.Notification, error) {
	current, err := d.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: notification %d is %s, expected %s",
			domain.ErrConflict, id, current.Status, domain.StatusPending)
	}
	if current.RemoteScheduled {
		return nil, fmt.Errorf("%w: notification %d is scheduled on the gateway", domain.ErrConflict, id)
	}
	return current, nil
}
