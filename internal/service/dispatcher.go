package service

import (
	"context"
	"fmt"
	"time"

	"github.com/practiceflow/notify-engine/internal/domain"
	"github.com/practiceflow/notify-engine/internal/gateway"
	"github.com/practiceflow/notify-engine/internal/observability"
	"github.com/practiceflow/notify-engine/internal/phone"
	"github.com/practiceflow/notify-engine/internal/ratelimit"
	"github.com/practiceflow/notify-engine/internal/repository"
	"github.com/practiceflow/notify-engine/internal/templates"
	"go.uber.org/zap"
)

const (
	defaultStatusMaxAge = 30 * time.Second
	defaultProcessLimit = 100
	maxBulkSize         = 1000
)

// Gateway is the part of the gateway client the dispatcher drives.
type Gateway interface {
	SendOne(ctx context.Context, phone, message string) domain.DeliveryResult
	SendBulk(ctx context.Context, items []gateway.BulkItem) []domain.DeliveryResult
	ScheduleRemote(ctx context.Context, phone, message string, delayMinutes int) domain.DeliveryResult
	Reconnect(ctx context.Context) error
}

// StatusMonitor serves cached gateway status.
type StatusMonitor interface {
	GetStatus(ctx context.Context, maxAge time.Duration) domain.GatewayStatus
	ForceCheck(ctx context.Context) domain.GatewayStatus
}

// PassLocker serializes processing passes across instances.
type PassLocker interface {
	TryAcquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

// Dependencies are the collaborators of a Dispatcher. Bulk, RateLimiter,
// PassLock, Metrics and Phone are optional.
type Dependencies struct {
	Notifications repository.NotificationRepository
	Attempts      repository.AttemptRepository
	Bulk          repository.BulkRepository
	Gateway       Gateway
	Monitor       StatusMonitor
	Catalog       *templates.Catalog
	Phone         *phone.Normalizer
	RateLimiter   ratelimit.RateLimiter
	PassLock      PassLocker
	Metrics       *observability.Metrics
}

type DispatcherConfig struct {
	// RemoteScheduling hands delayed reminders to the gateway's own scheduler.
	RemoteScheduling bool
	// RequireConnectedGateway skips a processing pass while the gateway is down.
	RequireConnectedGateway bool
	StatusMaxAge            time.Duration
	ProcessLimit            int
	// StaleClaimAfter returns records stuck in sending to pending. Non-positive disables it.
	StaleClaimAfter time.Duration
}

// Dispatcher owns the notification lifecycle: creation, delivery, the
// reprocessing pass and operator actions.
type Dispatcher struct {
	notifications repository.NotificationRepository
	attempts      repository.AttemptRepository
	bulk          repository.BulkRepository
	gateway       Gateway
	monitor       StatusMonitor
	catalog       *templates.Catalog
	phone         *phone.Normalizer
	rateLimiter   ratelimit.RateLimiter
	passLock      PassLocker
	metrics       *observability.Metrics
	cfg           DispatcherConfig
	logger        *zap.Logger
	now           func() time.Time
}

func NewDispatcher(deps Dependencies, cfg DispatcherConfig, logger *zap.Logger) (*Dispatcher, error) {
	return newDispatcher(deps, cfg, logger, time.Now)
}

func newDispatcher(deps Dependencies, cfg DispatcherConfig, logger *zap.Logger, nowFn func() time.Time) (*Dispatcher, error) {
	if deps.Notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if deps.Attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if deps.Monitor == nil {
		return nil, fmt.Errorf("status monitor is required")
	}
	if deps.Catalog == nil {
		deps.Catalog = templates.DefaultCatalog()
	}
	if deps.Phone == nil {
		deps.Phone = phone.Default
	}
	if cfg.StatusMaxAge <= 0 {
		cfg.StatusMaxAge = defaultStatusMaxAge
	}
	if cfg.ProcessLimit <= 0 {
		cfg.ProcessLimit = defaultProcessLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &Dispatcher{
		notifications: deps.Notifications,
		attempts:      deps.Attempts,
		bulk:          deps.Bulk,
		gateway:       deps.Gateway,
		monitor:       deps.Monitor,
		catalog:       deps.Catalog,
		phone:         deps.Phone,
		rateLimiter:   deps.RateLimiter,
		passLock:      deps.PassLock,
		metrics:       deps.Metrics,
		cfg:           cfg,
		logger:        logger,
		now:           nowFn,
	}, nil
}

// QuickRequest is the input of CreateQuickNotification. Type and Priority
// are raw strings; Priority defaults to normal.
type QuickRequest struct {
	Recipient    string
	Type         string
	Variables    map[string]string
	DelayMinutes int
	Metadata     map[string]any
	Priority     string
}

// CreateQuickNotification renders the template for the request's type,
// writes a pending ledger record and either sends it now (zero delay) or
// schedules it. Validation failures are reported before anything is written.
// A failed delivery is not an error: the returned record is in failed state.
func (d *Dispatcher) CreateQuickNotification(ctx context.Context, req QuickRequest) (*domain.Notification, error) {
	typ, err := domain.ParseNotificationType(req.Type)
	if err != nil {
		return nil, err
	}
	priority, err := domain.ParsePriorityFromString(req.Priority)
	if err != nil {
		return nil, err
	}
	if req.DelayMinutes < 0 {
		return nil, fmt.Errorf("%w: delay minutes must not be negative", domain.ErrValidation)
	}

	recipient := d.phone.Normalize(req.Recipient)
	if !d.phone.IsValid(recipient) {
		return nil, fmt.Errorf("%w: invalid recipient phone %q", domain.ErrValidation, req.Recipient)
	}

	rendered, err := d.catalog.Render(typ, req.Variables)
	if err != nil {
		return nil, err
	}
	if len(rendered.Missing) > 0 {
		d.logger.Warn("template variables missing, placeholders left in message",
			zap.String("type", typ.String()),
			zap.Strings("missing", rendered.Missing),
		)
	}

	notification := &domain.Notification{
		Type:           typ,
		RecipientPhone: recipient,
		Title:          rendered.Title,
		Message:        rendered.Message,
		Metadata:       copyMetadata(req.Metadata),
		Priority:       priority,
	}

	if req.DelayMinutes > 0 {
		return d.ScheduleReminder(ctx, notification, req.DelayMinutes)
	}

	now := d.now().UTC()
	notification.Status = domain.StatusPending
	notification.ScheduledFor = now
	if err := d.create(ctx, notification); err != nil {
		return nil, err
	}

	return d.SendMessage(ctx, notification.ID)
}

// ScheduleReminder persists n as pending, due delayMinutes from now. With
// remote scheduling enabled the gateway is asked to deliver it itself; when
// that fails the record stays with the local reprocessing pass.
func (d *Dispatcher) ScheduleReminder(ctx context.Context, n *domain.Notification, delayMinutes int) (*domain.Notification, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}
	if delayMinutes < 0 {
		return nil, fmt.Errorf("%w: delay minutes must not be negative", domain.ErrValidation)
	}

	now := d.now().UTC()
	n.Status = domain.StatusPending
	n.ScheduledFor = now.Add(time.Duration(delayMinutes) * time.Minute)
	n.RemoteScheduled = false
	if n.Metadata == nil {
		n.Metadata = map[string]any{}
	}
	n.Metadata[domain.MetaDelivery] = domain.MetaDeliveryLocal

	if err := d.create(ctx, n); err != nil {
		return nil, err
	}

	if !d.cfg.RemoteScheduling || delayMinutes == 0 {
		return n, nil
	}

	start := d.now()
	result := d.gateway.ScheduleRemote(ctx, n.RecipientPhone, n.Message, delayMinutes)
	d.metrics.ObserveGatewayCall("schedule_reminder", d.now().Sub(start))
	d.recordAttempt(ctx, n.ID, 0, result)

	if !result.Success {
		d.logger.Warn("remote scheduling failed, keeping local schedule",
			append(observability.NotificationFields(n), zap.String("error", result.Error()))...,
		)
		return n, nil
	}

	updated, err := d.notifications.MarkRemoteScheduled(ctx, n.ID, result.ProviderMessageID)
	if err != nil {
		// The gateway already holds the message; the record is still pending locally.
		d.logger.Error("failed to mark notification as remotely scheduled",
			append(observability.NotificationFields(n), zap.Error(err))...,
		)
		return n, nil
	}

	return updated, nil
}

// SendMessage claims a due pending record and makes exactly one delivery
// attempt. It returns ErrNotFound for unknown ids and ErrConflict when the
// record is not pending, not yet due, or claimed by someone else.
func (d *Dispatcher) SendMessage(ctx context.Context, id int64) (*domain.Notification, error) {
	now := d.now().UTC()
	claimed, err := d.notifications.Claim(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("failed to claim notification: %w", err)
	}
	if claimed == nil {
		return nil, d.claimRefused(ctx, id, now)
	}

	return d.deliver(ctx, claimed)
}

func (d *Dispatcher) claimRefused(ctx context.Context, id int64, now time.Time) error {
	current, err := d.notifications.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == domain.StatusPending && current.ScheduledFor.After(now) {
		return fmt.Errorf("%w: notification %d is not due until %s",
			domain.ErrConflict, id, current.ScheduledFor.Format(time.RFC3339))
	}
	return fmt.Errorf("%w: notification %d is %s and cannot be sent", domain.ErrConflict, id, current.Status)
}

// deliver finishes a claimed record. Records the gateway scheduled itself are
// reconciled to sent without another gateway call.
func (d *Dispatcher) deliver(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	logger := observability.WithContextLogger(d.logger, ctx).With(observability.NotificationFields(n)...)

	if n.RemoteScheduled {
		updated, err := d.notifications.MarkSent(context.WithoutCancel(ctx), n.ID, d.now().UTC(), n.ProviderMessageID)
		if err != nil {
			return nil, fmt.Errorf("failed to reconcile remotely scheduled notification: %w", err)
		}
		d.metrics.IncNotificationSent(n.Type.String())
		logger.Info("remotely scheduled notification reconciled as sent")
		return updated, nil
	}

	if d.rateLimiter != nil {
		if err := d.rateLimiter.Wait(ctx, ratelimit.ScopeGatewaySend); err != nil {
			if ctx.Err() != nil {
				d.releaseClaim(ctx, n, logger)
				return nil, fmt.Errorf("rate limiter wait failed: %w", err)
			}
			logger.Warn("rate limiter unavailable, sending without it", zap.Error(err))
		}
	}

	start := d.now()
	result := d.gateway.SendOne(ctx, n.RecipientPhone, n.Message)
	finished := d.now().UTC()
	d.metrics.ObserveGatewayCall("send_message", finished.Sub(start))

	// The attempt has happened; the outcome must be written even if the caller went away.
	writeCtx := context.WithoutCancel(ctx)
	d.recordAttempt(writeCtx, n.ID, n.AttemptCount, result)

	if result.Success {
		updated, err := d.notifications.MarkSent(writeCtx, n.ID, finished, result.ProviderMessageID)
		if err != nil {
			return nil, fmt.Errorf("failed to mark notification as sent: %w", err)
		}
		d.metrics.IncNotificationSent(n.Type.String())
		logger.Info("notification sent")
		return updated, nil
	}

	updated, err := d.notifications.MarkFailed(writeCtx, n.ID, finished, result.Error())
	if err != nil {
		return nil, fmt.Errorf("failed to mark notification as failed: %w", err)
	}
	d.metrics.IncNotificationFailed(n.Type.String(), failureReason(result))
	logger.Warn("notification delivery failed", zap.String("error", result.Error()))

	return updated, nil
}

// releaseClaim puts a claimed record back to pending when no gateway call was made.
func (d *Dispatcher) releaseClaim(ctx context.Context, n *domain.Notification, logger *zap.Logger) {
	if _, err := d.notifications.ReleaseClaim(context.WithoutCancel(ctx), n.ID, d.now().UTC()); err != nil {
		logger.Error("failed to release notification claim", zap.Error(err))
		return
	}
	logger.Info("notification claim released before sending")
}

// recordAttempt writes the audit row for a gateway call. Failures are logged
// only; the delivery outcome is already decided.
func (d *Dispatcher) recordAttempt(ctx context.Context, notificationID int64, attemptNumber int, result domain.DeliveryResult) {
	attempt := &domain.DeliveryAttempt{
		NotificationID: notificationID,
		AttemptNumber:  attemptNumber,
		Success:        result.Success,
		CreatedAt:      d.now().UTC(),
	}
	if result.StatusCode > 0 {
		code := result.StatusCode
		attempt.StatusCode = &code
	}
	if !result.Success {
		msg := result.Error()
		attempt.Error = &msg
	}

	if err := d.attempts.Create(ctx, attempt); err != nil {
		d.logger.Error("failed to record delivery attempt",
			zap.Int64("notificationId", notificationID),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) create(ctx context.Context, n *domain.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if err := d.notifications.Create(ctx, n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func failureReason(result domain.DeliveryResult) string {
	switch {
	case result.StatusCode == 0:
		return "transport"
	case result.StatusCode >= 500:
		return "gateway_error"
	default:
		return "rejected"
	}
}

func copyMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
