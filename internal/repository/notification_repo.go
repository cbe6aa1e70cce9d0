package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/practiceflow/notify-engine/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
	defaultDueLimit = 100
)

type ListParams struct {
	Status        *domain.Status
	Type          *domain.NotificationType
	ScheduledFrom *time.Time
	ScheduledTo   *time.Time
	MetadataKey   string
	// MetadataValue narrows MetadataKey to an exact value; nil only requires the key.
	MetadataValue *string
	// OverdueAt keeps pending records scheduled strictly before it.
	OverdueAt *time.Time
	Page      int
	PageSize  int
}

// Pagination returns the effective page and page size.
func (p ListParams) Pagination() (page, pageSize int) {
	page = max(p.Page, 1)
	pageSize = p.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	return page, min(pageSize, maxPageSize)
}

// DueCursor marks the last record of a ListDue page. The next page starts
// strictly after it in (scheduled_for, id) order.
type DueCursor struct {
	ScheduledFor time.Time
	ID           int64
}

// CursorAfter returns the cursor following n.
func CursorAfter(n domain.Notification) *DueCursor {
	return &DueCursor{ScheduledFor: n.ScheduledFor, ID: n.ID}
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id int64) (*domain.Notification, error)
	List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error)
	ListDue(ctx context.Context, now time.Time, after *DueCursor, limit int) ([]domain.Notification, error)
	Claim(ctx context.Context, id int64, now time.Time) (*domain.Notification, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time, providerMessageID *string) (*domain.Notification, error)
	MarkFailed(ctx context.Context, id int64, failedAt time.Time, reason string) (*domain.Notification, error)
	UpdateStatus(ctx context.Context, id int64, from []domain.Status, to domain.Status, fields map[string]any) (*domain.Notification, error)
	UpdateSchedule(ctx context.Context, id int64, scheduledFor time.Time) (*domain.Notification, error)
	MarkRemoteScheduled(ctx context.Context, id int64, providerMessageID *string) (*domain.Notification, error)
	ReleaseClaim(ctx context.Context, id int64, now time.Time) (*domain.Notification, error)
	RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error)
}

// GormNotificationRepo implements every state change as one conditional
// UPDATE so concurrent passes and operator actions cannot both win.
type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if model == nil {
		return fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*n = *notificationModelToDomain(model)
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id int64) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error) {
	query := applyListFilters(r.db.WithContext(ctx).Model(&NotificationModel{}), params)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := params.Pagination()

	var models []NotificationModel
	err := query.
		Order("scheduled_for ASC").
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	return modelsToDomain(models), total, nil
}

func applyListFilters(query *gorm.DB, params ListParams) *gorm.DB {
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Type != nil {
		query = query.Where("type = ?", *params.Type)
	}
	if params.ScheduledFrom != nil {
		query = query.Where("scheduled_for >= ?", *params.ScheduledFrom)
	}
	if params.ScheduledTo != nil {
		query = query.Where("scheduled_for <= ?", *params.ScheduledTo)
	}
	if key := strings.TrimSpace(params.MetadataKey); key != "" {
		if params.MetadataValue != nil {
			query = query.Where(datatypes.JSONQuery("metadata").Equals(*params.MetadataValue, key))
		} else {
			query = query.Where(datatypes.JSONQuery("metadata").HasKey(key))
		}
	}
	if params.OverdueAt != nil {
		query = query.Where("status = ? AND scheduled_for < ?", domain.StatusPending, *params.OverdueAt)
	}
	return query
}

// ListDue returns one page of pending records whose scheduled time has
// arrived, oldest first, starting after the given cursor when it is set.
func (r *GormNotificationRepo) ListDue(ctx context.Context, now time.Time, after *DueCursor, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = defaultDueLimit
	}

	query := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", domain.StatusPending, now)
	if after != nil {
		query = query.Where("(scheduled_for, id) > (?, ?)", after.ScheduledFor, after.ID)
	}

	var models []NotificationModel
	err := query.
		Order("scheduled_for ASC").
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	return modelsToDomain(models), nil
}

// Claim moves a due pending record to sending. It returns nil without error
// when the record is missing, not pending, not yet due, or claimed by someone else.
func (r *GormNotificationRepo) Claim(ctx context.Context, id int64, now time.Time) (*domain.Notification, error) {
	var model NotificationModel
	result := r.db.WithContext(ctx).
		Model(&model).
		Clauses(clause.Returning{}).
		Where("id = ? AND status = ? AND scheduled_for <= ?", id, domain.StatusPending, now).
		Updates(map[string]any{
			"status":        domain.StatusSending,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"updated_at":    now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) MarkSent(ctx context.Context, id int64, sentAt time.Time, providerMessageID *string) (*domain.Notification, error) {
	fields := map[string]any{
		"sent_at":    sentAt,
		"updated_at": sentAt,
	}
	if providerMessageID != nil {
		fields["provider_message_id"] = *providerMessageID
	}

	return r.UpdateStatus(ctx, id, []domain.Status{domain.StatusSending}, domain.StatusSent, fields)
}

// MarkFailed records the failure reason in metadata without dropping other keys.
func (r *GormNotificationRepo) MarkFailed(ctx context.Context, id int64, failedAt time.Time, reason string) (*domain.Notification, error) {
	patch, err := failurePatch(failedAt, reason)
	if err != nil {
		return nil, err
	}

	return r.UpdateStatus(ctx, id, []domain.Status{domain.StatusSending}, domain.StatusFailed, map[string]any{
		"metadata":   gorm.Expr("COALESCE(metadata, '{}'::jsonb) || ?::jsonb", patch),
		"updated_at": failedAt,
	})
}

// UpdateStatus applies to only if the record is currently in one of from.
// Pairs the transition table forbids are dropped before querying.
func (r *GormNotificationRepo) UpdateStatus(
	ctx context.Context,
	id int64,
	from []domain.Status,
	to domain.Status,
	fields map[string]any,
) (*domain.Notification, error) {
	allowed := make([]domain.Status, 0, len(from))
	for _, status := range from {
		if domain.CanTransition(status, to) {
			allowed = append(allowed, status)
		}
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%w: no allowed transition to %s", domain.ErrConflict, to)
	}

	updates := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = to

	return r.conditionalUpdate(ctx, id, allowed, updates)
}

// UpdateSchedule moves scheduled_for of a pending record.
func (r *GormNotificationRepo) UpdateSchedule(ctx context.Context, id int64, scheduledFor time.Time) (*domain.Notification, error) {
	return r.conditionalUpdate(ctx, id, []domain.Status{domain.StatusPending}, map[string]any{
		"scheduled_for": scheduledFor,
	})
}

func (r *GormNotificationRepo) MarkRemoteScheduled(ctx context.Context, id int64, providerMessageID *string) (*domain.Notification, error) {
	fields := map[string]any{
		"remote_scheduled": true,
		"metadata":         gorm.Expr("COALESCE(metadata, '{}'::jsonb) || ?::jsonb", remoteDeliveryPatch),
	}
	if providerMessageID != nil {
		fields["provider_message_id"] = *providerMessageID
	}
	return r.conditionalUpdate(ctx, id, []domain.Status{domain.StatusPending}, fields)
}

// ReleaseClaim undoes a Claim whose gateway call never started: the record
// goes back to pending and the attempt is not counted.
func (r *GormNotificationRepo) ReleaseClaim(ctx context.Context, id int64, now time.Time) (*domain.Notification, error) {
	return r.conditionalUpdate(ctx, id, []domain.Status{domain.StatusSending}, map[string]any{
		"status":        domain.StatusPending,
		"attempt_count": gorm.Expr("GREATEST(attempt_count - 1, 0)"),
		"updated_at":    now,
	})
}

// RequeueStale returns records stuck in sending since before claimedBefore to
// pending, so a crashed pass does not strand them.
func (r *GormNotificationRepo) RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("status = ? AND updated_at < ?", domain.StatusSending, claimedBefore).
		Update("status", domain.StatusPending)
	return result.RowsAffected, result.Error
}

func (r *GormNotificationRepo) conditionalUpdate(
	ctx context.Context,
	id int64,
	from []domain.Status,
	fields map[string]any,
) (*domain.Notification, error) {
	var model NotificationModel
	result := r.db.WithContext(ctx).
		Model(&model).
		Clauses(clause.Returning{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(fields)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, r.missingOrConflict(ctx, id, from)
	}

	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) missingOrConflict(ctx context.Context, id int64, from []domain.Status) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: notification %d is %s, expected one of %v", domain.ErrConflict, id, current.Status, from)
}

var remoteDeliveryPatch = fmt.Sprintf(`{%q:%q}`, domain.MetaDelivery, domain.MetaDeliveryRemote)

func failurePatch(failedAt time.Time, reason string) (string, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "unknown error"
	}

	raw, err := json.Marshal(map[string]any{
		domain.MetaError:    reason,
		domain.MetaFailedAt: failedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode failure metadata: %w", err)
	}
	return string(raw), nil
}

func modelsToDomain(models []NotificationModel) []domain.Notification {
	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications
}
