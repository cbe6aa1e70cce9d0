package repository

import (
	"time"

	"gorm.io/datatypes"

	"github.com/practiceflow/notify-engine/internal/domain"
)

// NotificationModel is the persistence model for the notifications ledger.
type NotificationModel struct {
	ID                int64                   `gorm:"primaryKey;autoIncrement"`
	Type              domain.NotificationType `gorm:"type:varchar(32);not null"`
	RecipientPhone    string                  `gorm:"type:varchar(32);not null"`
	Title             string                  `gorm:"type:varchar(255);not null;default:''"`
	Message           string                  `gorm:"type:text;not null"`
	Metadata          datatypes.JSONMap       `gorm:"type:jsonb;not null;default:'{}'"`
	Priority          domain.Priority         `gorm:"type:varchar(10);not null"`
	Status            domain.Status           `gorm:"type:varchar(20);not null"`
	ScheduledFor      time.Time               `gorm:"type:timestamptz;not null"`
	SentAt            *time.Time              `gorm:"type:timestamptz"`
	ProviderMessageID *string                 `gorm:"type:varchar(255)"`
	AttemptCount      int                     `gorm:"not null;default:0"`
	RemoteScheduled   bool                    `gorm:"not null;default:false"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// DeliveryAttemptModel is the persistence model for notification_attempts.
type DeliveryAttemptModel struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	NotificationID int64   `gorm:"not null;index"`
	AttemptNumber  int     `gorm:"not null"`
	Success        bool    `gorm:"not null"`
	StatusCode     *int    `gorm:"type:int"`
	Error          *string `gorm:"type:text"`
	CreatedAt      time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "notification_attempts"
}

// BulkDispatchModel is the persistence model for bulk_dispatches.
type BulkDispatchModel struct {
	ID          string            `gorm:"type:uuid;primaryKey"`
	TotalCount  int               `gorm:"not null"`
	SentCount   int               `gorm:"not null"`
	FailedCount int               `gorm:"not null"`
	Status      domain.BulkStatus `gorm:"type:varchar(20);not null"`
	CreatedAt   time.Time
}

func (BulkDispatchModel) TableName() string {
	return "bulk_dispatches"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	metadata := datatypes.JSONMap(n.Metadata)
	if metadata == nil {
		metadata = datatypes.JSONMap{}
	}

	return &NotificationModel{
		ID:                n.ID,
		Type:              n.Type,
		RecipientPhone:    n.RecipientPhone,
		Title:             n.Title,
		Message:           n.Message,
		Metadata:          metadata,
		Priority:          n.Priority,
		Status:            n.Status,
		ScheduledFor:      n.ScheduledFor,
		SentAt:            n.SentAt,
		ProviderMessageID: n.ProviderMessageID,
		AttemptCount:      n.AttemptCount,
		RemoteScheduled:   n.RemoteScheduled,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	metadata := map[string]any(m.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}

	return &domain.Notification{
		ID:                m.ID,
		Type:              m.Type,
		RecipientPhone:    m.RecipientPhone,
		Title:             m.Title,
		Message:           m.Message,
		Metadata:          metadata,
		Priority:          m.Priority,
		Status:            m.Status,
		ScheduledFor:      m.ScheduledFor,
		SentAt:            m.SentAt,
		ProviderMessageID: m.ProviderMessageID,
		AttemptCount:      m.AttemptCount,
		RemoteScheduled:   m.RemoteScheduled,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:             a.ID,
		NotificationID: a.NotificationID,
		AttemptNumber:  a.AttemptNumber,
		Success:        a.Success,
		StatusCode:     a.StatusCode,
		Error:          a.Error,
		CreatedAt:      a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		AttemptNumber:  m.AttemptNumber,
		Success:        m.Success,
		StatusCode:     m.StatusCode,
		Error:          m.Error,
		CreatedAt:      m.CreatedAt,
	}
}

func bulkModelFromDomain(b *domain.BulkDispatch) *BulkDispatchModel {
	if b == nil {
		return nil
	}

	return &BulkDispatchModel{
		ID:          b.ID,
		TotalCount:  b.TotalCount,
		SentCount:   b.SentCount,
		FailedCount: b.FailedCount,
		Status:      b.Status,
		CreatedAt:   b.CreatedAt,
	}
}

func bulkModelToDomain(m *BulkDispatchModel) *domain.BulkDispatch {
	if m == nil {
		return nil
	}

	return &domain.BulkDispatch{
		ID:          m.ID,
		TotalCount:  m.TotalCount,
		SentCount:   m.SentCount,
		FailedCount: m.FailedCount,
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
	}
}
