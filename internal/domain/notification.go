package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a ledger record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRead      Status = "read"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSending, StatusSent, StatusFailed, StatusCancelled, StatusRead:
		return true
	}
	return false
}

// IsTerminal reports whether the dispatch pipeline never touches the record again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusCancelled, StatusRead:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// transitions lists every legal status change. pending -> pending (reschedule)
// is a schedule change only and does not go through this table.
var transitions = map[Status][]Status{
	StatusPending: {StatusSending, StatusCancelled},
	StatusSending: {StatusSent, StatusFailed},
	StatusSent:    {StatusRead},
	StatusFailed:  {StatusPending},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NotificationType is the business event kind a record was created for.
type NotificationType string

const (
	TypeAppointmentReminder NotificationType = "appointment_reminder"
	TypePaymentDue          NotificationType = "payment_due"
	TypeDocumentReady       NotificationType = "document_ready"
	TypeFollowup            NotificationType = "followup"
	TypeWelcome             NotificationType = "welcome"
	TypeCustom              NotificationType = "custom"
)

func (t NotificationType) String() string { return string(t) }

func (t NotificationType) IsValid() bool {
	switch t {
	case TypeAppointmentReminder, TypePaymentDue, TypeDocumentReady, TypeFollowup, TypeWelcome, TypeCustom:
		return true
	}
	return false
}

func ParseNotificationType(s string) (NotificationType, error) {
	t := NotificationType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: unknown notification type %q", ErrValidation, s)
	}
	return t, nil
}

// AllNotificationTypes returns the closed set of notification types.
func AllNotificationTypes() []NotificationType {
	return []NotificationType{
		TypeAppointmentReminder,
		TypePaymentDue,
		TypeDocumentReady,
		TypeFollowup,
		TypeWelcome,
		TypeCustom,
	}
}

// Priority is an ordering hint. It is preserved but not used for preemption.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// ParsePriorityFromString defaults to normal on empty input.
func ParsePriorityFromString(s string) (Priority, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" {
		return PriorityNormal, nil
	}
	pr := Priority(trimmed)
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

// Metadata keys written by the dispatcher.
const (
	MetaError          = "error"
	MetaFailedAt       = "failed_at"
	MetaDelivery       = "delivery"
	MetaDeliveryLocal  = "local"
	MetaDeliveryRemote = "remote"
)

// Notification is one entry of the notification ledger.
type Notification struct {
	ID                int64
	Type              NotificationType
	RecipientPhone    string
	Title             string
	Message           string
	Metadata          map[string]any
	Priority          Priority
	Status            Status
	ScheduledFor      time.Time
	SentAt            *time.Time
	ProviderMessageID *string
	AttemptCount      int
	RemoteScheduled   bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (n *Notification) Validate() error {
	if !n.Type.IsValid() {
		return fmt.Errorf("%w: invalid notification type %q", ErrValidation, n.Type)
	}
	if strings.TrimSpace(n.RecipientPhone) == "" {
		return fmt.Errorf("%w: recipient phone is required", ErrValidation)
	}
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if !n.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, n.Priority)
	}
	if n.ScheduledFor.IsZero() {
		return fmt.Errorf("%w: scheduled time is required", ErrValidation)
	}
	return nil
}

// IsOverdue reports whether a pending record has passed its scheduled time.
func (n *Notification) IsOverdue(now time.Time) bool {
	return n.Status == StatusPending && n.ScheduledFor.Before(now)
}

// IsDue reports whether the record may be picked up by a processing pass.
func (n *Notification) IsDue(now time.Time) bool {
	return n.Status == StatusPending && !n.ScheduledFor.After(now)
}

// MetadataString returns a metadata value rendered as a string.
func (n *Notification) MetadataString(key string) string {
	if n == nil || n.Metadata == nil {
		return ""
	}
	v, ok := n.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
