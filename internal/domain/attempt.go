package domain

import "time"

// DeliveryAttempt records a single gateway call made for a ledger record.
type DeliveryAttempt struct {
	ID             string
	NotificationID int64
	AttemptNumber  int
	Success        bool
	StatusCode     *int
	Error          *string
	CreatedAt      time.Time
}
