package domain

import "time"

// BulkStatus represents the aggregate outcome of a bulk dispatch.
type BulkStatus string

const (
	BulkStatusCompleted      BulkStatus = "completed"
	BulkStatusPartialFailure BulkStatus = "partial_failure"
	BulkStatusFailed         BulkStatus = "failed"
)

func (s BulkStatus) String() string { return string(s) }

func (s BulkStatus) IsValid() bool {
	switch s {
	case BulkStatusCompleted, BulkStatusPartialFailure, BulkStatusFailed:
		return true
	}
	return false
}

// BulkStatusFromCounts derives the aggregate status of a bulk send.
func BulkStatusFromCounts(sent, failed int) BulkStatus {
	switch {
	case failed == 0:
		return BulkStatusCompleted
	case sent == 0:
		return BulkStatusFailed
	default:
		return BulkStatusPartialFailure
	}
}

// BulkDispatch is the audit row for one bulk fan-out. It carries counts only;
// per-recipient ledger entries are the caller's responsibility.
type BulkDispatch struct {
	ID          string
	TotalCount  int
	SentCount   int
	FailedCount int
	Status      BulkStatus
	CreatedAt   time.Time
}
