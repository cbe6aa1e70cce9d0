package domain

import (
	"math"
	"time"
)

// GatewayStatus is a point-in-time view of the messaging gateway connection.
// It is recomputed on every check and never merged with earlier values.
type GatewayStatus struct {
	Connected bool      `json:"connected"`
	Identity  *string   `json:"identity,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
	Error     *string   `json:"error,omitempty"`
}

// Age returns how old the status is relative to now.
func (s GatewayStatus) Age(now time.Time) time.Duration {
	if s.CheckedAt.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(s.CheckedAt)
}

// DeliveryResult is the uniform outcome of a gateway call.
type DeliveryResult struct {
	Success           bool    `json:"success"`
	ProviderMessageID *string `json:"providerMessageId,omitempty"`
	ErrorMessage      *string `json:"errorMessage,omitempty"`
	StatusCode        int     `json:"-"`
}

func SuccessResult(providerMessageID string) DeliveryResult {
	result := DeliveryResult{Success: true}
	if providerMessageID != "" {
		result.ProviderMessageID = &providerMessageID
	}
	return result
}

func FailureResult(message string) DeliveryResult {
	return DeliveryResult{ErrorMessage: &message}
}

// Error returns the failure message, or an empty string on success.
func (r DeliveryResult) Error() string {
	if r.ErrorMessage == nil {
		return ""
	}
	return *r.ErrorMessage
}
