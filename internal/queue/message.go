package queue

import (
	"fmt"
	"strings"

	"github.com/practiceflow/notify-engine/internal/domain"
)

// EventMessage is a business event (appointment created, payment due, ...)
// published by the host application.
type EventMessage struct {
	EventID        string            `json:"eventId,omitempty"`
	CorrelationID  string            `json:"correlationId,omitempty"`
	EventType      string            `json:"eventType"`
	RecipientPhone string            `json:"recipientPhone"`
	Variables      map[string]string `json:"variables,omitempty"`
	DelayMinutes   int               `json:"delayMinutes,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	Priority       domain.Priority   `json:"priority,omitempty"`
}

func (m EventMessage) Validate() error {
	if _, err := domain.ParseNotificationType(m.EventType); err != nil {
		return err
	}
	if strings.TrimSpace(m.RecipientPhone) == "" {
		return fmt.Errorf("%w: recipientPhone is required", domain.ErrValidation)
	}
	if m.DelayMinutes < 0 {
		return fmt.Errorf("%w: delayMinutes must not be negative", domain.ErrValidation)
	}
	if m.Priority != "" && !m.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", domain.ErrValidation, m.Priority)
	}
	return nil
}
