package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/practiceflow/notify-engine/internal/domain"
	"github.com/practiceflow/notify-engine/internal/repository"
	"github.com/practiceflow/notify-engine/internal/service"
)

func decodeMap(t *testing.T, body []byte) map[string]any {
	t.Helper()

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("json unmarshal error = %v, body=%s", err, string(body))
	}
	return out
}

func sampleNotification(id int64, status domain.Status) *domain.Notification {
	return &domain.Notification{
		ID:             id,
		Type:           domain.TypeAppointmentReminder,
		RecipientPhone: "+5491123456789",
		Title:          "Recordatorio de turno",
		Message:        "Hola Ana, te recordamos tu turno.",
		Priority:       domain.PriorityNormal,
		Status:         status,
		ScheduledFor:   time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestNewNotificationHandlerRequiresService(t *testing.T) {
	t.Parallel()

	if _, err := NewNotificationHandler(nil); err == nil {
		t.Fatal("NewNotificationHandler(nil) expected error")
	}
}

func TestCreateNotification(t *testing.T) {
	t.Parallel()

	var got service.QuickRequest
	svc := &stubNotificationService{
		createFn: func(ctx context.Context, req service.QuickRequest) (*domain.Notification, error) {
			if _, err := domain.ParseNotificationType(req.Type); err != nil {
				return nil, err
			}
			got = req
			n := sampleNotification(7, domain.StatusSent)
			if req.DelayMinutes > 0 {
				n.Status = domain.StatusPending
			}
			return n, nil
		},
	}
	app := newNotificationTestApp(t, svc)

	body := `{"recipient":" 11 2345-6789 ","type":"appointment_reminder","variables":{"patient_name":"Ana"},"metadata":{"appointment_id":"a-1"},"priority":"high"}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/notifications", body)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(respBody))
	}
	parsed := decodeMap(t, respBody)
	if parsed["success"] != true || parsed["action"] != "send" {
		t.Fatalf("ack = %v, want success send", parsed)
	}
	if got.Recipient != "11 2345-6789" || got.Variables["patient_name"] != "Ana" || got.Priority != "high" {
		t.Fatalf("request = %+v, not forwarded as sent", got)
	}
	if got.Metadata["appointment_id"] != "a-1" {
		t.Fatalf("metadata = %v, want appointment_id", got.Metadata)
	}

	resp, respBody = performRequest(t, app, http.MethodPost, "/v1/notifications",
		`{"recipient":"1123456789","type":"followup","delayMinutes":30}`)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(respBody))
	}
	if parsed := decodeMap(t, respBody); parsed["action"] != "schedule" || parsed["success"] != true {
		t.Fatalf("ack = %v, want successful schedule", parsed)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications", `{"recipient":"1123456789","type":"fax"}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown type", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications", `{"recipient":`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed body", resp.StatusCode)
	}
}

func TestCreateNotificationReportsFailedDelivery(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		createFn: func(ctx context.Context, req service.QuickRequest) (*domain.Notification, error) {
			n := sampleNotification(9, domain.StatusFailed)
			n.Metadata = map[string]any{domain.MetaError: "gateway timeout"}
			return n, nil
		},
	}
	app := newNotificationTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/notifications", `{"recipient":"1123456789","type":"welcome"}`)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}
	parsed := decodeMap(t, body)
	if parsed["success"] != false || parsed["error"] != "gateway timeout" {
		t.Fatalf("ack = %v, want explicit failure with error", parsed)
	}
}

func TestGetNotification(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		getFn: func(ctx context.Context, id int64) (*domain.Notification, error) {
			if id != 42 {
				return nil, fmt.Errorf("%w: notification %d", domain.ErrNotFound, id)
			}
			return sampleNotification(42, domain.StatusPending), nil
		},
	}
	app := newNotificationTestApp(t, svc)

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "found", path: "/v1/notifications/42", want: fiber.StatusOK},
		{name: "missing", path: "/v1/notifications/43", want: fiber.StatusNotFound},
		{name: "non numeric id", path: "/v1/notifications/abc", want: fiber.StatusBadRequest},
		{name: "zero id", path: "/v1/notifications/0", want: fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, body := performRequest(t, app, http.MethodGet, tt.path, "")
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.want, string(body))
			}
		})
	}
}

func TestListNotificationsParsesFilters(t *testing.T) {
	t.Parallel()

	var got repository.ListParams
	svc := &stubNotificationService{
		listFn: func(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
			got = params
			return []domain.Notification{*sampleNotification(1, domain.StatusPending)}, 11, nil
		},
	}
	app := newNotificationTestApp(t, svc)

	path := "/v1/notifications?status=pending&type=payment_due&from=2030-06-01T00:00:00Z&to=2030-06-02T00:00:00Z" +
		"&metadataKey=appointment_id&metadataValue=a-1&overdue=true&page=2&pageSize=10"
	resp, body := performRequest(t, app, http.MethodGet, path, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	if got.Status == nil || *got.Status != domain.StatusPending {
		t.Fatalf("Status = %v, want pending", got.Status)
	}
	if got.Type == nil || *got.Type != domain.TypePaymentDue {
		t.Fatalf("Type = %v, want payment_due", got.Type)
	}
	if got.ScheduledFrom == nil || got.ScheduledTo == nil {
		t.Fatal("scheduled range should be parsed")
	}
	if got.MetadataKey != "appointment_id" || got.MetadataValue == nil || *got.MetadataValue != "a-1" {
		t.Fatalf("metadata filter = %q/%v", got.MetadataKey, got.MetadataValue)
	}
	if got.OverdueAt == nil {
		t.Fatal("overdue=true should set OverdueAt")
	}
	if got.Page != 2 || got.PageSize != 10 {
		t.Fatalf("pagination = %d/%d, want 2/10", got.Page, got.PageSize)
	}

	parsed := decodeMap(t, body)
	meta := parsed["meta"].(map[string]any)
	if meta["total"] != float64(11) {
		t.Fatalf("meta.total = %v, want 11", meta["total"])
	}
}

func TestListNotificationsRejectsInvalidQuery(t *testing.T) {
	t.Parallel()

	app := newNotificationTestApp(t, &stubNotificationService{})

	tests := []struct {
		name string
		path string
	}{
		{name: "page zero", path: "/v1/notifications?page=0"},
		{name: "page size too large", path: "/v1/notifications?pageSize=101"},
		{name: "unknown status", path: "/v1/notifications?status=lost"},
		{name: "unknown type", path: "/v1/notifications?type=fax"},
		{name: "bad from", path: "/v1/notifications?from=yesterday"},
		{name: "inverted range", path: "/v1/notifications?from=2030-06-02T00:00:00Z&to=2030-06-01T00:00:00Z"},
		{name: "value without key", path: "/v1/notifications?metadataValue=a-1"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, body := performRequest(t, app, http.MethodGet, tt.path, "")
			if resp.StatusCode != fiber.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body=%s", resp.StatusCode, string(body))
			}
		})
	}
}

func TestListOverdueRoute(t *testing.T) {
	t.Parallel()

	var page, pageSize int
	svc := &stubNotificationService{
		listOverdueFn: func(ctx context.Context, p, ps int) ([]domain.Notification, int64, error) {
			page, pageSize = p, ps
			n := sampleNotification(3, domain.StatusPending)
			n.ScheduledFor = time.Now().Add(-time.Hour)
			return []domain.Notification{*n}, 1, nil
		},
		getFn: func(ctx context.Context, id int64) (*domain.Notification, error) {
			t.Error("overdue must not be routed to the id handler")
			return nil, domain.ErrNotFound
		},
	}
	app := newNotificationTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/notifications/overdue?pageSize=5", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	if page != 1 || pageSize != 5 {
		t.Fatalf("pagination = %d/%d, want 1/5", page, pageSize)
	}

	var parsed listNotificationsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Data) != 1 || !parsed.Data[0].Overdue {
		t.Fatalf("data = %+v, want one overdue record", parsed.Data)
	}
}

func TestListAttempts(t *testing.T) {
	t.Parallel()

	code := 502
	msg := "bad gateway"
	svc := &stubNotificationService{
		attemptsFn: func(ctx context.Context, id int64) ([]domain.DeliveryAttempt, error) {
			return []domain.DeliveryAttempt{
				{ID: "a1", NotificationID: id, AttemptNumber: 0, StatusCode: &code, Error: &msg},
				{ID: "a2", NotificationID: id, AttemptNumber: 1, Success: true},
			}, nil
		},
	}
	app := newNotificationTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/notifications/5/attempts", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	parsed := decodeMap(t, body)
	if data := parsed["data"].([]any); len(data) != 2 {
		t.Fatalf("attempts = %d, want 2", len(data))
	}
}

func TestReschedule(t *testing.T) {
	t.Parallel()

	want := time.Date(2030, 7, 1, 15, 30, 0, 0, time.UTC)
	svc := &stubNotificationService{
		rescheduleFn: func(ctx context.Context, id int64, scheduledFor time.Time) (*domain.Notification, error) {
			if id == 2 {
				return nil, fmt.Errorf("%w: notification 2 is sent", domain.ErrConflict)
			}
			if !scheduledFor.Equal(want) {
				t.Errorf("scheduledFor = %v, want %v", scheduledFor, want)
			}
			n := sampleNotification(id, domain.StatusPending)
			n.ScheduledFor = scheduledFor
			return n, nil
		},
	}
	app := newNotificationTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/notifications/1/reschedule", `{"scheduledFor":"2030-07-01T15:30:00Z"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	if parsed := decodeMap(t, body); parsed["success"] != true || parsed["action"] != "reschedule" {
		t.Fatalf("ack = %v, want successful reschedule", parsed)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications/2/reschedule", `{"scheduledFor":"2030-07-01T15:30:00Z"}`)
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications/1/reschedule", `{}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing time", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications/1/reschedule", `{"scheduledFor":"tomorrow"}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for non RFC3339 time", resp.StatusCode)
	}
}

func TestOperatorActionsAcknowledge(t *testing.T) {
	t.Parallel()

	failed := sampleNotification(4, domain.StatusFailed)
	failed.Metadata = map[string]any{domain.MetaError: "number not on network"}

	svc := &stubNotificationService{
		sendNowFn: func(ctx context.Context, id int64) (*domain.Notification, error) {
			if id == 4 {
				return failed, nil
			}
			return sampleNotification(id, domain.StatusSent), nil
		},
		cancelFn: func(ctx context.Context, id int64) (*domain.Notification, error) {
			if id == 9 {
				return nil, fmt.Errorf("%w: notification 9 is sent", domain.ErrConflict)
			}
			return sampleNotification(id, domain.StatusCancelled), nil
		},
		retryFn: func(ctx context.Context, id int64) (*domain.Notification, error) {
			return sampleNotification(id, domain.StatusPending), nil
		},
		markReadFn: func(ctx context.Context, id int64) (*domain.Notification, error) {
			return nil, fmt.Errorf("%w: notification %d", domain.ErrNotFound, id)
		},
	}
	app := newNotificationTestApp(t, svc)

	tests := []struct {
		name        string
		path        string
		wantStatus  int
		wantSuccess any
		wantError   any
	}{
		{name: "send now delivered", path: "/v1/notifications/1/send-now", wantStatus: 200, wantSuccess: true},
		{name: "send now failed", path: "/v1/notifications/4/send-now", wantStatus: 200, wantSuccess: false, wantError: "number not on network"},
		{name: "cancel", path: "/v1/notifications/1/cancel", wantStatus: 200, wantSuccess: true},
		{name: "cancel conflict", path: "/v1/notifications/9/cancel", wantStatus: 409},
		{name: "retry", path: "/v1/notifications/1/retry", wantStatus: 200, wantSuccess: true},
		{name: "read missing", path: "/v1/notifications/1/read", wantStatus: 404},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, body := performRequest(t, app, http.MethodPost, tt.path, "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, string(body))
			}
			parsed := decodeMap(t, body)
			if tt.wantStatus != fiber.StatusOK {
				if parsed["error"] == nil {
					t.Fatalf("error body = %v, want error message", parsed)
				}
				return
			}
			if parsed["success"] != tt.wantSuccess {
				t.Fatalf("success = %v, want %v", parsed["success"], tt.wantSuccess)
			}
			if tt.wantError != nil && parsed["error"] != tt.wantError {
				t.Fatalf("error = %v, want %v", parsed["error"], tt.wantError)
			}
		})
	}
}

func TestSendBulk(t *testing.T) {
	t.Parallel()

	providerID := "m-1"
	invalid := `invalid phone number "abc"`
	svc := &stubNotificationService{
		bulkFn: func(ctx context.Context, messages []service.BulkMessage) (*service.BulkResult, error) {
			if len(messages) == 1 {
				return nil, fmt.Errorf("%w: gateway reported disconnected", domain.ErrGatewayUnavailable)
			}
			if len(messages) == 0 {
				return nil, fmt.Errorf("%w: bulk send must include at least one message", domain.ErrValidation)
			}
			return &service.BulkResult{
				DispatchID: "bulk-1",
				Status:     domain.BulkStatusPartialFailure,
				Sent:       1,
				Failed:     1,
				Results: []service.BulkItemResult{
					{Index: 0, Phone: "+5491123456789", Success: true, ProviderMessageID: &providerID},
					{Index: 1, Phone: "abc", Error: &invalid},
				},
			}, nil
		},
	}
	app := newNotificationTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/notifications/bulk",
		`{"messages":[{"phone":"1123456789","message":"hola"},{"phone":"abc","message":"hola"}]}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var parsed bulkResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Success || parsed.Sent != 1 || parsed.Failed != 1 || parsed.Total != 2 {
		t.Fatalf("bulk = %+v, want partial counts", parsed)
	}
	if parsed.Status != domain.BulkStatusPartialFailure.String() || parsed.DispatchID != "bulk-1" {
		t.Fatalf("bulk status = %s id = %s", parsed.Status, parsed.DispatchID)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications/bulk", `{"messages":[{"phone":"1123456789","message":"hola"}]}`)
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when gateway is down", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications/bulk", `{"messages":[]}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for empty bulk", resp.StatusCode)
	}
}
