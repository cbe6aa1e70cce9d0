package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/practiceflow/notify-engine/internal/domain"
	"github.com/practiceflow/notify-engine/internal/repository"
	"github.com/practiceflow/notify-engine/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type NotificationService interface {
	CreateQuickNotification(ctx context.Context, req service.QuickRequest) (*domain.Notification, error)
	Get(ctx context.Context, id int64) (*domain.Notification, error)
	Attempts(ctx context.Context, id int64) ([]domain.DeliveryAttempt, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
	ListOverdue(ctx context.Context, page, pageSize int) ([]domain.Notification, int64, error)
	Reschedule(ctx context.Context, id int64, scheduledFor time.Time) (*domain.Notification, error)
	SendNow(ctx context.Context, id int64) (*domain.Notification, error)
	Cancel(ctx context.Context, id int64) (*domain.Notification, error)
	Retry(ctx context.Context, id int64) (*domain.Notification, error)
	MarkRead(ctx context.Context, id int64) (*domain.Notification, error)
	SendBulkMessages(ctx context.Context, messages []service.BulkMessage) (*service.BulkResult, error)
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.CreateNotification)
	v1.Post("/notifications/bulk", h.SendBulk)
	v1.Get("/notifications", h.ListNotifications)
	v1.Get("/notifications/overdue", h.ListOverdue)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Get("/notifications/:id/attempts", h.ListAttempts)
	v1.Post("/notifications/:id/reschedule", h.Reschedule)
	v1.Post("/notifications/:id/send-now", h.SendNow)
	v1.Post("/notifications/:id/cancel", h.Cancel)
	v1.Post("/notifications/:id/retry", h.Retry)
	v1.Post("/notifications/:id/read", h.MarkRead)

	return nil
}

type createNotificationRequest struct {
	Recipient    string            `json:"recipient"`
	Type         string            `json:"type"`
	Variables    map[string]string `json:"variables"`
	DelayMinutes int               `json:"delayMinutes"`
	Metadata     map[string]any    `json:"metadata"`
	Priority     string            `json:"priority"`
}

type rescheduleRequest struct {
	ScheduledFor string `json:"scheduledFor"`
}

type bulkRequest struct {
	Messages []bulkMessageRequest `json:"messages"`
}

type bulkMessageRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type notificationResponse struct {
	ID                int64          `json:"id"`
	Type              string         `json:"type"`
	RecipientPhone    string         `json:"recipientPhone"`
	Title             string         `json:"title"`
	Message           string         `json:"message"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Priority          string         `json:"priority"`
	Status            string         `json:"status"`
	ScheduledFor      time.Time      `json:"scheduledFor"`
	SentAt            *time.Time     `json:"sentAt,omitempty"`
	ProviderMessageID *string        `json:"providerMessageId,omitempty"`
	AttemptCount      int            `json:"attemptCount"`
	RemoteScheduled   bool           `json:"remoteScheduled"`
	Overdue           bool           `json:"overdue"`
	CreatedAt         time.Time      `json:"createdAt,omitempty"`
	UpdatedAt         time.Time      `json:"updatedAt,omitempty"`
}

// actionResponse acknowledges every operator action explicitly. Success is
// false when the action ran but the record did not reach the hoped-for state,
// such as a send-now whose delivery failed.
type actionResponse struct {
	Success      bool                 `json:"success"`
	Action       string               `json:"action"`
	Error        string               `json:"error,omitempty"`
	Notification notificationResponse `json:"notification"`
}

type attemptResponse struct {
	ID            string    `json:"id"`
	AttemptNumber int       `json:"attemptNumber"`
	Success       bool      `json:"success"`
	StatusCode    *int      `json:"statusCode,omitempty"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type bulkResponse struct {
	Success    bool                 `json:"success"`
	DispatchID string               `json:"dispatchId,omitempty"`
	Status     string               `json:"status"`
	Total      int                  `json:"total"`
	Sent       int                  `json:"sent"`
	Failed     int                  `json:"failed"`
	Results    []bulkResultResponse `json:"results"`
}

type bulkResultResponse struct {
	Index             int     `json:"index"`
	Phone             string  `json:"phone"`
	Success           bool    `json:"success"`
	ProviderMessageID *string `json:"providerMessageId,omitempty"`
	Error             *string `json:"error,omitempty"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	created, err := h.service.CreateQuickNotification(c.UserContext(), service.QuickRequest{
		Recipient:    strings.TrimSpace(req.Recipient),
		Type:         req.Type,
		Variables:    req.Variables,
		DelayMinutes: req.DelayMinutes,
		Metadata:     req.Metadata,
		Priority:     req.Priority,
	})
	if err != nil {
		return toHTTPError(err)
	}

	action := "send"
	success := created.Status == domain.StatusSent
	if req.DelayMinutes > 0 {
		action = "schedule"
		success = created.Status == domain.StatusPending
	}

	statusCode := fiber.StatusCreated
	if !success {
		statusCode = fiber.StatusAccepted
	}
	return c.Status(statusCode).JSON(toActionResponse(action, success, created))
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return toHTTPError(err)
	}

	notification, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification, time.Now()))
}

func (h *NotificationHandler) ListAttempts(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return toHTTPError(err)
	}

	attempts, err := h.service.Attempts(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		data = append(data, attemptResponse{
			ID:            a.ID,
			AttemptNumber: a.AttemptNumber,
			Success:       a.Success,
			StatusCode:    a.StatusCode,
			Error:         a.Error,
			CreatedAt:     a.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"data":           data,
	})
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	notifications, total, err := h.service.List(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toListResponse(notifications, params.Page, params.PageSize, total))
}

func (h *NotificationHandler) ListOverdue(c *fiber.Ctx) error {
	page, pageSize, err := parsePagination(c)
	if err != nil {
		return toHTTPError(err)
	}

	notifications, total, err := h.service.ListOverdue(c.UserContext(), page, pageSize)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toListResponse(notifications, page, pageSize, total))
}

func (h *NotificationHandler) Reschedule(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return toHTTPError(err)
	}

	var req rescheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	scheduledFor, err := parseRFC3339(req.ScheduledFor, "scheduledFor")
	if err != nil {
		return toHTTPError(err)
	}
	if scheduledFor == nil {
		return toHTTPError(fmt.Errorf("%w: scheduledFor is required", domain.ErrValidation))
	}

	updated, err := h.service.Reschedule(c.UserContext(), id, *scheduledFor)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toActionResponse("reschedule", true, updated))
}

func (h *NotificationHandler) SendNow(c *fiber.Ctx) error {
	return h.runAction(c, "send-now", h.service.SendNow, domain.StatusSent)
}

func (h *NotificationHandler) Cancel(c *fiber.Ctx) error {
	return h.runAction(c, "cancel", h.service.Cancel, domain.StatusCancelled)
}

func (h *NotificationHandler) Retry(c *fiber.Ctx) error {
	return h.runAction(c, "retry", h.service.Retry, domain.StatusPending)
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	return h.runAction(c, "read", h.service.MarkRead, domain.StatusRead)
}

func (h *NotificationHandler) runAction(
	c *fiber.Ctx,
	action string,
	fn func(ctx context.Context, id int64) (*domain.Notification, error),
	want domain.Status,
) error {
	id, err := parseID(c)
	if err != nil {
		return toHTTPError(err)
	}

	updated, err := fn(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toActionResponse(action, updated.Status == want, updated))
}

func (h *NotificationHandler) SendBulk(c *fiber.Ctx) error {
	var req bulkRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	messages := make([]service.BulkMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, service.BulkMessage{Phone: m.Phone, Message: m.Message})
	}

	result, err := h.service.SendBulkMessages(c.UserContext(), messages)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]bulkResultResponse, 0, len(result.Results))
	for _, r := range result.Results {
		items = append(items, bulkResultResponse{
			Index:             r.Index,
			Phone:             r.Phone,
			Success:           r.Success,
			ProviderMessageID: r.ProviderMessageID,
			Error:             r.Error,
		})
	}

	return c.Status(fiber.StatusOK).JSON(bulkResponse{
		Success:    result.Failed == 0,
		DispatchID: result.DispatchID,
		Status:     result.Status.String(),
		Total:      len(result.Results),
		Sent:       result.Sent,
		Failed:     result.Failed,
		Results:    items,
	})
}

func parseID(c *fiber.Ctx) (int64, error) {
	raw := strings.TrimSpace(c.Params("id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid notification id %q", domain.ErrValidation, raw)
	}
	return id, nil
}

func parsePagination(c *fiber.Ctx) (int, int, error) {
	page := c.QueryInt("page", defaultPage)
	pageSize := c.QueryInt("pageSize", defaultPageSize)

	if page < 1 {
		return 0, 0, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return 0, 0, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}
	return page, pageSize, nil
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	page, pageSize, err := parsePagination(c)
	if err != nil {
		return repository.ListParams{}, err
	}
	params := repository.ListParams{Page: page, PageSize: pageSize}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawType := strings.TrimSpace(c.Query("type")); rawType != "" {
		typ, err := domain.ParseNotificationType(rawType)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Type = &typ
	}

	from, err := parseRFC3339(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return repository.ListParams{}, fmt.Errorf("%w: to must not be before from", domain.ErrValidation)
	}
	params.ScheduledFrom = from
	params.ScheduledTo = to

	params.MetadataKey = strings.TrimSpace(c.Query("metadataKey"))
	if rawValue := c.Query("metadataValue"); rawValue != "" {
		if params.MetadataKey == "" {
			return repository.ListParams{}, fmt.Errorf("%w: metadataValue requires metadataKey", domain.ErrValidation)
		}
		params.MetadataValue = &rawValue
	}

	if c.QueryBool("overdue", false) {
		now := time.Now().UTC()
		params.OverdueAt = &now
	}

	return params, nil
}

func parseRFC3339(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toListResponse(notifications []domain.Notification, page, pageSize int, total int64) listNotificationsResponse {
	now := time.Now()
	data := make([]notificationResponse, 0, len(notifications))
	for i := range notifications {
		data = append(data, toNotificationResponse(&notifications[i], now))
	}

	return listNotificationsResponse{
		Data: data,
		Meta: listMeta{
			Page:     page,
			PageSize: pageSize,
			Total:    total,
		},
	}
}

func toActionResponse(action string, success bool, n *domain.Notification) actionResponse {
	resp := actionResponse{
		Success:      success,
		Action:       action,
		Notification: toNotificationResponse(n, time.Now()),
	}
	if !success && n != nil {
		resp.Error = n.MetadataString(domain.MetaError)
	}
	return resp
}

func toNotificationResponse(n *domain.Notification, now time.Time) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:                n.ID,
		Type:              n.Type.String(),
		RecipientPhone:    n.RecipientPhone,
		Title:             n.Title,
		Message:           n.Message,
		Metadata:          n.Metadata,
		Priority:          n.Priority.String(),
		Status:            n.Status.String(),
		ScheduledFor:      n.ScheduledFor,
		SentAt:            n.SentAt,
		ProviderMessageID: n.ProviderMessageID,
		AttemptCount:      n.AttemptCount,
		RemoteScheduled:   n.RemoteScheduled,
		Overdue:           n.IsOverdue(now),
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
	}
}
