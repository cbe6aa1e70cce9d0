// Package gateway talks to the remote messaging gateway over HTTP and turns
// its responses into domain.DeliveryResult / domain.GatewayStatus values.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/practiceflow/notify-engine/internal/domain"
)

const (
	DefaultStatusTimeout = 8 * time.Second
	DefaultSendTimeout   = 12 * time.Second

	apiKeyHeader = "X-API-Key"

	statusPath    = "/status"
	sendPath      = "/send-message"
	bulkPath      = "/send-bulk"
	schedulePath  = "/schedule-reminder"
	reconnectPath = "/reconnect"

	timeoutError = "timeout"
)

// BulkItem is one recipient of a bulk send. Phone must already be normalized.
type BulkItem struct {
	Phone   string `json:"phoneNumber"`
	Message string `json:"message"`
}

type sendRequest struct {
	Phone   string `json:"phoneNumber"`
	Message string `json:"message"`
}

// Delay is in minutes.
type scheduleRequest struct {
	Phone   string `json:"phoneNumber"`
	Message string `json:"message"`
	Delay   int    `json:"delay"`
}

type bulkRequest struct {
	Messages []BulkItem `json:"messages"`
}

type sendResponse struct {
	Success   *bool  `json:"success"`
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
	Message   string `json:"message"`
	Error     string `json:"error"`
}

type bulkResponse struct {
	Results []sendResponse `json:"results"`
}

type statusResponse struct {
	Connected   *bool  `json:"connected"`
	Status      string `json:"status"`
	PhoneNumber string `json:"phoneNumber"`
}

type Options struct {
	BaseURL       string
	APIKey        string
	StatusTimeout time.Duration
	SendTimeout   time.Duration
	Logger        *zap.Logger
	Now           func() time.Time
}

// Client performs at most one HTTP attempt per call. Repeating failed sends
// is left to the dispatcher's next pass.
type Client struct {
	client        *resty.Client
	baseURL       string
	statusTimeout time.Duration
	sendTimeout   time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

func NewClient(opts Options) (*Client, error) {
	return NewClientWithResty(opts, resty.New())
}

func NewClientWithResty(opts Options, client *resty.Client) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("gateway base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid gateway base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if opts.StatusTimeout <= 0 {
		opts.StatusTimeout = DefaultStatusTimeout
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	client.SetRetryCount(0)
	client.SetHeader("Content-Type", "application/json")
	if key := strings.TrimSpace(opts.APIKey); key != "" {
		client.SetHeader(apiKeyHeader, key)
	}

	return &Client{
		client:        client,
		baseURL:       baseURL,
		statusTimeout: opts.StatusTimeout,
		sendTimeout:   opts.SendTimeout,
		logger:        opts.Logger,
		now:           opts.Now,
	}, nil
}

// CheckStatus never returns an error: every failure is folded into a
// disconnected status whose Error tells a timeout apart from other failures.
func (c *Client) CheckStatus(ctx context.Context) domain.GatewayStatus {
	status := domain.GatewayStatus{CheckedAt: c.now().UTC()}

	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	response, err := c.client.R().
		SetContext(ctx).
		Get(c.baseURL + statusPath)
	if err != nil {
		msg := "connection error: " + err.Error()
		if isTimeout(err) {
			msg = timeoutError
		}
		status.Error = &msg
		c.logger.Warn("gateway status check failed", zap.String("error", msg))
		return status
	}

	if !isSuccessStatus(response.StatusCode()) {
		msg := statusErrorMessage(response.StatusCode(), strings.TrimSpace(response.String()))
		status.Error = &msg
		return status
	}

	var body statusResponse
	if err := json.Unmarshal(response.Body(), &body); err != nil {
		msg := "malformed status response"
		status.Error = &msg
		return status
	}

	status.Connected = isConnected(body)
	if phone := strings.TrimSpace(body.PhoneNumber); phone != "" {
		status.Identity = &phone
	}

	return status
}

func (c *Client) SendOne(ctx context.Context, phone, message string) domain.DeliveryResult {
	response, err := c.post(ctx, "send message", sendPath, sendRequest{Phone: phone, Message: message})
	if err != nil {
		return c.failure(err)
	}

	return deliveryFromResponse(response)
}

// ScheduleRemote asks the gateway to deliver the message after delayMinutes.
func (c *Client) ScheduleRemote(ctx context.Context, phone, message string, delayMinutes int) domain.DeliveryResult {
	if delayMinutes < 0 {
		return domain.FailureResult("delay minutes must not be negative")
	}

	response, err := c.post(ctx, "schedule reminder", schedulePath, scheduleRequest{
		Phone:   phone,
		Message: message,
		Delay:   delayMinutes,
	})
	if err != nil {
		return c.failure(err)
	}

	return deliveryFromResponse(response)
}

// SendBulk always returns exactly len(items) results, aligned by index.
// Items the gateway did not report on are failures.
func (c *Client) SendBulk(ctx context.Context, items []BulkItem) []domain.DeliveryResult {
	results := make([]domain.DeliveryResult, len(items))
	if len(items) == 0 {
		return results
	}

	response, err := c.post(ctx, "send bulk", bulkPath, bulkRequest{Messages: items})
	if err != nil {
		failed := c.failure(err)
		for i := range results {
			results[i] = failed
		}
		return results
	}

	var body bulkResponse
	if err := json.Unmarshal(response.Body(), &body); err != nil {
		for i := range results {
			results[i] = domain.FailureResult("malformed bulk response")
		}
		return results
	}

	for i := range results {
		if i >= len(body.Results) {
			results[i] = domain.FailureResult("no result reported for message")
			continue
		}
		results[i] = resultFromBody(body.Results[i], "")
	}

	return results
}

func (c *Client) Reconnect(ctx context.Context) error {
	_, err := c.post(ctx, "reconnect", reconnectPath, struct{}{})
	return err
}

func (c *Client) post(ctx context.Context, op, path string, body any) (*resty.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	response, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(c.baseURL + path)
	if err != nil {
		message := "request failed"
		if isTimeout(err) {
			message = timeoutError
		}
		return nil, &GatewayError{
			Op:        op,
			Message:   message,
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &GatewayError{Op: op, Message: "empty response", Transient: true}
	}

	statusCode := response.StatusCode()
	if !isSuccessStatus(statusCode) {
		return nil, &GatewayError{
			Op:         op,
			StatusCode: statusCode,
			Message:    statusErrorMessage(statusCode, strings.TrimSpace(response.String())),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	return response, nil
}

func (c *Client) failure(err error) domain.DeliveryResult {
	c.logger.Warn("gateway call failed",
		zap.Error(err),
		zap.Bool("transient", IsTransient(err)),
	)

	result := domain.FailureResult(err.Error())
	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) {
		result.StatusCode = gatewayErr.StatusCode
	}
	return result
}

func deliveryFromResponse(response *resty.Response) domain.DeliveryResult {
	var body sendResponse
	if err := json.Unmarshal(response.Body(), &body); err != nil {
		result := domain.FailureResult("malformed gateway response")
		result.StatusCode = response.StatusCode()
		return result
	}

	result := resultFromBody(body, headerMessageID(response))
	result.StatusCode = response.StatusCode()
	return result
}

// resultFromBody treats a 2xx body without an explicit success flag as accepted.
// A rejection reason is read from message, then error.
func resultFromBody(body sendResponse, fallbackID string) domain.DeliveryResult {
	if body.Success != nil && !*body.Success {
		msg := strings.TrimSpace(body.Message)
		if msg == "" {
			msg = strings.TrimSpace(body.Error)
		}
		if msg == "" {
			msg = "gateway rejected message"
		}
		return domain.FailureResult(msg)
	}

	id := strings.TrimSpace(body.MessageID)
	if id == "" {
		id = strings.TrimSpace(body.ID)
	}
	if id == "" {
		id = fallbackID
	}
	return domain.SuccessResult(id)
}

func headerMessageID(response *resty.Response) string {
	for _, key := range []string{"X-Message-ID", "X-Request-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}
	return ""
}

func isConnected(body statusResponse) bool {
	if body.Connected != nil {
		return *body.Connected
	}
	switch strings.ToLower(strings.TrimSpace(body.Status)) {
	case "connected", "open", "ready":
		return true
	default:
		return false
	}
}

func isSuccessStatus(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}
