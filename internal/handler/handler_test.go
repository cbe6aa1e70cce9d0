package handler

import (
	"bytes"
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/practiceflow/notify-engine/internal/domain"
	"github.com/practiceflow/notify-engine/internal/repository"
	"github.com/practiceflow/notify-engine/internal/service"
	"github.com/practiceflow/notify-engine/internal/transport"
)

type stubNotificationService struct {
	createFn      func(ctx context.Context, req service.QuickRequest) (*domain.Notification, error)
	getFn         func(ctx context.Context, id int64) (*domain.Notification, error)
	attemptsFn    func(ctx context.Context, id int64) ([]domain.DeliveryAttempt, error)
	listFn        func(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
	listOverdueFn func(ctx context.Context, page, pageSize int) ([]domain.Notification, int64, error)
	rescheduleFn  func(ctx context.Context, id int64, scheduledFor time.Time) (*domain.Notification, error)
	sendNowFn     func(ctx context.Context, id int64) (*domain.Notification, error)
	cancelFn      func(ctx context.Context, id int64) (*domain.Notification, error)
	retryFn       func(ctx context.Context, id int64) (*domain.Notification, error)
	markReadFn    func(ctx context.Context, id int64) (*domain.Notification, error)
	bulkFn        func(ctx context.Context, messages []service.BulkMessage) (*service.BulkResult, error)
}

func (s *stubNotificationService) CreateQuickNotification(ctx context.Context, req service.QuickRequest) (*domain.Notification, error) {
	if s.createFn != nil {
		return s.createFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (s *stubNotificationService) Get(ctx context.Context, id int64) (*domain.Notification, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubNotificationService) Attempts(ctx context.Context, id int64) ([]domain.DeliveryAttempt, error) {
	if s.attemptsFn != nil {
		return s.attemptsFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubNotificationService) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (s *stubNotificationService) ListOverdue(ctx context.Context, page, pageSize int) ([]domain.Notification, int64, error) {
	if s.listOverdueFn != nil {
		return s.listOverdueFn(ctx, page, pageSize)
	}
	return nil, 0, nil
}

func (s *stubNotificationService) Reschedule(ctx context.Context, id int64, scheduledFor time.Time) (*domain.Notification, error) {
	if s.rescheduleFn != nil {
		return s.rescheduleFn(ctx, id, scheduledFor)
	}
	return nil, errors.New("not implemented")
}

func (s *stubNotificationService) SendNow(ctx context.Context, id int64) (*domain.Notification, error) {
	if s.sendNowFn != nil {
		return s.sendNowFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (s *stubNotificationService) Cancel(ctx context.Context, id int64) (*domain.Notification, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (s *stubNotificationService) Retry(ctx context.Context, id int64) (*domain.Notification, error) {
	if s.retryFn != nil {
		return s.retryFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (s *stubNotificationService) MarkRead(ctx context.Context, id int64) (*domain.Notification, error) {
	if s.markReadFn != nil {
		return s.markReadFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (s *stubNotificationService) SendBulkMessages(ctx context.Context, messages []service.BulkMessage) (*service.BulkResult, error) {
	if s.bulkFn != nil {
		return s.bulkFn(ctx, messages)
	}
	return nil, errors.New("not implemented")
}

type stubGatewayService struct {
	statusFn    func(ctx context.Context, maxAge time.Duration) domain.GatewayStatus
	reconnectFn func(ctx context.Context) (domain.GatewayStatus, error)
}

func (s *stubGatewayService) GatewayStatus(ctx context.Context, maxAge time.Duration) domain.GatewayStatus {
	if s.statusFn != nil {
		return s.statusFn(ctx, maxAge)
	}
	return domain.GatewayStatus{}
}

func (s *stubGatewayService) ReconnectGateway(ctx context.Context) (domain.GatewayStatus, error) {
	if s.reconnectFn != nil {
		return s.reconnectFn(ctx)
	}
	return domain.GatewayStatus{}, nil
}

type stubProcessor struct {
	processFn func(ctx context.Context) (*service.ProcessResult, error)
	calls     int
}

func (s *stubProcessor) ProcessScheduledNotifications(ctx context.Context) (*service.ProcessResult, error) {
	s.calls++
	if s.processFn != nil {
		return s.processFn(ctx)
	}
	return &service.ProcessResult{}, nil
}

func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
}

func newNotificationTestApp(t *testing.T, svc NotificationService) *fiber.App {
	t.Helper()

	app := newTestApp()
	if err := RegisterNotificationRoutes(app, svc); err != nil {
		t.Fatalf("RegisterNotificationRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()
	return performRequestWithHeaders(t, app, method, path, body, nil)
}

func performRequestWithHeaders(
	t *testing.T,
	app *fiber.App,
	method string,
	path string,
	body string,
	headers map[string]string,
) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") && h.pingErr != nil {
			cmd.SetErr(h.pingErr)
			return h.pingErr
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
