package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsDispatchCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncNotificationSent("Appointment_Reminder")
	metrics.IncNotificationFailed("appointment_reminder", "")
	metrics.ObserveGatewayCall("send_one", 120*time.Millisecond)
	metrics.IncProcessPass("completed")
	metrics.IncProcessPass("completed")
	metrics.AddBulkMessages(3, 1)
	metrics.IncEventConsumed("accepted")

	if got := testutil.ToFloat64(metrics.notificationsSentTotal.WithLabelValues("appointment_reminder")); got != 1 {
		t.Fatalf("notifications_sent_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.notificationsFailedTotal.WithLabelValues("appointment_reminder", "unknown")); got != 1 {
		t.Fatalf("notifications_failed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.processPassesTotal.WithLabelValues("completed")); got != 2 {
		t.Fatalf("process_passes_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.bulkMessagesTotal.WithLabelValues("sent")); got != 3 {
		t.Fatalf("bulk_messages_total{sent} = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.bulkMessagesTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("bulk_messages_total{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.eventsConsumedTotal.WithLabelValues("accepted")); got != 1 {
		t.Fatalf("events_consumed_total = %v, want 1", got)
	}
}

func TestMetricsGatewayConnected(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.SetGatewayConnected(true)
	if got := testutil.ToFloat64(metrics.gatewayConnected); got != 1 {
		t.Fatalf("gateway_connected = %v, want 1", got)
	}

	metrics.SetGatewayConnected(false)
	if got := testutil.ToFloat64(metrics.gatewayConnected); got != 0 {
		t.Fatalf("gateway_connected = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.gatewayChecksTotal.WithLabelValues("connected")); got != 1 {
		t.Fatalf("gateway_status_checks_total{connected} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.gatewayChecksTotal.WithLabelValues("disconnected")); got != 1 {
		t.Fatalf("gateway_status_checks_total{disconnected} = %v, want 1", got)
	}
}

func TestMetricsNilReceiverIsNoop(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncNotificationSent("welcome")
	metrics.IncNotificationFailed("welcome", "timeout")
	metrics.ObserveGatewayCall("send_one", time.Second)
	metrics.SetGatewayConnected(true)
	metrics.IncProcessPass("skipped")
	metrics.AddBulkMessages(1, 1)
	metrics.IncEventConsumed("rejected")

	if metrics.Handler() == nil {
		t.Fatal("Handler() = nil, want default handler")
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
