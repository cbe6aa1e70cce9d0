package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "notify_engine"

// Metrics stores Prometheus collectors used by the API, dispatcher and intake flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	notificationsSentTotal   *prometheus.CounterVec
	notificationsFailedTotal *prometheus.CounterVec
	gatewayCallDuration      *prometheus.HistogramVec
	gatewayConnected         prometheus.Gauge
	gatewayChecksTotal       *prometheus.CounterVec
	processPassesTotal       *prometheus.CounterVec
	bulkMessagesTotal        *prometheus.CounterVec
	eventsConsumedTotal      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		notificationsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifications_sent_total",
				Help:      "Total number of notifications delivered to the gateway by type.",
			},
			[]string{"type"},
		),
		notificationsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifications_failed_total",
				Help:      "Total number of notifications that ended in failed state.",
			},
			[]string{"type", "reason"},
		),
		gatewayCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "gateway_call_duration_seconds",
				Help:      "Gateway call duration in seconds grouped by operation.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"operation"},
		),
		gatewayConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "gateway_connected",
				Help:      "1 when the last gateway status check reported a live connection.",
			},
		),
		gatewayChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "gateway_status_checks_total",
				Help:      "Total number of gateway status refreshes by result.",
			},
			[]string{"result"},
		),
		processPassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "process_passes_total",
				Help:      "Total number of scheduled-notification passes by outcome.",
			},
			[]string{"outcome"},
		),
		bulkMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "bulk_messages_total",
				Help:      "Total number of bulk send items by result.",
			},
			[]string{"result"},
		),
		eventsConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_consumed_total",
				Help:      "Total number of business events consumed from the queue by result.",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.notificationsSentTotal,
		m.notificationsFailedTotal,
		m.gatewayCallDuration,
		m.gatewayConnected,
		m.gatewayChecksTotal,
		m.processPassesTotal,
		m.bulkMessagesTotal,
		m.eventsConsumedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncNotificationSent(notificationType string) {
	if m == nil {
		return
	}
	m.notificationsSentTotal.WithLabelValues(normalizeLabel(notificationType)).Inc()
}

func (m *Metrics) IncNotificationFailed(notificationType string, reason string) {
	if m == nil {
		return
	}
	m.notificationsFailedTotal.WithLabelValues(normalizeLabel(notificationType), normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveGatewayCall(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.gatewayCallDuration.WithLabelValues(normalizeLabel(operation)).Observe(seconds)
}

func (m *Metrics) SetGatewayConnected(connected bool) {
	if m == nil {
		return
	}

	result := "disconnected"
	value := 0.0
	if connected {
		result = "connected"
		value = 1
	}
	m.gatewayConnected.Set(value)
	m.gatewayChecksTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncProcessPass(outcome string) {
	if m == nil {
		return
	}
	m.processPassesTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) AddBulkMessages(sent, failed int) {
	if m == nil {
		return
	}
	m.bulkMessagesTotal.WithLabelValues("sent").Add(float64(sent))
	m.bulkMessagesTotal.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) IncEventConsumed(result string) {
	if m == nil {
		return
	}
	m.eventsConsumedTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
