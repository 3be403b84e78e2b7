// Package monitoring 定义 Prometheus 监控指标。
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 投递结果标签
const (
	OutcomeDelivered = "delivered"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Metrics 监控指标
//
// 所有 Record 方法都允许在 nil 接收者上调用，未启用监控的组件可以直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 邮箱指标
	MailboxesCreated prometheus.Counter
	MailboxesDeleted prometheus.Counter

	// 邮件指标
	MessagesIngested    *prometheus.CounterVec
	EmailProcessingTime *prometheus.HistogramVec

	// 通知指标
	EventsPublished  prometheus.Counter
	EventsDropped    prometheus.Counter
	ViewersConnected prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标，注册到独立的注册表
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		MailboxesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_mailboxes_created_total",
				Help: "Total number of mailboxes provisioned",
			},
		),

		MailboxesDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_mailboxes_deleted_total",
				Help: "Total number of mailboxes deleted explicitly",
			},
		),

		MessagesIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_messages_ingested_total",
				Help: "Per-recipient ingestion outcomes",
			},
			[]string{"outcome"},
		),

		EmailProcessingTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_email_processing_duration_seconds",
				Help:    "Email processing duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"extractor"},
		),

		EventsPublished: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_events_published_total",
				Help: "Total number of NEW_EMAIL events published",
			},
		),

		EventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_events_dropped_total",
				Help: "Events dropped because a viewer buffer was full",
			},
		),

		ViewersConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tempmail_viewers_connected",
				Help: "Number of connected inbox viewers",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_panics_total",
				Help: "Total number of panics",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_rate_limit_blocks_total",
				Help: "Total number of rate limit blocks",
			},
			[]string{"type"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordMailboxCreated 记录邮箱创建
func (m *Metrics) RecordMailboxCreated() {
	if m == nil {
		return
	}
	m.MailboxesCreated.Inc()
}

// RecordMailboxDeleted 记录邮箱删除
func (m *Metrics) RecordMailboxDeleted() {
	if m == nil {
		return
	}
	m.MailboxesDeleted.Inc()
}

// RecordIngestOutcome 记录单个收件人的投递结果
func (m *Metrics) RecordIngestOutcome(outcome string) {
	if m == nil {
		return
	}
	m.MessagesIngested.WithLabelValues(outcome).Inc()
}

// RecordEmailProcessingTime 记录邮件处理时间
func (m *Metrics) RecordEmailProcessingTime(extractor string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EmailProcessingTime.WithLabelValues(extractor).Observe(duration.Seconds())
}

// RecordEventPublished 记录事件发布
func (m *Metrics) RecordEventPublished() {
	if m == nil {
		return
	}
	m.EventsPublished.Inc()
}

// RecordEventDropped 记录被丢弃的事件
func (m *Metrics) RecordEventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// ViewerConnected 在线查看者加一
func (m *Metrics) ViewerConnected() {
	if m == nil {
		return
	}
	m.ViewersConnected.Inc()
}

// ViewerDisconnected 在线查看者减一
func (m *Metrics) ViewerDisconnected() {
	if m == nil {
		return
	}
	m.ViewersConnected.Dec()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
