package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"trainhub/internal/job"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests/jobs take
// - Traffic: Request/job throughput
// - Errors: Rate of failures
// - Saturation: Queue depth and concurrent jobs
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Job metrics (Latency, Traffic, Errors, Saturation)
	JobDuration    metric.Float64Histogram
	JobsTotal      metric.Int64Counter
	JobErrorsTotal metric.Int64Counter
	JobsActive     metric.Int64Gauge
	JobsQueued     metric.Int64Gauge

	// Callback delivery metrics (Latency, Traffic, Errors, Saturation)
	CallbackDuration   metric.Float64Histogram
	CallbackDelivered  metric.Int64Counter
	CallbackFailed     metric.Int64Counter
	CallbackDropped    metric.Int64Counter
	CallbackQueueDepth metric.Int64Gauge
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("trainhub")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Job metrics
	m.JobDuration, err = meter.Float64Histogram(
		"job_duration_seconds",
		metric.WithDescription("Training job duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 10, 60, 300, 900, 1800, 3600, 7200, 14400, 28800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsTotal, err = meter.Int64Counter(
		"jobs_total",
		metric.WithDescription("Total number of jobs submitted"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobErrorsTotal, err = meter.Int64Counter(
		"job_errors_total",
		metric.WithDescription("Total number of failed jobs"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsActive, err = meter.Int64Gauge(
		"jobs_active",
		metric.WithDescription("Number of currently training jobs (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsQueued, err = meter.Int64Gauge(
		"jobs_queued",
		metric.WithDescription("Number of jobs waiting for a slot (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Callback delivery metrics
	m.CallbackDuration, err = meter.Float64Histogram(
		"callback_duration_seconds",
		metric.WithDescription("Webhook delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CallbackDelivered, err = meter.Int64Counter(
		"callback_delivered_total",
		metric.WithDescription("Total notifications successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CallbackFailed, err = meter.Int64Counter(
		"callback_failed_total",
		metric.WithDescription("Total notifications failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CallbackDropped, err = meter.Int64Counter(
		"callback_dropped_total",
		metric.WithDescription("Total notifications dropped (queue full)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CallbackQueueDepth, err = meter.Int64Gauge(
		"callback_queue_depth",
		metric.WithDescription("Current notifications awaiting delivery (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobSubmitted records a new job entering the system.
func (m *Metrics) RecordJobSubmitted(ctx context.Context, model string) {
	m.JobsTotal.Add(ctx, 1, metric.WithAttributes(modelAttr(model)))
}

// RecordJobFinished records a job reaching a terminal status.
func (m *Metrics) RecordJobFinished(ctx context.Context, model string, status job.Status, durationSeconds float64) {
	attrs := metric.WithAttributes(modelAttr(model), resultAttr(status))
	m.JobDuration.Record(ctx, durationSeconds, attrs)

	if status == job.StatusFailed {
		m.JobErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordQueueDepth records admission saturation gauges.
func (m *Metrics) RecordQueueDepth(ctx context.Context, queued, active int64) {
	m.JobsQueued.Record(ctx, queued)
	m.JobsActive.Record(ctx, active)
}

// RecordCallbackDelivered records a successful delivery with its duration.
func (m *Metrics) RecordCallbackDelivered(ctx context.Context, durationSeconds float64) {
	m.CallbackDelivered.Add(ctx, 1)
	m.CallbackDuration.Record(ctx, durationSeconds)
}

// RecordCallbackFailed records a delivery that exhausted its retries.
func (m *Metrics) RecordCallbackFailed(ctx context.Context) {
	m.CallbackFailed.Add(ctx, 1)
}

// RecordCallbackDropped records a dropped notification.
func (m *Metrics) RecordCallbackDropped(ctx context.Context) {
	m.CallbackDropped.Add(ctx, 1)
}

// RecordCallbackQueueDepth records the current delivery queue depth.
func (m *Metrics) RecordCallbackQueueDepth(ctx context.Context, depth int64) {
	m.CallbackQueueDepth.Record(ctx, depth)
}
