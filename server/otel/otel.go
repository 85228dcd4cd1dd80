package otel

import (
	"context"
	"fmt"
	"time"

	prometheus "github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	zap "go.uber.org/zap"
)

// Telemetry records protocol-level metrics for the A2A server.
type Telemetry interface {
	// RecordRequest records one JSON-RPC request with its method, final
	// JSON-RPC error code (0 for success), and duration
	RecordRequest(ctx context.Context, method string, errorCode int, duration time.Duration)

	// RecordTaskStateChange records a task entering the given state
	RecordTaskStateChange(ctx context.Context, state string)

	// RecordActiveStreams tracks the number of open SSE streams
	RecordActiveStreams(ctx context.Context, delta int64)

	// Registry exposes the Prometheus registry backing the meter provider
	Registry() *prometheus.Registry

	// ShutDown flushes and stops the meter provider
	ShutDown(ctx context.Context) error
}

type telemetryImpl struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
	stateChanges    metric.Int64Counter
	activeStreams   metric.Int64UpDownCounter
}

var _ Telemetry = (*telemetryImpl)(nil)

// NewTelemetry creates a Prometheus-backed telemetry pipeline.
func NewTelemetry(logger *zap.Logger) (Telemetry, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithView(sdkmetric.NewView(
			sdkmetric.Instrument{Name: "a2a_request_duration_seconds"},
			sdkmetric.Stream{
				Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
					Boundaries: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
				},
			},
		)),
	)

	meter := provider.Meter("github.com/agentvault/agentvault-go/server")

	t := &telemetryImpl{provider: provider, registry: registry}

	if t.requestCount, err = meter.Int64Counter("a2a_requests_total",
		metric.WithDescription("Total JSON-RPC requests handled")); err != nil {
		return nil, err
	}
	if t.requestDuration, err = meter.Float64Histogram("a2a_request_duration_seconds",
		metric.WithDescription("JSON-RPC request duration in seconds")); err != nil {
		return nil, err
	}
	if t.stateChanges, err = meter.Int64Counter("a2a_task_state_changes_total",
		metric.WithDescription("Task state transitions by target state")); err != nil {
		return nil, err
	}
	if t.activeStreams, err = meter.Int64UpDownCounter("a2a_active_streams",
		metric.WithDescription("Open tasks/sendSubscribe streams")); err != nil {
		return nil, err
	}

	logger.Info("telemetry initialized")
	return t, nil
}

func (t *telemetryImpl) RecordRequest(ctx context.Context, method string, errorCode int, duration time.Duration) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		errorCodeAttr(errorCode),
	)
	t.requestCount.Add(ctx, 1, attrs)
	t.requestDuration.Record(ctx, duration.Seconds(), attrs)
}

func (t *telemetryImpl) RecordTaskStateChange(ctx context.Context, state string) {
	t.stateChanges.Add(ctx, 1, metric.WithAttributes(stateAttr(state)))
}

func (t *telemetryImpl) RecordActiveStreams(ctx context.Context, delta int64) {
	t.activeStreams.Add(ctx, delta)
}

func (t *telemetryImpl) Registry() *prometheus.Registry {
	return t.registry
}

func (t *telemetryImpl) ShutDown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}
