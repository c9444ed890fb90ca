package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	// RED metrics for the control API
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Business metrics
	exportsTotal        metric.Int64Counter
	exportsActive       metric.Int64UpDownCounter
	exportDuration      metric.Float64Histogram
	stageDuration       metric.Float64Histogram
	transfersTotal      metric.Int64Counter
	transferBytes       metric.Int64Counter
	vaultWritesTotal    metric.Int64Counter
	vaultBytes          metric.Int64Counter
	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// New creates a new telemetry instance. A disabled instance records nothing but is safe to use.
func New(_ context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName, trace.WithInstrumentationVersion(cfg.ServiceVersion)),
		meter:         meterProvider.Meter(cfg.ServiceName, metric.WithInstrumentationVersion(cfg.ServiceVersion)),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(ctx context.Context, method, path, status string, duration time.Duration) {
	if t == nil || t.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	t.httpRequestsTotal.Add(ctx, 1, attrs)
	t.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

func (t *Telemetry) addInFlight(ctx context.Context, delta int64) {
	if t == nil || t.httpRequestsInFlight == nil {
		return
	}

	t.httpRequestsInFlight.Add(ctx, delta)
}

// RecordExport records the outcome of a finished export run.
func (t *Telemetry) RecordExport(ctx context.Context, status string, duration time.Duration) {
	if t == nil || t.exportsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))
	t.exportsTotal.Add(ctx, 1, attrs)
	t.exportDuration.Record(ctx, duration.Seconds(), attrs)
}

func (t *Telemetry) addActiveExports(ctx context.Context, delta int64) {
	if t == nil || t.exportsActive == nil {
		return
	}

	t.exportsActive.Add(ctx, delta)
}

// RecordStage records the duration of one export state.
func (t *Telemetry) RecordStage(ctx context.Context, stage, status string, duration time.Duration) {
	if t == nil || t.stageDuration == nil {
		return
	}

	t.stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	))
}

// RecordTransfer records a chunked asset transfer and the bytes it delivered.
func (t *Telemetry) RecordTransfer(ctx context.Context, status string, bytes int64) {
	if t == nil || t.transfersTotal == nil {
		return
	}

	t.transfersTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))

	if bytes > 0 {
		t.transferBytes.Add(ctx, bytes)
	}
}

// RecordVaultWrite records a file written into the vault.
func (t *Telemetry) RecordVaultWrite(ctx context.Context, status string, bytes int64) {
	if t == nil || t.vaultWritesTotal == nil {
		return
	}

	t.vaultWritesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))

	if bytes > 0 {
		t.vaultBytes.Add(ctx, bytes)
	}
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if t == nil || t.dbOperationsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	t.dbOperationsTotal.Add(ctx, 1, attrs)
	t.dbOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		return mp.Shutdown(ctx)
	}

	return nil
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&t.httpRequestsTotal, "http_requests_total", "Total number of HTTP requests", "1"},
		{&t.exportsTotal, "exports_total", "Total number of finished export runs", "1"},
		{&t.transfersTotal, "transfers_total", "Total number of chunked asset transfers", "1"},
		{&t.transferBytes, "transfer_bytes_total", "Bytes delivered over the transfer channel", "By"},
		{&t.vaultWritesTotal, "vault_writes_total", "Total number of files written into the vault", "1"},
		{&t.vaultBytes, "vault_bytes_total", "Bytes written into the vault", "By"},
		{&t.dbOperationsTotal, "db_operations_total", "Total number of database operations", "1"},
	}

	for _, c := range counters {
		*c.dst, err = t.meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&t.httpRequestDuration, "http_request_duration_seconds", "HTTP request duration in seconds"},
		{&t.exportDuration, "export_duration_seconds", "Export run duration in seconds"},
		{&t.stageDuration, "export_stage_duration_seconds", "Export stage duration in seconds"},
		{&t.dbOperationDuration, "db_operation_duration_seconds", "Database operation duration in seconds"},
	}

	for _, h := range histograms {
		*h.dst, err = t.meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("s"))
		if err != nil {
			return fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
	}

	t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	t.exportsActive, err = t.meter.Int64UpDownCounter(
		"exports_active",
		metric.WithDescription("Number of export runs in flight"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create exports_active counter: %w", err)
	}

	return nil
}
