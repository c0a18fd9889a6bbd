package telemetry

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// SetupMeterProvider installs the global meter provider. With
// OTEL_EXPORTER_OTLP_ENDPOINT set it exports over OTLP/HTTP; otherwise
// metrics stay in-process (counters still work for tests).
func SetupMeterProvider(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		return mp.Shutdown, nil
	}
	exp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(30*time.Second))),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// Metrics are the application counters.
type Metrics struct {
	RequestsCreated  metric.Int64Counter
	RequestsApproved metric.Int64Counter
	RequestsRejected metric.Int64Counter
	AuditFailures    metric.Int64Counter
	RenameWarnings   metric.Int64Counter
}

func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("tcrs/server")
	m := &Metrics{}
	var err error
	if m.RequestsCreated, err = meter.Int64Counter("tcrs.requests.created"); err != nil {
		return nil, err
	}
	if m.RequestsApproved, err = meter.Int64Counter("tcrs.requests.approved"); err != nil {
		return nil, err
	}
	if m.RequestsRejected, err = meter.Int64Counter("tcrs.requests.rejected"); err != nil {
		return nil, err
	}
	if m.AuditFailures, err = meter.Int64Counter("tcrs.audit.failures"); err != nil {
		return nil, err
	}
	if m.RenameWarnings, err = meter.Int64Counter("tcrs.storage.rename_warnings"); err != nil {
		return nil, err
	}
	return m, nil
}

// Add is a nil-safe counter increment.
func Add(ctx context.Context, c metric.Int64Counter, n int64) {
	if c != nil {
		c.Add(ctx, n)
	}
}
