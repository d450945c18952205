// Package metrics records ledger call rates, outcomes, and latencies with
// OpenTelemetry and optionally exports them over OTLP/gRPC.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"trustchain.mini/tcm/internal/types"
)

const instrumentationName = "trustchain.mini/tcm"

// Recorder implements ledger.Observer on top of an OpenTelemetry meter.
type Recorder struct {
	calls    metric.Int64Counter
	reports  metric.Int64Counter
	duration metric.Float64Histogram
}

// NewRecorder creates the ledger instruments on mp.
func NewRecorder(mp metric.MeterProvider) (*Recorder, error) {
	meter := mp.Meter(instrumentationName, metric.WithInstrumentationVersion(types.Version))

	calls, err := meter.Int64Counter("tcm.ledger.calls",
		metric.WithDescription("Ledger calls by operation and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("calls counter: %w", err)
	}
	reports, err := meter.Int64Counter("tcm.ledger.reports",
		metric.WithDescription("Accepted report submissions"),
		metric.WithUnit("{report}"),
	)
	if err != nil {
		return nil, fmt.Errorf("reports counter: %w", err)
	}
	duration, err := meter.Float64Histogram("tcm.ledger.call.duration",
		metric.WithDescription("Ledger call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0),
	)
	if err != nil {
		return nil, fmt.Errorf("duration histogram: %w", err)
	}
	return &Recorder{calls: calls, reports: reports, duration: duration}, nil
}

// Noop returns a recorder whose instruments discard everything.
func Noop() *Recorder {
	r, _ := NewRecorder(noop.NewMeterProvider())
	return r
}

func (r *Recorder) ObserveCall(ctx context.Context, op, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)
	r.calls.Add(ctx, 1, attrs)
	r.duration.Record(ctx, elapsed.Seconds(), attrs)
}

func (r *Recorder) ObserveReport(ctx context.Context, anonymous bool) {
	r.reports.Add(ctx, 1, metric.WithAttributes(attribute.Bool("anonymous", anonymous)))
}

// ExportConfig configures OTLP export.
type ExportConfig struct {
	Endpoint string
	Insecure bool
	Interval time.Duration
	NodeID   string
}

// NewProvider builds a meter provider that pushes to an OTLP collector.
// The caller shuts it down on exit.
func NewProvider(ctx context.Context, cfg ExportConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	res := resource.NewSchemaless(
		semconv.ServiceName("tcm"),
		semconv.ServiceVersion(types.Version),
		semconv.ServiceInstanceID(cfg.NodeID),
	)

	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	slog.Default().With("component", "metrics").InfoContext(ctx, "metrics export enabled",
		"endpoint", cfg.Endpoint, "interval", interval, "insecure", cfg.Insecure)
	return mp, nil
}
