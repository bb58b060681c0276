// Package monitoring provides logging, metrics and debug routes shared by the
// capture pipeline.
//
// Metrics are recorded through the OpenTelemetry Metrics API. InitProvider
// bridges them to a Prometheus exporter so they can be scraped at /metrics.
// Tests should build Metrics with NewMetrics and their own MeterProvider.
package monitoring

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const meterName = "github.com/banshee-data/telemetry.capture"

// Metrics holds the pipeline instruments.
type Metrics struct {
	// BytesRead counts bytes received from the byte source.
	BytesRead metric.Int64Counter

	// Frames counts payloads emitted by the synchronizer.
	Frames metric.Int64Counter

	// Records counts records written to the sink.
	Records metric.Int64Counter

	// Faults counts recoverable and fatal errors. Use with attribute:
	//   attribute.String("kind", ...)
	Faults metric.Int64Counter

	// Rotations counts output files opened.
	Rotations metric.Int64Counter

	// PayloadSize tracks payload byte counts.
	PayloadSize metric.Int64Histogram
}

var payloadBuckets = []float64{24, 32, 64, 128, 256, 512, 768, 1024}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.BytesRead, err = m.Int64Counter("capture.bytes_read",
		metric.WithDescription("Bytes received from the serial link."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter("capture.frames",
		metric.WithDescription("Complete frames extracted from the stream."),
	); err != nil {
		return nil, err
	}
	if met.Records, err = m.Int64Counter("capture.records",
		metric.WithDescription("Records written to the output sink."),
	); err != nil {
		return nil, err
	}
	if met.Faults, err = m.Int64Counter("capture.faults",
		metric.WithDescription("Pipeline errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.Rotations, err = m.Int64Counter("capture.rotations",
		metric.WithDescription("Output files opened."),
	); err != nil {
		return nil, err
	}
	if met.PayloadSize, err = m.Int64Histogram("capture.payload_size",
		metric.WithDescription("Frame payload sizes."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(payloadBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// NopMetrics returns instruments backed by a no-op provider.
func NopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		// the noop provider never fails
		panic(err)
	}
	return m
}

// RecordFault increments the fault counter for kind.
func (m *Metrics) RecordFault(ctx context.Context, kind string) {
	m.Faults.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// InitProvider installs a global MeterProvider backed by a Prometheus
// exporter registered on reg, alongside the Go runtime and process
// collectors. The returned function flushes and shuts the provider down.
func InitProvider(serviceName, serviceVersion string, reg *prometheus.Registry) (func(context.Context) error, error) {
	res := resource.NewSchemaless(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	)

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}
