package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/petal-labs/storyline/runtime"
)

const instrumentationName = "github.com/petal-labs/storyline"

// Config configures Setup.
type Config struct {
	// Endpoint is the OTLP/HTTP collector host:port. Spans are created but
	// not exported when empty.
	Endpoint string

	// Insecure disables TLS for the collector connection.
	Insecure bool

	// MetricReader collects the run metrics. Metrics are dropped when nil.
	MetricReader sdkmetric.Reader

	// SpanExporter overrides the OTLP exporter (for testing).
	SpanExporter sdktrace.SpanExporter
}

// Telemetry owns the providers and the event handlers built on them.
type Telemetry struct {
	Tracing *TracingHandler
	Metrics *MetricsHandler

	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Setup builds tracer and meter providers and the handlers that feed them.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	var tpOpts []sdktrace.TracerProviderOption
	switch {
	case cfg.SpanExporter != nil:
		tpOpts = append(tpOpts, sdktrace.WithSyncer(cfg.SpanExporter))
	case cfg.Endpoint != "":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otel: create otlp exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	var mpOpts []sdkmetric.Option
	if cfg.MetricReader != nil {
		mpOpts = append(mpOpts, sdkmetric.WithReader(cfg.MetricReader))
	}
	mp := sdkmetric.NewMeterProvider(mpOpts...)

	metrics, err := NewMetricsHandler(mp.Meter(instrumentationName))
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("otel: create instruments: %w", err)
	}
	return &Telemetry{
		Tracing: NewTracingHandler(tp.Tracer(instrumentationName)),
		Metrics: metrics,
		tp:      tp,
		mp:      mp,
	}, nil
}

// Handler feeds both tracing and metrics.
func (t *Telemetry) Handler() runtime.EventHandler {
	return runtime.MultiEventHandler(t.Tracing.Handle, t.Metrics.Handle)
}

// Instrument returns opts with the telemetry handler and trace enrichment
// added. An existing handler keeps receiving events.
func (t *Telemetry) Instrument(opts runtime.Options) runtime.Options {
	opts.EventHandler = runtime.MultiEventHandler(t.Handler(), opts.EventHandler)
	opts.EventEmitterDecorator = Decorator(t.Tracing)
	return opts
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.tp.Shutdown(ctx), t.mp.Shutdown(ctx))
}
