package app

import (
	"context"
	"errors"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/txnsim/src/engine"
)

const tracerName = "github.com/Blackdeer1524/txnsim/src/app"

// telemetry holds the otel providers of one run. Counters are read back
// through a manual reader for the summary, finished spans go to the run log.
type telemetry struct {
	reader  *sdkmetric.ManualReader
	meters  *sdkmetric.MeterProvider
	tracers *sdktrace.TracerProvider
}

func newTelemetry(log *zap.SugaredLogger) *telemetry {
	reader := sdkmetric.NewManualReader()
	return &telemetry{
		reader:  reader,
		meters:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		tracers: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanLogger{log: log})),
	}
}

// engineConfig points the engine at the run's providers.
func (t *telemetry) engineConfig(c engine.Config) engine.Config {
	c.Meters = t.meters
	c.Tracers = t.tracers
	return c
}

func (t *telemetry) counters(ctx context.Context) (engine.Counters, error) {
	return engine.CollectCounters(ctx, t.reader)
}

func (t *telemetry) shutdown(ctx context.Context) error {
	return errors.Join(t.tracers.Shutdown(ctx), t.meters.Shutdown(ctx))
}

type spanLogger struct {
	log *zap.SugaredLogger
}

var _ sdktrace.SpanProcessor = spanLogger{}

func (l spanLogger) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (l spanLogger) OnEnd(s sdktrace.ReadOnlySpan) {
	l.log.Debugw("span ended",
		"span", s.Name(),
		"duration", s.EndTime().Sub(s.StartTime()),
		"status", s.Status().Code.String(),
	)
}

func (l spanLogger) Shutdown(context.Context) error   { return nil }
func (l spanLogger) ForceFlush(context.Context) error { return nil }
