package obs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestNewResourceNamesCheckoutService(t *testing.T) {
	res, err := newResource(context.Background(), TracingConfig{Environment: "staging", ServiceVersion: "1.4.0"})
	require.NoError(t, err)

	name, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	require.Equal(t, "toko-qris", name.AsString())

	env, ok := res.Set().Value(semconv.DeploymentEnvironmentKey)
	require.True(t, ok)
	require.Equal(t, "staging", env.AsString())

	version, ok := res.Set().Value(semconv.ServiceVersionKey)
	require.True(t, ok)
	require.Equal(t, "1.4.0", version.AsString())
}

func TestNewResourceOmitsEmptyEnvironment(t *testing.T) {
	res, err := newResource(context.Background(), TracingConfig{ServiceName: "toko-qris-worker"})
	require.NoError(t, err)

	name, _ := res.Set().Value(semconv.ServiceNameKey)
	require.Equal(t, "toko-qris-worker", name.AsString())
	_, ok := res.Set().Value(semconv.DeploymentEnvironmentKey)
	require.False(t, ok)
}

func TestInitTracerRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracer(context.Background(), TracingConfig{Exporter: "jaeger"})
	require.ErrorContains(t, err, "unsupported tracing exporter")
}

func TestInitTracerWithoutExporterStillSamples(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := InitTracer(context.Background(), TracingConfig{Exporter: "none"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, span := otel.Tracer("test").Start(context.Background(), "checkout")
	defer span.End()
	require.True(t, span.SpanContext().IsValid())
	require.True(t, span.SpanContext().IsSampled())
}
