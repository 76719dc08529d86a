// Package telemetry wires OpenTelemetry tracing for the HTTP services.
package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"urclec/internal/platform/envconf"
)

type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Setup exports spans over OTLP gRPC when OTEL_EXPORTER_OTLP_ENDPOINT is set.
// OTEL_TRACES_SAMPLE_RATIO (0..1, default 1) samples root spans; child spans
// follow their parent.
func Setup(serviceName string) Shutdown {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	endpoint := envconf.String("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if endpoint == "" {
		return noop
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if envconf.Bool("OTEL_EXPORTER_OTLP_INSECURE", false) {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(context.Background(), opts...)
	if err != nil {
		slog.Error("otel exporter", "error", err, "endpoint", endpoint)
		return noop
	}

	res, err := resource.New(context.Background(),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(semconv.ServiceName(serviceName), semconv.ServiceNamespace("urclec")),
	)
	if err != nil {
		slog.Warn("otel resource", "error", err)
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(SampleRatio(envconf.String("OTEL_TRACES_SAMPLE_RATIO", "1"))))),
	)
	otel.SetTracerProvider(provider)
	slog.Info("tracing enabled", "endpoint", endpoint)
	return provider.Shutdown
}

// SampleRatio parses a ratio, clamping it into [0, 1]. Garbage samples
// everything.
func SampleRatio(raw string) float64 {
	ratio, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 1
	}
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	default:
		return ratio
	}
}

// Handler opens a server span per request, named "METHOD /path". Health and
// metrics probes are not traced.
func Handler(serviceName string, next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, serviceName,
		otelhttp.WithSpanNameFormatter(SpanName),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
		}),
	)
}

func SpanName(_ string, r *http.Request) string {
	return r.Method + " " + r.URL.Path
}
