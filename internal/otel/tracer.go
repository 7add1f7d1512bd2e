// Package otel connects the process to an OTLP collector. The runtime
// creates plan and step spans unconditionally; until Setup installs a
// provider they are no-ops, so tracing costs nothing when disabled.
package otel

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// serviceName identifies this process in exported spans.
const serviceName = "olympus"

// ShutdownFunc flushes buffered spans and releases the exporter.
type ShutdownFunc func(context.Context) error

// Setup installs the global tracer provider exporting to the OTLP
// collector at endpoint. An empty endpoint leaves the no-op provider in
// place and returns a no-op shutdown. Endpoints ending in /v1/traces are
// exported over HTTP, anything else over gRPC; TLS is keyed off the
// scheme so a local collector needs no extra configuration.
func Setup(ctx context.Context, endpoint, version string) (ShutdownFunc, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource(version)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return provider.Shutdown, nil
}

// splitEndpoint strips the scheme and reports whether the transport should
// skip TLS. Bare host:port dials without TLS, the local-first default.
func splitEndpoint(endpoint string) (addr string, plaintext bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), false
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), true
	default:
		return endpoint, true
	}
}

func newExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	if strings.HasSuffix(endpoint, "/v1/traces") {
		return newHTTPExporter(ctx, endpoint)
	}
	return newGRPCExporter(ctx, endpoint)
}

func newHTTPExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	addr, plaintext := splitEndpoint(endpoint)
	addr = strings.TrimSuffix(addr, "/v1/traces")

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(addr)}
	if plaintext {
		opts = append(opts, otlptracehttp.WithInsecure())
	} else {
		opts = append(opts, otlptracehttp.WithTLSClientConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		}))
	}
	return otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
}

func newGRPCExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	addr, plaintext := splitEndpoint(endpoint)

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(addr)}
	if plaintext {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	} else {
		opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(
			credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}))))
	}
	return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
}

// newResource describes this process in exported spans.
func newResource(version string) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	}
	if host, err := os.Hostname(); err == nil {
		attrs = append(attrs, semconv.HostName(host))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}
