package main

import (
	"context"
	"fmt"

	log "github.com/colorfulnotion/tct/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// setupTracing exports ledger spans to an OTLP/HTTP collector. It returns the function that
// flushes them; with no endpoint tracing stays on the no-op provider.
func setupTracing(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		return nil, nil
	}
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	log.Debug(log.CLIMonitoring, "tracing enabled", "endpoint", endpoint)
	return tp.Shutdown, nil
}
