package main

import (
	"context"
	"log"
	"time"

	datadog "github.com/datadog-community/go-otel-exporter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Traces a fake request against a local trace-agent. Run the agent first:
// https://docs.datadoghq.com/agent/
func main() {
	ctx := context.Background()

	tp, err := datadog.InstallNewPipeline(
		[]datadog.Option{
			datadog.WithServiceName("checkout"),
			datadog.WithAgentEndpoint("http://127.0.0.1:8126"),
			datadog.WithApiVersion(datadog.Version05),
		},
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	if err != nil {
		log.Fatalf("failed to install pipeline: %s", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Fatalf("shutdown error: %s", err)
		}
	}()

	tracer := otel.Tracer("example")

	ctx, parent := tracer.Start(ctx, "GET /users", trace.WithSpanKind(trace.SpanKindServer))
	_, child := tracer.Start(ctx, "SELECT users",
		trace.WithAttributes(attribute.String("span.type", "sql")))
	time.Sleep(10 * time.Millisecond)
	child.End()
	parent.End()
}
