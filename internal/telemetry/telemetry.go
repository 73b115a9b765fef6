// Package telemetry wires the aggregator's otel meter and tracer: a
// fixed meter/tracer name, a small set of package-level instruments,
// and span helpers callers wrap their hot paths in rather than
// touching the otel API directly.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/1mcp-app/agent"

var (
	meter  = otel.Meter(instrumentationName)
	tracer = otel.Tracer(instrumentationName)

	// ToolCallCounter counts inbound tools/call invocations.
	ToolCallCounter metric.Int64Counter
	// ToolCallDuration records tools/call latency in milliseconds.
	ToolCallDuration metric.Float64Histogram
	// UpstreamCallCounter counts outbound calls to upstream servers.
	UpstreamCallCounter metric.Int64Counter
	// UpstreamCallDuration records outbound call latency in milliseconds.
	UpstreamCallDuration metric.Float64Histogram
	// ReloadCounter counts completed config reloads, by outcome.
	ReloadCounter metric.Int64Counter
)

func init() {
	var err error
	if ToolCallCounter, err = meter.Int64Counter("mcp.tool.call.count",
		metric.WithDescription("Number of tools/call requests served")); err != nil {
		panic(err)
	}
	if ToolCallDuration, err = meter.Float64Histogram("mcp.tool.call.duration",
		metric.WithDescription("tools/call latency"), metric.WithUnit("ms")); err != nil {
		panic(err)
	}
	if UpstreamCallCounter, err = meter.Int64Counter("mcp.upstream.call.count",
		metric.WithDescription("Number of requests forwarded to upstream servers")); err != nil {
		panic(err)
	}
	if UpstreamCallDuration, err = meter.Float64Histogram("mcp.upstream.call.duration",
		metric.WithDescription("Upstream round-trip latency"), metric.WithUnit("ms")); err != nil {
		panic(err)
	}
	if ReloadCounter, err = meter.Int64Counter("mcp.config.reload.count",
		metric.WithDescription("Number of config reload attempts, by outcome")); err != nil {
		panic(err)
	}
}

// StartToolCallSpan starts a span for an inbound tools/call, prompts/get,
// or resources/read request.
func StartToolCallSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "mcp.tool.call/"+name, trace.WithAttributes(attrs...))
}

// StartUpstreamSpan starts a span for a single outbound call dispatched
// to one upstream server.
func StartUpstreamSpan(ctx context.Context, serverName, method string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "mcp.upstream.call/"+method,
		trace.WithAttributes(attribute.String("mcp.server.name", serverName)))
}

// RecordError marks span as failed and attaches err.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
