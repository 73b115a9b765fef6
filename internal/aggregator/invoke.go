package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/1mcp-app/agent/internal/errs"
	"github.com/1mcp-app/agent/internal/telemetry"
	"github.com/1mcp-app/agent/internal/upstream"
)

// instrumented runs call, recording an upstream call span, counter, and
// duration around it.
func instrumented[T any](ctx context.Context, serverName, method string, call func(context.Context) (T, error)) (T, error) {
	ctx, span := telemetry.StartUpstreamSpan(ctx, serverName, method)
	defer span.End()

	attrs := metric.WithAttributes(
		attribute.String("mcp.server.name", serverName),
		attribute.String("mcp.method", method),
	)
	start := time.Now()
	telemetry.UpstreamCallCounter.Add(ctx, 1, attrs)

	result, err := call(ctx)

	telemetry.UpstreamCallDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return result, err
}

// Route recovers the (upstreamName, originalID) pair from a qualified
// identifier and validates that the upstream is both known to conns
// and a member of allowed (the session's filter set), per spec.md
// §4.7's invocation-routing paragraph.
func Route(qualified string, conns map[string]*upstream.OutboundConnection, allowed map[string]bool) (name, original string, conn *upstream.OutboundConnection, err error) {
	name, original, ok := Split(qualified)
	if !ok {
		return "", "", nil, errs.New(errs.InvalidRequest, "aggregator.Route",
			fmt.Errorf("identifier %q has no %q separator", qualified, SEP))
	}
	if !allowed[name] {
		return "", "", nil, errs.New(errs.InvalidRequest, "aggregator.Route",
			fmt.Errorf("upstream %q is not in the session's filter set", name))
	}
	conn, ok = conns[name]
	if !ok {
		return "", "", nil, errs.New(errs.InvalidRequest, "aggregator.Route",
			fmt.Errorf("unknown upstream %q", name))
	}
	return name, original, conn, nil
}

// CallTool routes and forwards a tools/call invocation. Result resource
// uri fields, if any, are returned unchanged — only list-surfacing
// rewrites them (spec.md §4.7).
func CallTool(ctx context.Context, qualified string, args map[string]any, conns map[string]*upstream.OutboundConnection, allowed map[string]bool) (*mcp.CallToolResult, error) {
	_, original, conn, err := Route(qualified, conns, allowed)
	if err != nil {
		return nil, err
	}
	cl := conn.Client()
	if cl == nil || conn.Status().Status != upstream.StatusConnected {
		return nil, errs.New(errs.UpstreamUnavailable, "aggregator.CallTool", fmt.Errorf("upstream not connected"))
	}
	callCtx, cancel := context.WithTimeout(ctx, FanoutTimeout)
	defer cancel()
	name, _, _ := Split(qualified)
	return instrumented(callCtx, name, "tools/call", func(ctx context.Context) (*mcp.CallToolResult, error) {
		return cl.CallTool(ctx, original, args)
	})
}

// ReadResource routes and forwards a resources/read invocation.
func ReadResource(ctx context.Context, qualifiedURI string, conns map[string]*upstream.OutboundConnection, allowed map[string]bool) (*mcp.ReadResourceResult, error) {
	_, original, conn, err := Route(qualifiedURI, conns, allowed)
	if err != nil {
		return nil, err
	}
	cl := conn.Client()
	if cl == nil || conn.Status().Status != upstream.StatusConnected {
		return nil, errs.New(errs.UpstreamUnavailable, "aggregator.ReadResource", fmt.Errorf("upstream not connected"))
	}
	callCtx, cancel := context.WithTimeout(ctx, FanoutTimeout)
	defer cancel()
	name, _, _ := Split(qualifiedURI)
	return instrumented(callCtx, name, "resources/read", func(ctx context.Context) (*mcp.ReadResourceResult, error) {
		return cl.ReadResource(ctx, original)
	})
}

// GetPrompt routes and forwards a prompts/get invocation.
func GetPrompt(ctx context.Context, qualified string, args map[string]string, conns map[string]*upstream.OutboundConnection, allowed map[string]bool) (*mcp.GetPromptResult, error) {
	_, original, conn, err := Route(qualified, conns, allowed)
	if err != nil {
		return nil, err
	}
	cl := conn.Client()
	if cl == nil || conn.Status().Status != upstream.StatusConnected {
		return nil, errs.New(errs.UpstreamUnavailable, "aggregator.GetPrompt", fmt.Errorf("upstream not connected"))
	}
	callCtx, cancel := context.WithTimeout(ctx, FanoutTimeout)
	defer cancel()
	name, _, _ := Split(qualified)
	return instrumented(callCtx, name, "prompts/get", func(ctx context.Context) (*mcp.GetPromptResult, error) {
		return cl.GetPrompt(ctx, original, args)
	})
}

// Complete routes and forwards a completions/complete invocation. The
// qualified ref is carried inside params.Ref; a copy of params with
// Ref.Name (or Ref.URI when Name is empty) rewritten to the original id
// is forwarded, leaving the caller's params untouched.
func Complete(ctx context.Context, qualified string, params *mcp.CompleteParams, conns map[string]*upstream.OutboundConnection, allowed map[string]bool) (*mcp.CompleteResult, error) {
	_, original, conn, err := Route(qualified, conns, allowed)
	if err != nil {
		return nil, err
	}
	if params != nil && params.Ref != nil {
		fwd, ref := *params, *params.Ref
		if ref.Name != "" {
			ref.Name = original
		} else {
			ref.URI = original
		}
		fwd.Ref = &ref
		params = &fwd
	}
	cl := conn.Client()
	if cl == nil || conn.Status().Status != upstream.StatusConnected {
		return nil, errs.New(errs.UpstreamUnavailable, "aggregator.Complete", fmt.Errorf("upstream not connected"))
	}
	callCtx, cancel := context.WithTimeout(ctx, FanoutTimeout)
	defer cancel()
	name, _, _ := Split(qualified)
	return instrumented(callCtx, name, "completion/complete", func(ctx context.Context) (*mcp.CompleteResult, error) {
		return cl.Complete(ctx, params)
	})
}
