// Package upstream implements the Transport Factory, Outbound Client,
// and Client Manager (spec.md §4.3–4.5): building and supervising the
// connections to operator-configured upstream MCP servers.
package upstream

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/shlex"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1mcp-app/agent/internal/config"
	"github.com/1mcp-app/agent/internal/errs"
)

// RequestTimeout is the per-request deadline network transports use
// when no caller deadline is already set (spec.md §4.3).
const RequestTimeout = 30 * time.Second

// HeartbeatInterval is the liveness-probe period declared for network
// transports. Nothing in this package reads it: no heartbeat is sent,
// and a dead network connection is not detected by probing.
const HeartbeatInterval = 30 * time.Second

// BuildTransport constructs the concrete mcp.Transport for one
// upstream's params, dispatching on its TransportKind.
func BuildTransport(p config.ServerParams, authHeader func() string) (mcp.Transport, error) {
	switch p.Kind {
	case config.TransportStdio:
		return buildStdioTransport(p)
	case config.TransportSSE:
		return buildSSETransport(p, authHeader)
	case config.TransportHTTP:
		return buildHTTPTransport(p, authHeader)
	default:
		return nil, errs.New(errs.InvalidConfig, "upstream.BuildTransport",
			fmt.Errorf("server %q: unknown transport kind %q", p.Name, p.Kind))
	}
}

func buildStdioTransport(p config.ServerParams) (mcp.Transport, error) {
	if p.Command == "" {
		return nil, errs.New(errs.InvalidConfig, "upstream.buildStdioTransport",
			fmt.Errorf("server %q: stdio transport requires a command", p.Name))
	}

	args := p.Args
	if len(args) == 0 {
		// Some operators write the whole invocation ("mcp-fs --root /data")
		// into command; split it the way a shell would.
		parts, err := shlex.Split(p.Command)
		if err != nil {
			return nil, errs.New(errs.InvalidConfig, "upstream.buildStdioTransport", err)
		}
		if len(parts) > 1 {
			return &mcp.CommandTransport{
				Command: newCommand(parts[0], parts[1:], p),
			}, nil
		}
	}
	return &mcp.CommandTransport{Command: newCommand(p.Command, args, p)}, nil
}

func buildSSETransport(p config.ServerParams, authHeader func() string) (mcp.Transport, error) {
	if p.URL == "" {
		return nil, errs.New(errs.InvalidConfig, "upstream.buildSSETransport",
			fmt.Errorf("server %q: sse transport requires a url", p.Name))
	}
	client := &http.Client{Timeout: 0} // SSE is long-lived; per-request deadlines via context.
	return &mcp.SSEClientTransport{
		Endpoint:   p.URL,
		HTTPClient: withAuthRoundTripper(client, p.Headers, authHeader),
	}, nil
}

func buildHTTPTransport(p config.ServerParams, authHeader func() string) (mcp.Transport, error) {
	if p.URL == "" {
		return nil, errs.New(errs.InvalidConfig, "upstream.buildHTTPTransport",
			fmt.Errorf("server %q: http transport requires a url", p.Name))
	}
	client := &http.Client{Timeout: RequestTimeout}
	return &mcp.StreamableClientTransport{
		Endpoint:   p.URL,
		HTTPClient: withAuthRoundTripper(client, p.Headers, authHeader),
	}, nil
}

// authRoundTripper injects static headers plus a dynamic Authorization
// value (the OAuth refresh hook spec.md §4.10 names) on every outbound
// request.
type authRoundTripper struct {
	base       http.RoundTripper
	headers    map[string]string
	authHeader func() string
}

func withAuthRoundTripper(c *http.Client, headers map[string]string, authHeader func() string) *http.Client {
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.Transport = &authRoundTripper{base: base, headers: headers, authHeader: authHeader}
	return c
}

func (rt *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range rt.headers {
		req.Header.Set(k, v)
	}
	if rt.authHeader != nil {
		if tok := rt.authHeader(); tok != "" {
			req.Header.Set("Authorization", tok)
		}
	}
	return rt.base.RoundTrip(req)
}
