package upstream

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1mcp-app/agent/internal/config"
	"github.com/1mcp-app/agent/internal/errs"
)

// ClientName is the Implementation name the aggregator presents to
// every upstream during handshake.
const ClientName = "1mcp-agent"

// ClientVersion is the Implementation version presented during
// handshake. Bumped alongside module releases.
const ClientVersion = "0.1.0"

// ListChangedHandler is invoked when an upstream sends a
// notifications/{tools,resources,prompts}/list_changed notification,
// per the forwarding contract of spec.md §4.4.
type ListChangedHandler func(kind string)

// Client is a single MCP client bound to one upstream transport. It
// exposes the typed RPC surface the Capability Aggregator drives and
// forwards list-change notifications to the Client Manager.
type Client struct {
	name    string
	client  *mcp.Client
	session *mcp.ClientSession
}

// Dial performs the three-step handshake spec.md §4.4 specifies:
// initialize, store server capabilities, send notifications/initialized
// (both handled internally by mcp.Client.Connect).
func Dial(ctx context.Context, p config.ServerParams, transport mcp.Transport, onListChanged ListChangedHandler) (*Client, error) {
	opts := &mcp.ClientOptions{
		ToolListChangedHandler: func(context.Context, *mcp.ToolListChangedRequest) {
			if onListChanged != nil {
				onListChanged("tools")
			}
		},
		ResourceListChangedHandler: func(context.Context, *mcp.ResourceListChangedRequest) {
			if onListChanged != nil {
				onListChanged("resources")
			}
		},
		PromptListChangedHandler: func(context.Context, *mcp.PromptListChangedRequest) {
			if onListChanged != nil {
				onListChanged("prompts")
			}
		},
	}

	mc := mcp.NewClient(&mcp.Implementation{Name: ClientName, Version: ClientVersion}, opts)

	session, err := mc.Connect(ctx, transport, nil)
	if err != nil {
		return nil, errs.New(errs.UpstreamUnavailable, "upstream.Dial", fmt.Errorf("%s: %w", p.Name, err))
	}

	return &Client{name: p.Name, client: mc, session: session}, nil
}

// Name returns the upstream name this client is bound to.
func (c *Client) Name() string { return c.name }

// Close ends the session and releases the transport.
func (c *Client) Close() error {
	if c.session == nil {
		return nil
	}
	return c.session.Close()
}

func (c *Client) ListTools(ctx context.Context, cursor string) (*mcp.ListToolsResult, error) {
	return c.session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
}

func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	return c.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
}

func (c *Client) ListResources(ctx context.Context, cursor string) (*mcp.ListResourcesResult, error) {
	return c.session.ListResources(ctx, &mcp.ListResourcesParams{Cursor: cursor})
}

func (c *Client) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return c.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
}

func (c *Client) ListResourceTemplates(ctx context.Context, cursor string) (*mcp.ListResourceTemplatesResult, error) {
	return c.session.ListResourceTemplates(ctx, &mcp.ListResourceTemplatesParams{Cursor: cursor})
}

func (c *Client) ListPrompts(ctx context.Context, cursor string) (*mcp.ListPromptsResult, error) {
	return c.session.ListPrompts(ctx, &mcp.ListPromptsParams{Cursor: cursor})
}

func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	return c.session.GetPrompt(ctx, &mcp.GetPromptParams{Name: name, Arguments: args})
}

func (c *Client) Complete(ctx context.Context, params *mcp.CompleteParams) (*mcp.CompleteResult, error) {
	return c.session.Complete(ctx, params)
}

func (c *Client) SetLevel(ctx context.Context, level mcp.LoggingLevel) error {
	return c.session.SetLevel(ctx, &mcp.SetLoggingLevelParams{Level: level})
}

func (c *Client) Ping(ctx context.Context) error {
	return c.session.Ping(ctx, nil)
}
